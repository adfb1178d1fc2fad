package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edutech-rw/asset-api/internal/models"
	appErrors "github.com/edutech-rw/asset-api/pkg/errors"
)

type mockAnalyticsRepo struct {
	distribution []models.CategoryDistribution
	utilization  models.UtilizationSummary
	purchases    []models.DeviceAgeRow
	buckets      []models.AgeBucket
	inventory    []models.InventoryReportRow
	calls        map[string]int
}

func newMockAnalyticsRepo() *mockAnalyticsRepo {
	return &mockAnalyticsRepo{calls: make(map[string]int)}
}

func (m *mockAnalyticsRepo) CategoryDistribution(ctx context.Context) ([]models.CategoryDistribution, error) {
	m.calls["distribution"]++
	return m.distribution, nil
}

func (m *mockAnalyticsRepo) Utilization(ctx context.Context) (*models.UtilizationSummary, error) {
	m.calls["utilization"]++
	copied := m.utilization
	return &copied, nil
}

func (m *mockAnalyticsRepo) PurchaseRows(ctx context.Context) ([]models.DeviceAgeRow, error) {
	m.calls["purchases"]++
	return m.purchases, nil
}

func (m *mockAnalyticsRepo) AgeBuckets(ctx context.Context) ([]models.AgeBucket, error) {
	m.calls["buckets"]++
	return m.buckets, nil
}

func (m *mockAnalyticsRepo) InventoryReport(ctx context.Context) ([]models.InventoryReportRow, error) {
	m.calls["inventory"]++
	return m.inventory, nil
}

type mapCache struct {
	entries map[string][]byte
}

func (c *mapCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *mapCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c.entries == nil {
		c.entries = make(map[string][]byte)
	}
	c.entries[key] = raw
	return nil
}

func TestUtilizationComputesShareAndCaches(t *testing.T) {
	repo := newMockAnalyticsRepo()
	repo.utilization = models.UtilizationSummary{Total: 10, Active: 7, Maintenance: 2, Offline: 1}
	cache := &mapCache{}
	svc := NewAnalyticsService(repo, nil, cache, time.Minute, zap.NewNop())

	first, err := svc.Utilization(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 70.0, first.Utilization, 0.01)

	second, err := svc.Utilization(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 70.0, second.Utilization, 0.01)
	assert.Equal(t, 1, repo.calls["utilization"], "second read must come from cache")
}

func TestDepreciationStraightLine(t *testing.T) {
	repo := newMockAnalyticsRepo()
	now := time.Now().UTC()
	newCost, oldCost := 1000.0, 1000.0
	recent := now.AddDate(0, 0, -1)
	ancient := now.AddDate(-10, 0, 0)
	repo.purchases = []models.DeviceAgeRow{
		{ID: "a", PurchaseCost: &newCost, PurchaseDate: &recent},
		{ID: "b", PurchaseCost: &oldCost, PurchaseDate: &ancient},
		{ID: "c"},
	}
	svc := NewAnalyticsService(repo, nil, nil, time.Minute, zap.NewNop())

	summary, err := svc.Depreciation(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.DeviceCount, "rows without cost or date are skipped")
	assert.InDelta(t, 2000.0, summary.TotalPurchaseCost, 0.01)
	// Near-new device retains ~full value; ancient one is floored at 10%.
	assert.InDelta(t, 1100.0, summary.CurrentValue, 5.0)
	assert.InDelta(t, summary.TotalPurchaseCost-summary.CurrentValue, summary.DepreciatedValue, 0.01)
}

func TestInventoryExportCSV(t *testing.T) {
	repo := newMockAnalyticsRepo()
	school := "GS Kacyiru"
	district := "Gasabo"
	repo.inventory = []models.InventoryReportRow{
		{NameTag: "RTB/LPT/GSB/001", SerialNumber: "SN-1", Category: "LAPTOP", Status: "ACTIVE", Condition: "GOOD", SchoolName: &school, District: &district},
		{NameTag: "RTB/PRJ/DEFAULT/001", SerialNumber: "SN-2", Category: "PROJECTOR", Status: "OFFLINE", Condition: "FAIR"},
	}
	svc := NewAnalyticsService(repo, nil, nil, time.Minute, zap.NewNop())

	payload, contentType, err := svc.InventoryExport(context.Background(), FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	lines := strings.Split(strings.TrimSpace(string(payload)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "RTB/LPT/GSB/001")
	assert.Contains(t, lines[1], "GS Kacyiru")
}

func TestInventoryExportUnsupportedFormat(t *testing.T) {
	svc := NewAnalyticsService(newMockAnalyticsRepo(), nil, nil, time.Minute, zap.NewNop())
	_, _, err := svc.InventoryExport(context.Background(), ExportFormat("xlsx"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
