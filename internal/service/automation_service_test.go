package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edutech-rw/asset-api/internal/models"
	"github.com/edutech-rw/asset-api/pkg/config"
)

type mockAutomationDevices struct {
	maintenanceDue []models.Device
	expiring       []models.Device
	unseen         []models.Device
	aged           []models.Device

	statusUpdates    map[string]models.DeviceStatus
	conditionUpdates map[string]models.DeviceCondition
}

func newMockAutomationDevices() *mockAutomationDevices {
	return &mockAutomationDevices{
		statusUpdates:    make(map[string]models.DeviceStatus),
		conditionUpdates: make(map[string]models.DeviceCondition),
	}
}

func (m *mockAutomationDevices) MaintenanceDue(ctx context.Context, cutoff time.Time) ([]models.Device, error) {
	return m.maintenanceDue, nil
}

func (m *mockAutomationDevices) WarrantyExpiring(ctx context.Context, from, until time.Time) ([]models.Device, error) {
	return m.expiring, nil
}

func (m *mockAutomationDevices) UnseenSince(ctx context.Context, cutoff time.Time) ([]models.Device, error) {
	return m.unseen, nil
}

func (m *mockAutomationDevices) ListAged(ctx context.Context) ([]models.Device, error) {
	return m.aged, nil
}

func (m *mockAutomationDevices) UpdateStatus(ctx context.Context, id string, status models.DeviceStatus) error {
	m.statusUpdates[id] = status
	return nil
}

func (m *mockAutomationDevices) UpdateCondition(ctx context.Context, id string, condition models.DeviceCondition) error {
	m.conditionUpdates[id] = condition
	return nil
}

func testAutomationConfig() config.AutomationConfig {
	return config.AutomationConfig{
		Enabled:            true,
		MaintenanceDueDays: 180,
		WarrantyAlertDays:  30,
		OfflineAfterDays:   7,
	}
}

func TestOfflineDetectionMarksDevices(t *testing.T) {
	devices := newMockAutomationDevices()
	schoolID := "school-1"
	devices.unseen = []models.Device{
		{ID: "dev-1", NameTag: "RTB/LPT/GSB/001", Status: models.DeviceStatusActive, SchoolID: &schoolID},
		{ID: "dev-2", NameTag: "RTB/LPT/GSB/002", Status: models.DeviceStatusActive},
	}
	svc := NewAutomationService(devices, seedSchools("school-1"), nil, testAutomationConfig(), zap.NewNop())

	result, err := svc.RunRoutine(context.Background(), models.RoutineOfflineDetection)
	require.NoError(t, err)
	assert.Empty(t, result.Error)
	assert.Equal(t, 2, result.MatchedDevices)
	assert.Equal(t, 2, result.UpdatedDevices)
	assert.Equal(t, models.DeviceStatusOffline, devices.statusUpdates["dev-1"])
	assert.Equal(t, models.DeviceStatusOffline, devices.statusUpdates["dev-2"])
}

func TestAgingUpdateOnlyDowngrades(t *testing.T) {
	devices := newMockAutomationDevices()
	old := time.Now().UTC().AddDate(-4, 0, 0)
	recent := time.Now().UTC().AddDate(0, -6, 0)
	devices.aged = []models.Device{
		{ID: "dev-old", Condition: models.ConditionGood, PurchaseDate: &old},
		{ID: "dev-recent", Condition: models.ConditionFair, PurchaseDate: &recent},
		{ID: "dev-broken", Condition: models.ConditionBroken, PurchaseDate: &old},
	}
	svc := NewAutomationService(devices, seedSchools(), nil, testAutomationConfig(), zap.NewNop())

	result, err := svc.RunRoutine(context.Background(), models.RoutineAgingUpdate)
	require.NoError(t, err)
	assert.Equal(t, 1, result.UpdatedDevices)
	assert.Equal(t, models.ConditionFair, devices.conditionUpdates["dev-old"])
	_, touched := devices.conditionUpdates["dev-recent"]
	assert.False(t, touched, "aging never upgrades condition")
	_, touched = devices.conditionUpdates["dev-broken"]
	assert.False(t, touched, "broken devices are left alone")
}

func TestRunDueRespectsCadence(t *testing.T) {
	devices := newMockAutomationDevices()
	svc := NewAutomationService(devices, seedSchools(), nil, testAutomationConfig(), zap.NewNop())

	first := svc.RunDue(context.Background())
	assert.Len(t, first, 4, "all rules are due on the first pass")

	second := svc.RunDue(context.Background())
	assert.Empty(t, second, "nothing is due immediately after a run")
}

func TestSetEnabledUnknownRule(t *testing.T) {
	svc := NewAutomationService(newMockAutomationDevices(), seedSchools(), nil, testAutomationConfig(), zap.NewNop())
	require.Error(t, svc.SetEnabled("nope", false))

	rules := svc.Rules()
	require.NotEmpty(t, rules)
	require.NoError(t, svc.SetEnabled(rules[0].ID, false))
	assert.False(t, svc.Rules()[0].Enabled)
}
