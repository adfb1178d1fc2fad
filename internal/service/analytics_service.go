package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/edutech-rw/asset-api/internal/models"
	appErrors "github.com/edutech-rw/asset-api/pkg/errors"
	"github.com/edutech-rw/asset-api/pkg/export"
)

type analyticsRepository interface {
	CategoryDistribution(ctx context.Context) ([]models.CategoryDistribution, error)
	Utilization(ctx context.Context) (*models.UtilizationSummary, error)
	PurchaseRows(ctx context.Context) ([]models.DeviceAgeRow, error)
	AgeBuckets(ctx context.Context) ([]models.AgeBucket, error)
	InventoryReport(ctx context.Context) ([]models.InventoryReportRow, error)
}

type analyticsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type applicationStatisticsSource interface {
	Statistics(ctx context.Context) (*models.ApplicationStatistics, error)
}

// Straight-line depreciation over a five-year useful life, floored at 10%
// residual value.
const (
	usefulLifeYears = 5.0
	residualShare   = 0.10
)

// AnalyticsService serves reporting rollups with read-through caching.
type AnalyticsService struct {
	repo         analyticsRepository
	applications applicationStatisticsSource
	cache        analyticsCache
	cacheTTL     time.Duration
	csv          *export.CSVExporter
	pdf          *export.PDFExporter
	logger       *zap.Logger
	now          func() time.Time
}

// NewAnalyticsService constructs the analytics service. The cache may be nil.
func NewAnalyticsService(repo analyticsRepository, applications applicationStatisticsSource, cache analyticsCache, cacheTTL time.Duration, logger *zap.Logger) *AnalyticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &AnalyticsService{
		repo:         repo,
		applications: applications,
		cache:        cache,
		cacheTTL:     cacheTTL,
		csv:          export.NewCSVExporter(),
		pdf:          export.NewPDFExporter(),
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// cacheGet loads a cached payload; a false return means compute fresh.
func (s *AnalyticsService) cacheGet(ctx context.Context, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	err := s.cache.Get(ctx, key, dest)
	if err == nil {
		return true
	}
	if !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Sugar().Warnw("analytics cache read failed", "key", key, "error", err)
	}
	return false
}

func (s *AnalyticsService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.logger.Sugar().Warnw("analytics cache write failed", "key", key, "error", err)
	}
}

// CategoryDistribution reports device counts per category.
func (s *AnalyticsService) CategoryDistribution(ctx context.Context) ([]models.CategoryDistribution, error) {
	const key = "analytics:category-distribution"
	var rows []models.CategoryDistribution
	if s.cacheGet(ctx, key, &rows) {
		return rows, nil
	}
	rows, err := s.repo.CategoryDistribution(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate categories")
	}
	s.cacheSet(ctx, key, rows)
	return rows, nil
}

// Utilization reports the status split and the active share of the fleet.
func (s *AnalyticsService) Utilization(ctx context.Context) (*models.UtilizationSummary, error) {
	const key = "analytics:utilization"
	var summary models.UtilizationSummary
	if s.cacheGet(ctx, key, &summary) {
		return &summary, nil
	}
	fresh, err := s.repo.Utilization(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate utilization")
	}
	if fresh.Total > 0 {
		fresh.Utilization = float64(fresh.Active) / float64(fresh.Total) * 100
	}
	s.cacheSet(ctx, key, fresh)
	return fresh, nil
}

// Depreciation computes the straight-line current value of the fleet.
func (s *AnalyticsService) Depreciation(ctx context.Context) (*models.DepreciationSummary, error) {
	const key = "analytics:depreciation"
	var summary models.DepreciationSummary
	if s.cacheGet(ctx, key, &summary) {
		return &summary, nil
	}
	rows, err := s.repo.PurchaseRows(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load purchase data")
	}
	fresh := &models.DepreciationSummary{}
	now := s.now()
	for _, row := range rows {
		if row.PurchaseCost == nil || row.PurchaseDate == nil {
			continue
		}
		cost := *row.PurchaseCost
		ageYears := now.Sub(*row.PurchaseDate).Hours() / (24 * 365.25)
		if ageYears < 0 {
			ageYears = 0
		}
		remaining := 1 - ageYears/usefulLifeYears
		if remaining < residualShare {
			remaining = residualShare
		}
		fresh.TotalPurchaseCost += cost
		fresh.CurrentValue += cost * remaining
		fresh.DeviceCount++
	}
	fresh.DepreciatedValue = fresh.TotalPurchaseCost - fresh.CurrentValue
	s.cacheSet(ctx, key, fresh)
	return fresh, nil
}

// AgeBuckets groups devices by years since purchase.
func (s *AnalyticsService) AgeBuckets(ctx context.Context) ([]models.AgeBucket, error) {
	const key = "analytics:age-buckets"
	var rows []models.AgeBucket
	if s.cacheGet(ctx, key, &rows) {
		return rows, nil
	}
	rows, err := s.repo.AgeBuckets(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate device ages")
	}
	s.cacheSet(ctx, key, rows)
	return rows, nil
}

// ApplicationStatistics proxies the workflow rollup through the cache.
func (s *AnalyticsService) ApplicationStatistics(ctx context.Context) (*models.ApplicationStatistics, error) {
	const key = "analytics:application-statistics"
	var stats models.ApplicationStatistics
	if s.cacheGet(ctx, key, &stats) {
		return &stats, nil
	}
	fresh, err := s.applications.Statistics(ctx)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, key, fresh)
	return fresh, nil
}

// ExportFormat selects the rendering of the inventory report.
type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

// InventoryExport renders the full device inventory in the requested format.
// Returns the payload and its content type.
func (s *AnalyticsService) InventoryExport(ctx context.Context, format ExportFormat) ([]byte, string, error) {
	rows, err := s.repo.InventoryReport(ctx)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load inventory report")
	}

	dataset := export.Dataset{
		Headers: []string{"Name Tag", "Serial Number", "Category", "Status", "Condition", "School", "District"},
	}
	for _, row := range rows {
		school, district := "", ""
		if row.SchoolName != nil {
			school = *row.SchoolName
		}
		if row.District != nil {
			district = *row.District
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Name Tag":      row.NameTag,
			"Serial Number": row.SerialNumber,
			"Category":      row.Category,
			"Status":        row.Status,
			"Condition":     row.Condition,
			"School":        school,
			"District":      district,
		})
	}

	switch format {
	case FormatPDF:
		payload, err := s.pdf.Render(dataset, "Device Inventory Report")
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return payload, "application/pdf", nil
	case FormatCSV, "":
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return payload, "text/csv", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}
