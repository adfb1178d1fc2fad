package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/edutech-rw/asset-api/internal/models"
)

// AnalyticsRepository exposes read-optimised queries for reporting rollups.
// All queries are point-in-time reads; nothing here mutates state.
type AnalyticsRepository struct {
	db *sqlx.DB
}

// NewAnalyticsRepository instantiates the repository.
func NewAnalyticsRepository(db *sqlx.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// CategoryDistribution counts devices per category including fleet share.
func (r *AnalyticsRepository) CategoryDistribution(ctx context.Context) ([]models.CategoryDistribution, error) {
	const query = `SELECT category, COUNT(*) AS count,
        CASE WHEN SUM(COUNT(*)) OVER () = 0 THEN 0
             ELSE (COUNT(*)::DECIMAL / SUM(COUNT(*)) OVER ()) * 100 END AS percentage
        FROM devices GROUP BY category ORDER BY count DESC`
	var rows []models.CategoryDistribution
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("category distribution: %w", err)
	}
	return rows, nil
}

// Utilization aggregates device counts per operational status.
func (r *AnalyticsRepository) Utilization(ctx context.Context) (*models.UtilizationSummary, error) {
	const query = `SELECT COUNT(*) AS total,
        COUNT(*) FILTER (WHERE status = 'ACTIVE') AS active,
        COUNT(*) FILTER (WHERE status = 'MAINTENANCE') AS maintenance,
        COUNT(*) FILTER (WHERE status = 'OFFLINE') AS offline,
        COUNT(*) FILTER (WHERE status = 'RETIRED') AS retired
        FROM devices`
	var summary models.UtilizationSummary
	if err := r.db.GetContext(ctx, &summary, query); err != nil {
		return nil, fmt.Errorf("utilization summary: %w", err)
	}
	return &summary, nil
}

// PurchaseRows returns purchase cost and date for depreciation arithmetic.
func (r *AnalyticsRepository) PurchaseRows(ctx context.Context) ([]models.DeviceAgeRow, error) {
	const query = `SELECT id, purchase_cost, purchase_date FROM devices WHERE status <> 'RETIRED'`
	var rows []models.DeviceAgeRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("purchase rows: %w", err)
	}
	return rows, nil
}

// AgeBuckets groups devices by whole years since purchase.
func (r *AnalyticsRepository) AgeBuckets(ctx context.Context) ([]models.AgeBucket, error) {
	const query = `SELECT bucket, COUNT(*) AS count FROM (
        SELECT CASE
            WHEN purchase_date IS NULL THEN 'unknown'
            WHEN purchase_date > now() - INTERVAL '1 year' THEN '<1y'
            WHEN purchase_date > now() - INTERVAL '3 years' THEN '1-3y'
            WHEN purchase_date > now() - INTERVAL '5 years' THEN '3-5y'
            ELSE '5y+'
        END AS bucket FROM devices) b
        GROUP BY bucket ORDER BY bucket`
	var rows []models.AgeBucket
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("age buckets: %w", err)
	}
	return rows, nil
}

// InventoryReport joins devices with their schools for the export surface.
func (r *AnalyticsRepository) InventoryReport(ctx context.Context) ([]models.InventoryReportRow, error) {
	const query = `SELECT d.name_tag, d.serial_number, d.category, d.status, d.condition,
        s.name AS school_name, s.district
        FROM devices d LEFT JOIN schools s ON s.id = d.school_id
        ORDER BY d.name_tag`
	var rows []models.InventoryReportRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("inventory report: %w", err)
	}
	return rows, nil
}
