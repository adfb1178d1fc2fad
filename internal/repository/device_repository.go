package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/edutech-rw/asset-api/internal/models"
)

// DeviceRepository manages persistence for tracked devices.
type DeviceRepository struct {
	db *sqlx.DB
}

// NewDeviceRepository constructs a DeviceRepository.
func NewDeviceRepository(db *sqlx.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const deviceColumns = `id, serial_number, name_tag, category, model, status, condition, school_id,
        purchase_date, purchase_cost, warranty_expiry, last_seen_at, last_maintenance_at, created_at, updated_at`

// List returns devices matching the provided filters.
func (r *DeviceRepository) List(ctx context.Context, filter models.DeviceFilter) ([]models.Device, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Condition != "" {
		args = append(args, filter.Condition)
		conditions = append(conditions, fmt.Sprintf("condition = $%d", len(args)))
	}
	if filter.SchoolID != "" {
		args = append(args, filter.SchoolID)
		conditions = append(conditions, fmt.Sprintf("school_id = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(serial_number) LIKE $%d OR LOWER(name_tag) LIKE $%d OR LOWER(model) LIKE $%d)", len(args), len(args), len(args)))
	}

	where := strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"serial_number": "serial_number",
		"name_tag":      "name_tag",
		"created_at":    "created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}

	query := fmt.Sprintf("SELECT %s FROM devices WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d",
		deviceColumns, where, column, order, size, (page-1)*size)

	var devices []models.Device
	if err := r.db.SelectContext(ctx, &devices, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list devices: %w", err)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM devices WHERE %s", where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count devices: %w", err)
	}
	return devices, total, nil
}

// FindByID fetches a device by ID.
func (r *DeviceRepository) FindByID(ctx context.Context, id string) (*models.Device, error) {
	var device models.Device
	query := fmt.Sprintf("SELECT %s FROM devices WHERE id = $1", deviceColumns)
	if err := r.db.GetContext(ctx, &device, query, id); err != nil {
		return nil, err
	}
	return &device, nil
}

// ExistingIDs returns which of the provided device ids are present.
func (r *DeviceRepository) ExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var found []string
	if err := r.db.SelectContext(ctx, &found, `SELECT id FROM devices WHERE id = ANY($1)`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("check device ids: %w", err)
	}
	return found, nil
}

// ExistsBySerial checks serial-number uniqueness, optionally excluding an ID.
func (r *DeviceRepository) ExistsBySerial(ctx context.Context, serial string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM devices WHERE serial_number = $1"
	args := []interface{}{serial}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check serial: %w", err)
	}
	return true, nil
}

// NextNameTagSequence atomically claims the next sequence number for a tag
// prefix through a per-prefix counter row, so concurrent creations for the
// same (school, category) cannot observe the same number.
func (r *DeviceRepository) NextNameTagSequence(ctx context.Context, prefix string) (int64, error) {
	const query = `INSERT INTO name_tag_sequences (prefix, last_seq) VALUES ($1, 1)
        ON CONFLICT (prefix) DO UPDATE SET last_seq = name_tag_sequences.last_seq + 1
        RETURNING last_seq`
	var seq int64
	if err := r.db.GetContext(ctx, &seq, query, prefix); err != nil {
		return 0, fmt.Errorf("claim name tag sequence: %w", err)
	}
	return seq, nil
}

// Create inserts a new device record.
func (r *DeviceRepository) Create(ctx context.Context, device *models.Device) error {
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	device.CreatedAt = now
	device.UpdatedAt = now
	const query = `INSERT INTO devices
        (id, serial_number, name_tag, category, model, status, condition, school_id,
         purchase_date, purchase_cost, warranty_expiry, last_seen_at, last_maintenance_at, created_at, updated_at)
        VALUES (:id, :serial_number, :name_tag, :category, :model, :status, :condition, :school_id,
         :purchase_date, :purchase_cost, :warranty_expiry, :last_seen_at, :last_maintenance_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, device); err != nil {
		return fmt.Errorf("create device: %w", err)
	}
	return nil
}

// Update modifies an existing device.
func (r *DeviceRepository) Update(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now().UTC()
	const query = `UPDATE devices SET serial_number = :serial_number, name_tag = :name_tag,
        category = :category, model = :model, status = :status, condition = :condition,
        school_id = :school_id, purchase_date = :purchase_date, purchase_cost = :purchase_cost,
        warranty_expiry = :warranty_expiry, last_seen_at = :last_seen_at,
        last_maintenance_at = :last_maintenance_at, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, device); err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	return nil
}

// Delete removes a device.
func (r *DeviceRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete device: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete device rows: %w", err)
	}
	return affected > 0, nil
}

// MaintenanceDue finds active devices whose last maintenance predates the
// cutoff. Devices never maintained fall back to their creation date.
func (r *DeviceRepository) MaintenanceDue(ctx context.Context, cutoff time.Time) ([]models.Device, error) {
	query := fmt.Sprintf(`SELECT %s FROM devices
        WHERE status NOT IN ('RETIRED')
        AND COALESCE(last_maintenance_at, created_at) < $1
        ORDER BY COALESCE(last_maintenance_at, created_at)`, deviceColumns)
	var devices []models.Device
	if err := r.db.SelectContext(ctx, &devices, query, cutoff); err != nil {
		return nil, fmt.Errorf("maintenance due devices: %w", err)
	}
	return devices, nil
}

// WarrantyExpiring finds devices whose warranty lapses inside the window.
func (r *DeviceRepository) WarrantyExpiring(ctx context.Context, from, until time.Time) ([]models.Device, error) {
	query := fmt.Sprintf(`SELECT %s FROM devices
        WHERE warranty_expiry IS NOT NULL AND warranty_expiry >= $1 AND warranty_expiry <= $2
        ORDER BY warranty_expiry`, deviceColumns)
	var devices []models.Device
	if err := r.db.SelectContext(ctx, &devices, query, from, until); err != nil {
		return nil, fmt.Errorf("warranty expiring devices: %w", err)
	}
	return devices, nil
}

// UnseenSince finds ACTIVE devices that have not reported since the cutoff.
func (r *DeviceRepository) UnseenSince(ctx context.Context, cutoff time.Time) ([]models.Device, error) {
	query := fmt.Sprintf(`SELECT %s FROM devices
        WHERE status = 'ACTIVE' AND last_seen_at IS NOT NULL AND last_seen_at < $1
        ORDER BY last_seen_at`, deviceColumns)
	var devices []models.Device
	if err := r.db.SelectContext(ctx, &devices, query, cutoff); err != nil {
		return nil, fmt.Errorf("unseen devices: %w", err)
	}
	return devices, nil
}

// UpdateStatus sets the operational status of one device.
func (r *DeviceRepository) UpdateStatus(ctx context.Context, id string, status models.DeviceStatus) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE devices SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update device status: %w", err)
	}
	return nil
}

// UpdateCondition sets the wear grade of one device.
func (r *DeviceRepository) UpdateCondition(ctx context.Context, id string, condition models.DeviceCondition) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE devices SET condition = $2, updated_at = $3 WHERE id = $1`,
		id, condition, time.Now().UTC()); err != nil {
		return fmt.Errorf("update device condition: %w", err)
	}
	return nil
}

// ListAged returns purchase info for all non-retired devices, used by the
// aging condition update.
func (r *DeviceRepository) ListAged(ctx context.Context) ([]models.Device, error) {
	query := fmt.Sprintf(`SELECT %s FROM devices WHERE status <> 'RETIRED' AND purchase_date IS NOT NULL`, deviceColumns)
	var devices []models.Device
	if err := r.db.SelectContext(ctx, &devices, query); err != nil {
		return nil, fmt.Errorf("list aged devices: %w", err)
	}
	return devices, nil
}
