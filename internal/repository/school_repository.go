package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edutech-rw/asset-api/internal/models"
)

// SchoolRepository manages persistence for schools.
type SchoolRepository struct {
	db *sqlx.DB
}

// NewSchoolRepository constructs a SchoolRepository.
func NewSchoolRepository(db *sqlx.DB) *SchoolRepository {
	return &SchoolRepository{db: db}
}

const schoolColumns = `id, name, code, district, sector, contact_email, contact_phone, created_at, updated_at`

// List returns schools matching the provided filters.
func (r *SchoolRepository) List(ctx context.Context, filter models.SchoolFilter) ([]models.School, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.District != "" {
		args = append(args, filter.District)
		conditions = append(conditions, fmt.Sprintf("district = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(code) LIKE $%d)", len(args), len(args)))
	}

	where := strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"name":       "name",
		"district":   "district",
		"created_at": "created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "name"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}

	query := fmt.Sprintf("SELECT %s FROM schools WHERE %s ORDER BY %s %s LIMIT %d OFFSET %d",
		schoolColumns, where, column, order, size, (page-1)*size)

	var schools []models.School
	if err := r.db.SelectContext(ctx, &schools, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list schools: %w", err)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM schools WHERE %s", where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count schools: %w", err)
	}
	return schools, total, nil
}

// FindByID fetches a school by ID.
func (r *SchoolRepository) FindByID(ctx context.Context, id string) (*models.School, error) {
	var school models.School
	query := fmt.Sprintf("SELECT %s FROM schools WHERE id = $1", schoolColumns)
	if err := r.db.GetContext(ctx, &school, query, id); err != nil {
		return nil, err
	}
	return &school, nil
}

// ExistsByCode checks code uniqueness, optionally excluding an ID.
func (r *SchoolRepository) ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error) {
	query := "SELECT 1 FROM schools WHERE code = $1"
	args := []interface{}{code}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, query+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check school code: %w", err)
	}
	return true, nil
}

// Create inserts a new school.
func (r *SchoolRepository) Create(ctx context.Context, school *models.School) error {
	if school.ID == "" {
		school.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	school.CreatedAt = now
	school.UpdatedAt = now
	const query = `INSERT INTO schools (id, name, code, district, sector, contact_email, contact_phone, created_at, updated_at)
        VALUES (:id, :name, :code, :district, :sector, :contact_email, :contact_phone, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, school); err != nil {
		return fmt.Errorf("create school: %w", err)
	}
	return nil
}

// Update modifies an existing school.
func (r *SchoolRepository) Update(ctx context.Context, school *models.School) error {
	school.UpdatedAt = time.Now().UTC()
	const query = `UPDATE schools SET name = :name, code = :code, district = :district, sector = :sector,
        contact_email = :contact_email, contact_phone = :contact_phone, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, school); err != nil {
		return fmt.Errorf("update school: %w", err)
	}
	return nil
}

// Delete removes a school.
func (r *SchoolRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM schools WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete school: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete school rows: %w", err)
	}
	return affected > 0, nil
}
