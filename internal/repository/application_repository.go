package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edutech-rw/asset-api/internal/models"
)

// ApplicationRepository manages persistence for applications and their
// device-issue children.
type ApplicationRepository struct {
	db *sqlx.DB
}

// NewApplicationRepository constructs an ApplicationRepository.
func NewApplicationRepository(db *sqlx.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

const applicationColumns = `id, type, status, priority, title, description, school_id,
        requested_device_count, requested_device_type, justification, application_letter_path,
        assigned_to, assigned_at, estimated_completion_date, completed_at,
        admin_notes, rejection_reason, estimated_cost, actual_cost, created_at, updated_at`

// Create inserts an application and, in the same transaction, all of its
// device issues. Either everything persists or nothing does.
func (r *ApplicationRepository) Create(ctx context.Context, app *models.Application) error {
	now := time.Now().UTC()
	app.CreatedAt = now
	app.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create application: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertApp = `INSERT INTO applications
        (type, status, priority, title, description, school_id,
         requested_device_count, requested_device_type, justification, application_letter_path,
         assigned_to, assigned_at, estimated_completion_date, completed_at,
         admin_notes, rejection_reason, estimated_cost, actual_cost, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
        RETURNING id`
	if err := tx.GetContext(ctx, &app.ID, insertApp,
		app.Type, app.Status, app.Priority, app.Title, app.Description, app.SchoolID,
		app.RequestedDeviceCount, app.RequestedDeviceType, app.Justification, app.ApplicationLetterPath,
		app.AssignedTo, app.AssignedAt, app.EstimatedCompletionDate, app.CompletedAt,
		app.AdminNotes, app.RejectionReason, app.EstimatedCost, app.ActualCost, app.CreatedAt, app.UpdatedAt,
	); err != nil {
		return fmt.Errorf("insert application: %w", err)
	}

	const insertIssue = `INSERT INTO application_device_issues
        (application_id, device_id, problem_description, action_taken, resolved_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id`
	for i := range app.Issues {
		issue := &app.Issues[i]
		issue.ApplicationID = app.ID
		issue.CreatedAt = now
		issue.UpdatedAt = now
		if err := tx.GetContext(ctx, &issue.ID, insertIssue,
			issue.ApplicationID, issue.DeviceID, issue.ProblemDescription,
			issue.ActionTaken, issue.ResolvedAt, issue.CreatedAt, issue.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert device issue: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create application: %w", err)
	}
	return nil
}

// FindByID fetches an application with its device issues attached.
func (r *ApplicationRepository) FindByID(ctx context.Context, id int64) (*models.Application, error) {
	var app models.Application
	query := fmt.Sprintf("SELECT %s FROM applications WHERE id = $1", applicationColumns)
	if err := r.db.GetContext(ctx, &app, query, id); err != nil {
		return nil, err
	}

	issues, err := r.ListIssues(ctx, id)
	if err != nil {
		return nil, err
	}
	app.Issues = issues
	return &app, nil
}

// List returns applications matching the conjunctive filters, newest first.
// Pagination is applied only when a positive limit is supplied.
func (r *ApplicationRepository) List(ctx context.Context, filter models.ApplicationFilter, now time.Time) ([]models.Application, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)))
	}
	if filter.SchoolID != "" {
		args = append(args, filter.SchoolID)
		conditions = append(conditions, fmt.Sprintf("school_id = $%d", len(args)))
	}
	if filter.AssignedTo != "" {
		args = append(args, filter.AssignedTo)
		conditions = append(conditions, fmt.Sprintf("assigned_to = $%d", len(args)))
	}
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if filter.IsOverdue != nil {
		args = append(args, now)
		predicate := fmt.Sprintf("(estimated_completion_date IS NOT NULL AND estimated_completion_date < $%d AND status <> 'COMPLETED')", len(args))
		if *filter.IsOverdue {
			conditions = append(conditions, predicate)
		} else {
			conditions = append(conditions, "NOT "+predicate)
		}
	}

	where := strings.Join(conditions, " AND ")

	query := fmt.Sprintf("SELECT %s FROM applications WHERE %s ORDER BY created_at DESC", applicationColumns, where)
	if filter.Limit > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = fmt.Sprintf("%s LIMIT %d OFFSET %d", query, filter.Limit, (page-1)*filter.Limit)
	}

	var apps []models.Application
	if err := r.db.SelectContext(ctx, &apps, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM applications WHERE %s", where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count applications: %w", err)
	}
	return apps, total, nil
}

// Update persists all mutable application fields.
func (r *ApplicationRepository) Update(ctx context.Context, app *models.Application) error {
	app.UpdatedAt = time.Now().UTC()
	const query = `UPDATE applications SET
        status = :status, priority = :priority, title = :title, description = :description,
        requested_device_count = :requested_device_count, requested_device_type = :requested_device_type,
        justification = :justification, application_letter_path = :application_letter_path,
        assigned_to = :assigned_to, assigned_at = :assigned_at,
        estimated_completion_date = :estimated_completion_date, completed_at = :completed_at,
        admin_notes = :admin_notes, rejection_reason = :rejection_reason,
        estimated_cost = :estimated_cost, actual_cost = :actual_cost, updated_at = :updated_at
        WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, app); err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	return nil
}

// Delete removes an application; device issues cascade at the schema level.
// Returns whether a row was affected.
func (r *ApplicationRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM applications WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete application: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete application rows: %w", err)
	}
	return affected > 0, nil
}

// ListIssues returns the device issues of one application.
func (r *ApplicationRepository) ListIssues(ctx context.Context, applicationID int64) ([]models.ApplicationDeviceIssue, error) {
	const query = `SELECT id, application_id, device_id, problem_description, action_taken, resolved_at, created_at, updated_at
        FROM application_device_issues WHERE application_id = $1 ORDER BY id`
	var issues []models.ApplicationDeviceIssue
	if err := r.db.SelectContext(ctx, &issues, query, applicationID); err != nil {
		return nil, fmt.Errorf("list device issues: %w", err)
	}
	return issues, nil
}

// FindIssue fetches a single device issue.
func (r *ApplicationRepository) FindIssue(ctx context.Context, issueID int64) (*models.ApplicationDeviceIssue, error) {
	const query = `SELECT id, application_id, device_id, problem_description, action_taken, resolved_at, created_at, updated_at
        FROM application_device_issues WHERE id = $1`
	var issue models.ApplicationDeviceIssue
	if err := r.db.GetContext(ctx, &issue, query, issueID); err != nil {
		return nil, err
	}
	return &issue, nil
}

// UpdateIssue persists the technician-editable issue fields.
func (r *ApplicationRepository) UpdateIssue(ctx context.Context, issue *models.ApplicationDeviceIssue) error {
	issue.UpdatedAt = time.Now().UTC()
	const query = `UPDATE application_device_issues
        SET action_taken = $2, resolved_at = $3, updated_at = $4 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, issue.ID, issue.ActionTaken, issue.ResolvedAt, issue.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update device issue: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Statistics aggregates counts by status, by type and the overdue total.
func (r *ApplicationRepository) Statistics(ctx context.Context, now time.Time) (*models.ApplicationStatistics, error) {
	const query = `SELECT
        COUNT(*) AS total,
        COUNT(*) FILTER (WHERE status = 'PENDING') AS pending,
        COUNT(*) FILTER (WHERE status = 'UNDER_REVIEW') AS under_review,
        COUNT(*) FILTER (WHERE status = 'APPROVED') AS approved,
        COUNT(*) FILTER (WHERE status = 'REJECTED') AS rejected,
        COUNT(*) FILTER (WHERE status = 'IN_PROGRESS') AS in_progress,
        COUNT(*) FILTER (WHERE status = 'COMPLETED') AS completed,
        COUNT(*) FILTER (WHERE status = 'CANCELLED') AS cancelled,
        COUNT(*) FILTER (WHERE type = 'NEW_DEVICE_REQUEST') AS new_device,
        COUNT(*) FILTER (WHERE type = 'MAINTENANCE_REQUEST') AS maintenance,
        COUNT(*) FILTER (WHERE estimated_completion_date IS NOT NULL AND estimated_completion_date < $1 AND status <> 'COMPLETED') AS overdue
        FROM applications`
	var stats models.ApplicationStatistics
	if err := r.db.GetContext(ctx, &stats, query, now); err != nil {
		return nil, fmt.Errorf("application statistics: %w", err)
	}
	return &stats, nil
}
