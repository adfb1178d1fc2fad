package service

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edutech-rw/asset-api/internal/models"
	appErrors "github.com/edutech-rw/asset-api/pkg/errors"
)

type applicationRepository interface {
	Create(ctx context.Context, app *models.Application) error
	FindByID(ctx context.Context, id int64) (*models.Application, error)
	List(ctx context.Context, filter models.ApplicationFilter, now time.Time) ([]models.Application, int, error)
	Update(ctx context.Context, app *models.Application) error
	Delete(ctx context.Context, id int64) (bool, error)
	FindIssue(ctx context.Context, issueID int64) (*models.ApplicationDeviceIssue, error)
	UpdateIssue(ctx context.Context, issue *models.ApplicationDeviceIssue) error
	Statistics(ctx context.Context, now time.Time) (*models.ApplicationStatistics, error)
}

type schoolFinder interface {
	FindByID(ctx context.Context, id string) (*models.School, error)
}

type deviceChecker interface {
	ExistingIDs(ctx context.Context, ids []string) ([]string, error)
}

type applicationNotifier interface {
	ApplicationSubmitted(ctx context.Context, app *models.Application, school *models.School)
	ApplicationStatusChanged(ctx context.Context, app *models.Application, school *models.School, previous models.ApplicationStatus)
}

// CreateNewDeviceApplicationRequest holds payload for new-device requests.
type CreateNewDeviceApplicationRequest struct {
	Title                string                     `json:"title" validate:"required"`
	Description          string                     `json:"description" validate:"required"`
	SchoolID             string                     `json:"school_id" validate:"required"`
	Priority             models.ApplicationPriority `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	RequestedDeviceCount int                        `json:"requested_device_count" validate:"required,gt=0"`
	RequestedDeviceType  string                     `json:"requested_device_type" validate:"required,oneof=LAPTOP DESKTOP PROJECTOR"`
	Justification        string                     `json:"justification" validate:"required"`
}

// DeviceIssueInput is one reported device problem within a maintenance request.
type DeviceIssueInput struct {
	DeviceID           string `json:"device_id" validate:"required"`
	ProblemDescription string `json:"problem_description" validate:"required"`
}

// CreateMaintenanceApplicationRequest holds payload for maintenance requests.
type CreateMaintenanceApplicationRequest struct {
	Title        string                     `json:"title" validate:"required"`
	Description  string                     `json:"description" validate:"required"`
	SchoolID     string                     `json:"school_id" validate:"required"`
	Priority     models.ApplicationPriority `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	DeviceIssues []DeviceIssueInput         `json:"device_issues" validate:"required,min=1,dive"`
}

// UpdateApplicationRequest patches mutable fields. A status in the patch is
// validated against the workflow table like the dedicated operations.
type UpdateApplicationRequest struct {
	Title                   *string                     `json:"title" validate:"omitempty,min=1"`
	Description             *string                     `json:"description" validate:"omitempty,min=1"`
	Priority                *models.ApplicationPriority `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	Status                  *models.ApplicationStatus   `json:"status" validate:"omitempty,oneof=PENDING UNDER_REVIEW APPROVED REJECTED IN_PROGRESS COMPLETED CANCELLED"`
	AssignedTo              *string                     `json:"assigned_to" validate:"omitempty,min=1"`
	AdminNotes              *string                     `json:"admin_notes"`
	RejectionReason         *string                     `json:"rejection_reason"`
	EstimatedCompletionDate *time.Time                  `json:"estimated_completion_date"`
	EstimatedCost           *float64                    `json:"estimated_cost" validate:"omitempty,gte=0"`
	ActualCost              *float64                    `json:"actual_cost" validate:"omitempty,gte=0"`
}

// AssignApplicationRequest routes an application to a technician.
type AssignApplicationRequest struct {
	AssignedTo string `json:"assigned_to" validate:"required"`
}

// ApproveApplicationRequest holds optional approval metadata.
type ApproveApplicationRequest struct {
	EstimatedCost           *float64   `json:"estimated_cost" validate:"omitempty,gte=0"`
	EstimatedCompletionDate *time.Time `json:"estimated_completion_date"`
	AdminNotes              *string    `json:"admin_notes"`
}

// RejectApplicationRequest requires an explicit rejection reason.
type RejectApplicationRequest struct {
	RejectionReason string `json:"rejection_reason" validate:"required"`
}

// CompleteApplicationRequest holds optional completion metadata.
type CompleteApplicationRequest struct {
	ActualCost *float64 `json:"actual_cost" validate:"omitempty,gte=0"`
	AdminNotes *string  `json:"admin_notes"`
}

// UpdateDeviceIssueRequest records the technician action on one issue.
type UpdateDeviceIssueRequest struct {
	ActionTaken string `json:"action_taken" validate:"required"`
	Resolved    bool   `json:"resolved"`
}

// ApplicationService handles the application workflow use-cases.
type ApplicationService struct {
	repo      applicationRepository
	schools   schoolFinder
	devices   deviceChecker
	notifier  applicationNotifier
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewApplicationService constructs the application service. The notifier may
// be nil, in which case side effects are skipped.
func NewApplicationService(repo applicationRepository, schools schoolFinder, devices deviceChecker, notifier applicationNotifier, validate *validator.Validate, logger *zap.Logger) *ApplicationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApplicationService{
		repo:      repo,
		schools:   schools,
		devices:   devices,
		notifier:  notifier,
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *ApplicationService) loadSchool(ctx context.Context, id string) (*models.School, error) {
	school, err := s.schools.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "school not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load school")
	}
	return school, nil
}

// CreateNewDevice registers a NEW_DEVICE_REQUEST in PENDING status. The
// school must exist before anything is persisted.
func (s *ApplicationService) CreateNewDevice(ctx context.Context, req CreateNewDeviceApplicationRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}
	school, err := s.loadSchool(ctx, req.SchoolID)
	if err != nil {
		return nil, err
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	count := req.RequestedDeviceCount
	deviceType := req.RequestedDeviceType
	justification := req.Justification
	app := &models.Application{
		Type:                 models.ApplicationTypeNewDevice,
		Status:               models.ApplicationStatusPending,
		Priority:             priority,
		Title:                req.Title,
		Description:          req.Description,
		SchoolID:             req.SchoolID,
		RequestedDeviceCount: &count,
		RequestedDeviceType:  &deviceType,
		Justification:        &justification,
	}
	if err := s.repo.Create(ctx, app); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create application")
	}

	if s.notifier != nil {
		s.notifier.ApplicationSubmitted(ctx, app, school)
	}
	return app, nil
}

// CreateMaintenance registers a MAINTENANCE_REQUEST with at least one device
// issue. Every referenced device must exist; the application and all issues
// persist atomically.
func (s *ApplicationService) CreateMaintenance(ctx context.Context, req CreateMaintenanceApplicationRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}
	school, err := s.loadSchool(ctx, req.SchoolID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(req.DeviceIssues))
	seen := make(map[string]struct{}, len(req.DeviceIssues))
	for _, issue := range req.DeviceIssues {
		if _, ok := seen[issue.DeviceID]; ok {
			continue
		}
		seen[issue.DeviceID] = struct{}{}
		ids = append(ids, issue.DeviceID)
	}
	found, err := s.devices.ExistingIDs(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify devices")
	}
	if len(found) != len(ids) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "one or more devices do not exist")
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	app := &models.Application{
		Type:        models.ApplicationTypeMaintenance,
		Status:      models.ApplicationStatusPending,
		Priority:    priority,
		Title:       req.Title,
		Description: req.Description,
		SchoolID:    req.SchoolID,
	}
	for _, issue := range req.DeviceIssues {
		app.Issues = append(app.Issues, models.ApplicationDeviceIssue{
			DeviceID:           issue.DeviceID,
			ProblemDescription: issue.ProblemDescription,
		})
	}
	if err := s.repo.Create(ctx, app); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create application")
	}

	if s.notifier != nil {
		s.notifier.ApplicationSubmitted(ctx, app, school)
	}
	return app, nil
}

// List returns applications matching the filter, newest first, with the
// overdue flag computed against the current time.
func (s *ApplicationService) List(ctx context.Context, filter models.ApplicationFilter) ([]models.Application, *models.Pagination, error) {
	now := s.now()
	apps, total, err := s.repo.List(ctx, filter, now)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list applications")
	}
	for i := range apps {
		apps[i].Overdue = apps[i].IsOverdue(now)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.Limit
	if size <= 0 {
		size = total
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return apps, pagination, nil
}

// ListBySchool returns all applications raised by one school.
func (s *ApplicationService) ListBySchool(ctx context.Context, schoolID string, filter models.ApplicationFilter) ([]models.Application, *models.Pagination, error) {
	if _, err := s.loadSchool(ctx, schoolID); err != nil {
		return nil, nil, err
	}
	filter.SchoolID = schoolID
	return s.List(ctx, filter)
}

// Get returns one application with its device issues.
func (s *ApplicationService) Get(ctx context.Context, id int64) (*models.Application, error) {
	app, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "application not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load application")
	}
	app.Overdue = app.IsOverdue(s.now())
	return app, nil
}

// Update merges the patch into an application. Write-once timestamps hold:
// assigning for the first time records assigned_at, and moving into COMPLETED
// records completed_at only if the application was not already completed.
func (s *ApplicationService) Update(ctx context.Context, id int64, req UpdateApplicationRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid application payload")
	}
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := app.Status
	now := s.now()

	if req.Status != nil {
		if !models.CanTransition(previous, *req.Status) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
				"cannot move application from "+string(previous)+" to "+string(*req.Status))
		}
		app.Status = *req.Status
		if app.Status == models.ApplicationStatusCompleted && previous != models.ApplicationStatusCompleted && app.CompletedAt == nil {
			app.CompletedAt = &now
		}
	}
	if req.AssignedTo != nil {
		app.AssignedTo = req.AssignedTo
		if app.AssignedAt == nil {
			app.AssignedAt = &now
		}
	}
	if req.Title != nil {
		app.Title = *req.Title
	}
	if req.Description != nil {
		app.Description = *req.Description
	}
	if req.Priority != nil {
		app.Priority = *req.Priority
	}
	if req.AdminNotes != nil {
		app.AdminNotes = req.AdminNotes
	}
	if req.RejectionReason != nil {
		app.RejectionReason = req.RejectionReason
	}
	if req.EstimatedCompletionDate != nil {
		app.EstimatedCompletionDate = req.EstimatedCompletionDate
	}
	if req.EstimatedCost != nil {
		app.EstimatedCost = req.EstimatedCost
	}
	if req.ActualCost != nil {
		app.ActualCost = req.ActualCost
	}
	if err := s.repo.Update(ctx, app); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update application")
	}
	app.Overdue = app.IsOverdue(s.now())

	if previous != app.Status {
		s.notifyStatusChange(ctx, app, previous)
	}
	return app, nil
}

// transition moves an application to a target status, enforcing the workflow
// table, applies mutate, persists and fires the status notification.
func (s *ApplicationService) transition(ctx context.Context, id int64, target models.ApplicationStatus, mutate func(app *models.Application)) (*models.Application, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := app.Status
	if !models.CanTransition(previous, target) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			"cannot move application from "+string(previous)+" to "+string(target))
	}

	app.Status = target
	if mutate != nil {
		mutate(app)
	}
	if err := s.repo.Update(ctx, app); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update application")
	}
	app.Overdue = app.IsOverdue(s.now())

	if previous != app.Status {
		s.notifyStatusChange(ctx, app, previous)
	}
	return app, nil
}

func (s *ApplicationService) notifyStatusChange(ctx context.Context, app *models.Application, previous models.ApplicationStatus) {
	if s.notifier == nil {
		return
	}
	school, err := s.schools.FindByID(ctx, app.SchoolID)
	if err != nil {
		s.logger.Sugar().Warnw("failed to load school for notification",
			"application_id", app.ID, "school_id", app.SchoolID, "error", err)
		return
	}
	s.notifier.ApplicationStatusChanged(ctx, app, school, previous)
}

// Assign routes an application to a technician and moves it IN_PROGRESS.
// The assignment timestamp is recorded on the first assignment only.
func (s *ApplicationService) Assign(ctx context.Context, id int64, req AssignApplicationRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	now := s.now()
	return s.transition(ctx, id, models.ApplicationStatusInProgress, func(app *models.Application) {
		app.AssignedTo = &req.AssignedTo
		if app.AssignedAt == nil {
			app.AssignedAt = &now
		}
	})
}

// Approve moves an application to APPROVED.
func (s *ApplicationService) Approve(ctx context.Context, id int64, req ApproveApplicationRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid approval payload")
	}
	return s.transition(ctx, id, models.ApplicationStatusApproved, func(app *models.Application) {
		if req.EstimatedCost != nil {
			app.EstimatedCost = req.EstimatedCost
		}
		if req.EstimatedCompletionDate != nil {
			app.EstimatedCompletionDate = req.EstimatedCompletionDate
		}
		if req.AdminNotes != nil {
			app.AdminNotes = req.AdminNotes
		}
	})
}

// Reject moves an application to REJECTED. The reason is mandatory and must
// not be blank.
func (s *ApplicationService) Reject(ctx context.Context, id int64, req RejectApplicationRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rejection payload")
	}
	reason := strings.TrimSpace(req.RejectionReason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}
	return s.transition(ctx, id, models.ApplicationStatusRejected, func(app *models.Application) {
		app.RejectionReason = &reason
	})
}

// Start moves an application to IN_PROGRESS.
func (s *ApplicationService) Start(ctx context.Context, id int64) (*models.Application, error) {
	return s.transition(ctx, id, models.ApplicationStatusInProgress, nil)
}

// Cancel moves an application to CANCELLED.
func (s *ApplicationService) Cancel(ctx context.Context, id int64) (*models.Application, error) {
	return s.transition(ctx, id, models.ApplicationStatusCancelled, nil)
}

// Complete moves an application to COMPLETED. The completion timestamp is
// written once; repeating the call leaves it untouched.
func (s *ApplicationService) Complete(ctx context.Context, id int64, req CompleteApplicationRequest) (*models.Application, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid completion payload")
	}
	now := s.now()
	return s.transition(ctx, id, models.ApplicationStatusCompleted, func(app *models.Application) {
		if app.CompletedAt == nil {
			app.CompletedAt = &now
		}
		if req.ActualCost != nil {
			app.ActualCost = req.ActualCost
		}
		if req.AdminNotes != nil {
			app.AdminNotes = req.AdminNotes
		}
	})
}

// UpdateDeviceIssue records the technician action on one device issue. A
// resolved issue keeps its original resolution timestamp on later updates.
func (s *ApplicationService) UpdateDeviceIssue(ctx context.Context, applicationID, issueID int64, req UpdateDeviceIssueRequest) (*models.ApplicationDeviceIssue, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid issue payload")
	}
	issue, err := s.repo.FindIssue(ctx, issueID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "device issue not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load device issue")
	}
	if issue.ApplicationID != applicationID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "device issue not found")
	}

	action := req.ActionTaken
	issue.ActionTaken = &action
	// Once an issue is marked resolved the timestamp sticks.
	if req.Resolved && issue.ResolvedAt == nil {
		now := s.now()
		issue.ResolvedAt = &now
	}
	if err := s.repo.UpdateIssue(ctx, issue); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "device issue not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update device issue")
	}
	return issue, nil
}

// AttachLetter records the storage path of an uploaded application letter.
// Only new-device requests carry a letter.
func (s *ApplicationService) AttachLetter(ctx context.Context, id int64, path string) (*models.Application, error) {
	app, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Type != models.ApplicationTypeNewDevice {
		return nil, appErrors.Clone(appErrors.ErrValidation, "only new-device requests accept an application letter")
	}
	app.ApplicationLetterPath = &path
	if err := s.repo.Update(ctx, app); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach application letter")
	}
	return app, nil
}

// Delete removes an application together with its device issues.
func (s *ApplicationService) Delete(ctx context.Context, id int64) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete application")
	}
	if !deleted {
		return appErrors.Clone(appErrors.ErrNotFound, "application not found")
	}
	return nil
}

// Statistics aggregates application counts by status, type and overdue state.
func (s *ApplicationService) Statistics(ctx context.Context) (*models.ApplicationStatistics, error) {
	stats, err := s.repo.Statistics(ctx, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate applications")
	}
	return stats, nil
}
