package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edutech-rw/asset-api/internal/models"
	appErrors "github.com/edutech-rw/asset-api/pkg/errors"
)

type mockApplicationRepo struct {
	apps       map[int64]models.Application
	issues     map[int64]models.ApplicationDeviceIssue
	nextID     int64
	lastFilter models.ApplicationFilter
	listTotal  int
	err        error
}

func newMockApplicationRepo() *mockApplicationRepo {
	return &mockApplicationRepo{
		apps:   make(map[int64]models.Application),
		issues: make(map[int64]models.ApplicationDeviceIssue),
	}
}

func (m *mockApplicationRepo) Create(ctx context.Context, app *models.Application) error {
	if m.err != nil {
		return m.err
	}
	m.nextID++
	app.ID = m.nextID
	app.CreatedAt = time.Now().UTC()
	app.UpdatedAt = app.CreatedAt
	for i := range app.Issues {
		m.nextID++
		app.Issues[i].ID = m.nextID
		app.Issues[i].ApplicationID = app.ID
		m.issues[app.Issues[i].ID] = app.Issues[i]
	}
	m.apps[app.ID] = *app
	return nil
}

func (m *mockApplicationRepo) FindByID(ctx context.Context, id int64) (*models.Application, error) {
	app, ok := m.apps[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := app
	return &copied, nil
}

func (m *mockApplicationRepo) List(ctx context.Context, filter models.ApplicationFilter, now time.Time) ([]models.Application, int, error) {
	m.lastFilter = filter
	if m.err != nil {
		return nil, 0, m.err
	}
	out := make([]models.Application, 0, len(m.apps))
	for _, app := range m.apps {
		out = append(out, app)
	}
	return out, m.listTotal, nil
}

func (m *mockApplicationRepo) Update(ctx context.Context, app *models.Application) error {
	if m.err != nil {
		return m.err
	}
	app.UpdatedAt = time.Now().UTC()
	m.apps[app.ID] = *app
	return nil
}

func (m *mockApplicationRepo) Delete(ctx context.Context, id int64) (bool, error) {
	if _, ok := m.apps[id]; !ok {
		return false, nil
	}
	delete(m.apps, id)
	for issueID, issue := range m.issues {
		if issue.ApplicationID == id {
			delete(m.issues, issueID)
		}
	}
	return true, nil
}

func (m *mockApplicationRepo) FindIssue(ctx context.Context, issueID int64) (*models.ApplicationDeviceIssue, error) {
	issue, ok := m.issues[issueID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := issue
	return &copied, nil
}

func (m *mockApplicationRepo) UpdateIssue(ctx context.Context, issue *models.ApplicationDeviceIssue) error {
	if _, ok := m.issues[issue.ID]; !ok {
		return sql.ErrNoRows
	}
	m.issues[issue.ID] = *issue
	return nil
}

func (m *mockApplicationRepo) Statistics(ctx context.Context, now time.Time) (*models.ApplicationStatistics, error) {
	return &models.ApplicationStatistics{Total: len(m.apps)}, nil
}

type mockSchoolFinder struct {
	schools map[string]models.School
}

func (m *mockSchoolFinder) FindByID(ctx context.Context, id string) (*models.School, error) {
	school, ok := m.schools[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := school
	return &copied, nil
}

type mockDeviceChecker struct {
	existing map[string]bool
}

func (m *mockDeviceChecker) ExistingIDs(ctx context.Context, ids []string) ([]string, error) {
	var found []string
	for _, id := range ids {
		if m.existing[id] {
			found = append(found, id)
		}
	}
	return found, nil
}

type recordedNotification struct {
	kind     string
	previous models.ApplicationStatus
	status   models.ApplicationStatus
}

type mockNotifier struct {
	events []recordedNotification
}

func (m *mockNotifier) ApplicationSubmitted(ctx context.Context, app *models.Application, school *models.School) {
	m.events = append(m.events, recordedNotification{kind: "submitted", status: app.Status})
}

func (m *mockNotifier) ApplicationStatusChanged(ctx context.Context, app *models.Application, school *models.School, previous models.ApplicationStatus) {
	m.events = append(m.events, recordedNotification{kind: "status", previous: previous, status: app.Status})
}

func newTestApplicationService(repo *mockApplicationRepo, schools *mockSchoolFinder, devices *mockDeviceChecker, notifier *mockNotifier) *ApplicationService {
	var dc deviceChecker
	if devices != nil {
		dc = devices
	}
	var n applicationNotifier
	if notifier != nil {
		n = notifier
	}
	return NewApplicationService(repo, schools, dc, n, validator.New(), zap.NewNop())
}

func seedSchools(ids ...string) *mockSchoolFinder {
	schools := make(map[string]models.School, len(ids))
	for _, id := range ids {
		schools[id] = models.School{ID: id, Name: "GS " + id, District: "Gasabo", ContactEmail: id + "@school.rw"}
	}
	return &mockSchoolFinder{schools: schools}
}

func TestCreateNewDeviceApplication(t *testing.T) {
	repo := newMockApplicationRepo()
	notifier := &mockNotifier{}
	svc := newTestApplicationService(repo, seedSchools("school-1"), &mockDeviceChecker{}, notifier)

	app, err := svc.CreateNewDevice(context.Background(), CreateNewDeviceApplicationRequest{
		Title:                "Laptops for lab",
		Description:          "Replace aging lab machines",
		SchoolID:             "school-1",
		RequestedDeviceCount: 12,
		RequestedDeviceType:  "LAPTOP",
		Justification:        "Current machines are beyond repair",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationTypeNewDevice, app.Type)
	assert.Equal(t, models.ApplicationStatusPending, app.Status)
	assert.Equal(t, models.PriorityMedium, app.Priority)
	require.NotNil(t, app.RequestedDeviceCount)
	assert.Equal(t, 12, *app.RequestedDeviceCount)
	require.Len(t, notifier.events, 1)
	assert.Equal(t, "submitted", notifier.events[0].kind)
}

func TestCreateNewDeviceApplicationUnknownSchool(t *testing.T) {
	repo := newMockApplicationRepo()
	svc := newTestApplicationService(repo, seedSchools(), &mockDeviceChecker{}, nil)

	_, err := svc.CreateNewDevice(context.Background(), CreateNewDeviceApplicationRequest{
		Title:                "Laptops",
		Description:          "desc",
		SchoolID:             "missing",
		RequestedDeviceCount: 1,
		RequestedDeviceType:  "LAPTOP",
		Justification:        "because",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.apps)
}

func TestCreateMaintenanceApplication(t *testing.T) {
	repo := newMockApplicationRepo()
	devices := &mockDeviceChecker{existing: map[string]bool{"dev-42": true}}
	svc := newTestApplicationService(repo, seedSchools("school-5"), devices, nil)

	app, err := svc.CreateMaintenance(context.Background(), CreateMaintenanceApplicationRequest{
		Title:       "Projector repair",
		Description: "Classroom projector flickering",
		SchoolID:    "school-5",
		DeviceIssues: []DeviceIssueInput{
			{DeviceID: "dev-42", ProblemDescription: "screen flicker"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationTypeMaintenance, app.Type)
	assert.Equal(t, models.ApplicationStatusPending, app.Status)
	require.Len(t, app.Issues, 1)
	assert.Equal(t, "screen flicker", app.Issues[0].ProblemDescription)
	assert.Nil(t, app.Issues[0].ResolvedAt)
}

func TestCreateMaintenanceApplicationEmptyIssues(t *testing.T) {
	repo := newMockApplicationRepo()
	svc := newTestApplicationService(repo, seedSchools("school-5"), &mockDeviceChecker{}, nil)

	_, err := svc.CreateMaintenance(context.Background(), CreateMaintenanceApplicationRequest{
		Title:        "Repair",
		Description:  "desc",
		SchoolID:     "school-5",
		DeviceIssues: nil,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.apps)
}

func TestCreateMaintenanceApplicationUnknownDevice(t *testing.T) {
	repo := newMockApplicationRepo()
	devices := &mockDeviceChecker{existing: map[string]bool{"dev-1": true}}
	svc := newTestApplicationService(repo, seedSchools("school-5"), devices, nil)

	_, err := svc.CreateMaintenance(context.Background(), CreateMaintenanceApplicationRequest{
		Title:       "Repair",
		Description: "desc",
		SchoolID:    "school-5",
		DeviceIssues: []DeviceIssueInput{
			{DeviceID: "dev-1", ProblemDescription: "broken keyboard"},
			{DeviceID: "dev-ghost", ProblemDescription: "no power"},
		},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.apps, "nothing may persist when any device is unknown")
}

func seedApplication(repo *mockApplicationRepo, status models.ApplicationStatus) int64 {
	repo.nextID++
	id := repo.nextID
	repo.apps[id] = models.Application{
		ID:          id,
		Type:        models.ApplicationTypeNewDevice,
		Status:      status,
		Priority:    models.PriorityMedium,
		Title:       "Seeded",
		Description: "seeded",
		SchoolID:    "school-1",
		CreatedAt:   time.Now().UTC(),
	}
	return id
}

func TestAssignSetsTimestampOnce(t *testing.T) {
	repo := newMockApplicationRepo()
	svc := newTestApplicationService(repo, seedSchools("school-1"), nil, nil)
	id := seedApplication(repo, models.ApplicationStatusPending)

	first, err := svc.Assign(context.Background(), id, AssignApplicationRequest{AssignedTo: "tech1"})
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusInProgress, first.Status)
	require.NotNil(t, first.AssignedAt)
	firstAt := *first.AssignedAt

	second, err := svc.Assign(context.Background(), id, AssignApplicationRequest{AssignedTo: "tech2"})
	require.NoError(t, err)
	require.NotNil(t, second.AssignedTo)
	assert.Equal(t, "tech2", *second.AssignedTo)
	require.NotNil(t, second.AssignedAt)
	assert.Equal(t, firstAt, *second.AssignedAt, "reassignment must not touch assigned_at")
}

func TestCompleteIdempotentTimestamp(t *testing.T) {
	repo := newMockApplicationRepo()
	notifier := &mockNotifier{}
	svc := newTestApplicationService(repo, seedSchools("school-1"), nil, notifier)
	id := seedApplication(repo, models.ApplicationStatusInProgress)

	cost := 250.0
	first, err := svc.Complete(context.Background(), id, CompleteApplicationRequest{ActualCost: &cost})
	require.NoError(t, err)
	require.NotNil(t, first.CompletedAt)
	firstAt := *first.CompletedAt

	second, err := svc.Complete(context.Background(), id, CompleteApplicationRequest{})
	require.NoError(t, err)
	require.NotNil(t, second.CompletedAt)
	assert.Equal(t, firstAt, *second.CompletedAt, "repeat completion must keep the first timestamp")

	require.Len(t, notifier.events, 1, "no notification for a no-op transition")
	assert.Equal(t, models.ApplicationStatusInProgress, notifier.events[0].previous)
	assert.Equal(t, models.ApplicationStatusCompleted, notifier.events[0].status)
}

func TestRejectRequiresReason(t *testing.T) {
	repo := newMockApplicationRepo()
	svc := newTestApplicationService(repo, seedSchools("school-1"), nil, nil)
	id := seedApplication(repo, models.ApplicationStatusPending)

	_, err := svc.Reject(context.Background(), id, RejectApplicationRequest{RejectionReason: ""})
	require.Error(t, err)

	_, err = svc.Reject(context.Background(), id, RejectApplicationRequest{RejectionReason: "   "})
	require.Error(t, err)

	app, err := svc.Reject(context.Background(), id, RejectApplicationRequest{RejectionReason: "budget exhausted"})
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStatusRejected, app.Status)
	require.NotNil(t, app.RejectionReason)
	assert.Equal(t, "budget exhausted", *app.RejectionReason)
}

func TestTransitionTableBlocksIllegalMoves(t *testing.T) {
	repo := newMockApplicationRepo()
	svc := newTestApplicationService(repo, seedSchools("school-1"), nil, nil)
	id := seedApplication(repo, models.ApplicationStatusRejected)

	_, err := svc.Complete(context.Background(), id, CompleteApplicationRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)

	_, err = svc.Approve(context.Background(), id, ApproveApplicationRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestUpdateWithStatusSetsCompletedAtOnce(t *testing.T) {
	repo := newMockApplicationRepo()
	svc := newTestApplicationService(repo, seedSchools("school-1"), nil, nil)
	id := seedApplication(repo, models.ApplicationStatusApproved)

	completed := models.ApplicationStatusCompleted
	first, err := svc.Update(context.Background(), id, UpdateApplicationRequest{Status: &completed})
	require.NoError(t, err)
	require.NotNil(t, first.CompletedAt)
	firstAt := *first.CompletedAt

	notes := "verified on site"
	second, err := svc.Update(context.Background(), id, UpdateApplicationRequest{Status: &completed, AdminNotes: &notes})
	require.NoError(t, err)
	require.NotNil(t, second.CompletedAt)
	assert.Equal(t, firstAt, *second.CompletedAt)
}

func TestUpdateDeviceIssueResolvedAtMonotonic(t *testing.T) {
	repo := newMockApplicationRepo()
	devices := &mockDeviceChecker{existing: map[string]bool{"dev-1": true}}
	svc := newTestApplicationService(repo, seedSchools("school-1"), devices, nil)

	app, err := svc.CreateMaintenance(context.Background(), CreateMaintenanceApplicationRequest{
		Title:       "Fan replacement",
		Description: "overheating",
		SchoolID:    "school-1",
		DeviceIssues: []DeviceIssueInput{
			{DeviceID: "dev-1", ProblemDescription: "loud fan"},
		},
	})
	require.NoError(t, err)
	issueID := app.Issues[0].ID

	issue, err := svc.UpdateDeviceIssue(context.Background(), app.ID, issueID, UpdateDeviceIssueRequest{ActionTaken: "replaced fan", Resolved: false})
	require.NoError(t, err)
	assert.Nil(t, issue.ResolvedAt)

	issue, err = svc.UpdateDeviceIssue(context.Background(), app.ID, issueID, UpdateDeviceIssueRequest{ActionTaken: "replaced fan", Resolved: true})
	require.NoError(t, err)
	require.NotNil(t, issue.ResolvedAt)
	resolvedAt := *issue.ResolvedAt

	issue, err = svc.UpdateDeviceIssue(context.Background(), app.ID, issueID, UpdateDeviceIssueRequest{ActionTaken: "double check", Resolved: false})
	require.NoError(t, err)
	require.NotNil(t, issue.ResolvedAt, "resolved_at is never cleared once set")
	assert.Equal(t, resolvedAt, *issue.ResolvedAt)
}

func TestUpdateDeviceIssueWrongApplication(t *testing.T) {
	repo := newMockApplicationRepo()
	devices := &mockDeviceChecker{existing: map[string]bool{"dev-1": true}}
	svc := newTestApplicationService(repo, seedSchools("school-1"), devices, nil)

	app, err := svc.CreateMaintenance(context.Background(), CreateMaintenanceApplicationRequest{
		Title:       "Repair",
		Description: "desc",
		SchoolID:    "school-1",
		DeviceIssues: []DeviceIssueInput{
			{DeviceID: "dev-1", ProblemDescription: "broken"},
		},
	})
	require.NoError(t, err)

	_, err = svc.UpdateDeviceIssue(context.Background(), app.ID+99, app.Issues[0].ID, UpdateDeviceIssueRequest{ActionTaken: "noop"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestGetComputesOverdue(t *testing.T) {
	repo := newMockApplicationRepo()
	svc := newTestApplicationService(repo, seedSchools("school-1"), nil, nil)
	id := seedApplication(repo, models.ApplicationStatusInProgress)

	past := time.Now().UTC().Add(-48 * time.Hour)
	app := repo.apps[id]
	app.EstimatedCompletionDate = &past
	repo.apps[id] = app

	got, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, got.Overdue)

	_, err = svc.Complete(context.Background(), id, CompleteApplicationRequest{})
	require.NoError(t, err)
	got, err = svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, got.Overdue, "completed applications are never overdue")
}

func TestDeleteMissingApplication(t *testing.T) {
	repo := newMockApplicationRepo()
	svc := newTestApplicationService(repo, seedSchools("school-1"), nil, nil)

	err := svc.Delete(context.Background(), 404)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestListBySchoolForcesFilter(t *testing.T) {
	repo := newMockApplicationRepo()
	svc := newTestApplicationService(repo, seedSchools("school-1"), nil, nil)
	seedApplication(repo, models.ApplicationStatusPending)

	_, _, err := svc.ListBySchool(context.Background(), "school-1", models.ApplicationFilter{SchoolID: "someone-else"})
	require.NoError(t, err)
	assert.Equal(t, "school-1", repo.lastFilter.SchoolID)

	_, _, err = svc.ListBySchool(context.Background(), "missing", models.ApplicationFilter{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
