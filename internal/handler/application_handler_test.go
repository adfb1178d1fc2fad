package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edutech-rw/asset-api/internal/middleware"
	"github.com/edutech-rw/asset-api/internal/models"
	"github.com/edutech-rw/asset-api/internal/service"
)

type applicationRepoStub struct {
	apps       map[int64]*models.Application
	nextID     int64
	lastFilter models.ApplicationFilter
}

func newApplicationRepoStub() *applicationRepoStub {
	return &applicationRepoStub{apps: map[int64]*models.Application{}, nextID: 1}
}

func (r *applicationRepoStub) Create(_ context.Context, app *models.Application) error {
	app.ID = r.nextID
	r.nextID++
	copied := *app
	r.apps[app.ID] = &copied
	return nil
}

func (r *applicationRepoStub) FindByID(_ context.Context, id int64) (*models.Application, error) {
	app, ok := r.apps[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *app
	return &copied, nil
}

func (r *applicationRepoStub) List(_ context.Context, filter models.ApplicationFilter, _ time.Time) ([]models.Application, int, error) {
	r.lastFilter = filter
	out := make([]models.Application, 0, len(r.apps))
	for _, app := range r.apps {
		out = append(out, *app)
	}
	return out, len(out), nil
}

func (r *applicationRepoStub) Update(_ context.Context, app *models.Application) error {
	if _, ok := r.apps[app.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *app
	r.apps[app.ID] = &copied
	return nil
}

func (r *applicationRepoStub) Delete(_ context.Context, id int64) (bool, error) {
	if _, ok := r.apps[id]; !ok {
		return false, nil
	}
	delete(r.apps, id)
	return true, nil
}

func (r *applicationRepoStub) FindIssue(_ context.Context, _ int64) (*models.ApplicationDeviceIssue, error) {
	return nil, sql.ErrNoRows
}

func (r *applicationRepoStub) UpdateIssue(_ context.Context, _ *models.ApplicationDeviceIssue) error {
	return sql.ErrNoRows
}

func (r *applicationRepoStub) Statistics(_ context.Context, _ time.Time) (*models.ApplicationStatistics, error) {
	return &models.ApplicationStatistics{Total: len(r.apps)}, nil
}

type schoolFinderStub struct {
	schools map[string]*models.School
}

func (s *schoolFinderStub) FindByID(_ context.Context, id string) (*models.School, error) {
	school, ok := s.schools[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return school, nil
}

type deviceCheckerStub struct{}

func (deviceCheckerStub) ExistingIDs(_ context.Context, ids []string) ([]string, error) {
	return ids, nil
}

func newTestApplicationHandler(repo *applicationRepoStub) *ApplicationHandler {
	schools := &schoolFinderStub{schools: map[string]*models.School{
		"school-1": {ID: "school-1", Name: "GS Kacyiru", District: "Gasabo", ContactEmail: "head@gskacyiru.rw"},
	}}
	svc := service.NewApplicationService(repo, schools, deviceCheckerStub{}, nil, nil, nil)
	return NewApplicationHandler(svc, nil, nil, nil)
}

func testContext(t *testing.T, method, target string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body != nil {
		req, _ = http.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, target, nil)
	}
	c.Request = req
	return c, w
}

func TestApplicationHandlerCreateNewDevice(t *testing.T) {
	repo := newApplicationRepoStub()
	handler := newTestApplicationHandler(repo)

	payload, _ := json.Marshal(service.CreateNewDeviceApplicationRequest{
		Title:                "Laptops for P6",
		Description:          "The lab is short twelve laptops",
		SchoolID:             "school-1",
		RequestedDeviceCount: 12,
		RequestedDeviceType:  "LAPTOP",
		Justification:        "Exam preparation classes",
	})
	c, w := testContext(t, http.MethodPost, "/applications/new-device", payload)

	handler.CreateNewDevice(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, repo.apps, 1)
	assert.Equal(t, models.ApplicationStatusPending, repo.apps[1].Status)
}

func TestApplicationHandlerCreateNewDeviceInvalidBody(t *testing.T) {
	handler := newTestApplicationHandler(newApplicationRepoStub())

	c, w := testContext(t, http.MethodPost, "/applications/new-device", []byte(`{"title":`))

	handler.CreateNewDevice(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplicationHandlerCreateScopedToSchool(t *testing.T) {
	repo := newApplicationRepoStub()
	handler := newTestApplicationHandler(repo)

	payload, _ := json.Marshal(service.CreateNewDeviceApplicationRequest{
		Title:                "Projector replacement",
		Description:          "Projector bulb burnt out",
		SchoolID:             "school-9",
		RequestedDeviceCount: 1,
		RequestedDeviceType:  "PROJECTOR",
		Justification:        "No working projector left",
	})
	c, w := testContext(t, http.MethodPost, "/applications/new-device", payload)
	c.Set(middleware.ContextSchoolScopeKey, "school-1")

	handler.CreateNewDevice(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "school-1", repo.apps[1].SchoolID)
}

func TestApplicationHandlerGetNotFound(t *testing.T) {
	handler := newTestApplicationHandler(newApplicationRepoStub())

	c, w := testContext(t, http.MethodGet, "/applications/42", nil)
	c.Params = gin.Params{{Key: "id", Value: "42"}}

	handler.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestApplicationHandlerGetInvalidID(t *testing.T) {
	handler := newTestApplicationHandler(newApplicationRepoStub())

	c, w := testContext(t, http.MethodGet, "/applications/abc", nil)
	c.Params = gin.Params{{Key: "id", Value: "abc"}}

	handler.Get(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplicationHandlerGetForbiddenOutsideScope(t *testing.T) {
	repo := newApplicationRepoStub()
	handler := newTestApplicationHandler(repo)
	repo.apps[1] = &models.Application{ID: 1, SchoolID: "school-1", Status: models.ApplicationStatusPending}
	repo.nextID = 2

	c, w := testContext(t, http.MethodGet, "/applications/1", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}
	c.Set(middleware.ContextSchoolScopeKey, "school-2")

	handler.Get(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestApplicationHandlerListParsesFilters(t *testing.T) {
	repo := newApplicationRepoStub()
	handler := newTestApplicationHandler(repo)

	c, w := testContext(t, http.MethodGet, "/applications?status=PENDING&type=MAINTENANCE_REQUEST&isOverdue=true&page=2&limit=10", nil)

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ApplicationStatusPending, repo.lastFilter.Status)
	assert.Equal(t, models.ApplicationTypeMaintenance, repo.lastFilter.Type)
	require.NotNil(t, repo.lastFilter.IsOverdue)
	assert.True(t, *repo.lastFilter.IsOverdue)
	assert.Equal(t, 2, repo.lastFilter.Page)
	assert.Equal(t, 10, repo.lastFilter.Limit)
}

func TestApplicationHandlerRejectMissingReason(t *testing.T) {
	repo := newApplicationRepoStub()
	handler := newTestApplicationHandler(repo)
	repo.apps[1] = &models.Application{ID: 1, SchoolID: "school-1", Status: models.ApplicationStatusPending}
	repo.nextID = 2

	c, w := testContext(t, http.MethodPost, "/applications/1/reject", []byte(`{"rejection_reason":""}`))
	c.Params = gin.Params{{Key: "id", Value: "1"}}

	handler.Reject(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.ApplicationStatusPending, repo.apps[1].Status)
}

func TestApplicationHandlerDelete(t *testing.T) {
	repo := newApplicationRepoStub()
	handler := newTestApplicationHandler(repo)
	repo.apps[1] = &models.Application{ID: 1, SchoolID: "school-1", Status: models.ApplicationStatusPending}
	repo.nextID = 2

	c, w := testContext(t, http.MethodDelete, "/applications/1", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}

	handler.Delete(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, repo.apps)
}
