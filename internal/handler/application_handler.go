package handler

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/edutech-rw/asset-api/internal/middleware"
	"github.com/edutech-rw/asset-api/internal/models"
	"github.com/edutech-rw/asset-api/internal/service"
	appErrors "github.com/edutech-rw/asset-api/pkg/errors"
	"github.com/edutech-rw/asset-api/pkg/response"
	"github.com/edutech-rw/asset-api/pkg/storage"
)

// ApplicationHandler exposes the application workflow endpoints.
type ApplicationHandler struct {
	applications *service.ApplicationService
	metrics      *service.MetricsService
	letters      *storage.LocalStorage
	signer       *storage.SignedURLSigner
}

// NewApplicationHandler constructs ApplicationHandler. Storage and signer may
// be nil when letter upload is disabled.
func NewApplicationHandler(applications *service.ApplicationService, metrics *service.MetricsService, letters *storage.LocalStorage, signer *storage.SignedURLSigner) *ApplicationHandler {
	return &ApplicationHandler{applications: applications, metrics: metrics, letters: letters, signer: signer}
}

func applicationID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, appErrors.Clone(appErrors.ErrValidation, "invalid application id")
	}
	return id, nil
}

// CreateNewDevice godoc
// @Summary Submit a new-device request
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body service.CreateNewDeviceApplicationRequest true "Application payload"
// @Success 201 {object} response.Envelope
// @Router /applications/new-device [post]
func (h *ApplicationHandler) CreateNewDevice(c *gin.Context) {
	var req service.CreateNewDeviceApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if scope, ok := middleware.SchoolScopeFrom(c); ok {
		req.SchoolID = scope
	}
	app, err := h.applications.CreateNewDevice(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordApplicationCreated(string(app.Type))
	response.Created(c, app)
}

// CreateMaintenance godoc
// @Summary Submit a maintenance request
// @Tags Applications
// @Accept json
// @Produce json
// @Param payload body service.CreateMaintenanceApplicationRequest true "Application payload"
// @Success 201 {object} response.Envelope
// @Router /applications/maintenance [post]
func (h *ApplicationHandler) CreateMaintenance(c *gin.Context) {
	var req service.CreateMaintenanceApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if scope, ok := middleware.SchoolScopeFrom(c); ok {
		req.SchoolID = scope
	}
	app, err := h.applications.CreateMaintenance(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordApplicationCreated(string(app.Type))
	response.Created(c, app)
}

func applicationFilterFromQuery(c *gin.Context) models.ApplicationFilter {
	var filter models.ApplicationFilter
	filter.Type = models.ApplicationType(c.Query("type"))
	filter.Status = models.ApplicationStatus(c.Query("status"))
	filter.Priority = models.ApplicationPriority(c.Query("priority"))
	filter.SchoolID = c.Query("schoolId")
	filter.AssignedTo = c.Query("assignedTo")
	if from := c.Query("dateFrom"); from != "" {
		if ts, err := time.Parse(time.RFC3339, from); err == nil {
			filter.DateFrom = &ts
		}
	}
	if to := c.Query("dateTo"); to != "" {
		if ts, err := time.Parse(time.RFC3339, to); err == nil {
			filter.DateTo = &ts
		}
	}
	if overdue := c.Query("isOverdue"); overdue == "true" || overdue == "false" {
		v := overdue == "true"
		filter.IsOverdue = &v
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(c.DefaultQuery("limit", "0")); err == nil {
		filter.Limit = limit
	}
	return filter
}

// List godoc
// @Summary List applications
// @Tags Applications
// @Produce json
// @Param type query string false "Application type"
// @Param status query string false "Workflow status"
// @Param priority query string false "Priority"
// @Param schoolId query string false "School"
// @Param assignedTo query string false "Handler"
// @Param isOverdue query bool false "Overdue only"
// @Success 200 {object} response.Envelope
// @Router /applications [get]
func (h *ApplicationHandler) List(c *gin.Context) {
	filter := applicationFilterFromQuery(c)
	if scope, ok := middleware.SchoolScopeFrom(c); ok {
		filter.SchoolID = scope
	}
	apps, pagination, err := h.applications.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, apps, pagination)
}

// ListBySchool godoc
// @Summary List applications of one school
// @Tags Applications
// @Produce json
// @Param schoolId path string true "School ID"
// @Success 200 {object} response.Envelope
// @Router /applications/school/{schoolId} [get]
func (h *ApplicationHandler) ListBySchool(c *gin.Context) {
	schoolID := c.Param("schoolId")
	if scope, ok := middleware.SchoolScopeFrom(c); ok && scope != schoolID {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	apps, pagination, err := h.applications.ListBySchool(c.Request.Context(), schoolID, applicationFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, apps, pagination)
}

// Get godoc
// @Summary Get one application with its device issues
// @Tags Applications
// @Produce json
// @Param id path int true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id} [get]
func (h *ApplicationHandler) Get(c *gin.Context) {
	id, err := applicationID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	app, err := h.applications.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if scope, ok := middleware.SchoolScopeFrom(c); ok && app.SchoolID != scope {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// Update godoc
// @Summary Patch an application
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path int true "Application ID"
// @Param payload body service.UpdateApplicationRequest true "Patch payload"
// @Success 200 {object} response.Envelope
// @Router /applications/{id} [put]
func (h *ApplicationHandler) Update(c *gin.Context) {
	id, err := applicationID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.UpdateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	app, err := h.applications.Update(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if req.Status != nil {
		h.metrics.RecordStatusTransition(string(*req.Status))
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// Assign godoc
// @Summary Assign an application to a technician
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path int true "Application ID"
// @Param payload body service.AssignApplicationRequest true "Assignment payload"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/assign [post]
func (h *ApplicationHandler) Assign(c *gin.Context) {
	id, err := applicationID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.AssignApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	app, err := h.applications.Assign(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordStatusTransition(string(app.Status))
	response.JSON(c, http.StatusOK, app, nil)
}

// Approve godoc
// @Summary Approve an application
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path int true "Application ID"
// @Param payload body service.ApproveApplicationRequest false "Approval payload"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/approve [post]
func (h *ApplicationHandler) Approve(c *gin.Context) {
	id, err := applicationID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.ApproveApplicationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	app, err := h.applications.Approve(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordStatusTransition(string(app.Status))
	response.JSON(c, http.StatusOK, app, nil)
}

// Reject godoc
// @Summary Reject an application with a reason
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path int true "Application ID"
// @Param payload body service.RejectApplicationRequest true "Rejection payload"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/reject [post]
func (h *ApplicationHandler) Reject(c *gin.Context) {
	id, err := applicationID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.RejectApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	app, err := h.applications.Reject(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordStatusTransition(string(app.Status))
	response.JSON(c, http.StatusOK, app, nil)
}

// Start godoc
// @Summary Move an application into progress
// @Tags Applications
// @Produce json
// @Param id path int true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/start [post]
func (h *ApplicationHandler) Start(c *gin.Context) {
	id, err := applicationID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	app, err := h.applications.Start(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordStatusTransition(string(app.Status))
	response.JSON(c, http.StatusOK, app, nil)
}

// Cancel godoc
// @Summary Cancel an application
// @Tags Applications
// @Produce json
// @Param id path int true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/cancel [post]
func (h *ApplicationHandler) Cancel(c *gin.Context) {
	id, err := applicationID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if scope, ok := middleware.SchoolScopeFrom(c); ok {
		current, err := h.applications.Get(c.Request.Context(), id)
		if err != nil {
			response.Error(c, err)
			return
		}
		if current.SchoolID != scope {
			response.Error(c, appErrors.ErrForbidden)
			return
		}
	}
	app, err := h.applications.Cancel(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordStatusTransition(string(app.Status))
	response.JSON(c, http.StatusOK, app, nil)
}

// Complete godoc
// @Summary Complete an application
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path int true "Application ID"
// @Param payload body service.CompleteApplicationRequest false "Completion payload"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/complete [post]
func (h *ApplicationHandler) Complete(c *gin.Context) {
	id, err := applicationID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.CompleteApplicationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	app, err := h.applications.Complete(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordStatusTransition(string(app.Status))
	response.JSON(c, http.StatusOK, app, nil)
}

// UpdateDeviceIssue godoc
// @Summary Record technician action on one device issue
// @Tags Applications
// @Accept json
// @Produce json
// @Param id path int true "Application ID"
// @Param issueId path int true "Issue ID"
// @Param payload body service.UpdateDeviceIssueRequest true "Issue payload"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/issues/{issueId} [put]
func (h *ApplicationHandler) UpdateDeviceIssue(c *gin.Context) {
	id, err := applicationID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	issueID, err := strconv.ParseInt(c.Param("issueId"), 10, 64)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid issue id"))
		return
	}
	var req service.UpdateDeviceIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	issue, err := h.applications.UpdateDeviceIssue(c.Request.Context(), id, issueID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issue, nil)
}

// Delete godoc
// @Summary Delete an application and its device issues
// @Tags Applications
// @Produce json
// @Param id path int true "Application ID"
// @Success 204
// @Router /applications/{id} [delete]
func (h *ApplicationHandler) Delete(c *gin.Context) {
	id, err := applicationID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := h.applications.Delete(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Statistics godoc
// @Summary Application workflow statistics
// @Tags Applications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /applications/statistics [get]
func (h *ApplicationHandler) Statistics(c *gin.Context) {
	stats, err := h.applications.Statistics(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// UploadLetter godoc
// @Summary Upload the application letter PDF for a new-device request
// @Tags Applications
// @Accept multipart/form-data
// @Produce json
// @Param id path int true "Application ID"
// @Param file formData file true "PDF letter"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/letter [post]
func (h *ApplicationHandler) UploadLetter(c *gin.Context) {
	if h.letters == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "letter storage not configured"))
		return
	}
	id, err := applicationID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "missing file upload"))
		return
	}
	if !strings.EqualFold(filepath.Ext(file.Filename), ".pdf") {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "application letter must be a PDF"))
		return
	}
	src, err := file.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer src.Close()

	relPath := filepath.Join("letters", strconv.FormatInt(id, 10), uuid.NewString()+".pdf")
	stored, err := h.letters.SaveStream(relPath, src)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store letter"))
		return
	}
	app, err := h.applications.AttachLetter(c.Request.Context(), id, stored)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, app, nil)
}

// DownloadLetter godoc
// @Summary Download the application letter
// @Tags Applications
// @Produce application/pdf
// @Param id path int true "Application ID"
// @Success 200
// @Router /applications/{id}/letter [get]
func (h *ApplicationHandler) DownloadLetter(c *gin.Context) {
	if h.letters == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "letter storage not configured"))
		return
	}
	id, err := applicationID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	app, err := h.applications.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if scope, ok := middleware.SchoolScopeFrom(c); ok && app.SchoolID != scope {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	if app.ApplicationLetterPath == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "no letter attached"))
		return
	}
	reader, err := h.letters.Open(*app.ApplicationLetterPath)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "letter file missing"))
		return
	}
	defer reader.Close()

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", `attachment; filename="application-letter.pdf"`)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		c.Abort()
	}
}

// LetterLink godoc
// @Summary Issue a time-limited signed URL for the letter
// @Tags Applications
// @Produce json
// @Param id path int true "Application ID"
// @Success 200 {object} response.Envelope
// @Router /applications/{id}/letter/link [get]
func (h *ApplicationHandler) LetterLink(c *gin.Context) {
	if h.signer == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "signed links not configured"))
		return
	}
	id, err := applicationID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	app, err := h.applications.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if app.ApplicationLetterPath == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "no letter attached"))
		return
	}
	token, expiresAt, err := h.signer.Generate(strconv.FormatInt(id, 10), *app.ApplicationLetterPath)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign url"))
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"token":     token,
		"expiresAt": expiresAt,
	}, nil)
}

// DownloadSigned godoc
// @Summary Download a letter with a signed token, no session required
// @Tags Applications
// @Produce application/pdf
// @Param token query string true "Signed token"
// @Success 200
// @Router /files/letters [get]
func (h *ApplicationHandler) DownloadSigned(c *gin.Context) {
	if h.signer == nil || h.letters == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "signed links not configured"))
		return
	}
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "missing token"))
		return
	}
	_, relPath, _, err := h.signer.Parse(token)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired link"))
		return
	}
	reader, err := h.letters.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "letter file missing"))
		return
	}
	defer reader.Close()

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", `attachment; filename="application-letter.pdf"`)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		c.Abort()
	}
}
