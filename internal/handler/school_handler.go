package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edutech-rw/asset-api/internal/models"
	"github.com/edutech-rw/asset-api/internal/service"
	appErrors "github.com/edutech-rw/asset-api/pkg/errors"
	"github.com/edutech-rw/asset-api/pkg/response"
)

// SchoolHandler exposes the school registry endpoints.
type SchoolHandler struct {
	schools *service.SchoolService
}

func NewSchoolHandler(schools *service.SchoolService) *SchoolHandler {
	return &SchoolHandler{schools: schools}
}

// List godoc
// @Summary List schools
// @Tags Schools
// @Produce json
// @Param district query string false "District"
// @Param search query string false "Free-text search"
// @Success 200 {object} response.Envelope
// @Router /schools [get]
func (h *SchoolHandler) List(c *gin.Context) {
	var filter models.SchoolFilter
	filter.District = c.Query("district")
	filter.Search = c.Query("search")
	filter.SortBy = c.Query("sortBy")
	filter.SortOrder = c.Query("sortOrder")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("pageSize", "0")); err == nil {
		filter.PageSize = size
	}
	schools, pagination, err := h.schools.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, schools, pagination)
}

// Get godoc
// @Summary Get one school
// @Tags Schools
// @Produce json
// @Param id path string true "School ID"
// @Success 200 {object} response.Envelope
// @Router /schools/{id} [get]
func (h *SchoolHandler) Get(c *gin.Context) {
	school, err := h.schools.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, school, nil)
}

// Create godoc
// @Summary Register a school
// @Tags Schools
// @Accept json
// @Produce json
// @Param payload body service.CreateSchoolRequest true "School payload"
// @Success 201 {object} response.Envelope
// @Router /schools [post]
func (h *SchoolHandler) Create(c *gin.Context) {
	var req service.CreateSchoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	school, err := h.schools.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, school)
}

// Update godoc
// @Summary Update a school
// @Tags Schools
// @Accept json
// @Produce json
// @Param id path string true "School ID"
// @Param payload body service.UpdateSchoolRequest true "Patch payload"
// @Success 200 {object} response.Envelope
// @Router /schools/{id} [put]
func (h *SchoolHandler) Update(c *gin.Context) {
	var req service.UpdateSchoolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	school, err := h.schools.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, school, nil)
}

// Delete godoc
// @Summary Delete a school
// @Tags Schools
// @Produce json
// @Param id path string true "School ID"
// @Success 204
// @Router /schools/{id} [delete]
func (h *SchoolHandler) Delete(c *gin.Context) {
	if err := h.schools.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
