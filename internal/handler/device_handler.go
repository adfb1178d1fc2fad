package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edutech-rw/asset-api/internal/middleware"
	"github.com/edutech-rw/asset-api/internal/models"
	"github.com/edutech-rw/asset-api/internal/service"
	appErrors "github.com/edutech-rw/asset-api/pkg/errors"
	"github.com/edutech-rw/asset-api/pkg/response"
)

// DeviceHandler exposes the device registry endpoints.
type DeviceHandler struct {
	devices *service.DeviceService
}

func NewDeviceHandler(devices *service.DeviceService) *DeviceHandler {
	return &DeviceHandler{devices: devices}
}

func deviceFilterFromQuery(c *gin.Context) models.DeviceFilter {
	var filter models.DeviceFilter
	filter.Category = models.DeviceCategory(c.Query("category"))
	filter.Status = models.DeviceStatus(c.Query("status"))
	filter.Condition = models.DeviceCondition(c.Query("condition"))
	filter.SchoolID = c.Query("schoolId")
	filter.Search = c.Query("search")
	filter.SortBy = c.Query("sortBy")
	filter.SortOrder = c.Query("sortOrder")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("pageSize", "0")); err == nil {
		filter.PageSize = size
	}
	return filter
}

// List godoc
// @Summary List devices
// @Tags Devices
// @Produce json
// @Param category query string false "Device category"
// @Param status query string false "Device status"
// @Param condition query string false "Device condition"
// @Param schoolId query string false "School"
// @Param search query string false "Free-text search"
// @Success 200 {object} response.Envelope
// @Router /devices [get]
func (h *DeviceHandler) List(c *gin.Context) {
	filter := deviceFilterFromQuery(c)
	if scope, ok := middleware.SchoolScopeFrom(c); ok {
		filter.SchoolID = scope
	}
	devices, pagination, err := h.devices.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, devices, pagination)
}

// Get godoc
// @Summary Get one device
// @Tags Devices
// @Produce json
// @Param id path string true "Device ID"
// @Success 200 {object} response.Envelope
// @Router /devices/{id} [get]
func (h *DeviceHandler) Get(c *gin.Context) {
	device, err := h.devices.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if scope, ok := middleware.SchoolScopeFrom(c); ok {
		if device.SchoolID == nil || *device.SchoolID != scope {
			response.Error(c, appErrors.ErrForbidden)
			return
		}
	}
	response.JSON(c, http.StatusOK, device, nil)
}

// Create godoc
// @Summary Register a device
// @Tags Devices
// @Accept json
// @Produce json
// @Param payload body service.CreateDeviceRequest true "Device payload"
// @Success 201 {object} response.Envelope
// @Router /devices [post]
func (h *DeviceHandler) Create(c *gin.Context) {
	var req service.CreateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	device, err := h.devices.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, device)
}

// Update godoc
// @Summary Update a device
// @Tags Devices
// @Accept json
// @Produce json
// @Param id path string true "Device ID"
// @Param payload body service.UpdateDeviceRequest true "Patch payload"
// @Success 200 {object} response.Envelope
// @Router /devices/{id} [put]
func (h *DeviceHandler) Update(c *gin.Context) {
	var req service.UpdateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	device, err := h.devices.Update(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, device, nil)
}

// Delete godoc
// @Summary Delete a device
// @Tags Devices
// @Produce json
// @Param id path string true "Device ID"
// @Success 204
// @Router /devices/{id} [delete]
func (h *DeviceHandler) Delete(c *gin.Context) {
	if err := h.devices.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
