package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edutech-rw/asset-api/internal/service"
	"github.com/edutech-rw/asset-api/pkg/response"
)

// AnalyticsHandler exposes fleet rollups and inventory export.
type AnalyticsHandler struct {
	analytics *service.AnalyticsService
}

func NewAnalyticsHandler(analytics *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// CategoryDistribution godoc
// @Summary Device counts grouped by category
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /analytics/categories [get]
func (h *AnalyticsHandler) CategoryDistribution(c *gin.Context) {
	rows, err := h.analytics.CategoryDistribution(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// Utilization godoc
// @Summary Active share of the device fleet
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /analytics/utilization [get]
func (h *AnalyticsHandler) Utilization(c *gin.Context) {
	summary, err := h.analytics.Utilization(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Depreciation godoc
// @Summary Straight-line depreciation over the fleet
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /analytics/depreciation [get]
func (h *AnalyticsHandler) Depreciation(c *gin.Context) {
	summary, err := h.analytics.Depreciation(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// AgeBuckets godoc
// @Summary Device counts grouped by age bracket
// @Tags Analytics
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /analytics/age [get]
func (h *AnalyticsHandler) AgeBuckets(c *gin.Context) {
	rows, err := h.analytics.AgeBuckets(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// ExportInventory godoc
// @Summary Export the device inventory as CSV or PDF
// @Tags Analytics
// @Produce application/octet-stream
// @Param format query string false "csv or pdf" default(csv)
// @Success 200
// @Router /analytics/export [get]
func (h *AnalyticsHandler) ExportInventory(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", string(service.FormatCSV)))
	data, contentType, err := h.analytics.InventoryExport(c.Request.Context(), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("inventory-%s.%s", time.Now().Format("2006-01-02"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, data)
}
