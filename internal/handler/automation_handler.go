package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edutech-rw/asset-api/internal/models"
	"github.com/edutech-rw/asset-api/internal/service"
	appErrors "github.com/edutech-rw/asset-api/pkg/errors"
	"github.com/edutech-rw/asset-api/pkg/response"
)

// AutomationHandler exposes the periodic maintenance routines.
type AutomationHandler struct {
	automation *service.AutomationService
	metrics    *service.MetricsService
}

func NewAutomationHandler(automation *service.AutomationService, metrics *service.MetricsService) *AutomationHandler {
	return &AutomationHandler{automation: automation, metrics: metrics}
}

// Rules godoc
// @Summary List automation rules
// @Tags Automation
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /automation/rules [get]
func (h *AutomationHandler) Rules(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.automation.Rules(), nil)
}

type toggleRuleRequest struct {
	Enabled bool `json:"enabled"`
}

// ToggleRule godoc
// @Summary Enable or disable one automation rule
// @Tags Automation
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param payload body toggleRuleRequest true "Toggle payload"
// @Success 200 {object} response.Envelope
// @Router /automation/rules/{id} [put]
func (h *AutomationHandler) ToggleRule(c *gin.Context) {
	var req toggleRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.automation.SetEnabled(c.Param("id"), req.Enabled); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, h.automation.Rules(), nil)
}

// RunRoutine godoc
// @Summary Run one automation routine immediately
// @Tags Automation
// @Produce json
// @Param routine path string true "Routine name"
// @Success 200 {object} response.Envelope
// @Router /automation/run/{routine} [post]
func (h *AutomationHandler) RunRoutine(c *gin.Context) {
	routine := models.AutomationRoutine(c.Param("routine"))
	result, err := h.automation.RunRoutine(c.Request.Context(), routine)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.metrics.RecordAutomationRun(string(result.Routine), result.Error == "")
	response.JSON(c, http.StatusOK, result, nil)
}
