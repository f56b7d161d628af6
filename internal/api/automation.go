package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"landflow/internal/automation"
	"landflow/internal/models"
	"landflow/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AutomationHandler struct {
	store  *store.Store
	logger *zap.Logger
}

func NewAutomationHandler(s *store.Store, logger *zap.Logger) *AutomationHandler {
	return &AutomationHandler{store: s, logger: logger}
}

var validStatuses = map[string]bool{
	models.AutomationActive:   true,
	models.AutomationPaused:   true,
	models.AutomationInactive: true,
	models.AutomationDraft:    true,
}

// GetAutomations returns the tenant's automations, optionally by ?status=
func (h *AutomationHandler) GetAutomations(c *gin.Context) {
	automations, err := h.store.GetAutomations(c.Request.Context(), clientID(c), c.Query("status"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if automations == nil {
		automations = []models.Automation{}
	}
	c.JSON(http.StatusOK, automations)
}

func (h *AutomationHandler) GetAutomation(c *gin.Context) {
	a, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, a)
}

type automationRequest struct {
	Name       string          `json:"name"`
	Trigger    string          `json:"trigger"`
	Status     string          `json:"status"`
	Conditions json.RawMessage `json:"conditions"`
	Actions    json.RawMessage `json:"actions"`
}

// CreateAutomation stores a new automation. Actions are parsed up front so
// a broken definition is rejected here rather than at trigger time.
func (h *AutomationHandler) CreateAutomation(c *gin.Context) {
	var req automationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if !automation.ValidTrigger(req.Trigger) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown trigger: " + req.Trigger})
		return
	}
	if req.Status == "" {
		req.Status = models.AutomationDraft
	}
	if !validStatuses[req.Status] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + req.Status})
		return
	}
	actions, ok := validActions(c, req.Actions)
	if !ok {
		return
	}

	a := models.Automation{
		ClientID:   clientID(c),
		Name:       req.Name,
		Trigger:    req.Trigger,
		Status:     req.Status,
		Conditions: string(req.Conditions),
		Actions:    actions,
	}
	if err := h.store.CreateAutomation(c.Request.Context(), &a); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, a)
}

// UpdateAutomation applies a partial update. Actions of an active
// automation cannot change until it is paused.
func (h *AutomationHandler) UpdateAutomation(c *gin.Context) {
	a, ok := h.load(c)
	if !ok {
		return
	}

	var req automationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	patch := map[string]interface{}{}
	if req.Name != "" {
		patch["name"] = req.Name
	}
	if req.Trigger != "" {
		if !automation.ValidTrigger(req.Trigger) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown trigger: " + req.Trigger})
			return
		}
		patch["trigger"] = req.Trigger
	}
	if req.Status != "" {
		if !validStatuses[req.Status] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + req.Status})
			return
		}
		patch["status"] = req.Status
	}
	if len(req.Conditions) > 0 {
		patch["conditions"] = string(req.Conditions)
	}
	if len(req.Actions) > 0 {
		if a.Status == models.AutomationActive {
			c.JSON(http.StatusConflict, gin.H{"error": "pause the automation before editing its actions"})
			return
		}
		actions, ok := validActions(c, req.Actions)
		if !ok {
			return
		}
		patch["actions"] = actions
	}
	if len(patch) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	if err := h.store.UpdateAutomation(c.Request.Context(), a.ID, patch); err != nil {
		storeError(c, err, "automation")
		return
	}
	h.respondFresh(c, a.ID)
}

// DeleteAutomation soft-disables the automation. Rows stay so scheduled
// tasks and logs keep their reference.
func (h *AutomationHandler) DeleteAutomation(c *gin.Context) {
	a, ok := h.load(c)
	if !ok {
		return
	}
	if err := h.store.UpdateAutomation(c.Request.Context(), a.ID, map[string]interface{}{"status": models.AutomationInactive}); err != nil {
		storeError(c, err, "automation")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Automation disabled"})
}

// SetStatus switches between active, paused, inactive and draft.
func (h *AutomationHandler) SetStatus(c *gin.Context) {
	a, ok := h.load(c)
	if !ok {
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validStatuses[req.Status] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + req.Status})
		return
	}
	if req.Status == models.AutomationActive {
		// refuse to activate something the executor would reject
		if _, err := automation.ParseActions(a.Actions); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
	}

	if err := h.store.UpdateAutomation(c.Request.Context(), a.ID, map[string]interface{}{"status": req.Status}); err != nil {
		storeError(c, err, "automation")
		return
	}
	h.logger.Info("automation status changed",
		zap.Uint("automation_id", a.ID),
		zap.String("from", a.Status),
		zap.String("to", req.Status))
	h.respondFresh(c, a.ID)
}

// GetLogs returns the automation's execution log, newest first.
func (h *AutomationHandler) GetLogs(c *gin.Context) {
	a, ok := h.load(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	logs, err := h.store.GetAutomationLogs(c.Request.Context(), a.ClientID, a.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if logs == nil {
		logs = []models.AutomationLog{}
	}
	c.JSON(http.StatusOK, logs)
}

// GetAnalytics returns automation analytics for the tenant
func (h *AutomationHandler) GetAnalytics(c *gin.Context) {
	stats, err := h.store.GetAutomationAnalytics(c.Request.Context(), clientID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// load fetches :id and hides other tenants' rows behind a 404.
func (h *AutomationHandler) load(c *gin.Context) (*models.Automation, bool) {
	id, ok := paramID(c)
	if !ok {
		return nil, false
	}
	a, err := h.store.GetAutomationByID(c.Request.Context(), id)
	if err == nil && a.ClientID != clientID(c) {
		err = store.ErrNotFound
	}
	if err != nil {
		storeError(c, err, "automation")
		return nil, false
	}
	return a, true
}

func (h *AutomationHandler) respondFresh(c *gin.Context, id uint) {
	a, err := h.store.GetAutomationByID(c.Request.Context(), id)
	if err != nil {
		storeError(c, err, "automation")
		return
	}
	c.JSON(http.StatusOK, a)
}

func validActions(c *gin.Context, raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "[]", true
	}
	if _, err := automation.ParseActions(string(raw)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return string(raw), true
}
