package api

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"landflow/internal/automation"
	"landflow/internal/models"
	"landflow/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type LeadHandler struct {
	store   *store.Store
	trigger Triggerer
	logger  *zap.Logger
}

func NewLeadHandler(s *store.Store, trigger Triggerer, logger *zap.Logger) *LeadHandler {
	return &LeadHandler{store: s, trigger: trigger, logger: logger}
}

func (h *LeadHandler) GetLeads(c *gin.Context) {
	leads, err := h.store.GetLeads(c.Request.Context(), clientID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Return empty array instead of null
	if leads == nil {
		leads = []models.Lead{}
	}
	c.JSON(http.StatusOK, leads)
}

type CreateLeadRequest struct {
	Email   string `json:"email" binding:"required,email"`
	Name    string `json:"name"`
	Company string `json:"company"`
	Phone   string `json:"phone"`
	Source  string `json:"source"`
	Score   int    `json:"score"`
}

// CreateLead stores the lead and raises new_lead.
func (h *LeadHandler) CreateLead(c *gin.Context) {
	var req CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lead := models.Lead{
		ClientID: clientID(c),
		Email:    req.Email,
		Name:     req.Name,
		Company:  req.Company,
		Phone:    req.Phone,
		Source:   req.Source,
		Score:    req.Score,
	}
	if lead.Source == "" {
		lead.Source = "manual"
	}
	if err := h.store.CreateLead(c.Request.Context(), &lead); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create lead"})
		return
	}

	fire(c.Request.Context(), h.trigger, automation.TriggerNewLead, lead.ID, lead.ClientID)
	c.JSON(http.StatusCreated, lead)
}

type UpdateLeadRequest struct {
	Name    *string `json:"name"`
	Company *string `json:"company"`
	Phone   *string `json:"phone"`
	Score   *int    `json:"score"`
}

// UpdateLead applies a partial update. A score change raises
// lead_score_change.
func (h *LeadHandler) UpdateLead(c *gin.Context) {
	lead, ok := h.load(c)
	if !ok {
		return
	}

	var req UpdateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	patch := map[string]interface{}{}
	if req.Name != nil {
		patch["name"] = *req.Name
	}
	if req.Company != nil {
		patch["company"] = *req.Company
	}
	if req.Phone != nil {
		patch["phone"] = *req.Phone
	}
	scoreChanged := req.Score != nil && *req.Score != lead.Score
	if scoreChanged {
		patch["score"] = *req.Score
	}
	if len(patch) == 0 {
		c.JSON(http.StatusOK, lead)
		return
	}

	if err := h.store.UpdateLead(c.Request.Context(), lead.ID, patch); err != nil {
		storeError(c, err, "lead")
		return
	}
	if scoreChanged {
		h.logger.Debug("lead score changed", zap.Uint("lead_id", lead.ID), zap.Int("from", lead.Score), zap.Int("to", *req.Score))
		fire(c.Request.Context(), h.trigger, automation.TriggerLeadScoreChange, lead.ID, lead.ClientID)
	}

	updated, err := h.store.GetLeadByID(c.Request.Context(), lead.ID)
	if err != nil {
		storeError(c, err, "lead")
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *LeadHandler) DeleteLead(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.store.DeleteLead(c.Request.Context(), clientID(c), id); err != nil {
		storeError(c, err, "lead")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "Lead deleted"})
}

func (h *LeadHandler) ExportLeads(c *gin.Context) {
	leads, err := h.store.GetLeads(c.Request.Context(), clientID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=leads.csv")
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	w.Write([]string{"ID", "Email", "Name", "Company", "Phone", "Source", "Score", "Created At"})
	for _, l := range leads {
		w.Write([]string{
			strconv.FormatUint(uint64(l.ID), 10),
			l.Email,
			l.Name,
			l.Company,
			l.Phone,
			l.Source,
			strconv.Itoa(l.Score),
			l.CreatedAt.Format(time.RFC3339),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		h.logger.Error("write leads csv", zap.Error(err))
	}
}

func (h *LeadHandler) load(c *gin.Context) (*models.Lead, bool) {
	id, ok := paramID(c)
	if !ok {
		return nil, false
	}
	lead, err := h.store.GetLeadByID(c.Request.Context(), id)
	if err == nil && lead.ClientID != clientID(c) {
		err = store.ErrNotFound
	}
	if err != nil {
		storeError(c, err, "lead")
		return nil, false
	}
	return lead, true
}
