// Package webhook serves the public endpoints landing pages and campaign
// emails call back into.
package webhook

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"landflow/internal/automation"
	"landflow/internal/mailer"
	"landflow/internal/models"
	"landflow/internal/store"
	pub "landflow/pkg/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Triggerer interface {
	TriggerAutomations(ctx context.Context, trigger string, leadID, clientID uint)
}

type LeadNotifier interface {
	NotifyLead(ev pub.LeadEvent)
}

type Handler struct {
	store    *store.Store
	engine   Triggerer
	notifier LeadNotifier
	logger   *zap.Logger
}

func NewHandler(s *store.Store, engine Triggerer, notifier LeadNotifier, logger *zap.Logger) *Handler {
	return &Handler{
		store:    s,
		engine:   engine,
		notifier: notifier,
		logger:   logger.With(zap.String("module", "webhook")),
	}
}

// Register mounts the unauthenticated routes under /public.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/public")
	g.POST("/:clientId/leads", h.CaptureLead)
	g.GET("/track/click", h.TrackClick)
}

// CaptureLead stores a landing-page submission. A new address raises
// new_lead then form_submit; a known one only form_submit, plus
// lead_score_change when the submission carries score.
func (h *Handler) CaptureLead(c *gin.Context) {
	clientID, err := strconv.ParseUint(c.Param("clientId"), 10, 64)
	if err != nil || clientID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client"})
		return
	}

	var payload pub.LeadCapturePayload
	if err := c.ShouldBind(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	tenant := uint(clientID)
	if _, err := h.store.GetClientByID(ctx, tenant); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown client"})
			return
		}
		h.logger.Error("load client", zap.Uint("client_id", tenant), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "temporarily unavailable"})
		return
	}

	var (
		lead     *models.Lead
		created  bool
		triggers []string
	)
	lead, err = h.store.FindLeadByEmail(ctx, tenant, payload.Email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		lead = &models.Lead{
			ClientID: tenant,
			Email:    strings.TrimSpace(payload.Email),
			Name:     payload.Name,
			Company:  payload.Company,
			Phone:    payload.Phone,
			Source:   payload.Page,
			Score:    payload.Score,
		}
		if err := h.store.CreateLead(ctx, lead); err != nil {
			h.logger.Error("create lead", zap.Uint("client_id", tenant), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save lead"})
			return
		}
		created = true
		triggers = []string{automation.TriggerNewLead, automation.TriggerFormSubmit}
	case err != nil:
		h.logger.Error("find lead", zap.Uint("client_id", tenant), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save lead"})
		return
	default:
		triggers = []string{automation.TriggerFormSubmit}
		patch := fillBlanks(lead, payload)
		if payload.Score > 0 {
			patch["score"] = lead.Score + payload.Score
			triggers = append(triggers, automation.TriggerLeadScoreChange)
		}
		if len(patch) > 0 {
			if err := h.store.UpdateLead(ctx, lead.ID, patch); err != nil {
				h.logger.Error("update lead", zap.Uint("lead_id", lead.ID), zap.Error(err))
			}
		}
	}

	h.logger.Info("lead captured",
		zap.Uint("client_id", tenant),
		zap.Uint("lead_id", lead.ID),
		zap.String("email", mailer.MaskAddress(lead.Email)),
		zap.Bool("created", created))

	h.raise(ctx, lead.ID, tenant, triggers...)
	if h.notifier != nil {
		h.notifier.NotifyLead(pub.LeadEvent{LeadID: lead.ID, ClientID: tenant, Page: payload.Page, Created: created})
	}

	status := http.StatusOK
	msg := "Thanks, you're already on our list"
	if created {
		status = http.StatusCreated
		msg = "Thanks for signing up"
	}
	c.JSON(status, pub.LeadCaptureResponse{LeadID: lead.ID, Created: created, Message: msg})
}

// TrackClick raises campaign_click and redirects to the target. The
// redirect happens even when the lead cannot be resolved.
func (h *Handler) TrackClick(c *gin.Context) {
	var q pub.ClickQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !strings.HasPrefix(q.URL, "http://") && !strings.HasPrefix(q.URL, "https://") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported redirect target"})
		return
	}

	lead, err := h.store.GetLeadByID(c.Request.Context(), q.LeadID)
	if err == nil && lead.ClientID == q.ClientID {
		h.raise(c.Request.Context(), lead.ID, q.ClientID, automation.TriggerCampaignClick)
	} else {
		h.logger.Debug("click for unknown lead", zap.Uint("lead_id", q.LeadID), zap.Uint("client_id", q.ClientID))
	}

	c.Redirect(http.StatusFound, q.URL)
}

// raise runs triggers in order on a detached goroutine.
func (h *Handler) raise(ctx context.Context, leadID, clientID uint, triggers ...string) {
	if h.engine == nil || len(triggers) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		for _, t := range triggers {
			h.engine.TriggerAutomations(ctx, t, leadID, clientID)
		}
	}()
}

func fillBlanks(lead *models.Lead, p pub.LeadCapturePayload) map[string]interface{} {
	patch := map[string]interface{}{}
	if lead.Name == "" && p.Name != "" {
		patch["name"] = p.Name
	}
	if lead.Company == "" && p.Company != "" {
		patch["company"] = p.Company
	}
	if lead.Phone == "" && p.Phone != "" {
		patch["phone"] = p.Phone
	}
	return patch
}
