package api

import (
	"context"
	"net/http"

	"landflow/internal/automation"
	"landflow/internal/mailer"
	"landflow/internal/models"
	"landflow/internal/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// BulkSender is the subset of *mailer.Sender used for manual sends.
type BulkSender interface {
	SendBulkEmails(ctx context.Context, recipients []mailer.Recipient, subject, htmlBody string, clientID uint) []mailer.Result
}

type EmailHandler struct {
	store  *store.Store
	sender BulkSender
	logger *zap.Logger
}

func NewEmailHandler(s *store.Store, sender BulkSender, logger *zap.Logger) *EmailHandler {
	return &EmailHandler{store: s, sender: sender, logger: logger}
}

func (h *EmailHandler) GetEmails(c *gin.Context) {
	emails, err := h.store.GetEmails(c.Request.Context(), clientID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if emails == nil {
		emails = []models.Email{}
	}
	c.JSON(http.StatusOK, emails)
}

type EmailRequest struct {
	Name     string `json:"name"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
}

func (h *EmailHandler) CreateEmail(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" || req.Subject == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and subject are required"})
		return
	}

	email := models.Email{
		ClientID: clientID(c),
		Name:     req.Name,
		Subject:  req.Subject,
		HTMLBody: req.HTMLBody,
	}
	if err := h.store.CreateEmail(c.Request.Context(), &email); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, email)
}

func (h *EmailHandler) UpdateEmail(c *gin.Context) {
	email, ok := h.load(c)
	if !ok {
		return
	}

	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	patch := map[string]interface{}{}
	if req.Name != "" {
		patch["name"] = req.Name
	}
	if req.Subject != "" {
		patch["subject"] = req.Subject
	}
	if req.HTMLBody != "" {
		patch["html_body"] = req.HTMLBody
	}
	if len(patch) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	if err := h.store.UpdateEmail(c.Request.Context(), email.ID, patch); err != nil {
		storeError(c, err, "email")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email updated successfully"})
}

func (h *EmailHandler) DeleteEmail(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.store.DeleteEmail(c.Request.Context(), clientID(c), id); err != nil {
		storeError(c, err, "email")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Email deleted successfully"})
}

type SendEmailRequest struct {
	LeadIDs []uint `json:"lead_ids" binding:"required,min=1"`
}

// SendEmail sends the template to the given leads right away.
func (h *EmailHandler) SendEmail(c *gin.Context) {
	email, ok := h.load(c)
	if !ok {
		return
	}

	var req SendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	tenant := clientID(c)
	var recipients []mailer.Recipient
	skipped := 0
	for _, id := range req.LeadIDs {
		lead, err := h.store.GetLeadByID(ctx, id)
		if err != nil || lead.ClientID != tenant {
			skipped++
			continue
		}
		recipients = append(recipients, mailer.Recipient{
			Email:     lead.Email,
			Variables: automation.LeadVariables(lead),
		})
	}

	results := h.sender.SendBulkEmails(ctx, recipients, email.Subject, email.HTMLBody, tenant)
	sent := 0
	for _, r := range results {
		if r.Status == mailer.StatusSent {
			sent++
		}
	}
	h.logger.Info("manual send processed",
		zap.Uint("email_id", email.ID),
		zap.Int("sent", sent),
		zap.Int("total", len(req.LeadIDs)))

	c.JSON(http.StatusOK, gin.H{
		"status":  "Send processed",
		"sent_to": sent,
		"skipped": skipped,
		"total":   len(req.LeadIDs),
		"results": results,
	})
}

func (h *EmailHandler) load(c *gin.Context) (*models.Email, bool) {
	id, ok := paramID(c)
	if !ok {
		return nil, false
	}
	email, err := h.store.GetEmailByID(c.Request.Context(), id)
	if err == nil && email.ClientID != clientID(c) {
		err = store.ErrNotFound
	}
	if err != nil {
		storeError(c, err, "email")
		return nil, false
	}
	return email, true
}
