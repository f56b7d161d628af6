// Package api exposes the tenant admin REST surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"landflow/internal/store"

	"github.com/gin-gonic/gin"
)

const ClientIDHeader = "X-Client-ID"

const clientIDKey = "client_id"

// Triggerer raises automation triggers. *automation.Engine implements it.
type Triggerer interface {
	TriggerAutomations(ctx context.Context, trigger string, leadID, clientID uint)
}

// RequireClient reads the tenant id from the X-Client-ID header.
func RequireClient() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.GetHeader(ClientIDHeader), 10, 64)
		if err != nil || id == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + ClientIDHeader + " header"})
			return
		}
		c.Set(clientIDKey, uint(id))
		c.Next()
	}
}

func clientID(c *gin.Context) uint {
	return c.GetUint(clientIDKey)
}

func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// fire runs the trigger off the request path. The request context is
// detached so the trigger outlives the response.
func fire(ctx context.Context, t Triggerer, trigger string, leadID, clientID uint) {
	if t == nil {
		return
	}
	go t.TriggerAutomations(context.WithoutCancel(ctx), trigger, leadID, clientID)
}

func storeError(c *gin.Context, err error, what string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// Handlers bundles the admin API handlers for route registration.
type Handlers struct {
	Automations *AutomationHandler
	Leads       *LeadHandler
	Emails      *EmailHandler
	Dashboard   *DashboardHandler
}

// Register mounts the tenant-scoped API under /api.
func (h Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Dashboard.GetHealth)

	api := r.Group("/api", RequireClient())
	{
		api.GET("/automations", h.Automations.GetAutomations)
		api.POST("/automations", h.Automations.CreateAutomation)
		api.GET("/automations/:id", h.Automations.GetAutomation)
		api.PUT("/automations/:id", h.Automations.UpdateAutomation)
		api.DELETE("/automations/:id", h.Automations.DeleteAutomation)
		api.POST("/automations/:id/status", h.Automations.SetStatus)
		api.GET("/automations/:id/logs", h.Automations.GetLogs)
		api.GET("/automation/analytics", h.Automations.GetAnalytics)

		api.GET("/leads", h.Leads.GetLeads)
		api.POST("/leads", h.Leads.CreateLead)
		api.GET("/leads/export", h.Leads.ExportLeads)
		api.PUT("/leads/:id", h.Leads.UpdateLead)
		api.DELETE("/leads/:id", h.Leads.DeleteLead)

		api.GET("/emails", h.Emails.GetEmails)
		api.POST("/emails", h.Emails.CreateEmail)
		api.PUT("/emails/:id", h.Emails.UpdateEmail)
		api.DELETE("/emails/:id", h.Emails.DeleteEmail)
		api.POST("/emails/:id/send", h.Emails.SendEmail)

		api.GET("/tasks", h.Dashboard.GetTasks)
		api.GET("/dashboard", h.Dashboard.GetSummary)
	}
}
