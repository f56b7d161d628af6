package api

import (
	"net/http"
	"strconv"
	"time"

	"landflow/internal/models"
	"landflow/internal/store"

	"github.com/gin-gonic/gin"
)

// HealthReporter is implemented by *automation.Scheduler.
type HealthReporter interface {
	IsHealthy() bool
	LastRunAt() time.Time
}

type DashboardHandler struct {
	store     *store.Store
	scheduler HealthReporter
}

func NewDashboardHandler(s *store.Store, scheduler HealthReporter) *DashboardHandler {
	return &DashboardHandler{store: s, scheduler: scheduler}
}

func (h *DashboardHandler) GetSummary(c *gin.Context) {
	sum, err := h.store.GetSummary(c.Request.Context(), clientID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// GetTasks lists the tenant's scheduled tasks, optionally by ?status=
func (h *DashboardHandler) GetTasks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	tasks, err := h.store.GetClientTasks(c.Request.Context(), clientID(c), c.Query("status"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tasks == nil {
		tasks = []models.ScheduledTask{}
	}
	c.JSON(http.StatusOK, tasks)
}

// GetHealth reports scheduler liveness. It is not tenant scoped.
func (h *DashboardHandler) GetHealth(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "scheduler": "disabled"})
		return
	}

	status := http.StatusOK
	body := gin.H{"status": "ok", "scheduler": "running"}
	if !h.scheduler.IsHealthy() {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	if last := h.scheduler.LastRunAt(); !last.IsZero() {
		body["last_poll_at"] = last.UTC().Format(time.RFC3339)
	}
	c.JSON(status, body)
}
