package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"rental-portal/internal/auth"
	"rental-portal/internal/cleanup"
	"rental-portal/internal/database"
	"rental-portal/internal/models"
	"rental-portal/internal/ratelimit"
)

// HistoryReader reads persisted import history
type HistoryReader interface {
	GetImportLogs(ctx context.Context, tenantID string, limit int) ([]models.ImportLog, error)
	GetImportStats(ctx context.Context, tenantID string) (*database.ImportStats, error)
}

// TaskRunner triggers scheduled maintenance by name
type TaskRunner interface {
	RunNow(name string) error
}

// LogPurger removes old import history
type LogPurger interface {
	PurgeImportLogs(ctx context.Context, config cleanup.CleanupConfig) (*cleanup.CleanupResult, error)
}

// AdminHandler handles admin-related requests
type AdminHandler struct {
	history   HistoryReader
	limiter   *ratelimit.RateLimiter
	scheduler TaskRunner
	cleanup   LogPurger
	logger    *slog.Logger
}

// NewAdminHandler creates a new admin handler. limiter, scheduler and purger may be nil.
func NewAdminHandler(history HistoryReader, limiter *ratelimit.RateLimiter, sched TaskRunner, purger LogPurger, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		history:   history,
		limiter:   limiter,
		scheduler: sched,
		cleanup:   purger,
		logger:    logger,
	}
}

// GetImports returns the tenant's import history
func (h *AdminHandler) GetImports(c *gin.Context) {
	limit := queryInt(c, "limit", 50)

	logs, err := h.history.GetImportLogs(c.Request.Context(), auth.TenantID(c), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"imports": logs,
		"count":   len(logs),
	})
}

// GetStats returns aggregate import statistics for the tenant
func (h *AdminHandler) GetStats(c *gin.Context) {
	tenantID := auth.TenantID(c)
	stats, err := h.history.GetImportStats(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"imports": stats}
	if h.limiter != nil {
		resp["rate_limit"] = h.limiter.GetStats(tenantID)
	}
	c.JSON(http.StatusOK, resp)
}

// ResetRateLimit clears the calling tenant's request windows
func (h *AdminHandler) ResetRateLimit(c *gin.Context) {
	if h.limiter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Rate limiter not available"})
		return
	}

	tenantID := auth.TenantID(c)
	h.limiter.Reset(tenantID)
	h.logger.Info("rate limit reset", "tenant_id", tenantID)
	c.JSON(http.StatusOK, gin.H{"rate_limit": h.limiter.GetStats(tenantID)})
}

// TriggerTask runs a scheduled task immediately
func (h *AdminHandler) TriggerTask(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler not available"})
		return
	}

	name := c.Param("task")
	h.logger.Info("manual task trigger requested", "task", name)

	if err := h.scheduler.RunNow(name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": name, "status": "completed"})
}

// RunCleanup deletes import history older than the retention period
func (h *AdminHandler) RunCleanup(c *gin.Context) {
	if h.cleanup == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Cleanup not available"})
		return
	}

	var req struct {
		RetentionDays    int   `json:"retention_days"`
		MaxDeletionCount int64 `json:"max_deletion_count"`
		DryRun           *bool `json:"dry_run"` // defaults to true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	config := cleanup.DefaultCleanupConfig()
	if req.RetentionDays > 0 {
		config.RetentionDays = req.RetentionDays
	}
	if req.MaxDeletionCount > 0 {
		config.MaxDeletionCount = req.MaxDeletionCount
	}
	config.DryRun = req.DryRun == nil || *req.DryRun

	result, err := h.cleanup.PurgeImportLogs(c.Request.Context(), config)
	if err != nil {
		h.logger.Error("cleanup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}
