package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"rental-portal/internal/auth"
	"rental-portal/internal/calendar"
	"rental-portal/internal/database"
	"rental-portal/internal/models"
)

// CalendarConfigurer attaches calendar feeds to properties
type CalendarConfigurer interface {
	Configure(ctx context.Context, tenantID string, req calendar.Request) (*models.CalendarSync, error)
	List(ctx context.Context, tenantID, propertyID string) ([]models.CalendarSync, error)
}

// CalendarHandler handles calendar sync requests
type CalendarHandler struct {
	calendars CalendarConfigurer
	logger    *slog.Logger
}

func NewCalendarHandler(calendars CalendarConfigurer, logger *slog.Logger) *CalendarHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CalendarHandler{calendars: calendars, logger: logger}
}

// ConfigureSync attaches an iCal feed to one of the tenant's properties
func (h *CalendarHandler) ConfigureSync(c *gin.Context) {
	var req calendar.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sync, err := h.calendars.Configure(c.Request.Context(), auth.TenantID(c), req)
	switch {
	case errors.Is(err, calendar.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, database.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "property not found"})
		return
	case err != nil:
		h.logger.Error("failed to configure calendar sync", "property_id", req.PropertyID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to configure calendar sync"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sync": sync})
}

// ListSyncs returns the feeds attached to a property
func (h *CalendarHandler) ListSyncs(c *gin.Context) {
	syncs, err := h.calendars.List(c.Request.Context(), auth.TenantID(c), c.Query("propertyId"))
	if errors.Is(err, calendar.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("failed to list calendar syncs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list calendar syncs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"syncs": syncs, "count": len(syncs)})
}
