package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/gin-gonic/gin"

	"rental-portal/internal/auth"
	"rental-portal/internal/importer"
	"rental-portal/internal/progress"
	"rental-portal/internal/scraper"
)

// JobService starts imports and reports their progress
type JobService interface {
	StartBatch(ctx context.Context, tenantID string, raw []byte) (importer.ImportJob, error)
	StartListing(ctx context.Context, tenantID, listingURL string) (importer.ImportJob, error)
	Status(ctx context.Context, tenantID, jobID string) (importer.ImportJob, error)
	Latest(ctx context.Context, tenantID string) (importer.ImportJob, error)
	Wait(ctx context.Context, tenantID, jobID string, timeout time.Duration) (importer.ImportJob, error)
}

// URLClassifier checks that a URL points at a supported listing page
type URLClassifier interface {
	Classify(rawURL string) (scraper.ListingURL, error)
}

var (
	errTooLarge      = errors.New("file too large")
	errEmptyDocument = errors.New("document is empty")
)

// ImportHandler serves the import endpoints
type ImportHandler struct {
	jobs       JobService
	validator  *importer.Validator
	classifier URLClassifier
	maxBytes   int64
	syncWait   time.Duration
	logger     *slog.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(jobs JobService, validator *importer.Validator, classifier URLClassifier, maxBytes int64, syncWait time.Duration, logger *slog.Logger) *ImportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImportHandler{
		jobs:       jobs,
		validator:  validator,
		classifier: classifier,
		maxBytes:   maxBytes,
		syncWait:   syncWait,
		logger:     logger,
	}
}

// Validate checks a batch document without importing it
func (h *ImportHandler) Validate(c *gin.Context) {
	raw, err := h.readDocument(c)
	// an empty document is reported by the validator like any other bad batch
	if err != nil && !errors.Is(err, errEmptyDocument) {
		h.documentError(c, err)
		return
	}

	result := h.validator.Validate(raw)
	if result.Valid {
		c.JSON(http.StatusOK, gin.H{"valid": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": false, "errors": result.Errors})
}

// StartImport starts a batch import for the caller's tenant
func (h *ImportHandler) StartImport(c *gin.Context) {
	raw, err := h.readDocument(c)
	if err != nil {
		h.documentError(c, err)
		return
	}

	tenantID := auth.TenantID(c)
	job, err := h.jobs.StartBatch(c.Request.Context(), tenantID, raw)
	if err != nil {
		h.startError(c, err)
		return
	}
	h.respondStarted(c, tenantID, job)
}

// StartURLImport imports one external listing for the caller's tenant
func (h *ImportHandler) StartURLImport(c *gin.Context) {
	var req struct {
		URL string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	listing, err := h.classifier.Classify(req.URL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenantID := auth.TenantID(c)
	job, err := h.jobs.StartListing(c.Request.Context(), tenantID, listing.Canonical)
	if err != nil {
		h.startError(c, err)
		return
	}
	h.respondStarted(c, tenantID, job)
}

// GetStatus returns the latest snapshot of the tenant's import. jobId narrows
// the lookup to one job.
func (h *ImportHandler) GetStatus(c *gin.Context) {
	tenantID := auth.TenantID(c)
	jobID := c.Query("jobId")

	var (
		job importer.ImportJob
		err error
	)
	if jobID == "" {
		job, err = h.jobs.Latest(c.Request.Context(), tenantID)
	} else {
		job, err = h.jobs.Status(c.Request.Context(), tenantID, jobID)
	}
	if errors.Is(err, progress.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no import is being tracked"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load import status", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load import status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"progress": job})
}

// respondStarted waits briefly so small imports answer synchronously
func (h *ImportHandler) respondStarted(c *gin.Context, tenantID string, job importer.ImportJob) {
	if h.syncWait > 0 {
		latest, err := h.jobs.Wait(c.Request.Context(), tenantID, job.ID, h.syncWait)
		if err == nil {
			job = latest
		}
	}

	if job.IsComplete() {
		c.JSON(http.StatusOK, gin.H{"completed": true, "jobId": job.ID, "result": job})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"completed": false, "jobId": job.ID})
}

func (h *ImportHandler) startError(c *gin.Context, err error) {
	if errors.Is(err, progress.ErrConflict) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	h.logger.Error("failed to start import", "tenant_id", auth.TenantID(c), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start import"})
}

func (h *ImportHandler) documentError(c *gin.Context, err error) {
	if errors.Is(err, errTooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// readDocument reads the batch from a multipart "file" field or the raw body
func (h *ImportHandler) readDocument(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		header, err := c.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("file is required")
		}
		if !strings.EqualFold(filepath.Ext(header.Filename), ".json") {
			return nil, fmt.Errorf("file must be a .json document")
		}
		if header.Size > h.maxBytes {
			return nil, h.tooLarge()
		}
		f, err := header.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		defer f.Close()
		return h.readLimited(f)
	}

	if c.Request.ContentLength > h.maxBytes {
		return nil, h.tooLarge()
	}
	return h.readLimited(c.Request.Body)
}

func (h *ImportHandler) readLimited(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(io.LimitReader(r, h.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	if int64(len(raw)) > h.maxBytes {
		return nil, h.tooLarge()
	}
	if len(raw) == 0 {
		return nil, errEmptyDocument
	}
	return raw, nil
}

func (h *ImportHandler) tooLarge() error {
	return fmt.Errorf("%w: limit is %s", errTooLarge, units.BytesSize(float64(h.maxBytes)))
}
