package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// LogStore is the import history the cleanup service prunes
type LogStore interface {
	CountImportLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteImportLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service handles deletion of old import history
type Service struct {
	store  LogStore
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a new cleanup service
func NewService(store LogStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// CleanupConfig holds configuration for cleanup operations
type CleanupConfig struct {
	RetentionDays    int   // Days to keep import logs (default: 90)
	MaxDeletionCount int64 // Safety limit for one run
	DryRun           bool  // Only count what would be deleted
}

// DefaultCleanupConfig returns default configuration
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		RetentionDays:    90,
		MaxDeletionCount: 100000,
	}
}

// CleanupResult holds the result of a cleanup operation
type CleanupResult struct {
	TargetCount  int64     `json:"target_count"`
	DeletedCount int64     `json:"deleted_count"`
	DryRun       bool      `json:"dry_run"`
	Cutoff       time.Time `json:"cutoff"`
	ExecutedAt   time.Time `json:"executed_at"`
}

// PurgeImportLogs deletes import logs that finished before the retention window
func (s *Service) PurgeImportLogs(ctx context.Context, config CleanupConfig) (*CleanupResult, error) {
	if config.RetentionDays <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", config.RetentionDays)
	}

	now := s.now().UTC()
	result := &CleanupResult{
		DryRun:     config.DryRun,
		Cutoff:     now.AddDate(0, 0, -config.RetentionDays),
		ExecutedAt: now,
	}

	target, err := s.store.CountImportLogsBefore(ctx, result.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to count expired import logs: %w", err)
	}
	result.TargetCount = target

	if target == 0 {
		s.logger.Debug("no expired import logs", "cutoff", result.Cutoff)
		return result, nil
	}

	// Safety check: abort if too many rows would be deleted
	if config.MaxDeletionCount > 0 && target > config.MaxDeletionCount {
		return nil, fmt.Errorf("safety check failed: %d import logs exceed max deletion limit of %d",
			target, config.MaxDeletionCount)
	}

	if config.DryRun {
		s.logger.Info("[DRY-RUN] would delete import logs", "count", target, "cutoff", result.Cutoff)
		return result, nil
	}

	deleted, err := s.store.DeleteImportLogsBefore(ctx, result.Cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to delete import logs: %w", err)
	}
	result.DeletedCount = deleted

	s.logger.Info("import log cleanup completed", "deleted", deleted, "retention_days", config.RetentionDays)
	return result, nil
}
