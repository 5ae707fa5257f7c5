package scheduler

import (
	"context"
	"log/slog"

	"rental-portal/internal/cleanup"
)

// Task names
const (
	TaskSweepJobs       = "sweep_jobs"
	TaskSyncCalendars   = "sync_calendars"
	TaskPurgeImportLogs = "purge_import_logs"
	TaskPruneRateLimits = "prune_rate_limits"
)

type JobSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type CalendarSyncer interface {
	SyncDue(ctx context.Context) (synced, failed int, err error)
}

type LogPurger interface {
	PurgeImportLogs(ctx context.Context, config cleanup.CleanupConfig) (*cleanup.CleanupResult, error)
}

type Pruner interface {
	Prune() int
}

// SweepJobs drops expired job snapshots
func SweepJobs(sweeper JobSweeper, logger *slog.Logger) TaskFunc {
	return func(ctx context.Context) error {
		removed, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		if removed > 0 {
			logger.Debug("expired import jobs swept", "removed", removed)
		}
		return nil
	}
}

// SyncCalendars refreshes due calendar feeds
func SyncCalendars(syncer CalendarSyncer, logger *slog.Logger) TaskFunc {
	return func(ctx context.Context) error {
		synced, failed, err := syncer.SyncDue(ctx)
		if synced+failed > 0 {
			logger.Info("calendar feeds refreshed", "synced", synced, "failed", failed)
		}
		return err
	}
}

// PurgeImportLogs deletes import history past retention
func PurgeImportLogs(purger LogPurger, retentionDays int) TaskFunc {
	return func(ctx context.Context) error {
		config := cleanup.DefaultCleanupConfig()
		if retentionDays > 0 {
			config.RetentionDays = retentionDays
		}
		_, err := purger.PurgeImportLogs(ctx, config)
		return err
	}
}

// PruneRateLimits forgets idle rate limit windows
func PruneRateLimits(pruner Pruner) TaskFunc {
	return func(ctx context.Context) error {
		pruner.Prune()
		return nil
	}
}
