package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"rental-portal/internal/importer"
)

// HistoryRecorder keeps a durable record of finished jobs
type HistoryRecorder interface {
	RecordImport(ctx context.Context, job importer.ImportJob) error
}

// Service starts jobs in the background and answers status polls
type Service struct {
	store   Store
	runner  *importer.Runner
	history HistoryRecorder
	logger  *slog.Logger
	maxJob  time.Duration
	now     func() time.Time
	newID   func() string

	mu      sync.Mutex
	done    map[string]chan struct{}
	running sync.WaitGroup
}

// NewService wires a store and a runner. history may be nil.
func NewService(store Store, runner *importer.Runner, history HistoryRecorder, maxJob time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		runner:  runner,
		history: history,
		logger:  logger,
		maxJob:  maxJob,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
		done:    make(map[string]chan struct{}),
	}
}

// StartBatch reserves a job for the tenant and runs the batch in the background
func (s *Service) StartBatch(ctx context.Context, tenantID string, raw []byte) (importer.ImportJob, error) {
	return s.start(ctx, tenantID, importer.JobKindBatch, func(runCtx context.Context, job importer.ImportJob) importer.ImportJob {
		return s.runner.RunBatch(runCtx, job, raw, s.publisher())
	})
}

// StartListing reserves a job for the tenant and imports one external listing
func (s *Service) StartListing(ctx context.Context, tenantID, listingURL string) (importer.ImportJob, error) {
	return s.start(ctx, tenantID, importer.JobKindListing, func(runCtx context.Context, job importer.ImportJob) importer.ImportJob {
		return s.runner.RunListing(runCtx, job, listingURL, s.publisher())
	})
}

type runFunc func(ctx context.Context, job importer.ImportJob) importer.ImportJob

func (s *Service) start(ctx context.Context, tenantID string, kind importer.JobKind, run runFunc) (importer.ImportJob, error) {
	job := importer.NewJob(s.newID(), tenantID, kind, s.now())
	if err := s.store.Reserve(ctx, job); err != nil {
		return importer.ImportJob{}, err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.done[job.ID] = done
	s.mu.Unlock()

	log := s.logger.With("job_id", job.ID, "tenant_id", tenantID, "kind", kind)
	log.Info("import started")

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer func() {
			s.mu.Lock()
			delete(s.done, job.ID)
			s.mu.Unlock()
			close(done)
		}()

		// the job outlives the request that started it
		runCtx, cancel := context.WithTimeout(context.Background(), s.maxJob)
		defer cancel()

		final := run(runCtx, job)
		s.recordHistory(final, log)
	}()

	return job.Clone(), nil
}

func (s *Service) publisher() importer.PublishFunc {
	return func(job importer.ImportJob) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Save(ctx, job); err != nil {
			s.logger.Error("failed to publish job snapshot", "job_id", job.ID, "error", err)
		}
	}
}

func (s *Service) recordHistory(job importer.ImportJob, log *slog.Logger) {
	log.Info("import finished",
		"stage", job.Stage,
		"completed", job.CompletedCount,
		"failed", job.FailedCount,
		"skipped", job.SkippedCount)

	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.history.RecordImport(ctx, job); err != nil {
		log.Warn("failed to record import history", "error", err)
	}
}

// Status returns the latest snapshot of a tenant's job
func (s *Service) Status(ctx context.Context, tenantID, jobID string) (importer.ImportJob, error) {
	return s.store.Get(ctx, tenantID, jobID)
}

// Latest returns the snapshot of the tenant's most recent job, running or
// finished within the retention window
func (s *Service) Latest(ctx context.Context, tenantID string) (importer.ImportJob, error) {
	return s.store.Latest(ctx, tenantID)
}

// IsComplete reports whether the job reached a terminal stage
func (s *Service) IsComplete(ctx context.Context, tenantID, jobID string) (bool, error) {
	job, err := s.store.Get(ctx, tenantID, jobID)
	if err != nil {
		return false, err
	}
	return job.IsComplete(), nil
}

// Wait blocks until the job finishes, the timeout passes or ctx is done, then
// returns the latest snapshot.
func (s *Service) Wait(ctx context.Context, tenantID, jobID string, timeout time.Duration) (importer.ImportJob, error) {
	s.mu.Lock()
	done, running := s.done[jobID]
	s.mu.Unlock()

	if running && timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
		case <-ctx.Done():
		}
	}
	return s.store.Get(ctx, tenantID, jobID)
}

// Sweep removes expired jobs from the store
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.store.Sweep(ctx)
}

// Shutdown waits for running jobs until ctx is done
func (s *Service) Shutdown(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		s.running.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
