package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// TaskFunc is a unit of periodic maintenance
type TaskFunc func(ctx context.Context) error

type task struct {
	name    string
	spec    string
	timeout time.Duration
	run     TaskFunc
	entryID cron.EntryID
}

// Scheduler runs maintenance tasks on cron specs
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	baseCtx context.Context
	cancel  context.CancelFunc

	mu        sync.Mutex
	tasks     map[string]*task
	isRunning bool
}

// NewScheduler creates a new scheduler. Overlapping runs of the same task are skipped.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
		tasks:   make(map[string]*task),
	}
}

// AddTask registers fn under name. timeout bounds one run; zero means no bound.
func (s *Scheduler) AddTask(name, spec string, timeout time.Duration, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %q already registered", name)
	}

	t := &task{name: name, spec: spec, timeout: timeout, run: fn}
	id, err := s.cron.AddFunc(spec, func() { s.execute(t) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q for task %s: %w", spec, name, err)
	}
	t.entryID = id
	s.tasks[name] = t
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.cron.Start()
	s.isRunning = true
	s.logger.Info("scheduler started", "tasks", len(s.tasks))
}

// Stop stops the scheduler and waits for running tasks until ctx is done
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.cancel()
	}
	s.logger.Info("scheduler stopped")
}

// RunNow immediately executes a registered task (for manual trigger)
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	return s.execute(t)
}

// NextRun returns when a task fires next
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(t.entryID).Next, true
}

func (s *Scheduler) execute(t *task) error {
	ctx := s.baseCtx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	err := t.run(ctx)
	if err != nil {
		s.logger.Error("scheduled task failed", "task", t.name, "error", err, "duration", time.Since(start))
		return err
	}
	s.logger.Debug("scheduled task completed", "task", t.name, "duration", time.Since(start))
	return nil
}

// cronLogger routes cron's own messages through slog
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
