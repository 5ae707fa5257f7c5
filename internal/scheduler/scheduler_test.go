package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"rental-portal/internal/cleanup"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_AddTask(t *testing.T) {
	s := NewScheduler(quietLogger())
	noop := func(ctx context.Context) error { return nil }

	if err := s.AddTask("a", "@every 1m", 0, noop); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := s.AddTask("a", "@every 1m", 0, noop); err == nil {
		t.Error("expected error for duplicate task name")
	}
	if err := s.AddTask("b", "every now and then", 0, noop); err == nil {
		t.Error("expected error for invalid cron expression")
	}

	if _, ok := s.NextRun("a"); !ok {
		t.Error("expected task a to be registered")
	}
	if _, ok := s.NextRun("missing"); ok {
		t.Error("expected unknown task to be absent")
	}
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(quietLogger())

	var gotDeadline bool
	s.AddTask("ok", "@daily", time.Minute, func(ctx context.Context) error {
		_, gotDeadline = ctx.Deadline()
		return nil
	})
	failure := errors.New("boom")
	s.AddTask("fail", "@daily", 0, func(ctx context.Context) error { return failure })

	if err := s.RunNow("ok"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !gotDeadline {
		t.Error("expected task context to carry the timeout")
	}
	if err := s.RunNow("fail"); !errors.Is(err, failure) {
		t.Errorf("expected task error, got %v", err)
	}
	if err := s.RunNow("missing"); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(quietLogger())
	ran := make(chan struct{}, 1)
	s.AddTask("tick", "@every 1s", 0, func(ctx context.Context) error {
		select {
		case ran <- struct{}{}:
		default:
		}
		return nil
	})

	s.Start()
	s.Start()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("expected task to run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
}

type sweeperFunc func(ctx context.Context) (int, error)

func (f sweeperFunc) Sweep(ctx context.Context) (int, error) { return f(ctx) }

type syncerFunc func(ctx context.Context) (int, int, error)

func (f syncerFunc) SyncDue(ctx context.Context) (int, int, error) { return f(ctx) }

type purgerFunc func(ctx context.Context, c cleanup.CleanupConfig) (*cleanup.CleanupResult, error)

func (f purgerFunc) PurgeImportLogs(ctx context.Context, c cleanup.CleanupConfig) (*cleanup.CleanupResult, error) {
	return f(ctx, c)
}

type prunerFunc func() int

func (f prunerFunc) Prune() int { return f() }

func TestTasks(t *testing.T) {
	ctx := context.Background()
	logger := quietLogger()

	t.Run("sweep", func(t *testing.T) {
		called := false
		task := SweepJobs(sweeperFunc(func(ctx context.Context) (int, error) {
			called = true
			return 2, nil
		}), logger)
		if err := task(ctx); err != nil || !called {
			t.Errorf("expected sweep to run without error, got %v", err)
		}
	})

	t.Run("calendar error propagates", func(t *testing.T) {
		task := SyncCalendars(syncerFunc(func(ctx context.Context) (int, int, error) {
			return 0, 0, errors.New("db down")
		}), logger)
		if err := task(ctx); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("purge uses retention", func(t *testing.T) {
		var got cleanup.CleanupConfig
		task := PurgeImportLogs(purgerFunc(func(ctx context.Context, c cleanup.CleanupConfig) (*cleanup.CleanupResult, error) {
			got = c
			return &cleanup.CleanupResult{}, nil
		}), 14)
		if err := task(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.RetentionDays != 14 || got.DryRun {
			t.Errorf("unexpected config: %+v", got)
		}
	})

	t.Run("prune", func(t *testing.T) {
		pruned := false
		task := PruneRateLimits(prunerFunc(func() int { pruned = true; return 1 }))
		if err := task(ctx); err != nil || !pruned {
			t.Errorf("expected prune to run, got %v", err)
		}
	})
}
