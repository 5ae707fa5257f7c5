package progress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"rental-portal/internal/importer"
)

type stubPropertyStore struct {
	mu      sync.Mutex
	created int
	block   chan struct{}
}

func (s *stubPropertyStore) Ping(ctx context.Context) error { return nil }

func (s *stubPropertyStore) FindDuplicate(ctx context.Context, tenantID string, identity importer.Identity) (string, bool, error) {
	return "", false, nil
}

func (s *stubPropertyStore) Create(ctx context.Context, tenantID string, p *importer.MappedProperty) (string, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	return fmt.Sprintf("prop-%d", s.created), nil
}

func (s *stubPropertyStore) Update(ctx context.Context, tenantID, propertyID string, p *importer.MappedProperty) error {
	return nil
}

type historyFunc func(ctx context.Context, job importer.ImportJob) error

func (f historyFunc) RecordImport(ctx context.Context, job importer.ImportJob) error {
	return f(ctx, job)
}

const serviceBatch = `{"properties":[{
	"title": "Seaside Loft",
	"description": "Two rooms by the beach",
	"address": "1 Ocean Drive",
	"city": "Lisbon",
	"category": "apartment",
	"bedrooms": 2,
	"bathrooms": 1,
	"maxGuests": 4,
	"basePrice": 120
}]}`

func newTestService(props importer.PropertyStore, history HistoryRecorder) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := importer.NewRunner(importer.MustValidator(), props, importer.WithLogger(logger))
	return NewService(NewMemoryStore(10*time.Minute, time.Hour), runner, history, time.Minute, logger)
}

func TestService_StartBatchRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	recorded := make(chan importer.ImportJob, 1)
	svc := newTestService(&stubPropertyStore{}, historyFunc(func(ctx context.Context, job importer.ImportJob) error {
		recorded <- job
		return nil
	}))

	job, err := svc.StartBatch(ctx, "tenant-a", []byte(serviceBatch))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if job.Stage != importer.StageValidating || job.ID == "" {
		t.Fatalf("unexpected initial job: %+v", job)
	}

	final, err := svc.Wait(ctx, "tenant-a", job.ID, 5*time.Second)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if final.Stage != importer.StageCompleted || final.CompletedCount != 1 {
		t.Fatalf("unexpected final job: %+v", final)
	}

	select {
	case h := <-recorded:
		if h.ID != job.ID {
			t.Errorf("expected history for %s, got %s", job.ID, h.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected history to be recorded")
	}

	complete, err := svc.IsComplete(ctx, "tenant-a", job.ID)
	if err != nil || !complete {
		t.Errorf("expected complete, got %v (%v)", complete, err)
	}
}

func TestService_RejectsConcurrentImportForTenant(t *testing.T) {
	ctx := context.Background()
	props := &stubPropertyStore{block: make(chan struct{})}
	svc := newTestService(props, nil)

	first, err := svc.StartBatch(ctx, "tenant-a", []byte(serviceBatch))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, err := svc.StartBatch(ctx, "tenant-a", []byte(serviceBatch)); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := svc.StartBatch(ctx, "tenant-b", []byte(serviceBatch)); err != nil {
		t.Fatalf("expected other tenant to start, got %v", err)
	}

	// the running job is still pollable while blocked
	running, err := svc.Status(ctx, "tenant-a", first.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if running.IsComplete() {
		t.Error("expected job to still be running")
	}

	// and reachable without its id
	latest, err := svc.Latest(ctx, "tenant-a")
	if err != nil || latest.ID != first.ID {
		t.Errorf("expected latest to be %s, got %q (%v)", first.ID, latest.ID, err)
	}

	close(props.block)
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("expected jobs to drain, got %v", err)
	}

	if _, err := svc.StartBatch(ctx, "tenant-a", []byte(serviceBatch)); err != nil {
		t.Errorf("expected tenant to be free after completion, got %v", err)
	}
}

func TestService_StatusUnknownJob(t *testing.T) {
	svc := newTestService(&stubPropertyStore{}, nil)

	if _, err := svc.Status(context.Background(), "tenant-a", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
