package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"rental-portal/internal/importer"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, 10*time.Minute, time.Hour), mr
}

func TestRedisStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	job := jobFor("tenant-a", "job-1", started)
	if err := store.Reserve(ctx, job); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := store.Reserve(ctx, jobFor("tenant-a", "job-2", started)); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	label := "Seaside Loft"
	job.Total = 2
	job.CompletedCount = 1
	job.CurrentEntryLabel = &label
	job.Stage = importer.StageSavingProperties
	if err := store.Save(ctx, job); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	got, err := store.Get(ctx, "tenant-a", "job-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.CompletedCount != 1 || got.CurrentEntryLabel == nil || *got.CurrentEntryLabel != label {
		t.Errorf("unexpected snapshot: %+v", got)
	}
	if _, err := store.Get(ctx, "tenant-b", "job-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign tenant, got %v", err)
	}

	job.Stage = importer.StageCompleted
	if err := store.Save(ctx, job); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if mr.Exists(activeKeyPrefix + "tenant-a") {
		t.Error("expected active marker to be released")
	}
	if ttl := mr.TTL(jobKeyPrefix + "job-1"); ttl != 10*time.Minute {
		t.Errorf("expected retention ttl, got %v", ttl)
	}

	mr.FastForward(11 * time.Minute)
	if _, err := store.Get(ctx, "tenant-a", "job-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected job to expire, got %v", err)
	}
}

func TestRedisStore_ReleaseKeepsNewerReservation(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	old := jobFor("tenant-a", "job-old", time.Now())
	old.Stage = importer.StageFailed
	mr.Set(activeKeyPrefix+"tenant-a", "job-new")

	if err := store.Save(ctx, old); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	value, err := mr.Get(activeKeyPrefix + "tenant-a")
	if err != nil || value != "job-new" {
		t.Errorf("expected newer reservation to survive, got %q (%v)", value, err)
	}
}

func TestRedisStore_Latest(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	if _, err := store.Latest(ctx, "tenant-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any import, got %v", err)
	}

	job := jobFor("tenant-a", "job-1", time.Now())
	if err := store.Reserve(ctx, job); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got, err := store.Latest(ctx, "tenant-a")
	if err != nil || got.ID != "job-1" {
		t.Fatalf("expected running job-1, got %q (%v)", got.ID, err)
	}
	if _, err := store.Latest(ctx, "tenant-b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another tenant, got %v", err)
	}

	job.Stage = importer.StageCompleted
	if err := store.Save(ctx, job); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	got, err = store.Latest(ctx, "tenant-a")
	if err != nil || !got.IsComplete() {
		t.Fatalf("expected finished job within retention, got %+v (%v)", got, err)
	}

	mr.FastForward(11 * time.Minute)
	if _, err := store.Latest(ctx, "tenant-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after retention, got %v", err)
	}
}
