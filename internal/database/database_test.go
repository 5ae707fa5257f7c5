package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rental-portal/internal/config"
	"rental-portal/internal/importer"
	"rental-portal/internal/models"
)

func newTestDB(t *testing.T) *GormDB {
	t.Helper()
	db, err := Open(config.DatabaseConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleProperty(title string) *importer.MappedProperty {
	return &importer.MappedProperty{
		Title:      title,
		Address:    "1 Ocean Drive",
		City:       "Lisbon",
		Category:   "apartment",
		Bedrooms:   2,
		Bathrooms:  1,
		MaxGuests:  4,
		BasePrice:  decimal.NewFromInt(120),
		Currency:   "EUR",
		Photos:     []string{"https://cdn.example.com/a.jpg"},
		Amenities:  []string{"wifi"},
		ImportedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestGormDB_CreateAndFindDuplicate(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	p := sampleProperty("Seaside Loft")
	p.Media = []importer.MediaAsset{{Kind: importer.MediaPhoto, OriginalURL: "https://cdn.example.com/a.jpg", StoredKey: "properties/t/photos/a.jpg"}}
	id, err := db.Create(ctx, "tenant-a", p)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	tests := []struct {
		name      string
		tenant    string
		identity  importer.Identity
		wantFound bool
	}{
		{"same fingerprint", "tenant-a", importer.IdentityOf(sampleProperty("seaside  loft!")), true},
		{"other tenant", "tenant-b", importer.IdentityOf(sampleProperty("Seaside Loft")), false},
		{"different title", "tenant-a", importer.IdentityOf(sampleProperty("Mountain Hut")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotID, found, err := db.FindDuplicate(ctx, tt.tenant, tt.identity)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if found != tt.wantFound {
				t.Fatalf("expected found=%v, got %v", tt.wantFound, found)
			}
			if found && gotID != id {
				t.Errorf("expected id %s, got %s", id, gotID)
			}
		})
	}

	media, err := db.GetPropertyMedia(ctx, id)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(media) != 1 || media[0].StoredKey != "properties/t/photos/a.jpg" {
		t.Errorf("unexpected media: %+v", media)
	}
}

func TestGormDB_FindDuplicateByExternalIdentity(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	p := sampleProperty("Cabin")
	p.ExternalSource = "vrbo"
	p.ExternalID = "991"
	id, err := db.Create(ctx, "tenant-a", p)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	// a renamed listing with the same external id is still the same property
	renamed := sampleProperty("Cabin by the lake")
	renamed.ExternalSource = "vrbo"
	renamed.ExternalID = "991"
	gotID, found, err := db.FindDuplicate(ctx, "tenant-a", importer.IdentityOf(renamed))
	if err != nil || !found || gotID != id {
		t.Errorf("expected match on external identity, got %s %v %v", gotID, found, err)
	}
}

func TestGormDB_UpdateMerges(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	id, err := db.Create(ctx, "tenant-a", sampleProperty("Seaside Loft"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	before, _ := db.GetPropertyByID(ctx, "tenant-a", id)

	update := &importer.MappedProperty{
		Title:     "Seaside Loft",
		Address:   "1 Ocean Drive",
		City:      "Lisbon",
		BasePrice: decimal.NewFromInt(150),
	}
	if err := db.Update(ctx, "tenant-a", id, update); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	after, err := db.GetPropertyByID(ctx, "tenant-a", id)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !after.BasePrice.Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected price 150, got %s", after.BasePrice)
	}
	if after.Bedrooms != 2 || after.Category != "apartment" || len(after.Photos) != 1 {
		t.Errorf("expected unspecified fields to be kept, got %+v", after)
	}
	if !after.CreatedAt.Equal(before.CreatedAt) || after.Status != models.PropertyStatusActive {
		t.Errorf("expected creation time and status to be preserved")
	}

	if err := db.Update(ctx, "tenant-b", id, update); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another tenant, got %v", err)
	}
}

func TestGormDB_ImportLogs(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	finished := time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)
	job := importer.NewJob("job-1", "tenant-a", importer.JobKindBatch, finished.Add(-5*time.Minute))
	job.Stage = importer.StageCompleted
	job.Total, job.CompletedCount, job.FailedCount, job.SkippedCount = 3, 2, 1, 1
	job.FinishedAt = &finished
	job.Errors = []importer.ImportError{{EntryIndex: 2, Message: "duplicate", Type: importer.ErrorTypeDuplicate}}

	if err := db.RecordImport(ctx, job); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	// recording twice keeps a single row
	if err := db.RecordImport(ctx, job); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	failed := importer.NewJob("job-2", "tenant-a", importer.JobKindListing, finished)
	failed.Stage = importer.StageFailed
	failed.Total = 1
	failedAt := finished.Add(time.Hour)
	failed.FinishedAt = &failedAt
	if err := db.RecordImport(ctx, failed); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	logs, err := db.GetImportLogs(ctx, "tenant-a", 10)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(logs) != 2 || logs[0].JobID != "job-2" {
		t.Fatalf("unexpected logs: %+v", logs)
	}

	stats, err := db.GetImportStats(ctx, "tenant-a")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if stats.Jobs != 2 || stats.FailedJobs != 1 || stats.Imported != 2 || stats.SkippedEntries != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	removed, err := db.DeleteImportLogsBefore(ctx, finished.Add(time.Minute))
	if err != nil || removed != 1 {
		t.Errorf("expected 1 log removed, got %d (%v)", removed, err)
	}
}

func TestGormDB_CalendarSyncs(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	id, err := db.Create(ctx, "tenant-a", sampleProperty("Seaside Loft"))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	sync := &models.CalendarSync{PropertyID: id, TenantID: "tenant-a", ICalURL: "https://cal.example.com/a.ics", Source: "airbnb", SyncFrequency: 30}
	if err := db.UpsertCalendarSync(ctx, sync); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if sync.Status != models.CalendarStatusPending {
		t.Errorf("expected pending status, got %s", sync.Status)
	}

	again := &models.CalendarSync{PropertyID: id, TenantID: "tenant-a", ICalURL: "https://cal.example.com/a.ics", Source: "airbnb", SyncFrequency: 60}
	if err := db.UpsertCalendarSync(ctx, again); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if again.ID != sync.ID || again.SyncFrequency != 60 {
		t.Errorf("expected existing attachment to be refreshed, got %+v", again)
	}

	foreign := &models.CalendarSync{PropertyID: id, TenantID: "tenant-b", ICalURL: "https://cal.example.com/b.ics", Source: "airbnb"}
	if err := db.UpsertCalendarSync(ctx, foreign); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another tenant's property, got %v", err)
	}

	now := time.Now().UTC()
	due, err := db.GetDueCalendarSyncs(ctx, now, 10)
	if err != nil || len(due) != 1 {
		t.Fatalf("expected 1 due sync, got %d (%v)", len(due), err)
	}

	due[0].RecordSuccess(4, now)
	if err := db.SaveCalendarSync(ctx, &due[0]); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	due, err = db.GetDueCalendarSyncs(ctx, now, 10)
	if err != nil || len(due) != 0 {
		t.Errorf("expected nothing due after a successful sync, got %d (%v)", len(due), err)
	}

	syncs, err := db.GetCalendarSyncs(ctx, "tenant-a", id)
	if err != nil || len(syncs) != 1 || syncs[0].Status != models.CalendarStatusSynced {
		t.Errorf("expected one synced feed, got %+v (%v)", syncs, err)
	}
	if syncs, _ := db.GetCalendarSyncs(ctx, "tenant-b", id); len(syncs) != 0 {
		t.Errorf("expected no feeds for another tenant, got %d", len(syncs))
	}
}
