package cleanup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

type mockLogStore struct {
	count      int64
	deleteErr  error
	deleted    bool
	lastCutoff time.Time
}

func (m *mockLogStore) CountImportLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.lastCutoff = cutoff
	return m.count, nil
}

func (m *mockLogStore) DeleteImportLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.deleted = true
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	return m.count, nil
}

func TestService_PurgeImportLogs(t *testing.T) {
	now := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		store       *mockLogStore
		config      CleanupConfig
		wantErr     bool
		wantDeleted int64
		wantCalled  bool
	}{
		{
			name:        "deletes expired logs",
			store:       &mockLogStore{count: 3},
			config:      CleanupConfig{RetentionDays: 30},
			wantDeleted: 3,
			wantCalled:  true,
		},
		{
			name:   "dry run only counts",
			store:  &mockLogStore{count: 3},
			config: CleanupConfig{RetentionDays: 30, DryRun: true},
		},
		{
			name:   "nothing to delete",
			store:  &mockLogStore{},
			config: CleanupConfig{RetentionDays: 30},
		},
		{
			name:    "safety limit",
			store:   &mockLogStore{count: 50},
			config:  CleanupConfig{RetentionDays: 30, MaxDeletionCount: 10},
			wantErr: true,
		},
		{
			name:    "invalid retention",
			store:   &mockLogStore{},
			config:  CleanupConfig{},
			wantErr: true,
		},
		{
			name:       "delete failure",
			store:      &mockLogStore{count: 1, deleteErr: errors.New("db down")},
			config:     CleanupConfig{RetentionDays: 30},
			wantErr:    true,
			wantCalled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.store, slog.New(slog.NewTextHandler(io.Discard, nil)))
			svc.now = func() time.Time { return now }

			result, err := svc.PurgeImportLogs(context.Background(), tt.config)
			if tt.store.deleted != tt.wantCalled {
				t.Errorf("expected delete called=%v, got %v", tt.wantCalled, tt.store.deleted)
			}
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if result.DeletedCount != tt.wantDeleted {
				t.Errorf("expected %d deleted, got %d", tt.wantDeleted, result.DeletedCount)
			}
			if want := now.AddDate(0, 0, -30); !tt.store.lastCutoff.Equal(want) {
				t.Errorf("expected cutoff %v, got %v", want, tt.store.lastCutoff)
			}
		})
	}
}
