// Package progress keeps pollable import job state and runs jobs in the background.
package progress

import (
	"context"
	"errors"

	"rental-portal/internal/importer"
)

var (
	// ErrNotFound is returned for unknown, expired or foreign job ids
	ErrNotFound = errors.New("import job not found")
	// ErrConflict is returned when the tenant already has a running import
	ErrConflict = errors.New("an import is already running for this tenant")
)

// Store holds job snapshots. Every Save replaces the whole snapshot.
type Store interface {
	// Reserve registers a new job as the tenant's active import
	Reserve(ctx context.Context, job importer.ImportJob) error
	// Save replaces the stored snapshot and releases the tenant once the job is terminal
	Save(ctx context.Context, job importer.ImportJob) error
	// Get returns the snapshot if it exists and belongs to the tenant
	Get(ctx context.Context, tenantID, jobID string) (importer.ImportJob, error)
	// Latest returns the tenant's most recently started job while it is still tracked
	Latest(ctx context.Context, tenantID string) (importer.ImportJob, error)
	// Sweep drops expired jobs and returns how many were removed
	Sweep(ctx context.Context) (int, error)
}
