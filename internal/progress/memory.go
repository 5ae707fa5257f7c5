package progress

import (
	"context"
	"sync"
	"time"

	"rental-portal/internal/importer"
)

type memoryEntry struct {
	job       importer.ImportJob
	expiresAt time.Time
}

// MemoryStore keeps jobs in process memory
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[string]memoryEntry
	active    map[string]string // tenant -> job id
	latest    map[string]string // tenant -> most recently started job id
	retention time.Duration
	maxAge    time.Duration
	now       func() time.Time
}

// NewMemoryStore creates a store. Terminal jobs live for retention; running
// jobs are dropped maxAge after they started.
func NewMemoryStore(retention, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[string]memoryEntry),
		active:    make(map[string]string),
		latest:    make(map[string]string),
		retention: retention,
		maxAge:    maxAge,
		now:       time.Now,
	}
}

// SetClock overrides time.Now
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Reserve(ctx context.Context, job importer.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if activeID, ok := s.active[job.TenantID]; ok {
		if e, exists := s.jobs[activeID]; exists && !e.job.IsComplete() && now.Before(e.expiresAt) {
			return ErrConflict
		}
		delete(s.active, job.TenantID)
	}

	s.active[job.TenantID] = job.ID
	s.latest[job.TenantID] = job.ID
	s.jobs[job.ID] = s.entryFor(job, now)
	return nil
}

func (s *MemoryStore) Save(ctx context.Context, job importer.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = s.entryFor(job, s.now())
	if job.IsComplete() && s.active[job.TenantID] == job.ID {
		delete(s.active, job.TenantID)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, tenantID, jobID string) (importer.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.get(tenantID, jobID)
}

func (s *MemoryStore) Latest(ctx context.Context, tenantID string) (importer.ImportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobID, ok := s.latest[tenantID]
	if !ok {
		return importer.ImportJob{}, ErrNotFound
	}
	return s.get(tenantID, jobID)
}

// get expects s.mu to be held
func (s *MemoryStore) get(tenantID, jobID string) (importer.ImportJob, error) {
	e, ok := s.jobs[jobID]
	if !ok || e.job.TenantID != tenantID || !s.now().Before(e.expiresAt) {
		return importer.ImportJob{}, ErrNotFound
	}
	return e.job.Clone(), nil
}

func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, e := range s.jobs {
		if now.Before(e.expiresAt) {
			continue
		}
		delete(s.jobs, id)
		if s.active[e.job.TenantID] == id {
			delete(s.active, e.job.TenantID)
		}
		if s.latest[e.job.TenantID] == id {
			delete(s.latest, e.job.TenantID)
		}
		removed++
	}
	return removed, nil
}

// Len returns the number of stored jobs, expired or not
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *MemoryStore) entryFor(job importer.ImportJob, now time.Time) memoryEntry {
	expires := job.StartedAt.Add(s.maxAge)
	if job.StartedAt.IsZero() {
		expires = now.Add(s.maxAge)
	}
	if job.IsComplete() {
		expires = now.Add(s.retention)
	}
	return memoryEntry{job: job.Clone(), expiresAt: expires}
}
