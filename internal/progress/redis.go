package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rental-portal/internal/importer"
)

const (
	jobKeyPrefix    = "import:job:"
	activeKeyPrefix = "import:active:"
	latestKeyPrefix = "import:latest:"
)

// releaseActive deletes the tenant's active marker only if it still points at this job
var releaseActive = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore shares job state between API replicas. Expiry is left to key TTLs.
type RedisStore struct {
	rdb       *redis.Client
	retention time.Duration
	maxAge    time.Duration
}

// NewRedisStore wraps an existing client
func NewRedisStore(rdb *redis.Client, retention, maxAge time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, retention: retention, maxAge: maxAge}
}

func (s *RedisStore) Reserve(ctx context.Context, job importer.ImportJob) error {
	ok, err := s.rdb.SetNX(ctx, activeKeyPrefix+job.TenantID, job.ID, s.maxAge).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve import slot: %w", err)
	}
	if !ok {
		return ErrConflict
	}

	if err := s.Save(ctx, job); err != nil {
		s.rdb.Del(ctx, activeKeyPrefix+job.TenantID)
		return err
	}

	// outlives the job key: a job ends within maxAge and is kept for retention after that
	if err := s.rdb.Set(ctx, latestKeyPrefix+job.TenantID, job.ID, s.maxAge+s.retention).Err(); err != nil {
		return fmt.Errorf("failed to record latest import: %w", err)
	}
	return nil
}

func (s *RedisStore) Save(ctx context.Context, job importer.ImportJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	ttl := s.maxAge
	if job.IsComplete() {
		ttl = s.retention
	}
	if err := s.rdb.Set(ctx, jobKeyPrefix+job.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}

	if job.IsComplete() {
		if err := releaseActive.Run(ctx, s.rdb, []string{activeKeyPrefix + job.TenantID}, job.ID).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to release import slot: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, tenantID, jobID string) (importer.ImportJob, error) {
	res, err := s.rdb.Get(ctx, jobKeyPrefix+jobID).Result()
	if errors.Is(err, redis.Nil) {
		return importer.ImportJob{}, ErrNotFound
	}
	if err != nil {
		return importer.ImportJob{}, err
	}

	var job importer.ImportJob
	if err := json.Unmarshal([]byte(res), &job); err != nil {
		return importer.ImportJob{}, fmt.Errorf("failed to decode job: %w", err)
	}
	if job.TenantID != tenantID {
		return importer.ImportJob{}, ErrNotFound
	}
	return job, nil
}

func (s *RedisStore) Latest(ctx context.Context, tenantID string) (importer.ImportJob, error) {
	jobID, err := s.rdb.Get(ctx, latestKeyPrefix+tenantID).Result()
	if errors.Is(err, redis.Nil) {
		return importer.ImportJob{}, ErrNotFound
	}
	if err != nil {
		return importer.ImportJob{}, err
	}
	return s.Get(ctx, tenantID, jobID)
}

// Sweep is a no-op; redis expires keys on its own
func (s *RedisStore) Sweep(ctx context.Context) (int, error) {
	return 0, nil
}
