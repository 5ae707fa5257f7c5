package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// HostLimiter paces requests to one external listing site across all jobs
type HostLimiter struct {
	maxInFlight     int
	currentInFlight int
	baseDelay       time.Duration
	jitter          time.Duration
	lastRequest     time.Time
	mutex           sync.Mutex
}

// NewHostLimiter creates a limiter allowing maxInFlight concurrent requests,
// spaced by baseDelay plus up to jitter
func NewHostLimiter(maxInFlight int, baseDelay, jitter time.Duration) *HostLimiter {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &HostLimiter{
		maxInFlight: maxInFlight,
		baseDelay:   baseDelay,
		jitter:      jitter,
	}
}

// Acquire waits until it's safe to make a request or ctx is done
func (hl *HostLimiter) Acquire(ctx context.Context) error {
	hl.mutex.Lock()

	for hl.currentInFlight >= hl.maxInFlight {
		hl.mutex.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
		hl.mutex.Lock()
	}

	requiredDelay := hl.baseDelay
	if hl.jitter > 0 {
		requiredDelay += time.Duration(rand.Int63n(int64(hl.jitter)))
	}
	wait := requiredDelay - time.Since(hl.lastRequest)

	hl.currentInFlight++
	hl.lastRequest = time.Now().Add(max(wait, 0))
	hl.mutex.Unlock()

	if wait > 0 {
		select {
		case <-ctx.Done():
			hl.Release()
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// Release marks a request as completed
func (hl *HostLimiter) Release() {
	hl.mutex.Lock()
	if hl.currentInFlight > 0 {
		hl.currentInFlight--
	}
	hl.mutex.Unlock()
}

// GetInFlight returns current in-flight request count
func (hl *HostLimiter) GetInFlight() int {
	hl.mutex.Lock()
	defer hl.mutex.Unlock()
	return hl.currentInFlight
}
