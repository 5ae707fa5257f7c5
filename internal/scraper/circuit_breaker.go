package scraper

import (
	"log/slog"
	"sync"
	"time"
)

// CircuitBreaker stops listing fetches while a site keeps rejecting us
type CircuitBreaker struct {
	failureThreshold int
	resetTimeout     time.Duration
	logger           *slog.Logger

	failures            int
	totalRequests       int
	consecutiveFailures int
	isOpen              bool
	lastFailureTime     time.Time
	now                 func() time.Time

	mutex sync.Mutex
}

// NewCircuitBreaker opens after failureThreshold consecutive failures, or a 40%
// failure rate over 20+ requests, and half-opens after resetTimeout
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		logger:           logger,
		now:              time.Now,
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.totalRequests++
	cb.consecutiveFailures = 0
}

// RecordFailure records a failed request. statusCode is 0 for transport errors.
func (cb *CircuitBreaker) RecordFailure(statusCode int) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++
	cb.consecutiveFailures++
	cb.totalRequests++
	cb.lastFailureTime = cb.now()

	// blocked responses trip the breaker immediately
	if cb.consecutiveFailures >= 2 && (statusCode == 429 || statusCode == 403) {
		cb.open("consecutive blocked responses", statusCode)
		return
	}

	if cb.consecutiveFailures >= cb.failureThreshold {
		cb.open("consecutive failures", statusCode)
		return
	}

	if cb.totalRequests >= 20 {
		failureRate := float64(cb.failures) / float64(cb.totalRequests)
		if failureRate >= 0.40 {
			cb.open("failure rate", statusCode)
		}
	}
}

func (cb *CircuitBreaker) open(reason string, statusCode int) {
	if cb.isOpen {
		return
	}
	cb.isOpen = true
	cb.logger.Warn("circuit breaker open",
		"reason", reason,
		"status", statusCode,
		"failures", cb.failures,
		"total", cb.totalRequests,
		"retry_after", cb.resetTimeout)
}

// CanProceed checks if requests are allowed
func (cb *CircuitBreaker) CanProceed() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if !cb.isOpen {
		return true
	}

	if cb.now().Sub(cb.lastFailureTime) > cb.resetTimeout {
		cb.logger.Info("circuit breaker half-open", "after", cb.resetTimeout)
		cb.isOpen = false
		cb.failures = 0
		cb.totalRequests = 0
		cb.consecutiveFailures = 0
		return true
	}

	return false
}

// GetStatus returns current circuit breaker status
func (cb *CircuitBreaker) GetStatus() (isOpen bool, failures int, total int) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.isOpen, cb.failures, cb.totalRequests
}
