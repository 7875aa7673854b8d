package internal

import (
	"sync"
	"time"
)

// CircuitBreaker stops calls to the content server after repeated failures.
// It opens when threshold failures fall within window and stays open for
// openDuration. A nil *CircuitBreaker is always closed.
type CircuitBreaker struct {
	mu           sync.Mutex
	failures     []time.Time
	threshold    int
	window       time.Duration
	openUntil    time.Time
	openDuration time.Duration
	now          func() time.Time
}

// NewCircuitBreaker creates a configured circuit breaker.
func NewCircuitBreaker(threshold int, window, openDuration time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:    threshold,
		window:       window,
		openDuration: openDuration,
		failures:     make([]time.Time, 0, threshold),
		now:          time.Now,
	}
}

// RecordFailure records a failed call and opens the breaker once the
// threshold is reached inside the window.
func (cb *CircuitBreaker) RecordFailure() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cutoff := now.Add(-cb.window)
	kept := cb.failures[:0]
	for _, at := range cb.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	cb.failures = append(kept, now)

	if len(cb.failures) >= cb.threshold {
		cb.openUntil = now.Add(cb.openDuration)
		cb.failures = cb.failures[:0]
	}
}

// RecordSuccess closes the breaker and forgets past failures.
func (cb *CircuitBreaker) RecordSuccess() {
	if cb == nil {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = cb.failures[:0]
	cb.openUntil = time.Time{}
}

// IsOpen returns true while calls should be refused.
func (cb *CircuitBreaker) IsOpen() bool {
	if cb == nil {
		return false
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.now().Before(cb.openUntil)
}
