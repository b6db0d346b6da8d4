package sync

// limiter.go implements concurrency control for batch jobs.
//
// Slots restrict parallel sync jobs to a configurable maximum. When all
// slots are occupied, new requests wait up to maxWait before failing with
// ErrTooManyJobs. WaitForDrain supports graceful shutdown by blocking until
// active jobs complete.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyJobs is returned when all job slots are occupied and the wait
// timeout expires. Clients should retry after a short delay.
var ErrTooManyJobs = errors.New("too many concurrent sync jobs, please try again later")

// DefaultMaxConcurrentJobs is the default limit for parallel jobs.
const DefaultMaxConcurrentJobs = 3

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// Limiter restricts how many jobs run at once.
type Limiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu      sync.Mutex
	active  int
	drainCh chan struct{} // non-nil while a drain waiter is blocked
}

// NewLimiter creates a limiter that allows at most maxConcurrent simultaneous
// jobs. Requests that cannot acquire a slot within maxWait receive
// ErrTooManyJobs.
func NewLimiter(maxConcurrent int, maxWait time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &Limiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
}

// Acquire attempts to acquire a job slot.
// Returns nil on success, ErrTooManyJobs if the timeout expires.
// The caller MUST call Release() when the job completes (use defer).
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.slots <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyJobs
	}
}

// Release releases a previously acquired slot and wakes a drain waiter when
// the last active job finishes.
// Must be called exactly once for each successful Acquire.
func (l *Limiter) Release() {
	l.mu.Lock()
	l.active--
	if l.active == 0 && l.drainCh != nil {
		close(l.drainCh)
		l.drainCh = nil
	}
	l.mu.Unlock()

	<-l.slots
}

// ActiveCount returns the number of currently active jobs.
func (l *Limiter) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// WaitForDrain blocks until all active jobs complete or ctx is cancelled.
// Used for graceful shutdown so batches finish before termination.
func (l *Limiter) WaitForDrain(ctx context.Context) error {
	l.mu.Lock()
	if l.active == 0 {
		l.mu.Unlock()
		return nil
	}
	if l.drainCh == nil {
		l.drainCh = make(chan struct{})
	}
	ch := l.drainCh
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LimiterStatus is a snapshot of the limiter's state for monitoring.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state.
func (l *Limiter) Status() LimiterStatus {
	l.mu.Lock()
	active := l.active
	l.mu.Unlock()

	return LimiterStatus{
		Active:        active,
		Available:     cap(l.slots) - len(l.slots),
		MaxConcurrent: cap(l.slots),
	}
}
