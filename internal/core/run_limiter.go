package core

// run_limiter.go bounds how many recoveries run at once.
//
// Each recovery holds a whole decoded file in memory, so the limiter caps
// parallel runs. When every slot is taken a new request waits up to maxWait
// and then fails with ErrTooManyRuns. WaitForDrain lets shutdown block until
// in-flight runs finish.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTooManyRuns is returned when all slots stay occupied for maxWait.
var ErrTooManyRuns = errors.New("too many recoveries in progress")

// Limiter defaults.
const (
	DefaultMaxConcurrentRuns = 4
	DefaultMaxWaitTime       = 30 * time.Second
)

// RunLimiter is a counting semaphore with a bounded wait.
type RunLimiter struct {
	slots   chan struct{}
	maxWait time.Duration

	mu      sync.Mutex
	active  int
	drained *sync.Cond
}

// NewRunLimiter allows at most maxConcurrent runs. Non-positive arguments
// fall back to the defaults.
func NewRunLimiter(maxConcurrent int, maxWait time.Duration) *RunLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRuns
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	l := &RunLimiter{
		slots:   make(chan struct{}, maxConcurrent),
		maxWait: maxWait,
	}
	l.drained = sync.NewCond(&l.mu)
	return l
}

// Acquire takes a slot and returns the function that gives it back. The
// release function is safe to call more than once.
func (l *RunLimiter) Acquire(ctx context.Context) (release func(), err error) {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrTooManyRuns
	}

	l.mu.Lock()
	l.active++
	l.mu.Unlock()

	var once sync.Once
	return func() { once.Do(l.release) }, nil
}

func (l *RunLimiter) release() {
	l.mu.Lock()
	l.active--
	if l.active == 0 {
		l.drained.Broadcast()
	}
	l.mu.Unlock()
	<-l.slots
}

// Active returns the number of runs holding a slot.
func (l *RunLimiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// WaitForDrain blocks until no run holds a slot or ctx is done.
func (l *RunLimiter) WaitForDrain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.mu.Lock()
		for l.active > 0 && ctx.Err() == nil {
			l.drained.Wait()
		}
		l.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// Wake the waiter so it can observe the cancelled context and exit.
		l.mu.Lock()
		l.drained.Broadcast()
		l.mu.Unlock()
		return ctx.Err()
	}
}

// LimiterStatus is a snapshot for health checks.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the current limiter state.
func (l *RunLimiter) Status() LimiterStatus {
	active := l.Active()
	return LimiterStatus{
		Active:        active,
		Available:     cap(l.slots) - active,
		MaxConcurrent: cap(l.slots),
	}
}
