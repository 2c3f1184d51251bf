// Package throttle rate-limits an expensive operation to at most one
// execution per window. It replaces decorator-style throttling with an
// explicit stateful object owned by the component it protects.
package throttle

import (
	"context"
	"sync"
	"time"

	"devicesync/internal/clock"
)

// Throttle collapses rapid or concurrent calls into one underlying
// execution per interval. Callers that land inside the window return
// immediately without executing; consumers needing a value read the
// cache populated by the last real execution.
type Throttle struct {
	interval time.Duration
	clock    clock.Clock

	mu   sync.Mutex
	last time.Time
}

// New creates a Throttle with the given minimum interval between
// executions.
func New(interval time.Duration, clk clock.Clock) *Throttle {
	return &Throttle{interval: interval, clock: clk}
}

// Call executes fn if the window has elapsed since the last attempt and
// reports whether fn actually ran. A failed execution still consumes the
// window so errors cannot trigger retries faster than the interval; the
// error is returned only to the caller that triggered execution.
func (t *Throttle) Call(ctx context.Context, fn func(ctx context.Context) error) (bool, error) {
	t.mu.Lock()
	if !t.last.IsZero() && t.clock.Since(t.last) < t.interval {
		t.mu.Unlock()
		return false, nil
	}
	t.last = t.clock.Now()
	t.mu.Unlock()

	return true, fn(ctx)
}

// Reset clears the window so the next Call executes immediately.
func (t *Throttle) Reset() {
	t.mu.Lock()
	t.last = time.Time{}
	t.mu.Unlock()
}

// LastAttempt returns the time of the last execution attempt, zero if
// none has occurred.
func (t *Throttle) LastAttempt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
