// Package clock abstracts time so throttling and scheduling logic can be
// driven deterministically in tests. Production code uses RealClock.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time surface the coordination core depends on.
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// Since returns the time elapsed since t
	Since(t time.Time) time.Duration

	// After waits for the duration to elapse and then sends the current time on the returned channel
	After(d time.Duration) <-chan time.Time

	// AfterFunc waits for the duration to elapse and then calls f in its own goroutine.
	// It returns a Timer whose Stop method cancels the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer represents a single scheduled event.
type Timer interface {
	// Stop prevents the Timer from firing. Returns true if the call stops the
	// timer, false if the timer has already expired or been stopped.
	Stop() bool

	// Reset changes the timer to expire after duration d. Returns true if the
	// timer had been active.
	Reset(d time.Duration) bool
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// NewRealClock creates a new RealClock instance
func NewRealClock() *RealClock { return &RealClock{} }

func (c *RealClock) Now() time.Time                         { return time.Now() }
func (c *RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (c *RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{timer: time.AfterFunc(d, f)}
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) Stop() bool                 { return t.timer.Stop() }
func (t *realTimer) Reset(d time.Duration) bool { return t.timer.Reset(d) }

// MockClock is a Clock for tests. Time only moves through Advance or Set;
// expired timers fire synchronously on the advancing goroutine, in
// deadline order.
type MockClock struct {
	mu      sync.Mutex
	current time.Time
	timers  []*mockTimer
}

// NewMockClock creates a MockClock starting at the given time.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{current: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *MockClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Sub(t)
}

func (c *MockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	c.AfterFunc(d, func() {
		ch <- c.Now()
	})
	return ch
}

func (c *MockClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &mockTimer{
		clock:    c,
		deadline: c.current.Add(d),
		f:        f,
		active:   true,
	}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing expired timers. A timer
// callback may itself schedule new timers; those fire too if they fall
// within the advanced window.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()
	c.advanceTo(target)
}

// Set moves the clock to t, firing expired timers when t is in the future.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	backwards := !t.After(c.current)
	if backwards {
		c.current = t
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.advanceTo(t)
}

func (c *MockClock) advanceTo(target time.Time) {
	for {
		t := c.popNextExpired(target)
		if t == nil {
			break
		}
		t.fire()
	}

	c.mu.Lock()
	c.current = target
	c.mu.Unlock()
}

// popNextExpired advances current to the earliest expired timer's
// deadline, removes it from the queue and returns it, or returns nil when
// nothing expires before target.
func (c *MockClock) popNextExpired(target time.Time) *mockTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.SliceStable(c.timers, func(i, j int) bool {
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})

	for i, t := range c.timers {
		t.mu.Lock()
		ok := t.active && !t.deadline.After(target)
		t.mu.Unlock()
		if ok {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			if t.deadline.After(c.current) {
				c.current = t.deadline
			}
			return t
		}
	}
	return nil
}

type mockTimer struct {
	clock    *MockClock
	mu       sync.Mutex
	deadline time.Time
	f        func()
	active   bool
}

func (t *mockTimer) fire() {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return
	}
	t.active = false
	f := t.f
	t.mu.Unlock()
	f()
}

func (t *mockTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	wasActive := t.active
	t.active = false
	return wasActive
}

func (t *mockTimer) Reset(d time.Duration) bool {
	deadline := t.clock.Now().Add(d)

	t.mu.Lock()
	wasActive := t.active
	t.active = true
	t.deadline = deadline
	t.mu.Unlock()

	if !wasActive {
		t.clock.mu.Lock()
		t.clock.timers = append(t.clock.timers, t)
		t.clock.mu.Unlock()
	}
	return wasActive
}
