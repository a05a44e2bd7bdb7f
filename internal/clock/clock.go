// Package clock provides the live and the controllable implementations of ports.Clock.
package clock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeReversal is returned when a TestClock is asked to move backwards.
var ErrTimeReversal = errors.New("clock cannot move backwards")

// LiveClock reads the system wall clock in UTC.
type LiveClock struct{}

// NewLiveClock creates a LiveClock.
func NewLiveClock() *LiveClock { return &LiveClock{} }

func (*LiveClock) Now() time.Time                { return time.Now().UTC() }
func (*LiveClock) AdvanceTo(time.Time) error     { return nil }
func (*LiveClock) AdvanceBy(time.Duration) error { return nil }

// TestClock only moves when told to.
type TestClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewTestClock creates a TestClock set to start.
func NewTestClock(start time.Time) *TestClock {
	return &TestClock{now: start.UTC()}
}

// Now returns the clock's current time.
func (c *TestClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AdvanceTo sets the clock to t. Setting it to the current time is a no-op.
func (c *TestClock) AdvanceTo(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Before(c.now) {
		return fmt.Errorf("%w: %s is before %s", ErrTimeReversal, t.UTC().Format(time.RFC3339Nano), c.now.Format(time.RFC3339Nano))
	}
	c.now = t.UTC()
	return nil
}

// AdvanceBy moves the clock forward by d.
func (c *TestClock) AdvanceBy(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("%w: negative duration %s", ErrTimeReversal, d)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return nil
}
