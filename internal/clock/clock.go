// Package clock abstracts wall-clock time so stores, queues and sweeps can be
// driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// System is the production clock. Times are truncated to microseconds and
// reported in UTC so they round-trip through SQLite unchanged.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Stepping is a deterministic clock that advances by a fixed step on every
// call to Now. Safe for concurrent use.
type Stepping struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewStepping creates a clock starting at start. The first call to Now
// returns start; each later call returns the previous value plus step.
func NewStepping(start time.Time, step time.Duration) *Stepping {
	return &Stepping{now: start.UTC(), step: step}
}

// Now returns the current value and advances the clock.
func (c *Stepping) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Advance moves the clock forward without consuming a reading.
func (c *Stepping) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Peek returns the next value Now would return, without advancing.
func (c *Stepping) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
