// Package clock abstracts the monotonic time source used by the timing
// watchdog and the runtime loop so tests can drive time deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testability. Production code injects
// Real(); tests inject Fake() and advance it explicitly.
//
// Durations must be computed with Since (or Time.Sub on values returned by
// Now) so that the monotonic reading of the real clock is used.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Since returns the time elapsed since t.
	Since(t time.Time) time.Duration
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Since(t time.Time) time.Duration { return time.Since(t) }

// FakeClock is a deterministic Clock. Time stands still until Advance is
// called. It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	stall   time.Duration
}

// Fake returns a FakeClock initialized to the given time.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Since returns the fake time elapsed since t, after applying any pending
// Stall.
func (c *FakeClock) Since(t time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(c.stall)
	c.stall = 0
	return c.current.Sub(t)
}

// Stall makes the next Since call advance the clock by d first, as if the
// measured work had taken d to complete.
func (c *FakeClock) Stall(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.stall += d
	c.mu.Unlock()
}

// Advance moves the clock forward by d. Negative durations are ignored so the
// clock stays monotonic.
func (c *FakeClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}
