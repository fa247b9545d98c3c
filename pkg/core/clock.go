package core

import (
	"sync"
	"time"
)

// WakeClock supplies wall-clock time and the time of the most recent system
// wake. The receiver uses it so that time spent asleep does not count against
// a stall budget.
type WakeClock interface {
	// Now returns the current wall-clock time without a monotonic reading.
	Now() time.Time

	// LastWake returns the wall-clock time of the last wake from sleep, or
	// the zero time if none has been observed.
	LastWake() time.Time
}

// wakeSkew is the minimum wall/monotonic divergence treated as a sleep.
const wakeSkew = 2 * time.Second

// SystemClock is a WakeClock backed by the host clock. The monotonic clock
// does not advance while the machine is suspended and the wall clock does,
// so a divergence between the two between samples marks a wake. A large
// wall-clock step (NTP) is indistinguishable and is also reported as a wake.
type SystemClock struct {
	mu       sync.Mutex
	last     time.Time
	lastWake time.Time
}

// NewSystemClock creates a SystemClock.
func NewSystemClock() *SystemClock {
	return &SystemClock{last: time.Now()}
}

// Now implements WakeClock.
func (c *SystemClock) Now() time.Time {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.last.IsZero() {
		wall := now.Round(0).Sub(c.last.Round(0))
		mono := now.Sub(c.last)
		if wall-mono > wakeSkew {
			c.lastWake = now.Round(0)
		}
	}
	c.last = now
	return now.Round(0)
}

// LastWake implements WakeClock.
func (c *SystemClock) LastWake() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastWake
}

// MarkWake records an externally observed wake, e.g. from a power event.
func (c *SystemClock) MarkWake(t time.Time) {
	c.mu.Lock()
	if t.After(c.lastWake) {
		c.lastWake = t.Round(0)
	}
	c.mu.Unlock()
}
