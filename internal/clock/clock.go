// Package clock implements the process-wide time service: a monotonic
// Now() plus SinceEpoch(), with a Set() call
// reserved for the time-sync authority and idempotent under repeated
// application.
package clock

import (
	"sync"
	"time"
)

// Clock is a process-wide service. Construct one with New and inject it;
// never reach it through a package-level variable.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration // applied to monotonic reads to produce epoch time
	nowFn  func() time.Time
}

// New constructs a Clock whose SinceEpoch() initially tracks the OS wall
// clock.
func New() *Clock {
	return &Clock{nowFn: time.Now}
}

// newWithSource is used by tests to inject a deterministic time source.
func newWithSource(nowFn func() time.Time) *Clock {
	return &Clock{nowFn: nowFn}
}

// Now returns the monotonic instant used for scheduling/deadline math.
func (c *Clock) Now() time.Time {
	return c.nowFn()
}

// SinceEpoch returns seconds since the Unix epoch, per the double-precision
// convention used throughout the message catalog.
func (c *Clock) SinceEpoch() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t := c.nowFn().Add(c.offset)
	return float64(t.UnixNano()) / 1e9
}

// Set applies a correction so that SinceEpoch() subsequently reports
// epochSeconds at the current instant. It is idempotent: calling Set twice
// with clock readings taken at the same instant produces the same offset,
// and repeated application of the same correction is a no-op beyond the
// first.
func (c *Clock) Set(epochSeconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFn()
	wantEpoch := time.Unix(0, int64(epochSeconds*1e9))
	c.offset = wantEpoch.Sub(now)
}
