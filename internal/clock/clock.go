// Package clock provides the presentation-time clock used by encoder
// pipelines. Time is measured in microseconds from the session epoch with
// every paused interval removed.
package clock

import (
	"sync"
	"time"
)

// WallFunc returns the current wall time.
type WallFunc func() time.Time

// Clock computes presentation timestamps. While paused it stands still.
type Clock struct {
	mu       sync.Mutex
	wall     WallFunc
	epoch    time.Time
	offset   int64
	pausedAt int64
	paused   bool
}

// New creates a clock whose zero is epoch. A nil wall uses time.Now.
func New(epoch time.Time, wall WallFunc) *Clock {
	if wall == nil {
		wall = time.Now
	}
	return &Clock{wall: wall, epoch: epoch}
}

func (c *Clock) wallMicros() int64 {
	return c.wall().Sub(c.epoch).Microseconds()
}

// Now returns wall microseconds since the epoch minus the accumulated pause
// offset. While paused it returns the time at which the pause began.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return c.pausedAt - c.offset
	}
	return c.wallMicros() - c.offset
}

// Pause records the start of a pause. Pausing a paused clock does nothing.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.pausedAt = c.wallMicros()
	c.paused = true
}

// Resume adds the time spent since Pause to the offset. Resuming a running
// clock does nothing.
func (c *Clock) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.offset += c.wallMicros() - c.pausedAt
	c.paused = false
}

// Offset returns the total paused duration so far.
func (c *Clock) Offset() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.offset) * time.Microsecond
}

// Monotonic coerces a per-track timestamp sequence to be non-decreasing.
// Not safe for concurrent use; each pipeline owns one.
type Monotonic struct {
	last int64
	seen bool
}

// Coerce returns ts, or the previous value if ts went backwards.
func (m *Monotonic) Coerce(ts int64) int64 {
	if m.seen && ts < m.last {
		ts = m.last
	}
	m.last = ts
	m.seen = true
	return ts
}
