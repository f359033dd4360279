// Package clock drives the passage of time inside the engine.
//
// The engine never reads the wall clock while handling a request. Instead a
// Timer goroutine measures elapsed time with a Clock and injects it into the
// inbound channel as timer requests, interleaved with messages in arrival
// order. Two rules hold for the produced deltas:
//
//	R1 (monotonic): every delta is >= 0.
//	R2 (non-overlapping): each delta covers exactly the interval since the
//	    previous tick, so the deltas of a run sum to the time since start.
//
// Note: Clock is not goroutine-safe. Each Clock is owned by a single Timer.
package clock

import "time"

// Clock measures the time between consecutive ticks. Not goroutine-safe;
// see package doc.
type Clock struct {
	now  func() time.Time
	last time.Time
}

// New returns a clock whose first interval starts now. A nil now uses
// time.Now, whose readings carry a monotonic component.
func New(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now, last: now()}
}

// Tick ends the current interval and starts the next one. Returns the length
// of the interval that just ended, never negative.
func (c *Clock) Tick() time.Duration {
	t := c.now()
	d := t.Sub(c.last)
	if d < 0 {
		d = 0
	} else {
		c.last = t
	}
	return d
}

// Last returns the instant the current interval started.
func (c *Clock) Last() time.Time { return c.last }
