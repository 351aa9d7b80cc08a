package frame

import (
	"time"

	"github.com/loov/hrtime"
)

// Clock measures the time between the end of one iteration and the start of
// the next.
type Clock struct {
	now    func() time.Duration
	last   time.Duration
	marked bool
}

// NewClock returns a clock backed by the high resolution timer.
func NewClock() *Clock {
	return NewClockFunc(hrtime.Now)
}

// NewClockFunc returns a clock reading time from now.
func NewClockFunc(now func() time.Duration) *Clock {
	return &Clock{now: now}
}

// Delta returns the seconds elapsed since the last Mark, or 0 before the
// first one.
func (c *Clock) Delta() float32 {
	if !c.marked {
		return 0
	}
	return float32((c.now() - c.last).Seconds())
}

// Mark records the end of an iteration.
func (c *Clock) Mark() {
	c.last = c.now()
	c.marked = true
}
