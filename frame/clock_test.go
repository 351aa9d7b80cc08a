package frame_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/voxcast/voxcast/frame"
)

func TestClockDelta(t *testing.T) {
	var now time.Duration
	c := frame.NewClockFunc(func() time.Duration { return now })

	now = 3 * time.Second
	assert.Zero(t, c.Delta(), "no delta before the first mark")

	c.Mark()
	now += 250 * time.Millisecond
	assert.Equal(t, float32(0.25), c.Delta())

	// Delta does not reset the clock.
	now += 250 * time.Millisecond
	assert.Equal(t, float32(0.5), c.Delta())

	c.Mark()
	assert.Zero(t, c.Delta())
}
