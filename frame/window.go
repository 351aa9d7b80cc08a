package frame

import (
	"github.com/voxcast/voxcast/camera"
	"github.com/voxcast/voxcast/gpu"
)

type EventKind int

const (
	EventClose EventKind = iota
	EventResize
)

// Event is a windowing event relevant to the frame loop.
type Event struct {
	Kind   EventKind
	Width  int
	Height int
}

// Window is the windowing surface the loop renders into.
type Window interface {
	// PollEvents drains the pending events.
	PollEvents() []Event
	// ForceResize rebuilds the swapchain for the current window size. It
	// returns ErrClosed if the window was closed while it waited.
	ForceResize() error
	Swapchain() gpu.Swapchain
}

// Input yields the motion requested by the player this frame.
type Input interface {
	Motion() camera.Motion
}
