package frame_test

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/voxcast/voxcast/camera"
	"github.com/voxcast/voxcast/frame"
	"github.com/voxcast/voxcast/gpu"
	"github.com/voxcast/voxcast/gpu/gputest"
	"github.com/voxcast/voxcast/octree"
	"github.com/voxcast/voxcast/stager"
)

// fakeWindow hands out one batch of scripted events per poll.
type fakeWindow struct {
	sc      *gputest.Swapchain
	size    gpu.Extent
	batches [][]frame.Event

	forcedResizes int
	// closeOnResize makes ForceResize report a close, as a minimized window
	// does when it is closed.
	closeOnResize bool
}

func (w *fakeWindow) PollEvents() []frame.Event {
	if len(w.batches) == 0 {
		return nil
	}
	batch := w.batches[0]
	w.batches = w.batches[1:]
	return batch
}

func (w *fakeWindow) ForceResize() error {
	w.forcedResizes++
	if w.closeOnResize {
		return frame.ErrClosed
	}
	return w.sc.Recreate(w.size)
}

func (w *fakeWindow) Swapchain() gpu.Swapchain {
	return w.sc
}

type fixedInput struct {
	motion camera.Motion
}

func (i fixedInput) Motion() camera.Motion {
	return i.motion
}

// reentrantInput steps the controller from inside Motion.
type reentrantInput struct {
	ctrl    *frame.Controller
	running bool
	err     error
}

func (i *reentrantInput) Motion() camera.Motion {
	if i.ctrl != nil {
		i.running, i.err = i.ctrl.Step()
	}
	return camera.Motion{}
}

type harness struct {
	dev    *gputest.Device
	queue  *gputest.Queue
	window *fakeWindow
	res    *stager.Resources
	cam    *camera.Basis
	now    time.Duration
	ctrl   *frame.Controller
}

func newHarness(t *testing.T, in frame.Input, opts frame.Options) *harness {
	t.Helper()

	dev := gputest.NewDevice()
	size := gpu.Extent{Width: 600, Height: 400}
	h := &harness{
		dev:    dev,
		queue:  gputest.NewQueue(dev),
		window: &fakeWindow{sc: gputest.NewSwapchain(dev, size, 3), size: size},
		cam:    camera.NewBasis(),
	}

	res, err := stager.Stage(dev, octree.Generate(2))
	require.NoError(t, err)
	h.res = res

	h.ctrl, err = frame.New(frame.Deps{
		Device:    dev,
		Queue:     h.queue,
		Window:    h.window,
		Input:     in,
		Pipeline:  dev.CreatePipeline("render"),
		Resources: res,
		Camera:    h.cam,
		Clock:     frame.NewClockFunc(func() time.Duration { return h.now }),
	}, opts)
	require.NoError(t, err)
	return h
}

func (h *harness) step(t *testing.T) {
	t.Helper()
	running, err := h.ctrl.Step()
	require.NoError(t, err)
	require.True(t, running)
}

// payload reads back the camera uniform the last frame wrote.
func (h *harness) payload(t *testing.T) camera.Payload {
	t.Helper()
	data, err := h.dev.ReadBuffer(h.res.Uniform)
	require.NoError(t, err)

	var p camera.Payload
	require.NoError(t, binary.Read(bytes.NewReader(data), binary.LittleEndian, &p))
	return p
}

func (h *harness) lastCommands(t *testing.T) []gputest.Command {
	t.Helper()
	require.NotEmpty(t, h.queue.Submissions)
	last := h.queue.Submissions[len(h.queue.Submissions)-1]
	require.Len(t, last.Commands, 1)
	return last.Commands[0]
}
