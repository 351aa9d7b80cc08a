// Package frame drives the render loop: it steers the camera, acquires a
// swapchain image, records and submits the compute dispatch and presents
// the result, one frame at a time.
package frame

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/voxcast/voxcast/camera"
	"github.com/voxcast/voxcast/gpu"
	"github.com/voxcast/voxcast/log"
	"github.com/voxcast/voxcast/stager"
	"golang.org/x/sync/semaphore"
)

var logger = log.New("voxcast/frame")

var (
	ErrAcquireExhausted = errors.New("frame: image acquisition retries exhausted")
	ErrTerminated       = errors.New("frame: loop terminated")
	// ErrClosed is returned by Window.ForceResize when the window was closed
	// while it waited to become drawable again.
	ErrClosed = errors.New("frame: window closed")
)

type State int

const (
	Idle State = iota
	AcquireImage
	Record
	Submit
	Present
	Terminated
)

func (s State) String() string {
	switch s {
	case AcquireImage:
		return "acquire-image"
	case Record:
		return "record"
	case Submit:
		return "submit"
	case Present:
		return "present"
	case Terminated:
		return "terminated"
	}
	return "idle"
}

// RetryPolicy bounds image acquisition attempts within one iteration.
// MaxAttempts 0 retries forever, which hangs if the surface never recovers.
type RetryPolicy struct {
	MaxAttempts int
}

func (p RetryPolicy) allows(attempt int) bool {
	return p.MaxAttempts <= 0 || attempt < p.MaxAttempts
}

// Options tune the loop.
type Options struct {
	Controls camera.Controls
	Retry    RetryPolicy

	// WorkGroup is the local size of the compute shader; the dispatch covers
	// the swapchain extent with groups of this size.
	WorkGroup [2]int
}

// DefaultOptions match the bundled shader.
var DefaultOptions = Options{
	Controls:  camera.DefaultControls,
	WorkGroup: [2]int{8, 8},
}

// Deps are the collaborators of a Controller. Clock may be nil.
type Deps struct {
	Device    gpu.Device
	Queue     gpu.Queue
	Window    Window
	Input     Input
	Pipeline  gpu.Pipeline
	Resources *stager.Resources
	Camera    *camera.Basis
	Clock     *Clock
}

// Stats counts what happened over the lifetime of a Controller.
type Stats struct {
	Frames          int
	AcquireRetries  int
	PresentFailures int
	Resizes         int
}

type frameObjects struct {
	cmd  gpu.CommandBuffer
	view gpu.ImageView
}

// Controller runs the frame loop. It is not safe for concurrent use; at
// most one frame is ever in flight.
type Controller struct {
	deps Deps
	opts Options

	done     gpu.Semaphore
	inFlight *semaphore.Weighted
	// retained holds the objects of the most recently recorded frame until
	// the next acquisition.
	retained frameObjects

	state         State
	resizePending bool
	stats         Stats
}

// New prepares a controller. The camera uniform is rewritten every frame
// and the storage image binding of the resource descriptor set is rebound
// to each acquired image.
func New(deps Deps, opts Options) (*Controller, error) {
	switch {
	case deps.Device == nil, deps.Queue == nil, deps.Window == nil, deps.Input == nil:
		return nil, errors.AssertionFailedf("frame: missing collaborator in %+v", deps)
	case deps.Resources == nil, deps.Camera == nil:
		return nil, errors.AssertionFailedf("frame: missing resources or camera")
	}
	if deps.Clock == nil {
		deps.Clock = NewClock()
	}
	if opts.WorkGroup[0] <= 0 || opts.WorkGroup[1] <= 0 {
		opts.WorkGroup = DefaultOptions.WorkGroup
	}

	done, err := deps.Device.CreateSemaphore()
	if err != nil {
		return nil, errors.Wrap(err, "create frame completion semaphore")
	}

	return &Controller{
		deps:     deps,
		opts:     opts,
		done:     done,
		inFlight: semaphore.NewWeighted(1),
	}, nil
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) Stats() Stats {
	return c.stats
}

// Run steps the loop until the window closes, an iteration fails or ctx is
// cancelled. The frame rate is logged once a second when Info is enabled.
func (c *Controller) Run(ctx context.Context) error {
	reportRate := log.Enabled(log.Info)
	windowStart := hrtime.Now()
	windowFrames := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		running, err := c.Step()
		if err != nil || !running {
			return err
		}

		if !reportRate {
			continue
		}
		windowFrames++
		if elapsed := hrtime.Now() - windowStart; elapsed >= time.Second {
			logger.Infof("%.1f frames/s", float64(windowFrames)/elapsed.Seconds())
			windowStart, windowFrames = hrtime.Now(), 0
		}
	}
}

// Step runs one iteration. It returns false once the window asked to close.
func (c *Controller) Step() (bool, error) {
	if c.state == Terminated {
		return false, ErrTerminated
	}
	if !c.inFlight.TryAcquire(1) {
		return false, errors.AssertionFailedf("frame: Step re-entered while a frame is in flight")
	}
	defer c.inFlight.Release(1)

	if err := c.updateCamera(); err != nil {
		return false, err
	}

	if closed, err := c.handleEvents(); err != nil || closed {
		return false, err
	}

	c.state = AcquireImage
	image, err := c.acquire()
	if errors.Is(err, ErrClosed) {
		c.state = Terminated
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := c.retirePrevious(); err != nil {
		return false, err
	}

	c.state = Record
	cmd, err := c.record(image)
	if err != nil {
		return false, err
	}

	c.state = Submit
	err = c.deps.Queue.Submit(gpu.Submission{
		CommandBuffers: []gpu.CommandBuffer{cmd},
		Signal:         []gpu.Semaphore{c.done},
	})
	if err != nil {
		return false, errors.Wrap(err, "submit frame")
	}

	c.state = Present
	err = c.deps.Queue.Present(gpu.Presentation{
		Swapchain: c.deps.Window.Swapchain(),
		Image:     image,
		Wait:      []gpu.Semaphore{c.done},
	})
	if err != nil {
		// The next acquisition notices a stale surface and recovers.
		c.stats.PresentFailures++
		logger.Warningf("present image %d: %v", image.Index, err)
	}

	c.deps.Clock.Mark()
	c.stats.Frames++
	c.state = Idle
	return true, nil
}

func (c *Controller) updateCamera() error {
	dt := c.deps.Clock.Delta()
	c.deps.Camera.Steer(c.deps.Input.Motion(), c.opts.Controls, dt)

	if err := gpu.WriteMapped(c.deps.Device, c.deps.Resources.Uniform, 0, c.deps.Camera.Payload()); err != nil {
		return errors.Wrap(err, "write camera uniform")
	}
	return nil
}

func (c *Controller) handleEvents() (closed bool, err error) {
	resize := c.resizePending
	for _, ev := range c.deps.Window.PollEvents() {
		switch ev.Kind {
		case EventClose:
			c.state = Terminated
			return true, nil
		case EventResize:
			resize = true
		}
	}

	if resize {
		err := c.resize()
		if errors.Is(err, ErrClosed) {
			c.state = Terminated
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
	return false, nil
}

func (c *Controller) resize() error {
	c.resizePending = false
	c.stats.Resizes++
	if err := c.deps.Window.ForceResize(); err != nil {
		return errors.Wrap(err, "resize swapchain")
	}
	return nil
}

func (c *Controller) acquire() (gpu.SwapImage, error) {
	for attempt := 0; ; attempt++ {
		if !c.opts.Retry.allows(attempt) {
			return gpu.SwapImage{}, errors.Wrapf(ErrAcquireExhausted, "gave up after %d attempts", attempt)
		}

		fence, err := c.deps.Device.CreateFence()
		if err != nil {
			return gpu.SwapImage{}, errors.Wrap(err, "create acquire fence")
		}

		image, err := c.deps.Window.Swapchain().AcquireNextImage(fence)
		if err == nil || errors.Is(err, gpu.ErrSuboptimal) {
			if err != nil {
				c.resizePending = true
			}
			waitErr := c.deps.Device.WaitFence(fence)
			destroyErr := c.deps.Device.DestroyFence(fence)
			if err := errors.CombineErrors(waitErr, destroyErr); err != nil {
				return gpu.SwapImage{}, errors.Wrap(err, "wait for acquired image")
			}
			return image, nil
		}

		if destroyErr := c.deps.Device.DestroyFence(fence); destroyErr != nil {
			return gpu.SwapImage{}, errors.Wrap(destroyErr, "destroy acquire fence")
		}
		if !gpu.IsTransient(err) {
			return gpu.SwapImage{}, errors.Wrap(err, "acquire swapchain image")
		}

		c.stats.AcquireRetries++
		logger.Debugf("acquire attempt %d: %v", attempt+1, err)
		if errors.Is(err, gpu.ErrOutOfDate) {
			if err := c.resize(); err != nil {
				return gpu.SwapImage{}, err
			}
		}
	}
}

func (c *Controller) record(image gpu.SwapImage) (gpu.CommandBuffer, error) {
	dev := c.deps.Device

	view, err := dev.CreateImageView(image.Image)
	if err != nil {
		return gpu.CommandBuffer{}, errors.Wrap(err, "create target image view")
	}
	c.retained.view = view

	err = dev.UpdateDescriptorSet(c.deps.Resources.Set, gpu.DescriptorWrite{
		Binding: stager.BindingTarget,
		Kind:    gpu.StorageImage,
		View:    view,
		Layout:  gpu.LayoutGeneral,
	})
	if err != nil {
		return gpu.CommandBuffer{}, errors.Wrap(err, "bind target image")
	}

	cmd, err := dev.AllocateCommandBuffer()
	if err != nil {
		return gpu.CommandBuffer{}, errors.Wrap(err, "allocate frame command buffer")
	}
	c.retained.cmd = cmd

	extent := c.deps.Window.Swapchain().Extent()
	groupsX := (extent.Width + c.opts.WorkGroup[0] - 1) / c.opts.WorkGroup[0]
	groupsY := (extent.Height + c.opts.WorkGroup[1] - 1) / c.opts.WorkGroup[1]

	err = dev.Record(cmd, func(r gpu.Recorder) error {
		if err := r.BindDescriptorSet(c.deps.Resources.Set); err != nil {
			return err
		}
		if err := r.BindPipeline(c.deps.Pipeline); err != nil {
			return err
		}
		err := r.ImageBarrier(gpu.ImageBarrier{
			Image:     image.Image,
			OldLayout: gpu.LayoutUndefined,
			NewLayout: gpu.LayoutGeneral,
			SrcStage:  gpu.StageTopOfPipe,
			DstStage:  gpu.StageComputeShader,
			DstAccess: gpu.AccessShaderWrite,
		})
		if err != nil {
			return err
		}
		if err := r.Dispatch(groupsX, groupsY, 1); err != nil {
			return err
		}
		return r.ImageBarrier(gpu.ImageBarrier{
			Image:     image.Image,
			OldLayout: gpu.LayoutGeneral,
			NewLayout: gpu.LayoutPresentSrc,
			SrcStage:  gpu.StageComputeShader,
			DstStage:  gpu.StageBottomOfPipe,
			SrcAccess: gpu.AccessShaderWrite,
		})
	})
	if err != nil {
		return gpu.CommandBuffer{}, errors.Wrap(err, "record frame commands")
	}
	return cmd, nil
}

// retirePrevious releases the command buffer and view of the last frame.
func (c *Controller) retirePrevious() error {
	var err error
	if c.retained.cmd.Valid() {
		err = errors.CombineErrors(err, c.deps.Device.FreeCommandBuffer(c.retained.cmd))
	}
	if c.retained.view.Valid() {
		err = errors.CombineErrors(err, c.deps.Device.DestroyImageView(c.retained.view))
	}
	c.retained = frameObjects{}
	return errors.Wrap(err, "release previous frame")
}

// Close waits for the device and frees what the loop still owns.
func (c *Controller) Close() error {
	err := c.deps.Device.WaitIdle()
	err = errors.CombineErrors(err, c.retirePrevious())
	if c.done.Valid() {
		err = errors.CombineErrors(err, c.deps.Device.DestroySemaphore(c.done))
		c.done = gpu.Semaphore{}
	}
	c.state = Terminated
	return err
}
