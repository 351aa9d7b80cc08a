package frame_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxcast/voxcast/camera"
	"github.com/voxcast/voxcast/frame"
	"github.com/voxcast/voxcast/gpu"
	"github.com/voxcast/voxcast/gpu/gputest"
	"github.com/voxcast/voxcast/input"
	"github.com/voxcast/voxcast/log"
	"github.com/voxcast/voxcast/stager"
)

func TestFirstFrameUploadsIdentityCamera(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.step(t)

	p := h.payload(t)
	assert.Equal(t, mgl32.Vec4{0, 0, 0, 1}, p.Position)
	assert.Equal(t, mgl32.Ident4(), p.Basis)

	assert.Equal(t, frame.Idle, h.ctrl.State())
	assert.Equal(t, 1, h.ctrl.Stats().Frames)
	assert.Len(t, h.queue.Submissions, 1)
	require.Len(t, h.queue.Presents, 1)
	assert.NoError(t, h.queue.Presents[0].Err)
}

func TestMoveRightScalesWithSpeedAndTime(t *testing.T) {
	src := &input.StateSource{Keys: map[input.Key]bool{input.KeyD: true}}
	opts := frame.DefaultOptions
	opts.Controls = camera.Controls{MoveSpeed: 2}
	h := newHarness(t, input.DefaultActions(src), opts)

	// The first iteration has no elapsed time to move by.
	h.step(t)
	assert.Equal(t, mgl32.Vec4{0, 0, 0, 1}, h.payload(t).Position)

	h.now += 500 * time.Millisecond
	h.step(t)

	p := h.payload(t)
	assert.Equal(t, float32(1), p.Position.X())
	assert.Equal(t, float32(0), p.Position.Y())
	assert.Equal(t, float32(0), p.Position.Z())
	assert.Equal(t, float32(1), p.Position.W())
}

func TestFrameCommandOrder(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.step(t)

	cmds := h.lastCommands(t)
	require.Len(t, cmds, 5)

	assert.Equal(t, gputest.OpBindDescriptorSet, cmds[0].Op)
	assert.Equal(t, h.res.Set, cmds[0].Set)
	assert.Equal(t, gputest.OpBindPipeline, cmds[1].Op)

	image := h.queue.Presents[0].Image.Image
	assert.Equal(t, gputest.Command{Op: gputest.OpImageBarrier, Barrier: gpu.ImageBarrier{
		Image:     image,
		OldLayout: gpu.LayoutUndefined,
		NewLayout: gpu.LayoutGeneral,
		SrcStage:  gpu.StageTopOfPipe,
		DstStage:  gpu.StageComputeShader,
		DstAccess: gpu.AccessShaderWrite,
	}}, cmds[2])

	assert.Equal(t, gputest.OpDispatch, cmds[3].Op)
	assert.Equal(t, [3]int{75, 50, 1}, cmds[3].Groups)

	assert.Equal(t, gputest.Command{Op: gputest.OpImageBarrier, Barrier: gpu.ImageBarrier{
		Image:     image,
		OldLayout: gpu.LayoutGeneral,
		NewLayout: gpu.LayoutPresentSrc,
		SrcStage:  gpu.StageComputeShader,
		DstStage:  gpu.StageBottomOfPipe,
		SrcAccess: gpu.AccessShaderWrite,
	}}, cmds[4])
}

func TestDispatchCoversPartialGroups(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.window.size = gpu.Extent{Width: 601, Height: 399}
	h.window.batches = [][]frame.Event{{{Kind: frame.EventResize, Width: 601, Height: 399}}}
	h.step(t)

	cmds := h.lastCommands(t)
	assert.Equal(t, [3]int{76, 50, 1}, cmds[3].Groups)
}

func TestSubmissionSignalsWhatPresentWaitsOn(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.step(t)
	h.step(t)

	for i, sub := range h.queue.Submissions {
		require.Len(t, sub.Signal, 1)
		assert.Empty(t, sub.Wait)
		assert.Equal(t, sub.Signal, h.queue.Presents[i].Wait)
	}
}

func TestTargetImageRebindEveryFrame(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)

	var views []gpu.ImageView
	for i := 0; i < 4; i++ {
		h.step(t)

		w, ok := h.dev.Binding(h.res.Set, stager.BindingTarget)
		require.True(t, ok)
		assert.Equal(t, gpu.StorageImage, w.Kind)
		assert.Equal(t, gpu.LayoutGeneral, w.Layout)

		img, err := h.dev.ViewImage(w.View)
		require.NoError(t, err)
		assert.Equal(t, h.queue.Presents[i].Image.Image, img)
		views = append(views, w.View)

		live := h.dev.Live()
		assert.Equal(t, 1, live.Views, "previous view released")
		assert.Equal(t, 1, live.CommandBuffers, "previous command buffer released")
		assert.Zero(t, live.Fences, "acquire fences released")
	}

	for i := 1; i < len(views); i++ {
		assert.NotEqual(t, views[i-1], views[i])
	}

	// Camera and voxel bindings are untouched.
	_, ok := h.dev.Binding(h.res.Set, stager.BindingCamera)
	assert.True(t, ok)
	_, ok = h.dev.Binding(h.res.Set, stager.BindingVoxels)
	assert.True(t, ok)
}

func TestResizeEventsAreCoalesced(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.window.batches = [][]frame.Event{{
		{Kind: frame.EventResize, Width: 640, Height: 480},
		{Kind: frame.EventResize, Width: 700, Height: 500},
		{Kind: frame.EventResize, Width: 800, Height: 600},
	}}
	h.window.size = gpu.Extent{Width: 800, Height: 600}

	h.step(t)
	assert.Equal(t, 1, h.window.forcedResizes)
	assert.Equal(t, 1, h.ctrl.Stats().Resizes)
	assert.Equal(t, [3]int{100, 75, 1}, h.lastCommands(t)[3].Groups)

	h.step(t)
	assert.Equal(t, 1, h.window.forcedResizes)
}

func TestOutOfDateAcquireResizesAndRetries(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.window.sc.FailAcquire(3, gpu.ErrOutOfDate)

	h.step(t)

	stats := h.ctrl.Stats()
	assert.Equal(t, 3, stats.AcquireRetries)
	assert.Equal(t, 3, stats.Resizes)
	assert.Equal(t, 3, h.window.sc.Recreations)
	assert.Equal(t, 1, stats.Frames)
	assert.Zero(t, h.dev.Live().Fences)
}

func TestNotReadyAcquireRetriesWithoutResize(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.window.sc.FailAcquire(2, gpu.ErrNotReady)

	h.step(t)

	assert.Equal(t, 2, h.ctrl.Stats().AcquireRetries)
	assert.Zero(t, h.window.forcedResizes)
}

func TestAcquireRetriesAreBounded(t *testing.T) {
	opts := frame.DefaultOptions
	opts.Retry = frame.RetryPolicy{MaxAttempts: 2}
	h := newHarness(t, fixedInput{}, opts)
	h.window.sc.FailAcquire(5, gpu.ErrOutOfDate)

	running, err := h.ctrl.Step()
	assert.False(t, running)
	assert.ErrorIs(t, err, frame.ErrAcquireExhausted)
	assert.Equal(t, 2, h.ctrl.Stats().AcquireRetries)
	assert.Empty(t, h.queue.Submissions)
	assert.Zero(t, h.dev.Live().Fences)
}

func TestAcquireFailureIsFatal(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	lost := errors.New("device lost")
	h.window.sc.FailAcquire(1, lost)

	running, err := h.ctrl.Step()
	assert.False(t, running)
	assert.ErrorIs(t, err, lost)
	assert.Zero(t, h.ctrl.Stats().AcquireRetries)
}

func TestSuboptimalAcquireRendersThenResizes(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.window.sc.FailAcquire(1, gpu.ErrSuboptimal)

	h.step(t)
	assert.Equal(t, 1, h.ctrl.Stats().Frames)
	assert.Zero(t, h.window.forcedResizes)

	h.step(t)
	assert.Equal(t, 1, h.window.forcedResizes)
	assert.Equal(t, 2, h.ctrl.Stats().Frames)
}

func TestPresentFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.queue.FailPresent(1, gpu.ErrOutOfDate)

	h.step(t)
	h.step(t)

	stats := h.ctrl.Stats()
	assert.Equal(t, 1, stats.PresentFailures)
	assert.Equal(t, 2, stats.Frames)
	require.Len(t, h.queue.Presents, 2)
	assert.ErrorIs(t, h.queue.Presents[0].Err, gpu.ErrOutOfDate)
	assert.NoError(t, h.queue.Presents[1].Err)
}

func TestCloseEventTerminates(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.window.batches = [][]frame.Event{nil, {{Kind: frame.EventClose}}}

	h.step(t)

	running, err := h.ctrl.Step()
	assert.NoError(t, err)
	assert.False(t, running)
	assert.Equal(t, frame.Terminated, h.ctrl.State())
	assert.Len(t, h.queue.Submissions, 1)

	_, err = h.ctrl.Step()
	assert.ErrorIs(t, err, frame.ErrTerminated)
}

func TestCloseWhileWaitingOutOfDateResizeTerminates(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.window.sc.FailAcquire(1000, gpu.ErrOutOfDate)
	h.window.closeOnResize = true

	running, err := h.ctrl.Step()
	assert.NoError(t, err)
	assert.False(t, running)
	assert.Equal(t, frame.Terminated, h.ctrl.State())
	assert.Equal(t, 1, h.window.forcedResizes)
	assert.Equal(t, 1, h.ctrl.Stats().AcquireRetries)
	assert.Empty(t, h.queue.Submissions)
	assert.Zero(t, h.dev.Live().Fences)

	_, err = h.ctrl.Step()
	assert.ErrorIs(t, err, frame.ErrTerminated)
}

func TestCloseWhileWaitingEventResizeTerminates(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.window.batches = [][]frame.Event{{{Kind: frame.EventResize, Width: 0, Height: 0}}}
	h.window.closeOnResize = true

	running, err := h.ctrl.Step()
	assert.NoError(t, err)
	assert.False(t, running)
	assert.Equal(t, frame.Terminated, h.ctrl.State())
	assert.Empty(t, h.queue.Submissions)
}

func TestRunStopsWhenClosedDuringResize(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.window.sc.FailAcquire(1000, gpu.ErrOutOfDate)
	h.window.closeOnResize = true

	require.NoError(t, h.ctrl.Run(context.Background()))
	assert.Zero(t, h.ctrl.Stats().Frames)
}

func TestStepRejectsReentry(t *testing.T) {
	in := &reentrantInput{}
	h := newHarness(t, in, frame.DefaultOptions)
	in.ctrl = h.ctrl

	h.step(t)

	assert.False(t, in.running)
	require.Error(t, in.err)
	assert.True(t, errors.IsAssertionFailure(in.err), "%v", in.err)
	assert.Len(t, h.queue.Submissions, 1, "the nested step did no work")

	// The guard is released once the outer step returns.
	in.ctrl = nil
	h.step(t)
	assert.Equal(t, 2, h.ctrl.Stats().Frames)
}

func TestRunStopsOnClose(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.window.batches = [][]frame.Event{nil, nil, nil, {{Kind: frame.EventClose}}}

	require.NoError(t, h.ctrl.Run(context.Background()))
	assert.Equal(t, 3, h.ctrl.Stats().Frames)
}

func TestRunWithRateLogging(t *testing.T) {
	log.SetLevel(log.Info)
	defer log.SetLevel(log.Notice)

	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.window.batches = [][]frame.Event{nil, nil, {{Kind: frame.EventClose}}}

	require.NoError(t, h.ctrl.Run(context.Background()))
	assert.Equal(t, 2, h.ctrl.Stats().Frames)
}

func TestRunHonorsCancellation(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, h.ctrl.Run(ctx), context.Canceled)
	assert.Zero(t, h.ctrl.Stats().Frames)
}

func TestCloseReleasesFrameObjects(t *testing.T) {
	h := newHarness(t, fixedInput{}, frame.DefaultOptions)
	h.step(t)
	h.step(t)

	require.NoError(t, h.ctrl.Close())
	live := h.dev.Live()
	assert.Zero(t, live.Views)
	assert.Zero(t, live.CommandBuffers)
	assert.Zero(t, live.Semaphores)
	assert.Zero(t, live.Fences)

	require.NoError(t, h.res.Release(h.dev))
	assert.Equal(t, gputest.Live{DescriptorSets: 1}, h.dev.Live())
	assert.Equal(t, frame.Terminated, h.ctrl.State())
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	_, err := frame.New(frame.Deps{}, frame.DefaultOptions)
	assert.Error(t, err)
}
