package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/voxcast/voxcast/gpu"
)

// Queue implements gpu.Queue on the compute queue, which also presents.
type Queue struct {
	dev   *Device
	queue core1_0.Queue
}

var _ gpu.Queue = (*Queue)(nil)

func (q *Queue) semaphores(handles []gpu.Semaphore) ([]core1_0.Semaphore, error) {
	out := make([]core1_0.Semaphore, 0, len(handles))
	for _, h := range handles {
		s, err := q.dev.semaphores.Get(h.Handle)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Submit queues the command buffers behind an internal fence so that
// freeing them later waits for their retirement.
func (q *Queue) Submit(s gpu.Submission) error {
	if len(s.Wait) != len(s.WaitStages) {
		return errors.AssertionFailedf("vulkan: %d wait semaphores with %d stages", len(s.Wait), len(s.WaitStages))
	}

	cmds, err := q.dev.commandBuffers(s.CommandBuffers)
	if err != nil {
		return err
	}
	wait, err := q.semaphores(s.Wait)
	if err != nil {
		return errors.Wrap(err, "wait semaphores")
	}
	signal, err := q.semaphores(s.Signal)
	if err != nil {
		return errors.Wrap(err, "signal semaphores")
	}

	stages := make([]core1_0.PipelineStageFlags, 0, len(s.WaitStages))
	for _, stage := range s.WaitStages {
		stages = append(stages, pipelineStages(stage))
	}

	_, err = q.dev.submit(q.queue, core1_0.SubmitInfo{
		WaitSemaphores:   wait,
		WaitDstStageMask: stages,
		CommandBuffers:   cmds,
		SignalSemaphores: signal,
	}, s.CommandBuffers)
	return err
}

func (q *Queue) Present(p gpu.Presentation) error {
	sc, ok := p.Swapchain.(*Swapchain)
	if !ok {
		return errors.AssertionFailedf("vulkan: cannot present to %T", p.Swapchain)
	}
	wait, err := q.semaphores(p.Wait)
	if err != nil {
		return errors.Wrap(err, "wait semaphores")
	}

	res, err := sc.ctx.swapchainExtension.QueuePresent(q.queue, khr_swapchain.PresentInfo{
		WaitSemaphores: wait,
		Swapchains:     []khr_swapchain.Swapchain{sc.swapchain},
		ImageIndices:   []int{p.Image.Index},
	})
	return checkResult(res, err)
}
