package gputest

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/voxcast/voxcast/gpu"
)

// Submitted is a logged queue submission with a snapshot of the commands
// of every submitted buffer.
type Submitted struct {
	gpu.Submission
	Commands [][]Command
}

// Presented is a logged presentation attempt.
type Presented struct {
	gpu.Presentation
	Err error
}

// Queue implements gpu.Queue on top of a Device.
type Queue struct {
	dev *Device

	Submissions []Submitted
	Presents    []Presented

	presentFailures []error
}

var _ gpu.Queue = (*Queue)(nil)

func NewQueue(dev *Device) *Queue {
	return &Queue{dev: dev}
}

// FailPresent makes the next n presentations fail with err.
func (q *Queue) FailPresent(n int, err error) {
	for i := 0; i < n; i++ {
		q.presentFailures = append(q.presentFailures, err)
	}
}

func (q *Queue) Submit(s gpu.Submission) error {
	entry := Submitted{Submission: s}
	for _, cb := range s.CommandBuffers {
		buf, err := q.dev.cmds.Get(cb.Handle)
		if err != nil {
			return err
		}
		if !buf.recorded {
			return errors.Newf("gputest: submitting unrecorded command buffer %s", cb.Handle)
		}
		entry.Commands = append(entry.Commands, append([]Command(nil), buf.commands...))
	}
	for _, sem := range s.Wait {
		if err := q.consume(sem); err != nil {
			return err
		}
	}
	for _, sem := range s.Signal {
		signaled, err := q.dev.semaphores.Get(sem.Handle)
		if err != nil {
			return err
		}
		if *signaled {
			return errors.Newf("gputest: semaphore %s signaled twice without a wait", sem.Handle)
		}
		*signaled = true
	}

	q.Submissions = append(q.Submissions, entry)
	return nil
}

func (q *Queue) consume(sem gpu.Semaphore) error {
	signaled, err := q.dev.semaphores.Get(sem.Handle)
	if err != nil {
		return err
	}
	if !*signaled {
		return errors.Newf("gputest: waiting on semaphore %s that is never signaled", sem.Handle)
	}
	*signaled = false
	return nil
}

func (q *Queue) Present(p gpu.Presentation) error {
	sc, ok := p.Swapchain.(*Swapchain)
	if !ok || sc.dev != q.dev {
		return errors.AssertionFailedf("gputest: presenting foreign swapchain %T", p.Swapchain)
	}
	if err := sc.release(p.Image); err != nil {
		return err
	}
	for _, sem := range p.Wait {
		if err := q.consume(sem); err != nil {
			return err
		}
	}

	var err error
	if len(q.presentFailures) > 0 {
		err = q.presentFailures[0]
		q.presentFailures = q.presentFailures[1:]
	}
	q.Presents = append(q.Presents, Presented{Presentation: p, Err: err})
	return err
}

// Swapchain implements gpu.Swapchain with a fixed number of images handed
// out round robin.
type Swapchain struct {
	dev    *Device
	extent gpu.Extent
	images []gpu.Image
	held   []bool
	next   int

	// Recreations counts calls to Recreate.
	Recreations int
	// Acquires counts successful acquisitions.
	Acquires int

	acquireFailures []error
}

var _ gpu.Swapchain = (*Swapchain)(nil)

func NewSwapchain(dev *Device, extent gpu.Extent, imageCount int) *Swapchain {
	sc := &Swapchain{dev: dev}
	sc.build(extent, imageCount)
	return sc
}

func (s *Swapchain) build(extent gpu.Extent, imageCount int) {
	s.extent = extent
	s.images = make([]gpu.Image, imageCount)
	s.held = make([]bool, imageCount)
	s.next = 0
	for i := range s.images {
		s.images[i] = s.dev.CreateImage(fmt.Sprintf("swap-%d-%d", s.Recreations, i))
	}
}

// FailAcquire makes the next n acquisitions fail with err. ErrSuboptimal
// still hands out an image.
func (s *Swapchain) FailAcquire(n int, err error) {
	for i := 0; i < n; i++ {
		s.acquireFailures = append(s.acquireFailures, err)
	}
}

func (s *Swapchain) AcquireNextImage(signal gpu.Fence) (gpu.SwapImage, error) {
	var injected error
	if len(s.acquireFailures) > 0 {
		injected = s.acquireFailures[0]
		s.acquireFailures = s.acquireFailures[1:]
		if !errors.Is(injected, gpu.ErrSuboptimal) {
			return gpu.SwapImage{}, injected
		}
	}

	idx := -1
	for i := 0; i < len(s.images); i++ {
		candidate := (s.next + i) % len(s.images)
		if !s.held[candidate] {
			idx = candidate
			break
		}
	}
	if idx < 0 {
		return gpu.SwapImage{}, errors.New("gputest: every swapchain image is already acquired")
	}
	if err := s.dev.signalFence(signal); err != nil {
		return gpu.SwapImage{}, err
	}

	s.held[idx] = true
	s.next = (idx + 1) % len(s.images)
	s.Acquires++
	return gpu.SwapImage{Index: idx, Image: s.images[idx]}, injected
}

func (s *Swapchain) release(img gpu.SwapImage) error {
	if img.Index < 0 || img.Index >= len(s.images) || s.images[img.Index] != img.Image {
		return errors.Newf("gputest: presenting unknown image %d", img.Index)
	}
	if !s.held[img.Index] {
		return errors.Newf("gputest: presenting image %d that was not acquired", img.Index)
	}
	s.held[img.Index] = false
	return nil
}

func (s *Swapchain) Extent() gpu.Extent {
	return s.extent
}

func (s *Swapchain) Recreate(size gpu.Extent) error {
	for _, img := range s.images {
		if err := s.dev.DestroyImage(img); err != nil {
			return err
		}
	}
	s.Recreations++
	s.build(size, len(s.images))
	return nil
}

// Images returns the current swapchain images.
func (s *Swapchain) Images() []gpu.Image {
	return append([]gpu.Image(nil), s.images...)
}
