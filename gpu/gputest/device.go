// Package gputest provides an in-memory gpu backend for tests. It executes
// transfers on the host, records every command buffer and keeps logs of
// submissions and presentations.
package gputest

import (
	"github.com/cockroachdb/errors"
	"github.com/voxcast/voxcast/gpu"
)

// Op names a recorded command.
type Op string

const (
	OpBindDescriptorSet Op = "bind-descriptor-set"
	OpBindPipeline      Op = "bind-pipeline"
	OpImageBarrier      Op = "image-barrier"
	OpDispatch          Op = "dispatch"
)

// Command is one recorded command. Only the fields relevant to Op are set.
type Command struct {
	Op       Op
	Set      gpu.DescriptorSet
	Pipeline gpu.Pipeline
	Barrier  gpu.ImageBarrier
	Groups   [3]int
}

type buffer struct {
	req    gpu.BufferRequest
	mem    []byte
	mapped bool
}

type commandBuffer struct {
	commands []Command
	recorded bool
}

type descriptorSet struct {
	bindings map[int]gpu.DescriptorWrite
}

// Device implements gpu.Device in host memory.
type Device struct {
	// DescriptorCapacity is the number of descriptor sets that may be
	// allocated at once.
	DescriptorCapacity int

	// Transfers counts submitted transfer orders.
	Transfers int

	buffers    gpu.Pool[*buffer]
	images     gpu.Pool[string]
	views      gpu.Pool[gpu.Image]
	fences     gpu.Pool[*bool]
	semaphores gpu.Pool[*bool]
	sets       gpu.Pool[*descriptorSet]
	cmds       gpu.Pool[*commandBuffer]
	pipelines  gpu.Pool[string]
}

var _ gpu.Device = (*Device)(nil)

// NewDevice returns an empty device with a descriptor pool of one set.
func NewDevice() *Device {
	return &Device{DescriptorCapacity: 1}
}

// CreatePipeline registers a named compute pipeline.
func (d *Device) CreatePipeline(name string) gpu.Pipeline {
	return gpu.Pipeline{Handle: d.pipelines.Insert(name)}
}

// CreateImage registers a named image, as a swapchain would.
func (d *Device) CreateImage(name string) gpu.Image {
	return gpu.Image{Handle: d.images.Insert(name)}
}

// DestroyImage drops an image created by CreateImage.
func (d *Device) DestroyImage(img gpu.Image) error {
	_, err := d.images.Remove(img.Handle)
	return err
}

func (d *Device) CreateBuffer(req gpu.BufferRequest) (gpu.Buffer, error) {
	if req.Size <= 0 {
		return gpu.Buffer{}, errors.Newf("gputest: invalid buffer size %d", req.Size)
	}
	h := d.buffers.Insert(&buffer{req: req, mem: make([]byte, req.Size)})
	return gpu.Buffer{Handle: h}, nil
}

func (d *Device) DestroyBuffer(b gpu.Buffer) error {
	buf, err := d.buffers.Get(b.Handle)
	if err != nil {
		return err
	}
	if buf.mapped {
		return errors.Newf("gputest: destroying mapped buffer %s", b.Handle)
	}
	_, err = d.buffers.Remove(b.Handle)
	return err
}

func (d *Device) MapBuffer(b gpu.Buffer) ([]byte, error) {
	buf, err := d.buffers.Get(b.Handle)
	if err != nil {
		return nil, err
	}
	if buf.req.Memory != gpu.HostVisible {
		return nil, errors.Wrapf(gpu.ErrNotHostVisible, "buffer %s", b.Handle)
	}
	if buf.mapped {
		return nil, errors.Wrapf(gpu.ErrAlreadyMapped, "buffer %s", b.Handle)
	}
	buf.mapped = true
	return buf.mem, nil
}

func (d *Device) UnmapBuffer(b gpu.Buffer) error {
	buf, err := d.buffers.Get(b.Handle)
	if err != nil {
		return err
	}
	if !buf.mapped {
		return errors.Wrapf(gpu.ErrNotMapped, "buffer %s", b.Handle)
	}
	buf.mapped = false
	return nil
}

type transfer struct {
	dst gpu.Buffer
}

func (t transfer) Wait() (gpu.Buffer, error) {
	return t.dst, nil
}

// SubmitTransfer performs the copy immediately.
func (d *Device) SubmitTransfer(order gpu.TransferOrder) (gpu.Transfer, error) {
	src, err := d.buffers.Get(order.Source.Handle)
	if err != nil {
		return nil, errors.Wrap(err, "transfer source")
	}
	if src.req.Usage&gpu.UsageTransferSrc == 0 {
		return nil, errors.Newf("gputest: buffer %s lacks transfer-src usage", order.Source.Handle)
	}
	if src.mapped {
		return nil, errors.Newf("gputest: transfer source %s is still mapped", order.Source.Handle)
	}

	dst, err := d.CreateBuffer(order.Destination)
	if err != nil {
		return nil, err
	}
	dstBuf, _ := d.buffers.Get(dst.Handle)

	for _, region := range order.Regions {
		if region.SrcOffset+region.Size > len(src.mem) || region.DstOffset+region.Size > len(dstBuf.mem) {
			_ = d.DestroyBuffer(dst)
			return nil, errors.Wrapf(gpu.ErrOutOfRange, "copy region %+v", region)
		}
		copy(dstBuf.mem[region.DstOffset:], src.mem[region.SrcOffset:region.SrcOffset+region.Size])
	}

	d.Transfers++
	return transfer{dst: dst}, nil
}

// ReadBuffer returns a copy of the contents of any buffer, device-local
// ones included.
func (d *Device) ReadBuffer(b gpu.Buffer) ([]byte, error) {
	buf, err := d.buffers.Get(b.Handle)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.mem...), nil
}

// BufferRequest returns the request a buffer was created with.
func (d *Device) BufferRequest(b gpu.Buffer) (gpu.BufferRequest, error) {
	buf, err := d.buffers.Get(b.Handle)
	if err != nil {
		return gpu.BufferRequest{}, err
	}
	return buf.req, nil
}

func (d *Device) CreateImageView(img gpu.Image) (gpu.ImageView, error) {
	if _, err := d.images.Get(img.Handle); err != nil {
		return gpu.ImageView{}, errors.Wrap(err, "image view target")
	}
	return gpu.ImageView{Handle: d.views.Insert(img)}, nil
}

func (d *Device) DestroyImageView(v gpu.ImageView) error {
	_, err := d.views.Remove(v.Handle)
	return err
}

// ViewImage returns the image a view was created for.
func (d *Device) ViewImage(v gpu.ImageView) (gpu.Image, error) {
	return d.views.Get(v.Handle)
}

func (d *Device) CreateFence() (gpu.Fence, error) {
	return gpu.Fence{Handle: d.fences.Insert(new(bool))}, nil
}

// WaitFence fails for a fence nothing will ever signal, where a real driver
// would hang.
func (d *Device) WaitFence(f gpu.Fence) error {
	signaled, err := d.fences.Get(f.Handle)
	if err != nil {
		return err
	}
	if !*signaled {
		return errors.Newf("gputest: waiting on fence %s that is never signaled", f.Handle)
	}
	return nil
}

func (d *Device) DestroyFence(f gpu.Fence) error {
	_, err := d.fences.Remove(f.Handle)
	return err
}

func (d *Device) signalFence(f gpu.Fence) error {
	signaled, err := d.fences.Get(f.Handle)
	if err != nil {
		return err
	}
	*signaled = true
	return nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	return gpu.Semaphore{Handle: d.semaphores.Insert(new(bool))}, nil
}

func (d *Device) DestroySemaphore(s gpu.Semaphore) error {
	_, err := d.semaphores.Remove(s.Handle)
	return err
}

func (d *Device) AllocateDescriptorSet() (gpu.DescriptorSet, error) {
	if d.sets.Len() >= d.DescriptorCapacity {
		return gpu.DescriptorSet{}, errors.Wrapf(gpu.ErrPoolExhausted, "capacity %d", d.DescriptorCapacity)
	}
	h := d.sets.Insert(&descriptorSet{bindings: map[int]gpu.DescriptorWrite{}})
	return gpu.DescriptorSet{Handle: h}, nil
}

func (d *Device) UpdateDescriptorSet(set gpu.DescriptorSet, writes ...gpu.DescriptorWrite) error {
	ds, err := d.sets.Get(set.Handle)
	if err != nil {
		return err
	}

	for _, w := range writes {
		switch w.Kind {
		case gpu.UniformBuffer, gpu.StorageBuffer:
			buf, err := d.buffers.Get(w.Buffer.Handle)
			if err != nil {
				return errors.Wrapf(err, "binding %d", w.Binding)
			}
			if w.Offset+w.Range > len(buf.mem) {
				return errors.Wrapf(gpu.ErrOutOfRange, "binding %d", w.Binding)
			}
		case gpu.StorageImage:
			if _, err := d.views.Get(w.View.Handle); err != nil {
				return errors.Wrapf(err, "binding %d", w.Binding)
			}
		}
		ds.bindings[w.Binding] = w
	}
	return nil
}

// Binding returns the last write to a binding of set.
func (d *Device) Binding(set gpu.DescriptorSet, binding int) (gpu.DescriptorWrite, bool) {
	ds, err := d.sets.Get(set.Handle)
	if err != nil {
		return gpu.DescriptorWrite{}, false
	}
	w, ok := ds.bindings[binding]
	return w, ok
}

func (d *Device) AllocateCommandBuffer() (gpu.CommandBuffer, error) {
	return gpu.CommandBuffer{Handle: d.cmds.Insert(&commandBuffer{})}, nil
}

func (d *Device) Record(cb gpu.CommandBuffer, fn func(gpu.Recorder) error) error {
	buf, err := d.cmds.Get(cb.Handle)
	if err != nil {
		return err
	}
	if buf.recorded {
		return errors.Newf("gputest: command buffer %s recorded twice", cb.Handle)
	}

	rec := &recorder{dev: d, buf: buf}
	if err := fn(rec); err != nil {
		return err
	}
	buf.recorded = true
	return nil
}

// Commands returns the commands recorded into cb.
func (d *Device) Commands(cb gpu.CommandBuffer) ([]Command, error) {
	buf, err := d.cmds.Get(cb.Handle)
	if err != nil {
		return nil, err
	}
	return append([]Command(nil), buf.commands...), nil
}

func (d *Device) FreeCommandBuffer(cb gpu.CommandBuffer) error {
	_, err := d.cmds.Remove(cb.Handle)
	return err
}

func (d *Device) WaitIdle() error {
	return nil
}

// Live reports the number of objects of each kind that are still alive.
type Live struct {
	Buffers        int
	Views          int
	Fences         int
	Semaphores     int
	CommandBuffers int
	DescriptorSets int
}

func (d *Device) Live() Live {
	return Live{
		Buffers:        d.buffers.Len(),
		Views:          d.views.Len(),
		Fences:         d.fences.Len(),
		Semaphores:     d.semaphores.Len(),
		CommandBuffers: d.cmds.Len(),
		DescriptorSets: d.sets.Len(),
	}
}

type recorder struct {
	dev *Device
	buf *commandBuffer
}

func (r *recorder) BindDescriptorSet(set gpu.DescriptorSet) error {
	if _, err := r.dev.sets.Get(set.Handle); err != nil {
		return err
	}
	r.buf.commands = append(r.buf.commands, Command{Op: OpBindDescriptorSet, Set: set})
	return nil
}

func (r *recorder) BindPipeline(p gpu.Pipeline) error {
	if _, err := r.dev.pipelines.Get(p.Handle); err != nil {
		return err
	}
	r.buf.commands = append(r.buf.commands, Command{Op: OpBindPipeline, Pipeline: p})
	return nil
}

func (r *recorder) ImageBarrier(b gpu.ImageBarrier) error {
	if _, err := r.dev.images.Get(b.Image.Handle); err != nil {
		return err
	}
	r.buf.commands = append(r.buf.commands, Command{Op: OpImageBarrier, Barrier: b})
	return nil
}

func (r *recorder) Dispatch(x, y, z int) error {
	if x <= 0 || y <= 0 || z <= 0 {
		return errors.Newf("gputest: empty dispatch %dx%dx%d", x, y, z)
	}
	r.buf.commands = append(r.buf.commands, Command{Op: OpDispatch, Groups: [3]int{x, y, z}})
	return nil
}
