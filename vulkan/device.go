package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/voxcast/voxcast/gpu"
)

type buffer struct {
	buf    core1_0.Buffer
	mem    core1_0.DeviceMemory
	size   int
	memory gpu.MemoryKind
	mapped bool
}

type swapImage struct {
	image  core1_0.Image
	format core1_0.Format
}

type imageView struct {
	view  core1_0.ImageView
	image gpu.Image
}

type commandBuffer struct {
	cb  core1_0.CommandBuffer
	sub *submission
}

// submission is one vkQueueSubmit guarded by its own fence.
type submission struct {
	fence   core1_0.Fence
	retired bool
}

// deferredRelease runs once every submission in after retired.
type deferredRelease struct {
	after   []*submission
	release func()
}

func (r deferredRelease) ready() bool {
	for _, sub := range r.after {
		if !sub.retired {
			return false
		}
	}
	return true
}

// Device implements gpu.Device. Every descriptor set shares one layout:
// binding 0 is a uniform buffer, binding 1 a storage buffer and binding 2 a
// storage image, all visible to the compute stage.
//
// Objects still referenced by submitted work are released once the work
// retired. Descriptor updates and buffer mappings wait for all submitted
// work, so at most one frame is ever in flight.
type Device struct {
	driver        core1_0.CoreDeviceDriver
	memory        *core1_0.PhysicalDeviceMemoryProperties
	transferQueue core1_0.Queue

	commandPool    core1_0.CommandPool
	setLayout      core1_0.DescriptorSetLayout
	pipelineLayout core1_0.PipelineLayout
	descriptorPool core1_0.DescriptorPool
	pipelineCache  core1_0.PipelineCache

	buffers    gpu.Pool[buffer]
	images     gpu.Pool[swapImage]
	views      gpu.Pool[imageView]
	fences     gpu.Pool[core1_0.Fence]
	semaphores gpu.Pool[core1_0.Semaphore]
	sets       gpu.Pool[core1_0.DescriptorSet]
	cmds       gpu.Pool[commandBuffer]
	pipelines  gpu.Pool[core1_0.Pipeline]

	inFlight []*submission
	deferred []deferredRelease
}

var _ gpu.Device = (*Device)(nil)

func newDevice(c *Context, transferQueue core1_0.Queue) (_ *Device, err error) {
	d := &Device{
		driver:        c.deviceDriver,
		memory:        c.instanceDriver.GetPhysicalDeviceMemoryProperties(c.physicalDevice),
		transferQueue: transferQueue,
	}
	defer func() {
		if err != nil {
			if destroyErr := d.destroy(); destroyErr != nil {
				logger.Warningf("tearing down partial device: %v", destroyErr)
			}
		}
	}()

	d.commandPool, _, err = d.driver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: c.queueFamily,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create command pool")
	}

	d.setLayout, _, err = d.driver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageCompute,
			},
			{
				Binding:         1,
				DescriptorType:  core1_0.DescriptorTypeStorageBuffer,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageCompute,
			},
			{
				Binding:         2,
				DescriptorType:  core1_0.DescriptorTypeStorageImage,
				DescriptorCount: 1,
				StageFlags:      core1_0.StageCompute,
			},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create descriptor set layout")
	}

	d.pipelineLayout, _, err = d.driver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{d.setLayout},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create pipeline layout")
	}

	d.descriptorPool, _, err = d.driver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: 1,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{Type: core1_0.DescriptorTypeUniformBuffer, DescriptorCount: 1},
			{Type: core1_0.DescriptorTypeStorageBuffer, DescriptorCount: 1},
			{Type: core1_0.DescriptorTypeStorageImage, DescriptorCount: 1},
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create descriptor pool")
	}

	return d, nil
}

func (d *Device) CreateBuffer(req gpu.BufferRequest) (gpu.Buffer, error) {
	if req.Size <= 0 {
		return gpu.Buffer{}, errors.AssertionFailedf("vulkan: buffer size %d", req.Size)
	}

	buf, _, err := d.driver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        req.Size,
		Usage:       bufferUsage(req.Usage),
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return gpu.Buffer{}, errors.Wrapf(err, "create %d byte buffer", req.Size)
	}

	memRequirements := d.driver.GetBufferMemoryRequirements(buf)
	memoryTypeIndex, err := findMemoryType(d.memory, memRequirements.MemoryTypeBits, memoryProperties(req.Memory))
	if err != nil {
		d.driver.DestroyBuffer(buf, nil)
		return gpu.Buffer{}, errors.Wrapf(err, "%s buffer", req.Memory)
	}

	mem, _, err := d.driver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		d.driver.DestroyBuffer(buf, nil)
		return gpu.Buffer{}, errors.Wrapf(err, "allocate %d bytes of %s memory", memRequirements.Size, req.Memory)
	}

	if _, err := d.driver.BindBufferMemory(buf, mem, 0); err != nil {
		d.driver.DestroyBuffer(buf, nil)
		d.driver.FreeMemory(mem, nil)
		return gpu.Buffer{}, errors.Wrap(err, "bind buffer memory")
	}

	h := d.buffers.Insert(buffer{buf: buf, mem: mem, size: req.Size, memory: req.Memory})
	return gpu.Buffer{Handle: h}, nil
}

func (d *Device) DestroyBuffer(b gpu.Buffer) error {
	buf, err := d.buffers.Remove(b.Handle)
	if err != nil {
		return err
	}
	if buf.mapped {
		d.driver.UnmapMemory(buf.mem)
	}

	d.afterInFlight(func() {
		d.driver.DestroyBuffer(buf.buf, nil)
		d.driver.FreeMemory(buf.mem, nil)
	})
	return nil
}

// MapBuffer waits for submitted work before handing out the memory.
func (d *Device) MapBuffer(b gpu.Buffer) ([]byte, error) {
	buf, err := d.buffers.Ptr(b.Handle)
	if err != nil {
		return nil, err
	}
	switch {
	case buf.memory != gpu.HostVisible:
		return nil, errors.Wrapf(gpu.ErrNotHostVisible, "buffer %s", b.Handle)
	case buf.mapped:
		return nil, errors.Wrapf(gpu.ErrAlreadyMapped, "buffer %s", b.Handle)
	}

	if err := d.waitAll(); err != nil {
		return nil, err
	}

	ptr, _, err := d.driver.MapMemory(buf.mem, 0, buf.size, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "map buffer %s", b.Handle)
	}
	buf.mapped = true
	return unsafe.Slice((*byte)(ptr), buf.size), nil
}

func (d *Device) UnmapBuffer(b gpu.Buffer) error {
	buf, err := d.buffers.Ptr(b.Handle)
	if err != nil {
		return err
	}
	if !buf.mapped {
		return errors.Wrapf(gpu.ErrNotMapped, "buffer %s", b.Handle)
	}

	d.driver.UnmapMemory(buf.mem)
	buf.mapped = false
	return nil
}

type transfer struct {
	dev *Device
	sub *submission
	dst gpu.Buffer
}

func (t *transfer) Wait() (gpu.Buffer, error) {
	if err := t.dev.waitFor(t.sub); err != nil {
		return gpu.Buffer{}, errors.Wrap(err, "wait for transfer")
	}
	return t.dst, nil
}

// SubmitTransfer records the copy into a one-time command buffer and
// submits it to the transfer queue.
func (d *Device) SubmitTransfer(order gpu.TransferOrder) (_ gpu.Transfer, err error) {
	src, err := d.buffers.Get(order.Source.Handle)
	if err != nil {
		return nil, errors.Wrap(err, "transfer source")
	}

	dstHandle, err := d.CreateBuffer(order.Destination)
	if err != nil {
		return nil, errors.Wrap(err, "transfer destination")
	}
	defer func() {
		if err != nil {
			if destroyErr := d.DestroyBuffer(dstHandle); destroyErr != nil {
				logger.Warningf("destroy transfer destination: %v", destroyErr)
			}
		}
	}()
	dst, err := d.buffers.Get(dstHandle.Handle)
	if err != nil {
		return nil, err
	}

	regions := make([]core1_0.BufferCopy, 0, len(order.Regions))
	for _, r := range order.Regions {
		if r.SrcOffset+r.Size > src.size || r.DstOffset+r.Size > dst.size {
			return nil, errors.Wrapf(gpu.ErrOutOfRange, "copy of %d bytes from %d to %d", r.Size, r.SrcOffset, r.DstOffset)
		}
		regions = append(regions, core1_0.BufferCopy{
			SrcOffset: r.SrcOffset,
			DstOffset: r.DstOffset,
			Size:      r.Size,
		})
	}

	cmd, err := d.AllocateCommandBuffer()
	if err != nil {
		return nil, err
	}
	defer func() {
		if freeErr := d.FreeCommandBuffer(cmd); freeErr != nil && err == nil {
			err = freeErr
		}
	}()

	cb, err := d.cmds.Get(cmd.Handle)
	if err != nil {
		return nil, err
	}
	if _, err := d.driver.BeginCommandBuffer(cb.cb, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	}); err != nil {
		return nil, errors.Wrap(err, "begin transfer commands")
	}
	if err := d.driver.CmdCopyBuffer(cb.cb, src.buf, dst.buf, regions...); err != nil {
		return nil, errors.Wrap(err, "record buffer copy")
	}
	if _, err := d.driver.EndCommandBuffer(cb.cb); err != nil {
		return nil, errors.Wrap(err, "end transfer commands")
	}

	sub, err := d.submit(d.transferQueue, core1_0.SubmitInfo{
		CommandBuffers: []core1_0.CommandBuffer{cb.cb},
	}, []gpu.CommandBuffer{cmd})
	if err != nil {
		return nil, errors.Wrap(err, "submit transfer")
	}

	return &transfer{dev: d, sub: sub, dst: dstHandle}, nil
}

func (d *Device) registerImage(image core1_0.Image, format core1_0.Format) gpu.Image {
	return gpu.Image{Handle: d.images.Insert(swapImage{image: image, format: format})}
}

// releaseImages forgets swapchain images and destroys every view still
// pointing at them. The caller must have waited for the device.
func (d *Device) releaseImages(images []gpu.Image) {
	dropped := map[gpu.Handle]bool{}
	for _, img := range images {
		if _, err := d.images.Remove(img.Handle); err == nil {
			dropped[img.Handle] = true
		}
	}

	var stale []gpu.Handle
	d.views.Each(func(h gpu.Handle, v imageView) {
		if dropped[v.image.Handle] && v.view.Initialized() {
			stale = append(stale, h)
		}
	})
	for _, h := range stale {
		v, _ := d.views.Ptr(h)
		d.driver.DestroyImageView(v.view, nil)
		v.view = core1_0.ImageView{}
	}
}

func (d *Device) CreateImageView(image gpu.Image) (gpu.ImageView, error) {
	img, err := d.images.Get(image.Handle)
	if err != nil {
		return gpu.ImageView{}, err
	}

	view, _, err := d.driver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    img.image,
		ViewType: core1_0.ImageViewType2D,
		Format:   img.format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     core1_0.ImageAspectColor,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	if err != nil {
		return gpu.ImageView{}, errors.Wrap(err, "create image view")
	}

	h := d.views.Insert(imageView{view: view, image: image})
	return gpu.ImageView{Handle: h}, nil
}

func (d *Device) DestroyImageView(view gpu.ImageView) error {
	v, err := d.views.Remove(view.Handle)
	if err != nil {
		return err
	}
	if v.view.Initialized() {
		d.afterInFlight(func() {
			d.driver.DestroyImageView(v.view, nil)
		})
	}
	return nil
}

func (d *Device) CreateFence() (gpu.Fence, error) {
	fence, _, err := d.driver.CreateFence(nil, core1_0.FenceCreateInfo{})
	if err != nil {
		return gpu.Fence{}, errors.Wrap(err, "create fence")
	}
	return gpu.Fence{Handle: d.fences.Insert(fence)}, nil
}

func (d *Device) WaitFence(f gpu.Fence) error {
	fence, err := d.fences.Get(f.Handle)
	if err != nil {
		return err
	}
	_, err = d.driver.WaitForFences(true, common.NoTimeout, fence)
	return err
}

func (d *Device) DestroyFence(f gpu.Fence) error {
	fence, err := d.fences.Remove(f.Handle)
	if err != nil {
		return err
	}
	d.driver.DestroyFence(fence, nil)
	return nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	semaphore, _, err := d.driver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return gpu.Semaphore{}, errors.Wrap(err, "create semaphore")
	}
	return gpu.Semaphore{Handle: d.semaphores.Insert(semaphore)}, nil
}

func (d *Device) DestroySemaphore(s gpu.Semaphore) error {
	semaphore, err := d.semaphores.Remove(s.Handle)
	if err != nil {
		return err
	}
	d.afterInFlight(func() {
		d.driver.DestroySemaphore(semaphore, nil)
	})
	return nil
}

func (d *Device) AllocateDescriptorSet() (gpu.DescriptorSet, error) {
	if d.sets.Len() > 0 {
		return gpu.DescriptorSet{}, errors.Wrap(gpu.ErrPoolExhausted, "capacity 1")
	}

	sets, _, err := d.driver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: d.descriptorPool,
		SetLayouts:     []core1_0.DescriptorSetLayout{d.setLayout},
	})
	if err != nil {
		return gpu.DescriptorSet{}, errors.Wrap(err, "allocate descriptor set")
	}
	return gpu.DescriptorSet{Handle: d.sets.Insert(sets[0])}, nil
}

// UpdateDescriptorSet waits for submitted work, since a set must not change
// while a pending command buffer uses it.
func (d *Device) UpdateDescriptorSet(set gpu.DescriptorSet, writes ...gpu.DescriptorWrite) error {
	dstSet, err := d.sets.Get(set.Handle)
	if err != nil {
		return err
	}

	vkWrites := make([]core1_0.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		descriptorType, err := descriptorType(w.Kind)
		if err != nil {
			return err
		}
		write := core1_0.WriteDescriptorSet{
			DstSet:          dstSet,
			DstBinding:      w.Binding,
			DstArrayElement: 0,
			DescriptorType:  descriptorType,
		}

		switch w.Kind {
		case gpu.UniformBuffer, gpu.StorageBuffer:
			buf, err := d.buffers.Get(w.Buffer.Handle)
			if err != nil {
				return errors.Wrapf(err, "binding %d", w.Binding)
			}
			if w.Offset+w.Range > buf.size {
				return errors.Wrapf(gpu.ErrOutOfRange, "binding %d", w.Binding)
			}
			write.BufferInfo = []core1_0.DescriptorBufferInfo{
				{Buffer: buf.buf, Offset: w.Offset, Range: w.Range},
			}
		case gpu.StorageImage:
			view, err := d.views.Get(w.View.Handle)
			if err != nil {
				return errors.Wrapf(err, "binding %d", w.Binding)
			}
			write.ImageInfo = []core1_0.DescriptorImageInfo{
				{ImageView: view.view, ImageLayout: imageLayout(w.Layout)},
			}
		}
		vkWrites = append(vkWrites, write)
	}

	if err := d.waitAll(); err != nil {
		return err
	}
	return d.driver.UpdateDescriptorSets(vkWrites, nil)
}

func (d *Device) AllocateCommandBuffer() (gpu.CommandBuffer, error) {
	buffers, _, err := d.driver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return gpu.CommandBuffer{}, errors.Wrap(err, "allocate command buffer")
	}
	return gpu.CommandBuffer{Handle: d.cmds.Insert(commandBuffer{cb: buffers[0]})}, nil
}

func (d *Device) Record(cmd gpu.CommandBuffer, fn func(gpu.Recorder) error) error {
	cb, err := d.cmds.Get(cmd.Handle)
	if err != nil {
		return err
	}
	if cb.sub != nil {
		return errors.AssertionFailedf("vulkan: command buffer %s was already submitted", cmd.Handle)
	}

	if _, err := d.driver.BeginCommandBuffer(cb.cb, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	}); err != nil {
		return errors.Wrap(err, "begin command buffer")
	}
	if err := fn(&recorder{dev: d, cb: cb.cb}); err != nil {
		return err
	}
	_, err = d.driver.EndCommandBuffer(cb.cb)
	return errors.Wrap(err, "end command buffer")
}

func (d *Device) FreeCommandBuffer(cmd gpu.CommandBuffer) error {
	cb, err := d.cmds.Remove(cmd.Handle)
	if err != nil {
		return err
	}

	release := func() {
		d.driver.FreeCommandBuffers(cb.cb)
	}
	if cb.sub != nil && !cb.sub.retired {
		d.deferred = append(d.deferred, deferredRelease{after: []*submission{cb.sub}, release: release})
		return nil
	}
	release()
	return nil
}

func (d *Device) WaitIdle() error {
	if _, err := d.driver.DeviceWaitIdle(); err != nil {
		return errors.Wrap(err, "wait for device idle")
	}
	for _, sub := range d.inFlight {
		d.retire(sub)
	}
	d.inFlight = nil
	d.runDeferred()
	return nil
}

func (d *Device) commandBuffers(cmds []gpu.CommandBuffer) ([]core1_0.CommandBuffer, error) {
	out := make([]core1_0.CommandBuffer, 0, len(cmds))
	for _, cmd := range cmds {
		cb, err := d.cmds.Get(cmd.Handle)
		if err != nil {
			return nil, err
		}
		out = append(out, cb.cb)
	}
	return out, nil
}

// submit queues info with a fresh fence and ties cmds to the submission.
func (d *Device) submit(queue core1_0.Queue, info core1_0.SubmitInfo, cmds []gpu.CommandBuffer) (*submission, error) {
	if err := d.reap(); err != nil {
		return nil, err
	}

	fence, _, err := d.driver.CreateFence(nil, core1_0.FenceCreateInfo{})
	if err != nil {
		return nil, errors.Wrap(err, "create submission fence")
	}
	if _, err := d.driver.QueueSubmit(queue, &fence, info); err != nil {
		d.driver.DestroyFence(fence, nil)
		return nil, err
	}

	sub := &submission{fence: fence}
	d.inFlight = append(d.inFlight, sub)
	for _, cmd := range cmds {
		if cb, err := d.cmds.Ptr(cmd.Handle); err == nil {
			cb.sub = sub
		}
	}
	return sub, nil
}

func (d *Device) retire(sub *submission) {
	if sub.retired {
		return
	}
	d.driver.DestroyFence(sub.fence, nil)
	sub.fence = core1_0.Fence{}
	sub.retired = true
}

// reap retires every submission whose fence is already signaled.
func (d *Device) reap() error {
	var pending []*submission
	for _, sub := range d.inFlight {
		res, err := d.driver.WaitForFences(true, 0, sub.fence)
		if err != nil {
			return errors.Wrap(err, "poll submission fence")
		}
		if res == core1_0.VKTimeout {
			pending = append(pending, sub)
			continue
		}
		d.retire(sub)
	}
	d.inFlight = pending
	d.runDeferred()
	return nil
}

func (d *Device) waitFor(sub *submission) error {
	if sub.retired {
		return nil
	}
	if _, err := d.driver.WaitForFences(true, common.NoTimeout, sub.fence); err != nil {
		return err
	}
	return d.reap()
}

func (d *Device) waitAll() error {
	if len(d.inFlight) == 0 {
		return nil
	}

	fences := make([]core1_0.Fence, 0, len(d.inFlight))
	for _, sub := range d.inFlight {
		fences = append(fences, sub.fence)
	}
	if _, err := d.driver.WaitForFences(true, common.NoTimeout, fences...); err != nil {
		return errors.Wrap(err, "wait for submitted work")
	}
	return d.reap()
}

// afterInFlight runs release once everything submitted so far retired.
func (d *Device) afterInFlight(release func()) {
	if len(d.inFlight) == 0 {
		release()
		return
	}
	after := append([]*submission(nil), d.inFlight...)
	d.deferred = append(d.deferred, deferredRelease{after: after, release: release})
}

func (d *Device) runDeferred() {
	var waiting []deferredRelease
	for _, r := range d.deferred {
		if r.ready() {
			r.release()
			continue
		}
		waiting = append(waiting, r)
	}
	d.deferred = waiting
}

// destroy waits for the device and releases every object it still owns.
func (d *Device) destroy() error {
	if d.driver == nil {
		return nil
	}
	err := d.WaitIdle()

	leaked := d.buffers.Len() + d.views.Len() + d.fences.Len() + d.semaphores.Len() + d.cmds.Len()
	if leaked > 0 {
		logger.Warningf("destroying device with %d live objects", leaked)
	}

	d.buffers.Each(func(_ gpu.Handle, b buffer) {
		if b.mapped {
			d.driver.UnmapMemory(b.mem)
		}
		d.driver.DestroyBuffer(b.buf, nil)
		d.driver.FreeMemory(b.mem, nil)
	})
	d.views.Each(func(_ gpu.Handle, v imageView) {
		if v.view.Initialized() {
			d.driver.DestroyImageView(v.view, nil)
		}
	})
	d.fences.Each(func(_ gpu.Handle, f core1_0.Fence) {
		d.driver.DestroyFence(f, nil)
	})
	d.semaphores.Each(func(_ gpu.Handle, s core1_0.Semaphore) {
		d.driver.DestroySemaphore(s, nil)
	})
	d.cmds.Each(func(_ gpu.Handle, cb commandBuffer) {
		d.driver.FreeCommandBuffers(cb.cb)
	})
	d.pipelines.Each(func(_ gpu.Handle, p core1_0.Pipeline) {
		d.driver.DestroyPipeline(p, nil)
	})
	d.buffers, d.views, d.fences, d.semaphores = gpu.Pool[buffer]{}, gpu.Pool[imageView]{}, gpu.Pool[core1_0.Fence]{}, gpu.Pool[core1_0.Semaphore]{}
	d.cmds, d.pipelines, d.sets = gpu.Pool[commandBuffer]{}, gpu.Pool[core1_0.Pipeline]{}, gpu.Pool[core1_0.DescriptorSet]{}

	if d.pipelineCache.Initialized() {
		d.driver.DestroyPipelineCache(d.pipelineCache, nil)
		d.pipelineCache = core1_0.PipelineCache{}
	}
	if d.descriptorPool.Initialized() {
		d.driver.DestroyDescriptorPool(d.descriptorPool, nil)
		d.descriptorPool = core1_0.DescriptorPool{}
	}
	if d.pipelineLayout.Initialized() {
		d.driver.DestroyPipelineLayout(d.pipelineLayout, nil)
		d.pipelineLayout = core1_0.PipelineLayout{}
	}
	if d.setLayout.Initialized() {
		d.driver.DestroyDescriptorSetLayout(d.setLayout, nil)
		d.setLayout = core1_0.DescriptorSetLayout{}
	}
	if d.commandPool.Initialized() {
		d.driver.DestroyCommandPool(d.commandPool, nil)
		d.commandPool = core1_0.CommandPool{}
	}
	d.driver = nil
	return err
}

// recorder records compute commands against the shared pipeline layout.
type recorder struct {
	dev *Device
	cb  core1_0.CommandBuffer
}

func (r *recorder) BindDescriptorSet(set gpu.DescriptorSet) error {
	ds, err := r.dev.sets.Get(set.Handle)
	if err != nil {
		return err
	}
	r.dev.driver.CmdBindDescriptorSets(r.cb, core1_0.PipelineBindPointCompute, r.dev.pipelineLayout, 0, []core1_0.DescriptorSet{ds}, nil)
	return nil
}

func (r *recorder) BindPipeline(pipeline gpu.Pipeline) error {
	p, err := r.dev.pipelines.Get(pipeline.Handle)
	if err != nil {
		return err
	}
	r.dev.driver.CmdBindPipeline(r.cb, core1_0.PipelineBindPointCompute, p)
	return nil
}

func (r *recorder) ImageBarrier(b gpu.ImageBarrier) error {
	img, err := r.dev.images.Get(b.Image.Handle)
	if err != nil {
		return err
	}

	return r.dev.driver.CmdPipelineBarrier(r.cb, pipelineStages(b.SrcStage), pipelineStages(b.DstStage), 0, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			SrcAccessMask:       accessFlags(b.SrcAccess),
			DstAccessMask:       accessFlags(b.DstAccess),
			OldLayout:           imageLayout(b.OldLayout),
			NewLayout:           imageLayout(b.NewLayout),
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               img.image,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		},
	})
}

func (r *recorder) Dispatch(x, y, z int) error {
	if x <= 0 || y <= 0 || z <= 0 {
		return errors.AssertionFailedf("vulkan: dispatch of %dx%dx%d groups", x, y, z)
	}
	r.dev.driver.CmdDispatch(r.cb, x, y, z)
	return nil
}
