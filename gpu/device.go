// Package gpu describes the graphics device capabilities the renderer core
// consumes. Backends hand out typed handles into arenas they own; a backend
// must outlive every handle it issued.
package gpu

// BufferUsage is a set of ways a buffer may be bound.
type BufferUsage uint32

const (
	UsageTransferSrc BufferUsage = 1 << iota
	UsageTransferDst
	UsageUniform
	UsageStorage
)

// MemoryKind selects where buffer memory lives.
type MemoryKind int

const (
	// HostVisible memory is coherent and can be mapped.
	HostVisible MemoryKind = iota
	// DeviceLocal memory is only reachable through transfers and shaders.
	DeviceLocal
)

func (k MemoryKind) String() string {
	if k == DeviceLocal {
		return "device-local"
	}
	return "host-visible"
}

type BufferRequest struct {
	Size   int
	Usage  BufferUsage
	Memory MemoryKind
}

type CopyRegion struct {
	SrcOffset int
	DstOffset int
	Size      int
}

// TransferOrder asks the device to create Destination and initialize it
// from Source.
type TransferOrder struct {
	Source      Buffer
	Destination BufferRequest
	Regions     []CopyRegion
}

// Transfer is a submitted TransferOrder.
type Transfer interface {
	// Wait blocks until the copy retired and returns the destination buffer.
	Wait() (Buffer, error)
}

type DescriptorKind int

const (
	UniformBuffer DescriptorKind = iota
	StorageBuffer
	StorageImage
)

// DescriptorWrite updates one binding of a descriptor set. Buffer
// descriptors use Buffer, Offset and Range; image descriptors use View and
// Layout.
type DescriptorWrite struct {
	Binding int
	Kind    DescriptorKind

	Buffer Buffer
	Offset int
	Range  int

	View   ImageView
	Layout Layout
}

type Layout int

const (
	LayoutUndefined Layout = iota
	LayoutGeneral
	LayoutTransferDst
	LayoutPresentSrc
)

func (l Layout) String() string {
	switch l {
	case LayoutGeneral:
		return "general"
	case LayoutTransferDst:
		return "transfer-dst"
	case LayoutPresentSrc:
		return "present-src"
	}
	return "undefined"
}

type Stage uint32

const (
	StageTopOfPipe Stage = 1 << iota
	StageTransfer
	StageComputeShader
	StageBottomOfPipe
)

// Access is a set of memory access kinds; zero means none.
type Access uint32

const (
	AccessShaderRead Access = 1 << iota
	AccessShaderWrite
	AccessTransferRead
	AccessTransferWrite
)

// ImageBarrier transitions a single-level, single-layer color image. No
// queue family ownership transfer is ever performed.
type ImageBarrier struct {
	Image     Image
	OldLayout Layout
	NewLayout Layout
	SrcStage  Stage
	DstStage  Stage
	SrcAccess Access
	DstAccess Access
}

// Recorder appends commands to a command buffer. Pipelines and descriptor
// sets are bound at the compute bind point.
type Recorder interface {
	BindDescriptorSet(set DescriptorSet) error
	BindPipeline(pipeline Pipeline) error
	ImageBarrier(barrier ImageBarrier) error
	Dispatch(x, y, z int) error
}

// Device is the resource factory of a backend.
type Device interface {
	Mapper

	CreateBuffer(req BufferRequest) (Buffer, error)
	DestroyBuffer(b Buffer) error
	SubmitTransfer(order TransferOrder) (Transfer, error)

	CreateImageView(image Image) (ImageView, error)
	DestroyImageView(view ImageView) error

	CreateFence() (Fence, error)
	// WaitFence blocks without a timeout.
	WaitFence(f Fence) error
	DestroyFence(f Fence) error

	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(s Semaphore) error

	AllocateDescriptorSet() (DescriptorSet, error)
	UpdateDescriptorSet(set DescriptorSet, writes ...DescriptorWrite) error

	// AllocateCommandBuffer returns a primary buffer for one-time submission.
	AllocateCommandBuffer() (CommandBuffer, error)
	Record(cb CommandBuffer, fn func(Recorder) error) error
	// FreeCommandBuffer may be called while the buffer is still executing;
	// the backend delays the release until its submission retired.
	FreeCommandBuffer(cb CommandBuffer) error

	WaitIdle() error
}

type Submission struct {
	CommandBuffers []CommandBuffer
	Wait           []Semaphore
	WaitStages     []Stage
	Signal         []Semaphore
}

// SwapImage is an image acquired from a Swapchain.
type SwapImage struct {
	Index int
	Image Image
}

type Presentation struct {
	Swapchain Swapchain
	Image     SwapImage
	Wait      []Semaphore
}

type Queue interface {
	Submit(s Submission) error
	Present(p Presentation) error
}

type Extent struct {
	Width  int
	Height int
}

type Swapchain interface {
	// AcquireNextImage requests the next presentable image and arranges for
	// signal to be signaled once it is available. It fails with
	// ErrOutOfDate when the surface changed; in that case signal is left
	// untouched. ErrSuboptimal comes with a valid image.
	AcquireNextImage(signal Fence) (SwapImage, error)
	Extent() Extent
	Recreate(size Extent) error
}
