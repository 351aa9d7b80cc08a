// Package stager performs the one-time upload of the voxel octree and
// provisions the buffers and descriptor set every frame reuses.
package stager

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/voxcast/voxcast/camera"
	"github.com/voxcast/voxcast/gpu"
	"github.com/voxcast/voxcast/log"
	"github.com/voxcast/voxcast/octree"
)

// Descriptor bindings shared with the compute shader.
const (
	BindingCamera = 0
	BindingVoxels = 1
	BindingTarget = 2
)

var logger = log.New("voxcast/stager")

// Resources are the long-lived objects of a render session. The storage
// image binding of Set is left to the frame loop.
type Resources struct {
	Uniform    gpu.Buffer
	Voxels     gpu.Buffer
	Set        gpu.DescriptorSet
	VoxelBytes int
}

// Stage uploads nodes into a device-local storage buffer and returns the
// frame resources. It blocks until the upload retired.
func Stage(dev gpu.Device, nodes []octree.Node) (_ *Resources, err error) {
	if len(nodes) == 0 {
		return nil, errors.WithHint(
			errors.New("stager: no voxel nodes to upload"),
			"generate the octree with a depth of at least 1",
		)
	}

	start := hrtime.Now()
	payload := octree.Encode(nodes)
	res := &Resources{VoxelBytes: len(payload)}

	defer func() {
		if err != nil {
			res.release(dev)
		}
	}()

	staging, err := dev.CreateBuffer(gpu.BufferRequest{
		Size:   len(payload),
		Usage:  gpu.UsageTransferSrc,
		Memory: gpu.HostVisible,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create voxel staging buffer")
	}
	defer func() {
		if destroyErr := dev.DestroyBuffer(staging); destroyErr != nil && err == nil {
			err = errors.Wrap(destroyErr, "destroy voxel staging buffer")
		}
	}()

	if err = gpu.WriteMapped(dev, staging, 0, payload); err != nil {
		return nil, errors.Wrap(err, "fill voxel staging buffer")
	}

	transfer, err := dev.SubmitTransfer(gpu.TransferOrder{
		Source: staging,
		Destination: gpu.BufferRequest{
			Size:   len(payload),
			Usage:  gpu.UsageStorage | gpu.UsageTransferDst,
			Memory: gpu.DeviceLocal,
		},
		Regions: []gpu.CopyRegion{{SrcOffset: 0, DstOffset: 0, Size: len(payload)}},
	})
	if err != nil {
		return nil, errors.Wrap(err, "submit voxel upload")
	}
	if res.Voxels, err = transfer.Wait(); err != nil {
		return nil, errors.Wrap(err, "wait for voxel upload")
	}

	res.Uniform, err = dev.CreateBuffer(gpu.BufferRequest{
		Size:   camera.PayloadSize,
		Usage:  gpu.UsageUniform,
		Memory: gpu.HostVisible,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create camera uniform buffer")
	}

	res.Set, err = dev.AllocateDescriptorSet()
	if err != nil {
		return nil, errors.Wrap(err, "allocate descriptor set")
	}

	err = dev.UpdateDescriptorSet(res.Set,
		gpu.DescriptorWrite{
			Binding: BindingCamera,
			Kind:    gpu.UniformBuffer,
			Buffer:  res.Uniform,
			Range:   camera.PayloadSize,
		},
		gpu.DescriptorWrite{
			Binding: BindingVoxels,
			Kind:    gpu.StorageBuffer,
			Buffer:  res.Voxels,
			Range:   len(payload),
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "bind frame buffers")
	}

	logger.Infof("uploaded %d voxel nodes (%d bytes) in %s", len(nodes), len(payload), (hrtime.Now() - start).Round(time.Microsecond))
	return res, nil
}

// Release destroys the buffers. The descriptor set is returned together
// with its pool when the device is torn down.
func (r *Resources) Release(dev gpu.Device) error {
	var err error
	if r.Uniform.Valid() {
		err = errors.CombineErrors(err, dev.DestroyBuffer(r.Uniform))
		r.Uniform = gpu.Buffer{}
	}
	if r.Voxels.Valid() {
		err = errors.CombineErrors(err, dev.DestroyBuffer(r.Voxels))
		r.Voxels = gpu.Buffer{}
	}
	return err
}

func (r *Resources) release(dev gpu.Device) {
	if err := r.Release(dev); err != nil {
		logger.Warningf("releasing partially staged resources: %v", err)
	}
}
