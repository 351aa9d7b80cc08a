package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/voxcast/voxcast/gpu"
)

// checkResult maps the results the frame loop recovers from onto the gpu
// sentinels. Anything else is returned as is.
func checkResult(res common.VkResult, err error) error {
	switch res {
	case khr_swapchain.VKErrorOutOfDate:
		return gpu.ErrOutOfDate
	case khr_swapchain.VKSuboptimal:
		return gpu.ErrSuboptimal
	case core1_0.VKNotReady, core1_0.VKTimeout:
		return gpu.ErrNotReady
	}
	return err
}

func bufferUsage(u gpu.BufferUsage) core1_0.BufferUsageFlags {
	var flags core1_0.BufferUsageFlags
	if u&gpu.UsageTransferSrc != 0 {
		flags |= core1_0.BufferUsageTransferSrc
	}
	if u&gpu.UsageTransferDst != 0 {
		flags |= core1_0.BufferUsageTransferDst
	}
	if u&gpu.UsageUniform != 0 {
		flags |= core1_0.BufferUsageUniformBuffer
	}
	if u&gpu.UsageStorage != 0 {
		flags |= core1_0.BufferUsageStorageBuffer
	}
	return flags
}

func memoryProperties(k gpu.MemoryKind) core1_0.MemoryPropertyFlags {
	if k == gpu.DeviceLocal {
		return core1_0.MemoryPropertyDeviceLocal
	}
	return core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent
}

func descriptorType(k gpu.DescriptorKind) (core1_0.DescriptorType, error) {
	switch k {
	case gpu.UniformBuffer:
		return core1_0.DescriptorTypeUniformBuffer, nil
	case gpu.StorageBuffer:
		return core1_0.DescriptorTypeStorageBuffer, nil
	case gpu.StorageImage:
		return core1_0.DescriptorTypeStorageImage, nil
	}
	return 0, errors.Newf("vulkan: unknown descriptor kind %d", k)
}

func imageLayout(l gpu.Layout) core1_0.ImageLayout {
	switch l {
	case gpu.LayoutGeneral:
		return core1_0.ImageLayoutGeneral
	case gpu.LayoutTransferDst:
		return core1_0.ImageLayoutTransferDstOptimal
	case gpu.LayoutPresentSrc:
		return khr_swapchain.ImageLayoutPresentSrc
	}
	return core1_0.ImageLayoutUndefined
}

func pipelineStages(s gpu.Stage) core1_0.PipelineStageFlags {
	var flags core1_0.PipelineStageFlags
	if s&gpu.StageTopOfPipe != 0 {
		flags |= core1_0.PipelineStageTopOfPipe
	}
	if s&gpu.StageTransfer != 0 {
		flags |= core1_0.PipelineStageTransfer
	}
	if s&gpu.StageComputeShader != 0 {
		flags |= core1_0.PipelineStageComputeShader
	}
	if s&gpu.StageBottomOfPipe != 0 {
		flags |= core1_0.PipelineStageBottomOfPipe
	}
	return flags
}

func accessFlags(a gpu.Access) core1_0.AccessFlags {
	var flags core1_0.AccessFlags
	if a&gpu.AccessShaderRead != 0 {
		flags |= core1_0.AccessShaderRead
	}
	if a&gpu.AccessShaderWrite != 0 {
		flags |= core1_0.AccessShaderWrite
	}
	if a&gpu.AccessTransferRead != 0 {
		flags |= core1_0.AccessTransferRead
	}
	if a&gpu.AccessTransferWrite != 0 {
		flags |= core1_0.AccessTransferWrite
	}
	return flags
}
