package vulkan

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/voxcast/voxcast/gpu"
)

func TestCheckResult(t *testing.T) {
	lost := errors.New("device lost")

	assert.ErrorIs(t, checkResult(khr_swapchain.VKErrorOutOfDate, lost), gpu.ErrOutOfDate)
	assert.ErrorIs(t, checkResult(khr_swapchain.VKSuboptimal, nil), gpu.ErrSuboptimal)
	assert.ErrorIs(t, checkResult(core1_0.VKNotReady, nil), gpu.ErrNotReady)
	assert.ErrorIs(t, checkResult(core1_0.VKTimeout, nil), gpu.ErrNotReady)
	assert.NoError(t, checkResult(core1_0.VKSuccess, nil))
	assert.Equal(t, lost, checkResult(core1_0.VKErrorDeviceLost, lost))
}

func TestBufferUsage(t *testing.T) {
	assert.Equal(t, core1_0.BufferUsageStorageBuffer|core1_0.BufferUsageTransferDst,
		bufferUsage(gpu.UsageStorage|gpu.UsageTransferDst))
	assert.Equal(t, core1_0.BufferUsageUniformBuffer, bufferUsage(gpu.UsageUniform))
	assert.Equal(t, core1_0.BufferUsageTransferSrc, bufferUsage(gpu.UsageTransferSrc))
}

func TestMemoryProperties(t *testing.T) {
	assert.Equal(t, core1_0.MemoryPropertyDeviceLocal, memoryProperties(gpu.DeviceLocal))
	assert.Equal(t, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent, memoryProperties(gpu.HostVisible))
}

func TestDescriptorType(t *testing.T) {
	tests := map[gpu.DescriptorKind]core1_0.DescriptorType{
		gpu.UniformBuffer: core1_0.DescriptorTypeUniformBuffer,
		gpu.StorageBuffer: core1_0.DescriptorTypeStorageBuffer,
		gpu.StorageImage:  core1_0.DescriptorTypeStorageImage,
	}
	for kind, want := range tests {
		got, err := descriptorType(kind)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := descriptorType(gpu.DescriptorKind(42))
	assert.Error(t, err)
}

func TestBarrierConversion(t *testing.T) {
	assert.Equal(t, core1_0.ImageLayoutUndefined, imageLayout(gpu.LayoutUndefined))
	assert.Equal(t, core1_0.ImageLayoutGeneral, imageLayout(gpu.LayoutGeneral))
	assert.Equal(t, khr_swapchain.ImageLayoutPresentSrc, imageLayout(gpu.LayoutPresentSrc))

	assert.Equal(t, core1_0.PipelineStageTopOfPipe, pipelineStages(gpu.StageTopOfPipe))
	assert.Equal(t, core1_0.PipelineStageComputeShader|core1_0.PipelineStageBottomOfPipe,
		pipelineStages(gpu.StageComputeShader|gpu.StageBottomOfPipe))

	assert.Equal(t, core1_0.AccessFlags(0), accessFlags(0))
	assert.Equal(t, core1_0.AccessShaderWrite, accessFlags(gpu.AccessShaderWrite))
}

func TestFindMemoryType(t *testing.T) {
	props := &core1_0.PhysicalDeviceMemoryProperties{
		MemoryTypes: []core1_0.MemoryType{
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible},
			{PropertyFlags: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent},
			{PropertyFlags: core1_0.MemoryPropertyDeviceLocal | core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent},
		},
	}
	coherent := core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent

	idx, err := findMemoryType(props, 0b1111, coherent)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	idx, err = findMemoryType(props, 0b1000, coherent)
	require.NoError(t, err)
	assert.Equal(t, 3, idx, "restricted by the type mask")

	idx, err = findMemoryType(props, 0b1111, core1_0.MemoryPropertyDeviceLocal)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	_, err = findMemoryType(props, 0b0001, coherent)
	assert.Error(t, err)
}
