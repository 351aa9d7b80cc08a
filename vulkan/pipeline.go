package vulkan

import (
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/voxcast/voxcast/gpu"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

var ErrBadShader = errors.New("vulkan: not a SPIR-V module")

// bytesToBytecode decodes a little-endian SPIR-V file into words.
func bytesToBytecode(b []byte) ([]uint32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, errors.Wrapf(ErrBadShader, "length %d is not a positive multiple of 4", len(b))
	}

	byteCode := make([]uint32, len(b)/4)
	for i := range byteCode {
		byteCode[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	if byteCode[0] != spirvMagic {
		return nil, errors.Wrapf(ErrBadShader, "magic %#08x", byteCode[0])
	}
	return byteCode, nil
}

// LoadComputePipeline builds the compute pipeline from the SPIR-V file at
// path. cacheData seeds the pipeline cache on the first call and may be
// nil.
func (d *Device) LoadComputePipeline(path string, cacheData []byte) (gpu.Pipeline, error) {
	shaderBytes, err := os.ReadFile(path)
	if err != nil {
		return gpu.Pipeline{}, errors.WithHint(
			errors.Wrap(err, "read compute shader"),
			"compile shaders/render.comp with go generate or pass --shader",
		)
	}
	code, err := bytesToBytecode(shaderBytes)
	if err != nil {
		return gpu.Pipeline{}, errors.Wrap(err, path)
	}

	if !d.pipelineCache.Initialized() {
		d.pipelineCache, _, err = d.driver.CreatePipelineCache(nil, core1_0.PipelineCacheCreateInfo{
			InitialData: cacheData,
		})
		if err != nil {
			return gpu.Pipeline{}, errors.Wrap(err, "create pipeline cache")
		}
	}

	shader, _, err := d.driver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: code,
	})
	if err != nil {
		return gpu.Pipeline{}, errors.Wrap(err, "create shader module")
	}
	defer d.driver.DestroyShaderModule(shader, nil)

	pipelines, _, err := d.driver.CreateComputePipelines(&d.pipelineCache, nil,
		core1_0.ComputePipelineCreateInfo{
			Stage: core1_0.PipelineShaderStageCreateInfo{
				Stage:  core1_0.StageCompute,
				Module: shader,
				Name:   "main",
			},
			Layout:            d.pipelineLayout,
			BasePipelineIndex: -1,
		},
	)
	if err != nil {
		return gpu.Pipeline{}, errors.Wrap(err, "create compute pipeline")
	}

	logger.Infof("loaded compute pipeline from %s (%d words)", path, len(code))
	return gpu.Pipeline{Handle: d.pipelines.Insert(pipelines[0])}, nil
}

// PipelineCacheData returns the current contents of the pipeline cache,
// or nil when no pipeline was built.
func (d *Device) PipelineCacheData() ([]byte, error) {
	if !d.pipelineCache.Initialized() {
		return nil, nil
	}
	data, _, err := d.driver.GetPipelineCacheData(d.pipelineCache)
	return data, errors.Wrap(err, "read pipeline cache")
}

func (d *Device) DestroyPipeline(p gpu.Pipeline) error {
	pipeline, err := d.pipelines.Remove(p.Handle)
	if err != nil {
		return err
	}
	d.afterInFlight(func() {
		d.driver.DestroyPipeline(pipeline, nil)
	})
	return nil
}
