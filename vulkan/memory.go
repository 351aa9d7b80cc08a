package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
)

// findMemoryType returns the first memory type allowed by typeBits that has
// every property in want.
func findMemoryType(props *core1_0.PhysicalDeviceMemoryProperties, typeBits uint32, want core1_0.MemoryPropertyFlags) (int, error) {
	for i, memoryType := range props.MemoryTypes {
		if typeBits&(1<<uint(i)) != 0 && memoryType.PropertyFlags&want == want {
			return i, nil
		}
	}
	return 0, errors.Newf("vulkan: no memory type in mask %b with properties %v", typeBits, want)
}
