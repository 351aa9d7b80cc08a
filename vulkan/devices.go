package vulkan

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
)

// QueueFamilyInfo describes one queue family of a physical device.
type QueueFamilyInfo struct {
	Index int
	Count int
	Flags string
}

// DeviceInfo describes a physical device for listing.
type DeviceInfo struct {
	Name       string
	Type       string
	APIVersion string
	VendorID   uint32
	DeviceID   uint32
	Swapchain  bool
	Families   []QueueFamilyInfo
}

// ListDevices creates a bare instance from procAddr and describes every
// physical device. No surface is involved, so presentation support is not
// reported.
func ListDevices(procAddr unsafe.Pointer) ([]DeviceInfo, error) {
	globalDriver, err := core.CreateDriverFromProcAddr(procAddr)
	if err != nil {
		return nil, errors.Wrap(err, "load vulkan")
	}

	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName: "voxcast",
		APIVersion:      common.Vulkan1_2,
	}
	extensions, _, err := globalDriver.AvailableExtensions()
	if err != nil {
		return nil, errors.Wrap(err, "list instance extensions")
	}
	if _, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]; enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	instanceDriver, _, err := globalDriver.CreateInstance(nil, instanceOptions)
	if err != nil {
		return nil, errors.Wrap(err, "create instance")
	}
	defer instanceDriver.DestroyInstance(nil)

	physicalDevices, _, err := instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate physical devices")
	}

	infos := make([]DeviceInfo, 0, len(physicalDevices))
	for _, device := range physicalDevices {
		props, err := instanceDriver.GetPhysicalDeviceProperties(device)
		if err != nil {
			return nil, errors.Wrap(err, "device properties")
		}
		deviceExtensions, _, err := instanceDriver.EnumerateDeviceExtensionProperties(device)
		if err != nil {
			return nil, errors.Wrapf(err, "extensions of %s", props.DriverName)
		}

		info := DeviceInfo{
			Name:       props.DriverName,
			Type:       fmt.Sprint(props.DriverType),
			APIVersion: fmt.Sprint(props.APIVersion),
			VendorID:   props.VendorID,
			DeviceID:   props.DeviceID,
		}
		_, info.Swapchain = deviceExtensions[khr_swapchain.ExtensionName]

		for idx, family := range instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device) {
			info.Families = append(info.Families, QueueFamilyInfo{
				Index: idx,
				Count: family.QueueCount,
				Flags: queueFlagString(family.QueueFlags),
			})
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func queueFlagString(flags core1_0.QueueFlags) string {
	var names []string
	for _, f := range []struct {
		flag core1_0.QueueFlags
		name string
	}{
		{core1_0.QueueGraphics, "graphics"},
		{core1_0.QueueCompute, "compute"},
		{core1_0.QueueTransfer, "transfer"},
		{core1_0.QueueSparseBinding, "sparse"},
	} {
		if flags&f.flag != 0 {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, "|")
}
