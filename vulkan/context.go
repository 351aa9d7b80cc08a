// Package vulkan implements the gpu interfaces on top of a Vulkan device
// presenting to an SDL window.
package vulkan

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
	"github.com/voxcast/voxcast/gpu"
	"github.com/voxcast/voxcast/log"
	"github.com/voxcast/voxcast/pipelinecache"
)

var logger = log.New("voxcast/vulkan")

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
var deviceExtensions = []string{khr_swapchain.ExtensionName}

// Options select the device and how it presents.
type Options struct {
	// DevicePrefix restricts device selection to names starting with it.
	DevicePrefix string
	Validation   bool
	PresentMode  khr_surface.PresentMode
}

var DefaultOptions = Options{
	PresentMode: khr_surface.PresentModeFIFO,
}

func (o Options) Validate() error {
	switch o.PresentMode {
	case khr_surface.PresentModeFIFO, khr_surface.PresentModeMailbox, khr_surface.PresentModeImmediate:
		return nil
	}
	return errors.Newf("vulkan: unsupported present mode %v", o.PresentMode)
}

// Context owns the instance, surface and logical device of a render
// session.
type Context struct {
	window *sdl.Window
	opts   Options

	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver
	deviceDriver   core1_0.CoreDeviceDriver

	debugDriver        ext_debug_utils.ExtensionDriver
	debugMessenger     ext_debug_utils.DebugUtilsMessenger
	surfaceExtension   khr_surface.ExtensionDriver
	surface            khr_surface.Surface
	swapchainExtension khr_swapchain.ExtensionDriver

	physicalDevice core1_0.PhysicalDevice
	properties     *core1_0.PhysicalDeviceProperties
	queueFamily    int
	queueCount     int

	device *Device
	queue  *Queue
}

// NewContext brings up Vulkan for window. On failure everything created so
// far is destroyed again.
func NewContext(window *sdl.Window, opts Options) (_ *Context, err error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ctx := &Context{window: window, opts: opts}
	defer func() {
		if err != nil {
			ctx.Close()
		}
	}()

	ctx.globalDriver, err = core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return nil, errors.Wrap(err, "load vulkan")
	}

	steps := []struct {
		name string
		fn   func() error
	}{
		{"create instance", ctx.createInstance},
		{"set up debug messenger", ctx.setupDebugMessenger},
		{"create surface", ctx.createSurface},
		{"pick physical device", ctx.pickPhysicalDevice},
		{"create logical device", ctx.createLogicalDevice},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return nil, errors.Wrap(err, step.name)
		}
	}

	logger.Noticef("using %s (queue family %d, %d queues)", ctx.properties.DriverName, ctx.queueFamily, ctx.queueCount)
	return ctx, nil
}

func (c *Context) createInstance() error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    "voxcast",
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "voxcast",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	sdlExtensions := c.window.VulkanGetInstanceExtensions()
	extensions, _, err := c.globalDriver.AvailableExtensions()
	if err != nil {
		return err
	}

	for _, ext := range sdlExtensions {
		if _, hasExt := extensions[ext]; !hasExt {
			return errors.Newf("missing instance extension %s required by sdl", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if c.opts.Validation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	if _, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]; enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if c.opts.Validation {
		layers, _, err := c.globalDriver.AvailableLayers()
		if err != nil {
			return err
		}

		for _, layer := range validationLayers {
			if _, hasValidation := layers[layer]; !hasValidation {
				return errors.WithHint(
					errors.Newf("validation layer %s not available", layer),
					"install the LunarG Vulkan SDK or run without --validation",
				)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		instanceOptions.Next = debugMessengerOptions()
	}

	c.instanceDriver, _, err = c.globalDriver.CreateInstance(nil, instanceOptions)
	return err
}

func debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning | ext_debug_utils.SeverityInfo,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    logDebug,
	}
}

func logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	switch {
	case severity&ext_debug_utils.SeverityError != 0:
		logger.Errorf("[%s] %s", msgType, data.Message)
	case severity&ext_debug_utils.SeverityWarning != 0:
		logger.Warningf("[%s] %s", msgType, data.Message)
	default:
		logger.Debugf("[%s] %s", msgType, data.Message)
	}
	return false
}

func (c *Context) setupDebugMessenger() error {
	if !c.opts.Validation {
		return nil
	}

	var err error
	c.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(c.instanceDriver)
	c.debugMessenger, _, err = c.debugDriver.CreateDebugUtilsMessenger(nil, debugMessengerOptions())
	return err
}

func (c *Context) createSurface() error {
	c.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(c.instanceDriver)
	surface, err := vkng_sdl2.CreateSurface(c.instanceDriver.Instance(), c.surfaceExtension, c.window)
	if err != nil {
		return err
	}

	c.surface = surface
	return nil
}

func (c *Context) pickPhysicalDevice() error {
	physicalDevices, _, err := c.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return err
	}

	for _, device := range physicalDevices {
		props, err := c.instanceDriver.GetPhysicalDeviceProperties(device)
		if err != nil {
			return err
		}
		if !strings.HasPrefix(props.DriverName, c.opts.DevicePrefix) {
			logger.Debugf("skipping %s: name does not match %q", props.DriverName, c.opts.DevicePrefix)
			continue
		}

		family, count, err := c.findQueueFamily(device)
		if err != nil {
			logger.Debugf("skipping %s: %v", props.DriverName, err)
			continue
		}
		if !c.checkDeviceExtensionSupport(device) {
			logger.Debugf("skipping %s: swapchain extension missing", props.DriverName)
			continue
		}

		c.physicalDevice = device
		c.properties = props
		c.queueFamily = family
		c.queueCount = count
		return nil
	}

	return errors.WithHint(
		errors.Newf("no suitable GPU among %d devices", len(physicalDevices)),
		"a device needs a compute queue family that can present to the window; see list-devices",
	)
}

func (c *Context) findQueueFamily(device core1_0.PhysicalDevice) (family, count int, err error) {
	families := c.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device)
	return pickQueueFamily(families, func(idx int) (bool, error) {
		supported, _, err := c.surfaceExtension.GetPhysicalDeviceSurfaceSupport(c.surface, device, idx)
		return supported, err
	})
}

// pickQueueFamily returns the first compute family that can present, with
// up to two queues from it. Compute families always support transfers.
func pickQueueFamily(families []*core1_0.QueueFamilyProperties, presentable func(int) (bool, error)) (family, count int, err error) {
	for idx, props := range families {
		if props.QueueFlags&core1_0.QueueCompute == 0 || props.QueueCount == 0 {
			continue
		}

		supported, err := presentable(idx)
		if err != nil {
			return 0, 0, err
		}
		if !supported {
			continue
		}

		return idx, min(props.QueueCount, 2), nil
	}
	return 0, 0, errors.New("no compute queue family can present")
}

func (c *Context) checkDeviceExtensionSupport(device core1_0.PhysicalDevice) bool {
	extensions, _, err := c.instanceDriver.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return false
	}

	for _, extension := range deviceExtensions {
		if _, hasExtension := extensions[extension]; !hasExtension {
			return false
		}
	}
	return true
}

func (c *Context) createLogicalDevice() error {
	priorities := []float32{1.0}
	if c.queueCount > 1 {
		priorities = append(priorities, 1.0)
	}

	extensionNames := append([]string(nil), deviceExtensions...)

	// Portability implementations insist on the subset extension.
	extensions, _, err := c.instanceDriver.EnumerateDeviceExtensionProperties(c.physicalDevice)
	if err != nil {
		return err
	}
	if _, supported := extensions[khr_portability_subset.ExtensionName]; supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	c.deviceDriver, _, err = c.instanceDriver.CreateDevice(c.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: []core1_0.DeviceQueueCreateInfo{
			{
				QueueFamilyIndex: c.queueFamily,
				QueuePriorities:  priorities,
			},
		},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return err
	}
	c.swapchainExtension = khr_swapchain.CreateExtensionDriverFromCoreDriver(c.deviceDriver)

	computeQueue := c.deviceDriver.GetQueue(c.queueFamily, 0)
	transferQueue := computeQueue
	if c.queueCount > 1 {
		transferQueue = c.deviceDriver.GetQueue(c.queueFamily, 1)
	}

	c.device, err = newDevice(c, transferQueue)
	if err != nil {
		return err
	}
	c.queue = &Queue{dev: c.device, queue: computeQueue}
	return nil
}

// Device returns the resource factory of the logical device.
func (c *Context) Device() *Device {
	return c.device
}

// Queue returns the compute queue frames are submitted and presented on.
func (c *Context) Queue() *Queue {
	return c.queue
}

// CacheIdentity identifies the driver for pipeline cache validation.
func (c *Context) CacheIdentity() pipelinecache.Identity {
	return pipelinecache.Identity{
		VendorID:  c.properties.VendorID,
		DeviceID:  c.properties.DeviceID,
		CacheUUID: c.properties.PipelineCacheUUID,
	}
}

// NewSwapchain creates a swapchain for the window surface at size.
func (c *Context) NewSwapchain(size gpu.Extent) (*Swapchain, error) {
	sc := &Swapchain{ctx: c}
	if err := sc.Recreate(size); err != nil {
		return nil, err
	}
	return sc, nil
}

// Close destroys the device, surface and instance. Swapchains must be
// destroyed first.
func (c *Context) Close() {
	if c.device != nil {
		if err := c.device.destroy(); err != nil {
			logger.Errorf("destroy device: %v", err)
		}
		c.device = nil
	}

	if c.deviceDriver != nil {
		c.deviceDriver.DestroyDevice(nil)
		c.deviceDriver = nil
	}

	if c.debugMessenger.Initialized() {
		c.debugDriver.DestroyDebugUtilsMessenger(c.debugMessenger, nil)
		c.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
	}

	if c.surface.Initialized() {
		c.surfaceExtension.DestroySurface(c.surface, nil)
		c.surface = khr_surface.Surface{}
	}

	if c.instanceDriver != nil {
		c.instanceDriver.DestroyInstance(nil)
		c.instanceDriver = nil
	}
}
