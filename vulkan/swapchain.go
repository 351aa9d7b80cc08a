package vulkan

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/voxcast/voxcast/gpu"
)

// minSwapImages keeps one image presenting, one queued and one rendering.
const minSwapImages = 3

// Swapchain implements gpu.Swapchain for the context surface. Images are
// written by the compute shader directly, so they are created with storage
// usage.
type Swapchain struct {
	ctx       *Context
	swapchain khr_swapchain.Swapchain
	format    khr_surface.SurfaceFormat
	extent    gpu.Extent
	images    []gpu.Image
}

var _ gpu.Swapchain = (*Swapchain)(nil)

func (s *Swapchain) Extent() gpu.Extent {
	return s.extent
}

func (s *Swapchain) AcquireNextImage(signal gpu.Fence) (gpu.SwapImage, error) {
	fence, err := s.ctx.device.fences.Get(signal.Handle)
	if err != nil {
		return gpu.SwapImage{}, err
	}

	imageIndex, res, err := s.ctx.swapchainExtension.AcquireNextImage(s.swapchain, common.NoTimeout, nil, &fence)
	if err := checkResult(res, err); err != nil && !errors.Is(err, gpu.ErrSuboptimal) {
		return gpu.SwapImage{}, err
	}
	if imageIndex < 0 || imageIndex >= len(s.images) {
		return gpu.SwapImage{}, errors.AssertionFailedf("vulkan: acquired image %d of %d", imageIndex, len(s.images))
	}

	image := gpu.SwapImage{Index: imageIndex, Image: s.images[imageIndex]}
	if res == khr_swapchain.VKSuboptimal {
		return image, gpu.ErrSuboptimal
	}
	return image, nil
}

// Recreate waits for the device to go idle and rebuilds the swapchain for
// size, clamped to what the surface allows.
func (s *Swapchain) Recreate(size gpu.Extent) error {
	dev := s.ctx.device
	if err := dev.WaitIdle(); err != nil {
		return err
	}
	s.destroy()

	support, err := s.ctx.querySwapchainSupport()
	if err != nil {
		return errors.Wrap(err, "query swapchain support")
	}
	if len(support.Formats) == 0 || len(support.PresentModes) == 0 {
		return errors.New("surface offers no formats or present modes")
	}

	s.format = chooseSurfaceFormat(support.Formats, s.ctx.storageCapable)
	if s.format.Format != shaderFormat {
		logger.Warningf("surface format %v differs from the shader's rgba8 target, colours may be off", s.format.Format)
	}
	presentMode := choosePresentMode(support.PresentModes, s.ctx.opts.PresentMode)
	extent := chooseExtent(support.Capabilities, size)

	swapchain, _, err := s.ctx.swapchainExtension.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: s.ctx.surface,

		MinImageCount:    imageCount(support.Capabilities),
		ImageFormat:      s.format.Format,
		ImageColorSpace:  s.format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageStorage | core1_0.ImageUsageTransferDst,

		ImageSharingMode: core1_0.SharingModeExclusive,

		PreTransform:   support.Capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
	})
	if err != nil {
		return errors.Wrap(err, "create swapchain")
	}
	s.swapchain = swapchain
	s.extent = gpu.Extent{Width: extent.Width, Height: extent.Height}

	images, _, err := s.ctx.swapchainExtension.GetSwapchainImages(swapchain)
	if err != nil {
		return errors.Wrap(err, "get swapchain images")
	}
	for _, image := range images {
		s.images = append(s.images, dev.registerImage(image, s.format.Format))
	}

	logger.Infof("swapchain %dx%d, %d images, format %v, present mode %v", extent.Width, extent.Height, len(images), s.format.Format, presentMode)
	return nil
}

func (s *Swapchain) destroy() {
	if len(s.images) > 0 {
		s.ctx.device.releaseImages(s.images)
		s.images = nil
	}
	if s.swapchain.Initialized() {
		s.ctx.swapchainExtension.DestroySwapchain(s.swapchain, nil)
		s.swapchain = khr_swapchain.Swapchain{}
	}
}

// Close waits for the device and destroys the swapchain.
func (s *Swapchain) Close() error {
	err := s.ctx.device.WaitIdle()
	s.destroy()
	return err
}

type swapchainSupport struct {
	Capabilities *khr_surface.SurfaceCapabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode
}

func (c *Context) querySwapchainSupport() (swapchainSupport, error) {
	var details swapchainSupport
	var err error

	details.Capabilities, _, err = c.surfaceExtension.GetPhysicalDeviceSurfaceCapabilities(c.surface, c.physicalDevice)
	if err != nil {
		return details, err
	}

	details.Formats, _, err = c.surfaceExtension.GetPhysicalDeviceSurfaceFormats(c.surface, c.physicalDevice)
	if err != nil {
		return details, err
	}

	details.PresentModes, _, err = c.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(c.surface, c.physicalDevice)
	return details, err
}

func (c *Context) storageCapable(format core1_0.Format) bool {
	props := c.instanceDriver.GetPhysicalDeviceFormatProperties(c.physicalDevice, format)
	return props.OptimalTilingFeatures&core1_0.FormatFeatureStorageImage != 0
}

// shaderFormat is the layout the compute shader declares for its target.
const shaderFormat = core1_0.FormatR8G8B8A8UnsignedNormalized

// unormFormats can be written from a shader as storage images, unlike
// their sRGB counterparts. The first one matches the shader.
var unormFormats = []core1_0.Format{
	shaderFormat,
	core1_0.FormatB8G8R8A8UnsignedNormalized,
}

// chooseSurfaceFormat prefers a UNORM format usable as a storage image,
// RGBA before BGRA, and falls back to the first format offered.
func chooseSurfaceFormat(available []khr_surface.SurfaceFormat, storageCapable func(core1_0.Format) bool) khr_surface.SurfaceFormat {
	for _, want := range unormFormats {
		for _, format := range available {
			if format.Format == want && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear && storageCapable(format.Format) {
				return format
			}
		}
	}

	for _, format := range available {
		if storageCapable(format.Format) {
			return format
		}
	}

	return available[0]
}

func choosePresentMode(available []khr_surface.PresentMode, want khr_surface.PresentMode) khr_surface.PresentMode {
	for _, mode := range available {
		if mode == want {
			return mode
		}
	}

	return khr_surface.PresentModeFIFO
}

// ParsePresentMode maps a command line name to a present mode.
func ParsePresentMode(name string) (khr_surface.PresentMode, error) {
	switch strings.ToLower(name) {
	case "", "fifo":
		return khr_surface.PresentModeFIFO, nil
	case "mailbox":
		return khr_surface.PresentModeMailbox, nil
	case "immediate":
		return khr_surface.PresentModeImmediate, nil
	}
	return 0, errors.WithHint(
		errors.Newf("unknown present mode %q", name),
		"use one of fifo, mailbox or immediate",
	)
}

// chooseExtent uses the surface extent when the surface dictates one and
// otherwise clamps the drawable size to the supported range.
func chooseExtent(capabilities *khr_surface.SurfaceCapabilities, drawable gpu.Extent) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	width := min(max(drawable.Width, capabilities.MinImageExtent.Width), capabilities.MaxImageExtent.Width)
	height := min(max(drawable.Height, capabilities.MinImageExtent.Height), capabilities.MaxImageExtent.Height)
	return core1_0.Extent2D{Width: width, Height: height}
}

func imageCount(capabilities *khr_surface.SurfaceCapabilities) int {
	count := max(capabilities.MinImageCount+1, minSwapImages)
	if capabilities.MaxImageCount > 0 && capabilities.MaxImageCount < count {
		count = capabilities.MaxImageCount
	}
	return count
}
