package cmd

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/voxcast/voxcast/vulkan"
)

// ListDevices prints the Vulkan devices and their queue families.
func ListDevices(ctx *cli.Context) error {
	setupLogging(ctx)

	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return errors.Wrap(err, "init sdl")
	}
	defer sdl.Quit()

	if err := sdl.VulkanLoadLibrary(""); err != nil {
		return errors.Wrap(err, "load vulkan library")
	}
	defer sdl.VulkanUnloadLibrary()

	devices, err := vulkan.ListDevices(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return err
	}

	logger.Noticef("system provides %d vulkan device(s)\n%s", len(devices), formatDevices(devices))
	return nil
}

func formatDevices(devices []vulkan.DeviceInfo) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"#", "Device", "Type", "API", "Vendor:Device", "Swapchain", "Queue families"})
	for idx, dev := range devices {
		families := make([]string, 0, len(dev.Families))
		for _, family := range dev.Families {
			families = append(families, fmt.Sprintf("%d: %dx %s", family.Index, family.Count, family.Flags))
		}
		table.Append([]string{
			fmt.Sprintf("%d", idx),
			dev.Name,
			dev.Type,
			dev.APIVersion,
			fmt.Sprintf("%04x:%04x", dev.VendorID, dev.DeviceID),
			fmt.Sprintf("%t", dev.Swapchain),
			strings.Join(families, ", "),
		})
	}
	table.Render()
	return buf.String()
}
