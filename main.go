//go:generate glslc shaders/render.comp -o shaders/render.comp.spv

package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/urfave/cli"
	"github.com/voxcast/voxcast/cmd"
)

func main() {
	// SDL and the Vulkan surface must be driven from the main thread.
	runtime.LockOSThread()

	app := cli.NewApp()
	app.Name = "voxcast"
	app.Usage = "ray cast a sparse voxel octree with a Vulkan compute shader"
	app.Version = "0.1.0"
	app.Flags = cmd.GlobalFlags
	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "open a window and fly through the generated scene",
			Description: `
Generate a voxel octree, upload it to the GPU and render it every frame with a
compute shader that writes straight into the swapchain images.

Move with WASD or the left stick, look around with the arrow keys or the right
stick. Escape or closing the window quits.`,
			Flags:  cmd.RunFlags,
			Action: cmd.Run,
		},
		{
			Name:   "list-devices",
			Usage:  "list available vulkan devices",
			Action: cmd.ListDevices,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}
