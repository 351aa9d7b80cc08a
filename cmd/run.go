package cmd

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"
	"github.com/voxcast/voxcast/camera"
	"github.com/voxcast/voxcast/frame"
	"github.com/voxcast/voxcast/input"
	"github.com/voxcast/voxcast/octree"
	"github.com/voxcast/voxcast/pipelinecache"
	"github.com/voxcast/voxcast/stager"
	"github.com/voxcast/voxcast/vulkan"
	"github.com/voxcast/voxcast/window"
)

// RunFlags are the flags of the run command.
var RunFlags = []cli.Flag{
	cli.IntFlag{
		Name:  "width",
		Value: window.DefaultOptions.Width,
		Usage: "initial window width",
	},
	cli.IntFlag{
		Name:  "height",
		Value: window.DefaultOptions.Height,
		Usage: "initial window height",
	},
	cli.IntFlag{
		Name:  "depth",
		Value: 4,
		Usage: "number of octree layers",
	},
	cli.StringFlag{
		Name:  "slots",
		Value: "0,2,5,7",
		Usage: "comma separated child slots populated on every octree node",
	},
	cli.Float64Flag{
		Name:  "move-speed",
		Value: float64(camera.DefaultControls.MoveSpeed),
		Usage: "camera movement in units per second",
	},
	cli.Float64Flag{
		Name:  "turn-speed",
		Value: float64(camera.DefaultControls.TurnSpeed),
		Usage: "camera rotation in radians per second",
	},
	cli.IntFlag{
		Name:  "acquire-retries",
		Value: 0,
		Usage: "image acquisition attempts per frame; 0 retries forever",
	},
	cli.StringFlag{
		Name:  "device",
		Value: "",
		Usage: "use the first device whose name starts with this value",
	},
	cli.StringFlag{
		Name:  "shader",
		Value: "shaders/render.comp.spv",
		Usage: "SPIR-V compute shader",
	},
	cli.StringFlag{
		Name:  "pipeline-cache",
		Value: "voxcast_pipeline_cache.bin",
		Usage: "pipeline cache file; empty disables caching",
	},
	cli.BoolFlag{
		Name:  "validation",
		Usage: "enable the Khronos validation layer",
	},
	cli.StringFlag{
		Name:  "present-mode",
		Value: "fifo",
		Usage: "fifo, mailbox or immediate",
	},
}

// RunOptions configure an interactive session.
type RunOptions struct {
	Window window.Options
	Vulkan vulkan.Options
	Octree octree.Config
	Frame  frame.Options

	Shader        string
	PipelineCache string
}

func (o RunOptions) Validate() error {
	var err error
	err = errors.CombineErrors(err, o.Window.Validate())
	err = errors.CombineErrors(err, o.Vulkan.Validate())
	err = errors.CombineErrors(err, o.Octree.Validate())
	if o.Octree.Depth == 0 {
		err = errors.CombineErrors(err, errors.New("depth must be at least 1"))
	}
	if o.Frame.Controls.MoveSpeed < 0 || o.Frame.Controls.TurnSpeed < 0 {
		err = errors.CombineErrors(err, errors.Newf("negative speed in %+v", o.Frame.Controls))
	}
	if o.Frame.Retry.MaxAttempts < 0 {
		err = errors.CombineErrors(err, errors.Newf("acquire-retries %d is negative", o.Frame.Retry.MaxAttempts))
	}
	if o.Shader == "" {
		err = errors.CombineErrors(err, errors.New("no shader given"))
	}
	return err
}

func parseSlots(list string) (octree.Slots, error) {
	var indices []int
	for _, field := range strings.Split(list, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		idx, err := strconv.Atoi(field)
		if err != nil {
			return 0, errors.Wrapf(err, "slot %q", field)
		}
		indices = append(indices, idx)
	}
	if len(indices) == 0 {
		return 0, errors.New("no slots given")
	}
	return octree.SlotsOf(indices...)
}

func runOptions(ctx *cli.Context) (RunOptions, error) {
	depth := ctx.Int("depth")
	if depth < 0 || depth > 255 {
		return RunOptions{}, errors.Newf("depth %d out of range", depth)
	}
	slots, err := parseSlots(ctx.String("slots"))
	if err != nil {
		return RunOptions{}, err
	}
	presentMode, err := vulkan.ParsePresentMode(ctx.String("present-mode"))
	if err != nil {
		return RunOptions{}, err
	}

	opts := RunOptions{
		Window: window.Options{
			Title:  window.DefaultOptions.Title,
			Width:  ctx.Int("width"),
			Height: ctx.Int("height"),
		},
		Vulkan: vulkan.Options{
			DevicePrefix: ctx.String("device"),
			Validation:   ctx.Bool("validation"),
			PresentMode:  presentMode,
		},
		Octree: octree.Config{
			Depth: uint8(depth),
			Slots: slots,
		},
		Frame: frame.Options{
			Controls: camera.Controls{
				MoveSpeed: float32(ctx.Float64("move-speed")),
				TurnSpeed: float32(ctx.Float64("turn-speed")),
			},
			Retry:     frame.RetryPolicy{MaxAttempts: ctx.Int("acquire-retries")},
			WorkGroup: frame.DefaultOptions.WorkGroup,
		},
		Shader:        ctx.String("shader"),
		PipelineCache: ctx.String("pipeline-cache"),
	}
	return opts, opts.Validate()
}

// Run opens the window and renders until it is closed.
func Run(ctx *cli.Context) error {
	setupLogging(ctx)

	opts, err := runOptions(ctx)
	if err != nil {
		return errors.Wrap(err, "invalid options")
	}
	return render(context.Background(), opts)
}

func render(ctx context.Context, opts RunOptions) (err error) {
	win, err := window.Open(opts.Window)
	if err != nil {
		return err
	}
	defer win.Close()

	vk, err := vulkan.NewContext(win.SDL(), opts.Vulkan)
	if err != nil {
		return errors.Wrap(err, "init vulkan")
	}
	defer vk.Close()

	sc, err := vk.NewSwapchain(win.DrawableSize())
	if err != nil {
		return err
	}
	defer closeWith(&err, "close swapchain", sc.Close)
	win.Attach(sc)

	dev := vk.Device()
	var cacheData []byte
	if opts.PipelineCache != "" {
		if cacheData, err = pipelinecache.Load(opts.PipelineCache, vk.CacheIdentity()); err != nil {
			return err
		}
	}
	pipeline, err := dev.LoadComputePipeline(opts.Shader, cacheData)
	if err != nil {
		return err
	}
	defer closeWith(&err, "destroy pipeline", func() error { return dev.DestroyPipeline(pipeline) })

	nodes, err := octree.GenerateWith(opts.Octree)
	if err != nil {
		return err
	}
	res, err := stager.Stage(dev, nodes)
	if err != nil {
		return err
	}
	defer closeWith(&err, "release frame resources", func() error { return res.Release(dev) })

	ctrl, err := frame.New(frame.Deps{
		Device:    dev,
		Queue:     vk.Queue(),
		Window:    win,
		Input:     input.DefaultActions(win.Source()),
		Pipeline:  pipeline,
		Resources: res,
		Camera:    camera.NewBasis(),
	}, opts.Frame)
	if err != nil {
		return err
	}
	defer closeWith(&err, "stop frame loop", ctrl.Close)

	start := hrtime.Now()
	runErr := ctrl.Run(ctx)
	elapsed := hrtime.Now() - start

	if opts.PipelineCache != "" {
		savePipelineCache(dev, opts.PipelineCache)
	}
	logger.Noticef("session statistics\n%s", formatStats(ctrl.Stats(), elapsed))

	return errors.Wrap(runErr, "frame loop")
}

// closeWith runs fn and keeps its error unless an earlier one is pending.
func closeWith(err *error, what string, fn func() error) {
	if closeErr := fn(); closeErr != nil {
		if *err == nil {
			*err = errors.Wrap(closeErr, what)
			return
		}
		logger.Warningf("%s: %v", what, closeErr)
	}
}

type pipelineCacheSource interface {
	PipelineCacheData() ([]byte, error)
}

func savePipelineCache(src pipelineCacheSource, path string) {
	data, err := src.PipelineCacheData()
	if err == nil && len(data) > 0 {
		err = pipelinecache.Save(path, data)
	}
	if err != nil {
		logger.Warningf("pipeline cache not saved: %v", err)
	}
}

func formatStats(stats frame.Stats, elapsed time.Duration) string {
	var fps float64
	if elapsed > 0 {
		fps = float64(stats.Frames) / elapsed.Seconds()
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Frames", "Acquire retries", "Present failures", "Resizes", "Frames/s"})
	table.Append([]string{
		fmt.Sprintf("%d", stats.Frames),
		fmt.Sprintf("%d", stats.AcquireRetries),
		fmt.Sprintf("%d", stats.PresentFailures),
		fmt.Sprintf("%d", stats.Resizes),
		fmt.Sprintf("%.1f", fps),
	})
	table.SetFooter([]string{"", "", "", "TOTAL", elapsed.Round(time.Millisecond).String()})
	table.Render()
	return buf.String()
}
