package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/voxcast/voxcast/frame"
	"github.com/voxcast/voxcast/log"
	"github.com/voxcast/voxcast/octree"
	"github.com/voxcast/voxcast/pipelinecache"
	"github.com/voxcast/voxcast/vulkan"
	"github.com/voxcast/voxcast/window"
)

func TestParseSlots(t *testing.T) {
	slots, err := parseSlots("0,2,5,7")
	require.NoError(t, err)
	assert.Equal(t, octree.DefaultSlots, slots)

	slots, err = parseSlots(" 1 , 3,")
	require.NoError(t, err)
	assert.Equal(t, octree.Slots(1<<1|1<<3), slots)

	_, err = parseSlots("")
	assert.Error(t, err)

	_, err = parseSlots("0,x")
	assert.Error(t, err)

	_, err = parseSlots("8")
	assert.ErrorIs(t, err, octree.ErrInvalidSlot)
}

func validRunOptions() RunOptions {
	return RunOptions{
		Window: window.DefaultOptions,
		Vulkan: vulkan.DefaultOptions,
		Octree: octree.Config{Depth: 4, Slots: octree.DefaultSlots},
		Frame:  frame.DefaultOptions,
		Shader: "shaders/render.comp.spv",
	}
}

func TestRunOptionsValidate(t *testing.T) {
	require.NoError(t, validRunOptions().Validate())

	cases := []struct {
		descr  string
		mutate func(*RunOptions)
	}{
		{"zero width", func(o *RunOptions) { o.Window.Width = 0 }},
		{"zero depth", func(o *RunOptions) { o.Octree.Depth = 0 }},
		{"oversized tree", func(o *RunOptions) { o.Octree = octree.Config{Depth: 40, Slots: 0xff} }},
		{"negative speed", func(o *RunOptions) { o.Frame.Controls.MoveSpeed = -1 }},
		{"negative retries", func(o *RunOptions) { o.Frame.Retry.MaxAttempts = -1 }},
		{"no shader", func(o *RunOptions) { o.Shader = "" }},
	}

	for caseIndex, tc := range cases {
		opts := validRunOptions()
		tc.mutate(&opts)
		assert.Error(t, opts.Validate(), "[case %d] %s", caseIndex, tc.descr)
	}
}

func TestRunOptionsValidateCombinesErrors(t *testing.T) {
	opts := validRunOptions()
	opts.Window.Width = 0
	opts.Shader = ""

	err := opts.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid size")
}

// parseArgs runs the run command's flag parsing against args.
func parseArgs(t *testing.T, args ...string) (RunOptions, error) {
	t.Helper()

	var (
		opts     RunOptions
		parseErr error
	)
	app := cli.NewApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard
	app.Flags = GlobalFlags
	app.Commands = []cli.Command{
		{
			Name:  "run",
			Flags: RunFlags,
			Action: func(ctx *cli.Context) error {
				opts, parseErr = runOptions(ctx)
				return nil
			},
		},
	}
	require.NoError(t, app.Run(append([]string{"voxcast", "run"}, args...)))
	return opts, parseErr
}

func TestRunOptionsDefaults(t *testing.T) {
	opts, err := parseArgs(t)
	require.NoError(t, err)

	assert.Equal(t, 600, opts.Window.Width)
	assert.Equal(t, 400, opts.Window.Height)
	assert.Equal(t, octree.Config{Depth: 4, Slots: octree.DefaultSlots}, opts.Octree)
	assert.Equal(t, khr_surface.PresentModeFIFO, opts.Vulkan.PresentMode)
	assert.Equal(t, 0, opts.Frame.Retry.MaxAttempts)
	assert.Equal(t, frame.DefaultOptions.WorkGroup, opts.Frame.WorkGroup)
	assert.Equal(t, "shaders/render.comp.spv", opts.Shader)
	assert.Equal(t, "voxcast_pipeline_cache.bin", opts.PipelineCache)
	assert.False(t, opts.Vulkan.Validation)
}

func TestRunOptionsFromFlags(t *testing.T) {
	opts, err := parseArgs(t,
		"--width", "800",
		"--height", "600",
		"--depth", "2",
		"--slots", "1,6",
		"--move-speed", "3.5",
		"--acquire-retries", "5",
		"--device", "llvmpipe",
		"--present-mode", "Mailbox",
		"--pipeline-cache", "",
		"--validation",
	)
	require.NoError(t, err)

	assert.Equal(t, 800, opts.Window.Width)
	assert.Equal(t, 600, opts.Window.Height)
	assert.Equal(t, octree.Config{Depth: 2, Slots: octree.Slots(1<<1 | 1<<6)}, opts.Octree)
	assert.InDelta(t, 3.5, opts.Frame.Controls.MoveSpeed, 1e-6)
	assert.Equal(t, 5, opts.Frame.Retry.MaxAttempts)
	assert.Equal(t, "llvmpipe", opts.Vulkan.DevicePrefix)
	assert.Equal(t, khr_surface.PresentModeMailbox, opts.Vulkan.PresentMode)
	assert.Empty(t, opts.PipelineCache)
	assert.True(t, opts.Vulkan.Validation)
}

func TestRunOptionsRejectsBadFlags(t *testing.T) {
	cases := [][]string{
		{"--depth", "300"},
		{"--depth", "0"},
		{"--slots", "9"},
		{"--present-mode", "vsync"},
		{"--acquire-retries", "-1"},
		{"--turn-speed", "-2"},
		{"--shader", ""},
	}

	for caseIndex, args := range cases {
		_, err := parseArgs(t, args...)
		assert.Error(t, err, "[case %d] %v", caseIndex, args)
	}
}

func TestFormatStats(t *testing.T) {
	out := formatStats(frame.Stats{Frames: 120, AcquireRetries: 3, PresentFailures: 1, Resizes: 2}, 2*time.Second)

	assert.Contains(t, out, "Frames/s")
	assert.Contains(t, out, "120")
	assert.Contains(t, out, "60.0")
	assert.Contains(t, out, "TOTAL")
	assert.Contains(t, out, "2s")
}

func TestFormatStatsWithoutElapsedTime(t *testing.T) {
	out := formatStats(frame.Stats{}, 0)
	assert.Contains(t, out, "0.0")
}

func TestFormatDevices(t *testing.T) {
	out := formatDevices([]vulkan.DeviceInfo{
		{
			Name:       "llvmpipe",
			Type:       "CPU",
			APIVersion: "1.3.255",
			VendorID:   0x10005,
			DeviceID:   0x1,
			Swapchain:  true,
			Families: []vulkan.QueueFamilyInfo{
				{Index: 0, Count: 1, Flags: "graphics|compute|transfer"},
			},
		},
	})

	assert.Contains(t, out, "llvmpipe")
	assert.Contains(t, out, "10005:0001")
	assert.Contains(t, out, "true")
	assert.True(t, strings.Contains(out, "0: 1x graphics|compute|transfer"))
}

type cacheData struct {
	data []byte
	err  error
}

func (c cacheData) PipelineCacheData() ([]byte, error) {
	return c.data, c.err
}

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetSink(&buf)
	log.SetLevel(log.Info)
	t.Cleanup(func() {
		log.SetSink(os.Stdout)
		log.SetLevel(log.Notice)
	})
	return &buf
}

func TestSavePipelineCacheLogsOnce(t *testing.T) {
	buf := captureLog(t)
	path := filepath.Join(t.TempDir(), "cache.bin")
	header := pipelinecache.Header{
		Length:    pipelinecache.HeaderSize,
		Version:   pipelinecache.HeaderVersionOne,
		VendorID:  0x10de,
		CacheUUID: uuid.New(),
	}
	data := append(header.Encode(), 1, 2, 3)

	savePipelineCache(cacheData{data: data}, path)

	stored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
	assert.Equal(t, 1, strings.Count(buf.String(), "saved"), buf.String())
}

func TestSavePipelineCacheWarnsOnFailure(t *testing.T) {
	buf := captureLog(t)
	path := filepath.Join(t.TempDir(), "cache.bin")

	savePipelineCache(cacheData{data: []byte{1, 2, 3}}, path)

	_, err := os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, buf.String(), "pipeline cache not saved")
	assert.NotContains(t, buf.String(), "saved 3 bytes")
}
