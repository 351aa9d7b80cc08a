// Package window owns the SDL window the renderer presents into and
// translates its events for the frame loop.
package window

import (
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/voxcast/voxcast/frame"
	"github.com/voxcast/voxcast/gpu"
	"github.com/voxcast/voxcast/log"
)

var logger = log.New("voxcast/window")

type Options struct {
	Title  string
	Width  int
	Height int
}

var DefaultOptions = Options{Title: "voxcast", Width: 600, Height: 400}

func (o Options) Validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return errors.Newf("window: invalid size %dx%d", o.Width, o.Height)
	}
	return nil
}

// Window is a resizable SDL window with a Vulkan surface. All methods must
// be called from the thread that opened it.
type Window struct {
	win        *sdl.Window
	swapchain  gpu.Swapchain
	controller *sdl.GameController

	// pending holds events drained while waiting out a minimized window.
	pending []frame.Event
}

var _ frame.Window = (*Window)(nil)

// Open initializes SDL and shows the window.
func Open(opts Options) (*Window, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_GAMECONTROLLER); err != nil {
		return nil, errors.Wrap(err, "init sdl")
	}

	win, err := sdl.CreateWindow(opts.Title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(opts.Width), int32(opts.Height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "create window")
	}

	w := &Window{win: win}
	for i := 0; i < sdl.NumJoysticks(); i++ {
		if w.openController(i) {
			break
		}
	}
	return w, nil
}

// SDL exposes the underlying window for surface creation.
func (w *Window) SDL() *sdl.Window {
	return w.win
}

// Attach sets the swapchain that ForceResize rebuilds.
func (w *Window) Attach(sc gpu.Swapchain) {
	w.swapchain = sc
}

func (w *Window) Swapchain() gpu.Swapchain {
	return w.swapchain
}

// DrawableSize returns the size of the surface in pixels.
func (w *Window) DrawableSize() gpu.Extent {
	width, height := w.win.VulkanGetDrawableSize()
	return gpu.Extent{Width: int(width), Height: int(height)}
}

func (w *Window) minimized() bool {
	size := w.DrawableSize()
	return w.win.GetFlags()&sdl.WINDOW_MINIMIZED != 0 || size.Width == 0 || size.Height == 0
}

func (w *Window) PollEvents() []frame.Event {
	events := w.pending
	w.pending = nil
	for ev := sdl.PollEvent(); ev != nil; ev = sdl.PollEvent() {
		if e, ok := w.translate(ev); ok {
			events = append(events, e)
		}
	}
	return events
}

// ForceResize rebuilds the swapchain for the current drawable size. While
// the window is minimized it blocks on window events. A close request ends
// the wait with frame.ErrClosed and the swapchain is left as it is.
func (w *Window) ForceResize() error {
	if w.swapchain == nil {
		return errors.AssertionFailedf("window: no swapchain attached")
	}

	for w.minimized() {
		logger.Debugf("window minimized, waiting")
		ev := sdl.WaitEvent()
		if ev == nil {
			return errors.Newf("window: wait for event: %v", sdl.GetError())
		}
		if e, ok := w.translate(ev); ok {
			if e.Kind == frame.EventClose {
				return frame.ErrClosed
			}
			w.pending = append(w.pending, e)
		}
	}

	size := w.DrawableSize()
	logger.Debugf("resizing swapchain to %dx%d", size.Width, size.Height)
	return w.swapchain.Recreate(size)
}

func (w *Window) translate(ev sdl.Event) (frame.Event, bool) {
	if e, ok := ev.(*sdl.ControllerDeviceEvent); ok {
		w.controllerEvent(e)
		return frame.Event{}, false
	}
	return translate(ev)
}

func translate(ev sdl.Event) (frame.Event, bool) {
	switch e := ev.(type) {
	case *sdl.QuitEvent:
		return frame.Event{Kind: frame.EventClose}, true
	case *sdl.KeyboardEvent:
		if e.Type == sdl.KEYDOWN && e.Keysym.Sym == sdl.K_ESCAPE {
			return frame.Event{Kind: frame.EventClose}, true
		}
	case *sdl.WindowEvent:
		switch e.Event {
		case sdl.WINDOWEVENT_CLOSE:
			return frame.Event{Kind: frame.EventClose}, true
		case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
			return frame.Event{Kind: frame.EventResize, Width: int(e.Data1), Height: int(e.Data2)}, true
		}
	}
	return frame.Event{}, false
}

func (w *Window) controllerEvent(e *sdl.ControllerDeviceEvent) {
	switch e.Type {
	case sdl.CONTROLLERDEVICEADDED:
		if w.controller == nil {
			w.openController(int(e.Which))
		}
	case sdl.CONTROLLERDEVICEREMOVED:
		if w.controller != nil && w.controller.Joystick().InstanceID() == e.Which {
			logger.Infof("game controller removed")
			w.controller.Close()
			w.controller = nil
		}
	}
}

func (w *Window) openController(index int) bool {
	if !sdl.IsGameController(index) {
		return false
	}
	gc := sdl.GameControllerOpen(index)
	if gc == nil {
		logger.Warningf("open game controller %d: %v", index, sdl.GetError())
		return false
	}
	logger.Infof("using game controller %q", gc.Name())
	w.controller = gc
	return true
}

// Close destroys the window and shuts SDL down. The swapchain must be
// destroyed before.
func (w *Window) Close() {
	if w.controller != nil {
		w.controller.Close()
		w.controller = nil
	}
	if w.win != nil {
		_ = w.win.Destroy()
		w.win = nil
	}
	sdl.Quit()
}
