package window

import (
	"github.com/veandco/go-sdl2/sdl"
	"github.com/voxcast/voxcast/input"
)

// Source reads the keyboard and the first game controller of w.
func (w *Window) Source() input.Source {
	return sdlSource{w: w}
}

type sdlSource struct {
	w *Window
}

func (s sdlSource) KeyDown(k input.Key) bool {
	state := sdl.GetKeyboardState()
	return int(k) < len(state) && state[k] != 0
}

func (s sdlSource) Axis(a input.Axis) float32 {
	if s.w.controller == nil {
		return 0
	}
	return normalizeAxis(s.w.controller.Axis(sdl.GameControllerAxis(a)))
}

// normalizeAxis maps a raw stick value onto [-1, 1].
func normalizeAxis(v int16) float32 {
	f := float32(v) / 32767
	if f < -1 {
		return -1
	}
	return f
}
