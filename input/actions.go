// Package input maps physical controls to named actions with a scalar
// force in [0, 1].
package input

import (
	"sort"

	"github.com/voxcast/voxcast/camera"
)

// Key is a USB HID keyboard scancode, the numbering SDL uses.
type Key uint32

const (
	KeyA     Key = 4
	KeyD     Key = 7
	KeyS     Key = 22
	KeyW     Key = 26
	KeyRight Key = 79
	KeyLeft  Key = 80
	KeyDown  Key = 81
	KeyUp    Key = 82
)

// Axis is a game controller axis, numbered like SDL's controller axes.
type Axis int

const (
	AxisLeftX Axis = iota
	AxisLeftY
	AxisRightX
	AxisRightY
)

// Source reports the raw state of the physical controls. Axis values are
// normalized to [-1, 1].
type Source interface {
	KeyDown(k Key) bool
	Axis(a Axis) float32
}

// Trigger produces a force from the raw control state.
type Trigger interface {
	Force(src Source) float32
}

// KeyTrigger yields full force while the key is held.
type KeyTrigger struct {
	Key Key
}

func (t KeyTrigger) Force(src Source) float32 {
	if src.KeyDown(t.Key) {
		return 1
	}
	return 0
}

// AxisTrigger yields the magnitude of an axis while its value lies inside
// [Min, Max].
type AxisTrigger struct {
	Axis Axis
	Min  float32
	Max  float32
}

func (t AxisTrigger) Force(src Source) float32 {
	v := src.Axis(t.Axis)
	if v < t.Min || v > t.Max {
		return 0
	}
	if v < 0 {
		v = -v
	}
	if v > 1 {
		v = 1
	}
	return v
}

// Actions is a registry of named actions bound to triggers.
type Actions struct {
	src     Source
	actions map[string][]Trigger
}

func NewActions(src Source) *Actions {
	return &Actions{src: src, actions: make(map[string][]Trigger)}
}

// Register binds triggers to an action, adding to any already bound.
func (a *Actions) Register(name string, triggers ...Trigger) {
	a.actions[name] = append(a.actions[name], triggers...)
}

// Names returns the registered actions in lexical order.
func (a *Actions) Names() []string {
	names := make([]string, 0, len(a.actions))
	for name := range a.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Force returns the strongest force among the action's triggers. Unknown
// actions have no force.
func (a *Actions) Force(name string) float32 {
	var force float32
	for _, trigger := range a.actions[name] {
		if f := trigger.Force(a.src); f > force {
			force = f
		}
	}
	return force
}

// Signed pairs two opposing actions into a value in [-1, 1].
func (a *Actions) Signed(negative, positive string) float32 {
	return a.Force(positive) - a.Force(negative)
}

// Action names registered by DefaultActions.
const (
	MoveLeft     = "move_left"
	MoveRight    = "move_right"
	MoveForward  = "move_forward"
	MoveBackward = "move_backward"
	RotateLeft   = "rotate_left"
	RotateRight  = "rotate_right"
	RotateUp     = "rotate_up"
	RotateDown   = "rotate_down"
)

// DefaultActions binds the movement and look actions to WASD, the arrow
// keys and both sticks of a game controller.
func DefaultActions(src Source) *Actions {
	a := NewActions(src)

	a.Register(MoveLeft, AxisTrigger{Axis: AxisLeftX, Min: -1.01, Max: 0}, KeyTrigger{Key: KeyA})
	a.Register(MoveRight, AxisTrigger{Axis: AxisLeftX, Min: 0, Max: 1.01}, KeyTrigger{Key: KeyD})
	a.Register(MoveForward, AxisTrigger{Axis: AxisLeftY, Min: -1.01, Max: 0}, KeyTrigger{Key: KeyW})
	a.Register(MoveBackward, AxisTrigger{Axis: AxisLeftY, Min: 0, Max: 1.01}, KeyTrigger{Key: KeyS})

	a.Register(RotateLeft, AxisTrigger{Axis: AxisRightX, Min: -1.01, Max: 0}, KeyTrigger{Key: KeyLeft})
	a.Register(RotateRight, AxisTrigger{Axis: AxisRightX, Min: 0, Max: 1.01}, KeyTrigger{Key: KeyRight})
	a.Register(RotateUp, AxisTrigger{Axis: AxisRightY, Min: -1.01, Max: 0}, KeyTrigger{Key: KeyUp})
	a.Register(RotateDown, AxisTrigger{Axis: AxisRightY, Min: 0, Max: 1.01}, KeyTrigger{Key: KeyDown})

	return a
}

// Motion reads the default actions and combines them. Turning right is a
// positive yaw, turning Forward toward Right; looking down is a positive
// pitch.
func (a *Actions) Motion() camera.Motion {
	return camera.Motion{
		Strafe:  a.Signed(MoveLeft, MoveRight),
		Advance: a.Signed(MoveBackward, MoveForward),
		Yaw:     a.Signed(RotateLeft, RotateRight),
		Pitch:   a.Signed(RotateUp, RotateDown),
	}
}

// StateSource is a Source backed by plain maps, for replays and tests.
type StateSource struct {
	Keys map[Key]bool
	Axes map[Axis]float32
}

func (s *StateSource) KeyDown(k Key) bool {
	return s.Keys[k]
}

func (s *StateSource) Axis(a Axis) float32 {
	return s.Axes[a]
}
