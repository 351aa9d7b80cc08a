package camera

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Motion is the signed input for one frame. Every component lies in
// [-1, 1]: Strafe moves along Right, Advance along Forward, Yaw turns
// around Up and Pitch around Right.
type Motion struct {
	Strafe  float32
	Advance float32
	Yaw     float32
	Pitch   float32
}

// Controls scales a Motion into world units.
type Controls struct {
	// MoveSpeed is the distance covered per second at full force.
	MoveSpeed float32

	// TurnSpeed is the rotation in radians per second at full force.
	TurnSpeed float32
}

// DefaultControls match the command line defaults.
var DefaultControls = Controls{MoveSpeed: 1, TurnSpeed: 1.5}

// Steer applies one frame of input lasting dt seconds. Movement follows the
// current camera axes.
func (b *Basis) Steer(in Motion, c Controls, dt float32) {
	if in.Yaw != 0 {
		b.Rotate(b.Up, in.Yaw*c.TurnSpeed*dt)
	}
	if in.Pitch != 0 {
		b.Rotate(b.Right, in.Pitch*c.TurnSpeed*dt)
	}

	local := mgl32.Vec3{in.Strafe, 0, in.Advance}.Mul(c.MoveSpeed * dt)
	b.Translate(b.BasisMatrix().Mul3x1(local))
}
