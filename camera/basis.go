// Package camera keeps the orthonormal frame the renderer looks through and
// packs it into the uniform block read by the compute shader.
package camera

import (
	"github.com/go-gl/mathgl/mgl32"
)

// Basis is a right-handed orthonormal frame plus a position.
type Basis struct {
	Right    mgl32.Vec3
	Up       mgl32.Vec3
	Forward  mgl32.Vec3
	Position mgl32.Vec3
}

// NewBasis returns the identity frame at the origin.
func NewBasis() *Basis {
	return &Basis{
		Right:   mgl32.Vec3{1, 0, 0},
		Up:      mgl32.Vec3{0, 1, 0},
		Forward: mgl32.Vec3{0, 0, 1},
	}
}

// Rotate turns all three basis vectors by angle radians around axis. The
// axis must be normalized.
func (b *Basis) Rotate(axis mgl32.Vec3, angle float32) {
	rot := mgl32.HomogRotate3D(angle, axis).Mat3()

	b.Right = rot.Mul3x1(b.Right)
	b.Up = rot.Mul3x1(b.Up)
	b.Forward = rot.Mul3x1(b.Forward)
}

// Translate moves the frame by delta, in world space.
func (b *Basis) Translate(delta mgl32.Vec3) {
	b.Position = b.Position.Add(delta)
}

// BasisMatrix returns the matrix whose columns are Right, Up and Forward.
// It maps camera-local directions to world space; its transpose maps world
// directions into the camera frame.
func (b *Basis) BasisMatrix() mgl32.Mat3 {
	return mgl32.Mat3FromCols(b.Right, b.Up, b.Forward)
}

// HomogBasisMatrix is BasisMatrix extended to 4x4 with no translation.
func (b *Basis) HomogBasisMatrix() mgl32.Mat4 {
	return b.BasisMatrix().Mat4()
}

// LookAtMatrix returns a conventional view matrix: the basis rows applied
// after a translation by -Position.
func (b *Basis) LookAtMatrix() mgl32.Mat4 {
	rows := mgl32.Mat4FromRows(
		b.Right.Vec4(0),
		b.Up.Vec4(0),
		b.Forward.Vec4(0),
		mgl32.Vec4{0, 0, 0, 1},
	)
	return rows.Mul4(mgl32.Translate3D(-b.Position[0], -b.Position[1], -b.Position[2]))
}

// Orthonormalize re-projects the frame with Gram-Schmidt, keeping the
// direction of Forward. Long sequences of rotations accumulate rounding
// drift of roughly 1e-7 per rotation; calling this once in a while removes
// it.
func (b *Basis) Orthonormalize() {
	forward := b.Forward.Normalize()
	up := b.Up.Sub(forward.Mul(forward.Dot(b.Up))).Normalize()
	b.Forward = forward
	b.Up = up
	b.Right = up.Cross(forward)
}
