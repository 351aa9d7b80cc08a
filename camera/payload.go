package camera

import (
	"bytes"
	"encoding/binary"

	"github.com/go-gl/mathgl/mgl32"
)

// PayloadSize is the std140 size of the camera uniform block:
//
//	layout(std140) uniform Camera {
//	    vec4 position; // offset 0
//	    mat4 basis;    // offset 16, column-major
//	};
const PayloadSize = 16 + 64

// Payload is the per-frame uniform block. Field order and sizes are shared
// with the compute shader and must not change independently of it.
type Payload struct {
	Position mgl32.Vec4
	Basis    mgl32.Mat4
}

// Payload packs the current frame for upload.
func (b *Basis) Payload() Payload {
	return Payload{
		Position: b.Position.Vec4(1),
		Basis:    b.HomogBasisMatrix(),
	}
}

// Encode returns the little-endian std140 image of p.
func (p Payload) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, PayloadSize))
	// Writing fixed-size float arrays into a bytes.Buffer cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, p)
	return buf.Bytes()
}
