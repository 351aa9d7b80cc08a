package gpu

import (
	"bytes"
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Mapper exposes host-visible buffer memory.
type Mapper interface {
	// MapBuffer returns the whole buffer memory. The slice is only valid
	// until the matching UnmapBuffer.
	MapBuffer(b Buffer) ([]byte, error)
	UnmapBuffer(b Buffer) error
}

// WithMapped maps b for the duration of fn and always unmaps it afterwards.
// fn must not retain mem.
func WithMapped(m Mapper, b Buffer, fn func(mem []byte) error) (err error) {
	mem, err := m.MapBuffer(b)
	if err != nil {
		return errors.Wrapf(err, "map buffer %s", b.Handle)
	}
	defer func() {
		if unmapErr := m.UnmapBuffer(b); unmapErr != nil && err == nil {
			err = errors.Wrapf(unmapErr, "unmap buffer %s", b.Handle)
		}
	}()

	return fn(mem)
}

// WriteMapped encodes data in little-endian order and copies it into b at
// offset.
func WriteMapped(m Mapper, b Buffer, offset int, data any) error {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, data); err != nil {
		return errors.Wrap(err, "encode buffer contents")
	}

	return WithMapped(m, b, func(mem []byte) error {
		if offset < 0 || offset+buf.Len() > len(mem) {
			return errors.Wrapf(ErrOutOfRange, "write of %d bytes at %d into %d byte buffer", buf.Len(), offset, len(mem))
		}
		copy(mem[offset:], buf.Bytes())
		return nil
	})
}

// ReadMapped decodes data from b at offset into out, which must point to a
// fixed-size value.
func ReadMapped(m Mapper, b Buffer, offset int, out any) error {
	size := binary.Size(out)
	if size < 0 {
		return errors.AssertionFailedf("gpu: %T has no fixed encoded size", out)
	}

	return WithMapped(m, b, func(mem []byte) error {
		if offset < 0 || offset+size > len(mem) {
			return errors.Wrapf(ErrOutOfRange, "read of %d bytes at %d from %d byte buffer", size, offset, len(mem))
		}
		return binary.Read(bytes.NewReader(mem[offset:offset+size]), binary.LittleEndian, out)
	})
}
