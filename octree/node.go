package octree

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// NodeSize is the size in bytes of one encoded Node. The compute shader
// declares the same struct: eight uint child indices followed by a uint
// palette index, tightly packed.
const NodeSize = 9 * 4

// NoChild marks an unpopulated child slot. The root always lives at index 0
// so no node can ever be referenced as a child with that index.
const NoChild uint32 = 0

var (
	ErrInvalidSlot   = errors.New("octree: child slot out of range")
	ErrInvalidLayout = errors.New("octree: invalid node layout")
	ErrShortBuffer   = errors.New("octree: buffer is not a whole number of nodes")
)

// Node is a single octree node as laid out in GPU memory.
type Node struct {
	Children [8]uint32
	Palette  uint32
}

// HasChild reports whether the given slot references a child node.
func (n Node) HasChild(slot int) bool {
	return n.Children[slot] != NoChild
}

// ChildCount returns the number of populated child slots.
func (n Node) ChildCount() int {
	count := 0
	for _, child := range n.Children {
		if child != NoChild {
			count++
		}
	}
	return count
}

// Encode serializes nodes into the little-endian layout consumed by the
// compute shader.
func Encode(nodes []Node) []byte {
	out := make([]byte, 0, len(nodes)*NodeSize)
	for _, node := range nodes {
		for _, child := range node.Children {
			out = binary.LittleEndian.AppendUint32(out, child)
		}
		out = binary.LittleEndian.AppendUint32(out, node.Palette)
	}
	return out
}

// Decode parses a buffer produced by Encode.
func Decode(data []byte) ([]Node, error) {
	if len(data)%NodeSize != 0 {
		return nil, errors.Wrapf(ErrShortBuffer, "got %d bytes", len(data))
	}

	nodes := make([]Node, len(data)/NodeSize)
	for i := range nodes {
		rec := data[i*NodeSize : (i+1)*NodeSize]
		for slot := 0; slot < 8; slot++ {
			nodes[i].Children[slot] = binary.LittleEndian.Uint32(rec[slot*4:])
		}
		nodes[i].Palette = binary.LittleEndian.Uint32(rec[32:])
	}
	return nodes, nil
}

// Validate checks that nodes form a tree in pre-order layout: every child
// index points past its parent and inside the slice, and no node is claimed
// by more than one parent.
func Validate(nodes []Node) error {
	claimed := make([]bool, len(nodes))
	for idx, node := range nodes {
		for slot, child := range node.Children {
			if child == NoChild {
				continue
			}
			if int64(child) <= int64(idx) {
				return errors.Wrapf(ErrInvalidLayout, "node %d slot %d references earlier node %d", idx, slot, child)
			}
			if int64(child) >= int64(len(nodes)) {
				return errors.Wrapf(ErrInvalidLayout, "node %d slot %d references node %d of %d", idx, slot, child, len(nodes))
			}
			if claimed[child] {
				return errors.Wrapf(ErrInvalidLayout, "node %d has more than one parent", child)
			}
			claimed[child] = true
		}
	}
	return nil
}
