package octree

import (
	"math"

	"github.com/cockroachdb/errors"
)

// MaxNodes bounds the size of a generated tree.
const MaxNodes = 1 << 24

// Slots is a bit set of populated child slots, bit i standing for slot i.
type Slots uint8

// DefaultSlots populates slots 0, 2, 5 and 7 of every node and leaves the
// other four empty.
const DefaultSlots = Slots(1<<0 | 1<<2 | 1<<5 | 1<<7)

// SlotsOf builds a slot set from slot indices.
func SlotsOf(indices ...int) (Slots, error) {
	var s Slots
	for _, idx := range indices {
		if idx < 0 || idx > 7 {
			return 0, errors.Wrapf(ErrInvalidSlot, "slot %d", idx)
		}
		s |= 1 << uint(idx)
	}
	return s, nil
}

// Has reports whether slot is populated.
func (s Slots) Has(slot int) bool {
	return s&(1<<uint(slot)) != 0
}

// Count returns the branching factor.
func (s Slots) Count() int {
	count := 0
	for slot := 0; slot < 8; slot++ {
		if s.Has(slot) {
			count++
		}
	}
	return count
}

// Config describes a generated tree.
type Config struct {
	// Depth is the number of layers. Depth 0 yields no nodes.
	Depth uint8

	// Slots lists the child slots populated on every non-leaf node.
	Slots Slots
}

// NodeCount returns the number of nodes GenerateWith emits for cfg, which is
// sum(k^i) for i in [0, depth) with k the branching factor.
func NodeCount(cfg Config) int {
	k := uint64(cfg.Slots.Count())
	total, layer := uint64(0), uint64(1)
	for i := uint8(0); i < cfg.Depth; i++ {
		total += layer
		if total > math.MaxInt32 {
			return math.MaxInt32
		}
		layer *= k
		if layer == 0 {
			break
		}
	}
	return int(total)
}

// Validate checks that the tree described by cfg is small enough to build.
func (cfg Config) Validate() error {
	if count := NodeCount(cfg); count > MaxNodes {
		return errors.WithHint(
			errors.Newf("octree: depth %d produces %d nodes, more than the %d allowed", cfg.Depth, count, MaxNodes),
			"lower the depth or populate fewer slots",
		)
	}
	return nil
}

// Generate builds a tree of the given depth with the default slot pattern.
// It panics if the tree would exceed MaxNodes.
func Generate(depth uint8) []Node {
	nodes, err := GenerateWith(Config{Depth: depth, Slots: DefaultSlots})
	if err != nil {
		panic(err)
	}
	return nodes
}

type pending struct {
	parent int
	slot   int
	layer  uint8
}

// GenerateWith builds a tree in pre-order: every node is emitted before its
// subtrees and subtrees are emitted in ascending slot order. Parents store
// the absolute index of each child.
func GenerateWith(cfg Config) ([]Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Depth == 0 {
		return []Node{}, nil
	}

	nodes := make([]Node, 0, NodeCount(cfg))
	stack := []pending{{parent: -1}}
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		idx := len(nodes)
		nodes = append(nodes, Node{})
		if next.parent >= 0 {
			nodes[next.parent].Children[next.slot] = uint32(idx)
		}

		if next.layer+1 >= cfg.Depth {
			continue
		}

		// Pushed in reverse so the lowest slot is popped first.
		for slot := 7; slot >= 0; slot-- {
			if cfg.Slots.Has(slot) {
				stack = append(stack, pending{parent: idx, slot: slot, layer: next.layer + 1})
			}
		}
	}

	return nodes, nil
}
