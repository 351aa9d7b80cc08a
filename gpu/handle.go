package gpu

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Handle identifies an object owned by a Pool. The zero Handle is never
// issued.
type Handle struct {
	index      uint32
	generation uint32
}

// Valid reports whether h was issued by a pool. It does not check that the
// object is still alive.
func (h Handle) Valid() bool {
	return h.generation != 0
}

func (h Handle) String() string {
	if !h.Valid() {
		return "<nil>"
	}
	return fmt.Sprintf("%d#%d", h.index, h.generation)
}

// Typed handles for the objects a Device hands out.
type (
	Buffer        struct{ Handle }
	Image         struct{ Handle }
	ImageView     struct{ Handle }
	Fence         struct{ Handle }
	Semaphore     struct{ Handle }
	CommandBuffer struct{ Handle }
	DescriptorSet struct{ Handle }
	Pipeline      struct{ Handle }
)

type poolSlot[T any] struct {
	value      T
	generation uint32
	used       bool
}

// Pool is an arena of T addressed by generational handles. Removing an
// object bumps the generation of its slot so stale handles are rejected
// instead of aliasing whatever reuses the slot.
type Pool[T any] struct {
	slots []poolSlot[T]
	free  []uint32
	live  int
}

// Insert stores v and returns its handle.
func (p *Pool[T]) Insert(v T) Handle {
	var idx uint32
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		p.slots = append(p.slots, poolSlot[T]{})
		idx = uint32(len(p.slots) - 1)
	}

	slot := &p.slots[idx]
	slot.generation++
	if slot.generation == 0 {
		slot.generation = 1
	}
	slot.value = v
	slot.used = true
	p.live++

	return Handle{index: idx, generation: slot.generation}
}

func (p *Pool[T]) slot(h Handle) (*poolSlot[T], error) {
	if !h.Valid() || int(h.index) >= len(p.slots) {
		return nil, errors.Wrapf(ErrUnknownHandle, "handle %s", h)
	}
	slot := &p.slots[h.index]
	if !slot.used || slot.generation != h.generation {
		return nil, errors.Wrapf(ErrUnknownHandle, "stale handle %s", h)
	}
	return slot, nil
}

// Get returns the object behind h.
func (p *Pool[T]) Get(h Handle) (T, error) {
	slot, err := p.slot(h)
	if err != nil {
		var zero T
		return zero, err
	}
	return slot.value, nil
}

// Ptr returns a pointer to the stored object. The pointer is invalidated by
// the next Insert.
func (p *Pool[T]) Ptr(h Handle) (*T, error) {
	slot, err := p.slot(h)
	if err != nil {
		return nil, err
	}
	return &slot.value, nil
}

// Remove deletes the object behind h and returns it.
func (p *Pool[T]) Remove(h Handle) (T, error) {
	slot, err := p.slot(h)
	if err != nil {
		var zero T
		return zero, err
	}

	v := slot.value
	var zero T
	slot.value = zero
	slot.used = false
	p.free = append(p.free, h.index)
	p.live--
	return v, nil
}

// Len returns the number of live objects.
func (p *Pool[T]) Len() int {
	return p.live
}

// Each calls fn for every live object in slot order.
func (p *Pool[T]) Each(fn func(Handle, T)) {
	for idx := range p.slots {
		slot := &p.slots[idx]
		if slot.used {
			fn(Handle{index: uint32(idx), generation: slot.generation}, slot.value)
		}
	}
}
