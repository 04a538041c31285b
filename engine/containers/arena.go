package containers

import "fmt"

// Handle addresses an entry of an Arena. The zero value is never valid.
type Handle struct {
	Index      uint32
	Generation uint32
}

func (h Handle) IsValid() bool {
	return h.Generation != 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.Index, h.Generation)
}

type arenaSlot[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// Arena stores values addressed by generation-checked handles. A handle
// stops resolving once its entry is removed, even after the slot is reused.
type Arena[T any] struct {
	slots []arenaSlot[T]
	free  []uint32
	count int
}

func NewArena[T any](capacity int) *Arena[T] {
	return &Arena[T]{
		slots: make([]arenaSlot[T], 0, capacity),
	}
}

func (a *Arena[T]) Insert(value T) Handle {
	a.count++
	// Existing free spot. Take it.
	if n := len(a.free); n > 0 {
		index := a.free[n-1]
		a.free = a.free[:n-1]
		slot := &a.slots[index]
		slot.value = value
		slot.occupied = true
		return Handle{Index: index, Generation: slot.generation}
	}
	a.slots = append(a.slots, arenaSlot[T]{value: value, generation: 1, occupied: true})
	return Handle{Index: uint32(len(a.slots) - 1), Generation: 1}
}

func (a *Arena[T]) Get(h Handle) (T, bool) {
	var zero T
	if !a.live(h) {
		return zero, false
	}
	return a.slots[h.Index].value, true
}

// Set replaces the value behind a live handle.
func (a *Arena[T]) Set(h Handle, value T) bool {
	if !a.live(h) {
		return false
	}
	a.slots[h.Index].value = value
	return true
}

func (a *Arena[T]) Remove(h Handle) (T, bool) {
	var zero T
	if !a.live(h) {
		return zero, false
	}
	slot := &a.slots[h.Index]
	value := slot.value
	slot.value = zero
	slot.occupied = false
	slot.generation++
	if slot.generation == 0 {
		slot.generation = 1
	}
	a.free = append(a.free, h.Index)
	a.count--
	return value, true
}

func (a *Arena[T]) Len() int {
	return a.count
}

// Each visits every live entry in index order.
func (a *Arena[T]) Each(fn func(Handle, T)) {
	for i := range a.slots {
		slot := &a.slots[i]
		if slot.occupied {
			fn(Handle{Index: uint32(i), Generation: slot.generation}, slot.value)
		}
	}
}

func (a *Arena[T]) live(h Handle) bool {
	if !h.IsValid() || int(h.Index) >= len(a.slots) {
		return false
	}
	slot := &a.slots[h.Index]
	return slot.occupied && slot.generation == h.Generation
}
