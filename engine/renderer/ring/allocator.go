// Package ring hands out per-frame transient memory from one persistently
// mapped buffer. The buffer is split into one region per frame slot; each
// region is a bump allocator that is rewound when its slot is reused.
package ring

import (
	stdmath "math"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

// Region is the part of the buffer owned by one frame slot.
type Region struct {
	Begin    uint64
	Cursor   uint64
	Capacity uint64
	// Peak is the highest cursor seen since creation, relative to Begin.
	Peak uint64
}

func (r Region) Used() uint64 {
	return r.Cursor - r.Begin
}

func (r Region) End() uint64 {
	return r.Begin + r.Capacity
}

// MaxSize is the largest ring that dynamic offsets can address; they are
// bound as 32-bit values.
const MaxSize = stdmath.MaxUint32

type Allocator struct {
	device    rhi.Device
	buffer    rhi.Buffer
	memory    []byte
	alignment uint64
	regions   []Region
}

// New creates a host-visible buffer of size bytes and splits it between
// slots. Offsets honor the device's dynamic offset alignment.
func New(device rhi.Device, size uint64, slots int) (*Allocator, error) {
	buf, err := device.CreateBuffer(rhi.BufferDesc{
		Name:        "ring",
		Size:        size,
		Usage:       rhi.BufferUsageUniform | rhi.BufferUsageStorage,
		HostVisible: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating ring buffer")
	}
	mem, err := device.MappedBytes(buf)
	if err != nil {
		device.DestroyBuffer(buf)
		return nil, errors.Wrap(err, "mapping ring buffer")
	}
	a, err := NewFromMemory(mem, slots, device.Limits().DynamicOffsetAlignment())
	if err != nil {
		device.DestroyBuffer(buf)
		return nil, err
	}
	a.device = device
	a.buffer = buf
	core.LogDebug("ring buffer: %d bytes, %d regions of %d bytes, alignment %d", size, slots, a.regions[0].Capacity, a.alignment)
	return a, nil
}

// NewFromMemory builds an allocator over memory that is already mapped.
func NewFromMemory(memory []byte, slots int, alignment uint64) (*Allocator, error) {
	if slots <= 0 {
		return nil, core.ConfigurationErrorf("ring allocator needs at least one slot, got %d", slots)
	}
	if alignment == 0 {
		alignment = 1
	}
	if uint64(len(memory)) > MaxSize {
		return nil, core.ConfigurationErrorf("ring buffer of %d bytes exceeds the %d bytes dynamic offsets can address", len(memory), uint64(MaxSize))
	}
	capacity := math.AlignDown(uint64(len(memory))/uint64(slots), alignment)
	if capacity == 0 {
		return nil, core.ConfigurationErrorf("ring buffer of %d bytes cannot hold %d regions aligned to %d", len(memory), slots, alignment)
	}
	a := &Allocator{
		memory:    memory,
		alignment: alignment,
		regions:   make([]Region, slots),
	}
	for i := range a.regions {
		begin := uint64(i) * capacity
		a.regions[i] = Region{Begin: begin, Cursor: begin, Capacity: capacity}
	}
	return a, nil
}

// Reset rewinds the slot's cursor to the start of its region. Unknown slots
// are ignored.
func (a *Allocator) Reset(slot int) {
	if !a.validSlot(slot) {
		core.LogWarn("ring reset of slot %d out of range [0, %d)", slot, len(a.regions))
		return
	}
	r := &a.regions[slot]
	r.Cursor = r.Begin
}

func (a *Allocator) validSlot(slot int) bool {
	return slot >= 0 && slot < len(a.regions)
}

// Allocate reserves size bytes in the slot's region and returns their
// absolute offset in the buffer. Running out of space is a configuration
// error: the ring has a fixed capacity.
func (a *Allocator) Allocate(slot int, size uint64) (uint64, error) {
	if !a.validSlot(slot) {
		return 0, core.ConfigurationErrorf("ring slot %d out of range [0, %d)", slot, len(a.regions))
	}
	r := &a.regions[slot]
	offset := math.AlignUp(r.Cursor, a.alignment)
	// Compare against the space left so a huge size cannot wrap past End.
	if offset > r.End() || size > r.End()-offset {
		return 0, core.ConfigurationErrorf("ring region %d exhausted: %d bytes requested, %d of %d used",
			slot, size, r.Used(), r.Capacity)
	}
	r.Cursor = offset + size
	if used := r.Used(); used > r.Peak {
		r.Peak = used
	}
	return offset, nil
}

// Bytes returns the mapped memory backing an allocation.
func (a *Allocator) Bytes(offset, size uint64) []byte {
	return a.memory[offset : offset+size : offset+size]
}

// Write allocates len(data) bytes and copies data into them.
func (a *Allocator) Write(slot int, data []byte) (uint64, error) {
	offset, err := a.Allocate(slot, uint64(len(data)))
	if err != nil {
		return 0, err
	}
	copy(a.Bytes(offset, uint64(len(data))), data)
	return offset, nil
}

// Region reports the state of a slot's region; unknown slots yield the zero
// Region.
func (a *Allocator) Region(slot int) Region {
	if !a.validSlot(slot) {
		return Region{}
	}
	return a.regions[slot]
}

func (a *Allocator) Slots() int {
	return len(a.regions)
}

func (a *Allocator) Alignment() uint64 {
	return a.alignment
}

// Buffer is the GPU buffer descriptors bind with dynamic offsets.
func (a *Allocator) Buffer() rhi.Buffer {
	return a.buffer
}

func (a *Allocator) Size() uint64 {
	return uint64(len(a.memory))
}

func (a *Allocator) Destroy() {
	if a.device != nil && a.buffer.IsValid() {
		a.device.DestroyBuffer(a.buffer)
	}
	a.buffer = rhi.Buffer{}
	a.memory = nil
}
