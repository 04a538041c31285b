package ring

import (
	"bytes"
	"math"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi/headless"
)

func newTestAllocator(t *testing.T, size int, slots int, alignment uint64) *Allocator {
	t.Helper()
	a, err := NewFromMemory(make([]byte, size), slots, alignment)
	if err != nil {
		t.Fatalf("NewFromMemory failed: %v", err)
	}
	return a
}

func TestRegionsAreDisjointAndAligned(t *testing.T) {
	a := newTestAllocator(t, 10000, 3, 256)
	for i := 0; i < a.Slots(); i++ {
		r := a.Region(i)
		if r.Begin%256 != 0 {
			t.Errorf("region %d begins at %d, not aligned", i, r.Begin)
		}
		if r.Capacity != 3328 {
			t.Errorf("region %d capacity = %d, want 3328", i, r.Capacity)
		}
		if i > 0 && a.Region(i-1).End() > r.Begin {
			t.Errorf("region %d overlaps region %d", i, i-1)
		}
	}
	if last := a.Region(2); last.End() > a.Size() {
		t.Errorf("last region ends at %d past buffer size %d", last.End(), a.Size())
	}
}

func TestAllocateOffsets(t *testing.T) {
	tests := []struct {
		name      string
		alignment uint64
		sizes     []uint64
	}{
		{"power of two", 256, []uint64{1, 64, 300, 256, 17, 1000}},
		{"non power of two", 48, []uint64{5, 48, 49, 1, 100}},
		{"byte aligned", 1, []uint64{3, 3, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAllocator(t, 1<<16, 3, tt.alignment)
			for slot := 0; slot < 3; slot++ {
				a.Reset(slot)
				region := a.Region(slot)
				var prev uint64
				for i, size := range tt.sizes {
					off, err := a.Allocate(slot, size)
					if err != nil {
						t.Fatalf("Allocate(%d, %d) failed: %v", slot, size, err)
					}
					if off%tt.alignment != 0 {
						t.Errorf("offset %d not aligned to %d", off, tt.alignment)
					}
					if off < region.Begin {
						t.Errorf("offset %d below region begin %d", off, region.Begin)
					}
					if i > 0 && off <= prev {
						t.Errorf("offset %d not strictly greater than %d", off, prev)
					}
					if i > 0 && off < prev+tt.sizes[i-1] {
						t.Errorf("allocation %d at %d overlaps previous at %d+%d", i, off, prev, tt.sizes[i-1])
					}
					prev = off
					if cur := a.Region(slot).Cursor; cur > region.End() {
						t.Errorf("cursor %d beyond region end %d", cur, region.End())
					}
				}
			}
		})
	}
}

func TestAllocateZeroSizeStillAdvancesAlignment(t *testing.T) {
	a := newTestAllocator(t, 4096, 1, 256)
	a.Reset(0)
	first, _ := a.Allocate(0, 10)
	second, _ := a.Allocate(0, 0)
	if second != 256 || first != 0 {
		t.Errorf("offsets = %d, %d, want 0, 256", first, second)
	}
}

func TestResetRewindsCursor(t *testing.T) {
	a := newTestAllocator(t, 4096, 2, 16)
	a.Reset(1)
	first, _ := a.Allocate(1, 100)
	a.Allocate(1, 100)
	a.Reset(1)
	again, _ := a.Allocate(1, 100)
	if again != first {
		t.Errorf("after Reset offset = %d, want %d", again, first)
	}
	if a.Region(1).Peak < 200 {
		t.Errorf("Peak = %d, want at least 200", a.Region(1).Peak)
	}
	if a.Region(0).Cursor != a.Region(0).Begin {
		t.Errorf("resetting slot 1 moved slot 0")
	}
}

func TestExhaustionIsConfigurationError(t *testing.T) {
	a := newTestAllocator(t, 3*1024, 3, 256)
	a.Reset(0)
	for i := 0; i < 4; i++ {
		if _, err := a.Allocate(0, 200); err != nil {
			t.Fatalf("allocation %d failed early: %v", i, err)
		}
	}
	_, err := a.Allocate(0, 1)
	if !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("Allocate past capacity = %v, want configuration error", err)
	}
	if cur := a.Region(0).Cursor; cur > a.Region(0).End() {
		t.Errorf("failed allocation moved cursor past end: %d", cur)
	}
	if _, err := a.Allocate(1, 1024); err != nil {
		t.Errorf("slot 1 should be unaffected by slot 0 exhaustion: %v", err)
	}
}

func TestHugeAllocationDoesNotWrap(t *testing.T) {
	a := newTestAllocator(t, 3*4096, 3, 256)
	a.Reset(1)
	if _, err := a.Allocate(1, 16); err != nil {
		t.Fatalf("first allocation failed: %v", err)
	}
	before := a.Region(1)
	for _, size := range []uint64{math.MaxUint64 - 256, math.MaxUint64, before.Capacity} {
		off, err := a.Allocate(1, size)
		if !errors.Is(err, core.ErrConfiguration) {
			t.Errorf("Allocate(1, %d) = %d, %v, want configuration error", size, off, err)
		}
	}
	after := a.Region(1)
	if after.Cursor != before.Cursor {
		t.Errorf("cursor = %d, want %d after rejected allocations", after.Cursor, before.Cursor)
	}
	if after.Cursor < after.Begin || after.Cursor > after.End() {
		t.Errorf("cursor %d outside region [%d, %d]", after.Cursor, after.Begin, after.End())
	}
}

func TestUnknownSlots(t *testing.T) {
	a := newTestAllocator(t, 3*1024, 3, 256)
	for _, slot := range []int{-1, 3, 100} {
		a.Reset(slot)
		if got := a.Region(slot); got != (Region{}) {
			t.Errorf("Region(%d) = %+v, want zero region", slot, got)
		}
		if _, err := a.Allocate(slot, 16); !errors.Is(err, core.ErrConfiguration) {
			t.Errorf("Allocate(%d) = %v, want configuration error", slot, err)
		}
	}
	if _, err := a.Allocate(2, 16); err != nil {
		t.Errorf("valid slot failed after unknown slot calls: %v", err)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	a := newTestAllocator(t, 1<<14, 3, 64)
	payloads := [][]byte{
		bytes.Repeat([]byte{0xAA}, 10),
		bytes.Repeat([]byte{0xBB}, 64),
		bytes.Repeat([]byte{0xCC}, 65),
		bytes.Repeat([]byte{0xDD}, 1),
	}
	for slot := 0; slot < 3; slot++ {
		a.Reset(slot)
		offsets := make([]uint64, len(payloads))
		for i, p := range payloads {
			off, err := a.Write(slot, p)
			if err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			offsets[i] = off
		}
		// read back after every write of the frame so aliasing would show
		for i, p := range payloads {
			got := a.Bytes(offsets[i], uint64(len(p)))
			if !bytes.Equal(got, p) {
				t.Errorf("slot %d allocation %d read back %x, want %x", slot, i, got, p)
			}
		}
	}
}

func TestOtherSlotsSurviveReset(t *testing.T) {
	a := newTestAllocator(t, 3*512, 3, 64)
	a.Reset(0)
	off0, _ := a.Write(0, []byte("frame zero"))
	a.Reset(1)
	a.Write(1, bytes.Repeat([]byte{0xFF}, 400))
	a.Reset(1)
	a.Write(1, bytes.Repeat([]byte{0xEE}, 400))
	if got := string(a.Bytes(off0, 10)); got != "frame zero" {
		t.Errorf("slot 0 data = %q after slot 1 reuse", got)
	}
}

func TestNewOnDevice(t *testing.T) {
	dev := headless.NewDevice(nil, rhi.DeviceConfig{}, headless.Options{
		Limits: rhi.Limits{MinUniformBufferOffsetAlignment: 256, MinStorageBufferOffsetAlignment: 64},
	})
	defer dev.Destroy()

	a, err := New(dev, 1<<20, 3)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if a.Alignment() != 256 {
		t.Errorf("Alignment = %d, want max of device limits 256", a.Alignment())
	}
	if !a.Buffer().IsValid() {
		t.Fatal("ring buffer handle is invalid")
	}
	mem, err := dev.MappedBytes(a.Buffer())
	if err != nil {
		t.Fatalf("MappedBytes failed: %v", err)
	}
	a.Reset(2)
	off, _ := a.Write(2, []byte{1, 2, 3, 4})
	if !bytes.Equal(mem[off:off+4], []byte{1, 2, 3, 4}) {
		t.Errorf("device memory at %d = %v", off, mem[off:off+4])
	}
	a.Destroy()
	if dev.Stats().Buffers != 0 {
		t.Errorf("Destroy left %d buffers", dev.Stats().Buffers)
	}
}

func TestInvalidConfiguration(t *testing.T) {
	if _, err := NewFromMemory(make([]byte, 100), 0, 16); !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("zero slots = %v, want configuration error", err)
	}
	if _, err := NewFromMemory(make([]byte, 100), 3, 256); !errors.Is(err, core.ErrConfiguration) {
		t.Errorf("undersized buffer = %v, want configuration error", err)
	}
}
