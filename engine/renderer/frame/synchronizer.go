// Package frame keeps the CPU from touching resources the GPU may still be
// reading. Every frame in flight owns a Slot; a slot is handed out again only
// after the fence of its previous submission has signaled.
package frame

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

const DefaultSlotCount = 3

// Slot is the per-frame synchronization and command state.
type Slot struct {
	Index          int
	Fence          rhi.Fence
	ImageAcquired  rhi.Semaphore
	RenderFinished rhi.Semaphore
	CommandPool    rhi.CommandPool
	CommandBuffer  rhi.CommandBuffer
	// Frame is the number of the frame currently using the slot.
	Frame uint64
	// submitted is true between EndFrame and the next wait on the fence.
	submitted bool
}

// Resetter is rewound when its slot is reused, after the slot's fence has
// signaled and before any recording for the new frame.
type Resetter interface {
	Reset(slot int)
}

// Submission describes the work EndFrame hands to the queue.
type Submission struct {
	// WaitStage is the stage that waits for the acquired image.
	WaitStage rhi.PipelineStage
}

type Synchronizer struct {
	device    rhi.Device
	slots     []*Slot
	index     int
	frame     uint64
	resetters []Resetter
	// imageOwners maps swapchain image index to the slot that last rendered it.
	imageOwners map[uint32]*Slot
	active      *Slot
}

// New creates count slots. Their fences start signaled so the first use of
// each slot does not wait.
func New(device rhi.Device, count int, resetters ...Resetter) (*Synchronizer, error) {
	if count <= 0 {
		return nil, core.ConfigurationErrorf("frame synchronizer needs at least one slot, got %d", count)
	}
	s := &Synchronizer{
		device:      device,
		resetters:   resetters,
		imageOwners: make(map[uint32]*Slot),
	}
	for i := 0; i < count; i++ {
		slot, err := s.createSlot(i)
		if err != nil {
			s.Destroy()
			return nil, err
		}
		s.slots = append(s.slots, slot)
	}
	return s, nil
}

func (s *Synchronizer) createSlot(index int) (*Slot, error) {
	slot := &Slot{Index: index}
	var err error
	if slot.Fence, err = s.device.CreateFence(true); err != nil {
		return nil, errors.Wrapf(err, "creating fence for slot %d", index)
	}
	if slot.ImageAcquired, err = s.device.CreateSemaphore(); err != nil {
		s.destroySlot(slot)
		return nil, errors.Wrapf(err, "creating image-acquired semaphore for slot %d", index)
	}
	if slot.RenderFinished, err = s.device.CreateSemaphore(); err != nil {
		s.destroySlot(slot)
		return nil, errors.Wrapf(err, "creating render-finished semaphore for slot %d", index)
	}
	if slot.CommandPool, err = s.device.CreateCommandPool(); err != nil {
		s.destroySlot(slot)
		return nil, errors.Wrapf(err, "creating command pool for slot %d", index)
	}
	if slot.CommandBuffer, err = s.device.AllocateCommandBuffer(slot.CommandPool); err != nil {
		s.destroySlot(slot)
		return nil, errors.Wrapf(err, "allocating command buffer for slot %d", index)
	}
	return slot, nil
}

// AddResetter registers another per-slot resource to rewind on reuse.
func (s *Synchronizer) AddResetter(r Resetter) {
	s.resetters = append(s.resetters, r)
}

// BeginFrame blocks until the next slot's previous work has finished, then
// resets the slot's command pool and every registered Resetter.
func (s *Synchronizer) BeginFrame() (*Slot, error) {
	if s.active != nil {
		return nil, errors.Newf("BeginFrame while slot %d is still recording", s.active.Index)
	}
	slot := s.slots[s.index]
	if err := s.device.WaitForFence(slot.Fence); err != nil {
		return nil, core.DeviceFatal("WaitForFence", err)
	}
	slot.submitted = false
	if err := s.device.ResetCommandPool(slot.CommandPool); err != nil {
		return nil, core.DeviceFatal("ResetCommandPool", err)
	}
	for _, r := range s.resetters {
		r.Reset(slot.Index)
	}
	slot.Frame = s.frame
	s.active = slot
	return slot, nil
}

// ClaimImage waits for the slot that last rendered to imageIndex when it is
// not the slot about to render to it. Swapchains may hand out images out of
// order, so the image's previous frame can still be in flight.
func (s *Synchronizer) ClaimImage(slot *Slot, imageIndex uint32) error {
	if owner, ok := s.imageOwners[imageIndex]; ok && owner != slot && owner.submitted {
		if err := s.device.WaitForFence(owner.Fence); err != nil {
			return core.DeviceFatal("WaitForFence", err)
		}
	}
	s.imageOwners[imageIndex] = slot
	return nil
}

// EndFrame resets the slot's fence, submits the recorded command buffer
// with that fence as completion signal and moves to the next slot.
func (s *Synchronizer) EndFrame(slot *Slot, sub Submission) error {
	if slot != s.active {
		return errors.Newf("EndFrame for slot %d, recording slot is %v", slot.Index, s.activeIndex())
	}
	if err := s.device.ResetFence(slot.Fence); err != nil {
		return core.DeviceFatal("ResetFences", err)
	}
	stage := sub.WaitStage
	if stage == 0 {
		stage = rhi.StageColorAttachmentOutput
	}
	err := s.device.Submit(rhi.SubmitInfo{
		CommandBuffer:   slot.CommandBuffer,
		WaitSemaphore:   slot.ImageAcquired,
		WaitStage:       stage,
		SignalSemaphore: slot.RenderFinished,
		Fence:           slot.Fence,
	})
	if err != nil {
		return core.DeviceFatal("QueueSubmit", err)
	}
	slot.submitted = true
	s.active = nil
	s.frame++
	s.index = (s.index + 1) % len(s.slots)
	return nil
}

// Cancel abandons the slot's frame without submitting. The fence is still
// signaled, so the next BeginFrame returns the same slot without waiting.
func (s *Synchronizer) Cancel(slot *Slot) {
	if slot == s.active {
		s.active = nil
	}
}

// WaitIdle blocks until every slot's submitted work has finished.
func (s *Synchronizer) WaitIdle() error {
	for _, slot := range s.slots {
		if err := s.device.WaitForFence(slot.Fence); err != nil {
			return core.DeviceFatal("WaitForFence", err)
		}
		slot.submitted = false
	}
	return nil
}

// ForgetImages drops image ownership, for when the swapchain images change.
func (s *Synchronizer) ForgetImages() {
	clear(s.imageOwners)
}

// Index is the slot the next BeginFrame will use.
func (s *Synchronizer) Index() int {
	return s.index
}

func (s *Synchronizer) Slots() int {
	return len(s.slots)
}

func (s *Synchronizer) Slot(i int) *Slot {
	return s.slots[i]
}

// FrameNumber is the number of frames submitted so far.
func (s *Synchronizer) FrameNumber() uint64 {
	return s.frame
}

func (s *Synchronizer) activeIndex() interface{} {
	if s.active == nil {
		return "none"
	}
	return s.active.Index
}

func (s *Synchronizer) destroySlot(slot *Slot) {
	if slot.CommandPool.IsValid() {
		s.device.DestroyCommandPool(slot.CommandPool)
	}
	if slot.RenderFinished.IsValid() {
		s.device.DestroySemaphore(slot.RenderFinished)
	}
	if slot.ImageAcquired.IsValid() {
		s.device.DestroySemaphore(slot.ImageAcquired)
	}
	if slot.Fence.IsValid() {
		s.device.DestroyFence(slot.Fence)
	}
}

// Destroy releases every slot. Callers wait for idle first.
func (s *Synchronizer) Destroy() {
	for _, slot := range s.slots {
		s.destroySlot(slot)
	}
	s.slots = nil
	s.imageOwners = nil
}
