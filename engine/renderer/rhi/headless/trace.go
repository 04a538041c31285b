package headless

import (
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

type EventKind int

const (
	EventBeginRenderPass EventKind = iota
	EventNextSubpass
	EventEndRenderPass
	EventBindPipeline
	EventBindDescriptorSets
	EventDraw
	EventDrawIndexed
)

func (k EventKind) String() string {
	switch k {
	case EventBeginRenderPass:
		return "BeginRenderPass"
	case EventNextSubpass:
		return "NextSubpass"
	case EventEndRenderPass:
		return "EndRenderPass"
	case EventBindPipeline:
		return "BindPipeline"
	case EventBindDescriptorSets:
		return "BindDescriptorSets"
	case EventDraw:
		return "Draw"
	case EventDrawIndexed:
		return "DrawIndexed"
	}
	return "Unknown"
}

// BufferRead is a dynamic buffer range a draw read, copied at execution time.
type BufferRead struct {
	Set     uint32
	Binding uint32
	Offset  uint64
	Data    []byte
}

// Event is one executed command, as seen by the simulated GPU.
type Event struct {
	Submission     uint64
	Kind           EventKind
	Subpass        int
	Pipeline       rhi.Pipeline
	Framebuffer    rhi.Framebuffer
	Extent         rhi.Extent
	Count          uint32
	Instances      uint32
	DynamicOffsets []uint32
	Reads          []BufferRead
}

type PresentEvent struct {
	Image  uint32
	Extent rhi.Extent
	// Submitted is the number of submissions made before this present.
	Submitted uint64
	Status    rhi.Status
}

type Stats struct {
	Fences          int
	Semaphores      int
	CommandPools    int
	CommandBuffers  int
	Buffers         int
	Images          int
	SwapchainImages int
	RenderPasses    int
	Framebuffers    int
	SetLayouts      int
	DescriptorSets  int
	Pipelines       int
	Swapchains      int
}

// Total counts every live resource.
func (s Stats) Total() int {
	return s.Fences + s.Semaphores + s.CommandPools + s.CommandBuffers + s.Buffers + s.Images +
		s.SwapchainImages + s.RenderPasses + s.Framebuffers + s.SetLayouts + s.DescriptorSets +
		s.Pipelines + s.Swapchains
}

type boundSet struct {
	set     rhi.DescriptorSet
	offsets []uint32
}

func (d *Device) validateCommands(cmds []command) error {
	for _, c := range cmds {
		switch c.kind {
		case cmdBeginRenderPass:
			if _, ok := d.framebuffers.Get(c.begin.Framebuffer.Handle); !ok {
				return errors.Wrapf(core.ErrStaleHandle, "framebuffer %v", c.begin.Framebuffer.Handle)
			}
		case cmdBindPipeline:
			if _, ok := d.pipelines.Get(c.pipeline.Handle); !ok {
				return errors.Wrapf(core.ErrStaleHandle, "pipeline %v", c.pipeline.Handle)
			}
		case cmdBindDescriptorSets:
			for _, s := range c.sets {
				if _, ok := d.sets.Get(s.Handle); !ok {
					return errors.Wrapf(core.ErrStaleHandle, "descriptor set %v", s.Handle)
				}
			}
		case cmdBindVertexBuffer, cmdBindIndexBuffer:
			if _, ok := d.buffers.Get(c.buffer.Handle); !ok {
				return errors.Wrapf(core.ErrStaleHandle, "buffer %v", c.buffer.Handle)
			}
		}
	}
	return nil
}

// dynamicBindings returns the dynamic bindings of a set in binding order.
func (d *Device) dynamicBindings(s rhi.DescriptorSet) []rhi.DescriptorBinding {
	set, ok := d.sets.Get(s.Handle)
	if !ok {
		return nil
	}
	layout, ok := d.setLayouts.Get(set.layout.Handle)
	if !ok {
		return nil
	}
	var out []rhi.DescriptorBinding
	for _, b := range layout.bindings {
		if b.Type.IsDynamic() {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b rhi.DescriptorBinding) int { return int(a.Binding) - int(b.Binding) })
	return out
}

func (d *Device) alignmentFor(t rhi.DescriptorType) uint64 {
	if t == rhi.DescriptorStorageBufferDynamic {
		return d.opts.Limits.MinStorageBufferOffsetAlignment
	}
	return d.opts.Limits.MinUniformBufferOffsetAlignment
}

// replay runs the recorded commands against the current resource state.
// Called with d.mu held.
func (d *Device) replay(s *submission) {
	subpass := -1
	var current rhi.Pipeline
	bound := map[uint32]boundSet{}

	for _, c := range s.commands {
		ev := Event{Submission: s.id, Subpass: subpass}
		switch c.kind {
		case cmdBeginRenderPass:
			subpass = 0
			ev.Kind = EventBeginRenderPass
			ev.Subpass = 0
			ev.Framebuffer = c.begin.Framebuffer
			ev.Extent = c.begin.Area
			if fb, ok := d.framebuffers.Get(c.begin.Framebuffer.Handle); ok {
				for _, a := range fb.desc.Attachments {
					if _, ok := d.images.Get(a.Handle); !ok {
						d.violate("submission %d renders to destroyed image %v", s.id, a.Handle)
					}
				}
			} else {
				d.violate("submission %d renders to destroyed framebuffer %v", s.id, c.begin.Framebuffer.Handle)
			}
		case cmdNextSubpass:
			subpass++
			ev.Kind = EventNextSubpass
			ev.Subpass = subpass
		case cmdEndRenderPass:
			ev.Kind = EventEndRenderPass
			subpass = -1
		case cmdBindPipeline:
			ev.Kind = EventBindPipeline
			ev.Pipeline = c.pipeline
			current = c.pipeline
			clear(bound)
			if p, ok := d.pipelines.Get(c.pipeline.Handle); !ok {
				d.violate("submission %d binds destroyed pipeline %v", s.id, c.pipeline.Handle)
			} else if int(p.desc.Subpass) != subpass {
				d.violate("pipeline %q built for subpass %d bound in subpass %d", p.desc.Name, p.desc.Subpass, subpass)
			}
		case cmdBindDescriptorSets:
			ev.Kind = EventBindDescriptorSets
			ev.Pipeline = c.pipeline
			ev.DynamicOffsets = c.dynamicOffsets
			d.bindSets(s.id, c, bound)
		case cmdDraw, cmdDrawIndexed:
			ev.Kind = EventDraw
			if c.kind == cmdDrawIndexed {
				ev.Kind = EventDrawIndexed
			}
			ev.Pipeline = current
			ev.Count = c.count
			ev.Instances = c.instances
			if d.opts.CaptureReads {
				ev.Reads = d.captureReads(bound)
			}
		default:
			continue
		}
		d.trace = append(d.trace, ev)
	}
}

func (d *Device) bindSets(id uint64, c command, bound map[uint32]boundSet) {
	next := 0
	for i, set := range c.sets {
		dyn := d.dynamicBindings(set)
		if next+len(dyn) > len(c.dynamicOffsets) {
			d.violate("submission %d: set %d needs %d dynamic offsets, %d left", id, c.firstSet+uint32(i), len(dyn), len(c.dynamicOffsets)-next)
			return
		}
		offsets := c.dynamicOffsets[next : next+len(dyn)]
		next += len(dyn)

		ds, _ := d.sets.Get(set.Handle)
		for j, b := range dyn {
			off := uint64(offsets[j])
			if a := d.alignmentFor(b.Type); a > 0 && off%a != 0 {
				d.violate("submission %d: dynamic offset %d is not aligned to %d", id, off, a)
			}
			w, ok := ds.writes[b.Binding]
			if !ok {
				d.violate("submission %d: binding %d of set %v was never written", id, b.Binding, set.Handle)
				continue
			}
			if buf, ok := d.buffers.Get(w.Buffer.Handle); ok && w.Offset+off+w.Range > buf.desc.Size {
				d.violate("submission %d: dynamic range [%d, %d) exceeds buffer size %d", id, w.Offset+off, w.Offset+off+w.Range, buf.desc.Size)
			}
		}
		bound[c.firstSet+uint32(i)] = boundSet{set: set, offsets: offsets}
	}
	if next != len(c.dynamicOffsets) {
		d.violate("submission %d: %d dynamic offsets supplied, %d consumed", id, len(c.dynamicOffsets), next)
	}
}

func (d *Device) captureReads(bound map[uint32]boundSet) []BufferRead {
	indices := make([]uint32, 0, len(bound))
	for i := range bound {
		indices = append(indices, i)
	}
	slices.Sort(indices)

	var reads []BufferRead
	for _, i := range indices {
		bs := bound[i]
		ds, ok := d.sets.Get(bs.set.Handle)
		if !ok {
			continue
		}
		for j, b := range d.dynamicBindings(bs.set) {
			w, ok := ds.writes[b.Binding]
			if !ok || j >= len(bs.offsets) {
				continue
			}
			buf, ok := d.buffers.Get(w.Buffer.Handle)
			if !ok {
				continue
			}
			start := w.Offset + uint64(bs.offsets[j])
			end := start + w.Range
			if end > uint64(len(buf.memory)) {
				continue
			}
			reads = append(reads, BufferRead{
				Set:     i,
				Binding: b.Binding,
				Offset:  start,
				Data:    append([]byte(nil), buf.memory[start:end]...),
			})
		}
	}
	return reads
}

// Release lets n held submissions complete. Only meaningful with Options.Manual.
func (d *Device) Release(n int) {
	for i := 0; i < n; i++ {
		d.gate <- struct{}{}
	}
}

// LoseDevice makes every blocking and queue call fail as device lost.
func (d *Device) LoseDevice() {
	d.mu.Lock()
	d.lost = true
	d.mu.Unlock()
	d.cond.Broadcast()
}

// FailNextSubmit makes the next Submit return err.
func (d *Device) FailNextSubmit(err error) {
	d.mu.Lock()
	d.submitErr = err
	d.mu.Unlock()
}

// InjectAcquireStatus queues statuses returned by the next acquires.
func (d *Device) InjectAcquireStatus(statuses ...rhi.Status) {
	d.mu.Lock()
	d.acquireStatus = append(d.acquireStatus, statuses...)
	d.mu.Unlock()
}

// InjectPresentStatus queues statuses returned by the next presents.
func (d *Device) InjectPresentStatus(statuses ...rhi.Status) {
	d.mu.Lock()
	d.presentStatus = append(d.presentStatus, statuses...)
	d.mu.Unlock()
}

func (d *Device) Trace() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.trace...)
}

func (d *Device) Presents() []PresentEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]PresentEvent(nil), d.presents...)
}

func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// MaxInFlight is the highest number of submissions observed pending at once.
func (d *Device) MaxInFlight() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxInFlight
}

// Pending is the number of submissions the GPU has not finished.
func (d *Device) Pending() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitted - d.completed
}

func (d *Device) Submitted() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitted
}

func (d *Device) PipelineDesc(p rhi.Pipeline) (rhi.PipelineDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pl, ok := d.pipelines.Get(p.Handle)
	if !ok {
		return rhi.PipelineDesc{}, false
	}
	return pl.desc, true
}

func (d *Device) RenderPassDesc(rp rhi.RenderPass) (rhi.RenderPassDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.renderPasses.Get(rp.Handle)
}

func (d *Device) ImageDesc(img rhi.Image) (rhi.ImageDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	im, ok := d.images.Get(img.Handle)
	if !ok {
		return rhi.ImageDesc{}, false
	}
	return im.desc, true
}

// DescriptorWrite returns what was last written to a binding of a set.
func (d *Device) DescriptorWrite(s rhi.DescriptorSet, binding uint32) (rhi.DescriptorWrite, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.sets.Get(s.Handle)
	if !ok {
		return rhi.DescriptorWrite{}, false
	}
	w, ok := set.writes[binding]
	return w, ok
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Stats{
		Fences:         d.fences.Len(),
		Semaphores:     d.semaphores.Len(),
		CommandPools:   d.pools.Len(),
		CommandBuffers: d.cmdBuffers.Len(),
		Buffers:        d.buffers.Len(),
		RenderPasses:   d.renderPasses.Len(),
		Framebuffers:   d.framebuffers.Len(),
		SetLayouts:     d.setLayouts.Len(),
		DescriptorSets: d.sets.Len(),
		Pipelines:      d.pipelines.Len(),
		Swapchains:     len(d.swapchains),
	}
	d.images.Each(func(_ containers.Handle, im *image) {
		if im.swapchain {
			st.SwapchainImages++
		} else {
			st.Images++
		}
	})
	return st
}
