package headless

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

type commandKind int

const (
	cmdBeginRenderPass commandKind = iota
	cmdNextSubpass
	cmdEndRenderPass
	cmdBindPipeline
	cmdBindDescriptorSets
	cmdBindVertexBuffer
	cmdBindIndexBuffer
	cmdSetViewport
	cmdSetScissor
	cmdDraw
	cmdDrawIndexed
)

type command struct {
	kind           commandKind
	begin          rhi.RenderPassBegin
	pipeline       rhi.Pipeline
	firstSet       uint32
	sets           []rhi.DescriptorSet
	dynamicOffsets []uint32
	buffer         rhi.Buffer
	offset         uint64
	extent         rhi.Extent
	count          uint32
	instances      uint32
	first          uint32
	vertexOffset   int32
	firstInstance  uint32
}

type recorder struct {
	device       *Device
	handle       rhi.CommandBuffer
	inRenderPass bool
	subpass      int
	subpasses    int
	err          error
}

func (r *recorder) push(c command) {
	d := r.device
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.cmdBuffers.Get(r.handle.Handle)
	if !ok || !cb.recording {
		r.fail(errors.New("recording into a command buffer that is not recording"))
		return
	}
	cb.commands = append(cb.commands, c)
}

func (r *recorder) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *recorder) BeginRenderPass(begin rhi.RenderPassBegin) {
	if r.inRenderPass {
		r.fail(errors.New("BeginRenderPass inside a render pass"))
		return
	}
	d := r.device
	d.mu.Lock()
	rp, ok := d.renderPasses.Get(begin.RenderPass.Handle)
	d.mu.Unlock()
	if !ok {
		r.fail(errors.Newf("BeginRenderPass with unknown render pass %v", begin.RenderPass.Handle))
		return
	}
	if len(begin.ClearValues) != len(rp.Attachments) {
		r.fail(errors.Newf("render pass %q has %d attachments but %d clear values", rp.Name, len(rp.Attachments), len(begin.ClearValues)))
	}
	r.inRenderPass = true
	r.subpass = 0
	r.subpasses = len(rp.Subpasses)
	begin.ClearValues = append([]rhi.ClearValue(nil), begin.ClearValues...)
	r.push(command{kind: cmdBeginRenderPass, begin: begin})
}

func (r *recorder) NextSubpass() {
	if !r.inRenderPass {
		r.fail(errors.New("NextSubpass outside a render pass"))
		return
	}
	if r.subpass+1 >= r.subpasses {
		r.fail(errors.Newf("NextSubpass past the last of %d subpasses", r.subpasses))
		return
	}
	r.subpass++
	r.push(command{kind: cmdNextSubpass})
}

func (r *recorder) EndRenderPass() {
	if !r.inRenderPass {
		r.fail(errors.New("EndRenderPass outside a render pass"))
		return
	}
	if r.subpass != r.subpasses-1 {
		r.fail(errors.Newf("EndRenderPass in subpass %d of %d", r.subpass, r.subpasses))
	}
	r.inRenderPass = false
	r.push(command{kind: cmdEndRenderPass})
}

func (r *recorder) BindPipeline(p rhi.Pipeline) {
	r.push(command{kind: cmdBindPipeline, pipeline: p})
}

func (r *recorder) BindDescriptorSets(p rhi.Pipeline, firstSet uint32, sets []rhi.DescriptorSet, dynamicOffsets []uint32) {
	r.push(command{
		kind:           cmdBindDescriptorSets,
		pipeline:       p,
		firstSet:       firstSet,
		sets:           append([]rhi.DescriptorSet(nil), sets...),
		dynamicOffsets: append([]uint32(nil), dynamicOffsets...),
	})
}

func (r *recorder) BindVertexBuffer(b rhi.Buffer, offset uint64) {
	r.push(command{kind: cmdBindVertexBuffer, buffer: b, offset: offset})
}

func (r *recorder) BindIndexBuffer(b rhi.Buffer, offset uint64) {
	r.push(command{kind: cmdBindIndexBuffer, buffer: b, offset: offset})
}

func (r *recorder) SetViewport(e rhi.Extent) {
	r.push(command{kind: cmdSetViewport, extent: e})
}

func (r *recorder) SetScissor(e rhi.Extent) {
	r.push(command{kind: cmdSetScissor, extent: e})
}

func (r *recorder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if !r.inRenderPass {
		r.fail(errors.New("Draw outside a render pass"))
		return
	}
	r.push(command{kind: cmdDraw, count: vertexCount, instances: instanceCount, first: firstVertex, firstInstance: firstInstance})
}

func (r *recorder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if !r.inRenderPass {
		r.fail(errors.New("DrawIndexed outside a render pass"))
		return
	}
	r.push(command{kind: cmdDrawIndexed, count: indexCount, instances: instanceCount, first: firstIndex,
		vertexOffset: vertexOffset, firstInstance: firstInstance})
}

func (r *recorder) End() error {
	if r.inRenderPass {
		r.fail(errors.New("End inside a render pass"))
	}
	d := r.device
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.cmdBuffers.Get(r.handle.Handle)
	if !ok {
		return errors.Newf("command buffer %v no longer exists", r.handle.Handle)
	}
	cb.recording = false
	if r.err != nil {
		return r.err
	}
	cb.ended = true
	return nil
}
