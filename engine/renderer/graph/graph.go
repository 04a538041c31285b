package graph

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
	"github.com/spaghettifunk/lumen/engine/renderer/ring"
	"github.com/spaghettifunk/lumen/engine/renderer/swapchain"
)

// SubpassRecorder is the slice of a command recorder an executor may use.
// Render pass transitions belong to the graph.
type SubpassRecorder interface {
	BindPipeline(p rhi.Pipeline)
	BindDescriptorSets(p rhi.Pipeline, firstSet uint32, sets []rhi.DescriptorSet, dynamicOffsets []uint32)
	BindVertexBuffer(b rhi.Buffer, offset uint64)
	BindIndexBuffer(b rhi.Buffer, offset uint64)
	SetViewport(e rhi.Extent)
	SetScissor(e rhi.Extent)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
}

// Context is what an executor sees while its subpass is current.
type Context struct {
	Slot     int
	Frame    uint64
	Subpass  SubpassID
	Extent   rhi.Extent
	Recorder SubpassRecorder
	Packet   *metadata.RenderPacket

	ring *ring.Allocator
}

// Allocate reserves size bytes of transient memory in the current slot's
// region. The returned slice must be filled before the next Allocate.
func (c *Context) Allocate(size uint64) (uint64, []byte, error) {
	off, err := c.ring.Allocate(c.Slot, size)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "subpass %s", c.Subpass)
	}
	return off, c.ring.Bytes(off, size), nil
}

// TransientBuffer is the buffer that Allocate offsets point into.
func (c *Context) TransientBuffer() rhi.Buffer {
	return c.ring.Buffer()
}

// Executor records the draws of exactly one subpass.
type Executor interface {
	Subpass() SubpassID
	Execute(ctx *Context) error
}

// FrameInfo carries the per-frame state Execute needs.
type FrameInfo struct {
	Slot        int
	Frame       uint64
	Framebuffer rhi.Framebuffer
	Extent      rhi.Extent
	Ring        *ring.Allocator
	Packet      *metadata.RenderPacket
}

// Graph compiles the layout into a render pass and drives its subpasses.
type Graph struct {
	device rhi.Device
	layout *Layout

	renderPass rhi.RenderPass
	format     rhi.Format

	executors [SubpassCount]Executor
	pipelines map[rhi.Pipeline]SubpassID
	tracer    func(frame uint64, id SubpassID)
}

func New(device rhi.Device, depthFormat rhi.Format) (*Graph, error) {
	layout, err := DefaultLayout(depthFormat)
	if err != nil {
		return nil, err
	}
	return &Graph{
		device:    device,
		layout:    layout,
		pipelines: make(map[rhi.Pipeline]SubpassID),
	}, nil
}

func (g *Graph) Layout() *Layout {
	return g.layout
}

// RenderPassFor returns the compiled render pass for a swapchain format,
// recompiling only when the format changes.
func (g *Graph) RenderPassFor(format rhi.Format) (rhi.RenderPass, error) {
	if g.renderPass.IsValid() && g.format == format {
		return g.renderPass, nil
	}
	rp, err := g.device.CreateRenderPass(g.layout.Describe(format))
	if err != nil {
		return rhi.RenderPass{}, errors.Wrapf(err, "compiling render pass for %s", format)
	}
	if g.renderPass.IsValid() {
		core.LogDebug("swapchain format changed from %s to %s, render pass recompiled", g.format, format)
		g.device.DestroyRenderPass(g.renderPass)
	}
	g.renderPass, g.format = rp, format
	return rp, nil
}

// AttachmentSpecs lists the framebuffer attachments in AttachmentID order.
func (g *Graph) AttachmentSpecs(format rhi.Format) []swapchain.AttachmentSpec {
	specs := make([]swapchain.AttachmentSpec, AttachmentCount)
	for i, a := range g.layout.Attachments {
		f := a.Format
		if a.Presentable() {
			f = format
		}
		specs[i] = swapchain.AttachmentSpec{
			Name:        a.Name,
			Format:      f,
			Usage:       a.Usage,
			Samples:     a.Samples,
			Presentable: a.Presentable(),
		}
	}
	return specs
}

// InputWrites builds the input attachment descriptor writes for a subpass,
// binding i for its i-th declared input. attachments is indexed by AttachmentID.
func (g *Graph) InputWrites(id SubpassID, attachments []rhi.Image) ([]rhi.DescriptorWrite, error) {
	sp := g.layout.Subpasses[id]
	writes := make([]rhi.DescriptorWrite, 0, len(sp.Inputs))
	for i, in := range sp.Inputs {
		if int(in) >= len(attachments) || !attachments[in].IsValid() {
			return nil, errors.Newf("subpass %s input %q has no image", id, g.layout.Attachments[in].Name)
		}
		writes = append(writes, rhi.DescriptorWrite{
			Binding: uint32(i),
			Type:    rhi.DescriptorInputAttachment,
			Image:   attachments[in],
		})
	}
	return writes, nil
}

func (g *Graph) Register(e Executor) error {
	id := e.Subpass()
	if id < 0 || int(id) >= SubpassCount {
		return errors.Newf("executor for unknown subpass %d", int(id))
	}
	if g.executors[id] != nil {
		return errors.Newf("subpass %s already has an executor", id)
	}
	g.executors[id] = e
	return nil
}

// DeclarePipeline records which subpass a pipeline was built for. Binding a
// pipeline in any other subpass fails the frame.
func (g *Graph) DeclarePipeline(id SubpassID, p rhi.Pipeline) {
	g.pipelines[p] = id
}

func (g *Graph) ForgetPipeline(p rhi.Pipeline) {
	delete(g.pipelines, p)
}

// SetTracer installs a callback invoked as each subpass begins.
func (g *Graph) SetTracer(fn func(frame uint64, id SubpassID)) {
	g.tracer = fn
}

// Execute records the whole render pass for one frame.
func (g *Graph) Execute(rec rhi.CommandRecorder, info FrameInfo) error {
	for _, id := range Order {
		if g.executors[id] == nil {
			return errors.Newf("subpass %s has no executor", id)
		}
	}
	if !g.renderPass.IsValid() {
		return errors.Wrap(core.ErrNotInitialized, "render pass not compiled")
	}

	rec.BeginRenderPass(rhi.RenderPassBegin{
		RenderPass:  g.renderPass,
		Framebuffer: info.Framebuffer,
		Area:        info.Extent,
		ClearValues: g.layout.ClearValues(),
	})
	guard := &guardedRecorder{rec: rec, pipelines: g.pipelines}
	for i, id := range Order {
		if i > 0 {
			rec.NextSubpass()
		}
		if g.tracer != nil {
			g.tracer(info.Frame, id)
		}
		guard.subpass = id
		guard.bound = rhi.Pipeline{}
		ctx := &Context{
			Slot:     info.Slot,
			Frame:    info.Frame,
			Subpass:  id,
			Extent:   info.Extent,
			Recorder: guard,
			Packet:   info.Packet,
			ring:     info.Ring,
		}
		if err := g.executors[id].Execute(ctx); err != nil {
			return errors.Wrapf(err, "executing subpass %s", id)
		}
		if guard.err != nil {
			return guard.err
		}
	}
	rec.EndRenderPass()
	return nil
}

func (g *Graph) Destroy() {
	if g.renderPass.IsValid() {
		g.device.DestroyRenderPass(g.renderPass)
		g.renderPass = rhi.RenderPass{}
	}
	g.executors = [SubpassCount]Executor{}
	g.pipelines = make(map[rhi.Pipeline]SubpassID)
}

// guardedRecorder forwards to the real recorder and rejects pipelines
// declared for another subpass.
type guardedRecorder struct {
	rec       rhi.CommandRecorder
	pipelines map[rhi.Pipeline]SubpassID
	subpass   SubpassID
	bound     rhi.Pipeline
	err       error
}

func (r *guardedRecorder) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *guardedRecorder) check(p rhi.Pipeline) bool {
	owner, ok := r.pipelines[p]
	if !ok {
		r.fail(errors.Newf("subpass %s uses undeclared pipeline %v", r.subpass, p.Handle))
		return false
	}
	if owner != r.subpass {
		r.fail(errors.Newf("subpass %s uses pipeline declared for %s", r.subpass, owner))
		return false
	}
	return true
}

func (r *guardedRecorder) BindPipeline(p rhi.Pipeline) {
	if r.check(p) {
		r.bound = p
		r.rec.BindPipeline(p)
	}
}

func (r *guardedRecorder) BindDescriptorSets(p rhi.Pipeline, firstSet uint32, sets []rhi.DescriptorSet, dynamicOffsets []uint32) {
	if r.check(p) {
		r.rec.BindDescriptorSets(p, firstSet, sets, dynamicOffsets)
	}
}

func (r *guardedRecorder) BindVertexBuffer(b rhi.Buffer, offset uint64) {
	r.rec.BindVertexBuffer(b, offset)
}

func (r *guardedRecorder) BindIndexBuffer(b rhi.Buffer, offset uint64) {
	r.rec.BindIndexBuffer(b, offset)
}

func (r *guardedRecorder) SetViewport(e rhi.Extent) {
	r.rec.SetViewport(e)
}

func (r *guardedRecorder) SetScissor(e rhi.Extent) {
	r.rec.SetScissor(e)
}

func (r *guardedRecorder) drawable() bool {
	if !r.bound.IsValid() {
		r.fail(errors.Newf("draw in subpass %s without a pipeline", r.subpass))
		return false
	}
	return true
}

func (r *guardedRecorder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if r.drawable() {
		r.rec.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
	}
}

func (r *guardedRecorder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if r.drawable() {
		r.rec.DrawIndexed(indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	}
}
