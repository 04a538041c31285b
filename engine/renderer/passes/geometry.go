package passes

import (
	"github.com/spaghettifunk/lumen/engine/renderer/graph"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
	"github.com/spaghettifunk/lumen/engine/renderer/swapchain"
)

// geometryPass draws packet items batched by (material, mesh).
type geometryPass struct {
	set      *Set
	id       graph.SubpassID
	pipeline *pipeline
	items    func(p *metadata.RenderPacket) []metadata.DrawItem
	filter   func(m metadata.MaterialBinding) bool
	offsets  func(ctx *graph.Context) ([]uint32, error)
	// after runs once the batches are drawn.
	after func(ctx *graph.Context) error
	extra []*pipeline
}

func (s *Set) geometryConfig(id graph.SubpassID, name, shader string) pipelineConfig {
	return pipelineConfig{
		name:       name,
		subpass:    id,
		vertex:     shader + ".vert.spv",
		fragment:   shader + ".frag.spv",
		layout:     Vertex3DLayout,
		setLayouts: []rhi.DescriptorSetLayout{s.layouts.Frame, s.layouts.Material, s.layouts.Draw},
		cull:       rhi.CullBack,
	}
}

func newGBufferPass(s *Set) *geometryPass {
	cfg := s.geometryConfig(graph.GBuffer, "gbuffer", "gbuffer")
	cfg.depthTest, cfg.depthWrite = true, true
	return &geometryPass{
		set:      s,
		id:       graph.GBuffer,
		pipeline: &pipeline{set: s, config: cfg},
		items:    func(p *metadata.RenderPacket) []metadata.DrawItem { return p.Items },
		filter:   func(m metadata.MaterialBinding) bool { return !m.Transparent },
		offsets:  s.sceneOffsets,
	}
}

func newForwardPass(s *Set) *geometryPass {
	cfg := s.geometryConfig(graph.ForwardLighting, "forward", "forward")
	cfg.depthTest = true
	cfg.blend = rhi.BlendAlpha
	return &geometryPass{
		set:      s,
		id:       graph.ForwardLighting,
		pipeline: &pipeline{set: s, config: cfg},
		items:    func(p *metadata.RenderPacket) []metadata.DrawItem { return p.Items },
		filter:   func(m metadata.MaterialBinding) bool { return m.Transparent },
		offsets:  s.sceneOffsets,
	}
}

func newUIPass(s *Set) *geometryPass {
	cfg := s.geometryConfig(graph.UIOverlay, "ui", "ui")
	cfg.layout = Vertex2DLayout
	cfg.blend = rhi.BlendAlpha
	cfg.cull = rhi.CullNone
	g := &geometryPass{
		set:      s,
		id:       graph.UIOverlay,
		pipeline: &pipeline{set: s, config: cfg},
		items:    func(p *metadata.RenderPacket) []metadata.DrawItem { return p.UI },
		offsets:  s.uiOffsets,
	}
	text := newHUDText(s)
	g.after = text.draw
	g.extra = []*pipeline{text.pipeline}
	return g
}

func (g *geometryPass) Subpass() graph.SubpassID {
	return g.id
}

func (g *geometryPass) Execute(ctx *graph.Context) error {
	if ctx.Packet == nil {
		return nil
	}
	batches := BuildBatches(g.items(ctx.Packet), ctx.Packet.Resources, g.filter)
	if len(batches) > 0 {
		if err := g.drawBatches(ctx, batches); err != nil {
			return err
		}
	}
	if g.after != nil {
		return g.after(ctx)
	}
	return nil
}

func (g *geometryPass) drawBatches(ctx *graph.Context, batches []Batch) error {
	offsets, err := g.offsets(ctx)
	if err != nil {
		return err
	}
	rec := ctx.Recorder
	p := g.pipeline.handle
	rec.BindPipeline(p)
	rec.SetViewport(ctx.Extent)
	rec.SetScissor(ctx.Extent)
	rec.BindDescriptorSets(p, 0, []rhi.DescriptorSet{g.set.frameSet}, offsets)

	for _, b := range batches {
		rec.BindDescriptorSets(p, 1, []rhi.DescriptorSet{b.MaterialBinding.DescriptorSet}, nil)
		rec.BindVertexBuffer(b.MeshBinding.VertexBuffer, b.MeshBinding.VertexOffset)
		rec.BindIndexBuffer(b.MeshBinding.IndexBuffer, b.MeshBinding.IndexOffset)

		for _, chunk := range SplitBatch(b.Items, MaxInstancesPerDraw, MaxJointsPerDraw) {
			instOff, inst, err := ctx.Allocate(InstanceBlockSize)
			if err != nil {
				return err
			}
			var jointOff uint32
			var joints []byte
			if chunk.Joints > 0 {
				off, data, err := ctx.Allocate(JointBlockSize)
				if err != nil {
					return err
				}
				jointOff, joints = uint32(off), data
			} else if jointOff, err = g.set.zeroJoints(ctx); err != nil {
				return err
			}
			EncodeInstances(inst, joints, chunk)

			rec.BindDescriptorSets(p, 2, []rhi.DescriptorSet{g.set.drawSet}, []uint32{uint32(instOff), jointOff})
			rec.DrawIndexed(b.MeshBinding.IndexCount, uint32(len(chunk.Items)), 0, 0, 0)
		}
	}
	return nil
}

func (g *geometryPass) create(info swapchain.RecreateInfo) error {
	if err := g.pipeline.create(info); err != nil {
		return err
	}
	for _, p := range g.extra {
		if err := p.create(info); err != nil {
			return err
		}
	}
	return nil
}

func (g *geometryPass) release() {
	g.pipeline.release()
	for _, p := range g.extra {
		p.release()
	}
}

func (g *geometryPass) destroy() {}
