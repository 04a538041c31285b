package passes

import (
	"github.com/spaghettifunk/lumen/engine/renderer/graph"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
	"github.com/spaghettifunk/lumen/engine/renderer/swapchain"
)

// pipelineConfig is the swapchain independent part of a pipeline.
type pipelineConfig struct {
	name       string
	subpass    graph.SubpassID
	vertex     string
	fragment   string
	layout     *rhi.VertexLayout
	setLayouts []rhi.DescriptorSetLayout
	blend      rhi.BlendMode
	depthTest  bool
	depthWrite bool
	cull       rhi.CullMode
}

// pipeline is a graphics pipeline rebuilt whenever the swapchain is, the
// viewport is baked in.
type pipeline struct {
	set    *Set
	config pipelineConfig
	handle rhi.Pipeline
}

func (p *pipeline) create(info swapchain.RecreateInfo) error {
	colors := len(p.set.graph.Layout().Subpasses[p.config.subpass].Colors)
	h, err := p.set.device.CreatePipeline(rhi.PipelineDesc{
		Name:             p.config.name,
		RenderPass:       info.RenderPass,
		Subpass:          uint32(p.config.subpass),
		SetLayouts:       p.config.setLayouts,
		VertexShader:     p.config.vertex,
		FragmentShader:   p.config.fragment,
		Vertex:           p.config.layout,
		Extent:           info.Extent,
		ColorAttachments: colors,
		Blend:            p.config.blend,
		DepthTest:        p.config.depthTest,
		DepthWrite:       p.config.depthWrite,
		CullMode:         p.config.cull,
	})
	if err != nil {
		return err
	}
	p.handle = h
	p.set.graph.DeclarePipeline(p.config.subpass, h)
	return nil
}

func (p *pipeline) release() {
	if !p.handle.IsValid() {
		return
	}
	p.set.graph.ForgetPipeline(p.handle)
	p.set.device.DestroyPipeline(p.handle)
	p.handle = rhi.Pipeline{}
}
