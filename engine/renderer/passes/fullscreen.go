package passes

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/renderer/graph"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
	"github.com/spaghettifunk/lumen/engine/renderer/swapchain"
)

// fullscreenPass draws one fullscreen triangle reading the subpass input
// attachments.
type fullscreenPass struct {
	set      *Set
	id       graph.SubpassID
	pipeline *pipeline

	inputLayout rhi.DescriptorSetLayout
	inputSet    rhi.DescriptorSet

	// withFrame puts the frame set before the inputs.
	withFrame bool

	paramsSize   uint64
	encodeParams func(dst []byte, p config.PostProcess)
	paramsSet    rhi.DescriptorSet
}

func newFullscreenPass(s *Set, id graph.SubpassID, shader string) *fullscreenPass {
	return &fullscreenPass{
		set: s,
		id:  id,
		pipeline: &pipeline{set: s, config: pipelineConfig{
			name:     shader,
			subpass:  id,
			vertex:   "fullscreen.vert.spv",
			fragment: shader + ".frag.spv",
			cull:     rhi.CullNone,
		}},
	}
}

func newLightingPass(s *Set) *fullscreenPass {
	p := newFullscreenPass(s, graph.DeferredLighting, "lighting")
	p.withFrame = true
	return p
}

func newToneMappingPass(s *Set) *fullscreenPass {
	p := newFullscreenPass(s, graph.ToneMapping, "tonemap")
	p.paramsSize, p.encodeParams = ToneParamsSize, EncodeToneParams
	return p
}

func newColorGradingPass(s *Set) *fullscreenPass {
	p := newFullscreenPass(s, graph.ColorGrading, "grading")
	p.paramsSize, p.encodeParams = GradeParamsSize, EncodeGradeParams
	return p
}

func newCombinePass(s *Set) *fullscreenPass {
	return newFullscreenPass(s, graph.CombineUI, "combine")
}

func (f *fullscreenPass) Subpass() graph.SubpassID {
	return f.id
}

// init creates the pass's own sets the first time the swapchain is built.
func (f *fullscreenPass) init() error {
	inputs := len(f.set.graph.Layout().Subpasses[f.id].Inputs)
	layout, err := f.set.device.CreateDescriptorSetLayout(inputBindings(inputs))
	if err != nil {
		return errors.Wrap(err, "input set layout")
	}
	f.inputLayout = layout
	if f.inputSet, err = f.set.allocate(layout); err != nil {
		return err
	}
	if f.paramsSize > 0 {
		if f.paramsSet, err = f.set.dynamicSet(f.set.layouts.Params, []rhi.DescriptorWrite{
			{Binding: 0, Type: rhi.DescriptorUniformBufferDynamic, Range: f.paramsSize},
		}); err != nil {
			return errors.Wrap(err, "params set")
		}
	}

	var layouts []rhi.DescriptorSetLayout
	if f.withFrame {
		layouts = append(layouts, f.set.layouts.Frame)
	}
	layouts = append(layouts, f.inputLayout)
	if f.paramsSize > 0 {
		layouts = append(layouts, f.set.layouts.Params)
	}
	f.pipeline.config.setLayouts = layouts
	return nil
}

func (f *fullscreenPass) create(info swapchain.RecreateInfo) error {
	if !f.inputLayout.IsValid() {
		if err := f.init(); err != nil {
			return err
		}
	}
	// Attachments were rebuilt, point the inputs at the new images.
	writes, err := f.set.graph.InputWrites(f.id, info.Attachments)
	if err != nil {
		return err
	}
	if err := f.set.device.UpdateDescriptorSet(f.inputSet, writes); err != nil {
		return errors.Wrap(err, "writing input attachments")
	}
	return f.pipeline.create(info)
}

func (f *fullscreenPass) release() {
	f.pipeline.release()
}

func (f *fullscreenPass) destroy() {
	if f.inputLayout.IsValid() {
		f.set.device.DestroyDescriptorSetLayout(f.inputLayout)
		f.inputLayout = rhi.DescriptorSetLayout{}
	}
}

func (f *fullscreenPass) Execute(ctx *graph.Context) error {
	rec := ctx.Recorder
	p := f.pipeline.handle

	var sets []rhi.DescriptorSet
	var offsets []uint32
	if f.withFrame {
		scene, err := f.set.sceneOffsets(ctx)
		if err != nil {
			return err
		}
		sets = append(sets, f.set.frameSet)
		offsets = append(offsets, scene...)
	}
	sets = append(sets, f.inputSet)
	if f.paramsSize > 0 {
		off, data, err := ctx.Allocate(f.paramsSize)
		if err != nil {
			return err
		}
		f.encodeParams(data, f.set.postProcess())
		sets = append(sets, f.paramsSet)
		offsets = append(offsets, uint32(off))
	}

	rec.BindPipeline(p)
	rec.SetViewport(ctx.Extent)
	rec.SetScissor(ctx.Extent)
	rec.BindDescriptorSets(p, 0, sets, offsets)
	rec.Draw(3, 1, 0, 0)
	return nil
}
