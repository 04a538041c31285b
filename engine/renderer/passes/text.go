package passes

import (
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/graph"
	"github.com/spaghettifunk/lumen/engine/renderer/hud"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

const (
	// MaxGlyphsPerDraw is the number of quads in one glyph block.
	MaxGlyphsPerDraw = 1024
	GlyphStride      = 3 * 16
	GlyphBlockSize   = MaxGlyphsPerDraw * GlyphStride
)

// EncodeGlyphs writes up to MaxGlyphsPerDraw quads.
func EncodeGlyphs(dst []byte, quads []hud.Quad) {
	w := &blockWriter{buf: dst}
	for _, q := range quads[:min(len(quads), MaxGlyphsPerDraw)] {
		w.vec4(q.Rect[0], q.Rect[1], q.Rect[2], q.Rect[3])
		w.vec4(q.UV[0], q.UV[1], q.UV[2], q.UV[3])
		w.vec4(q.Colour[0], q.Colour[1], q.Colour[2], q.Colour[3])
	}
	w.finish()
}

// hudText draws HUD text in the UI overlay subpass, six vertices per quad
// generated in the vertex shader.
type hudText struct {
	set      *Set
	pipeline *pipeline
}

func newHUDText(s *Set) *hudText {
	return &hudText{
		set: s,
		pipeline: &pipeline{set: s, config: pipelineConfig{
			name:       "hud",
			subpass:    graph.UIOverlay,
			vertex:     "hud.vert.spv",
			fragment:   "hud.frag.spv",
			setLayouts: []rhi.DescriptorSetLayout{s.layouts.Frame, s.layouts.Material, s.layouts.Glyphs},
			blend:      rhi.BlendAlpha,
			cull:       rhi.CullNone,
		}},
	}
}

func (t *hudText) draw(ctx *graph.Context) error {
	p := packetOf(ctx)
	font, scale := t.set.hud()
	if font == nil || len(p.HUD) == 0 || p.HUDFont == 0 || p.Resources == nil {
		return nil
	}
	mat, ok := p.Resources.Material(p.HUDFont)
	if !ok {
		core.LogWarn("HUD font material %d is unknown", p.HUDFont)
		return nil
	}
	quads := hud.Layout(font, p.HUD, scale)
	if len(quads) == 0 {
		return nil
	}
	offsets, err := t.set.uiOffsets(ctx)
	if err != nil {
		return err
	}

	rec := ctx.Recorder
	h := t.pipeline.handle
	rec.BindPipeline(h)
	rec.SetViewport(ctx.Extent)
	rec.SetScissor(ctx.Extent)
	rec.BindDescriptorSets(h, 0, []rhi.DescriptorSet{t.set.frameSet}, offsets)
	rec.BindDescriptorSets(h, 1, []rhi.DescriptorSet{mat.DescriptorSet}, nil)
	for start := 0; start < len(quads); start += MaxGlyphsPerDraw {
		chunk := quads[start:min(start+MaxGlyphsPerDraw, len(quads))]
		off, data, err := ctx.Allocate(GlyphBlockSize)
		if err != nil {
			return err
		}
		EncodeGlyphs(data, chunk)
		rec.BindDescriptorSets(h, 2, []rhi.DescriptorSet{t.set.glyphSet}, []uint32{uint32(off)})
		rec.Draw(6, uint32(len(chunk)), 0, 0)
	}
	return nil
}
