package passes

import (
	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

// Descriptor set layouts shared by the passes. Set numbers:
//
//	geometry:   0 frame, 1 material, 2 draw
//	hud:        0 frame, 1 material, 2 glyphs
//	lighting:   0 frame, 1 inputs
//	post:       0 inputs, 1 params
type Layouts struct {
	Frame    rhi.DescriptorSetLayout
	Material rhi.DescriptorSetLayout
	Draw     rhi.DescriptorSetLayout
	Glyphs   rhi.DescriptorSetLayout
	Params   rhi.DescriptorSetLayout
}

var (
	frameBindings = []rhi.DescriptorBinding{
		{Binding: 0, Type: rhi.DescriptorUniformBufferDynamic, Count: 1, Stages: rhi.ShaderStageVertex | rhi.ShaderStageFragment},
		{Binding: 1, Type: rhi.DescriptorUniformBufferDynamic, Count: 1, Stages: rhi.ShaderStageFragment},
	}
	// Material sets are written by the resource system: a static uniform
	// block and the albedo texture.
	materialBindings = []rhi.DescriptorBinding{
		{Binding: 0, Type: rhi.DescriptorUniformBuffer, Count: 1, Stages: rhi.ShaderStageFragment},
		{Binding: 1, Type: rhi.DescriptorCombinedImageSampler, Count: 1, Stages: rhi.ShaderStageFragment},
	}
	drawBindings = []rhi.DescriptorBinding{
		{Binding: 0, Type: rhi.DescriptorStorageBufferDynamic, Count: 1, Stages: rhi.ShaderStageVertex},
		{Binding: 1, Type: rhi.DescriptorStorageBufferDynamic, Count: 1, Stages: rhi.ShaderStageVertex},
	}
	glyphBindings = []rhi.DescriptorBinding{
		{Binding: 0, Type: rhi.DescriptorStorageBufferDynamic, Count: 1, Stages: rhi.ShaderStageVertex},
	}
	paramBindings = []rhi.DescriptorBinding{
		{Binding: 0, Type: rhi.DescriptorUniformBufferDynamic, Count: 1, Stages: rhi.ShaderStageFragment},
	}
)

func inputBindings(n int) []rhi.DescriptorBinding {
	out := make([]rhi.DescriptorBinding, n)
	for i := range out {
		out[i] = rhi.DescriptorBinding{Binding: uint32(i), Type: rhi.DescriptorInputAttachment, Count: 1, Stages: rhi.ShaderStageFragment}
	}
	return out
}

func createLayouts(device rhi.Device) (*Layouts, error) {
	l := &Layouts{}
	for _, c := range []struct {
		name     string
		dst      *rhi.DescriptorSetLayout
		bindings []rhi.DescriptorBinding
	}{
		{"frame", &l.Frame, frameBindings},
		{"material", &l.Material, materialBindings},
		{"draw", &l.Draw, drawBindings},
		{"glyph", &l.Glyphs, glyphBindings},
		{"params", &l.Params, paramBindings},
	} {
		layout, err := device.CreateDescriptorSetLayout(c.bindings)
		if err != nil {
			l.destroy(device)
			return nil, errors.Wrapf(err, "creating %s set layout", c.name)
		}
		*c.dst = layout
	}
	return l, nil
}

func (l *Layouts) destroy(device rhi.Device) {
	for _, layout := range []rhi.DescriptorSetLayout{l.Frame, l.Material, l.Draw, l.Glyphs, l.Params} {
		if layout.IsValid() {
			device.DestroyDescriptorSetLayout(layout)
		}
	}
	*l = Layouts{}
}

// Vertex input layouts of metadata.Vertex3D and metadata.Vertex2D.
var (
	Vertex3DLayout = &rhi.VertexLayout{
		Stride: metadata.Vertex3DStride,
		Attributes: []rhi.VertexAttribute{
			{Location: 0, Format: rhi.VertexFloat3, Offset: 0},
			{Location: 1, Format: rhi.VertexFloat3, Offset: 12},
			{Location: 2, Format: rhi.VertexFloat2, Offset: 24},
			{Location: 3, Format: rhi.VertexUShort4, Offset: 32},
			{Location: 4, Format: rhi.VertexFloat4, Offset: 40},
		},
	}
	Vertex2DLayout = &rhi.VertexLayout{
		Stride: metadata.Vertex2DStride,
		Attributes: []rhi.VertexAttribute{
			{Location: 0, Format: rhi.VertexFloat2, Offset: 0},
			{Location: 1, Format: rhi.VertexFloat2, Offset: 8},
			{Location: 2, Format: rhi.VertexFloat4, Offset: 16},
		},
	}
)
