package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

func colorBlend(mode rhi.BlendMode) vk.PipelineColorBlendAttachmentState {
	state := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(
			vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit),
		SrcColorBlendFactor: vk.BlendFactorOne,
		DstColorBlendFactor: vk.BlendFactorZero,
		ColorBlendOp:        vk.BlendOpAdd,
		SrcAlphaBlendFactor: vk.BlendFactorOne,
		DstAlphaBlendFactor: vk.BlendFactorZero,
		AlphaBlendOp:        vk.BlendOpAdd,
	}
	switch mode {
	case rhi.BlendAlpha:
		state.BlendEnable = vk.True
		state.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		state.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		state.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
	case rhi.BlendPremultiplied:
		state.BlendEnable = vk.True
		state.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		state.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
	}
	return state
}

func vertexInput(layout *rhi.VertexLayout) vk.PipelineVertexInputStateCreateInfo {
	info := vk.PipelineVertexInputStateCreateInfo{SType: vk.StructureTypePipelineVertexInputStateCreateInfo}
	if layout == nil {
		return info
	}
	attrs := make([]vk.VertexInputAttributeDescription, len(layout.Attributes))
	for i, a := range layout.Attributes {
		attrs[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  0,
			Format:   vkVertexFormat(a.Format),
			Offset:   a.Offset,
		}
	}
	info.VertexBindingDescriptionCount = 1
	info.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
		Binding:   0,
		Stride:    layout.Stride,
		InputRate: vk.VertexInputRateVertex,
	}}
	info.VertexAttributeDescriptionCount = uint32(len(attrs))
	info.PVertexAttributeDescriptions = attrs
	return info
}

// CreatePipeline builds a graphics pipeline with dynamic viewport and
// scissor for one subpass of a render pass.
func (d *Device) CreatePipeline(desc rhi.PipelineDesc) (rhi.Pipeline, error) {
	rp, err := d.renderPass(desc.RenderPass)
	if err != nil {
		return rhi.Pipeline{}, err
	}
	vert, err := d.shaderModule(desc.VertexShader)
	if err != nil {
		return rhi.Pipeline{}, err
	}
	frag, err := d.shaderModule(desc.FragmentShader)
	if err != nil {
		return rhi.Pipeline{}, err
	}

	setLayouts := make([]vk.DescriptorSetLayout, len(desc.SetLayouts))
	d.mu.Lock()
	for i, l := range desc.SetLayouts {
		layout, ok := d.setLayouts.Get(l.Handle)
		if !ok {
			d.mu.Unlock()
			return rhi.Pipeline{}, errors.Wrapf(core.ErrStaleHandle, "pipeline %q set layout %d", desc.Name, i)
		}
		setLayouts[i] = layout.handle
	}
	d.mu.Unlock()

	layoutInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(setLayouts)),
		PSetLayouts:    setLayouts,
	}
	var layout vk.PipelineLayout
	if err := vk.Error(vk.CreatePipelineLayout(d.logical, &layoutInfo, nil, &layout)); err != nil {
		return rhi.Pipeline{}, core.DeviceFatal("vkCreatePipelineLayout", err)
	}

	stages := []vk.PipelineShaderStageCreateInfo{
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageVertexBit,
			Module: vert,
			PName:  safeString("main"),
		},
		{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFragmentBit,
			Module: frag,
			PName:  safeString("main"),
		},
	}
	vertexInputInfo := vertexInput(desc.Vertex)
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopologyTriangleList,
	}
	extent := vkExtent(desc.Extent)
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports: []vk.Viewport{{
			Width:    float32(extent.Width),
			Height:   float32(extent.Height),
			MaxDepth: 1,
		}},
		ScissorCount: 1,
		PScissors:    []vk.Rect2D{{Extent: extent}},
	}
	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		LineWidth:   1,
		CullMode:    vkCullMode(desc.CullMode),
		FrontFace:   vk.FrontFaceCounterClockwise,
	}
	multisampling := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1,
	}
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:          vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthCompareOp: vk.CompareOpLessOrEqual,
		MaxDepthBounds: 1,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
	}
	if desc.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	attachments := make([]vk.PipelineColorBlendAttachmentState, desc.ColorAttachments)
	for i := range attachments {
		attachments[i] = colorBlend(desc.Blend)
	}
	blending := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
	}
	dynamicStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	dynamic := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisampling,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &blending,
		PDynamicState:       &dynamic,
		Layout:              layout,
		RenderPass:          rp,
		Subpass:             desc.Subpass,
		BasePipelineIndex:   -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	if err := vk.Error(vk.CreateGraphicsPipelines(d.logical, vk.PipelineCache(vk.NullHandle), 1,
		[]vk.GraphicsPipelineCreateInfo{info}, nil, pipelines)); err != nil {
		vk.DestroyPipelineLayout(d.logical, layout, nil)
		return rhi.Pipeline{}, errors.Wrapf(core.DeviceFatal("vkCreateGraphicsPipelines", err), "pipeline %q", desc.Name)
	}
	core.LogDebug("Pipeline %q created for subpass %d.", desc.Name, desc.Subpass)

	d.mu.Lock()
	defer d.mu.Unlock()
	return rhi.Pipeline{Handle: d.pipelines.Insert(&pipeline{handle: pipelines[0], layout: layout})}, nil
}

func (d *Device) DestroyPipeline(p rhi.Pipeline) {
	d.mu.Lock()
	pl, ok := d.pipelines.Remove(p.Handle)
	d.mu.Unlock()
	if ok {
		vk.DestroyPipeline(d.logical, pl.handle, nil)
		vk.DestroyPipelineLayout(d.logical, pl.layout, nil)
	}
}
