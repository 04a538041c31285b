package rhi

import "fmt"

type Extent struct {
	Width  uint32
	Height uint32
}

func (e Extent) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

func (e Extent) String() string {
	return fmt.Sprintf("%dx%d", e.Width, e.Height)
}

type Format uint32

const (
	FormatUndefined Format = iota
	FormatB8G8R8A8Unorm
	FormatB8G8R8A8Srgb
	FormatR8G8B8A8Unorm
	FormatR8G8B8A8Srgb
	FormatR16G16B16A16Sfloat
	FormatA2B10G10R10UnormPack32
	FormatD32Sfloat
	FormatD24UnormS8Uint
	FormatD32SfloatS8Uint
)

var formatNames = map[Format]string{
	FormatUndefined:              "UNDEFINED",
	FormatB8G8R8A8Unorm:          "B8G8R8A8_UNORM",
	FormatB8G8R8A8Srgb:           "B8G8R8A8_SRGB",
	FormatR8G8B8A8Unorm:          "R8G8B8A8_UNORM",
	FormatR8G8B8A8Srgb:           "R8G8B8A8_SRGB",
	FormatR16G16B16A16Sfloat:     "R16G16B16A16_SFLOAT",
	FormatA2B10G10R10UnormPack32: "A2B10G10R10_UNORM_PACK32",
	FormatD32Sfloat:              "D32_SFLOAT",
	FormatD24UnormS8Uint:         "D24_UNORM_S8_UINT",
	FormatD32SfloatS8Uint:        "D32_SFLOAT_S8_UINT",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Format(%d)", uint32(f))
}

func (f Format) IsDepth() bool {
	return f == FormatD32Sfloat || f == FormatD24UnormS8Uint || f == FormatD32SfloatS8Uint
}

func (f Format) HasStencil() bool {
	return f == FormatD24UnormS8Uint || f == FormatD32SfloatS8Uint
}

type ImageLayout uint32

const (
	LayoutUndefined ImageLayout = iota
	LayoutColorAttachment
	LayoutDepthStencilAttachment
	LayoutDepthStencilReadOnly
	LayoutShaderReadOnly
	LayoutPresentSrc
)

type LoadOp uint32

const (
	LoadOpDontCare LoadOp = iota
	LoadOpClear
	LoadOpLoad
)

type StoreOp uint32

const (
	StoreOpDontCare StoreOp = iota
	StoreOpStore
)

type ImageUsage uint32

const (
	UsageColorAttachment ImageUsage = 1 << iota
	UsageDepthStencilAttachment
	UsageInputAttachment
	UsageTransientAttachment
	UsageSampled
)

type BufferUsage uint32

const (
	BufferUsageUniform BufferUsage = 1 << iota
	BufferUsageStorage
	BufferUsageVertex
	BufferUsageIndex
	BufferUsageTransferDst
)

type PipelineStage uint32

const (
	StageTopOfPipe PipelineStage = 1 << iota
	StageVertexShader
	StageEarlyFragmentTests
	StageFragmentShader
	StageLateFragmentTests
	StageColorAttachmentOutput
	StageBottomOfPipe
)

type Access uint32

const (
	AccessNone Access = 0
)

const (
	AccessShaderRead Access = 1 << iota
	AccessShaderWrite
	AccessColorAttachmentRead
	AccessColorAttachmentWrite
	AccessInputAttachmentRead
	AccessDepthStencilRead
	AccessDepthStencilWrite
)

// SubpassExternal refers to work outside the render pass in a dependency.
const SubpassExternal = ^uint32(0)

type ShaderStage uint32

const (
	ShaderStageVertex ShaderStage = 1 << iota
	ShaderStageFragment
)

type DescriptorType uint32

const (
	DescriptorUniformBuffer DescriptorType = iota
	DescriptorUniformBufferDynamic
	DescriptorStorageBufferDynamic
	DescriptorInputAttachment
	DescriptorCombinedImageSampler
)

func (t DescriptorType) IsDynamic() bool {
	return t == DescriptorUniformBufferDynamic || t == DescriptorStorageBufferDynamic
}

type CullMode uint32

const (
	CullNone CullMode = iota
	CullBack
	CullFront
)

type BlendMode uint32

const (
	BlendNone BlendMode = iota
	BlendAlpha
	BlendPremultiplied
)

type VertexFormat uint32

const (
	VertexFloat2 VertexFormat = iota
	VertexFloat3
	VertexFloat4
	VertexUShort4
)

type Status int

const (
	StatusReady Status = iota
	StatusSuboptimal
	StatusOutOfDate
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusSuboptimal:
		return "suboptimal"
	case StatusOutOfDate:
		return "out of date"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

type Limits struct {
	MinUniformBufferOffsetAlignment uint64
	MinStorageBufferOffsetAlignment uint64
	MaxUniformBufferRange           uint64
	// DepthFormat is the best depth format the device supports as an attachment.
	DepthFormat Format
}

// DynamicOffsetAlignment is the alignment every dynamic offset must honor.
func (l Limits) DynamicOffsetAlignment() uint64 {
	a := l.MinUniformBufferOffsetAlignment
	if l.MinStorageBufferOffsetAlignment > a {
		a = l.MinStorageBufferOffsetAlignment
	}
	if a == 0 {
		a = 1
	}
	return a
}
