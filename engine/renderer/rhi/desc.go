package rhi

type AttachmentDesc struct {
	Name           string
	Format         Format
	Samples        uint32
	LoadOp         LoadOp
	StoreOp        StoreOp
	StencilLoadOp  LoadOp
	StencilStoreOp StoreOp
	InitialLayout  ImageLayout
	FinalLayout    ImageLayout
}

type AttachmentRef struct {
	Attachment uint32
	Layout     ImageLayout
}

type SubpassDesc struct {
	Name     string
	Inputs   []AttachmentRef
	Colors   []AttachmentRef
	Depth    *AttachmentRef
	Preserve []uint32
}

type SubpassDependency struct {
	SrcSubpass uint32
	DstSubpass uint32
	SrcStage   PipelineStage
	DstStage   PipelineStage
	SrcAccess  Access
	DstAccess  Access
	ByRegion   bool
}

type RenderPassDesc struct {
	Name         string
	Attachments  []AttachmentDesc
	Subpasses    []SubpassDesc
	Dependencies []SubpassDependency
}

type ClearValue struct {
	Color   [4]float32
	Depth   float32
	Stencil uint32
	// IsDepth selects Depth/Stencil instead of Color.
	IsDepth bool
}

func ClearColor(r, g, b, a float32) ClearValue {
	return ClearValue{Color: [4]float32{r, g, b, a}}
}

func ClearDepthStencil(depth float32, stencil uint32) ClearValue {
	return ClearValue{Depth: depth, Stencil: stencil, IsDepth: true}
}

type RenderPassBegin struct {
	RenderPass  RenderPass
	Framebuffer Framebuffer
	Area        Extent
	ClearValues []ClearValue
}

type BufferDesc struct {
	Name        string
	Size        uint64
	Usage       BufferUsage
	HostVisible bool
}

type ImageDesc struct {
	Name    string
	Extent  Extent
	Format  Format
	Usage   ImageUsage
	Samples uint32
}

type FramebufferDesc struct {
	RenderPass  RenderPass
	Attachments []Image
	Extent      Extent
}

type DescriptorBinding struct {
	Binding uint32
	Type    DescriptorType
	Count   uint32
	Stages  ShaderStage
}

type DescriptorWrite struct {
	Binding uint32
	Type    DescriptorType
	Buffer  Buffer
	Offset  uint64
	Range   uint64
	Image   Image
}

type VertexAttribute struct {
	Location uint32
	Format   VertexFormat
	Offset   uint32
}

type VertexLayout struct {
	Stride     uint32
	Attributes []VertexAttribute
}

type PipelineDesc struct {
	Name       string
	RenderPass RenderPass
	Subpass    uint32
	SetLayouts []DescriptorSetLayout
	// Shader module names, resolved by the backend against its shader directory.
	VertexShader   string
	FragmentShader string
	// Nil for passes that generate vertices in the shader.
	Vertex           *VertexLayout
	Extent           Extent
	ColorAttachments int
	Blend            BlendMode
	DepthTest        bool
	DepthWrite       bool
	CullMode         CullMode
}

type SubmitInfo struct {
	CommandBuffer   CommandBuffer
	WaitSemaphore   Semaphore
	WaitStage       PipelineStage
	SignalSemaphore Semaphore
	Fence           Fence
}

type SwapchainDesc struct {
	Extent        Extent
	MinImageCount uint32
	VSync         bool
	// Old is handed to the backend so it can recycle presentation resources.
	Old Swapchain
}

type DeviceConfig struct {
	ApplicationName    string
	Validation         bool
	DescriptorPoolSets uint32
	ShaderDir          string
}
