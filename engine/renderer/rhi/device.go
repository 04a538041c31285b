package rhi

// Window is the surface a backend renders into.
type Window interface {
	FramebufferSize() (width uint32, height uint32)
}

type Backend interface {
	Name() string
	CreateDevice(window Window, cfg DeviceConfig) (Device, error)
}

// Device creates and destroys GPU resources and talks to the queue.
// Handles returned by one Device are meaningless to another.
//
// Blocking calls are WaitForFence and WaitIdle; every other call returns
// without waiting on the GPU.
type Device interface {
	Limits() Limits

	CreateFence(signaled bool) (Fence, error)
	// WaitForFence blocks until the fence signals. There is no timeout: a
	// fence that never signals means the device is lost.
	WaitForFence(f Fence) error
	FenceSignaled(f Fence) (bool, error)
	ResetFence(f Fence) error
	DestroyFence(f Fence)

	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(s Semaphore)

	CreateCommandPool() (CommandPool, error)
	ResetCommandPool(p CommandPool) error
	DestroyCommandPool(p CommandPool)
	AllocateCommandBuffer(p CommandPool) (CommandBuffer, error)
	Begin(cb CommandBuffer) (CommandRecorder, error)
	Submit(info SubmitInfo) error

	CreateSwapchain(desc SwapchainDesc) (Swapchain, error)
	DestroySwapchain(sc Swapchain)

	CreateBuffer(desc BufferDesc) (Buffer, error)
	// MappedBytes returns the persistently mapped memory of a host-visible buffer.
	MappedBytes(b Buffer) ([]byte, error)
	DestroyBuffer(b Buffer)

	CreateImage(desc ImageDesc) (Image, error)
	DestroyImage(img Image)

	CreateRenderPass(desc RenderPassDesc) (RenderPass, error)
	DestroyRenderPass(rp RenderPass)
	CreateFramebuffer(desc FramebufferDesc) (Framebuffer, error)
	DestroyFramebuffer(fb Framebuffer)

	CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(l DescriptorSetLayout)
	AllocateDescriptorSet(l DescriptorSetLayout) (DescriptorSet, error)
	FreeDescriptorSet(s DescriptorSet)
	UpdateDescriptorSet(s DescriptorSet, writes []DescriptorWrite) error

	CreatePipeline(desc PipelineDesc) (Pipeline, error)
	DestroyPipeline(p Pipeline)

	WaitIdle() error
	Destroy()
}

// CommandRecorder records into one command buffer between Begin and End.
type CommandRecorder interface {
	BeginRenderPass(begin RenderPassBegin)
	NextSubpass()
	EndRenderPass()
	BindPipeline(p Pipeline)
	BindDescriptorSets(p Pipeline, firstSet uint32, sets []DescriptorSet, dynamicOffsets []uint32)
	BindVertexBuffer(b Buffer, offset uint64)
	BindIndexBuffer(b Buffer, offset uint64)
	SetViewport(e Extent)
	SetScissor(e Extent)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	End() error
}

type Swapchain interface {
	Extent() Extent
	Format() Format
	Images() []Image
	// Acquire signals the semaphore once the returned image is ready. On
	// StatusOutOfDate the semaphore is left untouched.
	Acquire(signal Semaphore) (uint32, Status, error)
	Present(imageIndex uint32, wait Semaphore) (Status, error)
}
