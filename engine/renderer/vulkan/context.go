package vulkan

import (
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

type commandPool struct {
	handle  vk.CommandPool
	buffers []rhi.CommandBuffer
}

type buffer struct {
	desc   rhi.BufferDesc
	handle vk.Buffer
	memory vk.DeviceMemory
	mapped []byte
}

type image struct {
	desc   rhi.ImageDesc
	handle vk.Image
	memory vk.DeviceMemory
	view   vk.ImageView
	// Owned by a swapchain: only the view is ours to destroy.
	swapchain bool
}

type setLayout struct {
	handle   vk.DescriptorSetLayout
	bindings []rhi.DescriptorBinding
}

type pipeline struct {
	handle vk.Pipeline
	layout vk.PipelineLayout
}

// Device implements rhi.Device on a Vulkan logical device. Handles handed
// out are indices into generation-checked arenas so a destroyed object
// never resolves again.
type Device struct {
	config rhi.DeviceConfig
	window SurfaceWindow

	instance       vk.Instance
	debugMessenger vk.DebugReportCallback
	surface        vk.Surface

	physical      vk.PhysicalDevice
	logical       vk.Device
	properties    vk.PhysicalDeviceProperties
	memory        vk.PhysicalDeviceMemoryProperties
	queues        queueFamilies
	graphicsQueue vk.Queue
	presentQueue  vk.Queue
	limits        rhi.Limits

	descriptorPool vk.DescriptorPool
	sampler        vk.Sampler
	shaders        map[string]vk.ShaderModule

	mu           sync.Mutex
	fences       *containers.Arena[vk.Fence]
	semaphores   *containers.Arena[vk.Semaphore]
	pools        *containers.Arena[*commandPool]
	cmdBuffers   *containers.Arena[vk.CommandBuffer]
	buffers      *containers.Arena[*buffer]
	images       *containers.Arena[*image]
	renderPasses *containers.Arena[vk.RenderPass]
	framebuffers *containers.Arena[vk.Framebuffer]
	setLayouts   *containers.Arena[*setLayout]
	sets         *containers.Arena[vk.DescriptorSet]
	pipelines    *containers.Arena[*pipeline]
	swapchains   map[*swapchain]struct{}
	destroyed    bool
}

func newDevice(window SurfaceWindow, cfg rhi.DeviceConfig) *Device {
	return &Device{
		config:       cfg,
		window:       window,
		shaders:      make(map[string]vk.ShaderModule),
		fences:       containers.NewArena[vk.Fence](16),
		semaphores:   containers.NewArena[vk.Semaphore](16),
		pools:        containers.NewArena[*commandPool](8),
		cmdBuffers:   containers.NewArena[vk.CommandBuffer](8),
		buffers:      containers.NewArena[*buffer](64),
		images:       containers.NewArena[*image](16),
		renderPasses: containers.NewArena[vk.RenderPass](2),
		framebuffers: containers.NewArena[vk.Framebuffer](8),
		setLayouts:   containers.NewArena[*setLayout](16),
		sets:         containers.NewArena[vk.DescriptorSet](64),
		pipelines:    containers.NewArena[*pipeline](16),
		swapchains:   make(map[*swapchain]struct{}),
	}
}

func (d *Device) Limits() rhi.Limits {
	return d.limits
}

// findMemoryIndex returns the first memory type allowed by typeFilter that
// has every property flag, or -1.
func (d *Device) findMemoryIndex(typeFilter uint32, flags vk.MemoryPropertyFlags) int32 {
	for i := uint32(0); i < d.memory.MemoryTypeCount; i++ {
		d.memory.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 && d.memory.MemoryTypes[i].PropertyFlags&flags == flags {
			return int32(i)
		}
	}
	return -1
}

var (
	_ rhi.Device    = (*Device)(nil)
	_ rhi.Backend   = (*Backend)(nil)
	_ rhi.Swapchain = (*swapchain)(nil)
)
