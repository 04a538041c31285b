// Package vulkan implements the rhi interfaces with goki/vulkan.
package vulkan

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// SurfaceWindow is a platform window Vulkan can present to.
type SurfaceWindow interface {
	rhi.Window
	RequiredInstanceExtensions() []string
	CreateSurface(instance vk.Instance) (vk.Surface, error)
}

type Backend struct{}

func NewBackend() *Backend {
	return &Backend{}
}

func (b *Backend) Name() string {
	return "vulkan"
}

// CreateDevice loads the loader through GLFW, creates the instance, the
// window surface and a logical device with a graphics and a present queue.
func (b *Backend) CreateDevice(window rhi.Window, cfg rhi.DeviceConfig) (rhi.Device, error) {
	sw, ok := window.(SurfaceWindow)
	if !ok {
		return nil, core.ConfigurationErrorf("window %T cannot create a Vulkan surface", window)
	}
	procAddr := glfw.GetVulkanGetInstanceProcAddress()
	if procAddr == nil {
		return nil, core.DeviceFatal("vkGetInstanceProcAddr", errors.New("Vulkan loader not found"))
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, core.DeviceFatal("vkInit", err)
	}

	d := newDevice(sw, cfg)
	if err := d.initialize(); err != nil {
		d.Destroy()
		return nil, err
	}
	return d, nil
}

func (d *Device) initialize() error {
	if err := d.createInstance(); err != nil {
		return err
	}
	if d.config.Validation {
		if err := d.createDebugMessenger(); err != nil {
			// Validation output is best effort.
			core.LogWarn("Vulkan debug callback unavailable: %v", err)
		}
	}
	surface, err := d.window.CreateSurface(d.instance)
	if err != nil {
		return core.DeviceFatal("CreateWindowSurface", err)
	}
	d.surface = surface
	core.LogDebug("Vulkan surface created.")

	if err := d.selectPhysicalDevice(); err != nil {
		return err
	}
	if err := d.createLogicalDevice(); err != nil {
		return err
	}
	if err := d.detectDepthFormat(); err != nil {
		return err
	}
	if err := d.createDescriptorPool(); err != nil {
		return err
	}
	if err := d.createSampler(); err != nil {
		return err
	}
	core.LogInfo("Vulkan device ready, depth format %s.", d.limits.DepthFormat)
	return nil
}

func (d *Device) createInstance() error {
	name := d.config.ApplicationName
	if name == "" {
		name = "Lumen"
	}
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   safeString(name),
		PEngineName:        safeString("Lumen"),
		EngineVersion:      uint32(vk.MakeVersion(1, 0, 0)),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	extensions := d.window.RequiredInstanceExtensions()
	if runtime.GOOS == "darwin" {
		extensions = append(extensions,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}
	var layers []string
	if d.config.Validation {
		extensions = append(extensions, vk.ExtDebugReportExtensionName)
		if hasLayer(validationLayer) {
			layers = append(layers, validationLayer)
		} else {
			core.LogWarn("Validation requested but %s is not installed.", validationLayer)
		}
	}
	for _, ext := range extensions {
		core.LogDebug("Instance extension: %s", ext)
	}
	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = safeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = safeStrings(layers)

	var instance vk.Instance
	if err := vk.Error(vk.CreateInstance(&createInfo, nil, &instance)); err != nil {
		return core.DeviceFatal("vkCreateInstance", err)
	}
	d.instance = instance
	if err := vk.InitInstance(instance); err != nil {
		return core.DeviceFatal("vkInitInstance", err)
	}
	core.LogInfo("Vulkan instance created.")
	return nil
}

func hasLayer(name string) bool {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success {
		return false
	}
	layers := make([]vk.LayerProperties, count)
	if vk.EnumerateInstanceLayerProperties(&count, layers) != vk.Success {
		return false
	}
	for i := range layers {
		layers[i].Deref()
		if vk.ToString(layers[i].LayerName[:]) == name {
			return true
		}
	}
	return false
}

func (d *Device) createDebugMessenger() error {
	info := vk.DebugReportCallbackCreateInfo{
		SType: vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit |
			vk.DebugReportPerformanceWarningBit),
		PfnCallback: debugCallback,
	}
	var cb vk.DebugReportCallback
	if err := vk.Error(vk.CreateDebugReportCallback(d.instance, &info, nil, &cb)); err != nil {
		return err
	}
	d.debugMessenger = cb
	return nil
}

func debugCallback(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("performance [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}

// Destroy releases everything still alive, logging what leaked.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()

	if d.logical != nil {
		vk.DeviceWaitIdle(d.logical)
		d.destroyLeaked()
		for name, module := range d.shaders {
			vk.DestroyShaderModule(d.logical, module, nil)
			delete(d.shaders, name)
		}
		if d.sampler != nil {
			vk.DestroySampler(d.logical, d.sampler, nil)
		}
		if d.descriptorPool != nil {
			vk.DestroyDescriptorPool(d.logical, d.descriptorPool, nil)
		}
		vk.DestroyDevice(d.logical, nil)
		d.logical = nil
	}
	if d.surface != nil {
		vk.DestroySurface(d.instance, d.surface, nil)
	}
	if d.debugMessenger != nil {
		vk.DestroyDebugReportCallback(d.instance, d.debugMessenger, nil)
	}
	if d.instance != nil {
		vk.DestroyInstance(d.instance, nil)
		d.instance = nil
	}
	core.LogInfo("Vulkan device destroyed.")
}

func (d *Device) destroyLeaked() {
	leaked := 0
	for sc := range d.swapchains {
		d.DestroySwapchain(sc)
		leaked++
	}
	d.pipelines.Each(func(_ containers.Handle, p *pipeline) {
		vk.DestroyPipeline(d.logical, p.handle, nil)
		vk.DestroyPipelineLayout(d.logical, p.layout, nil)
		leaked++
	})
	d.framebuffers.Each(func(_ containers.Handle, fb vk.Framebuffer) {
		vk.DestroyFramebuffer(d.logical, fb, nil)
		leaked++
	})
	d.renderPasses.Each(func(_ containers.Handle, rp vk.RenderPass) {
		vk.DestroyRenderPass(d.logical, rp, nil)
		leaked++
	})
	d.setLayouts.Each(func(_ containers.Handle, l *setLayout) {
		vk.DestroyDescriptorSetLayout(d.logical, l.handle, nil)
		leaked++
	})
	d.images.Each(func(_ containers.Handle, img *image) {
		d.releaseImage(img)
		leaked++
	})
	d.buffers.Each(func(_ containers.Handle, b *buffer) {
		d.releaseBuffer(b)
		leaked++
	})
	d.pools.Each(func(_ containers.Handle, p *commandPool) {
		vk.DestroyCommandPool(d.logical, p.handle, nil)
		leaked++
	})
	d.fences.Each(func(_ containers.Handle, f vk.Fence) {
		vk.DestroyFence(d.logical, f, nil)
		leaked++
	})
	d.semaphores.Each(func(_ containers.Handle, s vk.Semaphore) {
		vk.DestroySemaphore(d.logical, s, nil)
		leaked++
	})
	if leaked > 0 {
		core.LogWarn("%d Vulkan objects were still alive at device destruction.", leaked)
	}
}
