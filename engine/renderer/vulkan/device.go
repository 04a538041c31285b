package vulkan

import (
	"runtime"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

type queueFamilies struct {
	graphics uint32
	present  uint32
}

type physicalCandidate struct {
	device     vk.PhysicalDevice
	properties vk.PhysicalDeviceProperties
	queues     queueFamilies
	score      int
}

// selectPhysicalDevice picks the highest scoring device that can render
// and present to the surface. Discrete GPUs win over integrated ones.
func (d *Device) selectPhysicalDevice() error {
	var count uint32
	if err := vk.Error(vk.EnumeratePhysicalDevices(d.instance, &count, nil)); err != nil {
		return core.DeviceFatal("vkEnumeratePhysicalDevices", err)
	}
	if count == 0 {
		return core.DeviceFatal("vkEnumeratePhysicalDevices", errors.New("no Vulkan capable device found"))
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := vk.Error(vk.EnumeratePhysicalDevices(d.instance, &count, devices)); err != nil {
		return core.DeviceFatal("vkEnumeratePhysicalDevices", err)
	}

	var best *physicalCandidate
	for _, pd := range devices {
		c, ok := d.evaluate(pd)
		if !ok {
			continue
		}
		if best == nil || c.score > best.score {
			best = c
		}
	}
	if best == nil {
		return core.DeviceFatal("selectPhysicalDevice", errors.New("no device meets the requirements"))
	}

	d.physical = best.device
	d.properties = best.properties
	d.queues = best.queues
	vk.GetPhysicalDeviceMemoryProperties(d.physical, &d.memory)
	d.memory.Deref()

	limits := d.properties.Limits
	limits.Deref()
	d.limits = rhi.Limits{
		MinUniformBufferOffsetAlignment: uint64(limits.MinUniformBufferOffsetAlignment),
		MinStorageBufferOffsetAlignment: uint64(limits.MinStorageBufferOffsetAlignment),
		MaxUniformBufferRange:           uint64(limits.MaxUniformBufferRange),
	}

	driver := vk.Version(d.properties.DriverVersion)
	api := vk.Version(d.properties.ApiVersion)
	core.LogInfo("Selected device '%s' (%s), driver %d.%d.%d, Vulkan %d.%d.%d",
		vk.ToString(d.properties.DeviceName[:]), deviceType(d.properties.DeviceType),
		driver.Major(), driver.Minor(), driver.Patch(), api.Major(), api.Minor(), api.Patch())
	for i := uint32(0); i < d.memory.MemoryHeapCount; i++ {
		heap := d.memory.MemoryHeaps[i]
		heap.Deref()
		kind := "shared system"
		if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			kind = "local GPU"
		}
		core.LogDebug("Memory heap %d: %d MiB %s memory", i, uint64(heap.Size)>>20, kind)
	}
	return nil
}

func (d *Device) evaluate(pd vk.PhysicalDevice) (*physicalCandidate, bool) {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &props)
	props.Deref()
	name := vk.ToString(props.DeviceName[:])

	queues, ok := d.findQueueFamilies(pd)
	if !ok {
		core.LogDebug("Device '%s' lacks graphics or present queues, skipping.", name)
		return nil, false
	}
	if !hasDeviceExtension(pd, vk.KhrSwapchainExtensionName) {
		core.LogDebug("Device '%s' lacks %s, skipping.", name, vk.KhrSwapchainExtensionName)
		return nil, false
	}
	var formatCount, modeCount uint32
	vk.GetPhysicalDeviceSurfaceFormats(pd, d.surface, &formatCount, nil)
	vk.GetPhysicalDeviceSurfacePresentModes(pd, d.surface, &modeCount, nil)
	if formatCount == 0 || modeCount == 0 {
		core.LogDebug("Device '%s' has no surface formats or present modes, skipping.", name)
		return nil, false
	}

	score := 1
	switch props.DeviceType {
	case vk.PhysicalDeviceTypeDiscreteGpu:
		score += 100
	case vk.PhysicalDeviceTypeIntegratedGpu:
		score += 10
	}
	if queues.graphics == queues.present {
		score++
	}
	return &physicalCandidate{device: pd, properties: props, queues: queues, score: score}, true
}

func (d *Device) findQueueFamilies(pd vk.PhysicalDevice) (queueFamilies, bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &count, families)

	graphics, present := -1, -1
	for i := range families {
		families[i].Deref()
		var supportsPresent vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), d.surface, &supportsPresent)
		isGraphics := vk.QueueFlagBits(families[i].QueueFlags)&vk.QueueGraphicsBit != 0
		// Prefer one family doing both.
		if isGraphics && supportsPresent == vk.True {
			return queueFamilies{graphics: uint32(i), present: uint32(i)}, true
		}
		if isGraphics && graphics < 0 {
			graphics = i
		}
		if supportsPresent == vk.True && present < 0 {
			present = i
		}
	}
	if graphics < 0 || present < 0 {
		return queueFamilies{}, false
	}
	return queueFamilies{graphics: uint32(graphics), present: uint32(present)}, true
}

func deviceExtensions(pd vk.PhysicalDevice) []string {
	var count uint32
	if vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil) != vk.Success {
		return nil
	}
	props := make([]vk.ExtensionProperties, count)
	if vk.EnumerateDeviceExtensionProperties(pd, "", &count, props) != vk.Success {
		return nil
	}
	names := make([]string, 0, count)
	for i := range props {
		props[i].Deref()
		names = append(names, vk.ToString(props[i].ExtensionName[:]))
	}
	return names
}

func hasDeviceExtension(pd vk.PhysicalDevice, name string) bool {
	for _, ext := range deviceExtensions(pd) {
		if ext == name {
			return true
		}
	}
	return false
}

func (d *Device) createLogicalDevice() error {
	families := []uint32{d.queues.graphics}
	if d.queues.present != d.queues.graphics {
		families = append(families, d.queues.present)
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, family := range families {
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1},
		}
	}

	extensions := []string{vk.KhrSwapchainExtensionName}
	if runtime.GOOS == "darwin" && hasDeviceExtension(d.physical, "VK_KHR_portability_subset") {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
	}
	var device vk.Device
	if err := vk.Error(vk.CreateDevice(d.physical, &createInfo, nil, &device)); err != nil {
		return core.DeviceFatal("vkCreateDevice", err)
	}
	d.logical = device

	var graphics, present vk.Queue
	vk.GetDeviceQueue(device, d.queues.graphics, 0, &graphics)
	vk.GetDeviceQueue(device, d.queues.present, 0, &present)
	d.graphicsQueue, d.presentQueue = graphics, present
	core.LogInfo("Logical device created, graphics family %d, present family %d.", d.queues.graphics, d.queues.present)
	return nil
}

// detectDepthFormat picks the first depth format usable as an optimally
// tiled attachment.
func (d *Device) detectDepthFormat() error {
	for _, candidate := range []rhi.Format{rhi.FormatD32Sfloat, rhi.FormatD32SfloatS8Uint, rhi.FormatD24UnormS8Uint} {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(d.physical, vkFormat(candidate), &props)
		props.Deref()
		want := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit)
		if props.OptimalTilingFeatures&want == want {
			d.limits.DepthFormat = candidate
			return nil
		}
	}
	return core.DeviceFatal("detectDepthFormat", errors.New("no supported depth attachment format"))
}

func deviceType(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "CPU"
	}
	return "unknown"
}

func (d *Device) WaitIdle() error {
	if err := vk.Error(vk.DeviceWaitIdle(d.logical)); err != nil {
		return core.DeviceFatal("vkDeviceWaitIdle", err)
	}
	return nil
}
