package vulkan

import (
	"math"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	lmath "github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

type swapchain struct {
	device *Device
	handle vk.Swapchain
	extent rhi.Extent
	format rhi.Format
	images []rhi.Image
}

func (s *swapchain) Extent() rhi.Extent { return s.extent }

func (s *swapchain) Format() rhi.Format { return s.format }

func (s *swapchain) Images() []rhi.Image {
	return append([]rhi.Image(nil), s.images...)
}

type surfaceSupport struct {
	capabilities vk.SurfaceCapabilities
	formats      []vk.SurfaceFormat
	presentModes []vk.PresentMode
}

func (d *Device) querySurfaceSupport() (surfaceSupport, error) {
	var support surfaceSupport
	if err := vk.Error(vk.GetPhysicalDeviceSurfaceCapabilities(d.physical, d.surface, &support.capabilities)); err != nil {
		return support, core.DeviceFatal("vkGetPhysicalDeviceSurfaceCapabilitiesKHR", err)
	}
	support.capabilities.Deref()
	support.capabilities.CurrentExtent.Deref()
	support.capabilities.MinImageExtent.Deref()
	support.capabilities.MaxImageExtent.Deref()

	var count uint32
	vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &count, nil)
	support.formats = make([]vk.SurfaceFormat, count)
	vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &count, support.formats)
	for i := range support.formats {
		support.formats[i].Deref()
	}

	vk.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &count, nil)
	support.presentModes = make([]vk.PresentMode, count)
	vk.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &count, support.presentModes)
	if len(support.formats) == 0 || len(support.presentModes) == 0 {
		return support, core.DeviceFatal("querySurfaceSupport", errors.New("surface has no formats or present modes"))
	}
	return support, nil
}

func chooseSurfaceFormat(formats []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, f := range formats {
		if f.Format == vk.FormatB8g8r8a8Unorm && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	for _, f := range formats {
		if rhiFormat(f.Format) != rhi.FormatUndefined {
			return f
		}
	}
	return formats[0]
}

// choosePresentMode uses FIFO for vsync, otherwise the lowest latency mode
// available.
func choosePresentMode(modes []vk.PresentMode, vsync bool) vk.PresentMode {
	if vsync {
		return vk.PresentModeFifo
	}
	for _, want := range []vk.PresentMode{vk.PresentModeMailbox, vk.PresentModeImmediate} {
		for _, m := range modes {
			if m == want {
				return m
			}
		}
	}
	return vk.PresentModeFifo
}

func (d *Device) CreateSwapchain(desc rhi.SwapchainDesc) (rhi.Swapchain, error) {
	support, err := d.querySurfaceSupport()
	if err != nil {
		return nil, err
	}
	caps := support.capabilities
	surfaceFormat := chooseSurfaceFormat(support.formats)
	presentMode := choosePresentMode(support.presentModes, desc.VSync)

	extent := vkExtent(desc.Extent)
	if caps.CurrentExtent.Width != math.MaxUint32 {
		extent = caps.CurrentExtent
	}
	extent.Width = lmath.Clamp(extent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	extent.Height = lmath.Clamp(extent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	if extent.Width == 0 || extent.Height == 0 {
		return nil, core.ConfigurationErrorf("surface extent %dx%d is empty", extent.Width, extent.Height)
	}

	imageCount := max(desc.MinImageCount, caps.MinImageCount+1)
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
	}
	if d.queues.graphics != d.queues.present {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{d.queues.graphics, d.queues.present}
	}
	if old, ok := desc.Old.(*swapchain); ok && old != nil {
		info.OldSwapchain = old.handle
	}

	var handle vk.Swapchain
	if err := vk.Error(vk.CreateSwapchain(d.logical, &info, nil, &handle)); err != nil {
		return nil, core.DeviceFatal("vkCreateSwapchainKHR", err)
	}
	sc := &swapchain{
		device: d,
		handle: handle,
		extent: rhi.Extent{Width: extent.Width, Height: extent.Height},
		format: rhiFormat(surfaceFormat.Format),
	}

	var count uint32
	vk.GetSwapchainImages(d.logical, handle, &count, nil)
	images := make([]vk.Image, count)
	if err := vk.Error(vk.GetSwapchainImages(d.logical, handle, &count, images)); err != nil {
		vk.DestroySwapchain(d.logical, handle, nil)
		return nil, core.DeviceFatal("vkGetSwapchainImagesKHR", err)
	}
	for i, img := range images {
		imgDesc := rhi.ImageDesc{
			Name:    "swapchain",
			Extent:  sc.extent,
			Format:  sc.format,
			Usage:   rhi.UsageColorAttachment,
			Samples: 1,
		}
		view, err := d.createView(img, surfaceFormat.Format, vk.ImageAspectFlags(vk.ImageAspectColorBit))
		if err != nil {
			d.DestroySwapchain(sc)
			return nil, errors.Wrapf(err, "view of swapchain image %d", i)
		}
		d.mu.Lock()
		h := d.images.Insert(&image{desc: imgDesc, handle: img, view: view, swapchain: true})
		d.mu.Unlock()
		sc.images = append(sc.images, rhi.Image{Handle: h})
	}

	d.mu.Lock()
	d.swapchains[sc] = struct{}{}
	d.mu.Unlock()
	core.LogDebug("Swapchain created: %s, %d images, %s, present mode %d.", sc.extent, count, sc.format, presentMode)
	return sc, nil
}

func (d *Device) DestroySwapchain(s rhi.Swapchain) {
	sc, ok := s.(*swapchain)
	if !ok || sc == nil {
		return
	}
	d.mu.Lock()
	delete(d.swapchains, sc)
	var views []vk.ImageView
	for _, img := range sc.images {
		if im, ok := d.images.Remove(img.Handle); ok {
			views = append(views, im.view)
		}
	}
	d.mu.Unlock()
	// Swapchain images belong to the swapchain; only the views are ours.
	for _, v := range views {
		vk.DestroyImageView(d.logical, v, nil)
	}
	if sc.handle != nil {
		vk.DestroySwapchain(d.logical, sc.handle, nil)
		sc.handle = nil
	}
}

func (s *swapchain) Acquire(signal rhi.Semaphore) (uint32, rhi.Status, error) {
	sem, err := s.device.semaphore(signal)
	if err != nil {
		return 0, rhi.StatusReady, err
	}
	var index uint32
	res := vk.AcquireNextImage(s.device.logical, s.handle, vk.MaxUint64, sem, vk.NullFence, &index)
	switch res {
	case vk.Success:
		return index, rhi.StatusReady, nil
	case vk.Suboptimal:
		return index, rhi.StatusSuboptimal, nil
	case vk.ErrorOutOfDate:
		return 0, rhi.StatusOutOfDate, nil
	}
	return 0, rhi.StatusReady, errors.Newf("vkAcquireNextImageKHR: %s", resultName(res))
}

func (s *swapchain) Present(imageIndex uint32, wait rhi.Semaphore) (rhi.Status, error) {
	sem, err := s.device.semaphore(wait)
	if err != nil {
		return rhi.StatusReady, err
	}
	info := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{sem},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.handle},
		PImageIndices:      []uint32{imageIndex},
	}
	switch res := vk.QueuePresent(s.device.presentQueue, &info); res {
	case vk.Success:
		return rhi.StatusReady, nil
	case vk.Suboptimal:
		return rhi.StatusSuboptimal, nil
	case vk.ErrorOutOfDate:
		return rhi.StatusOutOfDate, nil
	default:
		return rhi.StatusReady, errors.Newf("vkQueuePresentKHR: %s", resultName(res))
	}
}
