package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

// aspect is the view aspect of a format. Depth stencil views expose depth
// only so they can be read as input attachments.
func aspect(f rhi.Format) vk.ImageAspectFlags {
	if f.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func (d *Device) createView(img vk.Image, format vk.Format, aspect vk.ImageAspectFlags) (vk.ImageView, error) {
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspect,
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	var view vk.ImageView
	if err := vk.Error(vk.CreateImageView(d.logical, &info, nil, &view)); err != nil {
		return nil, core.DeviceFatal("vkCreateImageView", err)
	}
	return view, nil
}

func (d *Device) CreateImage(desc rhi.ImageDesc) (rhi.Image, error) {
	if desc.Extent.IsZero() {
		return rhi.Image{}, core.ConfigurationErrorf("image %q has empty extent %s", desc.Name, desc.Extent)
	}
	format := vkFormat(desc.Format)
	if format == vk.FormatUndefined {
		return rhi.Image{}, core.ConfigurationErrorf("image %q has unsupported format %s", desc.Name, desc.Format)
	}
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    format,
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vkSamples(desc.Samples),
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	img := &image{desc: desc}
	if err := vk.Error(vk.CreateImage(d.logical, &info, nil, &img.handle)); err != nil {
		return rhi.Image{}, core.DeviceFatal("vkCreateImage", err)
	}
	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.logical, img.handle, &reqs)
	memory, err := d.allocate(reqs, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(d.logical, img.handle, nil)
		return rhi.Image{}, err
	}
	img.memory = memory
	if err := vk.Error(vk.BindImageMemory(d.logical, img.handle, img.memory, 0)); err != nil {
		d.releaseImage(img)
		return rhi.Image{}, core.DeviceFatal("vkBindImageMemory", err)
	}
	if img.view, err = d.createView(img.handle, format, aspect(desc.Format)); err != nil {
		d.releaseImage(img)
		return rhi.Image{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return rhi.Image{Handle: d.images.Insert(img)}, nil
}

func (d *Device) imageView(i rhi.Image) (vk.ImageView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	img, ok := d.images.Get(i.Handle)
	if !ok {
		return nil, errors.Wrapf(core.ErrStaleHandle, "image %v", i.Handle)
	}
	return img.view, nil
}

func (d *Device) releaseImage(img *image) {
	if img.view != nil {
		vk.DestroyImageView(d.logical, img.view, nil)
	}
	if img.swapchain {
		return
	}
	vk.DestroyImage(d.logical, img.handle, nil)
	if img.memory != nil {
		vk.FreeMemory(d.logical, img.memory, nil)
	}
}

func (d *Device) DestroyImage(i rhi.Image) {
	d.mu.Lock()
	img, ok := d.images.Get(i.Handle)
	if ok && img.swapchain {
		d.mu.Unlock()
		core.LogWarn("swapchain image %v destroyed directly, ignoring", i.Handle)
		return
	}
	if ok {
		d.images.Remove(i.Handle)
	}
	d.mu.Unlock()
	if ok {
		d.releaseImage(img)
	}
}
