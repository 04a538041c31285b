package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

func (d *Device) CreateFramebuffer(desc rhi.FramebufferDesc) (rhi.Framebuffer, error) {
	rp, err := d.renderPass(desc.RenderPass)
	if err != nil {
		return rhi.Framebuffer{}, err
	}
	views := make([]vk.ImageView, len(desc.Attachments))
	for i, a := range desc.Attachments {
		if views[i], err = d.imageView(a); err != nil {
			return rhi.Framebuffer{}, errors.Wrapf(err, "framebuffer attachment %d", i)
		}
	}
	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           desc.Extent.Width,
		Height:          desc.Extent.Height,
		Layers:          1,
	}
	var fb vk.Framebuffer
	if err := vk.Error(vk.CreateFramebuffer(d.logical, &info, nil, &fb)); err != nil {
		return rhi.Framebuffer{}, core.DeviceFatal("vkCreateFramebuffer", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return rhi.Framebuffer{Handle: d.framebuffers.Insert(fb)}, nil
}

func (d *Device) DestroyFramebuffer(fb rhi.Framebuffer) {
	d.mu.Lock()
	h, ok := d.framebuffers.Remove(fb.Handle)
	d.mu.Unlock()
	if ok {
		vk.DestroyFramebuffer(d.logical, h, nil)
	}
}
