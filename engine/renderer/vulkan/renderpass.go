package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

func attachmentRefs(refs []rhi.AttachmentRef) []vk.AttachmentReference {
	if len(refs) == 0 {
		return nil
	}
	out := make([]vk.AttachmentReference, len(refs))
	for i, r := range refs {
		out[i] = vk.AttachmentReference{Attachment: r.Attachment, Layout: vkLayout(r.Layout)}
	}
	return out
}

func (d *Device) CreateRenderPass(desc rhi.RenderPassDesc) (rhi.RenderPass, error) {
	if len(desc.Subpasses) == 0 {
		return rhi.RenderPass{}, core.ConfigurationErrorf("render pass %q has no subpasses", desc.Name)
	}
	attachments := make([]vk.AttachmentDescription, len(desc.Attachments))
	for i, a := range desc.Attachments {
		attachments[i] = vk.AttachmentDescription{
			Format:         vkFormat(a.Format),
			Samples:        vkSamples(a.Samples),
			LoadOp:         vkLoadOp(a.LoadOp),
			StoreOp:        vkStoreOp(a.StoreOp),
			StencilLoadOp:  vkLoadOp(a.StencilLoadOp),
			StencilStoreOp: vkStoreOp(a.StencilStoreOp),
			InitialLayout:  vkLayout(a.InitialLayout),
			FinalLayout:    vkLayout(a.FinalLayout),
		}
	}

	subpasses := make([]vk.SubpassDescription, len(desc.Subpasses))
	for i, sp := range desc.Subpasses {
		inputs := attachmentRefs(sp.Inputs)
		colors := attachmentRefs(sp.Colors)
		subpasses[i] = vk.SubpassDescription{
			PipelineBindPoint:       vk.PipelineBindPointGraphics,
			InputAttachmentCount:    uint32(len(inputs)),
			PInputAttachments:       inputs,
			ColorAttachmentCount:    uint32(len(colors)),
			PColorAttachments:       colors,
			PreserveAttachmentCount: uint32(len(sp.Preserve)),
			PPreserveAttachments:    sp.Preserve,
		}
		if sp.Depth != nil {
			subpasses[i].PDepthStencilAttachment = &vk.AttachmentReference{
				Attachment: sp.Depth.Attachment,
				Layout:     vkLayout(sp.Depth.Layout),
			}
		}
	}

	deps := make([]vk.SubpassDependency, len(desc.Dependencies))
	for i, dep := range desc.Dependencies {
		deps[i] = vk.SubpassDependency{
			SrcSubpass:    dep.SrcSubpass,
			DstSubpass:    dep.DstSubpass,
			SrcStageMask:  vkStages(dep.SrcStage),
			DstStageMask:  vkStages(dep.DstStage),
			SrcAccessMask: vkAccess(dep.SrcAccess),
			DstAccessMask: vkAccess(dep.DstAccess),
		}
		if dep.ByRegion {
			deps[i].DependencyFlags = vk.DependencyFlags(vk.DependencyByRegionBit)
		}
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(deps)),
		PDependencies:   deps,
	}
	var rp vk.RenderPass
	if err := vk.Error(vk.CreateRenderPass(d.logical, &info, nil, &rp)); err != nil {
		return rhi.RenderPass{}, core.DeviceFatal("vkCreateRenderPass", err)
	}
	core.LogDebug("Render pass %q created: %d attachments, %d subpasses.", desc.Name, len(attachments), len(subpasses))

	d.mu.Lock()
	defer d.mu.Unlock()
	return rhi.RenderPass{Handle: d.renderPasses.Insert(rp)}, nil
}

func (d *Device) renderPass(rp rhi.RenderPass) (vk.RenderPass, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.renderPasses.Get(rp.Handle)
	if !ok {
		return nil, errors.Wrapf(core.ErrStaleHandle, "render pass %v", rp.Handle)
	}
	return h, nil
}

func (d *Device) DestroyRenderPass(rp rhi.RenderPass) {
	d.mu.Lock()
	h, ok := d.renderPasses.Remove(rp.Handle)
	d.mu.Unlock()
	if ok {
		vk.DestroyRenderPass(d.logical, h, nil)
	}
}
