package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

func (d *Device) CreateCommandPool() (rhi.CommandPool, error) {
	info := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.queues.graphics,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	var pool vk.CommandPool
	if err := vk.Error(vk.CreateCommandPool(d.logical, &info, nil, &pool)); err != nil {
		return rhi.CommandPool{}, core.DeviceFatal("vkCreateCommandPool", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return rhi.CommandPool{Handle: d.pools.Insert(&commandPool{handle: pool})}, nil
}

func (d *Device) ResetCommandPool(p rhi.CommandPool) error {
	d.mu.Lock()
	pool, ok := d.pools.Get(p.Handle)
	d.mu.Unlock()
	if !ok {
		return errors.Wrapf(core.ErrStaleHandle, "command pool %v", p.Handle)
	}
	return vk.Error(vk.ResetCommandPool(d.logical, pool.handle, 0))
}

func (d *Device) DestroyCommandPool(p rhi.CommandPool) {
	d.mu.Lock()
	pool, ok := d.pools.Remove(p.Handle)
	if ok {
		for _, cb := range pool.buffers {
			d.cmdBuffers.Remove(cb.Handle)
		}
	}
	d.mu.Unlock()
	if ok {
		// Freeing the pool frees its command buffers.
		vk.DestroyCommandPool(d.logical, pool.handle, nil)
	}
}

func (d *Device) AllocateCommandBuffer(p rhi.CommandPool) (rhi.CommandBuffer, error) {
	d.mu.Lock()
	pool, ok := d.pools.Get(p.Handle)
	d.mu.Unlock()
	if !ok {
		return rhi.CommandBuffer{}, errors.Wrapf(core.ErrStaleHandle, "command pool %v", p.Handle)
	}
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool.handle,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vk.CommandBuffer, 1)
	if err := vk.Error(vk.AllocateCommandBuffers(d.logical, &info, buffers)); err != nil {
		return rhi.CommandBuffer{}, core.DeviceFatal("vkAllocateCommandBuffers", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cb := rhi.CommandBuffer{Handle: d.cmdBuffers.Insert(buffers[0])}
	pool.buffers = append(pool.buffers, cb)
	return cb, nil
}

func (d *Device) Begin(cb rhi.CommandBuffer) (rhi.CommandRecorder, error) {
	d.mu.Lock()
	handle, ok := d.cmdBuffers.Get(cb.Handle)
	d.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(core.ErrStaleHandle, "command buffer %v", cb.Handle)
	}
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if err := vk.Error(vk.BeginCommandBuffer(handle, &info)); err != nil {
		return nil, err
	}
	return &recorder{device: d, cb: handle}, nil
}

func (d *Device) Submit(info rhi.SubmitInfo) error {
	d.mu.Lock()
	cb, ok := d.cmdBuffers.Get(info.CommandBuffer.Handle)
	wait, waitOK := d.semaphores.Get(info.WaitSemaphore.Handle)
	signal, signalOK := d.semaphores.Get(info.SignalSemaphore.Handle)
	fence, fenceOK := d.fences.Get(info.Fence.Handle)
	d.mu.Unlock()
	if !ok || !waitOK || !signalOK || !fenceOK {
		return errors.Wrap(core.ErrStaleHandle, "submit references a destroyed object")
	}

	submit := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   1,
		PWaitSemaphores:      []vk.Semaphore{wait},
		PWaitDstStageMask:    []vk.PipelineStageFlags{vkStages(info.WaitStage)},
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{cb},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{signal},
	}
	return vk.Error(vk.QueueSubmit(d.graphicsQueue, 1, []vk.SubmitInfo{submit}, fence))
}

// recorder resolves rhi handles as commands are recorded. The first
// failure sticks and is reported by End.
type recorder struct {
	device *Device
	cb     vk.CommandBuffer
	area   vk.Extent2D
	err    error
}

func (r *recorder) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *recorder) BeginRenderPass(begin rhi.RenderPassBegin) {
	d := r.device
	d.mu.Lock()
	rp, rpOK := d.renderPasses.Get(begin.RenderPass.Handle)
	fb, fbOK := d.framebuffers.Get(begin.Framebuffer.Handle)
	d.mu.Unlock()
	if !rpOK || !fbOK {
		r.fail(errors.Wrap(core.ErrStaleHandle, "render pass or framebuffer"))
		return
	}
	clears := make([]vk.ClearValue, len(begin.ClearValues))
	for i, c := range begin.ClearValues {
		if c.IsDepth {
			clears[i] = vk.NewClearDepthStencil(c.Depth, c.Stencil)
		} else {
			clears[i] = vk.NewClearValue(c.Color[:])
		}
	}
	r.area = vkExtent(begin.Area)
	info := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      rp,
		Framebuffer:     fb,
		RenderArea:      vk.Rect2D{Extent: r.area},
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}
	vk.CmdBeginRenderPass(r.cb, &info, vk.SubpassContentsInline)
}

func (r *recorder) NextSubpass() {
	vk.CmdNextSubpass(r.cb, vk.SubpassContentsInline)
}

func (r *recorder) EndRenderPass() {
	vk.CmdEndRenderPass(r.cb)
}

func (r *recorder) pipeline(p rhi.Pipeline) (*pipeline, bool) {
	r.device.mu.Lock()
	defer r.device.mu.Unlock()
	pl, ok := r.device.pipelines.Get(p.Handle)
	if !ok {
		r.fail(errors.Wrapf(core.ErrStaleHandle, "pipeline %v", p.Handle))
	}
	return pl, ok
}

func (r *recorder) BindPipeline(p rhi.Pipeline) {
	if pl, ok := r.pipeline(p); ok {
		vk.CmdBindPipeline(r.cb, vk.PipelineBindPointGraphics, pl.handle)
	}
}

func (r *recorder) BindDescriptorSets(p rhi.Pipeline, firstSet uint32, sets []rhi.DescriptorSet, dynamicOffsets []uint32) {
	pl, ok := r.pipeline(p)
	if !ok {
		return
	}
	handles := make([]vk.DescriptorSet, len(sets))
	r.device.mu.Lock()
	for i, s := range sets {
		h, ok := r.device.sets.Get(s.Handle)
		if !ok {
			r.device.mu.Unlock()
			r.fail(errors.Wrapf(core.ErrStaleHandle, "descriptor set %v", s.Handle))
			return
		}
		handles[i] = h
	}
	r.device.mu.Unlock()
	vk.CmdBindDescriptorSets(r.cb, vk.PipelineBindPointGraphics, pl.layout, firstSet,
		uint32(len(handles)), handles, uint32(len(dynamicOffsets)), dynamicOffsets)
}

func (r *recorder) buffer(b rhi.Buffer) (vk.Buffer, bool) {
	r.device.mu.Lock()
	defer r.device.mu.Unlock()
	buf, ok := r.device.buffers.Get(b.Handle)
	if !ok {
		r.fail(errors.Wrapf(core.ErrStaleHandle, "buffer %v", b.Handle))
		return nil, false
	}
	return buf.handle, true
}

func (r *recorder) BindVertexBuffer(b rhi.Buffer, offset uint64) {
	if buf, ok := r.buffer(b); ok {
		vk.CmdBindVertexBuffers(r.cb, 0, 1, []vk.Buffer{buf}, []vk.DeviceSize{vk.DeviceSize(offset)})
	}
}

func (r *recorder) BindIndexBuffer(b rhi.Buffer, offset uint64) {
	if buf, ok := r.buffer(b); ok {
		vk.CmdBindIndexBuffer(r.cb, buf, vk.DeviceSize(offset), vk.IndexTypeUint32)
	}
}

// SetViewport flips Y so clip space matches the engine's Y-up convention.
func (r *recorder) SetViewport(e rhi.Extent) {
	vk.CmdSetViewport(r.cb, 0, 1, []vk.Viewport{{
		X:        0,
		Y:        float32(e.Height),
		Width:    float32(e.Width),
		Height:   -float32(e.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}})
}

func (r *recorder) SetScissor(e rhi.Extent) {
	vk.CmdSetScissor(r.cb, 0, 1, []vk.Rect2D{{Extent: vkExtent(e)}})
}

func (r *recorder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(r.cb, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (r *recorder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(r.cb, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (r *recorder) End() error {
	if err := vk.Error(vk.EndCommandBuffer(r.cb)); err != nil && r.err == nil {
		r.err = err
	}
	return r.err
}
