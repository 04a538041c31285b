package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

func (d *Device) allocate(reqs vk.MemoryRequirements, flags vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	reqs.Deref()
	index := d.findMemoryIndex(reqs.MemoryTypeBits, flags)
	if index < 0 {
		return nil, core.DeviceFatal("findMemoryIndex", errors.Newf("no memory type with properties %#x", uint32(flags)))
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if err := vk.Error(vk.AllocateMemory(d.logical, &info, nil, &memory)); err != nil {
		return nil, core.DeviceFatal("vkAllocateMemory", err)
	}
	return memory, nil
}

// CreateBuffer allocates device local memory, or host visible coherent
// memory mapped for the buffer's lifetime.
func (d *Device) CreateBuffer(desc rhi.BufferDesc) (rhi.Buffer, error) {
	if desc.Size == 0 {
		return rhi.Buffer{}, core.ConfigurationErrorf("buffer %q has zero size", desc.Name)
	}
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       vkBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	b := &buffer{desc: desc}
	if err := vk.Error(vk.CreateBuffer(d.logical, &info, nil, &b.handle)); err != nil {
		return rhi.Buffer{}, core.DeviceFatal("vkCreateBuffer", err)
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.logical, b.handle, &reqs)
	flags := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if desc.HostVisible {
		flags = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	memory, err := d.allocate(reqs, flags)
	if err != nil {
		vk.DestroyBuffer(d.logical, b.handle, nil)
		return rhi.Buffer{}, err
	}
	b.memory = memory
	if err := vk.Error(vk.BindBufferMemory(d.logical, b.handle, b.memory, 0)); err != nil {
		d.releaseBuffer(b)
		return rhi.Buffer{}, core.DeviceFatal("vkBindBufferMemory", err)
	}
	if desc.HostVisible {
		var ptr unsafe.Pointer
		if err := vk.Error(vk.MapMemory(d.logical, b.memory, 0, vk.DeviceSize(desc.Size), 0, &ptr)); err != nil {
			d.releaseBuffer(b)
			return rhi.Buffer{}, core.DeviceFatal("vkMapMemory", err)
		}
		b.mapped = unsafe.Slice((*byte)(ptr), desc.Size)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	core.LogDebug("Buffer %q created, %d bytes.", desc.Name, desc.Size)
	return rhi.Buffer{Handle: d.buffers.Insert(b)}, nil
}

func (d *Device) MappedBytes(b rhi.Buffer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers.Get(b.Handle)
	if !ok {
		return nil, errors.Wrapf(core.ErrStaleHandle, "buffer %v", b.Handle)
	}
	if buf.mapped == nil {
		return nil, core.ConfigurationErrorf("buffer %q is not host visible", buf.desc.Name)
	}
	return buf.mapped, nil
}

func (d *Device) releaseBuffer(b *buffer) {
	if b.mapped != nil {
		vk.UnmapMemory(d.logical, b.memory)
		b.mapped = nil
	}
	vk.DestroyBuffer(d.logical, b.handle, nil)
	if b.memory != nil {
		vk.FreeMemory(d.logical, b.memory, nil)
	}
}

func (d *Device) DestroyBuffer(b rhi.Buffer) {
	d.mu.Lock()
	buf, ok := d.buffers.Remove(b.Handle)
	d.mu.Unlock()
	if ok {
		d.releaseBuffer(buf)
	}
}
