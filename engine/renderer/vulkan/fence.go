package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

func (d *Device) CreateFence(signaled bool) (rhi.Fence, error) {
	info := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var fence vk.Fence
	if err := vk.Error(vk.CreateFence(d.logical, &info, nil, &fence)); err != nil {
		return rhi.Fence{}, core.DeviceFatal("vkCreateFence", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return rhi.Fence{Handle: d.fences.Insert(fence)}, nil
}

func (d *Device) fence(f rhi.Fence) (vk.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fence, ok := d.fences.Get(f.Handle)
	if !ok {
		return nil, errors.Wrapf(core.ErrStaleHandle, "fence %v", f.Handle)
	}
	return fence, nil
}

func (d *Device) WaitForFence(f rhi.Fence) error {
	fence, err := d.fence(f)
	if err != nil {
		return err
	}
	return vk.Error(vk.WaitForFences(d.logical, 1, []vk.Fence{fence}, vk.True, vk.MaxUint64))
}

func (d *Device) FenceSignaled(f rhi.Fence) (bool, error) {
	fence, err := d.fence(f)
	if err != nil {
		return false, err
	}
	switch res := vk.GetFenceStatus(d.logical, fence); res {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, vk.Error(res)
	}
}

func (d *Device) ResetFence(f rhi.Fence) error {
	fence, err := d.fence(f)
	if err != nil {
		return err
	}
	return vk.Error(vk.ResetFences(d.logical, 1, []vk.Fence{fence}))
}

func (d *Device) DestroyFence(f rhi.Fence) {
	d.mu.Lock()
	fence, ok := d.fences.Remove(f.Handle)
	d.mu.Unlock()
	if ok {
		vk.DestroyFence(d.logical, fence, nil)
	}
}

func (d *Device) CreateSemaphore() (rhi.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var sem vk.Semaphore
	if err := vk.Error(vk.CreateSemaphore(d.logical, &info, nil, &sem)); err != nil {
		return rhi.Semaphore{}, core.DeviceFatal("vkCreateSemaphore", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return rhi.Semaphore{Handle: d.semaphores.Insert(sem)}, nil
}

func (d *Device) semaphore(s rhi.Semaphore) (vk.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sem, ok := d.semaphores.Get(s.Handle)
	if !ok {
		return nil, errors.Wrapf(core.ErrStaleHandle, "semaphore %v", s.Handle)
	}
	return sem, nil
}

func (d *Device) DestroySemaphore(s rhi.Semaphore) {
	d.mu.Lock()
	sem, ok := d.semaphores.Remove(s.Handle)
	d.mu.Unlock()
	if ok {
		vk.DestroySemaphore(d.logical, sem, nil)
	}
}
