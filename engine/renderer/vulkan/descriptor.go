package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

// descriptorsPerSet sizes the pool: every set may hold this many
// descriptors of each type.
const descriptorsPerSet = 4

func (d *Device) createDescriptorPool() error {
	sets := d.config.DescriptorPoolSets
	if sets == 0 {
		sets = 256
	}
	types := []vk.DescriptorType{
		vk.DescriptorTypeUniformBuffer,
		vk.DescriptorTypeUniformBufferDynamic,
		vk.DescriptorTypeStorageBufferDynamic,
		vk.DescriptorTypeInputAttachment,
		vk.DescriptorTypeCombinedImageSampler,
	}
	sizes := make([]vk.DescriptorPoolSize, len(types))
	for i, t := range types {
		sizes[i] = vk.DescriptorPoolSize{Type: t, DescriptorCount: sets * descriptorsPerSet}
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit),
		MaxSets:       sets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	if err := vk.Error(vk.CreateDescriptorPool(d.logical, &info, nil, &pool)); err != nil {
		return core.DeviceFatal("vkCreateDescriptorPool", err)
	}
	d.descriptorPool = pool
	return nil
}

// createSampler makes the linear sampler every combined image sampler uses.
func (d *Device) createSampler() error {
	info := vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    vk.FilterLinear,
		MinFilter:    vk.FilterLinear,
		MipmapMode:   vk.SamplerMipmapModeLinear,
		AddressModeU: vk.SamplerAddressModeRepeat,
		AddressModeV: vk.SamplerAddressModeRepeat,
		AddressModeW: vk.SamplerAddressModeRepeat,
		MaxLod:       1,
		BorderColor:  vk.BorderColorIntOpaqueBlack,
	}
	var sampler vk.Sampler
	if err := vk.Error(vk.CreateSampler(d.logical, &info, nil, &sampler)); err != nil {
		return core.DeviceFatal("vkCreateSampler", err)
	}
	d.sampler = sampler
	return nil
}

func (d *Device) CreateDescriptorSetLayout(bindings []rhi.DescriptorBinding) (rhi.DescriptorSetLayout, error) {
	vkBindings := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		vkBindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vkDescriptorType(b.Type),
			DescriptorCount: count,
			StageFlags:      vkShaderStages(b.Stages),
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	var layout vk.DescriptorSetLayout
	if err := vk.Error(vk.CreateDescriptorSetLayout(d.logical, &info, nil, &layout)); err != nil {
		return rhi.DescriptorSetLayout{}, core.DeviceFatal("vkCreateDescriptorSetLayout", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	l := &setLayout{handle: layout, bindings: append([]rhi.DescriptorBinding(nil), bindings...)}
	return rhi.DescriptorSetLayout{Handle: d.setLayouts.Insert(l)}, nil
}

func (d *Device) DestroyDescriptorSetLayout(l rhi.DescriptorSetLayout) {
	d.mu.Lock()
	layout, ok := d.setLayouts.Remove(l.Handle)
	d.mu.Unlock()
	if ok {
		vk.DestroyDescriptorSetLayout(d.logical, layout.handle, nil)
	}
}

func (d *Device) AllocateDescriptorSet(l rhi.DescriptorSetLayout) (rhi.DescriptorSet, error) {
	d.mu.Lock()
	layout, ok := d.setLayouts.Get(l.Handle)
	d.mu.Unlock()
	if !ok {
		return rhi.DescriptorSet{}, errors.Wrapf(core.ErrStaleHandle, "descriptor set layout %v", l.Handle)
	}
	info := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     d.descriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout.handle},
	}
	var set vk.DescriptorSet
	switch res := vk.AllocateDescriptorSets(d.logical, &info, &set); res {
	case vk.Success:
	case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
		return rhi.DescriptorSet{}, core.ConfigurationErrorf("descriptor pool exhausted (%s), raise renderer.descriptor_pool_sets", resultName(res))
	default:
		return rhi.DescriptorSet{}, core.DeviceFatal("vkAllocateDescriptorSets", vk.Error(res))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return rhi.DescriptorSet{Handle: d.sets.Insert(set)}, nil
}

func (d *Device) FreeDescriptorSet(s rhi.DescriptorSet) {
	d.mu.Lock()
	set, ok := d.sets.Remove(s.Handle)
	d.mu.Unlock()
	if ok {
		vk.FreeDescriptorSets(d.logical, d.descriptorPool, 1, &set)
	}
}

func (d *Device) UpdateDescriptorSet(s rhi.DescriptorSet, writes []rhi.DescriptorWrite) error {
	d.mu.Lock()
	set, ok := d.sets.Get(s.Handle)
	d.mu.Unlock()
	if !ok {
		return errors.Wrapf(core.ErrStaleHandle, "descriptor set %v", s.Handle)
	}

	vkWrites := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          set,
			DstBinding:      w.Binding,
			DescriptorCount: 1,
			DescriptorType:  vkDescriptorType(w.Type),
		}
		switch w.Type {
		case rhi.DescriptorInputAttachment, rhi.DescriptorCombinedImageSampler:
			view, err := d.imageView(w.Image)
			if err != nil {
				return errors.Wrapf(err, "binding %d", w.Binding)
			}
			info := vk.DescriptorImageInfo{ImageView: view, ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal}
			if w.Type == rhi.DescriptorCombinedImageSampler {
				info.Sampler = d.sampler
			}
			write.PImageInfo = []vk.DescriptorImageInfo{info}
		default:
			d.mu.Lock()
			buf, ok := d.buffers.Get(w.Buffer.Handle)
			d.mu.Unlock()
			if !ok {
				return errors.Wrapf(core.ErrStaleHandle, "binding %d buffer %v", w.Binding, w.Buffer.Handle)
			}
			size := vk.DeviceSize(w.Range)
			if size == 0 {
				size = vk.DeviceSize(vk.WholeSize)
			}
			write.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: buf.handle,
				Offset: vk.DeviceSize(w.Offset),
				Range:  size,
			}}
		}
		vkWrites = append(vkWrites, write)
	}
	vk.UpdateDescriptorSets(d.logical, uint32(len(vkWrites)), vkWrites, 0, nil)
	return nil
}
