package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != 0 {
		return s + "\x00"
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = safeString(s)
	}
	return out
}

var formats = map[rhi.Format]vk.Format{
	rhi.FormatUndefined:              vk.FormatUndefined,
	rhi.FormatB8G8R8A8Unorm:          vk.FormatB8g8r8a8Unorm,
	rhi.FormatB8G8R8A8Srgb:           vk.FormatB8g8r8a8Srgb,
	rhi.FormatR8G8B8A8Unorm:          vk.FormatR8g8b8a8Unorm,
	rhi.FormatR8G8B8A8Srgb:           vk.FormatR8g8b8a8Srgb,
	rhi.FormatR16G16B16A16Sfloat:     vk.FormatR16g16b16a16Sfloat,
	rhi.FormatA2B10G10R10UnormPack32: vk.FormatA2b10g10r10UnormPack32,
	rhi.FormatD32Sfloat:              vk.FormatD32Sfloat,
	rhi.FormatD24UnormS8Uint:         vk.FormatD24UnormS8Uint,
	rhi.FormatD32SfloatS8Uint:        vk.FormatD32SfloatS8Uint,
}

func vkFormat(f rhi.Format) vk.Format {
	return formats[f]
}

func rhiFormat(f vk.Format) rhi.Format {
	for r, v := range formats {
		if v == f {
			return r
		}
	}
	return rhi.FormatUndefined
}

func vkLayout(l rhi.ImageLayout) vk.ImageLayout {
	switch l {
	case rhi.LayoutColorAttachment:
		return vk.ImageLayoutColorAttachmentOptimal
	case rhi.LayoutDepthStencilAttachment:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case rhi.LayoutDepthStencilReadOnly:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case rhi.LayoutShaderReadOnly:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case rhi.LayoutPresentSrc:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

func vkLoadOp(op rhi.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case rhi.LoadOpClear:
		return vk.AttachmentLoadOpClear
	case rhi.LoadOpLoad:
		return vk.AttachmentLoadOpLoad
	}
	return vk.AttachmentLoadOpDontCare
}

func vkStoreOp(op rhi.StoreOp) vk.AttachmentStoreOp {
	if op == rhi.StoreOpStore {
		return vk.AttachmentStoreOpStore
	}
	return vk.AttachmentStoreOpDontCare
}

func vkSamples(n uint32) vk.SampleCountFlagBits {
	if n <= 1 {
		return vk.SampleCount1Bit
	}
	return vk.SampleCountFlagBits(n)
}

func vkStages(s rhi.PipelineStage) vk.PipelineStageFlags {
	var out vk.PipelineStageFlagBits
	pairs := []struct {
		r rhi.PipelineStage
		v vk.PipelineStageFlagBits
	}{
		{rhi.StageTopOfPipe, vk.PipelineStageTopOfPipeBit},
		{rhi.StageVertexShader, vk.PipelineStageVertexShaderBit},
		{rhi.StageEarlyFragmentTests, vk.PipelineStageEarlyFragmentTestsBit},
		{rhi.StageFragmentShader, vk.PipelineStageFragmentShaderBit},
		{rhi.StageLateFragmentTests, vk.PipelineStageLateFragmentTestsBit},
		{rhi.StageColorAttachmentOutput, vk.PipelineStageColorAttachmentOutputBit},
		{rhi.StageBottomOfPipe, vk.PipelineStageBottomOfPipeBit},
	}
	for _, p := range pairs {
		if s&p.r != 0 {
			out |= p.v
		}
	}
	return vk.PipelineStageFlags(out)
}

// vkAccess maps access masks. A shader read inside a render pass is an
// input attachment read, so AccessShaderRead covers both.
func vkAccess(a rhi.Access) vk.AccessFlags {
	var out vk.AccessFlagBits
	pairs := []struct {
		r rhi.Access
		v vk.AccessFlagBits
	}{
		{rhi.AccessShaderRead, vk.AccessShaderReadBit | vk.AccessInputAttachmentReadBit},
		{rhi.AccessShaderWrite, vk.AccessShaderWriteBit},
		{rhi.AccessColorAttachmentRead, vk.AccessColorAttachmentReadBit},
		{rhi.AccessColorAttachmentWrite, vk.AccessColorAttachmentWriteBit},
		{rhi.AccessInputAttachmentRead, vk.AccessInputAttachmentReadBit},
		{rhi.AccessDepthStencilRead, vk.AccessDepthStencilAttachmentReadBit},
		{rhi.AccessDepthStencilWrite, vk.AccessDepthStencilAttachmentWriteBit},
	}
	for _, p := range pairs {
		if a&p.r != 0 {
			out |= p.v
		}
	}
	return vk.AccessFlags(out)
}

func vkImageUsage(u rhi.ImageUsage) vk.ImageUsageFlags {
	var out vk.ImageUsageFlagBits
	if u&rhi.UsageColorAttachment != 0 {
		out |= vk.ImageUsageColorAttachmentBit
	}
	if u&rhi.UsageDepthStencilAttachment != 0 {
		out |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if u&rhi.UsageInputAttachment != 0 {
		out |= vk.ImageUsageInputAttachmentBit
	}
	if u&rhi.UsageTransientAttachment != 0 {
		out |= vk.ImageUsageTransientAttachmentBit
	}
	if u&rhi.UsageSampled != 0 {
		out |= vk.ImageUsageSampledBit
	}
	return vk.ImageUsageFlags(out)
}

func vkBufferUsage(u rhi.BufferUsage) vk.BufferUsageFlags {
	var out vk.BufferUsageFlagBits
	if u&rhi.BufferUsageUniform != 0 {
		out |= vk.BufferUsageUniformBufferBit
	}
	if u&rhi.BufferUsageStorage != 0 {
		out |= vk.BufferUsageStorageBufferBit
	}
	if u&rhi.BufferUsageVertex != 0 {
		out |= vk.BufferUsageVertexBufferBit
	}
	if u&rhi.BufferUsageIndex != 0 {
		out |= vk.BufferUsageIndexBufferBit
	}
	if u&rhi.BufferUsageTransferDst != 0 {
		out |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(out)
}

func vkShaderStages(s rhi.ShaderStage) vk.ShaderStageFlags {
	var out vk.ShaderStageFlagBits
	if s&rhi.ShaderStageVertex != 0 {
		out |= vk.ShaderStageVertexBit
	}
	if s&rhi.ShaderStageFragment != 0 {
		out |= vk.ShaderStageFragmentBit
	}
	return vk.ShaderStageFlags(out)
}

func vkDescriptorType(t rhi.DescriptorType) vk.DescriptorType {
	switch t {
	case rhi.DescriptorUniformBufferDynamic:
		return vk.DescriptorTypeUniformBufferDynamic
	case rhi.DescriptorStorageBufferDynamic:
		return vk.DescriptorTypeStorageBufferDynamic
	case rhi.DescriptorInputAttachment:
		return vk.DescriptorTypeInputAttachment
	case rhi.DescriptorCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler
	}
	return vk.DescriptorTypeUniformBuffer
}

func vkCullMode(c rhi.CullMode) vk.CullModeFlags {
	switch c {
	case rhi.CullBack:
		return vk.CullModeFlags(vk.CullModeBackBit)
	case rhi.CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	}
	return vk.CullModeFlags(vk.CullModeNone)
}

func vkVertexFormat(f rhi.VertexFormat) vk.Format {
	switch f {
	case rhi.VertexFloat2:
		return vk.FormatR32g32Sfloat
	case rhi.VertexFloat3:
		return vk.FormatR32g32b32Sfloat
	case rhi.VertexFloat4:
		return vk.FormatR32g32b32a32Sfloat
	case rhi.VertexUShort4:
		return vk.FormatR16g16b16a16Uint
	}
	return vk.FormatUndefined
}

func vkExtent(e rhi.Extent) vk.Extent2D {
	return vk.Extent2D{Width: e.Width, Height: e.Height}
}

// resultName names the results the backend reports on.
func resultName(r vk.Result) string {
	switch r {
	case vk.Success:
		return "VK_SUCCESS"
	case vk.NotReady:
		return "VK_NOT_READY"
	case vk.Timeout:
		return "VK_TIMEOUT"
	case vk.Suboptimal:
		return "VK_SUBOPTIMAL_KHR"
	case vk.ErrorOutOfHostMemory:
		return "VK_ERROR_OUT_OF_HOST_MEMORY"
	case vk.ErrorOutOfDeviceMemory:
		return "VK_ERROR_OUT_OF_DEVICE_MEMORY"
	case vk.ErrorInitializationFailed:
		return "VK_ERROR_INITIALIZATION_FAILED"
	case vk.ErrorDeviceLost:
		return "VK_ERROR_DEVICE_LOST"
	case vk.ErrorMemoryMapFailed:
		return "VK_ERROR_MEMORY_MAP_FAILED"
	case vk.ErrorSurfaceLost:
		return "VK_ERROR_SURFACE_LOST_KHR"
	case vk.ErrorOutOfDate:
		return "VK_ERROR_OUT_OF_DATE_KHR"
	case vk.ErrorOutOfPoolMemory:
		return "VK_ERROR_OUT_OF_POOL_MEMORY"
	case vk.ErrorFragmentedPool:
		return "VK_ERROR_FRAGMENTED_POOL"
	}
	return fmt.Sprintf("VkResult(%d)", int32(r))
}
