package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

func TestAccessShaderReadCoversInputAttachments(t *testing.T) {
	got := vkAccess(rhi.AccessShaderRead)
	want := vk.AccessFlags(vk.AccessShaderReadBit | vk.AccessInputAttachmentReadBit)
	if got != want {
		t.Errorf("got %#x, want %#x", got, want)
	}
	if got := vkAccess(rhi.AccessNone); got != 0 {
		t.Errorf("got %#x for no access, want 0", got)
	}
}

func TestStages(t *testing.T) {
	got := vkStages(rhi.StageEarlyFragmentTests | rhi.StageLateFragmentTests)
	want := vk.PipelineStageFlags(vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit)
	if got != want {
		t.Errorf("got %#x, want %#x", got, want)
	}
}

func TestFormatsRoundTrip(t *testing.T) {
	for r := range formats {
		if got := rhiFormat(vkFormat(r)); got != r {
			t.Errorf("format %s came back as %s", r, got)
		}
	}
	if got := rhiFormat(vk.FormatR8Unorm); got != rhi.FormatUndefined {
		t.Errorf("got %s for an unmapped format, want UNDEFINED", got)
	}
}

func TestChoosePresentMode(t *testing.T) {
	tests := []struct {
		name  string
		modes []vk.PresentMode
		vsync bool
		want  vk.PresentMode
	}{
		{"vsync", []vk.PresentMode{vk.PresentModeMailbox, vk.PresentModeFifo}, true, vk.PresentModeFifo},
		{"mailbox", []vk.PresentMode{vk.PresentModeFifo, vk.PresentModeMailbox}, false, vk.PresentModeMailbox},
		{"immediate", []vk.PresentMode{vk.PresentModeImmediate, vk.PresentModeFifo}, false, vk.PresentModeImmediate},
		{"fifo only", []vk.PresentMode{vk.PresentModeFifo}, false, vk.PresentModeFifo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := choosePresentMode(tt.modes, tt.vsync); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestChooseSurfaceFormat(t *testing.T) {
	formats := []vk.SurfaceFormat{
		{Format: vk.FormatR8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatR8g8b8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear},
		{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear},
	}
	if got := chooseSurfaceFormat(formats); got.Format != vk.FormatB8g8r8a8Unorm {
		t.Errorf("got %d, want B8G8R8A8_UNORM", got.Format)
	}
	if got := chooseSurfaceFormat(formats[:2]); got.Format != vk.FormatR8g8b8a8Srgb {
		t.Errorf("got %d, want the first known format", got.Format)
	}
}

func TestRepackUint32(t *testing.T) {
	got := repackUint32([]byte{0x03, 0x02, 0x23, 0x07, 1, 0, 0, 0})
	if len(got) != 2 || got[0] != 0x07230203 || got[1] != 1 {
		t.Errorf("got %#x, want [0x7230203 0x1]", got)
	}
}

func TestSafeString(t *testing.T) {
	if got := safeString("main"); got != "main\x00" {
		t.Errorf("got %q", got)
	}
	if got := safeString("main\x00"); got != "main\x00" {
		t.Errorf("got %q, want terminator kept once", got)
	}
}
