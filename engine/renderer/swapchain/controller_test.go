package swapchain

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/frame"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi/headless"
)

// twoTarget renders into the swapchain image plus one offscreen color target.
type twoTarget struct {
	device   rhi.Device
	pass     rhi.RenderPass
	format   rhi.Format
	compiles int
}

func (t *twoTarget) AttachmentSpecs(format rhi.Format) []AttachmentSpec {
	return []AttachmentSpec{
		{Name: "swapchain", Format: format, Usage: rhi.UsageColorAttachment, Samples: 1, Presentable: true},
		{Name: "scratch", Format: rhi.FormatR16G16B16A16Sfloat, Usage: rhi.UsageColorAttachment | rhi.UsageInputAttachment, Samples: 1},
	}
}

func (t *twoTarget) RenderPassFor(format rhi.Format) (rhi.RenderPass, error) {
	if t.pass.IsValid() && t.format == format {
		return t.pass, nil
	}
	rp, err := t.device.CreateRenderPass(rhi.RenderPassDesc{
		Name: "test",
		Attachments: []rhi.AttachmentDesc{
			{Name: "swapchain", Format: format},
			{Name: "scratch", Format: rhi.FormatR16G16B16A16Sfloat},
		},
		Subpasses: []rhi.SubpassDesc{{Name: "only", Colors: []rhi.AttachmentRef{{Attachment: 0}}}},
	})
	if err != nil {
		return rhi.RenderPass{}, err
	}
	t.pass, t.format = rp, format
	t.compiles++
	return rp, nil
}

type countingListener struct {
	released  int
	recreated []RecreateInfo
}

func (l *countingListener) OnSwapchainReleased() { l.released++ }

func (l *countingListener) OnSwapchainRecreated(info RecreateInfo) error {
	l.recreated = append(l.recreated, info)
	return nil
}

type fixture struct {
	t      *testing.T
	window *headless.Window
	device *headless.Device
	frames *frame.Synchronizer
	target *twoTarget
	ctrl   *Controller
}

func newFixture(t *testing.T, opts headless.Options) *fixture {
	t.Helper()
	window := headless.NewWindow(1920, 1080)
	dev := headless.NewDevice(window, rhi.DeviceConfig{}, opts)
	frames, err := frame.New(dev, 3)
	if err != nil {
		t.Fatalf("frame.New failed: %v", err)
	}
	target := &twoTarget{device: dev}
	ctrl, err := New(dev, frames, target, Config{Extent: rhi.Extent{Width: 1920, Height: 1080}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() {
		_ = frames.WaitIdle()
		ctrl.Destroy()
		frames.Destroy()
		dev.DestroyRenderPass(target.pass)
		dev.Destroy()
	})
	return &fixture{t: t, window: window, device: dev, frames: frames, target: target, ctrl: ctrl}
}

// renderEmpty runs a frame that only begins and ends the render pass.
func (f *fixture) renderEmpty() bool {
	f.t.Helper()
	slot, err := f.frames.BeginFrame()
	if err != nil {
		f.t.Fatalf("BeginFrame failed: %v", err)
	}
	idx, ok, err := f.ctrl.AcquireNext(slot)
	if err != nil {
		f.t.Fatalf("AcquireNext failed: %v", err)
	}
	if !ok {
		f.frames.Cancel(slot)
		return false
	}
	rec, err := f.device.Begin(slot.CommandBuffer)
	if err != nil {
		f.t.Fatalf("Begin failed: %v", err)
	}
	rec.BeginRenderPass(rhi.RenderPassBegin{
		RenderPass:  f.ctrl.RenderPass(),
		Framebuffer: f.ctrl.Framebuffer(idx),
		Area:        f.ctrl.Extent(),
		ClearValues: []rhi.ClearValue{rhi.ClearColor(0, 0, 0, 1), rhi.ClearColor(0, 0, 0, 0)},
	})
	rec.EndRenderPass()
	if err := rec.End(); err != nil {
		f.t.Fatalf("End failed: %v", err)
	}
	if err := f.frames.EndFrame(slot, frame.Submission{}); err != nil {
		f.t.Fatalf("EndFrame failed: %v", err)
	}
	if err := f.ctrl.Present(slot, idx); err != nil {
		f.t.Fatalf("Present failed: %v", err)
	}
	return true
}

func TestNewBuildsAttachmentsAndFramebuffers(t *testing.T) {
	f := newFixture(t, headless.DefaultOptions())
	st := f.device.Stats()
	if st.Images != 1 {
		t.Errorf("%d offscreen images, want 1", st.Images)
	}
	if st.Framebuffers != 3 || f.ctrl.ImageCount() != 3 {
		t.Errorf("%d framebuffers for %d images, want 3", st.Framebuffers, f.ctrl.ImageCount())
	}
	if f.ctrl.Attachment(0).IsValid() {
		t.Error("presentable attachment should not be an owned image")
	}
	desc, ok := f.device.ImageDesc(f.ctrl.Attachment(1))
	if !ok {
		t.Fatal("scratch attachment does not exist")
	}
	if desc.Extent != (rhi.Extent{Width: 1920, Height: 1080}) {
		t.Errorf("scratch extent = %s, want 1920x1080", desc.Extent)
	}
	if len(desc.Name) <= len("scratch-") || desc.Name[:8] != "scratch-" {
		t.Errorf("scratch image name %q lacks its unique suffix", desc.Name)
	}
}

func TestRecreateIsIdempotent(t *testing.T) {
	f := newFixture(t, headless.DefaultOptions())
	before := f.device.Stats()
	for i := 0; i < 2; i++ {
		if err := f.ctrl.Recreate(); err != nil {
			t.Fatalf("Recreate %d failed: %v", i, err)
		}
	}
	after := f.device.Stats()
	if after != before {
		t.Errorf("resources after two recreates = %+v, want %+v", after, before)
	}
	if f.ctrl.Extent() != (rhi.Extent{Width: 1920, Height: 1080}) {
		t.Errorf("extent = %s, want 1920x1080", f.ctrl.Extent())
	}
	if f.ctrl.Generation() != 3 {
		t.Errorf("generation = %d, want 3", f.ctrl.Generation())
	}
	if !f.ctrl.Presentable() || !f.renderEmpty() {
		t.Error("controller is not presentable after recreation")
	}
	if f.target.compiles != 1 {
		t.Errorf("render pass compiled %d times for an unchanged format", f.target.compiles)
	}
}

func TestOutOfDateAcquireSkipsAndRecreates(t *testing.T) {
	f := newFixture(t, headless.DefaultOptions())
	l := &countingListener{}
	if err := f.ctrl.AddListener(l); err != nil {
		t.Fatalf("AddListener failed: %v", err)
	}
	if len(l.recreated) != 1 {
		t.Fatalf("listener not bootstrapped: %d calls", len(l.recreated))
	}

	f.window.SetSize(1280, 720)
	if f.renderEmpty() {
		t.Fatal("frame rendered against a stale swapchain")
	}
	if f.frames.Index() != 0 {
		t.Errorf("skipped frame advanced the slot index to %d", f.frames.Index())
	}
	if cause := f.ctrl.RecreateCause(); !errors.Is(cause, core.ErrSwapchainOutOfDate) || !core.IsTransient(cause) {
		t.Errorf("RecreateCause() = %v, want out of date", cause)
	}
	if l.released != 1 || len(l.recreated) != 2 {
		t.Errorf("listener saw %d releases and %d recreations, want 1 and 2", l.released, len(l.recreated))
	}
	if got := l.recreated[1].Extent; got != (rhi.Extent{Width: 1280, Height: 720}) {
		t.Errorf("recreated extent = %s, want 1280x720", got)
	}
	if !f.renderEmpty() {
		t.Error("frame after recreation was skipped")
	}
	if n := len(f.device.Presents()); n != 1 {
		t.Errorf("%d presents, want 1", n)
	}
	if v := f.device.Violations(); len(v) != 0 {
		t.Errorf("validation violations: %v", v)
	}
}

func TestSuboptimalAcquirePresentsThenRecreates(t *testing.T) {
	f := newFixture(t, headless.DefaultOptions())
	f.device.InjectAcquireStatus(rhi.StatusSuboptimal)
	gen := f.ctrl.Generation()
	if !f.renderEmpty() {
		t.Fatal("suboptimal frame should still render")
	}
	if n := len(f.device.Presents()); n != 1 {
		t.Errorf("%d presents, want 1", n)
	}
	if f.ctrl.Generation() != gen+1 {
		t.Errorf("generation = %d, want %d after present", f.ctrl.Generation(), gen+1)
	}
	if f.frames.Index() != 1 {
		t.Errorf("slot index = %d, want 1", f.frames.Index())
	}
	if cause := f.ctrl.RecreateCause(); !errors.Is(cause, core.ErrSwapchainSuboptimal) {
		t.Errorf("RecreateCause() = %v, want suboptimal", cause)
	}
	f.window.SetSize(800, 600)
	if err := f.ctrl.Resize(rhi.Extent{Width: 800, Height: 600}); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if cause := f.ctrl.RecreateCause(); cause != nil {
		t.Errorf("RecreateCause() after Resize = %v, want nil", cause)
	}
}

func TestOutOfDatePresentRecreates(t *testing.T) {
	f := newFixture(t, headless.DefaultOptions())
	f.device.InjectPresentStatus(rhi.StatusOutOfDate)
	gen := f.ctrl.Generation()
	if !f.renderEmpty() {
		t.Fatal("frame was skipped")
	}
	if f.ctrl.Generation() != gen+1 {
		t.Errorf("generation = %d, want %d", f.ctrl.Generation(), gen+1)
	}
	if cause := f.ctrl.RecreateCause(); !errors.Is(cause, core.ErrSwapchainOutOfDate) {
		t.Errorf("RecreateCause() = %v, want out of date", cause)
	}
}

func TestResizeDoesNotLeak(t *testing.T) {
	f := newFixture(t, headless.DefaultOptions())
	f.renderEmpty()
	before := f.device.Stats()

	f.window.SetSize(800, 600)
	if err := f.ctrl.Resize(rhi.Extent{Width: 800, Height: 600}); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if !f.renderEmpty() {
		t.Fatal("frame after resize was skipped")
	}
	after := f.device.Stats()
	if after.Images != before.Images || after.Framebuffers != before.Framebuffers || after.SwapchainImages != before.SwapchainImages {
		t.Errorf("resources after resize = %+v, before = %+v", after, before)
	}
	desc, _ := f.device.ImageDesc(f.ctrl.Attachment(1))
	if desc.Extent != (rhi.Extent{Width: 800, Height: 600}) {
		t.Errorf("attachment extent = %s, want 800x600", desc.Extent)
	}
	presents := f.device.Presents()
	if last := presents[len(presents)-1]; last.Extent != (rhi.Extent{Width: 800, Height: 600}) {
		t.Errorf("last present at %s, want 800x600", last.Extent)
	}
}

func TestZeroSizeSuspends(t *testing.T) {
	f := newFixture(t, headless.DefaultOptions())
	f.window.SetSize(0, 0)
	if err := f.ctrl.Resize(rhi.Extent{}); err != nil {
		t.Fatalf("Resize(0x0) failed: %v", err)
	}
	if f.ctrl.Presentable() {
		t.Error("controller should be suspended")
	}
	if f.renderEmpty() {
		t.Error("frame rendered while suspended")
	}
	f.window.SetSize(640, 480)
	if err := f.ctrl.Resize(rhi.Extent{Width: 640, Height: 480}); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if !f.renderEmpty() {
		t.Error("frame skipped after resuming")
	}
}
