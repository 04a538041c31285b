package graph

import (
	"strings"
	"testing"

	"github.com/spaghettifunk/lumen/engine/renderer/frame"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi/headless"
	"github.com/spaghettifunk/lumen/engine/renderer/ring"
	"github.com/spaghettifunk/lumen/engine/renderer/swapchain"
)

func TestDefaultLayoutDependencies(t *testing.T) {
	l, err := DefaultLayout(rhi.FormatD32Sfloat)
	if err != nil {
		t.Fatalf("DefaultLayout failed: %v", err)
	}
	if len(l.Dependencies) != SubpassCount {
		t.Fatalf("%d dependencies, want %d", len(l.Dependencies), SubpassCount)
	}

	first := l.Dependencies[0]
	if first.Src != rhi.SubpassExternal || first.Dst != uint32(GBuffer) {
		t.Errorf("first edge %d->%d, want external->GBuffer", first.Src, first.Dst)
	}
	if first.SrcStage != rhi.StageColorAttachmentOutput || first.DstStage != rhi.StageColorAttachmentOutput {
		t.Errorf("first edge stages %b->%b, want color attachment output", first.SrcStage, first.DstStage)
	}
	if first.SrcAccess != rhi.AccessNone || first.DstAccess != rhi.AccessNone || first.ByRegion {
		t.Errorf("first edge should be a pure ordering barrier, got %+v", first)
	}

	stages := rhi.StageFragmentShader | rhi.StageColorAttachmentOutput
	for i, d := range l.Dependencies[1:] {
		if d.Src != uint32(i) || d.Dst != uint32(i+1) {
			t.Errorf("edge %d is %d->%d", i, d.Src, d.Dst)
		}
		if d.SrcStage != stages || d.DstStage != stages {
			t.Errorf("edge %s->%s stages %b->%b", SubpassID(d.Src), SubpassID(d.Dst), d.SrcStage, d.DstStage)
		}
		if d.SrcAccess != rhi.AccessShaderWrite|rhi.AccessColorAttachmentWrite {
			t.Errorf("edge %s->%s src access %b", SubpassID(d.Src), SubpassID(d.Dst), d.SrcAccess)
		}
		if d.DstAccess != rhi.AccessShaderRead|rhi.AccessColorAttachmentRead {
			t.Errorf("edge %s->%s dst access %b", SubpassID(d.Src), SubpassID(d.Dst), d.DstAccess)
		}
		if !d.ByRegion {
			t.Errorf("edge %s->%s is not by-region", SubpassID(d.Src), SubpassID(d.Dst))
		}
	}
}

func TestDefaultLayoutPreserves(t *testing.T) {
	l, err := DefaultLayout(rhi.FormatD24UnormS8Uint)
	if err != nil {
		t.Fatalf("DefaultLayout failed: %v", err)
	}
	for _, sp := range l.Subpasses {
		want := 0
		if sp.ID == UIOverlay {
			want = 1
		}
		if len(sp.Preserve) != want {
			t.Errorf("subpass %s preserves %v", sp.ID, sp.Preserve)
		}
	}
	if p := l.Subpasses[UIOverlay].Preserve; len(p) == 1 && p[0] != AttachmentGraded {
		t.Errorf("UIOverlay preserves %d, want graded", p[0])
	}
}

func TestDefaultLayoutRejectsColorDepth(t *testing.T) {
	if _, err := DefaultLayout(rhi.FormatR8G8B8A8Unorm); err == nil {
		t.Error("expected an error for a color depth format")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(l *Layout)
		want   string
	}{
		{"input before write", func(l *Layout) {
			l.Subpasses[GBuffer].Colors = []AttachmentID{AttachmentAlbedo, AttachmentNormal}
			l.Subpasses[ForwardLighting].Colors = []AttachmentID{AttachmentHDR, AttachmentMaterial}
		}, "before any subpass writes"},
		{"read and write", func(l *Layout) {
			l.Subpasses[ToneMapping].Colors = []AttachmentID{AttachmentHDR}
		}, "reads and writes"},
		{"no swapchain write", func(l *Layout) {
			l.Subpasses[CombineUI].Colors = []AttachmentID{AttachmentHDR}
		}, "does not write the swapchain"},
		{"color as depth", func(l *Layout) {
			l.Subpasses[ForwardLighting].Depth = AttachmentHDR
		}, "as depth"},
		{"out of range", func(l *Layout) {
			l.Subpasses[UIOverlay].Colors = []AttachmentID{AttachmentCount}
		}, "references attachment"},
		{"reordered", func(l *Layout) {
			l.Subpasses[0], l.Subpasses[1] = l.Subpasses[1], l.Subpasses[0]
		}, "declared at position"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := DefaultLayout(rhi.FormatD32Sfloat)
			if err != nil {
				t.Fatalf("DefaultLayout failed: %v", err)
			}
			tt.mutate(l)
			err = l.Validate()
			if err == nil {
				t.Fatal("expected Validate to fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	l, _ := DefaultLayout(rhi.FormatD32Sfloat)
	desc := l.Describe(rhi.FormatB8G8R8A8Srgb)
	if len(desc.Attachments) != AttachmentCount || len(desc.Subpasses) != SubpassCount {
		t.Fatalf("%d attachments and %d subpasses", len(desc.Attachments), len(desc.Subpasses))
	}
	if got := desc.Attachments[AttachmentSwapchain]; got.Format != rhi.FormatB8G8R8A8Srgb || got.FinalLayout != rhi.LayoutPresentSrc {
		t.Errorf("swapchain attachment = %+v", got)
	}
	fwd := desc.Subpasses[ForwardLighting]
	if fwd.Depth == nil || fwd.Depth.Layout != rhi.LayoutDepthStencilReadOnly {
		t.Errorf("forward depth ref = %+v, want read-only", fwd.Depth)
	}
	light := desc.Subpasses[DeferredLighting]
	if len(light.Inputs) != 4 || light.Inputs[3].Attachment != uint32(AttachmentDepth) || light.Depth != nil {
		t.Errorf("lighting subpass = %+v", light)
	}
	if n := len(l.ClearValues()); n != AttachmentCount {
		t.Errorf("%d clear values, want %d", n, AttachmentCount)
	}
	if !l.ClearValues()[AttachmentDepth].IsDepth {
		t.Error("depth clear value is not a depth clear")
	}
}

// drawExecutor binds its own pipeline and draws a fullscreen triangle.
type drawExecutor struct {
	id       SubpassID
	pipeline rhi.Pipeline
	runs     int
	alloc    uint64
}

func (e *drawExecutor) Subpass() SubpassID { return e.id }

func (e *drawExecutor) Execute(ctx *Context) error {
	e.runs++
	if e.alloc > 0 {
		_, data, err := ctx.Allocate(e.alloc)
		if err != nil {
			return err
		}
		for i := range data {
			data[i] = byte(e.id)
		}
	}
	ctx.Recorder.BindPipeline(e.pipeline)
	ctx.Recorder.Draw(3, 1, 0, 0)
	return nil
}

type graphFixture struct {
	device    *headless.Device
	graph     *Graph
	frames    *frame.Synchronizer
	ring      *ring.Allocator
	ctrl      *swapchain.Controller
	executors [SubpassCount]*drawExecutor
}

func newGraphFixture(t *testing.T) *graphFixture {
	t.Helper()
	window := headless.NewWindow(320, 240)
	dev := headless.NewDevice(window, rhi.DeviceConfig{}, headless.DefaultOptions())
	g, err := New(dev, rhi.FormatD32Sfloat)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	r, err := ring.New(dev, 1<<20, 3)
	if err != nil {
		t.Fatalf("ring.New failed: %v", err)
	}
	frames, err := frame.New(dev, 3, r)
	if err != nil {
		t.Fatalf("frame.New failed: %v", err)
	}
	ctrl, err := swapchain.New(dev, frames, g, swapchain.Config{Extent: rhi.Extent{Width: 320, Height: 240}})
	if err != nil {
		t.Fatalf("swapchain.New failed: %v", err)
	}
	f := &graphFixture{device: dev, graph: g, frames: frames, ring: r, ctrl: ctrl}

	desc := g.Layout().Describe(ctrl.Format())
	for _, id := range Order {
		p, err := dev.CreatePipeline(rhi.PipelineDesc{
			Name:             id.String(),
			RenderPass:       ctrl.RenderPass(),
			Subpass:          uint32(id),
			VertexShader:     "test.vert",
			FragmentShader:   "test.frag",
			Extent:           ctrl.Extent(),
			ColorAttachments: len(desc.Subpasses[id].Colors),
		})
		if err != nil {
			t.Fatalf("CreatePipeline %s failed: %v", id, err)
		}
		g.DeclarePipeline(id, p)
		f.executors[id] = &drawExecutor{id: id, pipeline: p}
		if err := g.Register(f.executors[id]); err != nil {
			t.Fatalf("Register %s failed: %v", id, err)
		}
	}
	t.Cleanup(func() {
		_ = frames.WaitIdle()
		for _, e := range f.executors {
			dev.DestroyPipeline(e.pipeline)
		}
		ctrl.Destroy()
		frames.Destroy()
		r.Destroy()
		g.Destroy()
		dev.Destroy()
	})
	return f
}

func (f *graphFixture) render(t *testing.T) error {
	t.Helper()
	slot, err := f.frames.BeginFrame()
	if err != nil {
		t.Fatalf("BeginFrame failed: %v", err)
	}
	idx, ok, err := f.ctrl.AcquireNext(slot)
	if err != nil || !ok {
		t.Fatalf("AcquireNext = %v, %v", ok, err)
	}
	rec, err := f.device.Begin(slot.CommandBuffer)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	execErr := f.graph.Execute(rec, FrameInfo{
		Slot:        slot.Index,
		Frame:       slot.Frame,
		Framebuffer: f.ctrl.Framebuffer(idx),
		Extent:      f.ctrl.Extent(),
		Ring:        f.ring,
	})
	if execErr != nil {
		f.frames.Cancel(slot)
		return execErr
	}
	if err := rec.End(); err != nil {
		t.Fatalf("End failed: %v", err)
	}
	if err := f.frames.EndFrame(slot, frame.Submission{}); err != nil {
		t.Fatalf("EndFrame failed: %v", err)
	}
	if err := f.ctrl.Present(slot, idx); err != nil {
		t.Fatalf("Present failed: %v", err)
	}
	return nil
}

func TestExecuteTracesSubpassesInOrder(t *testing.T) {
	f := newGraphFixture(t)
	var trace []SubpassID
	var frames []uint64
	f.graph.SetTracer(func(frame uint64, id SubpassID) {
		trace = append(trace, id)
		frames = append(frames, frame)
	})

	const n = 5
	for i := 0; i < n; i++ {
		if err := f.render(t); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}
	if len(trace) != n*SubpassCount {
		t.Fatalf("%d subpass begins, want %d", len(trace), n*SubpassCount)
	}
	for i, id := range trace {
		if want := Order[i%SubpassCount]; id != want {
			t.Errorf("begin %d: got %s, want %s", i, id, want)
		}
		if want := uint64(i / SubpassCount); frames[i] != want {
			t.Errorf("begin %d in frame %d, want %d", i, frames[i], want)
		}
	}
	for _, e := range f.executors {
		if e.runs != n {
			t.Errorf("executor %s ran %d times, want %d", e.id, e.runs, n)
		}
	}

	if err := f.frames.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle failed: %v", err)
	}
	// The GPU side sees the same order: one Draw per subpass, subpass index
	// increasing by one between render pass begin and end.
	subpass := -1
	draws := 0
	for _, ev := range f.device.Trace() {
		switch ev.Kind {
		case headless.EventBeginRenderPass:
			subpass = 0
		case headless.EventNextSubpass:
			if ev.Subpass != subpass+1 {
				t.Errorf("subpass advanced from %d to %d", subpass, ev.Subpass)
			}
			subpass = ev.Subpass
		case headless.EventEndRenderPass:
			if subpass != SubpassCount-1 {
				t.Errorf("render pass ended in subpass %d", subpass)
			}
		case headless.EventDraw:
			draws++
		}
	}
	if draws != n*SubpassCount {
		t.Errorf("%d draws executed, want %d", draws, n*SubpassCount)
	}
	if v := f.device.Violations(); len(v) != 0 {
		t.Errorf("violations: %v", v)
	}
}

func TestExecuteRejectsForeignPipeline(t *testing.T) {
	f := newGraphFixture(t)
	f.executors[ToneMapping].pipeline = f.executors[ColorGrading].pipeline
	err := f.render(t)
	if err == nil {
		t.Fatal("expected Execute to fail")
	}
	if !strings.Contains(err.Error(), "declared for ColorGrading") {
		t.Errorf("got %q", err)
	}
	if f.executors[ColorGrading].runs != 0 {
		t.Error("later subpasses ran after a guard failure")
	}
}

func TestExecuteRequiresAllExecutors(t *testing.T) {
	dev := headless.NewDevice(nil, rhi.DeviceConfig{}, headless.DefaultOptions())
	defer dev.Destroy()
	g, err := New(dev, rhi.FormatD32Sfloat)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer g.Destroy()
	if err := g.Register(&drawExecutor{id: GBuffer}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := g.Register(&drawExecutor{id: GBuffer}); err == nil {
		t.Error("duplicate executor accepted")
	}
	if err := g.Register(&drawExecutor{id: SubpassID(SubpassCount)}); err == nil {
		t.Error("out of range executor accepted")
	}
	if err := g.Execute(nil, FrameInfo{}); err == nil || !strings.Contains(err.Error(), "DeferredLighting") {
		t.Errorf("got %v, want missing DeferredLighting executor", err)
	}
}

func TestExecutorAllocationsStayInSlot(t *testing.T) {
	f := newGraphFixture(t)
	for _, e := range f.executors {
		e.alloc = 100
	}
	for i := 0; i < 4; i++ {
		if err := f.render(t); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		// The slot just recorded keeps every allocation until it is reused.
		used := f.ring.Region(i % 3).Used()
		if min := uint64(SubpassCount * 100); used < min {
			t.Errorf("frame %d: slot %d used %d bytes, want at least %d", i, i%3, used, min)
		}
	}
}

func TestRenderPassRecompiledOnFormatChange(t *testing.T) {
	dev := headless.NewDevice(nil, rhi.DeviceConfig{}, headless.DefaultOptions())
	defer dev.Destroy()
	g, err := New(dev, rhi.FormatD32Sfloat)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer g.Destroy()

	a, err := g.RenderPassFor(rhi.FormatB8G8R8A8Unorm)
	if err != nil {
		t.Fatalf("RenderPassFor failed: %v", err)
	}
	b, _ := g.RenderPassFor(rhi.FormatB8G8R8A8Unorm)
	if a != b {
		t.Error("same format compiled a new render pass")
	}
	c, _ := g.RenderPassFor(rhi.FormatA2B10G10R10UnormPack32)
	if c == a {
		t.Error("format change reused the old render pass")
	}
	if n := dev.Stats().RenderPasses; n != 1 {
		t.Errorf("%d live render passes, want 1", n)
	}
	desc, ok := dev.RenderPassDesc(c)
	if !ok || desc.Attachments[AttachmentSwapchain].Format != rhi.FormatA2B10G10R10UnormPack32 {
		t.Errorf("render pass swapchain format = %+v", desc.Attachments[AttachmentSwapchain])
	}
}

func TestInputWrites(t *testing.T) {
	dev := headless.NewDevice(nil, rhi.DeviceConfig{}, headless.DefaultOptions())
	defer dev.Destroy()
	g, _ := New(dev, rhi.FormatD32Sfloat)
	images := make([]rhi.Image, AttachmentCount)
	for i := range images {
		images[i].Index, images[i].Generation = uint32(i), 1
	}
	writes, err := g.InputWrites(CombineUI, images)
	if err != nil {
		t.Fatalf("InputWrites failed: %v", err)
	}
	if len(writes) != 2 || writes[0].Image != images[AttachmentGraded] || writes[1].Image != images[AttachmentUI] {
		t.Errorf("combine writes = %+v", writes)
	}
	if writes[1].Binding != 1 || writes[1].Type != rhi.DescriptorInputAttachment {
		t.Errorf("second write = %+v", writes[1])
	}
	images[AttachmentHDR] = rhi.Image{}
	if _, err := g.InputWrites(ToneMapping, images); err == nil {
		t.Error("missing input image accepted")
	}
}
