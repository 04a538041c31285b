package renderer

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/frame"
	"github.com/spaghettifunk/lumen/engine/renderer/graph"
	"github.com/spaghettifunk/lumen/engine/renderer/hud"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/passes"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
	"github.com/spaghettifunk/lumen/engine/renderer/ring"
	"github.com/spaghettifunk/lumen/engine/renderer/swapchain"
)

type Stats struct {
	Frames  uint64
	Skipped uint64
	// StaleSkipped counts the skipped frames whose swapchain was out of date.
	StaleSkipped uint64
	// Swapchains counts swapchain builds, the first one included.
	Swapchains uint64
	Extent     rhi.Extent
	// RingUsed and RingPeak are per slot, in bytes.
	RingUsed     []uint64
	RingPeak     []uint64
	RingCapacity uint64
}

// Renderer owns the device and every per-frame subsystem. RenderFrame,
// OnResize and Shutdown are serialized; the frame in progress always
// completes against the resolution it started with.
type Renderer struct {
	backend rhi.Backend
	config  *config.Config

	mu          sync.Mutex
	initialized bool
	device      rhi.Device
	ring        *ring.Allocator
	graph       *graph.Graph
	passes      *passes.Set
	frames      *frame.Synchronizer
	swapchain   *swapchain.Controller
	hudFont     *hud.Font
	skipped     uint64
	stale       uint64
}

func New(backend rhi.Backend, cfg *config.Config) *Renderer {
	return &Renderer{backend: backend, config: cfg}
}

// Initialize creates the device for window and builds everything sized
// after resolution.
func (r *Renderer) Initialize(window rhi.Window, resolution rhi.Extent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initialized {
		return errors.New("renderer already initialized")
	}
	if err := r.config.Validate(); err != nil {
		return err
	}
	if err := r.initialize(window, resolution); err != nil {
		_ = r.destroy()
		return err
	}
	r.initialized = true
	core.LogInfo("renderer initialized on %s backend: %s, %d frames in flight",
		r.backend.Name(), r.swapchain.Extent(), r.frames.Slots())
	return nil
}

func (r *Renderer) initialize(window rhi.Window, resolution rhi.Extent) error {
	rc := r.config.Renderer
	device, err := r.backend.CreateDevice(window, rhi.DeviceConfig{
		ApplicationName:    r.config.Application.Name,
		Validation:         rc.Validation,
		DescriptorPoolSets: rc.DescriptorPoolSets,
		ShaderDir:          rc.ShaderDir,
	})
	if err != nil {
		return errors.Wrap(err, "creating device")
	}
	r.device = device

	if r.ring, err = ring.New(device, rc.RingBufferSize, rc.FramesInFlight); err != nil {
		return err
	}
	if r.graph, err = graph.New(device, device.Limits().DepthFormat); err != nil {
		return err
	}

	opts := passes.Options{Post: r.config.Post, HUDScale: r.config.HUD.Scale}
	if r.config.HUD.Enabled {
		if opts.HUDFont, err = loadHUDFont(r.config.HUD.Font); err != nil {
			return err
		}
		r.hudFont = opts.HUDFont
	}
	if r.passes, err = passes.New(device, r.graph, r.ring.Buffer(), opts); err != nil {
		return err
	}
	if r.frames, err = frame.New(device, rc.FramesInFlight, r.ring, r.passes); err != nil {
		return err
	}
	r.swapchain, err = swapchain.New(device, r.frames, r.graph, swapchain.Config{
		Extent:        resolution,
		MinImageCount: uint32(rc.FramesInFlight),
		VSync:         rc.VSync,
	})
	if err != nil {
		return err
	}
	return r.swapchain.AddListener(r.passes)
}

func loadHUDFont(path string) (*hud.Font, error) {
	if path == "" {
		return hud.BuiltinFont(), nil
	}
	f, err := hud.LoadFont(path)
	if err != nil {
		return nil, core.ConfigurationErrorf("hud.font: %v", err)
	}
	core.LogDebug("HUD font %q loaded, %d glyphs", f.Face, f.Glyphs())
	return f, nil
}

// RenderFrame records, submits and presents one frame. Frames the swapchain
// cannot take are skipped and return nil; any returned error is fatal.
func (r *Renderer) RenderFrame(packet *metadata.RenderPacket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return errors.Wrap(core.ErrNotInitialized, "RenderFrame")
	}
	if packet == nil {
		packet = &metadata.RenderPacket{}
	}

	slot, err := r.frames.BeginFrame()
	if err != nil {
		return err
	}
	imageIndex, ok, err := r.swapchain.AcquireNext(slot)
	if err != nil {
		r.frames.Cancel(slot)
		return err
	}
	if !ok {
		r.frames.Cancel(slot)
		r.skipped++
		if core.IsTransient(r.swapchain.RecreateCause()) {
			r.stale++
		}
		return nil
	}

	rec, err := r.device.Begin(slot.CommandBuffer)
	if err != nil {
		r.frames.Cancel(slot)
		return core.DeviceFatal("BeginCommandBuffer", err)
	}
	err = r.graph.Execute(rec, graph.FrameInfo{
		Slot:        slot.Index,
		Frame:       slot.Frame,
		Framebuffer: r.swapchain.Framebuffer(imageIndex),
		Extent:      r.swapchain.Extent(),
		Ring:        r.ring,
		Packet:      packet,
	})
	if err == nil {
		err = rec.End()
	}
	if err != nil {
		r.frames.Cancel(slot)
		core.LogError("frame %d recording failed: %v", slot.Frame, err)
		return err
	}

	if err := r.frames.EndFrame(slot, frame.Submission{}); err != nil {
		return err
	}
	return r.swapchain.Present(slot, imageIndex)
}

// OnResize rebuilds the swapchain for the new resolution. A zero
// resolution suspends rendering.
func (r *Renderer) OnResize(resolution rhi.Extent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return errors.Wrap(core.ErrNotInitialized, "OnResize")
	}
	core.LogDebug("renderer resized to %s", resolution)
	return r.swapchain.Resize(resolution)
}

func (r *Renderer) SetPostProcess(p config.PostProcess) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return errors.Wrap(core.ErrNotInitialized, "SetPostProcess")
	}
	return r.passes.SetPostProcess(p)
}

// Shutdown waits for the GPU and releases every resource.
func (r *Renderer) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return nil
	}
	err := r.destroy()
	r.initialized = false
	core.LogInfo("renderer shut down")
	return err
}

func (r *Renderer) destroy() error {
	var err error
	if r.frames != nil {
		if err = r.frames.WaitIdle(); err != nil {
			core.LogError("waiting for the GPU before teardown: %v", err)
		}
	}
	if r.swapchain != nil {
		r.swapchain.Destroy()
		r.swapchain = nil
	}
	if r.passes != nil {
		r.passes.Destroy()
		r.passes = nil
	}
	if r.frames != nil {
		r.frames.Destroy()
		r.frames = nil
	}
	if r.graph != nil {
		r.graph.Destroy()
		r.graph = nil
	}
	if r.ring != nil {
		r.ring.Destroy()
		r.ring = nil
	}
	if r.device != nil {
		r.device.Destroy()
		r.device = nil
	}
	r.hudFont = nil
	return err
}

// WaitIdle blocks until every submitted frame has completed.
func (r *Renderer) WaitIdle() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return errors.Wrap(core.ErrNotInitialized, "WaitIdle")
	}
	return r.frames.WaitIdle()
}

// HUDFont is the font HUD text is laid out with, nil when the HUD is off.
// Its atlas extent sizes the HUD font material.
func (r *Renderer) HUDFont() *hud.Font {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hudFont
}

// FrameNumber is the number of frames submitted so far.
func (r *Renderer) FrameNumber() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frames == nil {
		return 0
	}
	return r.frames.FrameNumber()
}

func (r *Renderer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.initialized {
		return Stats{}
	}
	st := Stats{
		Frames:       r.frames.FrameNumber(),
		Skipped:      r.skipped,
		StaleSkipped: r.stale,
		Swapchains:   r.swapchain.Generation(),
		Extent:       r.swapchain.Extent(),
	}
	for i := 0; i < r.ring.Slots(); i++ {
		region := r.ring.Region(i)
		st.RingUsed = append(st.RingUsed, region.Used())
		st.RingPeak = append(st.RingPeak, region.Peak)
		st.RingCapacity = region.Capacity
	}
	return st
}

// Device is exposed so the resource system can upload meshes and materials.
func (r *Renderer) Device() rhi.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}

// MaterialLayout is the descriptor set layout materials must be created with.
func (r *Renderer) MaterialLayout() rhi.DescriptorSetLayout {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.passes == nil {
		return rhi.DescriptorSetLayout{}
	}
	return r.passes.MaterialLayout()
}

// SetTracer forwards subpass begin events, for debugging and tests.
func (r *Renderer) SetTracer(fn func(frame uint64, id graph.SubpassID)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.graph != nil {
		r.graph.SetTracer(fn)
	}
}
