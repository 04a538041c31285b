// Package passes holds the executors of the seven subpasses and the
// descriptor state they share.
package passes

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/graph"
	"github.com/spaghettifunk/lumen/engine/renderer/hud"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
	"github.com/spaghettifunk/lumen/engine/renderer/swapchain"
)

type Options struct {
	Post config.PostProcess
	// HUDFont lays out packet HUD text; nil disables HUD text.
	HUDFont  *hud.Font
	HUDScale float32
}

// pass is an executor that owns pipelines sized after the swapchain.
type pass interface {
	graph.Executor
	create(info swapchain.RecreateInfo) error
	release()
	destroy()
}

// frameState caches per-frame allocations shared between passes. It is
// cleared whenever a slot is reset.
type frameState struct {
	scene      []uint32
	ui         []uint32
	zeroJoints uint32
	hasZero    bool
}

// Set builds and registers every executor. It is a swapchain listener for
// pipeline recreation and a frame resetter for its per-frame cache.
type Set struct {
	device    rhi.Device
	graph     *graph.Graph
	transient rhi.Buffer
	layouts   *Layouts

	frameSet  rhi.DescriptorSet
	drawSet   rhi.DescriptorSet
	glyphSet  rhi.DescriptorSet
	allocated []rhi.DescriptorSet

	passes []pass
	state  frameState

	mu      sync.Mutex
	post    config.PostProcess
	hudFont *hud.Font
	hudSize float32
}

// New creates the shared layouts and sets and registers one executor per
// subpass. transient is the ring allocator's buffer.
func New(device rhi.Device, g *graph.Graph, transient rhi.Buffer, opts Options) (*Set, error) {
	if err := opts.Post.Validate(); err != nil {
		return nil, err
	}
	layouts, err := createLayouts(device)
	if err != nil {
		return nil, err
	}
	s := &Set{
		device:    device,
		graph:     g,
		transient: transient,
		layouts:   layouts,
		post:      opts.Post,
		hudFont:   opts.HUDFont,
		hudSize:   opts.HUDScale,
	}
	if err := s.init(); err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

func (s *Set) init() error {
	var err error
	if s.frameSet, err = s.dynamicSet(s.layouts.Frame, []rhi.DescriptorWrite{
		{Binding: 0, Type: rhi.DescriptorUniformBufferDynamic, Range: FrameUniformsSize},
		{Binding: 1, Type: rhi.DescriptorUniformBufferDynamic, Range: LightBlockSize},
	}); err != nil {
		return errors.Wrap(err, "frame set")
	}
	if s.drawSet, err = s.dynamicSet(s.layouts.Draw, []rhi.DescriptorWrite{
		{Binding: 0, Type: rhi.DescriptorStorageBufferDynamic, Range: InstanceBlockSize},
		{Binding: 1, Type: rhi.DescriptorStorageBufferDynamic, Range: JointBlockSize},
	}); err != nil {
		return errors.Wrap(err, "draw set")
	}
	if s.glyphSet, err = s.dynamicSet(s.layouts.Glyphs, []rhi.DescriptorWrite{
		{Binding: 0, Type: rhi.DescriptorStorageBufferDynamic, Range: GlyphBlockSize},
	}); err != nil {
		return errors.Wrap(err, "glyph set")
	}

	s.passes = []pass{
		newGBufferPass(s),
		newLightingPass(s),
		newForwardPass(s),
		newToneMappingPass(s),
		newColorGradingPass(s),
		newUIPass(s),
		newCombinePass(s),
	}
	for _, p := range s.passes {
		if err := s.graph.Register(p); err != nil {
			return err
		}
	}
	return nil
}

// dynamicSet allocates a set whose bindings all point into the transient buffer.
func (s *Set) dynamicSet(layout rhi.DescriptorSetLayout, writes []rhi.DescriptorWrite) (rhi.DescriptorSet, error) {
	set, err := s.device.AllocateDescriptorSet(layout)
	if err != nil {
		return rhi.DescriptorSet{}, err
	}
	s.allocated = append(s.allocated, set)
	for i := range writes {
		writes[i].Buffer = s.transient
	}
	if err := s.device.UpdateDescriptorSet(set, writes); err != nil {
		return rhi.DescriptorSet{}, err
	}
	return set, nil
}

// allocate allocates a set that is freed with the Set.
func (s *Set) allocate(layout rhi.DescriptorSetLayout) (rhi.DescriptorSet, error) {
	set, err := s.device.AllocateDescriptorSet(layout)
	if err != nil {
		return rhi.DescriptorSet{}, err
	}
	s.allocated = append(s.allocated, set)
	return set, nil
}

// MaterialLayout is the layout material descriptor sets must be allocated with.
func (s *Set) MaterialLayout() rhi.DescriptorSetLayout {
	return s.layouts.Material
}

// SetPostProcess replaces the tone mapping and grading parameters from the
// next frame on.
func (s *Set) SetPostProcess(p config.PostProcess) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.post = p
	s.mu.Unlock()
	core.LogInfo("post process parameters updated: exposure %.2f, tonemap %s", p.Exposure, p.Tonemap)
	return nil
}

func (s *Set) postProcess() config.PostProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.post
}

// Reset drops the cached per-frame allocations, their ring region is reused.
func (s *Set) Reset(slot int) {
	s.state = frameState{}
}

func (s *Set) OnSwapchainReleased() {
	for _, p := range s.passes {
		p.release()
	}
}

func (s *Set) OnSwapchainRecreated(info swapchain.RecreateInfo) error {
	for _, p := range s.passes {
		p.release()
		if err := p.create(info); err != nil {
			return errors.Wrapf(err, "recreating %s pass", p.Subpass())
		}
	}
	return nil
}

func (s *Set) Destroy() {
	for _, p := range s.passes {
		p.release()
		p.destroy()
	}
	s.passes = nil
	for _, set := range s.allocated {
		s.device.FreeDescriptorSet(set)
	}
	s.allocated = nil
	if s.layouts != nil {
		s.layouts.destroy(s.device)
	}
}

// sceneOffsets returns the frame set dynamic offsets for the 3D passes,
// writing the camera and light blocks on first use in a frame.
func (s *Set) sceneOffsets(ctx *graph.Context) ([]uint32, error) {
	if s.state.scene != nil {
		return s.state.scene, nil
	}
	p := packetOf(ctx)
	frameOff, data, err := ctx.Allocate(FrameUniformsSize)
	if err != nil {
		return nil, err
	}
	EncodeFrameUniforms(data, p.Camera, float32(p.Time), float32(p.DeltaTime), ctx.Extent)

	lightOff, data, err := ctx.Allocate(LightBlockSize)
	if err != nil {
		return nil, err
	}
	if n := EncodeLights(data, p.Lights); n < len(p.Lights) {
		core.LogWarn("frame %d has %d lights, only %d are shaded", ctx.Frame, len(p.Lights), n)
	}
	s.state.scene = []uint32{uint32(frameOff), uint32(lightOff)}
	return s.state.scene, nil
}

// uiOffsets is sceneOffsets with the pixel space camera.
func (s *Set) uiOffsets(ctx *graph.Context) ([]uint32, error) {
	if s.state.ui != nil {
		return s.state.ui, nil
	}
	scene, err := s.sceneOffsets(ctx)
	if err != nil {
		return nil, err
	}
	off, data, err := ctx.Allocate(FrameUniformsSize)
	if err != nil {
		return nil, err
	}
	p := packetOf(ctx)
	EncodeFrameUniforms(data, UICamera(ctx.Extent), float32(p.Time), float32(p.DeltaTime), ctx.Extent)
	s.state.ui = []uint32{uint32(off), scene[1]}
	return s.state.ui, nil
}

var emptyPacket metadata.RenderPacket

func packetOf(ctx *graph.Context) *metadata.RenderPacket {
	if ctx.Packet == nil {
		return &emptyPacket
	}
	return ctx.Packet
}

// zeroJoints is a joint block shared by every draw without skinned items.
func (s *Set) zeroJoints(ctx *graph.Context) (uint32, error) {
	if s.state.hasZero {
		return s.state.zeroJoints, nil
	}
	off, data, err := ctx.Allocate(JointBlockSize)
	if err != nil {
		return 0, err
	}
	clear(data)
	s.state.zeroJoints, s.state.hasZero = uint32(off), true
	return s.state.zeroJoints, nil
}

func (s *Set) hud() (*hud.Font, float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hudFont, s.hudSize
}

// SetHUDFont swaps the font HUD text is laid out with.
func (s *Set) SetHUDFont(f *hud.Font, scale float32) {
	s.mu.Lock()
	s.hudFont, s.hudSize = f, scale
	s.mu.Unlock()
}
