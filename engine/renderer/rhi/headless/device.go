package headless

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/lumen/engine/containers"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

var ErrDeviceLost = errors.New("device lost")

type fence struct {
	signaled bool
	pending  bool
}

type semaphore struct {
	signaled bool
}

type commandPool struct {
	buffers []rhi.CommandBuffer
}

type commandBuffer struct {
	pool      rhi.CommandPool
	commands  []command
	recording bool
	ended     bool
	pending   bool
}

type buffer struct {
	desc   rhi.BufferDesc
	memory []byte
}

type image struct {
	desc      rhi.ImageDesc
	swapchain bool
}

type framebuffer struct {
	desc rhi.FramebufferDesc
}

type setLayout struct {
	bindings []rhi.DescriptorBinding
}

type descriptorSet struct {
	layout rhi.DescriptorSetLayout
	writes map[uint32]rhi.DescriptorWrite
}

type pipeline struct {
	desc rhi.PipelineDesc
}

type submission struct {
	id       uint64
	info     rhi.SubmitInfo
	commands []command
}

// Device is a simulated rhi.Device. All state is guarded by one mutex; the
// GPU goroutine takes it while executing a submission.
type Device struct {
	opts   Options
	config rhi.DeviceConfig
	window rhi.Window

	mu   sync.Mutex
	cond *sync.Cond

	fences       *containers.Arena[*fence]
	semaphores   *containers.Arena[*semaphore]
	pools        *containers.Arena[*commandPool]
	cmdBuffers   *containers.Arena[*commandBuffer]
	buffers      *containers.Arena[*buffer]
	images       *containers.Arena[*image]
	renderPasses *containers.Arena[rhi.RenderPassDesc]
	framebuffers *containers.Arena[*framebuffer]
	setLayouts   *containers.Arena[*setLayout]
	sets         *containers.Arena[*descriptorSet]
	pipelines    *containers.Arena[*pipeline]
	swapchains   map[*swapchain]struct{}

	queue chan *submission
	gate  chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup

	submitted   uint64
	completed   uint64
	maxInFlight uint64
	lost        bool
	destroyed   bool

	submitErr     error
	acquireStatus []rhi.Status
	presentStatus []rhi.Status

	trace      []Event
	presents   []PresentEvent
	violations []string
}

func NewDevice(window rhi.Window, cfg rhi.DeviceConfig, opts Options) *Device {
	def := DefaultOptions()
	if opts.Limits == (rhi.Limits{}) {
		opts.Limits = def.Limits
	}
	if opts.Limits.DepthFormat == rhi.FormatUndefined {
		opts.Limits.DepthFormat = def.Limits.DepthFormat
	}
	if opts.SwapchainImages == 0 {
		opts.SwapchainImages = def.SwapchainImages
	}
	if opts.SwapchainFormat == rhi.FormatUndefined {
		opts.SwapchainFormat = def.SwapchainFormat
	}
	if cfg.DescriptorPoolSets == 0 {
		cfg.DescriptorPoolSets = 256
	}

	d := &Device{
		opts:         opts,
		config:       cfg,
		window:       window,
		fences:       containers.NewArena[*fence](8),
		semaphores:   containers.NewArena[*semaphore](8),
		pools:        containers.NewArena[*commandPool](4),
		cmdBuffers:   containers.NewArena[*commandBuffer](4),
		buffers:      containers.NewArena[*buffer](8),
		images:       containers.NewArena[*image](16),
		renderPasses: containers.NewArena[rhi.RenderPassDesc](1),
		framebuffers: containers.NewArena[*framebuffer](4),
		setLayouts:   containers.NewArena[*setLayout](8),
		sets:         containers.NewArena[*descriptorSet](16),
		pipelines:    containers.NewArena[*pipeline](8),
		swapchains:   make(map[*swapchain]struct{}),
		queue:        make(chan *submission, 256),
		gate:         make(chan struct{}, 1024),
		done:         make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Device) Limits() rhi.Limits {
	return d.opts.Limits
}

// Fences

func (d *Device) CreateFence(signaled bool) (rhi.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return rhi.Fence{Handle: d.fences.Insert(&fence{signaled: signaled})}, nil
}

func (d *Device) WaitForFence(f rhi.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		fc, ok := d.fences.Get(f.Handle)
		if !ok {
			return errors.Wrapf(core.ErrStaleHandle, "fence %v", f.Handle)
		}
		if d.lost {
			return core.DeviceFatal("WaitForFence", ErrDeviceLost)
		}
		if fc.signaled {
			return nil
		}
		d.cond.Wait()
	}
}

func (d *Device) FenceSignaled(f rhi.Fence) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fc, ok := d.fences.Get(f.Handle)
	if !ok {
		return false, errors.Wrapf(core.ErrStaleHandle, "fence %v", f.Handle)
	}
	return fc.signaled, nil
}

func (d *Device) ResetFence(f rhi.Fence) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	fc, ok := d.fences.Get(f.Handle)
	if !ok {
		return errors.Wrapf(core.ErrStaleHandle, "fence %v", f.Handle)
	}
	if fc.pending {
		return core.DeviceFatal("ResetFence", errors.New("fence is in use by a pending submission"))
	}
	fc.signaled = false
	return nil
}

func (d *Device) DestroyFence(f rhi.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if fc, ok := d.fences.Remove(f.Handle); ok && fc.pending {
		d.violate("fence %v destroyed while pending", f.Handle)
	}
}

// Semaphores

func (d *Device) CreateSemaphore() (rhi.Semaphore, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return rhi.Semaphore{Handle: d.semaphores.Insert(&semaphore{})}, nil
}

func (d *Device) DestroySemaphore(s rhi.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.semaphores.Remove(s.Handle)
}

// Command pools and buffers

func (d *Device) CreateCommandPool() (rhi.CommandPool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return rhi.CommandPool{Handle: d.pools.Insert(&commandPool{})}, nil
}

func (d *Device) ResetCommandPool(p rhi.CommandPool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.pools.Get(p.Handle)
	if !ok {
		return errors.Wrapf(core.ErrStaleHandle, "command pool %v", p.Handle)
	}
	for _, h := range pool.buffers {
		cb, ok := d.cmdBuffers.Get(h.Handle)
		if !ok {
			continue
		}
		if cb.pending {
			return core.DeviceFatal("ResetCommandPool", errors.New("command buffer is still executing"))
		}
		cb.commands = cb.commands[:0]
		cb.recording = false
		cb.ended = false
	}
	return nil
}

func (d *Device) DestroyCommandPool(p rhi.CommandPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.pools.Remove(p.Handle)
	if !ok {
		return
	}
	for _, h := range pool.buffers {
		if cb, ok := d.cmdBuffers.Remove(h.Handle); ok && cb.pending {
			d.violate("command buffer %v freed while pending", h.Handle)
		}
	}
}

func (d *Device) AllocateCommandBuffer(p rhi.CommandPool) (rhi.CommandBuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pool, ok := d.pools.Get(p.Handle)
	if !ok {
		return rhi.CommandBuffer{}, errors.Wrapf(core.ErrStaleHandle, "command pool %v", p.Handle)
	}
	cb := rhi.CommandBuffer{Handle: d.cmdBuffers.Insert(&commandBuffer{pool: p})}
	pool.buffers = append(pool.buffers, cb)
	return cb, nil
}

func (d *Device) Begin(h rhi.CommandBuffer) (rhi.CommandRecorder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cb, ok := d.cmdBuffers.Get(h.Handle)
	if !ok {
		return nil, errors.Wrapf(core.ErrStaleHandle, "command buffer %v", h.Handle)
	}
	if cb.pending {
		return nil, core.DeviceFatal("BeginCommandBuffer", errors.New("command buffer is still executing"))
	}
	cb.commands = cb.commands[:0]
	cb.recording = true
	cb.ended = false
	return &recorder{device: d, handle: h, subpass: -1}, nil
}

func (d *Device) Submit(info rhi.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.lost {
		return core.DeviceFatal("QueueSubmit", ErrDeviceLost)
	}
	if d.submitErr != nil {
		err := d.submitErr
		d.submitErr = nil
		return core.DeviceFatal("QueueSubmit", err)
	}
	cb, ok := d.cmdBuffers.Get(info.CommandBuffer.Handle)
	if !ok {
		return errors.Wrapf(core.ErrStaleHandle, "command buffer %v", info.CommandBuffer.Handle)
	}
	if !cb.ended {
		return core.DeviceFatal("QueueSubmit", errors.New("command buffer was not ended"))
	}
	if info.WaitSemaphore.IsValid() {
		sem, ok := d.semaphores.Get(info.WaitSemaphore.Handle)
		if !ok {
			return errors.Wrapf(core.ErrStaleHandle, "semaphore %v", info.WaitSemaphore.Handle)
		}
		if !sem.signaled {
			return core.DeviceFatal("QueueSubmit", errors.New("waiting on a semaphore nothing will signal"))
		}
		sem.signaled = false
	}
	if info.Fence.IsValid() {
		fc, ok := d.fences.Get(info.Fence.Handle)
		if !ok {
			return errors.Wrapf(core.ErrStaleHandle, "fence %v", info.Fence.Handle)
		}
		if fc.signaled || fc.pending {
			return core.DeviceFatal("QueueSubmit", errors.New("fence must be unsignaled and idle"))
		}
		fc.pending = true
	}
	if err := d.validateCommands(cb.commands); err != nil {
		return core.DeviceFatal("QueueSubmit", err)
	}

	cb.pending = true
	d.submitted++
	if inFlight := d.submitted - d.completed; inFlight > d.maxInFlight {
		d.maxInFlight = inFlight
	}
	s := &submission{
		id:       d.submitted,
		info:     info,
		commands: append([]command(nil), cb.commands...),
	}
	select {
	case d.queue <- s:
	default:
		return core.DeviceFatal("QueueSubmit", errors.New("queue overflow"))
	}
	return nil
}

// Swapchains

func (d *Device) CreateSwapchain(desc rhi.SwapchainDesc) (rhi.Swapchain, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	extent := desc.Extent
	if d.window != nil {
		w, h := d.window.FramebufferSize()
		extent = rhi.Extent{Width: w, Height: h}
	}
	if extent.IsZero() {
		return nil, core.DeviceFatal("CreateSwapchain", errors.Newf("surface extent %s is empty", extent))
	}
	if old, ok := desc.Old.(*swapchain); ok && old != nil {
		old.retired = true
	}

	count := d.opts.SwapchainImages
	if desc.MinImageCount > count {
		count = desc.MinImageCount
	}
	sc := &swapchain{
		device: d,
		extent: extent,
		format: d.opts.SwapchainFormat,
	}
	for i := uint32(0); i < count; i++ {
		h := d.images.Insert(&image{
			desc: rhi.ImageDesc{
				Name:    fmt.Sprintf("swapchain-%d", i),
				Extent:  extent,
				Format:  sc.format,
				Usage:   rhi.UsageColorAttachment,
				Samples: 1,
			},
			swapchain: true,
		})
		sc.images = append(sc.images, rhi.Image{Handle: h})
	}
	d.swapchains[sc] = struct{}{}
	return sc, nil
}

func (d *Device) DestroySwapchain(s rhi.Swapchain) {
	sc, ok := s.(*swapchain)
	if !ok || sc == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.swapchains[sc]; !ok {
		return
	}
	for _, img := range sc.images {
		d.images.Remove(img.Handle)
	}
	delete(d.swapchains, sc)
}

// Buffers and images

func (d *Device) CreateBuffer(desc rhi.BufferDesc) (rhi.Buffer, error) {
	if desc.Size == 0 {
		return rhi.Buffer{}, core.ConfigurationErrorf("buffer %q has zero size", desc.Name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return rhi.Buffer{Handle: d.buffers.Insert(&buffer{desc: desc, memory: make([]byte, desc.Size)})}, nil
}

func (d *Device) MappedBytes(b rhi.Buffer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	buf, ok := d.buffers.Get(b.Handle)
	if !ok {
		return nil, errors.Wrapf(core.ErrStaleHandle, "buffer %v", b.Handle)
	}
	if !buf.desc.HostVisible {
		return nil, core.ConfigurationErrorf("buffer %q is not host visible", buf.desc.Name)
	}
	return buf.memory, nil
}

func (d *Device) DestroyBuffer(b rhi.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buffers.Remove(b.Handle)
}

func (d *Device) CreateImage(desc rhi.ImageDesc) (rhi.Image, error) {
	if desc.Extent.IsZero() {
		return rhi.Image{}, core.ConfigurationErrorf("image %q has empty extent %s", desc.Name, desc.Extent)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return rhi.Image{Handle: d.images.Insert(&image{desc: desc})}, nil
}

func (d *Device) DestroyImage(img rhi.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if im, ok := d.images.Get(img.Handle); ok && im.swapchain {
		d.violate("swapchain image %v destroyed directly", img.Handle)
		return
	}
	d.images.Remove(img.Handle)
}

// Render passes and framebuffers

func (d *Device) CreateRenderPass(desc rhi.RenderPassDesc) (rhi.RenderPass, error) {
	if len(desc.Subpasses) == 0 {
		return rhi.RenderPass{}, core.ConfigurationErrorf("render pass %q has no subpasses", desc.Name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return rhi.RenderPass{Handle: d.renderPasses.Insert(desc)}, nil
}

func (d *Device) DestroyRenderPass(rp rhi.RenderPass) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.renderPasses.Remove(rp.Handle)
}

func (d *Device) CreateFramebuffer(desc rhi.FramebufferDesc) (rhi.Framebuffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rp, ok := d.renderPasses.Get(desc.RenderPass.Handle)
	if !ok {
		return rhi.Framebuffer{}, errors.Wrapf(core.ErrStaleHandle, "render pass %v", desc.RenderPass.Handle)
	}
	if len(desc.Attachments) != len(rp.Attachments) {
		return rhi.Framebuffer{}, core.ConfigurationErrorf("framebuffer has %d attachments, render pass %q wants %d",
			len(desc.Attachments), rp.Name, len(rp.Attachments))
	}
	for i, a := range desc.Attachments {
		img, ok := d.images.Get(a.Handle)
		if !ok {
			return rhi.Framebuffer{}, errors.Wrapf(core.ErrStaleHandle, "framebuffer attachment %d", i)
		}
		if img.desc.Extent.Width < desc.Extent.Width || img.desc.Extent.Height < desc.Extent.Height {
			return rhi.Framebuffer{}, core.ConfigurationErrorf("attachment %q is %s, smaller than framebuffer %s",
				img.desc.Name, img.desc.Extent, desc.Extent)
		}
	}
	desc.Attachments = append([]rhi.Image(nil), desc.Attachments...)
	return rhi.Framebuffer{Handle: d.framebuffers.Insert(&framebuffer{desc: desc})}, nil
}

func (d *Device) DestroyFramebuffer(fb rhi.Framebuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.framebuffers.Remove(fb.Handle)
}

// Descriptors

func (d *Device) CreateDescriptorSetLayout(bindings []rhi.DescriptorBinding) (rhi.DescriptorSetLayout, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	l := &setLayout{bindings: append([]rhi.DescriptorBinding(nil), bindings...)}
	return rhi.DescriptorSetLayout{Handle: d.setLayouts.Insert(l)}, nil
}

func (d *Device) DestroyDescriptorSetLayout(l rhi.DescriptorSetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setLayouts.Remove(l.Handle)
}

func (d *Device) AllocateDescriptorSet(l rhi.DescriptorSetLayout) (rhi.DescriptorSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.setLayouts.Get(l.Handle); !ok {
		return rhi.DescriptorSet{}, errors.Wrapf(core.ErrStaleHandle, "descriptor set layout %v", l.Handle)
	}
	if uint32(d.sets.Len()) >= d.config.DescriptorPoolSets {
		return rhi.DescriptorSet{}, core.ConfigurationErrorf("descriptor pool exhausted: %d sets allocated", d.sets.Len())
	}
	s := &descriptorSet{layout: l, writes: make(map[uint32]rhi.DescriptorWrite)}
	return rhi.DescriptorSet{Handle: d.sets.Insert(s)}, nil
}

func (d *Device) FreeDescriptorSet(s rhi.DescriptorSet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sets.Remove(s.Handle)
}

func (d *Device) UpdateDescriptorSet(s rhi.DescriptorSet, writes []rhi.DescriptorWrite) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	set, ok := d.sets.Get(s.Handle)
	if !ok {
		return errors.Wrapf(core.ErrStaleHandle, "descriptor set %v", s.Handle)
	}
	layout, ok := d.setLayouts.Get(set.layout.Handle)
	if !ok {
		return errors.Wrapf(core.ErrStaleHandle, "descriptor set layout %v", set.layout.Handle)
	}
	for _, w := range writes {
		found := false
		for _, b := range layout.bindings {
			if b.Binding == w.Binding {
				if b.Type != w.Type {
					return core.ConfigurationErrorf("binding %d expects descriptor type %d, got %d", w.Binding, b.Type, w.Type)
				}
				found = true
				break
			}
		}
		if !found {
			return core.ConfigurationErrorf("layout has no binding %d", w.Binding)
		}
		switch w.Type {
		case rhi.DescriptorInputAttachment, rhi.DescriptorCombinedImageSampler:
			if _, ok := d.images.Get(w.Image.Handle); !ok {
				return errors.Wrapf(core.ErrStaleHandle, "image %v written to binding %d", w.Image.Handle, w.Binding)
			}
		default:
			buf, ok := d.buffers.Get(w.Buffer.Handle)
			if !ok {
				return errors.Wrapf(core.ErrStaleHandle, "buffer %v written to binding %d", w.Buffer.Handle, w.Binding)
			}
			if w.Offset+w.Range > buf.desc.Size {
				return core.ConfigurationErrorf("binding %d range [%d, %d) exceeds buffer size %d",
					w.Binding, w.Offset, w.Offset+w.Range, buf.desc.Size)
			}
		}
		set.writes[w.Binding] = w
	}
	return nil
}

// Pipelines

func (d *Device) CreatePipeline(desc rhi.PipelineDesc) (rhi.Pipeline, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rp, ok := d.renderPasses.Get(desc.RenderPass.Handle)
	if !ok {
		return rhi.Pipeline{}, errors.Wrapf(core.ErrStaleHandle, "render pass %v", desc.RenderPass.Handle)
	}
	if int(desc.Subpass) >= len(rp.Subpasses) {
		return rhi.Pipeline{}, core.ConfigurationErrorf("pipeline %q targets subpass %d of %d", desc.Name, desc.Subpass, len(rp.Subpasses))
	}
	if want := len(rp.Subpasses[desc.Subpass].Colors); desc.ColorAttachments != want {
		return rhi.Pipeline{}, core.ConfigurationErrorf("pipeline %q declares %d color attachments, subpass %q has %d",
			desc.Name, desc.ColorAttachments, rp.Subpasses[desc.Subpass].Name, want)
	}
	if desc.VertexShader == "" || desc.FragmentShader == "" {
		return rhi.Pipeline{}, core.ConfigurationErrorf("pipeline %q is missing a shader module", desc.Name)
	}
	for _, l := range desc.SetLayouts {
		if _, ok := d.setLayouts.Get(l.Handle); !ok {
			return rhi.Pipeline{}, errors.Wrapf(core.ErrStaleHandle, "pipeline %q set layout %v", desc.Name, l.Handle)
		}
	}
	desc.SetLayouts = append([]rhi.DescriptorSetLayout(nil), desc.SetLayouts...)
	return rhi.Pipeline{Handle: d.pipelines.Insert(&pipeline{desc: desc})}, nil
}

func (d *Device) DestroyPipeline(p rhi.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pipelines.Remove(p.Handle)
}

func (d *Device) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.completed < d.submitted {
		if d.lost {
			return core.DeviceFatal("DeviceWaitIdle", ErrDeviceLost)
		}
		d.cond.Wait()
	}
	return nil
}

// Destroy stops the GPU goroutine. Pending submissions are dropped.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()
	close(d.done)
	d.wg.Wait()
}

func (d *Device) run() {
	defer d.wg.Done()
	for {
		var s *submission
		select {
		case s = <-d.queue:
		case <-d.done:
			return
		}
		if d.opts.Manual {
			select {
			case <-d.gate:
			case <-d.done:
				return
			}
		}
		if d.opts.Latency > 0 {
			select {
			case <-time.After(d.opts.Latency):
			case <-d.done:
				return
			}
		}
		d.execute(s)
	}
}

func (d *Device) execute(s *submission) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer d.cond.Broadcast()

	d.replay(s)

	if cb, ok := d.cmdBuffers.Get(s.info.CommandBuffer.Handle); ok {
		cb.pending = false
	}
	if s.info.SignalSemaphore.IsValid() {
		if sem, ok := d.semaphores.Get(s.info.SignalSemaphore.Handle); ok {
			sem.signaled = true
		}
	}
	if s.info.Fence.IsValid() {
		if fc, ok := d.fences.Get(s.info.Fence.Handle); ok {
			fc.pending = false
			fc.signaled = true
		} else {
			d.violate("submission %d signals destroyed fence %v", s.id, s.info.Fence.Handle)
		}
	}
	d.completed++
}

func (d *Device) violate(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	d.violations = append(d.violations, msg)
	core.LogError("headless validation: %s", msg)
}
