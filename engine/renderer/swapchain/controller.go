// Package swapchain owns the presentable image chain and everything sized
// after it: the render pass attachments and one framebuffer per image.
package swapchain

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/frame"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

// AttachmentSpec describes one framebuffer attachment.
type AttachmentSpec struct {
	Name    string
	Format  rhi.Format
	Usage   rhi.ImageUsage
	Samples uint32
	// Presentable attachments are backed by the swapchain images themselves.
	Presentable bool
}

// Target is what renders into the swapchain: it declares the attachments
// and provides a render pass compatible with them.
type Target interface {
	AttachmentSpecs(swapchainFormat rhi.Format) []AttachmentSpec
	RenderPassFor(swapchainFormat rhi.Format) (rhi.RenderPass, error)
}

// RecreateInfo is handed to listeners whenever the swapchain-sized state is
// rebuilt.
type RecreateInfo struct {
	Extent     rhi.Extent
	Format     rhi.Format
	RenderPass rhi.RenderPass
	// Attachments follows the Target's AttachmentSpecs order. Presentable
	// entries are left invalid, they differ per framebuffer.
	Attachments []rhi.Image
	Generation  uint64
}

type Listener interface {
	// OnSwapchainReleased runs with the GPU idle, before the old attachments
	// and framebuffers are destroyed.
	OnSwapchainReleased()
	OnSwapchainRecreated(info RecreateInfo) error
}

// FrameSync is the part of the frame synchronizer the controller needs.
type FrameSync interface {
	WaitIdle() error
	ClaimImage(slot *frame.Slot, imageIndex uint32) error
	ForgetImages()
}

type Config struct {
	Extent        rhi.Extent
	MinImageCount uint32
	VSync         bool
}

type Controller struct {
	device rhi.Device
	frames FrameSync
	target Target
	config Config

	swapchain    rhi.Swapchain
	extent       rhi.Extent
	renderPass   rhi.RenderPass
	attachments  []rhi.Image
	framebuffers []rhi.Framebuffer
	listeners    []Listener
	generation   uint64

	// stale is set by a suboptimal acquire; the chain is rebuilt after present.
	stale     bool
	suspended bool
	// cause is the transient status behind the last rebuild, nil for resizes.
	cause error
}

func New(device rhi.Device, frames FrameSync, target Target, cfg Config) (*Controller, error) {
	c := &Controller{
		device: device,
		frames: frames,
		target: target,
		config: cfg,
		extent: cfg.Extent,
	}
	if cfg.Extent.IsZero() {
		c.suspended = true
		return c, nil
	}
	if err := c.build(); err != nil {
		c.Destroy()
		return nil, err
	}
	return c, nil
}

// AddListener registers l and immediately hands it the current state.
func (c *Controller) AddListener(l Listener) error {
	c.listeners = append(c.listeners, l)
	if c.swapchain == nil {
		return nil
	}
	return l.OnSwapchainRecreated(c.info())
}

// AcquireNext requests the next presentable image for slot. render is false
// when the frame must be skipped; the chain has then already been rebuilt
// or rendering is suspended.
func (c *Controller) AcquireNext(slot *frame.Slot) (imageIndex uint32, render bool, err error) {
	if c.suspended {
		return 0, false, nil
	}
	if c.swapchain == nil {
		if err := c.Recreate(); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}

	idx, status, err := c.swapchain.Acquire(slot.ImageAcquired)
	if err != nil {
		return 0, false, core.DeviceFatal("AcquireNextImage", err)
	}
	switch status {
	case rhi.StatusOutOfDate:
		c.cause = transientError(status, "acquire")
		core.LogDebug("%v, recreating", c.cause)
		if err := c.recreate(); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	case rhi.StatusSuboptimal:
		c.cause = transientError(status, "acquire")
		core.LogDebug("%v, recreating after present", c.cause)
		c.stale = true
	}

	if err := c.frames.ClaimImage(slot, idx); err != nil {
		return 0, false, err
	}
	return idx, true, nil
}

// Present queues the image for display once the slot's rendering finishes.
func (c *Controller) Present(slot *frame.Slot, imageIndex uint32) error {
	status, err := c.swapchain.Present(imageIndex, slot.RenderFinished)
	if err != nil {
		return core.DeviceFatal("QueuePresent", err)
	}
	if status != rhi.StatusReady {
		c.cause = transientError(status, "present")
		core.LogDebug("%v, recreating", c.cause)
	}
	if status != rhi.StatusReady || c.stale {
		return c.recreate()
	}
	return nil
}

// transientError names the swapchain status that forced a rebuild.
func transientError(status rhi.Status, call string) error {
	cause := core.ErrSwapchainOutOfDate
	if status == rhi.StatusSuboptimal {
		cause = core.ErrSwapchainSuboptimal
	}
	return errors.Wrapf(cause, "%s", call)
}

// RecreateCause reports the transient status behind the most recent rebuild,
// or nil when it was requested through Resize or Recreate.
func (c *Controller) RecreateCause() error {
	return c.cause
}

// Resize records the new surface size and rebuilds the chain for it. A zero
// size suspends rendering until the next non-zero resize.
func (c *Controller) Resize(extent rhi.Extent) error {
	c.extent = extent
	c.cause = nil
	if extent.IsZero() {
		core.LogDebug("swapchain suspended for %s surface", extent)
		c.suspended = true
		return nil
	}
	c.suspended = false
	return c.Recreate()
}

// Recreate waits for every frame slot to go idle and rebuilds the swapchain,
// its attachments and framebuffers at the current size. Listeners are told
// before the old state goes away and after the new state exists.
func (c *Controller) Recreate() error {
	c.cause = nil
	return c.recreate()
}

func (c *Controller) recreate() error {
	if c.extent.IsZero() {
		c.suspended = true
		return nil
	}
	if err := c.frames.WaitIdle(); err != nil {
		return err
	}
	if c.swapchain != nil {
		for _, l := range c.listeners {
			l.OnSwapchainReleased()
		}
	}
	c.destroyTargets()
	if err := c.build(); err != nil {
		return err
	}
	for _, l := range c.listeners {
		if err := l.OnSwapchainRecreated(c.info()); err != nil {
			return errors.Wrap(err, "notifying swapchain listener")
		}
	}
	return nil
}

func (c *Controller) build() error {
	old := c.swapchain
	sc, err := c.device.CreateSwapchain(rhi.SwapchainDesc{
		Extent:        c.extent,
		MinImageCount: c.config.MinImageCount,
		VSync:         c.config.VSync,
		Old:           old,
	})
	if old != nil {
		c.device.DestroySwapchain(old)
		c.swapchain = nil
		c.frames.ForgetImages()
	}
	if err != nil {
		return core.DeviceFatal("CreateSwapchain", err)
	}
	c.swapchain = sc
	c.extent = sc.Extent()
	c.stale = false

	rp, err := c.target.RenderPassFor(sc.Format())
	if err != nil {
		return errors.Wrap(err, "building render pass for swapchain")
	}
	c.renderPass = rp

	specs := c.target.AttachmentSpecs(sc.Format())
	c.attachments = make([]rhi.Image, len(specs))
	for i, spec := range specs {
		if spec.Presentable {
			continue
		}
		img, err := c.device.CreateImage(rhi.ImageDesc{
			Name:    fmt.Sprintf("%s-%s", spec.Name, uuid.NewString()),
			Extent:  c.extent,
			Format:  spec.Format,
			Usage:   spec.Usage,
			Samples: spec.Samples,
		})
		if err != nil {
			return errors.Wrapf(err, "creating attachment %q", spec.Name)
		}
		c.attachments[i] = img
	}

	for i, img := range sc.Images() {
		views := make([]rhi.Image, len(specs))
		for j, spec := range specs {
			if spec.Presentable {
				views[j] = img
			} else {
				views[j] = c.attachments[j]
			}
		}
		fb, err := c.device.CreateFramebuffer(rhi.FramebufferDesc{
			RenderPass:  rp,
			Attachments: views,
			Extent:      c.extent,
		})
		if err != nil {
			return errors.Wrapf(err, "creating framebuffer %d", i)
		}
		c.framebuffers = append(c.framebuffers, fb)
	}

	c.generation++
	core.LogInfo("swapchain %d built: %s %s, %d images", c.generation, c.extent, sc.Format(), len(c.framebuffers))
	return nil
}

func (c *Controller) destroyTargets() {
	for _, fb := range c.framebuffers {
		c.device.DestroyFramebuffer(fb)
	}
	c.framebuffers = nil
	for _, img := range c.attachments {
		if img.IsValid() {
			c.device.DestroyImage(img)
		}
	}
	c.attachments = nil
}

func (c *Controller) info() RecreateInfo {
	return RecreateInfo{
		Extent:      c.extent,
		Format:      c.swapchain.Format(),
		RenderPass:  c.renderPass,
		Attachments: append([]rhi.Image(nil), c.attachments...),
		Generation:  c.generation,
	}
}

func (c *Controller) Framebuffer(imageIndex uint32) rhi.Framebuffer {
	return c.framebuffers[imageIndex]
}

func (c *Controller) Attachment(index int) rhi.Image {
	return c.attachments[index]
}

func (c *Controller) Extent() rhi.Extent {
	return c.extent
}

func (c *Controller) Format() rhi.Format {
	if c.swapchain == nil {
		return rhi.FormatUndefined
	}
	return c.swapchain.Format()
}

func (c *Controller) RenderPass() rhi.RenderPass {
	return c.renderPass
}

func (c *Controller) Generation() uint64 {
	return c.generation
}

func (c *Controller) ImageCount() int {
	return len(c.framebuffers)
}

// Presentable is false while rendering is suspended for a zero-size surface.
func (c *Controller) Presentable() bool {
	return !c.suspended && c.swapchain != nil
}

// Destroy releases the chain. Callers wait for the GPU to go idle first.
func (c *Controller) Destroy() {
	c.destroyTargets()
	if c.swapchain != nil {
		c.device.DestroySwapchain(c.swapchain)
		c.swapchain = nil
	}
	c.listeners = nil
}
