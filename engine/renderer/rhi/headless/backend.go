// Package headless implements rhi.Device without a GPU. A background
// goroutine plays the GPU: it executes submissions in order, records what
// they did and signals their semaphores and fences. Tests use it to observe
// blocking, command order, memory reads and resource lifetimes.
package headless

import (
	"sync"
	"time"

	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

type Options struct {
	Limits rhi.Limits
	// Manual holds every submission until Release is called for it.
	Manual bool
	// Latency is added to every submission before it completes.
	Latency time.Duration
	// SwapchainImages is the number of presentable images, 3 when zero.
	SwapchainImages uint32
	SwapchainFormat rhi.Format
	// CaptureReads copies the dynamic buffer ranges each draw reads into the trace.
	CaptureReads bool
}

func DefaultOptions() Options {
	return Options{
		Limits: rhi.Limits{
			MinUniformBufferOffsetAlignment: 256,
			MinStorageBufferOffsetAlignment: 64,
			MaxUniformBufferRange:           65536,
			DepthFormat:                     rhi.FormatD32Sfloat,
		},
		SwapchainImages: 3,
		SwapchainFormat: rhi.FormatB8G8R8A8Unorm,
	}
}

type Backend struct {
	opts Options

	mu      sync.Mutex
	devices []*Device
}

func NewBackend(opts Options) *Backend {
	return &Backend{opts: opts}
}

func (b *Backend) Name() string {
	return "headless"
}

func (b *Backend) CreateDevice(window rhi.Window, cfg rhi.DeviceConfig) (rhi.Device, error) {
	d := NewDevice(window, cfg, b.opts)
	b.mu.Lock()
	b.devices = append(b.devices, d)
	b.mu.Unlock()
	return d, nil
}

// LastDevice returns the most recently created device.
func (b *Backend) LastDevice() *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.devices) == 0 {
		return nil
	}
	return b.devices[len(b.devices)-1]
}

// Window is a resizable stand-in for a platform window.
type Window struct {
	mu     sync.Mutex
	width  uint32
	height uint32
}

func NewWindow(width, height uint32) *Window {
	return &Window{width: width, height: height}
}

func (w *Window) FramebufferSize() (uint32, uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

func (w *Window) SetSize(width, height uint32) {
	w.mu.Lock()
	w.width, w.height = width, height
	w.mu.Unlock()
}
