package engine

import (
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi/headless"
)

// Window is what the main loop needs from the platform layer.
type Window interface {
	rhi.Window
	PumpMessages()
	Shutdown()
}

// BackendFactory opens the window a backend renders into. Window events
// are fired on bus.
type BackendFactory func(cfg *config.Config, bus *core.EventBus) (rhi.Backend, Window, error)

type Option func(e *Engine)

// WithBackend makes kind selectable through renderer.backend. The headless
// backend is always available.
func WithBackend(kind config.BackendKind, factory BackendFactory) Option {
	return func(e *Engine) {
		e.backends[kind] = factory
	}
}

// WithFrameLimit stops Run after n rendered frames; 0 runs until quit.
func WithFrameLimit(n uint64) Option {
	return func(e *Engine) {
		e.frameLimit = n
	}
}

// Offscreen stands in for a window when running headless. It never
// produces events.
type Offscreen struct {
	*headless.Window
}

func (Offscreen) PumpMessages() {}
func (Offscreen) Shutdown()     {}

func openHeadless(cfg *config.Config, _ *core.EventBus) (rhi.Backend, Window, error) {
	app := cfg.Application
	return headless.NewBackend(headless.DefaultOptions()), Offscreen{headless.NewWindow(app.Width, app.Height)}, nil
}

func (e *Engine) createBackend() (rhi.Backend, Window, error) {
	factory, ok := e.backends[e.config.Renderer.Backend]
	if !ok {
		return nil, nil, core.ConfigurationErrorf("renderer.backend %q is not available in this build", e.config.Renderer.Backend)
	}
	return factory(e.config, e.bus)
}
