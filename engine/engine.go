package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/loov/hrtime"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
	"github.com/spaghettifunk/lumen/engine/resources"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything it owned
	EngineStageStopped
)

func (s Stage) String() string {
	switch s {
	case EngineStageUninitialized:
		return "uninitialized"
	case EngineStageInitializing:
		return "initializing"
	case EngineStageInitialized:
		return "initialized"
	case EngineStageRunning:
		return "running"
	case EngineStageShuttingDown:
		return "shutting down"
	case EngineStageStopped:
		return "stopped"
	}
	return fmt.Sprintf("Stage(%d)", uint8(s))
}

const suspendedPoll = 16 * time.Millisecond

type Engine struct {
	mu           sync.Mutex
	currentStage Stage
	game         *Game
	config       *config.Config
	backends     map[config.BackendKind]BackendFactory
	frameLimit   uint64

	running     atomic.Bool
	isSuspended bool
	bus         *core.EventBus
	window      Window
	renderer    *renderer.Renderer
	resources   *resources.Store
	watcher     *config.Watcher
	hudFont     metadata.MaterialHandle
	width       uint32
	height      uint32
	clock       *core.Clock
	metrics     *core.FrameMetrics
	lastTime    float64
	frames      uint64
}

func New(g *Game, cfg *config.Config, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, errors.New("engine needs a game")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		currentStage: EngineStageUninitialized,
		game:         g,
		config:       cfg,
		backends:     map[config.BackendKind]BackendFactory{config.BackendHeadless: openHeadless},
		bus:          core.NewEventBus(),
		clock:        core.NewClock(),
		metrics:      core.NewFrameMetrics(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentStage != EngineStageUninitialized {
		return errors.Newf("cannot initialize an engine in stage %s", e.currentStage)
	}
	e.currentStage = EngineStageInitializing
	if err := e.initialize(); err != nil {
		e.teardown()
		e.currentStage = EngineStageStopped
		return err
	}
	e.currentStage = EngineStageInitialized
	core.LogInfo("%s initialized at %dx%d", e.config.Application.Name, e.width, e.height)
	return nil
}

func (e *Engine) initialize() error {
	if err := core.SetLogLevel(e.config.Log.Level); err != nil {
		return err
	}

	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.bus.Register(core.EVENT_CODE_RESIZED, e, e.onResized)

	backend, window, err := e.createBackend()
	if err != nil {
		return err
	}
	e.window = window
	e.width, e.height = window.FramebufferSize()

	e.renderer = renderer.New(backend, e.config)
	if err := e.renderer.Initialize(window, rhi.Extent{Width: e.width, Height: e.height}); err != nil {
		return err
	}
	e.resources = resources.NewStore(e.renderer.Device(), e.renderer.MaterialLayout())

	if font := e.renderer.HUDFont(); font != nil {
		e.hudFont, err = e.resources.CreateMaterial(resources.MaterialConfig{
			Name:          "hud-font",
			Albedo:        mgl32.Vec4{1, 1, 1, 1},
			Transparent:   true,
			TextureExtent: rhi.Extent{Width: uint32(font.AtlasWidth), Height: uint32(font.AtlasHeight)},
		})
		if err != nil {
			return err
		}
	}

	if e.game.FnInitialize != nil {
		if err := e.game.FnInitialize(e); err != nil {
			return errors.Wrap(err, "initializing game")
		}
	}
	if e.game.FnOnResize != nil {
		if err := e.game.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	return nil
}

// WatchConfig reloads path on every write. Post-processing and log level
// changes apply to the next frame; anything else needs a restart.
func (e *Engine) WatchConfig(path string) error {
	w, err := config.Watch(path, e.onConfigChange)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watcher != nil {
		_ = e.watcher.Close()
	}
	e.watcher = w
	return nil
}

func (e *Engine) Run() error {
	e.mu.Lock()
	if e.currentStage != EngineStageInitialized {
		stage := e.currentStage
		e.mu.Unlock()
		return errors.Wrapf(core.ErrNotInitialized, "cannot run an engine in stage %s", stage)
	}
	e.currentStage = EngineStageRunning
	e.mu.Unlock()

	e.running.Store(true)
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	var targetFrameSeconds float64
	if fps := e.config.Application.TargetFPS; fps > 0 {
		targetFrameSeconds = 1.0 / float64(fps)
	}

	for e.running.Load() {
		e.window.PumpMessages()
		if e.isSuspended {
			time.Sleep(suspendedPoll)
			continue
		}

		// Update clock and get delta time.
		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - e.lastTime
		frameStart := hrtime.Now()

		if err := e.frame(delta, currentTime); err != nil {
			e.running.Store(false)
			return err
		}

		frameElapsed := (hrtime.Now() - frameStart).Seconds()
		e.metrics.Update(frameElapsed)
		if remaining := targetFrameSeconds - frameElapsed; targetFrameSeconds > 0 && remaining > 0 {
			// Give the remaining time back to the OS.
			time.Sleep(time.Duration(remaining * float64(time.Second)))
		}
		e.lastTime = currentTime

		e.frames++
		if e.frameLimit > 0 && e.frames >= e.frameLimit {
			core.LogInfo("frame limit of %d reached", e.frameLimit)
			e.running.Store(false)
		}
	}
	return nil
}

func (e *Engine) frame(delta, now float64) error {
	if e.game.FnUpdate != nil {
		if err := e.game.FnUpdate(delta); err != nil {
			return errors.Wrap(err, "game update")
		}
	}

	packet := &metadata.RenderPacket{
		DeltaTime: delta,
		Time:      now,
		Resources: e.resources,
		HUDFont:   e.hudFont,
	}
	if e.game.FnRender != nil {
		if err := e.game.FnRender(packet, delta); err != nil {
			return errors.Wrap(err, "game render")
		}
	}
	if e.hudFont != 0 {
		e.appendFrameStats(packet)
	}
	return e.renderer.RenderFrame(packet)
}

func (e *Engine) appendFrameStats(packet *metadata.RenderPacket) {
	fps, ms := e.metrics.Frame()
	white := mgl32.Vec4{1, 1, 1, 1}
	packet.HUD = append(packet.HUD,
		metadata.HUDText{X: 8, Y: 8, Text: fmt.Sprintf("%.0f fps  %.2f ms", fps, ms), Colour: white},
		metadata.HUDText{X: 8, Y: 24, Text: fmt.Sprintf("frame %d  %dx%d", e.renderer.FrameNumber(), e.width, e.height), Colour: white},
	)
}

// Quit makes Run return after the current frame. Safe from any goroutine.
func (e *Engine) Quit() {
	e.running.Store(false)
}

func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.currentStage {
	case EngineStageStopped, EngineStageShuttingDown:
		return nil
	case EngineStageUninitialized:
		e.currentStage = EngineStageStopped
		return nil
	}
	e.running.Store(false)
	e.currentStage = EngineStageShuttingDown
	err := e.teardown()
	e.currentStage = EngineStageStopped
	core.LogInfo("engine shut down after %d frames", e.frames)
	return err
}

// teardown releases whatever initialize managed to create.
func (e *Engine) teardown() error {
	var errs error
	e.bus.Unregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	e.bus.Unregister(core.EVENT_CODE_RESIZED, e)
	if e.watcher != nil {
		errs = errors.CombineErrors(errs, e.watcher.Close())
		e.watcher = nil
	}
	if e.renderer != nil {
		if err := e.renderer.WaitIdle(); err != nil && !errors.Is(err, core.ErrNotInitialized) {
			errs = errors.CombineErrors(errs, err)
		}
	}
	if e.game.FnShutdown != nil && e.currentStage == EngineStageShuttingDown {
		errs = errors.CombineErrors(errs, e.game.FnShutdown())
	}
	if e.resources != nil {
		e.resources.Destroy()
		e.resources = nil
	}
	if e.renderer != nil {
		errs = errors.CombineErrors(errs, e.renderer.Shutdown())
		e.renderer = nil
	}
	if e.window != nil {
		e.window.Shutdown()
		e.window = nil
	}
	return errs
}

// GetFramebufferSize returns the width and height (in this order)
// of the application framebuffer.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

func (e *Engine) Stage() Stage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentStage
}

func (e *Engine) Renderer() *renderer.Renderer {
	return e.renderer
}

func (e *Engine) Resources() *resources.Store {
	return e.resources
}

func (e *Engine) Events() *core.EventBus {
	return e.bus
}

func (e *Engine) Metrics() *core.FrameMetrics {
	return e.metrics
}

// Frames is the number of main loop iterations that rendered.
func (e *Engine) Frames() uint64 {
	return e.frames
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, context core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.Quit()
		return true
	}
	return false
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, context core.EventContext) bool {
	width := context.Data.U32[0]
	height := context.Data.U32[1]

	// Check if different. If so, trigger a resize event.
	if width == e.width && height == e.height {
		return false
	}
	e.width, e.height = width, height
	core.LogDebug("Window resize: %d, %d", width, height)

	if err := e.renderer.OnResize(rhi.Extent{Width: width, Height: height}); err != nil {
		core.LogError("resizing renderer: %v", err)
		if core.IsFatal(err) {
			e.Quit()
		}
	}

	// Handle minimization
	if width == 0 || height == 0 {
		core.LogInfo("Window minimized, suspending application.")
		e.isSuspended = true
		return false
	}
	if e.isSuspended {
		core.LogInfo("Window restored, resuming application.")
		e.isSuspended = false
	}
	if e.game.FnOnResize != nil {
		if err := e.game.FnOnResize(width, height); err != nil {
			core.LogError(err.Error())
		}
	}
	return false
}

func (e *Engine) onConfigChange(cfg *config.Config) {
	if err := cfg.Validate(); err != nil {
		core.LogWarn("ignoring invalid config: %v", err)
		return
	}
	if err := core.SetLogLevel(cfg.Log.Level); err != nil {
		core.LogWarn("ignoring log level: %v", err)
	}
	if r := e.renderer; r != nil {
		if err := r.SetPostProcess(cfg.Post); err != nil {
			core.LogWarn("ignoring post processing change: %v", err)
		}
	}
	if cfg.Application != e.config.Application || cfg.Renderer != e.config.Renderer || cfg.HUD != e.config.HUD {
		core.LogWarn("config changes outside [post] and [log] apply after a restart")
	}
	e.bus.Fire(core.EVENT_CODE_CONFIG_RELOADED, e, core.EventContext{})
}
