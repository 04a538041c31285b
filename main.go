/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/platform"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
	"github.com/spaghettifunk/lumen/engine/renderer/vulkan"
	"github.com/spaghettifunk/lumen/testbed"
)

func openVulkan(cfg *config.Config, bus *core.EventBus) (rhi.Backend, engine.Window, error) {
	app := cfg.Application
	p := platform.New(bus)
	if err := p.Startup(app.Name, app.StartX, app.StartY, app.Width, app.Height); err != nil {
		return nil, nil, err
	}
	return vulkan.NewBackend(), p, nil
}

func main() {
	configPath := flag.String("config", "", "path to a TOML configuration file")
	headless := flag.Bool("headless", false, "render without a window or GPU")
	frames := flag.Uint64("frames", 0, "stop after this many frames, 0 runs until quit")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			core.LogFatal("loading config: %v", err)
		}
	}
	if *headless {
		cfg.Renderer.Backend = config.BackendHeadless
	}

	tb := testbed.NewTestGame()
	e, err := engine.New(tb.Game, cfg,
		engine.WithBackend(config.BackendVulkan, openVulkan),
		engine.WithFrameLimit(*frames),
	)
	if err != nil {
		core.LogFatal(err.Error())
	}

	if err := e.Initialize(); err != nil {
		core.LogFatal("initializing engine: %+v", err)
	}
	if *configPath != "" {
		if err := e.WatchConfig(*configPath); err != nil {
			core.LogWarn("config reload disabled: %v", err)
		}
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		e.Quit()
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %v", err)
	}
	if runErr != nil {
		core.LogFatal("engine stopped: %+v", runErr)
	}
}
