package engine

import (
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Game is the scene side of the engine. Every hook is optional.
type Game struct {
	Name         string
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

// Initialize runs once the renderer is up, so the game can upload its
// meshes and materials through e.Resources().
type Initialize func(e *Engine) error
type Update func(deltaTime float64) error

// Render fills the packet for the frame about to be drawn.
type Render func(packet *metadata.RenderPacket, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
