// Package testbed is a static demo scene: a grid of cubes sharing one
// mesh, a skinned column and a UI panel.
package testbed

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/resources"
)

const (
	GridSize    = 5
	gridSpacing = 3
	// Every third cube uses the transparent material.
	glassEvery = 3
	joints     = 2
)

type TestGame struct {
	*engine.Game
}

type gameState struct {
	WorldCamera *Camera

	width  uint32
	height uint32
	time   float64

	cube    metadata.MeshHandle
	column  metadata.MeshHandle
	panel   metadata.MeshHandle
	stone   metadata.MaterialHandle
	glass   metadata.MaterialHandle
	uiPanel metadata.MaterialHandle
	grid    []mgl32.Mat4
	lights  []metadata.Light
}

func NewTestGame() *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			Name:  "testbed",
			State: &gameState{WorldCamera: NewCamera()},
		},
	}
	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnShutdown = tg.Shutdown
	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(e *engine.Engine) error {
	core.LogDebug("TestGame Initialize fn....")
	state := g.state()
	res := e.Resources()

	state.WorldCamera.SetPosition(mgl32.Vec3{0, 6, 18})
	state.WorldCamera.SetEulerRotation(mgl32.Vec3{mgl32.DegToRad(-15), 0, 0})

	var err error
	if state.cube, err = res.UploadGeometry(resources.GenerateCube(1, 1, 1, 1, 1, "test_cube")); err != nil {
		return err
	}
	column := resources.GenerateCube(0.5, 4, 0.5, 1, 4, "skinned_column")
	resources.SkinAlongY(column, joints)
	if state.column, err = res.UploadGeometry(column); err != nil {
		return err
	}
	panel := resources.GenerateQuad2D(16, 48, 240, 96, mgl32.Vec4{0.1, 0.1, 0.15, 0.8})
	if state.panel, err = res.UploadQuad("ui_panel", panel); err != nil {
		return err
	}

	for _, m := range []struct {
		dst *metadata.MaterialHandle
		cfg resources.MaterialConfig
	}{
		{&state.stone, resources.MaterialConfig{Name: "stone", Albedo: mgl32.Vec4{0.6, 0.6, 0.55, 1}, Roughness: 0.8}},
		{&state.glass, resources.MaterialConfig{Name: "glass", Albedo: mgl32.Vec4{0.4, 0.7, 0.9, 0.35}, Roughness: 0.05, Transparent: true}},
		{&state.uiPanel, resources.MaterialConfig{Name: "ui_panel", Albedo: mgl32.Vec4{1, 1, 1, 1}, Transparent: true}},
	} {
		if *m.dst, err = res.CreateMaterial(m.cfg); err != nil {
			return err
		}
	}

	half := float32(GridSize-1) * gridSpacing / 2
	for z := 0; z < GridSize; z++ {
		for x := 0; x < GridSize; x++ {
			state.grid = append(state.grid, mgl32.Translate3D(float32(x)*gridSpacing-half, 0, float32(z)*gridSpacing-half))
		}
	}
	state.lights = []metadata.Light{
		{Kind: metadata.LightDirectional, Position: mgl32.Vec3{-0.3, -1, -0.4}.Normalize(), Colour: mgl32.Vec3{1, 0.95, 0.9}, Intensity: 1},
		{Kind: metadata.LightPoint, Position: mgl32.Vec3{0, 3, 0}, Colour: mgl32.Vec3{0.9, 0.5, 0.2}, Intensity: 4, Radius: 12},
	}
	core.LogInfo("testbed scene ready: %d cubes", len(state.grid))
	return nil
}

// Update orbits the camera around the grid.
func (g *TestGame) Update(deltaTime float64) error {
	state := g.state()
	state.time += deltaTime
	angle := float32(state.time * 0.2)
	state.WorldCamera.SetPosition(mgl32.Vec3{18 * float32(math.Sin(float64(angle))), 6, 18 * float32(math.Cos(float64(angle)))})
	state.WorldCamera.SetEulerRotation(mgl32.Vec3{mgl32.DegToRad(-15), angle, 0})
	return nil
}

func (g *TestGame) Render(packet *metadata.RenderPacket, deltaTime float64) error {
	state := g.state()
	packet.Camera = state.WorldCamera.Packet(state.width, state.height)
	packet.Lights = append(packet.Lights, state.lights...)

	for i, model := range state.grid {
		material := state.stone
		if i%glassEvery == glassEvery-1 {
			material = state.glass
		}
		packet.Items = append(packet.Items, metadata.DrawItem{Model: model, Mesh: state.cube, Material: material})
	}

	bend := float32(math.Sin(state.time)) * 0.5
	packet.Items = append(packet.Items, metadata.DrawItem{
		Model:    mgl32.Translate3D(0, 2, 0),
		Joints:   []mgl32.Mat4{mgl32.Ident4(), mgl32.HomogRotate3DZ(bend)},
		Mesh:     state.column,
		Material: state.stone,
	})

	packet.UI = append(packet.UI, metadata.DrawItem{Model: mgl32.Ident4(), Mesh: state.panel, Material: state.uiPanel})
	packet.HUD = append(packet.HUD, metadata.HUDText{X: 24, Y: 56, Text: "lumen testbed", Colour: mgl32.Vec4{1, 1, 1, 1}})
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	state := g.state()
	state.width, state.height = width, height
	return nil
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("testbed shutting down")
	return nil
}
