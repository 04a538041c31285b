package testbed

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine"
	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

func TestSceneRendersHeadless(t *testing.T) {
	cfg := config.Default()
	cfg.Renderer.Backend = config.BackendHeadless
	cfg.Renderer.RingBufferSize = 8 << 20
	cfg.Log.Level = "error"

	tg := NewTestGame()
	e, err := engine.New(tg.Game, cfg, engine.WithFrameLimit(3))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer e.Shutdown()
	if err := e.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := e.Renderer().FrameNumber(); got != 3 {
		t.Errorf("got %d frames, want 3", got)
	}

	var packet metadata.RenderPacket
	if err := tg.Render(&packet, 0); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if want := GridSize*GridSize + 1; len(packet.Items) != want {
		t.Errorf("got %d items, want %d", len(packet.Items), want)
	}
	opaque, transparent, skinned := 0, 0, 0
	for _, it := range packet.Items {
		m, ok := e.Resources().Material(it.Material)
		if !ok {
			t.Fatalf("item material %d does not resolve", it.Material)
		}
		if m.Transparent {
			transparent++
		} else {
			opaque++
		}
		if len(it.Joints) > 0 {
			skinned++
		}
	}
	if transparent == 0 || opaque == 0 || skinned != 1 {
		t.Errorf("got %d opaque, %d transparent, %d skinned items", opaque, transparent, skinned)
	}
	if len(packet.UI) != 1 {
		t.Errorf("got %d UI items, want 1", len(packet.UI))
	}
}

func TestCameraView(t *testing.T) {
	c := NewCamera()
	c.SetPosition(mgl32.Vec3{0, 0, 10})
	origin := c.View().Mul4x1(mgl32.Vec4{0, 0, 0, 1})
	if !origin.ApproxEqual(mgl32.Vec4{0, 0, -10, 1}) {
		t.Errorf("got origin %v in view space, want (0, 0, -10)", origin)
	}
	if f := c.Forward(); !f.ApproxEqual(mgl32.Vec3{0, 0, -1}) {
		t.Errorf("got forward %v, want -Z", f)
	}

	c.MoveForward(4)
	if p := c.Position(); !p.ApproxEqual(mgl32.Vec3{0, 0, 6}) {
		t.Errorf("got position %v after moving forward, want (0, 0, 6)", p)
	}

	c.Pitch(mgl32.DegToRad(200))
	if got, limit := c.EulerRotation().X(), mgl32.DegToRad(89); got > limit {
		t.Errorf("got pitch %v, want at most %v", got, limit)
	}
}

func TestCameraDepthRange(t *testing.T) {
	c := NewCamera()
	cam := c.Packet(1600, 900)
	near := cam.Projection.Mul4x1(mgl32.Vec4{0, 0, -c.Near, 1})
	far := cam.Projection.Mul4x1(mgl32.Vec4{0, 0, -c.Far, 1})
	if z := near.Z() / near.W(); mgl32.Abs(z) > 1e-4 {
		t.Errorf("got near depth %v, want 0", z)
	}
	if z := far.Z() / far.W(); mgl32.Abs(z-1) > 1e-4 {
		t.Errorf("got far depth %v, want 1", z)
	}
}
