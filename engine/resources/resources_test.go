package resources

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/renderer"
	"github.com/spaghettifunk/lumen/engine/renderer/graph"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi/headless"
)

var materialBindings = []rhi.DescriptorBinding{
	{Binding: 0, Type: rhi.DescriptorUniformBuffer, Count: 1, Stages: rhi.ShaderStageFragment},
	{Binding: 1, Type: rhi.DescriptorCombinedImageSampler, Count: 1, Stages: rhi.ShaderStageFragment},
}

func newStore(t *testing.T) (*Store, *headless.Device) {
	t.Helper()
	dev := headless.NewDevice(headless.NewWindow(64, 64), rhi.DeviceConfig{}, headless.DefaultOptions())
	t.Cleanup(dev.Destroy)
	layout, err := dev.CreateDescriptorSetLayout(materialBindings)
	if err != nil {
		t.Fatalf("CreateDescriptorSetLayout failed: %v", err)
	}
	return NewStore(dev, layout), dev
}

func TestGenerateCube(t *testing.T) {
	g := GenerateCube(2, 4, 6, 1, 1, "box")
	if len(g.Vertices) != 24 || len(g.Indices) != 36 {
		t.Fatalf("got %d vertices and %d indices, want 24 and 36", len(g.Vertices), len(g.Indices))
	}
	if want := (mgl32.Vec3{1, 2, 3}); g.Max != want {
		t.Errorf("got max %v, want %v", g.Max, want)
	}
	for i, v := range g.Vertices {
		n := mgl32.Vec3(v.Normal)
		if d := n.Dot(mgl32.Vec3(v.Position)); d <= 0 {
			t.Errorf("vertex %d normal %v points inward", i, n)
		}
	}
	for _, idx := range g.Indices {
		if int(idx) >= len(g.Vertices) {
			t.Fatalf("index %d out of range", idx)
		}
	}
}

func TestGenerateCubeDefaultsZeroSizes(t *testing.T) {
	g := GenerateCube(0, 0, 0, 0, 0, "unit")
	if want := (mgl32.Vec3{0.5, 0.5, 0.5}); g.Max != want {
		t.Errorf("got max %v, want %v", g.Max, want)
	}
}

func TestGeneratePlane(t *testing.T) {
	tests := []struct {
		x, y          uint32
		vertices, ids int
	}{
		{1, 1, 4, 6},
		{4, 2, 32, 48},
		{0, 3, 12, 18},
	}
	for _, tt := range tests {
		g := GeneratePlane(10, 10, tt.x, tt.y, 1, 1, "plane")
		if len(g.Vertices) != tt.vertices || len(g.Indices) != tt.ids {
			t.Errorf("%dx%d: got %d vertices and %d indices, want %d and %d",
				tt.x, tt.y, len(g.Vertices), len(g.Indices), tt.vertices, tt.ids)
		}
	}
}

func TestGenerateNormalsMatchesWinding(t *testing.T) {
	g := GeneratePlane(2, 2, 1, 1, 1, 1, "plane")
	for i := range g.Vertices {
		g.Vertices[i].Normal = [3]float32{}
	}
	GenerateNormals(g)
	for i, v := range g.Vertices {
		if v.Normal != [3]float32{0, 0, 1} {
			t.Errorf("vertex %d: got normal %v, want +Z", i, v.Normal)
		}
	}
}

func TestSkinAlongY(t *testing.T) {
	g := GenerateCube(1, 1, 1, 1, 1, "limb")
	SkinAlongY(g, 2)
	for i, v := range g.Vertices {
		want := uint16(0)
		if v.Position[1] > 0 {
			want = 1
		}
		if v.Joints[0] != want {
			t.Errorf("vertex %d at y=%v: got joint %d, want %d", i, v.Position[1], v.Joints[0], want)
		}
	}
}

func TestUploadMeshLayout(t *testing.T) {
	s, dev := newStore(t)
	g := GenerateCube(1, 1, 1, 1, 1, "cube")
	h, err := s.UploadGeometry(g)
	if err != nil {
		t.Fatalf("UploadGeometry failed: %v", err)
	}
	b, ok := s.Mesh(h)
	if !ok {
		t.Fatalf("mesh %d does not resolve", h)
	}
	if b.IndexCount != 36 || b.VertexOffset != 36*4 {
		t.Errorf("got %d indices at vertex offset %d, want 36 at %d", b.IndexCount, b.VertexOffset, 36*4)
	}
	mem, err := dev.MappedBytes(b.IndexBuffer)
	if err != nil {
		t.Fatalf("MappedBytes failed: %v", err)
	}
	if got := binary.LittleEndian.Uint32(mem[4:]); got != g.Indices[1] {
		t.Errorf("got second index %d, want %d", got, g.Indices[1])
	}
	if want := uint64(36*4 + 24*metadata.Vertex3DStride); uint64(len(mem)) != want {
		t.Errorf("got buffer of %d bytes, want %d", len(mem), want)
	}
	x := math.Float32frombits(binary.LittleEndian.Uint32(mem[b.VertexOffset:]))
	if x != g.Vertices[0].Position[0] {
		t.Errorf("got first vertex x %v, want %v", x, g.Vertices[0].Position[0])
	}
}

func TestUploadEmptyMesh(t *testing.T) {
	s, _ := newStore(t)
	if _, err := s.UploadMesh("empty", nil, nil); err == nil {
		t.Error("got nil error for an empty mesh")
	}
}

func TestCreateMaterial(t *testing.T) {
	s, dev := newStore(t)
	h, err := s.CreateMaterial(MaterialConfig{
		Name:        "glass",
		Albedo:      mgl32.Vec4{0.2, 0.4, 0.8, 0.5},
		Roughness:   0.1,
		Transparent: true,
	})
	if err != nil {
		t.Fatalf("CreateMaterial failed: %v", err)
	}
	m, ok := s.Material(h)
	if !ok || !m.Transparent || !m.DescriptorSet.IsValid() {
		t.Fatalf("got material %+v (found %v), want a transparent material with a set", m, ok)
	}
	w, ok := dev.DescriptorWrite(m.DescriptorSet, 0)
	if !ok || w.Range != MaterialUniformSize {
		t.Fatalf("got uniform write %+v (found %v), want range %d", w, ok, MaterialUniformSize)
	}
	mem, err := dev.MappedBytes(w.Buffer)
	if err != nil {
		t.Fatalf("MappedBytes failed: %v", err)
	}
	if a := math.Float32frombits(binary.LittleEndian.Uint32(mem[12:])); a != 0.5 {
		t.Errorf("got albedo alpha %v, want 0.5", a)
	}
	if r := math.Float32frombits(binary.LittleEndian.Uint32(mem[16:])); r != 0.1 {
		t.Errorf("got roughness %v, want 0.1", r)
	}
	if _, ok := dev.DescriptorWrite(m.DescriptorSet, 1); !ok {
		t.Error("got no texture write at binding 1")
	}
}

func TestReleaseAndDestroy(t *testing.T) {
	s, dev := newStore(t)
	before := dev.Stats()

	mesh, err := s.UploadGeometry(GenerateCube(1, 1, 1, 1, 1, "cube"))
	if err != nil {
		t.Fatalf("UploadGeometry failed: %v", err)
	}
	if _, err := s.CreateMaterial(MaterialConfig{Name: "a"}); err != nil {
		t.Fatalf("CreateMaterial failed: %v", err)
	}
	if _, err := s.UploadQuad("panel", GenerateQuad2D(0, 0, 10, 10, mgl32.Vec4{1, 1, 1, 1})); err != nil {
		t.Fatalf("UploadQuad failed: %v", err)
	}

	s.ReleaseMesh(mesh)
	if _, ok := s.Mesh(mesh); ok {
		t.Error("released mesh still resolves")
	}
	if meshes, materials := s.Counts(); meshes != 1 || materials != 1 {
		t.Errorf("got %d meshes and %d materials, want 1 and 1", meshes, materials)
	}

	s.Destroy()
	if after := dev.Stats(); after != before {
		t.Errorf("got stats %+v after Destroy, want %+v", after, before)
	}
}

// Items sharing one mesh and material collapse into a single instanced draw.
func TestStoreFeedsRenderer(t *testing.T) {
	cfg := config.Default()
	cfg.Renderer.Backend = config.BackendHeadless
	cfg.Renderer.RingBufferSize = 8 << 20
	backend := headless.NewBackend(headless.DefaultOptions())
	r := renderer.New(backend, cfg)
	if err := r.Initialize(headless.NewWindow(320, 240), rhi.Extent{Width: 320, Height: 240}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer r.Shutdown()

	s := NewStore(r.Device(), r.MaterialLayout())
	mesh, err := s.UploadGeometry(GenerateCube(1, 1, 1, 1, 1, "cube"))
	if err != nil {
		t.Fatalf("UploadGeometry failed: %v", err)
	}
	mat, err := s.CreateMaterial(MaterialConfig{Name: "stone", Albedo: mgl32.Vec4{1, 1, 1, 1}})
	if err != nil {
		t.Fatalf("CreateMaterial failed: %v", err)
	}

	packet := &metadata.RenderPacket{Resources: s}
	for i := 0; i < 16; i++ {
		packet.Items = append(packet.Items, metadata.DrawItem{
			Model:    mgl32.Translate3D(float32(i), 0, 0),
			Mesh:     mesh,
			Material: mat,
		})
	}
	if err := r.RenderFrame(packet); err != nil {
		t.Fatalf("RenderFrame failed: %v", err)
	}
	if err := r.WaitIdle(); err != nil {
		t.Fatalf("WaitIdle failed: %v", err)
	}

	var draws []headless.Event
	for _, ev := range backend.LastDevice().Trace() {
		if ev.Kind == headless.EventDrawIndexed && ev.Subpass == int(graph.GBuffer) {
			draws = append(draws, ev)
		}
	}
	if len(draws) != 1 || draws[0].Instances != 16 || draws[0].Count != 36 {
		t.Errorf("got GBuffer draws %+v, want one draw of 36 indices and 16 instances", draws)
	}
	s.Destroy()
}
