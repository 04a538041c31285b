package passes

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

type fakeResources struct {
	meshes    map[metadata.MeshHandle]metadata.MeshBinding
	materials map[metadata.MaterialHandle]metadata.MaterialBinding
}

func (r *fakeResources) Mesh(h metadata.MeshHandle) (metadata.MeshBinding, bool) {
	m, ok := r.meshes[h]
	return m, ok
}

func (r *fakeResources) Material(h metadata.MaterialHandle) (metadata.MaterialBinding, bool) {
	m, ok := r.materials[h]
	return m, ok
}

func staticResources() *fakeResources {
	return &fakeResources{
		meshes: map[metadata.MeshHandle]metadata.MeshBinding{
			1: {IndexCount: 36},
			2: {IndexCount: 6},
		},
		materials: map[metadata.MaterialHandle]metadata.MaterialBinding{
			1: {},
			2: {},
			3: {Transparent: true},
		},
	}
}

func item(mesh metadata.MeshHandle, mat metadata.MaterialHandle, x float32) metadata.DrawItem {
	return metadata.DrawItem{Model: mgl32.Translate3D(x, 0, 0), Mesh: mesh, Material: mat}
}

func TestBuildBatches(t *testing.T) {
	items := []metadata.DrawItem{
		item(2, 2, 0),
		item(1, 1, 1),
		item(2, 2, 2),
		item(1, 3, 3),
		item(9, 1, 4),
		item(1, 9, 5),
		item(2, 1, 6),
		item(1, 1, 7),
	}
	opaque := func(m metadata.MaterialBinding) bool { return !m.Transparent }
	batches := BuildBatches(items, staticResources(), opaque)

	want := []struct {
		material metadata.MaterialHandle
		mesh     metadata.MeshHandle
		xs       []float32
	}{
		{1, 1, []float32{1, 7}},
		{1, 2, []float32{6}},
		{2, 2, []float32{0, 2}},
	}
	if len(batches) != len(want) {
		t.Fatalf("got %d batches, want %d", len(batches), len(want))
	}
	for i, w := range want {
		b := batches[i]
		if b.Material != w.material || b.Mesh != w.mesh {
			t.Errorf("batch %d is (%d, %d), want (%d, %d)", i, b.Material, b.Mesh, w.material, w.mesh)
			continue
		}
		if len(b.Items) != len(w.xs) {
			t.Errorf("batch %d has %d items, want %d", i, len(b.Items), len(w.xs))
			continue
		}
		for j, x := range w.xs {
			if got := b.Items[j].Model.At(0, 3); got != x {
				t.Errorf("batch %d item %d at x=%v, want %v", i, j, got, x)
			}
		}
	}
	if b := batches[0]; b.MeshBinding.IndexCount != 36 {
		t.Errorf("mesh binding not resolved: %+v", b.MeshBinding)
	}

	transparent := BuildBatches(items, staticResources(), func(m metadata.MaterialBinding) bool { return m.Transparent })
	if len(transparent) != 1 || transparent[0].Material != 3 {
		t.Errorf("transparent batches = %+v", transparent)
	}
	if BuildBatches(nil, staticResources(), nil) != nil {
		t.Error("empty input produced batches")
	}
	if BuildBatches(items, nil, nil) != nil {
		t.Error("missing resources produced batches")
	}
}

func withJoints(n int) metadata.DrawItem {
	return metadata.DrawItem{Joints: make([]mgl32.Mat4, n)}
}

func TestSplitBatch(t *testing.T) {
	many := func(n, joints int) []metadata.DrawItem {
		out := make([]metadata.DrawItem, n)
		for i := range out {
			out[i] = withJoints(joints)
		}
		return out
	}
	tests := []struct {
		name   string
		items  []metadata.DrawItem
		sizes  []int
		joints []int
	}{
		{"empty", nil, nil, nil},
		{"under", many(10, 0), []int{10}, []int{0}},
		{"exact", many(MaxInstancesPerDraw, 0), []int{256}, []int{0}},
		{"one over", many(MaxInstancesPerDraw+1, 0), []int{256, 1}, []int{0, 0}},
		{"three chunks", many(600, 0), []int{256, 256, 88}, []int{0, 0, 0}},
		{"joint bound", many(5, 200), []int{2, 2, 1}, []int{400, 400, 200}},
		{"joints exact", many(2, 256), []int{2}, []int{512}},
		{"oversized", []metadata.DrawItem{withJoints(10), withJoints(700), withJoints(10)}, []int{1, 1, 1}, []int{10, 512, 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := SplitBatch(tt.items, MaxInstancesPerDraw, MaxJointsPerDraw)
			if len(chunks) != len(tt.sizes) {
				t.Fatalf("got %d chunks, want %d", len(chunks), len(tt.sizes))
			}
			total := 0
			for i, c := range chunks {
				if len(c.Items) != tt.sizes[i] {
					t.Errorf("chunk %d has %d items, want %d", i, len(c.Items), tt.sizes[i])
				}
				if c.Joints != tt.joints[i] {
					t.Errorf("chunk %d has %d joints, want %d", i, c.Joints, tt.joints[i])
				}
				if len(c.Items) > MaxInstancesPerDraw || c.Joints > MaxJointsPerDraw {
					t.Errorf("chunk %d exceeds capacity: %d items, %d joints", i, len(c.Items), c.Joints)
				}
				total += len(c.Items)
			}
			if total != len(tt.items) {
				t.Errorf("chunks cover %d items, want %d", total, len(tt.items))
			}
		})
	}
}

func TestEncodeInstances(t *testing.T) {
	a := withJoints(2)
	a.Model = mgl32.Translate3D(1, 2, 3)
	a.Joints[1] = mgl32.Scale3D(2, 2, 2)
	b := withJoints(0)
	b.Model = mgl32.Translate3D(4, 5, 6)
	c := withJoints(3)
	chunk := Chunk{Items: []metadata.DrawItem{a, b, c}, Joints: 5}

	instances := make([]byte, InstanceBlockSize)
	joints := make([]byte, JointBlockSize)
	for i := range instances {
		instances[i] = 0xff
	}
	EncodeInstances(instances, joints, chunk)

	if got := readMat4(instances, 0).At(0, 3); got != 1 {
		t.Errorf("instance 0 x = %v, want 1", got)
	}
	if got := readMat4(instances, InstanceStride).At(2, 3); got != 6 {
		t.Errorf("instance 1 z = %v, want 6", got)
	}
	offsets := []struct{ offset, count uint32 }{{0, 2}, {2, 0}, {2, 3}}
	for i, want := range offsets {
		base := i*InstanceStride + 64
		if off, n := readU32(instances, base), readU32(instances, base+4); off != want.offset || n != want.count {
			t.Errorf("instance %d joints = (%d, %d), want (%d, %d)", i, off, n, want.offset, want.count)
		}
	}
	if got := readMat4(joints, JointStride).At(1, 1); got != 2 {
		t.Errorf("joint 1 scale = %v, want 2", got)
	}
	if instances[3*InstanceStride] != 0 || instances[InstanceBlockSize-1] != 0 {
		t.Error("unused instance records were not cleared")
	}
}

func TestEncodeLightsCaps(t *testing.T) {
	lights := make([]metadata.Light, MaxLights+5)
	lights[0] = metadata.Light{Kind: metadata.LightPoint, Position: mgl32.Vec3{1, 2, 3}, Radius: 7}
	dst := make([]byte, LightBlockSize)
	if n := EncodeLights(dst, lights); n != MaxLights {
		t.Errorf("encoded %d lights, want %d", n, MaxLights)
	}
	if got := readU32(dst, 0); got != MaxLights {
		t.Errorf("count = %d, want %d", got, MaxLights)
	}
	if got := readF32(dst, 16+12); got != float32(metadata.LightPoint) {
		t.Errorf("kind = %v, want point", got)
	}
	if got := readF32(dst, 16+32); got != 7 {
		t.Errorf("radius = %v, want 7", got)
	}
}

func TestEncodeFrameUniforms(t *testing.T) {
	cam := metadata.Camera{
		View:       mgl32.LookAtV(mgl32.Vec3{0, 0, 5}, mgl32.Vec3{}, mgl32.Vec3{0, 1, 0}),
		Projection: mgl32.Perspective(mgl32.DegToRad(60), 16.0/9.0, 0.1, 100),
		Position:   mgl32.Vec3{0, 0, 5},
	}
	dst := make([]byte, FrameUniformsSize)
	EncodeFrameUniforms(dst, cam, 1.5, 0.016, rhi.Extent{Width: 1920, Height: 1080})
	if got := readMat4(dst, 0); !got.ApproxEqual(cam.View) {
		t.Errorf("view = %v, want %v", got, cam.View)
	}
	inv := readMat4(dst, 128)
	if id := inv.Mul4(cam.Projection.Mul4(cam.View)); !id.ApproxEqualThreshold(mgl32.Ident4(), 1e-4) {
		t.Errorf("inverse view projection is off: %v", id)
	}
	if got := readF32(dst, 192+8); got != 5 {
		t.Errorf("camera z = %v, want 5", got)
	}
	if got := readF32(dst, 208+8); got != 1920 {
		t.Errorf("width = %v, want 1920", got)
	}
}
