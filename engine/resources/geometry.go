package resources

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// Geometry is CPU side mesh data ready for UploadMesh.
type Geometry struct {
	Name     string
	Vertices []metadata.Vertex3D
	Indices  []uint32
	Min, Max mgl32.Vec3
}

func nonZero(name string, v float32) float32 {
	if v == 0 {
		core.LogWarn("%s must be nonzero. Defaulting to one.", name)
		return 1
	}
	return v
}

// GenerateCube builds an axis aligned box centered on the origin with four
// vertices per face so every face keeps its own normal.
func GenerateCube(width, height, depth, tileX, tileY float32, name string) *Geometry {
	width = nonZero("width", width)
	height = nonZero("height", height)
	depth = nonZero("depth", depth)
	tileX = nonZero("tileX", tileX)
	tileY = nonZero("tileY", tileY)

	hx, hy, hz := width*0.5, height*0.5, depth*0.5
	g := &Geometry{
		Name:     name,
		Vertices: make([]metadata.Vertex3D, 0, 24),
		Indices:  make([]uint32, 0, 36),
		Min:      mgl32.Vec3{-hx, -hy, -hz},
		Max:      mgl32.Vec3{hx, hy, hz},
	}

	faces := []struct {
		normal  [3]float32
		corners [4][3]float32
	}{
		// front, back, left, right, bottom, top
		{[3]float32{0, 0, 1}, [4][3]float32{{-hx, -hy, hz}, {hx, hy, hz}, {-hx, hy, hz}, {hx, -hy, hz}}},
		{[3]float32{0, 0, -1}, [4][3]float32{{hx, -hy, -hz}, {-hx, hy, -hz}, {hx, hy, -hz}, {-hx, -hy, -hz}}},
		{[3]float32{-1, 0, 0}, [4][3]float32{{-hx, -hy, -hz}, {-hx, hy, hz}, {-hx, hy, -hz}, {-hx, -hy, hz}}},
		{[3]float32{1, 0, 0}, [4][3]float32{{hx, -hy, hz}, {hx, hy, -hz}, {hx, hy, hz}, {hx, -hy, -hz}}},
		{[3]float32{0, -1, 0}, [4][3]float32{{hx, -hy, hz}, {-hx, -hy, -hz}, {hx, -hy, -hz}, {-hx, -hy, hz}}},
		{[3]float32{0, 1, 0}, [4][3]float32{{-hx, hy, hz}, {hx, hy, -hz}, {-hx, hy, -hz}, {hx, hy, hz}}},
	}
	uvs := [4][2]float32{{0, 0}, {tileX, tileY}, {0, tileY}, {tileX, 0}}

	for _, f := range faces {
		base := uint32(len(g.Vertices))
		for i, c := range f.corners {
			g.Vertices = append(g.Vertices, metadata.Vertex3D{
				Position: c,
				Normal:   f.normal,
				Texcoord: uvs[i],
				Weights:  [4]float32{1, 0, 0, 0},
			})
		}
		g.Indices = append(g.Indices, base, base+1, base+2, base, base+3, base+1)
	}
	return g
}

// GeneratePlane builds a segmented plane on the XY axis facing +Z.
func GeneratePlane(width, height float32, xSegments, ySegments uint32, tileX, tileY float32, name string) *Geometry {
	width = nonZero("width", width)
	height = nonZero("height", height)
	tileX = nonZero("tileX", tileX)
	tileY = nonZero("tileY", tileY)
	if xSegments < 1 {
		core.LogWarn("xSegments must be a positive number. Defaulting to one.")
		xSegments = 1
	}
	if ySegments < 1 {
		core.LogWarn("ySegments must be a positive number. Defaulting to one.")
		ySegments = 1
	}

	segW := width / float32(xSegments)
	segH := height / float32(ySegments)
	hw, hh := width*0.5, height*0.5
	g := &Geometry{
		Name:     name,
		Vertices: make([]metadata.Vertex3D, 0, xSegments*ySegments*4),
		Indices:  make([]uint32, 0, xSegments*ySegments*6),
		Min:      mgl32.Vec3{-hw, -hh, 0},
		Max:      mgl32.Vec3{hw, hh, 0},
	}
	for y := uint32(0); y < ySegments; y++ {
		for x := uint32(0); x < xSegments; x++ {
			minX := float32(x)*segW - hw
			minY := float32(y)*segH - hh
			maxX, maxY := minX+segW, minY+segH
			minU := float32(x) / float32(xSegments) * tileX
			minV := float32(y) / float32(ySegments) * tileY
			maxU := float32(x+1) / float32(xSegments) * tileX
			maxV := float32(y+1) / float32(ySegments) * tileY

			base := uint32(len(g.Vertices))
			for _, c := range [4][4]float32{
				{minX, minY, minU, minV},
				{maxX, maxY, maxU, maxV},
				{minX, maxY, minU, maxV},
				{maxX, minY, maxU, minV},
			} {
				g.Vertices = append(g.Vertices, metadata.Vertex3D{
					Position: [3]float32{c[0], c[1], 0},
					Normal:   [3]float32{0, 0, 1},
					Texcoord: [2]float32{c[2], c[3]},
					Weights:  [4]float32{1, 0, 0, 0},
				})
			}
			g.Indices = append(g.Indices, base, base+1, base+2, base, base+3, base+1)
		}
	}
	return g
}

// GenerateNormals replaces vertex normals with face normals. Smoothing is
// left to a separate pass.
func GenerateNormals(g *Geometry) {
	for i := 0; i+2 < len(g.Indices); i += 3 {
		i0, i1, i2 := g.Indices[i], g.Indices[i+1], g.Indices[i+2]
		p0 := mgl32.Vec3(g.Vertices[i0].Position)
		edge1 := mgl32.Vec3(g.Vertices[i1].Position).Sub(p0)
		edge2 := mgl32.Vec3(g.Vertices[i2].Position).Sub(p0)
		n := edge1.Cross(edge2).Normalize()
		for _, idx := range []uint32{i0, i1, i2} {
			g.Vertices[idx].Normal = n
		}
	}
}

// SkinAlongY binds every vertex to one of joints bones by its height, for
// a simple bending demo.
func SkinAlongY(g *Geometry, joints int) {
	if joints < 1 {
		return
	}
	span := g.Max.Y() - g.Min.Y()
	for i := range g.Vertices {
		v := &g.Vertices[i]
		t := float32(0)
		if span > 0 {
			t = (v.Position[1] - g.Min.Y()) / span
		}
		j := min(int(t*float32(joints)), joints-1)
		v.Joints = [4]uint16{uint16(j), 0, 0, 0}
		v.Weights = [4]float32{1, 0, 0, 0}
	}
}

// Quad2D is a screen space rectangle in pixels from the top left corner.
type Quad2D struct {
	Vertices []metadata.Vertex2D
	Indices  []uint32
}

func GenerateQuad2D(x, y, width, height float32, colour mgl32.Vec4) *Quad2D {
	corner := func(px, py, u, v float32) metadata.Vertex2D {
		return metadata.Vertex2D{Position: [2]float32{px, py}, Texcoord: [2]float32{u, v}, Colour: colour}
	}
	return &Quad2D{
		Vertices: []metadata.Vertex2D{
			corner(x, y, 0, 0),
			corner(x+width, y+height, 1, 1),
			corner(x, y+height, 0, 1),
			corner(x+width, y, 1, 0),
		},
		Indices: []uint32{0, 1, 2, 0, 3, 1},
	}
}
