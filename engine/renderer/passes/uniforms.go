package passes

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/config"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

// MaxLights is the capacity of the light block.
const MaxLights = 64

// Block sizes as declared in the shaders, std140 for uniform blocks and
// std430 for storage blocks.
const (
	FrameUniformsSize = 3*64 + 16 + 16
	lightStride       = 3 * 16
	LightBlockSize    = 16 + MaxLights*lightStride
	InstanceStride    = 64 + 16
	InstanceBlockSize = MaxInstancesPerDraw * InstanceStride
	JointStride       = 64
	JointBlockSize    = MaxJointsPerDraw * JointStride
	ToneParamsSize    = 16
	GradeParamsSize   = 3 * 16
)

type blockWriter struct {
	buf []byte
	off int
}

func (w *blockWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *blockWriter) f32(v float32) {
	w.u32(math.Float32bits(v))
}

func (w *blockWriter) vec4(x, y, z, a float32) {
	w.f32(x)
	w.f32(y)
	w.f32(z)
	w.f32(a)
}

func (w *blockWriter) mat4(m mgl32.Mat4) {
	for _, v := range m {
		w.f32(v)
	}
}

func (w *blockWriter) seek(off int) {
	w.off = off
}

// finish zeroes whatever was not written, ring memory holds older frames.
func (w *blockWriter) finish() {
	clear(w.buf[w.off:])
}

// EncodeFrameUniforms writes the per-frame camera block.
func EncodeFrameUniforms(dst []byte, cam metadata.Camera, time, delta float32, extent rhi.Extent) {
	w := &blockWriter{buf: dst}
	inv := cam.Projection.Mul4(cam.View).Inv()
	w.mat4(cam.View)
	w.mat4(cam.Projection)
	w.mat4(inv)
	w.vec4(cam.Position.X(), cam.Position.Y(), cam.Position.Z(), 1)
	w.vec4(time, delta, float32(extent.Width), float32(extent.Height))
	w.finish()
}

// UICamera is an orthographic camera mapping pixels, origin top left, to
// clip space with y pointing down.
func UICamera(extent rhi.Extent) metadata.Camera {
	return metadata.Camera{
		View:       mgl32.Ident4(),
		Projection: mgl32.Ortho(0, float32(extent.Width), 0, float32(extent.Height), -1, 1),
	}
}

// EncodeLights writes up to MaxLights lights and returns how many were written.
func EncodeLights(dst []byte, lights []metadata.Light) int {
	n := min(len(lights), MaxLights)
	w := &blockWriter{buf: dst}
	w.u32(uint32(n))
	w.seek(16)
	for _, l := range lights[:n] {
		w.vec4(l.Position.X(), l.Position.Y(), l.Position.Z(), float32(l.Kind))
		w.vec4(l.Colour.X(), l.Colour.Y(), l.Colour.Z(), l.Intensity)
		w.vec4(l.Radius, 0, 0, 0)
	}
	w.finish()
	return n
}

// EncodeInstances writes one instance record per chunk item into instances
// and their joint matrices, packed in item order, into joints. joints may be
// nil when the chunk has no skinned items.
func EncodeInstances(instances, joints []byte, chunk Chunk) {
	iw := &blockWriter{buf: instances}
	jw := &blockWriter{buf: joints}
	next := 0
	for _, item := range chunk.Items {
		n := min(len(item.Joints), MaxJointsPerDraw-next)
		iw.mat4(item.Model)
		iw.u32(uint32(next))
		iw.u32(uint32(n))
		iw.u32(0)
		iw.u32(0)
		for _, j := range item.Joints[:n] {
			jw.mat4(j)
		}
		next += n
	}
	iw.finish()
	if joints != nil {
		jw.finish()
	}
}

func tonemapIndex(op config.TonemapOperator) uint32 {
	switch op {
	case config.TonemapReinhard:
		return 1
	case config.TonemapNone:
		return 2
	}
	return 0
}

func EncodeToneParams(dst []byte, p config.PostProcess) {
	w := &blockWriter{buf: dst}
	w.f32(p.Exposure)
	w.u32(tonemapIndex(p.Tonemap))
	w.f32(0)
	w.f32(0)
	w.finish()
}

func EncodeGradeParams(dst []byte, p config.PostProcess) {
	w := &blockWriter{buf: dst}
	w.vec4(p.Contrast, p.Saturation, p.Gamma, 0)
	w.vec4(p.Lift[0], p.Lift[1], p.Lift[2], 0)
	w.vec4(p.Gain[0], p.Gain[1], p.Gain[2], 1)
	w.finish()
}
