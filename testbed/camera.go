package testbed

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// vulkanClip maps OpenGL clip depth [-w, w] onto [0, w].
var vulkanClip = mgl32.Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

// Camera is a free camera driven by a position and Euler angles (pitch,
// yaw, roll). The view matrix is rebuilt lazily after a change.
type Camera struct {
	position      mgl32.Vec3
	eulerRotation mgl32.Vec3
	isDirty       bool
	viewMatrix    mgl32.Mat4

	FovY      float32
	Near, Far float32
}

func NewCamera() *Camera {
	c := &Camera{FovY: mgl32.DegToRad(45), Near: 0.1, Far: 1000}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.eulerRotation = mgl32.Vec3{}
	c.position = mgl32.Vec3{}
	c.isDirty = false
	c.viewMatrix = mgl32.Ident4()
}

func (c *Camera) Position() mgl32.Vec3 {
	return c.position
}

func (c *Camera) SetPosition(position mgl32.Vec3) {
	c.position = position
	c.isDirty = true
}

func (c *Camera) EulerRotation() mgl32.Vec3 {
	return c.eulerRotation
}

func (c *Camera) SetEulerRotation(rotation mgl32.Vec3) {
	c.eulerRotation = rotation
	c.isDirty = true
}

func (c *Camera) View() mgl32.Mat4 {
	if c.isDirty {
		r := c.eulerRotation
		rotation := mgl32.AnglesToQuat(r.X(), r.Y(), r.Z(), mgl32.XYZ).Mat4()
		translation := mgl32.Translate3D(c.position.X(), c.position.Y(), c.position.Z())
		c.viewMatrix = translation.Mul4(rotation).Inv()
		c.isDirty = false
	}
	return c.viewMatrix
}

// Forward is the direction the camera looks in, -Z in view space.
func (c *Camera) Forward() mgl32.Vec3 {
	inv := c.View().Inv()
	return inv.Mul4x1(mgl32.Vec4{0, 0, -1, 0}).Vec3().Normalize()
}

func (c *Camera) MoveForward(amount float32) {
	c.position = c.position.Add(c.Forward().Mul(amount))
	c.isDirty = true
}

func (c *Camera) Yaw(amount float32) {
	c.eulerRotation[1] += amount
	c.isDirty = true
}

func (c *Camera) Pitch(amount float32) {
	// Clamp against gimbal lock.
	limit := mgl32.DegToRad(89)
	c.eulerRotation[0] = mgl32.Clamp(c.eulerRotation[0]+amount, -limit, limit)
	c.isDirty = true
}

// Packet builds the per-frame camera block for an aspect ratio of
// width/height.
func (c *Camera) Packet(width, height uint32) metadata.Camera {
	aspect := float32(1)
	if height > 0 {
		aspect = float32(width) / float32(height)
	}
	return metadata.Camera{
		View:       c.View(),
		Projection: vulkanClip.Mul4(mgl32.Perspective(c.FovY, aspect, c.Near, c.Far)),
		Position:   c.position,
	}
}
