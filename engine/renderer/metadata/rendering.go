package metadata

import "github.com/go-gl/mathgl/mgl32"

/** @brief One visible object to draw this frame. */
type DrawItem struct {
	/** @brief Object to world transform. */
	Model mgl32.Mat4
	/** @brief Skinning joint transforms; empty for static meshes. */
	Joints   []mgl32.Mat4
	Mesh     MeshHandle
	Material MaterialHandle
}

type Camera struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
	Position   mgl32.Vec3
}

type LightKind uint32

const (
	LightDirectional LightKind = iota
	LightPoint
)

type Light struct {
	Kind LightKind
	/** @brief World position for point lights, direction for directional lights. */
	Position  mgl32.Vec3
	Colour    mgl32.Vec3
	Intensity float32
	Radius    float32
}

/** @brief A line of text for the HUD overlay, in pixels from the top left corner. */
type HUDText struct {
	X, Y   float32
	Text   string
	Colour mgl32.Vec4
}

/**
 * @brief Everything the renderer needs for one frame. Built by the scene
 * every frame and not modified until RenderFrame returns.
 */
type RenderPacket struct {
	DeltaTime float64
	/** @brief Seconds since the application started. */
	Time   float64
	Camera Camera
	/** @brief Opaque and transparent 3D items, in scene order. */
	Items []DrawItem
	/** @brief UI items, in screen pixels with the origin at the top left. */
	UI     []DrawItem
	Lights []Light
	HUD    []HUDText
	/** @brief Material holding the HUD font atlas; zero skips drawing HUD text. */
	HUDFont   MaterialHandle
	Resources ResourceProvider
}
