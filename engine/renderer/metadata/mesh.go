package metadata

import "github.com/spaghettifunk/lumen/engine/renderer/rhi"

/** @brief Opaque reference to a mesh already uploaded by the resource system. */
type MeshHandle uint32

/** @brief Opaque reference to a material already uploaded by the resource system. */
type MaterialHandle uint32

/** @brief Vertex layout of every lit 3D mesh. */
type Vertex3D struct {
	/** @brief The position of the vertex */
	Position [3]float32
	/** @brief The normal of the vertex. */
	Normal [3]float32
	/** @brief The texture coordinate of the vertex. */
	Texcoord [2]float32
	/** @brief Indices of the four joints influencing the vertex. */
	Joints [4]uint16
	/** @brief Weights of the four joints influencing the vertex. */
	Weights [4]float32
}

/** @brief Size in bytes of Vertex3D as laid out in vertex buffers. */
const Vertex3DStride = 12 + 12 + 8 + 8 + 16

/** @brief Vertex layout of UI geometry. */
type Vertex2D struct {
	Position [2]float32
	Texcoord [2]float32
	Colour   [4]float32
}

const Vertex2DStride = 8 + 8 + 16

/** @brief GPU buffers backing a mesh. */
type MeshBinding struct {
	VertexBuffer rhi.Buffer
	VertexOffset uint64
	IndexBuffer  rhi.Buffer
	IndexOffset  uint64
	IndexCount   uint32
}

/** @brief GPU state backing a material. */
type MaterialBinding struct {
	/** @brief Descriptor set compatible with the material set layout of the pass drawing it. */
	DescriptorSet rhi.DescriptorSet
	/** @brief Transparent materials are drawn by the forward pass instead of the GBuffer pass. */
	Transparent bool
}

/** @brief Resolves handles to uploaded GPU resources. Read-only during a frame. */
type ResourceProvider interface {
	Mesh(h MeshHandle) (MeshBinding, bool)
	Material(h MaterialHandle) (MaterialBinding, bool)
}
