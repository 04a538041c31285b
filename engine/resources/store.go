// Package resources owns the GPU copies of meshes and materials the scene
// draws and resolves their handles for the renderer.
package resources

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
	"github.com/spaghettifunk/lumen/engine/renderer/rhi"
)

// MaterialUniformSize is the std140 size of the material block:
// vec4 albedo, float roughness, float metalness, padded to 32 bytes.
const MaterialUniformSize = 32

type MaterialConfig struct {
	Name        string
	Albedo      mgl32.Vec4
	Roughness   float32
	Metalness   float32
	Transparent bool
	// TextureExtent sizes the albedo texture, 1x1 when zero.
	TextureExtent rhi.Extent
}

type mesh struct {
	name    string
	binding metadata.MeshBinding
}

type material struct {
	name    string
	binding metadata.MaterialBinding
	uniform rhi.Buffer
	texture rhi.Image
}

// Store uploads meshes and materials into host visible memory. Lookups are
// safe while frames are recorded; uploads and releases must not overlap a
// frame that uses the handle.
type Store struct {
	device rhi.Device
	layout rhi.DescriptorSetLayout

	mu        sync.RWMutex
	meshes    map[metadata.MeshHandle]*mesh
	materials map[metadata.MaterialHandle]*material
	nextMesh  metadata.MeshHandle
	nextMat   metadata.MaterialHandle
}

var _ metadata.ResourceProvider = (*Store)(nil)

// NewStore allocates material sets against materialLayout, the layout the
// geometry passes bind at set 1.
func NewStore(device rhi.Device, materialLayout rhi.DescriptorSetLayout) *Store {
	return &Store{
		device:    device,
		layout:    materialLayout,
		meshes:    make(map[metadata.MeshHandle]*mesh),
		materials: make(map[metadata.MaterialHandle]*material),
	}
}

func (s *Store) Mesh(h metadata.MeshHandle) (metadata.MeshBinding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meshes[h]
	if !ok {
		return metadata.MeshBinding{}, false
	}
	return m.binding, true
}

func (s *Store) Material(h metadata.MaterialHandle) (metadata.MaterialBinding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.materials[h]
	if !ok {
		return metadata.MaterialBinding{}, false
	}
	return m.binding, true
}

func (s *Store) UploadGeometry(g *Geometry) (metadata.MeshHandle, error) {
	vertices, err := binary.Append(nil, binary.LittleEndian, g.Vertices)
	if err != nil {
		return 0, errors.Wrapf(err, "encoding %s vertices", g.Name)
	}
	return s.UploadMesh(g.Name, vertices, g.Indices)
}

func (s *Store) UploadQuad(name string, q *Quad2D) (metadata.MeshHandle, error) {
	vertices, err := binary.Append(nil, binary.LittleEndian, q.Vertices)
	if err != nil {
		return 0, errors.Wrapf(err, "encoding %s vertices", name)
	}
	return s.UploadMesh(name, vertices, q.Indices)
}

// UploadMesh copies already encoded vertices and 32 bit indices into one
// buffer, indices first.
func (s *Store) UploadMesh(name string, vertices []byte, indices []uint32) (metadata.MeshHandle, error) {
	if len(vertices) == 0 || len(indices) == 0 {
		return 0, errors.Newf("mesh %q is empty", name)
	}
	indexBytes := uint64(len(indices) * 4)
	buf, err := s.device.CreateBuffer(rhi.BufferDesc{
		Name:        name,
		Size:        indexBytes + uint64(len(vertices)),
		Usage:       rhi.BufferUsageVertex | rhi.BufferUsageIndex,
		HostVisible: true,
	})
	if err != nil {
		return 0, errors.Wrapf(err, "creating buffer for mesh %q", name)
	}
	mem, err := s.device.MappedBytes(buf)
	if err != nil {
		s.device.DestroyBuffer(buf)
		return 0, err
	}
	for i, idx := range indices {
		binary.LittleEndian.PutUint32(mem[i*4:], idx)
	}
	copy(mem[indexBytes:], vertices)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMesh++
	h := s.nextMesh
	s.meshes[h] = &mesh{
		name: name,
		binding: metadata.MeshBinding{
			VertexBuffer: buf,
			VertexOffset: indexBytes,
			IndexBuffer:  buf,
			IndexCount:   uint32(len(indices)),
		},
	}
	core.LogDebug("mesh %q uploaded as %d: %d indices, %d vertex bytes", name, h, len(indices), len(vertices))
	return h, nil
}

// CreateMaterial writes the material block and allocates its descriptor set.
func (s *Store) CreateMaterial(cfg MaterialConfig) (metadata.MaterialHandle, error) {
	m := &material{name: cfg.Name, binding: metadata.MaterialBinding{Transparent: cfg.Transparent}}
	if err := s.createMaterial(m, cfg); err != nil {
		s.releaseMaterial(m)
		return 0, errors.Wrapf(err, "creating material %q", cfg.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMat++
	h := s.nextMat
	s.materials[h] = m
	return h, nil
}

func (s *Store) createMaterial(m *material, cfg MaterialConfig) error {
	var err error
	m.uniform, err = s.device.CreateBuffer(rhi.BufferDesc{
		Name:        cfg.Name + "-uniform",
		Size:        MaterialUniformSize,
		Usage:       rhi.BufferUsageUniform,
		HostVisible: true,
	})
	if err != nil {
		return err
	}
	mem, err := s.device.MappedBytes(m.uniform)
	if err != nil {
		return err
	}
	EncodeMaterial(mem, cfg)

	extent := cfg.TextureExtent
	if extent.IsZero() {
		extent = rhi.Extent{Width: 1, Height: 1}
	}
	// TODO: stage texel data through a transfer queue once textures are
	// loaded from disk; until then the image contents are undefined and
	// shaders rely on the albedo block.
	m.texture, err = s.device.CreateImage(rhi.ImageDesc{
		Name:    cfg.Name + "-albedo",
		Extent:  extent,
		Format:  rhi.FormatR8G8B8A8Unorm,
		Usage:   rhi.UsageSampled,
		Samples: 1,
	})
	if err != nil {
		return err
	}

	set, err := s.device.AllocateDescriptorSet(s.layout)
	if err != nil {
		return err
	}
	m.binding.DescriptorSet = set
	return s.device.UpdateDescriptorSet(set, []rhi.DescriptorWrite{
		{Binding: 0, Type: rhi.DescriptorUniformBuffer, Buffer: m.uniform, Range: MaterialUniformSize},
		{Binding: 1, Type: rhi.DescriptorCombinedImageSampler, Image: m.texture},
	})
}

// EncodeMaterial lays the material block out in dst.
func EncodeMaterial(dst []byte, cfg MaterialConfig) {
	for i, v := range []float32{cfg.Albedo[0], cfg.Albedo[1], cfg.Albedo[2], cfg.Albedo[3], cfg.Roughness, cfg.Metalness, 0, 0} {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func (s *Store) releaseMaterial(m *material) {
	if m.binding.DescriptorSet.IsValid() {
		s.device.FreeDescriptorSet(m.binding.DescriptorSet)
	}
	if m.texture.IsValid() {
		s.device.DestroyImage(m.texture)
	}
	if m.uniform.IsValid() {
		s.device.DestroyBuffer(m.uniform)
	}
}

func (s *Store) ReleaseMesh(h metadata.MeshHandle) {
	s.mu.Lock()
	m, ok := s.meshes[h]
	delete(s.meshes, h)
	s.mu.Unlock()
	if ok {
		s.device.DestroyBuffer(m.binding.VertexBuffer)
	}
}

func (s *Store) ReleaseMaterial(h metadata.MaterialHandle) {
	s.mu.Lock()
	m, ok := s.materials[h]
	delete(s.materials, h)
	s.mu.Unlock()
	if ok {
		s.releaseMaterial(m)
	}
}

// Destroy releases everything still uploaded. The device must be idle.
func (s *Store) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, m := range s.meshes {
		s.device.DestroyBuffer(m.binding.VertexBuffer)
		delete(s.meshes, h)
	}
	for h, m := range s.materials {
		s.releaseMaterial(m)
		delete(s.materials, h)
	}
}

func (s *Store) Counts() (meshes, materials int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.meshes), len(s.materials)
}
