package passes

import (
	"cmp"
	"slices"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

const (
	// MaxInstancesPerDraw is the number of instance records in the per-draw
	// storage block. A draw call never covers more instances than this.
	MaxInstancesPerDraw = 256
	// MaxJointsPerDraw is the number of joint matrices in the per-draw
	// joint block, shared by every skinned instance of the draw.
	MaxJointsPerDraw = 512
)

// Batch is every visible item sharing one material and one mesh.
type Batch struct {
	Material        metadata.MaterialHandle
	Mesh            metadata.MeshHandle
	MaterialBinding metadata.MaterialBinding
	MeshBinding     metadata.MeshBinding
	// Items keeps scene order.
	Items []metadata.DrawItem
}

// Chunk is the part of a batch recorded by one draw call.
type Chunk struct {
	Items  []metadata.DrawItem
	Joints int
}

type batchKey struct {
	material metadata.MaterialHandle
	mesh     metadata.MeshHandle
}

// BuildBatches groups the items accepted by filter by (material, mesh),
// ordered by material then mesh. Items whose handles do not resolve are
// skipped.
func BuildBatches(items []metadata.DrawItem, resources metadata.ResourceProvider, filter func(metadata.MaterialBinding) bool) []Batch {
	if len(items) == 0 || resources == nil {
		return nil
	}
	index := make(map[batchKey]int)
	var batches []Batch
	skipped := 0
	for _, item := range items {
		mat, ok := resources.Material(item.Material)
		if !ok {
			skipped++
			continue
		}
		if filter != nil && !filter(mat) {
			continue
		}
		mesh, ok := resources.Mesh(item.Mesh)
		if !ok {
			skipped++
			continue
		}
		key := batchKey{item.Material, item.Mesh}
		i, ok := index[key]
		if !ok {
			i = len(batches)
			index[key] = i
			batches = append(batches, Batch{
				Material:        item.Material,
				Mesh:            item.Mesh,
				MaterialBinding: mat,
				MeshBinding:     mesh,
			})
		}
		batches[i].Items = append(batches[i].Items, item)
	}
	if skipped > 0 {
		core.LogWarn("skipped %d draw items with unknown mesh or material", skipped)
	}
	slices.SortStableFunc(batches, func(a, b Batch) int {
		if c := cmp.Compare(a.Material, b.Material); c != 0 {
			return c
		}
		return cmp.Compare(a.Mesh, b.Mesh)
	})
	return batches
}

// SplitBatch cuts items into chunks holding at most maxInstances items and
// at most maxJoints joint matrices. An item with more joints than maxJoints
// gets a chunk of its own and is counted at maxJoints.
func SplitBatch(items []metadata.DrawItem, maxInstances, maxJoints int) []Chunk {
	var chunks []Chunk
	if maxInstances > 0 {
		chunks = make([]Chunk, 0, math.CeilDiv(len(items), maxInstances))
	}
	start, joints := 0, 0
	for i, item := range items {
		n := min(len(item.Joints), maxJoints)
		if i > start && (i-start == maxInstances || joints+n > maxJoints) {
			chunks = append(chunks, Chunk{Items: items[start:i], Joints: joints})
			start, joints = i, 0
		}
		joints += n
	}
	if start < len(items) {
		chunks = append(chunks, Chunk{Items: items[start:], Joints: joints})
	}
	return chunks
}
