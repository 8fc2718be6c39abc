// Package rig holds the named blend-shape weights the driver animates, loaded
// from glTF morph targets or declared by name.
package rig

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// MorphTarget is one named blend shape with its per-vertex position deltas.
type MorphTarget struct {
	Name           string
	PositionDeltas []mgl32.Vec3
}

// Rig is a catalog of blend-shape weights addressed by index. Safe for
// concurrent use: the frame loop writes, the server reads snapshots.
type Rig struct {
	mu          sync.RWMutex
	names       []string
	index       map[string]int
	weights     []float32
	targets     []MorphTarget
	vertexCount int
}

// New creates a rig with weight slots for names and no geometry. Duplicate
// names resolve to their first slot.
func New(names []string) *Rig {
	r := &Rig{index: make(map[string]int, len(names))}
	for _, n := range names {
		r.add(n)
	}
	return r
}

func (r *Rig) add(name string) int {
	if i, ok := r.index[name]; ok {
		return i
	}
	i := len(r.names)
	r.names = append(r.names, name)
	r.index[name] = i
	r.weights = append(r.weights, 0)
	return i
}

// Load opens a .gltf or .glb file and builds a rig from its morph targets.
func Load(path string) (*Rig, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gltf: %w", err)
	}
	r, err := FromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// FromDocument collects morph targets from every mesh. Names come from the
// mesh's targetNames extra, falling back to target_N. Geometry deltas are kept
// for the first mesh that has targets.
func FromDocument(doc *gltf.Document) (*Rig, error) {
	r := New(nil)
	geometry := false

	for _, mesh := range doc.Meshes {
		if len(mesh.Primitives) == 0 {
			continue
		}
		prim := mesh.Primitives[0]
		if len(prim.Targets) == 0 {
			continue
		}

		names := targetNames(mesh, len(prim.Targets))
		if geometry {
			for _, n := range names {
				r.add(n)
			}
			continue
		}

		if posIdx, ok := prim.Attributes[gltf.POSITION]; ok {
			positions, err := readAccessorVec3(doc, posIdx)
			if err != nil {
				return nil, fmt.Errorf("read positions: %w", err)
			}
			r.vertexCount = len(positions)
		}

		for i, target := range prim.Targets {
			mt := MorphTarget{Name: names[i]}
			if posIdx, ok := target[gltf.POSITION]; ok {
				deltas, err := readAccessorVec3(doc, posIdx)
				if err != nil {
					return nil, fmt.Errorf("read target %s: %w", mt.Name, err)
				}
				mt.PositionDeltas = deltas
			}
			if r.add(mt.Name) == len(r.targets) {
				r.targets = append(r.targets, mt)
			}
		}
		geometry = true
	}

	if len(r.names) == 0 {
		return nil, errors.New("no morph targets")
	}
	return r, nil
}

func targetNames(mesh *gltf.Mesh, n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("target_%d", i)
	}
	if extras, ok := mesh.Extras.(map[string]any); ok {
		if list, ok := extras["targetNames"].([]any); ok {
			for i, name := range list {
				if s, ok := name.(string); ok && i < n {
					names[i] = s
				}
			}
		}
	}
	return names
}

// ResolveIndex returns the slot for name.
func (r *Rig) ResolveIndex(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	return i, ok
}

// SetWeight stores w unclamped. Out of range indices are ignored.
func (r *Rig) SetWeight(i int, w float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i >= 0 && i < len(r.weights) {
		r.weights[i] = w
	}
}

func (r *Rig) Weight(i int) float32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.weights) {
		return 0
	}
	return r.weights[i]
}

func (r *Rig) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Snapshot returns the current weights keyed by name.
func (r *Rig) Snapshot() map[string]float32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float32, len(r.names))
	for i, n := range r.names {
		out[n] = r.weights[i]
	}
	return out
}

// Reset zeroes every weight.
func (r *Rig) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.weights {
		r.weights[i] = 0
	}
}

// Deltas blends the morph targets at their current weights. fullScale is the
// weight at which a target reaches its full displacement, 1 or 100 typically.
func (r *Rig) Deltas(fullScale float32) []mgl32.Vec3 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]mgl32.Vec3, r.vertexCount)
	if fullScale == 0 {
		return out
	}
	for ti, target := range r.targets {
		w := r.weights[ti] / fullScale
		if w > -0.001 && w < 0.001 {
			continue
		}
		for vi, d := range target.PositionDeltas {
			if vi < len(out) {
				out[vi] = out[vi].Add(d.Mul(w))
			}
		}
	}
	return out
}

func readAccessorVec3(doc *gltf.Document, accessorIdx int) ([]mgl32.Vec3, error) {
	if accessorIdx < 0 || accessorIdx >= len(doc.Accessors) {
		return nil, fmt.Errorf("accessor %d out of range", accessorIdx)
	}
	accessor := doc.Accessors[accessorIdx]
	if accessor.BufferView == nil {
		// Sparse or zero-filled accessor.
		return make([]mgl32.Vec3, accessor.Count), nil
	}
	bufferView := doc.BufferViews[*accessor.BufferView]
	buffer := doc.Buffers[bufferView.Buffer]
	if len(buffer.Data) == 0 {
		return nil, errors.New("buffer has no data")
	}
	data := buffer.Data

	offset := bufferView.ByteOffset + accessor.ByteOffset
	stride := bufferView.ByteStride
	if stride == 0 {
		stride = 12
	}

	result := make([]mgl32.Vec3, accessor.Count)
	for i := range result {
		idx := offset + i*stride
		if idx+12 > len(data) {
			return nil, fmt.Errorf("accessor %d overruns buffer", accessorIdx)
		}
		result[i] = mgl32.Vec3{
			math.Float32frombits(binary.LittleEndian.Uint32(data[idx:])),
			math.Float32frombits(binary.LittleEndian.Uint32(data[idx+4:])),
			math.Float32frombits(binary.LittleEndian.Uint32(data[idx+8:])),
		}
	}
	return result, nil
}
