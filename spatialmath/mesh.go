package spatialmath

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
)

// Mesh is an indexed triangle mesh. Colors and Normals are optional per-vertex attributes; when
// present they have one entry per vertex.
type Mesh struct {
	Vertices []r3.Vector
	Colors   []color.NRGBA
	Normals  []r3.Vector
	Faces    [][3]int
}

// NewMesh returns an empty mesh.
func NewMesh() *Mesh {
	return &Mesh{}
}

// NewMeshFromTriangles builds an unwelded indexed mesh from triangles.
func NewMeshFromTriangles(triangles []*Triangle) *Mesh {
	m := &Mesh{
		Vertices: make([]r3.Vector, 0, 3*len(triangles)),
		Faces:    make([][3]int, 0, len(triangles)),
	}
	for _, tri := range triangles {
		base := len(m.Vertices)
		m.Vertices = append(m.Vertices, tri.Points()...)
		m.Faces = append(m.Faces, [3]int{base, base + 1, base + 2})
	}
	return m
}

// NumTriangles returns the face count.
func (m *Mesh) NumTriangles() int {
	if m == nil {
		return 0
	}
	return len(m.Faces)
}

// IsEmpty reports whether the mesh has no triangles.
func (m *Mesh) IsEmpty() bool {
	return m.NumTriangles() == 0
}

// HasColors reports whether every vertex carries a color.
func (m *Mesh) HasColors() bool {
	return len(m.Colors) > 0 && len(m.Colors) == len(m.Vertices)
}

// HasNormals reports whether every vertex carries a normal.
func (m *Mesh) HasNormals() bool {
	return len(m.Normals) > 0 && len(m.Normals) == len(m.Vertices)
}

// Triangle returns face i as a Triangle.
func (m *Mesh) Triangle(i int) *Triangle {
	f := m.Faces[i]
	return NewTriangle(m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]])
}

// Triangles returns every face as a Triangle.
func (m *Mesh) Triangles() []*Triangle {
	tris := make([]*Triangle, 0, len(m.Faces))
	for i := range m.Faces {
		tris = append(tris, m.Triangle(i))
	}
	return tris
}

// Clone returns a deep copy.
func (m *Mesh) Clone() *Mesh {
	return &Mesh{
		Vertices: append([]r3.Vector(nil), m.Vertices...),
		Colors:   append([]color.NRGBA(nil), m.Colors...),
		Normals:  append([]r3.Vector(nil), m.Normals...),
		Faces:    append([][3]int(nil), m.Faces...),
	}
}

// Transform returns a copy of the mesh with every vertex moved by pose.
func (m *Mesh) Transform(pose Pose) *Mesh {
	out := m.Clone()
	for i, v := range out.Vertices {
		out.Vertices[i] = TransformPoint(pose, v)
	}
	for i, n := range out.Normals {
		out.Normals[i] = RotateVector(pose.Orientation(), n)
	}
	return out
}

// Bounds returns the axis aligned bounding box of the referenced vertices. ok is false for an
// empty mesh.
func (m *Mesh) Bounds() (lo, hi r3.Vector, ok bool) {
	lo = r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi = r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, v := range m.Vertices {
		lo = r3.Vector{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = r3.Vector{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	return lo, hi, len(m.Vertices) > 0
}

// SurfaceArea sums the face areas.
func (m *Mesh) SurfaceArea() float64 {
	area := 0.
	for i := range m.Faces {
		area += m.Triangle(i).Area()
	}
	return area
}

// ComputeVertexNormals sets area weighted vertex normals from the faces.
func (m *Mesh) ComputeVertexNormals() {
	normals := make([]r3.Vector, len(m.Vertices))
	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		// The cross product length is twice the area, which weights the contribution.
		n := b.Sub(a).Cross(c.Sub(a))
		for _, idx := range f {
			normals[idx] = normals[idx].Add(n)
		}
	}
	for i, n := range normals {
		if n.Norm() > 0 {
			normals[i] = n.Normalize()
		}
	}
	m.Normals = normals
}

// RemoveDegenerateFaces drops faces that repeat a vertex index or have zero area and returns the
// number removed.
func (m *Mesh) RemoveDegenerateFaces() int {
	kept := m.Faces[:0]
	removed := 0
	for i, f := range m.Faces {
		if f[0] == f[1] || f[1] == f[2] || f[0] == f[2] || m.Triangle(i).IsDegenerate() {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	m.Faces = kept
	return removed
}

// RemoveUnreferencedVertices compacts the vertex arrays to the vertices used by faces and returns
// the number removed.
func (m *Mesh) RemoveUnreferencedVertices() int {
	remap := make([]int, len(m.Vertices))
	for i := range remap {
		remap[i] = -1
	}
	next := 0
	for _, f := range m.Faces {
		for _, idx := range f {
			if remap[idx] == -1 {
				remap[idx] = next
				next++
			}
		}
	}
	removed := len(m.Vertices) - next
	if removed == 0 {
		return 0
	}

	vertices := make([]r3.Vector, next)
	var colors []color.NRGBA
	if m.HasColors() {
		colors = make([]color.NRGBA, next)
	}
	var normals []r3.Vector
	if m.HasNormals() {
		normals = make([]r3.Vector, next)
	}
	for old, idx := range remap {
		if idx < 0 {
			continue
		}
		vertices[idx] = m.Vertices[old]
		if colors != nil {
			colors[idx] = m.Colors[old]
		}
		if normals != nil {
			normals[idx] = m.Normals[old]
		}
	}
	for i, f := range m.Faces {
		m.Faces[i] = [3]int{remap[f[0]], remap[f[1]], remap[f[2]]}
	}
	m.Vertices, m.Colors, m.Normals = vertices, colors, normals
	return removed
}
