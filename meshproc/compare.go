package meshproc

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/mejkerslab/questgear3d/spatialmath"
)

// MeshSummary describes one side of a comparison.
type MeshSummary struct {
	Vertices    int
	Triangles   int
	Min, Max    r3.Vector
	SurfaceArea float64
}

func summarize(m *spatialmath.Mesh) MeshSummary {
	lo, hi, _ := m.Bounds()
	if len(m.Vertices) == 0 {
		lo, hi = r3.Vector{}, r3.Vector{}
	}
	return MeshSummary{
		Vertices:    len(m.Vertices),
		Triangles:   m.NumTriangles(),
		Min:         lo,
		Max:         hi,
		SurfaceArea: m.SurfaceArea(),
	}
}

// Comparison holds the result of Compare. Distances are mean nearest vertex distances in
// meters; they are zero when either mesh has no vertices.
type Comparison struct {
	A, B MeshSummary
	// MeanDistanceAB is the mean distance from each vertex of A to its nearest vertex of B.
	MeanDistanceAB float64
	MeanDistanceBA float64
	// SymmetricDistance is the mean of the two directed distances.
	SymmetricDistance float64
}

func (c Comparison) String() string {
	return fmt.Sprintf("A: %d vertices %d triangles, B: %d vertices %d triangles, mean distance %.4fm",
		c.A.Vertices, c.A.Triangles, c.B.Vertices, c.B.Triangles, c.SymmetricDistance)
}

// Compare measures how far apart two meshes are.
func Compare(a, b *spatialmath.Mesh) Comparison {
	c := Comparison{A: summarize(a), B: summarize(b)}
	if len(a.Vertices) == 0 || len(b.Vertices) == 0 {
		return c
	}
	c.MeanDistanceAB = meanNearestDistance(a.Vertices, b.Vertices)
	c.MeanDistanceBA = meanNearestDistance(b.Vertices, a.Vertices)
	c.SymmetricDistance = (c.MeanDistanceAB + c.MeanDistanceBA) / 2
	return c
}

func meanNearestDistance(from, to []r3.Vector) float64 {
	pts := make(kdtree.Points, len(to))
	for i, v := range to {
		pts[i] = kdtree.Point{v.X, v.Y, v.Z}
	}
	tree := kdtree.New(pts, false)
	total := 0.
	for _, v := range from {
		nearest, _ := tree.Nearest(kdtree.Point{v.X, v.Y, v.Z})
		p := nearest.(kdtree.Point)
		total += v.Distance(r3.Vector{X: p[0], Y: p[1], Z: p[2]})
	}
	return total / float64(len(from))
}
