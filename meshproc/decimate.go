package meshproc

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"

	"github.com/mejkerslab/questgear3d/spatialmath"
)

const maxClusterRounds = 32

// Decimate reduces m to at most ratio of its triangles by vertex clustering: vertices are snapped
// to a grid, each occupied cell becomes one vertex at the members' mean, and faces that collapse
// are dropped. The grid grows until the target is met.
func Decimate(m *spatialmath.Mesh, ratio float64) {
	if ratio >= 1 || m.IsEmpty() {
		return
	}
	target := int(math.Ceil(ratio * float64(m.NumTriangles())))
	if target < 1 {
		target = 1
	}
	cell := meanEdgeLength(m)
	if cell <= 0 {
		return
	}
	var best *spatialmath.Mesh
	for round := 0; round < maxClusterRounds; round++ {
		best = cluster(m, cell)
		if best.NumTriangles() <= target {
			break
		}
		cell *= 1.5
	}
	*m = *best
}

func meanEdgeLength(m *spatialmath.Mesh) float64 {
	total := 0.
	for _, f := range m.Faces {
		for i := 0; i < 3; i++ {
			total += m.Vertices[f[i]].Distance(m.Vertices[f[(i+1)%3]])
		}
	}
	return total / float64(3*len(m.Faces))
}

type cellKey struct {
	x, y, z int64
}

type clusterAccum struct {
	sum        r3.Vector
	r, g, b, a float64
	n          int
}

func cluster(m *spatialmath.Mesh, cell float64) *spatialmath.Mesh {
	ids := make(map[cellKey]int)
	remap := make([]int, len(m.Vertices))
	var accums []clusterAccum
	colored := m.HasColors()
	for i, v := range m.Vertices {
		key := cellKey{
			x: int64(math.Floor(v.X / cell)),
			y: int64(math.Floor(v.Y / cell)),
			z: int64(math.Floor(v.Z / cell)),
		}
		id, ok := ids[key]
		if !ok {
			id = len(accums)
			ids[key] = id
			accums = append(accums, clusterAccum{})
		}
		remap[i] = id
		acc := &accums[id]
		acc.sum = acc.sum.Add(v)
		acc.n++
		if colored {
			c := m.Colors[i]
			acc.r += float64(c.R)
			acc.g += float64(c.G)
			acc.b += float64(c.B)
			acc.a += float64(c.A)
		}
	}

	out := &spatialmath.Mesh{Vertices: make([]r3.Vector, len(accums))}
	if colored {
		out.Colors = make([]color.NRGBA, len(accums))
	}
	for id, acc := range accums {
		n := float64(acc.n)
		out.Vertices[id] = acc.sum.Mul(1 / n)
		if colored {
			out.Colors[id] = color.NRGBA{
				R: uint8(math.Round(acc.r / n)),
				G: uint8(math.Round(acc.g / n)),
				B: uint8(math.Round(acc.b / n)),
				A: uint8(math.Round(acc.a / n)),
			}
		}
	}

	seen := make(map[[3]int]struct{})
	for _, f := range m.Faces {
		nf := [3]int{remap[f[0]], remap[f[1]], remap[f[2]]}
		if nf[0] == nf[1] || nf[1] == nf[2] || nf[0] == nf[2] {
			continue
		}
		key := canonicalFace(nf)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out.Faces = append(out.Faces, nf)
	}
	out.RemoveUnreferencedVertices()
	return out
}

// canonicalFace rotates f so its smallest index comes first, keeping the winding.
func canonicalFace(f [3]int) [3]int {
	switch {
	case f[1] < f[0] && f[1] < f[2]:
		return [3]int{f[1], f[2], f[0]}
	case f[2] < f[0] && f[2] < f[1]:
		return [3]int{f[2], f[0], f[1]}
	default:
		return f
	}
}
