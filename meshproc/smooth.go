package meshproc

import (
	"github.com/golang/geo/r3"
	"github.com/samber/lo"

	"github.com/mejkerslab/questgear3d/spatialmath"
)

// passBandFrequency is the Taubin k_PB used to derive the inflating step from lambda.
const passBandFrequency = 0.1

// neighbors returns the sorted, unique one ring of every vertex.
func neighbors(m *spatialmath.Mesh) [][]int {
	adj := make([][]int, len(m.Vertices))
	for _, f := range m.Faces {
		for i := 0; i < 3; i++ {
			a, b := f[i], f[(i+1)%3]
			adj[a] = append(adj[a], b)
			adj[b] = append(adj[b], a)
		}
	}
	for i := range adj {
		adj[i] = lo.Uniq(adj[i])
	}
	return adj
}

// TaubinSmooth applies iterations of Taubin's lambda|mu smoothing, which relaxes noise without
// the shrinkage of plain Laplacian smoothing. Each iteration is a shrinking step with lambda
// followed by an inflating step with mu < -lambda.
func TaubinSmooth(m *spatialmath.Mesh, iterations int, lambda float64) {
	if iterations == 0 || lambda == 0 || m.IsEmpty() {
		return
	}
	mu := -lambda / (1 - passBandFrequency*lambda)
	adj := neighbors(m)
	for it := 0; it < iterations; it++ {
		laplacianStep(m, adj, lambda)
		laplacianStep(m, adj, mu)
	}
}

func laplacianStep(m *spatialmath.Mesh, adj [][]int, factor float64) {
	next := make([]r3.Vector, len(m.Vertices))
	for i, v := range m.Vertices {
		if len(adj[i]) == 0 {
			next[i] = v
			continue
		}
		var sum r3.Vector
		for _, n := range adj[i] {
			sum = sum.Add(m.Vertices[n])
		}
		mean := sum.Mul(1 / float64(len(adj[i])))
		next[i] = v.Add(mean.Sub(v).Mul(factor))
	}
	m.Vertices = next
}
