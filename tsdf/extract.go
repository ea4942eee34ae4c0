package tsdf

import (
	"context"
	"image/color"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"go.opencensus.io/trace"

	"github.com/mejkerslab/questgear3d/pointcloud"
	"github.com/mejkerslab/questgear3d/spatialmath"
)

// cubeCorners are the lattice offsets of a cube's corners.
var cubeCorners = [8][3]int{
	{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0},
	{0, 0, 1}, {1, 0, 1}, {1, 1, 1}, {0, 1, 1},
}

// cubeTetrahedra splits a cube into six tetrahedra around the 0-6 diagonal. Adjacent cubes split
// their shared faces along the same diagonal, so the extracted surface is watertight.
var cubeTetrahedra = [6][4]int{
	{0, 5, 1, 6}, {0, 1, 2, 6}, {0, 2, 3, 6},
	{0, 3, 7, 6}, {0, 7, 4, 6}, {0, 4, 5, 6},
}

// cancelCheckInterval is how many blocks are processed between context checks.
const cancelCheckInterval = 64

type corner struct {
	g     [3]int
	value float64
	color [3]float32
}

type edgeKey struct {
	a, b [3]int
}

func newEdgeKey(a, b [3]int) edgeKey {
	if lessLattice(b, a) {
		a, b = b, a
	}
	return edgeKey{a, b}
}

func lessLattice(a, b [3]int) bool {
	for i := 0; i < 3; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

type meshBuilder struct {
	v       *Volume
	mesh    *spatialmath.Mesh
	welded  map[edgeKey]int
	colored bool
}

// vertex returns the welded vertex where the zero crossing cuts the edge between c0 and c1.
func (mb *meshBuilder) vertex(c0, c1 corner) int {
	key := newEdgeKey(c0.g, c1.g)
	if i, ok := mb.welded[key]; ok {
		return i
	}
	t := c0.value / (c0.value - c1.value)
	p0, p1 := mb.v.latticePoint(c0.g), mb.v.latticePoint(c1.g)
	mb.mesh.Vertices = append(mb.mesh.Vertices, p0.Add(p1.Sub(p0).Mul(t)))
	if mb.colored {
		lerp := func(a, b float32) uint8 {
			return uint8(math.Round(math.Max(0, math.Min(255, float64(a)+(float64(b)-float64(a))*t))))
		}
		mb.mesh.Colors = append(mb.mesh.Colors, color.NRGBA{
			R: lerp(c0.color[0], c1.color[0]),
			G: lerp(c0.color[1], c1.color[1]),
			B: lerp(c0.color[2], c1.color[2]),
			A: 255,
		})
	}
	i := len(mb.mesh.Vertices) - 1
	mb.welded[key] = i
	return i
}

// addTriangle appends a face oriented so its normal points from the inside (negative) toward
// the outside (positive), i.e. toward the cameras that observed it.
func (mb *meshBuilder) addTriangle(a, b, c int, outward r3.Vector) {
	if a == b || b == c || a == c {
		return
	}
	vs := mb.mesh.Vertices
	n := vs[b].Sub(vs[a]).Cross(vs[c].Sub(vs[a]))
	if n.Dot(outward) < 0 {
		b, c = c, b
	}
	mb.mesh.Faces = append(mb.mesh.Faces, [3]int{a, b, c})
}

func (mb *meshBuilder) tetrahedron(cs [4]corner) {
	var inside, outside []corner
	for _, c := range cs {
		if c.value < 0 {
			inside = append(inside, c)
		} else {
			outside = append(outside, c)
		}
	}
	if len(inside) == 0 || len(outside) == 0 {
		return
	}
	outward := centroid(mb.v, outside).Sub(centroid(mb.v, inside))
	switch len(inside) {
	case 1, 3:
		lone, others := inside[0], outside
		if len(inside) == 3 {
			lone, others = outside[0], inside
		}
		mb.addTriangle(mb.vertex(lone, others[0]), mb.vertex(lone, others[1]), mb.vertex(lone, others[2]), outward)
	case 2:
		a := mb.vertex(inside[0], outside[0])
		b := mb.vertex(inside[0], outside[1])
		c := mb.vertex(inside[1], outside[1])
		d := mb.vertex(inside[1], outside[0])
		mb.addTriangle(a, b, c, outward)
		mb.addTriangle(a, c, d, outward)
	}
}

func centroid(v *Volume, cs []corner) r3.Vector {
	var sum r3.Vector
	for _, c := range cs {
		sum = sum.Add(v.latticePoint(c.g))
	}
	return sum.Mul(1 / float64(len(cs)))
}

// sortedBlocks returns block coordinates in a fixed order so extraction is deterministic.
func (v *Volume) sortedBlocks() []BlockCoords {
	coords := make([]BlockCoords, 0, len(v.blocks))
	for bc := range v.blocks {
		coords = append(coords, bc)
	}
	sort.Slice(coords, func(i, j int) bool {
		return lessLattice([3]int{coords[i].X, coords[i].Y, coords[i].Z}, [3]int{coords[j].X, coords[j].Y, coords[j].Z})
	})
	return coords
}

// ExtractMesh polygonizes the zero level set with marching tetrahedra. Cubes with an unobserved
// corner are skipped. Vertices on shared edges are welded and carry interpolated colors when
// color was integrated. A volume that has integrated nothing returns an empty mesh without
// running extraction.
func (v *Volume) ExtractMesh(ctx context.Context) (*spatialmath.Mesh, error) {
	ctx, span := trace.StartSpan(ctx, "tsdf::ExtractMesh")
	defer span.End()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.frames == 0 {
		return spatialmath.NewMesh(), nil
	}
	v.extracts++

	mb := &meshBuilder{v: v, mesh: spatialmath.NewMesh(), welded: make(map[edgeKey]int), colored: v.colored}
	res := v.cfg.BlockResolution
	for n, bc := range v.sortedBlocks() {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for z := 0; z < res; z++ {
			for y := 0; y < res; y++ {
				for x := 0; x < res; x++ {
					origin := [3]int{bc.X*res + x, bc.Y*res + y, bc.Z*res + z}
					var cube [8]corner
					observed := true
					for i, off := range cubeCorners {
						g := [3]int{origin[0] + off[0], origin[1] + off[1], origin[2] + off[2]}
						vox, ok := v.voxelAt(g)
						if !ok || vox.weight == 0 {
							observed = false
							break
						}
						cube[i] = corner{g: g, value: float64(vox.tsdf), color: [3]float32{vox.r, vox.g, vox.b}}
					}
					if !observed {
						continue
					}
					for _, tet := range cubeTetrahedra {
						mb.tetrahedron([4]corner{cube[tet[0]], cube[tet[1]], cube[tet[2]], cube[tet[3]]})
					}
				}
			}
		}
	}
	mb.mesh.ComputeVertexNormals()
	v.logger.CDebugw(ctx, "extracted mesh", "vertices", len(mb.mesh.Vertices), "triangles", mb.mesh.NumTriangles())
	return mb.mesh, nil
}

// ExtractPointCloud returns the observed voxels within half a voxel of the surface, colored when
// color was integrated and valued with their integration weight.
func (v *Volume) ExtractPointCloud(ctx context.Context) (pointcloud.PointCloud, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	band := float32(v.cfg.VoxelSize / 2 / v.cfg.TruncationDistance)
	pc := pointcloud.New()
	res := v.cfg.BlockResolution
	for n, bc := range v.sortedBlocks() {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		b := v.blocks[bc]
		for z := 0; z < res; z++ {
			for y := 0; y < res; y++ {
				for x := 0; x < res; x++ {
					vox := b.voxels[v.localIndex(x, y, z)]
					if vox.weight == 0 || vox.tsdf > band || vox.tsdf < -band {
						continue
					}
					p := v.latticePoint([3]int{bc.X*res + x, bc.Y*res + y, bc.Z*res + z})
					var data pointcloud.Data
					if v.colored {
						data = pointcloud.NewColoredValueData(color.NRGBA{
							R: uint8(math.Round(float64(vox.r))),
							G: uint8(math.Round(float64(vox.g))),
							B: uint8(math.Round(float64(vox.b))),
							A: 255,
						}, int(vox.weight))
					} else {
						data = pointcloud.NewValueData(int(vox.weight))
					}
					if err := pc.Set(p, data); err != nil {
						return nil, err
					}
				}
			}
		}
	}
	return pc, nil
}
