// Package pointcloud defines an ordered point set with optional per-point color and value, and
// writes it out as PLY, PCD or LAS. Camera trajectories and volume surface samples are exported
// through it.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor bool
	HasValue bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData creates a new MetaData with bounds that any point will widen.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the meta data with the new data.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	if data != nil {
		if data.HasColor() {
			meta.HasColor = true
		}
		if data.HasValue() {
			meta.HasValue = true
		}
	}
	meta.MinX = math.Min(meta.MinX, v.X)
	meta.MinY = math.Min(meta.MinY, v.Y)
	meta.MinZ = math.Min(meta.MinZ, v.Z)
	meta.MaxX = math.Max(meta.MaxX, v.X)
	meta.MaxY = math.Max(meta.MaxY, v.Y)
	meta.MaxZ = math.Max(meta.MaxZ, v.Z)
}

// PointCloud is a general purpose container of points. Iteration follows insertion order.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// Set places the given point in the cloud. Setting an existing position replaces its data,
	// except in a sequence cloud, which appends it again.
	Set(p r3.Vector, d Data) error

	// At returns the point in the cloud at the given position.
	// The 2nd return is if the point exists, the first is data if any.
	At(x, y, z float64) (Data, bool)

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up he work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}

// PointAndData is a tiny struct to facilitate returning nearest neighbors in a neat way.
type PointAndData struct {
	P r3.Vector
	D Data
}

// NewSequence returns an empty PointCloud that keeps every Set call as its own point, in order,
// even when positions repeat. At reports the data most recently set at a position.
func NewSequence() PointCloud {
	return &basicPointCloud{
		indexMap:    map[r3.Vector]int{},
		meta:        NewMetaData(),
		keepRepeats: true,
	}
}

// basicPointCloud is the basic implementation of the PointCloud interface backed by
// a slice of points and a position index.
type basicPointCloud struct {
	points   []PointAndData
	indexMap map[r3.Vector]int
	meta     MetaData

	// keepRepeats appends a point whose position is already present.
	keepRepeats bool
}

// New returns an empty PointCloud backed by a basicPointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud backed by a basicPointCloud.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points:   make([]PointAndData, 0, size),
		indexMap: make(map[r3.Vector]int, size),
		meta:     NewMetaData(),
	}
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) At(x, y, z float64) (Data, bool) {
	idx, ok := cloud.indexMap[r3.Vector{X: x, Y: y, Z: z}]
	if !ok {
		return nil, false
	}
	return cloud.points[idx].D, true
}

// Set validates that the point is finite before setting it in the cloud.
func (cloud *basicPointCloud) Set(p r3.Vector, d Data) error {
	for _, v := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("point %v is not finite", p)
		}
	}
	if idx, ok := cloud.indexMap[p]; ok && !cloud.keepRepeats {
		cloud.points[idx].D = d
		cloud.meta.Merge(p, d)
		return nil
	}
	cloud.indexMap[p] = len(cloud.points)
	cloud.points = append(cloud.points, PointAndData{P: p, D: d})
	cloud.meta.Merge(p, d)
	return nil
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	start, end := 0, len(cloud.points)
	if numBatches > 0 {
		batchSize := (len(cloud.points) + numBatches - 1) / numBatches
		start = myBatch * batchSize
		end = start + batchSize
		if end > len(cloud.points) {
			end = len(cloud.points)
		}
	}
	for i := start; i < end; i++ {
		if !fn(cloud.points[i].P, cloud.points[i].D) {
			return
		}
	}
}

// CloudCentroid returns the mean of all points, or the zero vector for an empty cloud.
func CloudCentroid(pc PointCloud) r3.Vector {
	if pc.Size() == 0 {
		return r3.Vector{}
	}
	var sum r3.Vector
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		sum = sum.Add(p)
		return true
	})
	return sum.Mul(1 / float64(pc.Size()))
}
