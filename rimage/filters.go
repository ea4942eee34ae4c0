package rimage

import (
	"image"
	"math"

	"github.com/mejkerslab/questgear3d/utils"
)

// BilateralParams configures BilateralFilter. Diameter is the kernel width in pixels, SigmaSpace
// is in pixels and SigmaDepth in meters.
type BilateralParams struct {
	Diameter   int
	SigmaSpace float64
	SigmaDepth float64
}

// Helper function for convolving matrices together, When used with i, dx := range makeRangeArray(n)
// i is the position within the kernel and dx gives the offset within the depth map.
// if length is even, then the origin is to the right of middle i.e. 4 -> {-2, -1, 0, 1}.
func makeRangeArray(length int) []int {
	if length <= 0 {
		return make([]int, 0)
	}
	rangeArray := make([]int, length)
	var span int
	if length%2 == 0 {
		oddArr := makeRangeArray(length - 1)
		span = length / 2
		rangeArray = append([]int{-span}, oddArr...)
	} else {
		span = (length - 1) / 2
		for i := 0; i < span; i++ {
			rangeArray[length-1-i] = span - i
			rangeArray[i] = -span + i
		}
	}
	return rangeArray
}

// GaussianFunction1D takes in a sigma and returns a gaussian function useful for weighing averages or blurring.
func GaussianFunction1D(sigma float64) func(p float64) float64 {
	if sigma <= 0. {
		return func(p float64) float64 {
			return 1.
		}
	}
	return func(p float64) float64 {
		return math.Exp(-0.5*math.Pow(p, 2)/math.Pow(sigma, 2)) / (sigma * math.Sqrt(2.*math.Pi))
	}
}

// BilateralFilter smooths depth while preserving discontinuities. Invalid pixels are never used
// as neighbours and are copied through unchanged, so the set of valid pixels is preserved.
func BilateralFilter(dm *DepthMap, params BilateralParams) *DepthMap {
	out := dm.Clone()
	if params.Diameter <= 1 {
		return out
	}
	spatialFilter := GaussianFunction1D(params.SigmaSpace)
	depthFilter := GaussianFunction1D(params.SigmaDepth)
	offsets := makeRangeArray(params.Diameter)

	// spatial weights only depend on the offset so they are computed once.
	spatial := make([][]float64, len(offsets))
	for j, dy := range offsets {
		spatial[j] = make([]float64, len(offsets))
		for i, dx := range offsets {
			spatial[j][i] = spatialFilter(float64(dx)) * spatialFilter(float64(dy))
		}
	}

	utils.ParallelForEachPixel(image.Point{dm.Width(), dm.Height()}, func(x, y int) {
		center := dm.GetDepth(x, y)
		if !IsValidDepth(center) {
			return
		}
		newDepth := 0.0
		totalWeight := 0.0
		for j, dy := range offsets {
			for i, dx := range offsets {
				if !dm.In(x+dx, y+dy) {
					continue
				}
				d := dm.GetDepth(x+dx, y+dy)
				if !IsValidDepth(d) {
					continue
				}
				weight := spatial[j][i] * depthFilter(float64(center-d))
				newDepth += float64(d) * weight
				totalWeight += weight
			}
		}
		if totalWeight > 0 {
			out.Set(x, y, float32(newDepth/totalWeight))
		}
	})
	return out
}
