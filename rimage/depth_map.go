// Package rimage holds the image and depth primitives used by the reconstruction pipeline:
// decoding device color and depth buffers, depth filtering and depth usability classification.
package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// InvalidDepth marks a pixel with no usable depth. It is negative so that it can never be
// confused with a real (zero or positive) distance.
const InvalidDepth float32 = -1

// IsValidDepth reports whether d is a usable depth sample.
func IsValidDepth(d float32) bool {
	return d >= 0 && !math.IsNaN(float64(d)) && !math.IsInf(float64(d), 0)
}

// DepthMap is a row-major grid of depths in meters. Pixels without usable depth hold
// InvalidDepth.
type DepthMap struct {
	width  int
	height int

	data []float32
}

// NewEmptyDepthMap returns a depth map with every pixel invalid.
func NewEmptyDepthMap(width, height int) *DepthMap {
	dm := &DepthMap{
		width:  width,
		height: height,
		data:   make([]float32, width*height),
	}
	for i := range dm.data {
		dm.data[i] = InvalidDepth
	}
	return dm
}

// NewDepthMapFromData wraps row-major data. Non-finite and negative values are stored as
// InvalidDepth.
func NewDepthMapFromData(width, height int, data []float32) (*DepthMap, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("bad width or height for depth map %v %v", width, height)
	}
	if len(data) != width*height {
		return nil, errors.Errorf("depth map of %dx%d needs %d values, got %d", width, height, width*height, len(data))
	}
	dm := &DepthMap{width: width, height: height, data: data}
	for i, d := range dm.data {
		if !IsValidDepth(d) {
			dm.data[i] = InvalidDepth
		}
	}
	return dm, nil
}

// Width returns the width in pixels.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the height in pixels.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Bounds returns the rectangle dimensions of the depth map.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// In reports whether (x, y) lies inside the depth map.
func (dm *DepthMap) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < dm.width && y < dm.height
}

// GetDepth returns the depth at (x, y).
func (dm *DepthMap) GetDepth(x, y int) float32 {
	return dm.data[y*dm.width+x]
}

// Set sets the depth at (x, y). Non-finite or negative values become InvalidDepth.
func (dm *DepthMap) Set(x, y int, d float32) {
	if !IsValidDepth(d) {
		d = InvalidDepth
	}
	dm.data[y*dm.width+x] = d
}

// IsValid reports whether (x, y) has usable depth.
func (dm *DepthMap) IsValid(x, y int) bool {
	return IsValidDepth(dm.GetDepth(x, y))
}

// Data exposes the row-major samples. Callers must not resize the slice.
func (dm *DepthMap) Data() []float32 {
	return dm.data
}

// Clone returns a deep copy.
func (dm *DepthMap) Clone() *DepthMap {
	return &DepthMap{width: dm.width, height: dm.height, data: append([]float32(nil), dm.data...)}
}

// ValidCount returns the number of pixels with usable depth.
func (dm *DepthMap) ValidCount() int {
	n := 0
	for _, d := range dm.data {
		if IsValidDepth(d) {
			n++
		}
	}
	return n
}

// MinMax returns the smallest and largest valid depth. ok is false when no pixel is valid.
func (dm *DepthMap) MinMax() (lo, hi float32, ok bool) {
	lo, hi = float32(math.Inf(1)), float32(math.Inf(-1))
	for _, d := range dm.data {
		if !IsValidDepth(d) {
			continue
		}
		ok = true
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
	}
	return lo, hi, ok
}

// ToPrettyPicture renders valid depths on a hue ramp from near (red) to far (blue) and invalid
// pixels as black. Passing hardMin == hardMax uses the map's own range.
func (dm *DepthMap) ToPrettyPicture(hardMin, hardMax float32) image.Image {
	img := image.NewRGBA(dm.Bounds())

	lo, hi := hardMin, hardMax
	if lo == hi {
		var ok bool
		lo, hi, ok = dm.MinMax()
		if !ok {
			return img
		}
	}
	span := float64(hi - lo)

	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			d := dm.GetDepth(x, y)
			if !IsValidDepth(d) {
				img.Set(x, y, color.RGBA{0, 0, 0, 255})
				continue
			}
			ratio := 0.
			if span > 0 {
				ratio = math.Max(0, math.Min(1, float64(d-lo)/span))
			}
			r, g, b := colorful.Hsv(240*ratio, 1, 1).Clamped().RGB255()
			img.Set(x, y, color.RGBA{r, g, b, 255})
		}
	}

	return img
}

// ToGray16Picture encodes depth as 16-bit gray in units of metersPerUnit. Invalid pixels become 0.
func (dm *DepthMap) ToGray16Picture(metersPerUnit float64) *image.Gray16 {
	img := image.NewGray16(dm.Bounds())
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			d := dm.GetDepth(x, y)
			if !IsValidDepth(d) {
				continue
			}
			units := math.Round(float64(d) / metersPerUnit)
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Max(0, math.Min(math.MaxUint16, units)))})
		}
	}
	return img
}
