package rimage

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/png"
	"math"
	"os"

	"github.com/pkg/errors"
)

// DepthOptions controls range handling and unit scaling during decode. A zero Max disables the
// range check.
type DepthOptions struct {
	Min   float64
	Max   float64
	Clamp bool
	// UnitScale is meters per unit for integer encodings when the source does not carry one.
	UnitScale float64
}

// DefaultUnitScale is used for integer depth when neither the source nor the options give one.
const DefaultUnitScale = 0.001

// DecodeDepth reads the frame described by src into a DepthMap in meters.
func DecodeDepth(src DepthSource, opts DepthOptions) (*DepthMap, error) {
	//nolint:gosec
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, newDepthDecodeError(src.Path, err)
	}
	dm, err := DecodeDepthBytes(data, src, opts)
	if err != nil {
		return nil, newDepthDecodeError(src.Path, err)
	}
	return dm, nil
}

// DecodeDepthBytes decodes an in-memory depth buffer.
func DecodeDepthBytes(data []byte, src DepthSource, opts DepthOptions) (*DepthMap, error) {
	scale := src.UnitScale
	if scale <= 0 {
		scale = opts.UnitScale
	}
	if scale <= 0 {
		scale = DefaultUnitScale
	}

	var dm *DepthMap
	var err error
	switch src.Encoding {
	case DepthFloat32Raw, DepthFloat32NDC:
		dm, err = decodeFloat32(data, src)
	case DepthUint16Raw:
		dm, err = decodeUint16(data, src, scale)
	case DepthPNG16:
		dm, err = decodePNG16(data, scale)
	default:
		err = errors.Errorf("unknown depth encoding %q", src.Encoding)
	}
	if err != nil {
		return nil, err
	}
	applyRange(dm, opts)
	return dm, nil
}

// rawDimensions returns the buffer size, inferring a square frame when the size is unknown. A
// size with only one side given is rejected.
func rawDimensions(count, width, height int) (int, int, error) {
	if width < 0 || height < 0 || (width == 0) != (height == 0) {
		return 0, 0, errors.Errorf("depth size %dx%d needs both a positive width and height", width, height)
	}
	if width > 0 {
		if width*height != count {
			return 0, 0, errors.Errorf("depth buffer of %dx%d needs %d samples, got %d", width, height, width*height, count)
		}
		return width, height, nil
	}
	side := int(math.Round(math.Sqrt(float64(count))))
	if side == 0 || side*side != count {
		return 0, 0, errors.Errorf("cannot infer square dimensions from %d samples", count)
	}
	return side, side, nil
}

// Float32Samples reads a little-endian float32 buffer as is, without sanitizing NaN or infinite
// values.
func Float32Samples(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, errors.Errorf("float32 depth buffer length %d is not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out, nil
}

func decodeFloat32(data []byte, src DepthSource) (*DepthMap, error) {
	values, err := Float32Samples(data)
	if err != nil {
		return nil, err
	}
	width, height, err := rawDimensions(len(values), src.Width, src.Height)
	if err != nil {
		return nil, err
	}
	if src.Encoding == DepthFloat32NDC {
		if src.Near <= 0 {
			return nil, errors.Errorf("ndc depth needs a positive near plane, got %v", src.Near)
		}
		linearize := NDCLinearizer(src.Near, src.Far)
		for i, v := range values {
			values[i] = linearize(v)
		}
	}
	return NewDepthMapFromData(width, height, values)
}

func decodeUint16(data []byte, src DepthSource, scale float64) (*DepthMap, error) {
	if len(data)%2 != 0 {
		return nil, errors.Errorf("uint16 depth buffer length %d is odd", len(data))
	}
	width, height, err := rawDimensions(len(data)/2, src.Width, src.Height)
	if err != nil {
		return nil, err
	}
	values := make([]float32, width*height)
	for i := range values {
		values[i] = unitsToMeters(binary.LittleEndian.Uint16(data[2*i:]), scale)
	}
	return NewDepthMapFromData(width, height, values)
}

func decodePNG16(data []byte, scale float64) (*DepthMap, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	dm := NewEmptyDepthMap(b.Dx(), b.Dy())
	switch gray := img.(type) {
	case *image.Gray16:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				dm.Set(x, y, unitsToMeters(gray.Gray16At(x+b.Min.X, y+b.Min.Y).Y, scale))
			}
		}
	case *image.Gray:
		return nil, errors.New("depth png is 8-bit, need 16-bit grayscale")
	default:
		return nil, errors.Errorf("depth png must be 16-bit grayscale, got %T", img)
	}
	return dm, nil
}

// unitsToMeters maps a zero sample to InvalidDepth, as integer depth formats use 0 for no return.
func unitsToMeters(v uint16, scale float64) float32 {
	if v == 0 {
		return InvalidDepth
	}
	return float32(float64(v) * scale)
}

// NDCLinearizer returns a function that maps normalized device depth in [0, 1] to meters for a
// perspective projection with the given planes. An infinite far plane, or one nearer than near,
// uses the infinite projection. Non-finite input, and a non-finite or negative result, is reported
// as InvalidDepth.
func NDCLinearizer(near, far float64) func(float32) float32 {
	var x, y float64
	if math.IsInf(far, 1) || far < near || far == 0 {
		x = -2 * near
		y = -1
	} else {
		x = -2 * far * near / (far - near)
		y = -(far + near) / (far - near)
	}
	return func(d float32) float32 {
		v := float64(d)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return InvalidDepth
		}
		v = math.Max(0, math.Min(1, v))
		ndc := v*2 - 1
		denom := ndc + y
		if denom == 0 {
			return InvalidDepth
		}
		out := x / denom
		if math.IsNaN(out) || math.IsInf(out, 0) || out < 0 {
			return InvalidDepth
		}
		return float32(out)
	}
}

func applyRange(dm *DepthMap, opts DepthOptions) {
	if opts.Max <= 0 {
		return
	}
	lo, hi := float32(opts.Min), float32(opts.Max)
	data := dm.Data()
	for i, d := range data {
		if !IsValidDepth(d) {
			continue
		}
		switch {
		case d < lo:
			if opts.Clamp {
				data[i] = lo
			} else {
				data[i] = InvalidDepth
			}
		case d > hi:
			if opts.Clamp {
				data[i] = hi
			} else {
				data[i] = InvalidDepth
			}
		}
	}
}
