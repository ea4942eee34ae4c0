package rimage

import (
	"fmt"

	"github.com/pkg/errors"
)

// ColorEncoding identifies how a color frame is stored on disk.
type ColorEncoding string

// The supported color encodings.
const (
	ColorYUV420 ColorEncoding = "yuv420"
	ColorJPEG   ColorEncoding = "jpeg"
	ColorPNG    ColorEncoding = "png"
)

// DepthEncoding identifies how a depth frame is stored on disk.
type DepthEncoding string

// The supported depth encodings.
const (
	// DepthFloat32Raw is a little-endian float32 buffer already in meters.
	DepthFloat32Raw DepthEncoding = "float32"
	// DepthFloat32NDC is a little-endian float32 buffer of normalized device depth in [0, 1]
	// that needs the near and far planes to linearize.
	DepthFloat32NDC DepthEncoding = "float32_ndc"
	// DepthUint16Raw is a little-endian uint16 buffer scaled by the unit scale.
	DepthUint16Raw DepthEncoding = "uint16"
	// DepthPNG16 is a 16-bit grayscale PNG scaled by the unit scale.
	DepthPNG16 DepthEncoding = "png16"
)

// YUVLayout is the plane arrangement of a 4:2:0 frame.
type YUVLayout string

// The supported 4:2:0 layouts.
const (
	LayoutNV12 YUVLayout = "nv12"
	LayoutNV21 YUVLayout = "nv21"
	LayoutI420 YUVLayout = "i420"
)

// ColorSpace selects the YUV to RGB conversion matrix.
type ColorSpace string

// The supported color spaces, both full range.
const (
	ColorSpaceBT601 ColorSpace = "bt601"
	ColorSpaceBT709 ColorSpace = "bt709"
)

// ParseColorEncoding converts a string into a ColorEncoding.
func ParseColorEncoding(s string) (ColorEncoding, error) {
	switch e := ColorEncoding(s); e {
	case ColorYUV420, ColorJPEG, ColorPNG:
		return e, nil
	case "jpg":
		return ColorJPEG, nil
	default:
		return "", errors.Errorf("unknown color encoding %q", s)
	}
}

// ParseDepthEncoding converts a string into a DepthEncoding.
func ParseDepthEncoding(s string) (DepthEncoding, error) {
	switch e := DepthEncoding(s); e {
	case DepthFloat32Raw, DepthFloat32NDC, DepthUint16Raw, DepthPNG16:
		return e, nil
	default:
		return "", errors.Errorf("unknown depth encoding %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *ColorEncoding) UnmarshalText(text []byte) error {
	parsed, err := ParseColorEncoding(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *DepthEncoding) UnmarshalText(text []byte) error {
	parsed, err := ParseDepthEncoding(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// ColorSource locates one color frame. Width and Height are required for YUV buffers and
// ignored for self describing formats.
type ColorSource struct {
	Path     string        `json:"path"`
	Encoding ColorEncoding `json:"encoding"`
	Width    int           `json:"width,omitempty"`
	Height   int           `json:"height,omitempty"`
}

// DepthSource locates one depth frame. Width and Height may be zero for raw buffers, in which
// case the buffer is assumed square. Near and Far are only used by DepthFloat32NDC; UnitScale is
// meters per unit for integer encodings and falls back to the decode options when zero.
type DepthSource struct {
	Path      string        `json:"path"`
	Encoding  DepthEncoding `json:"encoding"`
	Width     int           `json:"width,omitempty"`
	Height    int           `json:"height,omitempty"`
	Near      float64       `json:"near,omitempty"`
	Far       float64       `json:"far,omitempty"`
	UnitScale float64       `json:"unit_scale,omitempty"`
}

// DecodeErrorKind classifies a per-frame decoding failure.
type DecodeErrorKind int

// The decode failure kinds.
const (
	CorruptColorFrame DecodeErrorKind = iota
	CorruptDepthFrame
)

func (k DecodeErrorKind) String() string {
	switch k {
	case CorruptColorFrame:
		return "corrupt color frame"
	case CorruptDepthFrame:
		return "corrupt depth frame"
	default:
		return fmt.Sprintf("decode error %d", int(k))
	}
}

// DecodeError is returned when a single frame cannot be decoded. The frame is skipped, the run
// continues.
type DecodeError struct {
	Kind DecodeErrorKind
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Kind, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newColorDecodeError(path string, err error) error {
	return &DecodeError{Kind: CorruptColorFrame, Path: path, Err: err}
}

func newDepthDecodeError(path string, err error) error {
	return &DecodeError{Kind: CorruptDepthFrame, Path: path, Err: err}
}
