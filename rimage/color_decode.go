package rimage

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	// register decoders for image.Decode.
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	"github.com/pkg/errors"
)

// ColorOptions controls YUV conversion. Zero values mean NV12 and BT.601.
type ColorOptions struct {
	Layout YUVLayout
	Space  ColorSpace
}

type yuvCoefficients struct {
	rv, gu, gv, bu float64
}

var (
	bt601 = yuvCoefficients{rv: 1.402, gu: -0.344136, gv: -0.714136, bu: 1.772}
	bt709 = yuvCoefficients{rv: 1.5748, gu: -0.187324, gv: -0.468124, bu: 1.8556}
)

// DecodeColor reads the frame described by src into an NRGBA image.
func DecodeColor(src ColorSource, opts ColorOptions) (*image.NRGBA, error) {
	//nolint:gosec
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, newColorDecodeError(src.Path, err)
	}
	img, err := DecodeColorBytes(data, src, opts)
	if err != nil {
		return nil, newColorDecodeError(src.Path, err)
	}
	return img, nil
}

// DecodeColorBytes decodes an in-memory color buffer.
func DecodeColorBytes(data []byte, src ColorSource, opts ColorOptions) (*image.NRGBA, error) {
	switch src.Encoding {
	case ColorYUV420:
		return decodeYUV420(data, src.Width, src.Height, opts)
	case ColorJPEG, ColorPNG:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return toNRGBA(img), nil
	default:
		return nil, errors.Errorf("unknown color encoding %q", src.Encoding)
	}
}

func decodeYUV420(data []byte, width, height int, opts ColorOptions) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		// headset passthrough frames are square when the size is not recorded
		side := int(math.Round(math.Sqrt(float64(len(data)) / 1.5)))
		if side*side*3/2 != len(data) {
			return nil, errors.Errorf("yuv frame of %d bytes has no size and is not square", len(data))
		}
		width, height = side, side
	}
	if width%2 != 0 || height%2 != 0 {
		return nil, errors.Errorf("yuv 4:2:0 frame must have even dimensions, got %dx%d", width, height)
	}
	lumaSize := width * height
	chromaSize := lumaSize / 4
	if want := lumaSize + 2*chromaSize; len(data) != want {
		return nil, errors.Errorf("yuv 4:2:0 frame of %dx%d needs %d bytes, got %d", width, height, want, len(data))
	}

	coeff := bt601
	switch opts.Space {
	case ColorSpaceBT601, "":
	case ColorSpaceBT709:
		coeff = bt709
	default:
		return nil, errors.Errorf("unknown color space %q", opts.Space)
	}

	luma := data[:lumaSize]
	chroma := data[lumaSize:]
	var uAt, vAt func(cx, cy int) byte
	switch opts.Layout {
	case LayoutNV12, "":
		uAt = func(cx, cy int) byte { return chroma[cy*width+2*cx] }
		vAt = func(cx, cy int) byte { return chroma[cy*width+2*cx+1] }
	case LayoutNV21:
		vAt = func(cx, cy int) byte { return chroma[cy*width+2*cx] }
		uAt = func(cx, cy int) byte { return chroma[cy*width+2*cx+1] }
	case LayoutI420:
		half := width / 2
		uAt = func(cx, cy int) byte { return chroma[cy*half+cx] }
		vAt = func(cx, cy int) byte { return chroma[chromaSize+cy*half+cx] }
	default:
		return nil, errors.Errorf("unknown yuv layout %q", opts.Layout)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			yy := float64(luma[y*width+x])
			u := float64(uAt(x/2, y/2)) - 128
			v := float64(vAt(x/2, y/2)) - 128
			img.SetNRGBA(x, y, color.NRGBA{
				R: clampByte(yy + coeff.rv*v),
				G: clampByte(yy + coeff.gu*u + coeff.gv*v),
				B: clampByte(yy + coeff.bu*u),
				A: 255,
			})
		}
	}
	return img, nil
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
