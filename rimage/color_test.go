package rimage

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

// yuvFrame builds a 4x2 frame where every pixel has the given luma and chroma.
func yuvFrame(layout YUVLayout, y, u, v byte) []byte {
	const w, h = 4, 2
	data := make([]byte, 0, w*h*3/2)
	for i := 0; i < w*h; i++ {
		data = append(data, y)
	}
	switch layout {
	case LayoutNV12:
		for i := 0; i < w*h/4; i++ {
			data = append(data, u, v)
		}
	case LayoutNV21:
		for i := 0; i < w*h/4; i++ {
			data = append(data, v, u)
		}
	case LayoutI420:
		for i := 0; i < w*h/4; i++ {
			data = append(data, u)
		}
		for i := 0; i < w*h/4; i++ {
			data = append(data, v)
		}
	}
	return data
}

func TestDecodeYUV420(t *testing.T) {
	src := ColorSource{Encoding: ColorYUV420, Width: 4, Height: 2}

	t.Run("gray", func(t *testing.T) {
		img, err := DecodeColorBytes(yuvFrame(LayoutNV12, 100, 128, 128), src, ColorOptions{})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, img.Bounds().Dx(), test.ShouldEqual, 4)
		test.That(t, img.NRGBAAt(3, 1), test.ShouldResemble, color.NRGBA{100, 100, 100, 255})
	})

	for _, layout := range []YUVLayout{LayoutNV12, LayoutNV21, LayoutI420} {
		t.Run(string(layout), func(t *testing.T) {
			// high V is red dominant.
			img, err := DecodeColorBytes(yuvFrame(layout, 128, 128, 220), src, ColorOptions{Layout: layout})
			test.That(t, err, test.ShouldBeNil)
			px := img.NRGBAAt(0, 0)
			test.That(t, px.R, test.ShouldBeGreaterThan, px.G)
			test.That(t, px.R, test.ShouldBeGreaterThan, px.B)
		})
	}

	t.Run("bt709 differs from bt601", func(t *testing.T) {
		frame := yuvFrame(LayoutNV12, 128, 90, 200)
		a, err := DecodeColorBytes(frame, src, ColorOptions{Space: ColorSpaceBT601})
		test.That(t, err, test.ShouldBeNil)
		b, err := DecodeColorBytes(frame, src, ColorOptions{Space: ColorSpaceBT709})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, a.NRGBAAt(0, 0), test.ShouldNotResemble, b.NRGBAAt(0, 0))
	})

	t.Run("wrong size", func(t *testing.T) {
		_, err := DecodeColorBytes(yuvFrame(LayoutNV12, 1, 2, 3)[:10], src, ColorOptions{})
		test.That(t, err, test.ShouldNotBeNil)
		_, err = DecodeColorBytes(yuvFrame(LayoutNV12, 1, 2, 3), ColorSource{Encoding: ColorYUV420}, ColorOptions{})
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("square size inferred", func(t *testing.T) {
		square := make([]byte, 4*4*3/2)
		for i := range square {
			square[i] = 128
		}
		img, err := DecodeColorBytes(square, ColorSource{Encoding: ColorYUV420}, ColorOptions{})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, img.Bounds().Dx(), test.ShouldEqual, 4)
		test.That(t, img.Bounds().Dy(), test.ShouldEqual, 4)
	})

	t.Run("bad options", func(t *testing.T) {
		_, err := DecodeColorBytes(yuvFrame(LayoutNV12, 1, 2, 3), src, ColorOptions{Layout: "yuyv"})
		test.That(t, err, test.ShouldNotBeNil)
		_, err = DecodeColorBytes(yuvFrame(LayoutNV12, 1, 2, 3), src, ColorOptions{Space: "srgb"})
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestDecodeColorFile(t *testing.T) {
	dir := t.TempDir()
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.Set(1, 1, color.RGBA{10, 20, 30, 255})
	var buf bytes.Buffer
	test.That(t, png.Encode(&buf, img), test.ShouldBeNil)
	path := filepath.Join(dir, "frame.png")
	test.That(t, os.WriteFile(path, buf.Bytes(), 0o600), test.ShouldBeNil)

	out, err := DecodeColor(ColorSource{Path: path, Encoding: ColorPNG}, ColorOptions{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.NRGBAAt(1, 1), test.ShouldResemble, color.NRGBA{10, 20, 30, 255})

	corrupt := filepath.Join(dir, "corrupt.jpg")
	test.That(t, os.WriteFile(corrupt, []byte("not a jpeg"), 0o600), test.ShouldBeNil)
	_, err = DecodeColor(ColorSource{Path: corrupt, Encoding: ColorJPEG}, ColorOptions{})
	var decodeErr *DecodeError
	test.That(t, errors.As(err, &decodeErr), test.ShouldBeTrue)
	test.That(t, decodeErr.Kind, test.ShouldEqual, CorruptColorFrame)
	test.That(t, decodeErr.Error(), test.ShouldContainSubstring, "corrupt color frame")
}

func TestParseEncodings(t *testing.T) {
	enc, err := ParseColorEncoding("jpg")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, enc, test.ShouldEqual, ColorJPEG)
	_, err = ParseColorEncoding("bmp")
	test.That(t, err, test.ShouldNotBeNil)

	var depth DepthEncoding
	test.That(t, depth.UnmarshalText([]byte("float32_ndc")), test.ShouldBeNil)
	test.That(t, depth, test.ShouldEqual, DepthFloat32NDC)
	test.That(t, depth.UnmarshalText([]byte("exr")), test.ShouldNotBeNil)
}
