package preprocess

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/mejkerslab/questgear3d/capture"
	"github.com/mejkerslab/questgear3d/config"
	"github.com/mejkerslab/questgear3d/logging"
	"github.com/mejkerslab/questgear3d/rimage"
	"github.com/mejkerslab/questgear3d/rimage/transform"
	"github.com/mejkerslab/questgear3d/testutils/capturegen"
)

func loadScene(t *testing.T, scene capturegen.Scene) *capture.Index {
	t.Helper()
	root := t.TempDir()
	test.That(t, capturegen.WriteModern(root, scene), test.ShouldBeNil)
	idx, err := capture.Load(context.Background(), root, logging.NewTestLogger(t), capture.WithoutIndexWrite())
	test.That(t, err, test.ShouldBeNil)
	return idx
}

func TestProcess(t *testing.T) {
	scene := capturegen.DefaultScene()
	scene.Frames = 2
	idx := loadScene(t, scene)
	logger := logging.NewTestLogger(t)

	opts := OptionsFromConfig(config.Default())
	test.That(t, opts.Filter, test.ShouldBeTrue)
	test.That(t, opts.Depth.Max, test.ShouldEqual, 3.0)

	p := NewPreprocessor(opts, idx.Intrinsics, logger)
	frame := idx.Frame(1)
	out, err := p.Process(context.Background(), frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Frame, test.ShouldResemble, frame)
	test.That(t, out.DepthMap.Width(), test.ShouldEqual, scene.Width)
	test.That(t, out.Image.Bounds().Dx(), test.ShouldEqual, scene.Width)
	test.That(t, out.Camera, test.ShouldResemble, scene.Intrinsics())
	test.That(t, out.DepthMap.ValidCount(), test.ShouldEqual, scene.Width*scene.Height)
	test.That(t, out.DepthMap.GetDepth(3, 20), test.ShouldAlmostEqual, scene.Depth(1)[20*scene.Width+3], 2e-3)

	t.Run("no intrinsics", func(t *testing.T) {
		bare := NewPreprocessor(opts, nil, logger)
		_, err := bare.Process(context.Background(), frame)
		test.That(t, errors.Is(err, transform.ErrNoIntrinsics), test.ShouldBeTrue)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := p.Process(ctx, frame)
		test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	})

	t.Run("corrupt depth", func(t *testing.T) {
		broken := frame
		broken.Depth.Path = filepath.Join(t.TempDir(), "missing.png")
		_, err := p.Process(context.Background(), broken)
		var de *rimage.DecodeError
		test.That(t, errors.As(err, &de), test.ShouldBeTrue)
		test.That(t, de.Kind, test.ShouldEqual, rimage.CorruptDepthFrame)
	})

	t.Run("corrupt color", func(t *testing.T) {
		broken := frame
		broken.Color.Path = filepath.Join(t.TempDir(), "garbage.png")
		test.That(t, os.WriteFile(broken.Color.Path, []byte("not a png"), 0o600), test.ShouldBeNil)
		_, err := p.Process(context.Background(), broken)
		var de *rimage.DecodeError
		test.That(t, errors.As(err, &de), test.ShouldBeTrue)
		test.That(t, de.Kind, test.ShouldEqual, rimage.CorruptColorFrame)
	})
}

func TestProcessAlignsColorToDepth(t *testing.T) {
	scene := capturegen.DefaultScene()
	scene.Frames = 1
	idx := loadScene(t, scene)

	// color at twice the depth resolution with intrinsics to match
	big := image.NewNRGBA(image.Rect(0, 0, 2*scene.Width, 2*scene.Height))
	for y := 0; y < big.Bounds().Dy(); y++ {
		for x := 0; x < big.Bounds().Dx(); x++ {
			big.SetNRGBA(x, y, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	colorPath := filepath.Join(t.TempDir(), "big.png")
	f, err := os.Create(colorPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, png.Encode(f, big), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	frame := idx.Frame(0)
	frame.Color = rimage.ColorSource{Path: colorPath, Encoding: rimage.ColorPNG}
	frame.Intrinsics = scene.Intrinsics().Scaled(2*scene.Width, 2*scene.Height)

	opts := OptionsFromConfig(config.Default())
	opts.Filter = false
	out, err := NewPreprocessor(opts, nil, logging.NewTestLogger(t)).Process(context.Background(), frame)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Image.Bounds().Dx(), test.ShouldEqual, scene.Width)
	test.That(t, out.Image.NRGBAAt(5, 5), test.ShouldResemble, color.NRGBA{R: 200, G: 100, B: 50, A: 255})
	test.That(t, out.Camera.Fx, test.ShouldAlmostEqual, scene.Fx)
	test.That(t, out.Camera.Ppx, test.ShouldAlmostEqual, float64(scene.Width)/2)
	// the original frame keeps its own intrinsics
	test.That(t, out.Intrinsics.Width, test.ShouldEqual, 2*scene.Width)
}

func TestResizeBilinearNoop(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	test.That(t, ResizeBilinear(img, 4, 4), test.ShouldEqual, img)
	test.That(t, ResizeBilinear(img, 2, 2).Bounds(), test.ShouldResemble, image.Rect(0, 0, 2, 2))
}
