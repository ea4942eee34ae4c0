package monodepth

import (
	"context"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"github.com/mejkerslab/questgear3d/capture"
	"github.com/mejkerslab/questgear3d/config"
	"github.com/mejkerslab/questgear3d/logging"
	"github.com/mejkerslab/questgear3d/rimage"
	"github.com/mejkerslab/questgear3d/rimage/transform"
	"github.com/mejkerslab/questgear3d/testutils/capturegen"
	"github.com/mejkerslab/questgear3d/utils"
)

func uniformImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
		}
	}
	return img
}

func TestGradientEstimator(t *testing.T) {
	est := NewGradientEstimatorFromConfig(config.Default())
	intr := &transform.PinholeCameraIntrinsics{Width: 16, Height: 12, Fx: 16, Fy: 16, Ppx: 8, Ppy: 6}

	// the color size does not have to match the intrinsics
	dm, err := est.Estimate(context.Background(), uniformImage(32, 24), intr)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dm.Width(), test.ShouldEqual, 16)
	test.That(t, dm.Height(), test.ShouldEqual, 12)

	lo, hi, ok := dm.MinMax()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, float64(lo), test.ShouldBeGreaterThanOrEqualTo, est.MinDepth)
	test.That(t, float64(hi), test.ShouldBeLessThanOrEqualTo, est.MaxDepth)
	test.That(t, dm.GetDepth(3, 0), test.ShouldBeGreaterThan, dm.GetDepth(3, 11))

	report := rimage.ClassifyDepth(dm, rimage.DefaultValidationThresholds())
	test.That(t, report.Verdict, test.ShouldEqual, rimage.DepthUsable)
}

func TestGradientEstimatorErrors(t *testing.T) {
	intr := &transform.PinholeCameraIntrinsics{Width: 4, Height: 4, Fx: 4, Fy: 4, Ppx: 2, Ppy: 2}
	img := uniformImage(4, 4)

	est := &GradientEstimator{MinDepth: 0.3, MaxDepth: 3}
	_, err := est.Estimate(context.Background(), img, nil)
	test.That(t, errors.Is(err, transform.ErrNoIntrinsics), test.ShouldBeTrue)
	_, err = est.Estimate(context.Background(), nil, intr)
	test.That(t, err, test.ShouldNotBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = est.Estimate(ctx, img, intr)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)

	bad := &GradientEstimator{MinDepth: 2, MaxDepth: 1}
	_, err = bad.Estimate(context.Background(), img, intr)
	test.That(t, err, test.ShouldNotBeNil)
	bad = &GradientEstimator{MinDepth: 0.3, MaxDepth: 3, LuminanceWeight: 2}
	_, err = bad.Estimate(context.Background(), img, intr)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWriteDepthPNG16(t *testing.T) {
	dm := rimage.NewEmptyDepthMap(3, 2)
	dm.Set(0, 0, 0.5)
	dm.Set(1, 0, 1.25)
	dm.Set(2, 1, 2.0)
	path := filepath.Join(t.TempDir(), "d.png")
	test.That(t, WriteDepthPNG16(dm, path), test.ShouldBeNil)

	back, err := rimage.DecodeDepth(rimage.DepthSource{
		Path: path, Encoding: rimage.DepthPNG16, UnitScale: capture.MonocularUnitScale,
	}, rimage.DepthOptions{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.GetDepth(0, 0), test.ShouldAlmostEqual, 0.5, 1e-3)
	test.That(t, back.GetDepth(1, 0), test.ShouldAlmostEqual, 1.25, 1e-3)
	test.That(t, back.GetDepth(2, 1), test.ShouldAlmostEqual, 2.0, 1e-3)
	test.That(t, back.IsValid(0, 1), test.ShouldBeFalse)
}

func TestGenerateForCapture(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	scene := capturegen.DefaultScene()
	test.That(t, capturegen.WriteModern(dir, scene), test.ShouldBeNil)

	idx, err := capture.Load(context.Background(), dir, logger, capture.WithoutIndexWrite())
	test.That(t, err, test.ShouldBeNil)
	est := NewGradientEstimatorFromConfig(config.Default())
	n, err := GenerateForCapture(context.Background(), idx, est, rimage.ColorOptions{}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, scene.Frames)
	test.That(t, utils.DirExists(filepath.Join(dir, capture.MonocularDepthDir)), test.ShouldBeTrue)

	reloaded, err := capture.Load(context.Background(), dir, logger, capture.WithoutIndexWrite())
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < reloaded.Len(); i++ {
		f := reloaded.Frame(i)
		test.That(t, strings.Contains(f.Depth.Path, capture.MonocularDepthDir), test.ShouldBeTrue)
		test.That(t, f.Depth.Encoding, test.ShouldEqual, rimage.DepthPNG16)
	}

	legacyDir := t.TempDir()
	test.That(t, capturegen.WriteLegacy(legacyDir, scene, capturegen.LegacyOptions{}), test.ShouldBeNil)
	legacy, err := capture.Load(context.Background(), legacyDir, logger, capture.WithoutIndexWrite())
	test.That(t, err, test.ShouldBeNil)
	_, err = GenerateForCapture(context.Background(), legacy, est, rimage.ColorOptions{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
