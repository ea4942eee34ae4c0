// Package monodepth estimates depth from a single color image for frames whose device depth is
// missing or unusable.
package monodepth

import (
	"context"
	"image"
	"image/png"
	"os"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/mejkerslab/questgear3d/capture"
	"github.com/mejkerslab/questgear3d/config"
	"github.com/mejkerslab/questgear3d/logging"
	"github.com/mejkerslab/questgear3d/rimage"
	"github.com/mejkerslab/questgear3d/rimage/transform"
	"github.com/mejkerslab/questgear3d/utils"
)

// Estimator produces a depth map in meters with the dimensions of intr from a color image.
type Estimator interface {
	Estimate(ctx context.Context, img image.Image, intr *transform.PinholeCameraIntrinsics) (*rimage.DepthMap, error)
}

// GradientEstimator is a deterministic prior: lower rows and brighter pixels are taken to be
// closer. It needs no model and always yields a non uniform map for images taller than one row.
type GradientEstimator struct {
	MinDepth float64
	MaxDepth float64
	// BlurSigma smooths luminance before it is used; zero disables blurring.
	BlurSigma float64
	// LuminanceWeight is the share of the nearness taken from luminance, in [0, 1].
	LuminanceWeight float64
}

// NewGradientEstimatorFromConfig returns a GradientEstimator bounded by the monocular settings.
func NewGradientEstimatorFromConfig(cfg *config.Config) *GradientEstimator {
	return &GradientEstimator{
		MinDepth:        cfg.Monocular.MinDepth,
		MaxDepth:        cfg.Monocular.MaxDepth,
		BlurSigma:       2,
		LuminanceWeight: 0.3,
	}
}

// Estimate implements Estimator.
func (e *GradientEstimator) Estimate(
	ctx context.Context,
	img image.Image,
	intr *transform.PinholeCameraIntrinsics,
) (*rimage.DepthMap, error) {
	_, span := trace.StartSpan(ctx, "monodepth::Estimate")
	defer span.End()

	if img == nil {
		return nil, errors.New("no image to estimate depth from")
	}
	if err := intr.CheckValid(); err != nil {
		return nil, err
	}
	if e.MinDepth <= 0 || e.MaxDepth <= e.MinDepth {
		return nil, errors.Errorf("need 0 < min depth < max depth, got [%v, %v]", e.MinDepth, e.MaxDepth)
	}
	if e.LuminanceWeight < 0 || e.LuminanceWeight > 1 {
		return nil, errors.Errorf("luminance weight must be in [0, 1], got %v", e.LuminanceWeight)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gray := imaging.Grayscale(imaging.Resize(img, intr.Width, intr.Height, imaging.Linear))
	if e.BlurSigma > 0 {
		gray = imaging.Blur(gray, e.BlurSigma)
	}

	w, h := intr.Width, intr.Height
	dm := rimage.NewEmptyDepthMap(w, h)
	span01 := e.MaxDepth - e.MinDepth
	utils.ParallelForEachPixel(image.Point{w, h}, func(x, y int) {
		row := 0.5
		if h > 1 {
			row = float64(y) / float64(h-1)
		}
		lum := float64(gray.NRGBAAt(x, y).R) / 255
		near := (1-e.LuminanceWeight)*row + e.LuminanceWeight*lum
		dm.Set(x, y, float32(e.MaxDepth-near*span01))
	})
	return dm, nil
}

// WriteDepthPNG16 writes dm as a 16-bit PNG in units of capture.MonocularUnitScale.
func WriteDepthPNG16(dm *rimage.DepthMap, path string) error {
	return utils.WriteFileAtomic(path, func(f *os.File) error {
		return png.Encode(f, dm.ToGray16Picture(capture.MonocularUnitScale))
	})
}

// GenerateForCapture estimates depth for every frame of a modern capture and writes it to the
// capture's monocular depth folder, where the loader prefers it over device depth. It returns
// the number of files written.
func GenerateForCapture(
	ctx context.Context,
	idx *capture.Index,
	est Estimator,
	colorOpts rimage.ColorOptions,
	logger logging.Logger,
) (int, error) {
	ctx, span := trace.StartSpan(ctx, "monodepth::GenerateForCapture")
	defer span.End()

	if idx.Format != capture.FormatModern {
		return 0, errors.Errorf("monocular depth is only read back for modern captures, got %s", idx.Format)
	}
	written := 0
	for i := 0; i < idx.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		f := idx.Frame(i)
		intr, err := idx.IntrinsicsFor(f)
		if err != nil {
			return written, errors.Wrapf(err, "frame %d", f.Index)
		}
		img, err := rimage.DecodeColor(f.Color, colorOpts)
		if err != nil {
			logger.Warnw("skipping frame without decodable color", "frame", f.Index, "error", err)
			continue
		}
		dm, err := est.Estimate(ctx, img, intr)
		if err != nil {
			return written, errors.Wrapf(err, "estimating depth for frame %d", f.Index)
		}
		out := capture.MonocularDepthPath(idx.Root, f.Depth.Path)
		if err := WriteDepthPNG16(dm, out); err != nil {
			return written, err
		}
		written++
		logger.CDebugw(ctx, "wrote monocular depth", "frame", f.Index, "path", out)
	}
	logger.Infow("generated monocular depth", "frames", written, "dir", capture.MonocularDepthDir)
	return written, nil
}
