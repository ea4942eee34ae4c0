// Package preprocess turns capture frames into decoded, aligned color and depth ready for
// integration.
package preprocess

import (
	"context"
	"image"

	"go.opencensus.io/trace"
	"golang.org/x/image/draw"

	"github.com/mejkerslab/questgear3d/capture"
	"github.com/mejkerslab/questgear3d/config"
	"github.com/mejkerslab/questgear3d/logging"
	"github.com/mejkerslab/questgear3d/rimage"
	"github.com/mejkerslab/questgear3d/rimage/transform"
)

// Options controls decoding and filtering.
type Options struct {
	Color     rimage.ColorOptions
	Depth     rimage.DepthOptions
	Filter    bool
	Bilateral rimage.BilateralParams
}

// OptionsFromConfig derives preprocessing options from the run configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Color: rimage.ColorOptions{
			Layout: rimage.YUVLayout(cfg.YUVLayout),
			Space:  rimage.ColorSpace(cfg.ColorSpace),
		},
		Depth: rimage.DepthOptions{
			Min:       cfg.DepthMin,
			Max:       cfg.DepthMax,
			Clamp:     cfg.OutOfRangePolicy == config.OutOfRangeClamp,
			UnitScale: cfg.DepthUnitScale,
		},
		Filter: cfg.UseConfidenceFilteredDepth,
		Bilateral: rimage.BilateralParams{
			Diameter:   cfg.Bilateral.Diameter,
			SigmaSpace: cfg.Bilateral.SigmaSpace,
			SigmaDepth: cfg.Bilateral.SigmaDepth,
		},
	}
}

// Frame is a decoded capture frame. The embedded capture.Frame is the original, unmodified;
// Image and DepthMap share the depth resolution and Camera is scaled to it.
type Frame struct {
	capture.Frame
	Image    *image.NRGBA
	DepthMap *rimage.DepthMap
	Camera   *transform.PinholeCameraIntrinsics
}

// Preprocessor decodes frames. It keeps no per-frame state and is safe for concurrent use.
type Preprocessor struct {
	opts   Options
	shared *transform.PinholeCameraIntrinsics
	logger logging.Logger
}

// NewPreprocessor returns a Preprocessor. shared are the capture wide intrinsics used by frames
// that carry none and may be nil.
func NewPreprocessor(opts Options, shared *transform.PinholeCameraIntrinsics, logger logging.Logger) *Preprocessor {
	return &Preprocessor{opts: opts, shared: shared, logger: logger}
}

// Process decodes the color and depth of f, filters depth when enabled, and aligns color and
// intrinsics to the depth resolution. Decoding failures are *rimage.DecodeError.
func (p *Preprocessor) Process(ctx context.Context, f capture.Frame) (*Frame, error) {
	ctx, span := trace.StartSpan(ctx, "preprocess::Process")
	defer span.End()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dm, err := rimage.DecodeDepth(f.Depth, p.opts.Depth)
	if err != nil {
		return nil, err
	}
	if p.opts.Filter {
		dm = rimage.BilateralFilter(dm, p.opts.Bilateral)
	}

	img, err := rimage.DecodeColor(f.Color, p.opts.Color)
	if err != nil {
		return nil, err
	}

	intr, err := p.intrinsics(f)
	if err != nil {
		return nil, err
	}
	if intr.Width != dm.Width() || intr.Height != dm.Height() {
		p.logger.CDebugw(ctx, "scaling intrinsics to depth resolution",
			"frame", f.Index, "from", [2]int{intr.Width, intr.Height}, "to", [2]int{dm.Width(), dm.Height()})
		intr = intr.Scaled(dm.Width(), dm.Height())
	}

	return &Frame{
		Frame:    f,
		Image:    ResizeBilinear(img, dm.Width(), dm.Height()),
		DepthMap: dm,
		Camera:   intr,
	}, nil
}

func (p *Preprocessor) intrinsics(f capture.Frame) (*transform.PinholeCameraIntrinsics, error) {
	switch {
	case f.Intrinsics != nil:
		intr := *f.Intrinsics
		return &intr, intr.CheckValid()
	case p.shared != nil:
		intr := *p.shared
		return &intr, intr.CheckValid()
	default:
		return nil, transform.NewNoIntrinsicsError("frame has no intrinsics and the capture has none shared")
	}
}

// ResizeBilinear returns img scaled to width x height. An image already at that size is
// returned as is.
func ResizeBilinear(img *image.NRGBA, width, height int) *image.NRGBA {
	if img.Bounds().Dx() == width && img.Bounds().Dy() == height {
		return img
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}
