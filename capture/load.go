package capture

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/mejkerslab/questgear3d/logging"
	"github.com/mejkerslab/questgear3d/rimage"
)

type loadOptions struct {
	writeIndex       bool
	depthUnitScale   float64
	lenientPoseCount bool
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithoutIndexWrite skips writing the canonical index next to the capture.
func WithoutIndexWrite() LoadOption {
	return func(o *loadOptions) {
		o.writeIndex = false
	}
}

// WithDepthUnitScale sets meters per unit for integer depth files. Zero keeps the default.
func WithDepthUnitScale(scale float64) LoadOption {
	return func(o *loadOptions) {
		if scale > 0 {
			o.depthUnitScale = scale
		}
	}
}

// WithLenientPoseCount truncates a legacy capture to its shortest stream instead of failing
// when the pose table and the image directories disagree.
func WithLenientPoseCount() LoadOption {
	return func(o *loadOptions) {
		o.lenientPoseCount = true
	}
}

// Load detects the layout of the capture at root, reads it with the matching adapter and
// returns its Index. Unless disabled, the canonical index is written next to the capture when
// it does not exist yet.
func Load(ctx context.Context, root string, logger logging.Logger, opts ...LoadOption) (*Index, error) {
	ctx, span := trace.StartSpan(ctx, "capture::Load")
	defer span.End()

	o := loadOptions{writeIndex: true, depthUnitScale: rimage.DefaultUnitScale}
	for _, opt := range opts {
		opt(&o)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolving capture root")
	}
	format, err := Detect(root)
	if err != nil {
		return nil, err
	}

	var idx *Index
	switch format {
	case FormatModern:
		idx, err = loadModern(root, o, logger)
	case FormatLegacy:
		idx, err = loadLegacy(root, o, logger)
	default:
		err = newFormatError(UnrecognizedLayout, root, errors.Errorf("no adapter for %s", format))
	}
	if err != nil {
		return nil, err
	}

	groups := idx.Groups()
	logger.CDebugw(ctx, "loaded capture", "root", root, "format", format, "frames", idx.Len(), "frame_sets", len(groups))
	if o.writeIndex {
		written, err := writeIndexIfAbsent(idx)
		if err != nil {
			return nil, errors.Wrap(err, "writing canonical index")
		}
		if written {
			logger.Infow("wrote canonical index", "path", IndexFile, "frames", idx.Len())
		}
	}
	return idx, nil
}
