// Package meshproc cleans up, smooths, decimates and previews meshes extracted from a volume.
package meshproc

import (
	"context"
	"fmt"
	"image"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"github.com/mejkerslab/questgear3d/config"
	"github.com/mejkerslab/questgear3d/logging"
	"github.com/mejkerslab/questgear3d/spatialmath"
)

// Options controls Process.
type Options struct {
	SmoothingIterations int
	SmoothingLambda     float64
	// DecimationRatio is the fraction of input triangles to keep, in (0, 1]. One disables
	// decimation.
	DecimationRatio float64
	Preview         PreviewOptions
}

// OptionsFromConfig derives post processing options from the run configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SmoothingIterations: cfg.SmoothingIterations,
		SmoothingLambda:     cfg.SmoothingLambda,
		DecimationRatio:     cfg.DecimationRatio,
		Preview: PreviewOptions{
			Width:  cfg.Export.PreviewWidth,
			Height: cfg.Export.PreviewHeight,
		},
	}
}

func (o Options) validate() error {
	if o.SmoothingIterations < 0 {
		return errors.Errorf("smoothing iterations must not be negative, got %d", o.SmoothingIterations)
	}
	if o.SmoothingLambda < 0 || o.SmoothingLambda > 1 {
		return errors.Errorf("smoothing lambda must be in [0, 1], got %v", o.SmoothingLambda)
	}
	if o.DecimationRatio <= 0 || o.DecimationRatio > 1 {
		return errors.Errorf("decimation ratio must be in (0, 1], got %v", o.DecimationRatio)
	}
	return o.Preview.validate()
}

// Stats counts what Process changed.
type Stats struct {
	InputTriangles      int
	DegenerateRemoved   int
	UnreferencedRemoved int
	Decimated           int
	OutputTriangles     int
	OutputVertices      int
}

func (s Stats) String() string {
	return fmt.Sprintf("%d -> %d triangles (%d degenerate, %d decimated), %d vertices",
		s.InputTriangles, s.OutputTriangles, s.DegenerateRemoved, s.Decimated, s.OutputVertices)
}

// Result is the outcome of Process. Empty is set when there was no geometry to process; the
// preview is then a placeholder.
type Result struct {
	Mesh    *spatialmath.Mesh
	Preview image.Image
	Empty   bool
	Stats   Stats
}

// Process cleans mesh in place, smooths it, decimates it and renders a preview. A mesh without
// triangles is not an error.
func Process(ctx context.Context, mesh *spatialmath.Mesh, opts Options, logger logging.Logger) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "meshproc::Process")
	defer span.End()

	if err := opts.validate(); err != nil {
		return nil, err
	}
	if mesh == nil {
		mesh = spatialmath.NewMesh()
	}
	stats := Stats{InputTriangles: mesh.NumTriangles()}
	if mesh.IsEmpty() {
		logger.CDebug(ctx, "no geometry to post process")
		return &Result{Mesh: mesh, Preview: placeholderPreview(opts.Preview), Empty: true, Stats: stats}, nil
	}

	stats.DegenerateRemoved = mesh.RemoveDegenerateFaces()
	stats.UnreferencedRemoved = mesh.RemoveUnreferencedVertices()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	TaubinSmooth(mesh, opts.SmoothingIterations, opts.SmoothingLambda)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.DecimationRatio < 1 {
		before := mesh.NumTriangles()
		Decimate(mesh, opts.DecimationRatio)
		stats.Decimated = before - mesh.NumTriangles()
	}
	mesh.ComputeVertexNormals()

	stats.OutputTriangles = mesh.NumTriangles()
	stats.OutputVertices = len(mesh.Vertices)
	if mesh.IsEmpty() {
		return &Result{Mesh: mesh, Preview: placeholderPreview(opts.Preview), Empty: true, Stats: stats}, nil
	}

	preview, err := RenderPreview(ctx, mesh, opts.Preview)
	if err != nil {
		return nil, err
	}
	logger.CDebugw(ctx, "post processed mesh", "stats", stats.String())
	return &Result{Mesh: mesh, Preview: preview, Stats: stats}, nil
}
