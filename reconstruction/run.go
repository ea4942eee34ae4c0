// Package reconstruction runs the capture to mesh pipeline: it loads a capture, resolves poses,
// gates and integrates depth into a TSDF volume, extracts and post processes the mesh, and
// exports the artifacts.
package reconstruction

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mejkerslab/questgear3d/capture"
	"github.com/mejkerslab/questgear3d/config"
	"github.com/mejkerslab/questgear3d/logging"
	"github.com/mejkerslab/questgear3d/meshproc"
	"github.com/mejkerslab/questgear3d/monodepth"
	"github.com/mejkerslab/questgear3d/pointcloud"
	"github.com/mejkerslab/questgear3d/preprocess"
	"github.com/mejkerslab/questgear3d/referenceframe"
	"github.com/mejkerslab/questgear3d/rimage"
	"github.com/mejkerslab/questgear3d/spatialmath"
	"github.com/mejkerslab/questgear3d/tsdf"
)

// ErrCancelled is returned when the run's context is cancelled. No mesh is produced.
var ErrCancelled = errors.Wrap(context.Canceled, "reconstruction cancelled")

type runOptions struct {
	handler   EventHandler
	clock     clock.Clock
	estimator monodepth.Estimator
	export    bool
	loadOpts  []capture.LoadOption
}

// Option configures a run.
type Option func(*runOptions)

// WithEventHandler delivers run events to h on the run's goroutine.
func WithEventHandler(h EventHandler) Option {
	return func(o *runOptions) {
		o.handler = h
	}
}

// WithClock sets the clock used to time the run.
func WithClock(c clock.Clock) Option {
	return func(o *runOptions) {
		o.clock = c
	}
}

// WithEstimator replaces the monocular estimator used when the fallback is enabled.
func WithEstimator(est monodepth.Estimator) Option {
	return func(o *runOptions) {
		o.estimator = est
	}
}

// WithoutExport skips writing artifacts.
func WithoutExport() Option {
	return func(o *runOptions) {
		o.export = false
	}
}

// WithLoadOptions passes options to capture.Load.
func WithLoadOptions(opts ...capture.LoadOption) Option {
	return func(o *runOptions) {
		o.loadOpts = append(o.loadOpts, opts...)
	}
}

func (o *runOptions) emit(e Event) {
	if o.handler != nil {
		o.handler(e)
	}
}

// Result is a completed run. Mesh is empty, never nil, when nothing was integrated.
type Result struct {
	Mesh      *spatialmath.Mesh
	Processed *meshproc.Result
	// Trajectory holds one camera position per integrated view in frame order, repeats included.
	Trajectory pointcloud.PointCloud
	Summary    Summary
	Volume     tsdf.Stats
	Artifacts  *Artifacts
}

// Run reconstructs the capture at root.
func Run(ctx context.Context, root string, cfg *config.Config, logger logging.Logger, opts ...Option) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "reconstruction::Run")
	defer span.End()

	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	o := newRunOptions(opts)
	loadOpts := append([]capture.LoadOption{capture.WithDepthUnitScale(cfg.DepthUnitScale)}, o.loadOpts...)
	idx, err := capture.Load(ctx, root, logger.Sublogger("capture"), loadOpts...)
	if err != nil {
		return nil, cancelled(ctx, err)
	}
	return runIndex(ctx, idx, cfg, logger, o)
}

// RunIndex reconstructs an already loaded capture.
func RunIndex(ctx context.Context, idx *capture.Index, cfg *config.Config, logger logging.Logger, opts ...Option) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "reconstruction::RunIndex")
	defer span.End()

	if err := cfg.Validate(""); err != nil {
		return nil, err
	}
	return runIndex(ctx, idx, cfg, logger, newRunOptions(opts))
}

func newRunOptions(opts []Option) *runOptions {
	o := &runOptions{clock: clock.New(), export: true}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// cancelled maps a cancelled context to ErrCancelled and passes other errors through.
func cancelled(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return ErrCancelled
	}
	return err
}

// decodedView is one preprocessed view of a frame set, or why it could not be decoded.
type decodedView struct {
	frame *preprocess.Frame
	err   error
}

type pipeline struct {
	cfg       *config.Config
	logger    logging.Logger
	opts      *runOptions
	pre       *preprocess.Preprocessor
	resolver  *referenceframe.Resolver
	volume    *tsdf.Volume
	estimator monodepth.Estimator
	th        rimage.ValidationThresholds

	summary    Summary
	trajectory pointcloud.PointCloud
}

func runIndex(ctx context.Context, idx *capture.Index, cfg *config.Config, logger logging.Logger, o *runOptions) (*Result, error) {
	start := o.clock.Now()
	groups := capture.SelectGroups(idx.Groups(), cfg.StartFrame, cfg.EndFrame, cfg.FrameInterval)

	volume, err := tsdf.NewVolume(tsdf.VolumeConfigFromConfig(cfg), logger.Sublogger("tsdf"))
	if err != nil {
		return nil, err
	}
	p := &pipeline{
		cfg:    cfg,
		logger: logger,
		opts:   o,
		pre:    preprocess.NewPreprocessor(preprocess.OptionsFromConfig(cfg), idx.Intrinsics, logger.Sublogger("preprocess")),
		resolver: referenceframe.NewResolver(referenceframe.ResolverConfig{
			StereoEnabled:        cfg.StereoEnabled,
			InterpupillaryOffset: cfg.InterpupillaryOffset,
			RejectIdentityPoses:  cfg.RejectIdentityPoses,
		}),
		volume: volume,
		th: rimage.ValidationThresholds{
			MinValidFraction:  cfg.Validation.MinValidFraction,
			MinDistinctValues: cfg.Validation.MinDistinctValues,
		},
		summary:    Summary{RunID: uuid.New(), Source: idx.Source, Format: idx.Format, FrameSets: len(groups)},
		trajectory: pointcloud.NewSequence(),
	}
	if cfg.MonocularFallback {
		p.estimator = o.estimator
		if p.estimator == nil {
			p.estimator = monodepth.NewGradientEstimatorFromConfig(cfg)
		}
	}

	logger.Infow("starting reconstruction",
		"run", p.summary.RunID, "source", idx.Source, "format", idx.Format, "frame_sets", len(groups))
	o.emit(Event{Kind: EventStarted, Total: len(groups)})

	// Frame sets are decoded a window at a time, in parallel; integration stays in index order.
	window := cfg.Workers
	processed := 0
	for lo := 0; lo < len(groups); lo += window {
		hi := lo + window
		if hi > len(groups) {
			hi = len(groups)
		}
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		decoded, err := p.decodeWindow(ctx, groups[lo:hi])
		if err != nil {
			return nil, cancelled(ctx, err)
		}
		for i, group := range groups[lo:hi] {
			if ctx.Err() != nil {
				return nil, ErrCancelled
			}
			if err := p.integrateSet(ctx, group, decoded[i]); err != nil {
				return nil, cancelled(ctx, err)
			}
			processed++
			o.emit(Event{Kind: EventProgress, Processed: processed, Total: len(groups)})
		}
	}

	mesh, err := volume.ExtractMesh(ctx)
	if err != nil {
		return nil, cancelled(ctx, err)
	}
	post, err := meshproc.Process(ctx, mesh, meshproc.OptionsFromConfig(cfg), logger.Sublogger("meshproc"))
	if err != nil {
		return nil, cancelled(ctx, err)
	}

	s := &p.summary
	s.NoGeometry = s.Integrated == 0
	s.Vertices = len(post.Mesh.Vertices)
	s.Triangles = post.Mesh.NumTriangles()
	s.Duration = o.clock.Since(start)
	if s.NoGeometry {
		logger.Warnw("no usable depth was integrated, the mesh is empty", "summary", s.String())
	} else {
		logger.Infow("reconstruction finished", "summary", s.String(), "volume", volume.Stats().String())
	}

	res := &Result{
		Mesh:       post.Mesh,
		Processed:  post,
		Trajectory: p.trajectory,
		Summary:    *s,
		Volume:     volume.Stats(),
	}
	o.emit(Event{Kind: EventFinished, Processed: processed, Total: len(groups)})
	if o.export {
		artifacts, err := Export(res, cfg.ExportDir(idx.Root), cfg.Export, logger)
		if err != nil {
			return nil, err
		}
		res.Artifacts = artifacts
	}
	return res, nil
}

// decodeWindow preprocesses every view of sets concurrently. Decode failures are recorded per
// view; only cancellation fails the window.
func (p *pipeline) decodeWindow(ctx context.Context, sets []capture.FrameSet) ([][]decodedView, error) {
	out := make([][]decodedView, len(sets))
	g, gctx := errgroup.WithContext(ctx)
	for i, set := range sets {
		out[i] = make([]decodedView, len(set.Frames))
		for j, f := range set.Frames {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				frame, err := p.pre.Process(gctx, f)
				if err != nil && gctx.Err() != nil {
					return gctx.Err()
				}
				out[i][j] = decodedView{frame: frame, err: err}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *pipeline) skip(set capture.FrameSet, cameraID, reason string) {
	p.opts.emit(Event{Kind: EventFrameSkipped, FrameIndex: set.Index, CameraID: cameraID, Reason: reason})
}

// integrateSet resolves the poses of one frame set and integrates each usable view. Only
// integration errors are returned; per view problems are counted.
func (p *pipeline) integrateSet(ctx context.Context, set capture.FrameSet, views []decodedView) error {
	s := &p.summary
	s.Views += len(set.Frames)

	records, err := p.resolver.Resolve(set.PoseInput())
	if err != nil {
		var pe *referenceframe.PoseError
		if !errors.As(err, &pe) {
			return err
		}
		s.PoseFailures++
		p.logger.Warnw("skipping frame set with invalid pose", "frame", set.Index, "reason", pe.Reason)
		p.skip(set, "", pe.Reason)
		return nil
	}

	for i, rec := range records {
		if err := p.trajectory.Set(rec.Pose.Point(), pointcloud.NewValueData(set.Index)); err != nil {
			return err
		}
		view := views[i]
		if view.err != nil {
			s.DecodeFailures++
			p.logger.Warnw("skipping undecodable view", "frame", set.Index, "camera", rec.CameraID, "error", view.err)
			p.skip(set, rec.CameraID, view.err.Error())
			continue
		}

		depth, report, fallback, err := p.gate(ctx, view.frame)
		if err != nil {
			return err
		}
		if report.Verdict != rimage.DepthUsable {
			if report.Verdict == rimage.DepthEmpty {
				s.Empty++
			} else {
				s.Degenerate++
			}
			p.logger.CDebugw(ctx, "skipping view", "frame", set.Index, "camera", rec.CameraID, "depth", report.String())
			p.skip(set, rec.CameraID, report.Verdict.String())
			continue
		}
		s.Usable++
		if fallback {
			s.MonocularFallbacks++
		}

		if err := p.volume.Integrate(ctx, tsdf.View{
			Depth:      depth,
			Color:      view.frame.Image,
			Intrinsics: view.frame.Camera,
			Pose:       rec.Pose,
		}); err != nil {
			return err
		}
		s.Integrated++
	}
	return nil
}

// gate classifies the device depth of f and, when it is unusable and the fallback is enabled,
// the monocular estimate instead.
func (p *pipeline) gate(ctx context.Context, f *preprocess.Frame) (*rimage.DepthMap, rimage.DepthReport, bool, error) {
	report := rimage.ClassifyDepth(f.DepthMap, p.th)
	if report.Verdict == rimage.DepthUsable || p.estimator == nil {
		return f.DepthMap, report, false, nil
	}
	estimated, err := p.estimator.Estimate(ctx, f.Image, f.Camera)
	if err != nil {
		if ctx.Err() != nil {
			return nil, report, false, ctx.Err()
		}
		p.logger.Warnw("monocular depth estimation failed", "frame", f.Index, "error", err)
		return f.DepthMap, report, false, nil
	}
	estimatedReport := rimage.ClassifyDepth(estimated, p.th)
	if estimatedReport.Verdict != rimage.DepthUsable {
		return f.DepthMap, report, false, nil
	}
	p.logger.CDebugw(ctx, "using monocular depth", "frame", f.Index, "camera", f.CameraID, "device", report.String())
	return estimated, estimatedReport, true, nil
}
