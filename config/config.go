// Package config defines the reconstruction configuration, its defaults and its validation.
package config

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"
)

// CapacityPolicy controls what the volume does once its block budget is exhausted.
type CapacityPolicy string

// Known capacity policies.
const (
	CapacityGrow CapacityPolicy = "grow"
	CapacityFail CapacityPolicy = "fail"
)

// OutOfRangePolicy controls depth samples outside [DepthMin, DepthMax].
type OutOfRangePolicy string

// Known out of range policies.
const (
	OutOfRangeInvalidate OutOfRangePolicy = "invalidate"
	OutOfRangeClamp      OutOfRangePolicy = "clamp"
)

// BilateralConfig holds the edge preserving depth filter parameters. SigmaSpace is in pixels and
// SigmaDepth in meters.
type BilateralConfig struct {
	Diameter   int     `json:"diameter"`
	SigmaSpace float64 `json:"sigma_space"`
	SigmaDepth float64 `json:"sigma_depth"`
}

// ValidationConfig holds the depth usability thresholds.
type ValidationConfig struct {
	MinValidFraction  float64 `json:"min_valid_fraction"`
	MinDistinctValues int     `json:"min_distinct_values"`
}

// MonocularConfig bounds the depth produced by the monocular fallback.
type MonocularConfig struct {
	MinDepth float64 `json:"min_depth"`
	MaxDepth float64 `json:"max_depth"`
}

// ExportConfig controls the artifacts written at the end of a run.
type ExportConfig struct {
	Dir              string `json:"dir,omitempty"`
	MeshFormat       string `json:"mesh_format"`
	PLYBinary        bool   `json:"ply_binary"`
	PreviewFormat    string `json:"preview_format"`
	PreviewWidth     int    `json:"preview_width"`
	PreviewHeight    int    `json:"preview_height"`
	TrajectoryFormat string `json:"trajectory_format"`
	WriteSummary     bool   `json:"write_summary"`
}

// Config is the full, immutable set of knobs for one reconstruction run.
type Config struct {
	VoxelSize                 float64        `json:"voxel_size"`
	TruncationVoxelMultiplier float64        `json:"truncation_voxel_multiplier"`
	BlockResolution           int            `json:"block_resolution"`
	BlockCount                int            `json:"block_count"`
	CapacityPolicy            CapacityPolicy `json:"capacity_policy"`

	DepthMin                   float64          `json:"depth_min"`
	DepthMax                   float64          `json:"depth_max"`
	OutOfRangePolicy           OutOfRangePolicy `json:"out_of_range_policy"`
	DepthUnitScale             float64          `json:"depth_unit_scale"`
	UseConfidenceFilteredDepth bool             `json:"use_confidence_filtered_depth"`
	Bilateral                  BilateralConfig  `json:"bilateral"`

	FrameInterval int `json:"frame_interval"`
	StartFrame    int `json:"start_frame"`
	// EndFrame is exclusive; zero or negative means the end of the capture.
	EndFrame int `json:"end_frame"`

	StereoEnabled        bool    `json:"stereo_enabled"`
	InterpupillaryOffset float64 `json:"interpupillary_offset"`
	RejectIdentityPoses  bool    `json:"reject_identity_poses"`

	YUVLayout  string `json:"yuv_layout"`
	ColorSpace string `json:"color_space"`

	Validation ValidationConfig `json:"validation"`

	MonocularFallback bool            `json:"monocular_fallback"`
	Monocular         MonocularConfig `json:"monocular"`

	SmoothingIterations int     `json:"smoothing_iterations"`
	SmoothingLambda     float64 `json:"smoothing_lambda"`
	DecimationRatio     float64 `json:"decimation_ratio"`

	Workers int `json:"workers"`

	Export ExportConfig `json:"export"`

	ConfigFilePath string `json:"-"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		VoxelSize:                 0.01,
		TruncationVoxelMultiplier: 8,
		BlockResolution:           8,
		BlockCount:                20000,
		CapacityPolicy:            CapacityGrow,

		DepthMin:                   0.05,
		DepthMax:                   3.0,
		OutOfRangePolicy:           OutOfRangeInvalidate,
		DepthUnitScale:             0.001,
		UseConfidenceFilteredDepth: true,
		Bilateral: BilateralConfig{
			Diameter:   5,
			SigmaSpace: 2.0,
			SigmaDepth: 0.05,
		},

		FrameInterval: 1,

		InterpupillaryOffset: 0.064,
		RejectIdentityPoses:  true,

		YUVLayout:  "nv12",
		ColorSpace: "bt601",

		Validation: ValidationConfig{
			MinValidFraction:  0.01,
			MinDistinctValues: 2,
		},

		Monocular: MonocularConfig{
			MinDepth: 0.3,
			MaxDepth: 3.0,
		},

		SmoothingIterations: 2,
		SmoothingLambda:     0.5,
		DecimationRatio:     1.0,

		Workers: 1,

		Export: ExportConfig{
			MeshFormat:       "ply",
			PLYBinary:        true,
			PreviewFormat:    "png",
			PreviewWidth:     640,
			PreviewHeight:    480,
			TrajectoryFormat: "ply",
			WriteSummary:     true,
		},
	}
}

// TruncationDistance is the TSDF truncation band in meters.
func (c *Config) TruncationDistance() float64 {
	return c.VoxelSize * c.TruncationVoxelMultiplier
}

// ExportDir returns the directory artifacts are written to for a capture rooted at root.
func (c *Config) ExportDir(root string) string {
	if c.Export.Dir != "" {
		return c.Export.Dir
	}
	return filepath.Join(root, "Export")
}

// Validate ensures all parts of the config are valid. The path prefixes field names in errors.
func (c *Config) Validate(path string) error {
	field := func(name string) string {
		if path == "" {
			return name
		}
		return fmt.Sprintf("%s.%s", path, name)
	}
	positive := map[string]float64{
		"voxel_size":                  c.VoxelSize,
		"truncation_voxel_multiplier": c.TruncationVoxelMultiplier,
		"depth_max":                   c.DepthMax,
		"depth_unit_scale":            c.DepthUnitScale,
	}
	for _, name := range []string{"voxel_size", "truncation_voxel_multiplier", "depth_max", "depth_unit_scale"} {
		if positive[name] <= 0 {
			return utils.NewConfigValidationError(field(name), errors.Errorf("must be positive, got %v", positive[name]))
		}
	}
	if c.DepthMin < 0 || c.DepthMin >= c.DepthMax {
		return utils.NewConfigValidationError(field("depth_min"),
			errors.Errorf("must be in [0, depth_max), got %v", c.DepthMin))
	}
	if c.BlockResolution < 2 {
		return utils.NewConfigValidationError(field("block_resolution"), errors.New("must be at least 2"))
	}
	if c.BlockCount <= 0 {
		return utils.NewConfigValidationError(field("block_count"), errors.New("must be positive"))
	}
	switch c.CapacityPolicy {
	case CapacityGrow, CapacityFail:
	case "":
		return utils.NewConfigValidationFieldRequiredError(path, "capacity_policy")
	default:
		return utils.NewConfigValidationError(field("capacity_policy"),
			errors.Errorf("unknown policy %q", c.CapacityPolicy))
	}
	switch c.OutOfRangePolicy {
	case OutOfRangeInvalidate, OutOfRangeClamp:
	case "":
		return utils.NewConfigValidationFieldRequiredError(path, "out_of_range_policy")
	default:
		return utils.NewConfigValidationError(field("out_of_range_policy"),
			errors.Errorf("unknown policy %q", c.OutOfRangePolicy))
	}
	if c.UseConfidenceFilteredDepth {
		if c.Bilateral.Diameter < 1 || c.Bilateral.SigmaSpace <= 0 || c.Bilateral.SigmaDepth <= 0 {
			return utils.NewConfigValidationError(field("bilateral"),
				errors.New("diameter must be at least 1 and sigmas must be positive"))
		}
	}
	if c.FrameInterval < 1 {
		return utils.NewConfigValidationError(field("frame_interval"), errors.New("must be at least 1"))
	}
	if c.StartFrame < 0 {
		return utils.NewConfigValidationError(field("start_frame"), errors.New("must not be negative"))
	}
	if c.EndFrame > 0 && c.EndFrame <= c.StartFrame {
		return utils.NewConfigValidationError(field("end_frame"), errors.New("must be greater than start_frame"))
	}
	if c.StereoEnabled && c.InterpupillaryOffset <= 0 {
		return utils.NewConfigValidationError(field("interpupillary_offset"),
			errors.New("must be positive when stereo is enabled"))
	}
	if !oneOf(c.YUVLayout, "nv12", "nv21", "i420") {
		return utils.NewConfigValidationError(field("yuv_layout"), errors.Errorf("unknown layout %q", c.YUVLayout))
	}
	if !oneOf(c.ColorSpace, "bt601", "bt709") {
		return utils.NewConfigValidationError(field("color_space"), errors.Errorf("unknown color space %q", c.ColorSpace))
	}
	if c.Validation.MinValidFraction < 0 || c.Validation.MinValidFraction > 1 {
		return utils.NewConfigValidationError(field("validation.min_valid_fraction"), errors.New("must be in [0, 1]"))
	}
	if c.Validation.MinDistinctValues < 1 {
		return utils.NewConfigValidationError(field("validation.min_distinct_values"), errors.New("must be at least 1"))
	}
	if c.MonocularFallback && (c.Monocular.MinDepth <= 0 || c.Monocular.MaxDepth <= c.Monocular.MinDepth) {
		return utils.NewConfigValidationError(field("monocular"), errors.New("need 0 < min_depth < max_depth"))
	}
	if c.SmoothingIterations < 0 {
		return utils.NewConfigValidationError(field("smoothing_iterations"), errors.New("must not be negative"))
	}
	if c.SmoothingLambda < 0 || c.SmoothingLambda > 1 {
		return utils.NewConfigValidationError(field("smoothing_lambda"), errors.New("must be in [0, 1]"))
	}
	if c.DecimationRatio <= 0 || c.DecimationRatio > 1 {
		return utils.NewConfigValidationError(field("decimation_ratio"), errors.New("must be in (0, 1]"))
	}
	if c.Workers < 1 {
		return utils.NewConfigValidationError(field("workers"), errors.New("must be at least 1"))
	}
	return c.Export.Validate(field("export"))
}

// Validate ensures the export section is valid.
func (e *ExportConfig) Validate(path string) error {
	if !oneOf(e.MeshFormat, "ply", "obj") {
		return utils.NewConfigValidationError(path+".mesh_format", errors.Errorf("unknown mesh format %q", e.MeshFormat))
	}
	if !oneOf(e.PreviewFormat, "png", "jpg", "jpeg", "qoi", "ppm") {
		return utils.NewConfigValidationError(path+".preview_format",
			errors.Errorf("unknown preview format %q", e.PreviewFormat))
	}
	if e.PreviewWidth <= 0 || e.PreviewHeight <= 0 {
		return utils.NewConfigValidationError(path+".preview_width", errors.New("preview size must be positive"))
	}
	if !oneOf(e.TrajectoryFormat, "ply", "pcd", "las") {
		return utils.NewConfigValidationError(path+".trajectory_format",
			errors.Errorf("unknown trajectory format %q", e.TrajectoryFormat))
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	return lo.Contains(options, v)
}
