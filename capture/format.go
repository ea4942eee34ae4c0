// Package capture reads headset captures in either of their on-disk layouts and normalizes them
// into an Index of frames. The layout is detected once; after that every consumer works on the
// Index alone.
package capture

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/mejkerslab/questgear3d/utils"
)

// File and directory names making up the capture layouts.
const (
	ScanDataFile      = "scan_data.json"
	TransformsFile    = "transforms.json"
	MonocularDepthDir = "depth_monocular"
	PoseTableFile     = "hmd_poses.csv"
	IndexFile         = "frames.json"

	leftColorDir        = "left_camera_raw"
	rightColorDir       = "right_camera_raw"
	leftDepthDir        = "left_depth"
	rightDepthDir       = "right_depth"
	leftCharacteristic  = "left_camera_characteristics.json"
	rightCharacteristic = "right_camera_characteristics.json"
)

// Format is the on-disk layout of a capture.
type Format int

// The known layouts.
const (
	FormatUnknown Format = iota
	// FormatLegacy is the older layout: a head pose table, raw YUV color and raw float depth per
	// camera, and per-camera characteristics files.
	FormatLegacy
	// FormatModern is the per-frame manifest layout with 4x4 poses and encoded images.
	FormatModern
)

func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "legacy"
	case FormatModern:
		return "modern"
	case FormatUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(text []byte) error {
	switch string(text) {
	case "legacy":
		*f = FormatLegacy
	case "modern":
		*f = FormatModern
	case "unknown", "":
		*f = FormatUnknown
	default:
		return errors.Errorf("unknown capture format %q", string(text))
	}
	return nil
}

// Detect inspects root and reports which layout it holds. A manifest or camera parameter file
// means modern; a pose table next to the left camera directory means legacy.
func Detect(root string) (Format, error) {
	if !utils.DirExists(root) {
		return FormatUnknown, newFormatError(MissingFile, root, errors.New("capture directory does not exist"))
	}
	if utils.FileExists(filepath.Join(root, ScanDataFile)) || utils.FileExists(filepath.Join(root, TransformsFile)) {
		return FormatModern, nil
	}
	if utils.FileExists(filepath.Join(root, PoseTableFile)) && utils.DirExists(filepath.Join(root, leftColorDir)) {
		return FormatLegacy, nil
	}
	return FormatUnknown, newFormatError(UnrecognizedLayout, root,
		errors.Errorf("expected %s, %s, or %s with %s/", ScanDataFile, TransformsFile, PoseTableFile, leftColorDir))
}
