// Package capturegen writes small synthetic headset captures to disk for tests. The scene is a
// wall in front of the headset, optionally tilted so depth varies across rows.
package capturegen

import (
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"

	"github.com/mejkerslab/questgear3d/rimage"
	"github.com/mejkerslab/questgear3d/rimage/transform"
	"github.com/mejkerslab/questgear3d/spatialmath"
)

// Scene describes the synthetic capture.
type Scene struct {
	Width, Height int
	// Fx and Fy are focal lengths in pixels; the principal point is the image center.
	Fx, Fy float64
	Frames int

	// WallDistance is the wall's distance along the view axis at head height.
	WallDistance float64
	// WallSlope tilts the wall: its distance grows by WallSlope per meter of height. Zero gives
	// every pixel the same depth.
	WallSlope float64

	// Origin is the head position of frame 0 and Step is added per frame, in device axes.
	Origin r3.Vector
	Step   r3.Vector

	// CorruptPoses lists frames whose pose is written with NaN entries.
	CorruptPoses []int
	// ZeroRotations lists frames whose legacy pose table row carries an all-zero quaternion.
	ZeroRotations []int
}

// DefaultScene is a 32x32 capture of a tilted wall one meter away.
func DefaultScene() Scene {
	return Scene{
		Width:        32,
		Height:       32,
		Fx:           32,
		Fy:           32,
		Frames:       10,
		WallDistance: 1.0,
		WallSlope:    0.3,
		Origin:       r3.Vector{Y: 1.6},
		Step:         r3.Vector{X: 0.01, Z: 0.005},
	}
}

// Intrinsics returns the camera model of the scene.
func (s Scene) Intrinsics() *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{
		Width:  s.Width,
		Height: s.Height,
		Fx:     s.Fx,
		Fy:     s.Fy,
		Ppx:    float64(s.Width) / 2,
		Ppy:    float64(s.Height) / 2,
	}
}

// HeadPose returns the device convention head pose of frame i.
func (s Scene) HeadPose(i int) spatialmath.Matrix4 {
	t := s.Origin.Add(s.Step.Mul(float64(i)))
	m := spatialmath.NewMatrix4FromParts(spatialmath.IdentityMatrix4().Rotation(), t)
	if slices.Contains(s.CorruptPoses, i) {
		m[3] = math.NaN()
	}
	return m
}

// Depth returns the row-major metric depth seen from frame i. Sideways head motion does not
// change it, so both eyes of a stereo pair share it.
func (s Scene) Depth(i int) []float32 {
	t := s.Origin.Add(s.Step.Mul(float64(i)))
	base := s.WallDistance + s.WallSlope*(t.Y-s.Origin.Y) - t.Z
	cy := float64(s.Height) / 2
	out := make([]float32, s.Width*s.Height)
	for v := 0; v < s.Height; v++ {
		// image rows grow downward while device Y grows upward
		yOverZ := (float64(v) - cy) / s.Fy
		z := base / (1 + s.WallSlope*yOverZ)
		for u := 0; u < s.Width; u++ {
			out[v*s.Width+u] = float32(z)
		}
	}
	return out
}

// Color returns a horizontal gradient image for frame i.
func (s Scene) Color(i int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, s.Width, s.Height))
	for v := 0; v < s.Height; v++ {
		for u := 0; u < s.Width; u++ {
			img.SetNRGBA(u, v, color.NRGBA{
				R: uint8(255 * u / max(1, s.Width-1)),
				G: uint8(255 * v / max(1, s.Height-1)),
				B: uint8((40 * i) % 256),
				A: 255,
			})
		}
	}
	return img
}

// WriteModern writes a manifest capture with PNG color, millimeter PNG depth and a camera
// parameter file.
func WriteModern(dir string, s Scene) error {
	for _, sub := range []string{"color", "depth"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return err
		}
	}
	type manifestFrame struct {
		FrameID   int                 `json:"frame_id"`
		Timestamp float64             `json:"timestamp"`
		Pose      spatialmath.Matrix4 `json:"pose"`
		ColorFile string              `json:"color_file"`
		DepthFile string              `json:"depth_file"`
	}
	var frames []manifestFrame
	for i := 0; i < s.Frames; i++ {
		colorFile := fmt.Sprintf("color/frame_%06d.png", i)
		depthFile := fmt.Sprintf("depth/frame_%06d.png", i)
		if err := writePNG(filepath.Join(dir, colorFile), s.Color(i)); err != nil {
			return err
		}
		dm, err := rimage.NewDepthMapFromData(s.Width, s.Height, s.Depth(i))
		if err != nil {
			return err
		}
		if err := writePNG(filepath.Join(dir, depthFile), dm.ToGray16Picture(rimage.DefaultUnitScale)); err != nil {
			return err
		}
		frames = append(frames, manifestFrame{
			FrameID:   i,
			Timestamp: float64(i) / 30,
			Pose:      s.HeadPose(i),
			ColorFile: colorFile,
			DepthFile: depthFile,
		})
	}
	if err := writeJSON(filepath.Join(dir, "scan_data.json"), map[string]interface{}{"frames": frames}); err != nil {
		return err
	}
	intr := s.Intrinsics()
	return writeJSON(filepath.Join(dir, "transforms.json"), map[string]interface{}{
		"w": intr.Width, "h": intr.Height,
		"fl_x": intr.Fx, "fl_y": intr.Fy,
		"cx": intr.Ppx, "cy": intr.Ppy,
	})
}

// LegacyOptions controls WriteLegacy.
type LegacyOptions struct {
	// Stereo writes a right camera stream next to the left one.
	Stereo bool
	// NDC writes depth as normalized device depth with near and far planes in the
	// characteristics; otherwise depth is metric float32.
	NDC       bool
	Near, Far float64
}

// WriteLegacy writes a pose table capture with NV12 color and raw float32 depth per camera.
func WriteLegacy(dir string, s Scene, opts LegacyOptions) error {
	if opts.Near == 0 {
		opts.Near = 0.1
	}
	if opts.Far == 0 {
		opts.Far = 3.0
	}
	sides := []struct {
		name   string
		offset float64
	}{{"left", -0.032}}
	if opts.Stereo {
		sides = append(sides, struct {
			name   string
			offset float64
		}{"right", 0.032})
	}

	for _, side := range sides {
		colorDir := filepath.Join(dir, side.name+"_camera_raw")
		depthDir := filepath.Join(dir, side.name+"_depth")
		for _, d := range []string{colorDir, depthDir} {
			if err := os.MkdirAll(d, 0o750); err != nil {
				return err
			}
		}
		for i := 0; i < s.Frames; i++ {
			name := fmt.Sprintf("%06d", i)
			if err := os.WriteFile(filepath.Join(colorDir, name+".yuv"), grayNV12(s.Width, s.Height, 96+i), 0o600); err != nil {
				return err
			}
			depth := s.Depth(i)
			if opts.NDC {
				depth = toNDC(depth, opts.Near, opts.Far)
			}
			if err := os.WriteFile(filepath.Join(depthDir, name+".raw"), float32Bytes(depth), 0o600); err != nil {
				return err
			}
		}
		chars := map[string]interface{}{
			"width":       s.Width,
			"height":      s.Height,
			"intrinsics":  map[string]float64{"fx": s.Fx, "fy": s.Fy, "cx": float64(s.Width) / 2, "cy": float64(s.Height) / 2},
			"translation": []float64{side.offset, 0, 0},
			"rotation":    []float64{0, 0, 0, 1},
		}
		if opts.NDC {
			chars["depth"] = map[string]interface{}{
				"width":     s.Width,
				"height":    s.Height,
				"fov_left":  float64(s.Width) / 2 / s.Fx,
				"fov_right": float64(s.Width) / 2 / s.Fx,
				"fov_top":   float64(s.Height) / 2 / s.Fy,
				"fov_down":  float64(s.Height) / 2 / s.Fy,
				"near_z":    opts.Near,
				"far_z":     opts.Far,
			}
		}
		if err := writeJSON(filepath.Join(dir, side.name+"_camera_characteristics.json"), chars); err != nil {
			return err
		}
	}
	return writePoseTable(filepath.Join(dir, "hmd_poses.csv"), s)
}

func writePoseTable(path string, s Scene) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"unix_time", "pos_x", "pos_y", "pos_z", "rot_w", "rot_x", "rot_y", "rot_z"}); err != nil {
		return err
	}
	for i := 0; i < s.Frames; i++ {
		m := s.HeadPose(i)
		q := spatialmath.QuatFromRotationMatrix(m.Rotation())
		t := m.Translation()
		if !m.IsFinite() {
			t.X = math.NaN()
		}
		if slices.Contains(s.ZeroRotations, i) {
			q = quat.Number{}
		}
		row := []float64{float64(1700000000000 + 33*i), t.X, t.Y, t.Z, q.Real, q.Imag, q.Jmag, q.Kmag}
		record := make([]string, len(row))
		for j, v := range row {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// toNDC inverts the perspective depth linearization for the given planes.
func toNDC(depth []float32, near, far float64) []float32 {
	x := -2 * far * near / (far - near)
	y := -(far + near) / (far - near)
	out := make([]float32, len(depth))
	for i, z := range depth {
		ndc := x/float64(z) - y
		out[i] = float32((ndc + 1) / 2)
	}
	return out
}

func grayNV12(width, height, luma int) []byte {
	data := make([]byte, width*height*3/2)
	for i := range data {
		data[i] = 128
		if i < width*height {
			data[i] = byte(luma)
		}
	}
	return data
}

func float32Bytes(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func writePNG(path string, img image.Image) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return errors.Wrapf(png.Encode(f, img), "encoding %q", path)
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
