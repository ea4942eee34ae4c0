package capture

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/num/quat"

	"github.com/mejkerslab/questgear3d/logging"
	"github.com/mejkerslab/questgear3d/referenceframe"
	"github.com/mejkerslab/questgear3d/rimage"
	"github.com/mejkerslab/questgear3d/rimage/transform"
	"github.com/mejkerslab/questgear3d/spatialmath"
	"github.com/mejkerslab/questgear3d/utils"
)

// defaultEyeOffset is the head to camera offset along X used when characteristics omit it.
const defaultEyeOffset = 0.032

var poseColumns = []string{"unix_time", "pos_x", "pos_y", "pos_z", "rot_w", "rot_x", "rot_y", "rot_z"}

// poseRow is one head pose sample of the legacy pose table.
type poseRow struct {
	Timestamp float64
	Position  r3.Vector
	Rotation  quat.Number
}

// matrix returns the head pose. A rotation with no usable norm describes no orientation, so it
// becomes a non-finite matrix and the frame set is rejected as an invalid pose.
func (p poseRow) matrix() spatialmath.Matrix4 {
	if quat.Abs(p.Rotation) < minQuatNorm {
		nan := math.NaN()
		return spatialmath.NewMatrix4FromParts([9]float64{nan, nan, nan, nan, nan, nan, nan, nan, nan}, p.Position)
	}
	return spatialmath.NewMatrix4FromParts(spatialmath.RotationMatrixFromQuat(p.Rotation), p.Position)
}

const minQuatNorm = 1e-6

func readPoseTable(path string) ([]poseRow, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, newFormatError(MissingFile, path, err)
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return parsePoseTable(path, f)
}

func parsePoseTable(path string, r io.Reader) ([]poseRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, newFormatError(Malformed, path, errors.Wrap(err, "reading header"))
	}
	columns := map[string]int{}
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	if missing := lo.Filter(poseColumns, func(c string, _ int) bool { _, ok := columns[c]; return !ok }); len(missing) > 0 {
		return nil, newFormatError(Malformed, path, errors.Errorf("missing columns %v", missing))
	}

	var rows []poseRow
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, newFormatError(Malformed, path, errors.Wrapf(err, "line %d", line))
		}
		vals := make(map[string]float64, len(poseColumns))
		for _, c := range poseColumns {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[columns[c]]), 64)
			if err != nil {
				return nil, newFormatError(Malformed, path, errors.Wrapf(err, "line %d column %s", line, c))
			}
			vals[c] = v
		}
		rows = append(rows, poseRow{
			Timestamp: vals["unix_time"],
			Position:  r3.Vector{X: vals["pos_x"], Y: vals["pos_y"], Z: vals["pos_z"]},
			Rotation:  quat.Number{Real: vals["rot_w"], Imag: vals["rot_x"], Jmag: vals["rot_y"], Kmag: vals["rot_z"]},
		})
	}
	return rows, nil
}

// cameraCharacteristics is a legacy per-camera description. Rotations are [x, y, z, w].
type cameraCharacteristics struct {
	Width      int `json:"width"`
	Height     int `json:"height"`
	Intrinsics *struct {
		Fx float64 `json:"fx"`
		Fy float64 `json:"fy"`
		Cx float64 `json:"cx"`
		Cy float64 `json:"cy"`
	} `json:"intrinsics"`
	Translation  []float64    `json:"translation"`
	Rotation     []float64    `json:"rotation"`
	RotationQuat []float64    `json:"rotation_quat"`
	Depth        *depthCamera `json:"depth"`
}

func (c *cameraCharacteristics) headToCamera(defaultX float64) (spatialmath.Matrix4, error) {
	t := r3.Vector{X: defaultX}
	if c != nil && len(c.Translation) > 0 {
		if len(c.Translation) != 3 {
			return spatialmath.Matrix4{}, errors.Errorf("translation needs 3 values, got %d", len(c.Translation))
		}
		t = r3.Vector{X: c.Translation[0], Y: c.Translation[1], Z: c.Translation[2]}
	}
	rot := spatialmath.IdentityMatrix4().Rotation()
	if c != nil {
		q := c.RotationQuat
		if len(q) == 0 {
			q = c.Rotation
		}
		switch len(q) {
		case 0:
		case 4:
			rot = spatialmath.RotationMatrixFromQuat(quat.Number{Real: q[3], Imag: q[0], Jmag: q[1], Kmag: q[2]})
		default:
			return spatialmath.Matrix4{}, errors.Errorf("rotation needs 4 values [x y z w], got %d", len(q))
		}
	}
	return spatialmath.NewMatrix4FromParts(rot, t), nil
}

// intrinsics prefers the depth block, whose frustum matches the depth buffer, over the color
// camera intrinsics.
func (c *cameraCharacteristics) intrinsics() (*transform.PinholeCameraIntrinsics, error) {
	if c == nil {
		return nil, nil
	}
	if c.Depth != nil && c.Depth.FOVLeft+c.Depth.FOVRight > 0 {
		return c.Depth.intrinsics()
	}
	if c.Intrinsics != nil && c.Width > 0 && c.Height > 0 {
		intr := &transform.PinholeCameraIntrinsics{
			Width:  c.Width,
			Height: c.Height,
			Fx:     c.Intrinsics.Fx,
			Fy:     c.Intrinsics.Fy,
			Ppx:    c.Intrinsics.Cx,
			Ppy:    c.Intrinsics.Cy,
		}
		return intr, intr.CheckValid()
	}
	return nil, nil
}

func (c *cameraCharacteristics) depthSource(path string) rimage.DepthSource {
	src := rimage.DepthSource{Path: path, Encoding: rimage.DepthFloat32Raw}
	if c != nil && c.Depth != nil {
		src.Encoding = rimage.DepthFloat32NDC
		src.Width, src.Height = c.Depth.Width, c.Depth.Height
		src.Near, src.Far = c.Depth.planes()
	}
	return src
}

// legacyCamera is one side of the legacy stereo rig.
type legacyCamera struct {
	id             string
	colorDir       string
	depthDir       string
	characteristic string
	defaultX       float64
}

var legacyCameras = []legacyCamera{
	{referenceframe.CameraLeft, leftColorDir, leftDepthDir, leftCharacteristic, -defaultEyeOffset},
	{referenceframe.CameraRight, rightColorDir, rightDepthDir, rightCharacteristic, defaultEyeOffset},
}

// legacyStream is the resolved file list and calibration of one camera.
type legacyStream struct {
	camera       legacyCamera
	colors       []string
	depths       []string
	headToCamera spatialmath.Matrix4
	intrinsics   *transform.PinholeCameraIntrinsics
	chars        *cameraCharacteristics
}

func loadLegacy(root string, o loadOptions, logger logging.Logger) (*Index, error) {
	posePath := filepath.Join(root, PoseTableFile)
	poses, err := readPoseTable(posePath)
	if err != nil {
		return nil, err
	}

	var streams []legacyStream
	for _, cam := range legacyCameras {
		colorDir := filepath.Join(root, cam.colorDir)
		if !utils.DirExists(colorDir) {
			if cam.id == referenceframe.CameraLeft {
				return nil, newFormatError(MissingFile, colorDir, errors.New("left camera images are required"))
			}
			logger.Infow("no right camera stream, loading a single camera", "dir", colorDir)
			continue
		}
		stream, err := loadLegacyStream(root, cam, logger)
		if err != nil {
			return nil, err
		}
		streams = append(streams, stream)
	}

	count := len(poses)
	for _, s := range streams {
		if len(s.colors) != count {
			if !o.lenientPoseCount {
				return nil, newFormatError(PoseCountMismatch, posePath,
					errors.Errorf("%d poses but %d %s camera frames", len(poses), len(s.colors), s.camera.id))
			}
			count = min(count, len(s.colors))
		}
		count = min(count, len(s.depths))
	}
	if count < len(poses) {
		logger.Warnw("truncating capture to its shortest stream", "poses", len(poses), "frames", count)
	}

	idx := &Index{Version: IndexVersion, Source: root, Format: FormatLegacy, Root: root}
	for i := 0; i < count; i++ {
		head := poses[i].matrix()
		for _, s := range streams {
			extrinsic := s.headToCamera
			frame := Frame{
				Index:        i,
				Timestamp:    poses[i].Timestamp,
				CameraID:     s.camera.id,
				Color:        rimage.ColorSource{Path: s.colors[i], Encoding: rimage.ColorYUV420},
				Depth:        s.chars.depthSource(s.depths[i]),
				Pose:         head,
				HeadToCamera: &extrinsic,
			}
			if s.chars != nil {
				frame.Color.Width, frame.Color.Height = s.chars.Width, s.chars.Height
			}
			if s.intrinsics != nil {
				intr := *s.intrinsics
				frame.Intrinsics = &intr
			}
			idx.Frames = append(idx.Frames, frame)
		}
	}
	return idx, nil
}

func loadLegacyStream(root string, cam legacyCamera, logger logging.Logger) (legacyStream, error) {
	stream := legacyStream{camera: cam}
	var err error
	if stream.colors, err = sortedFiles(filepath.Join(root, cam.colorDir), ".yuv"); err != nil {
		return stream, err
	}
	depthDir := filepath.Join(root, cam.depthDir)
	if !utils.DirExists(depthDir) {
		return stream, newFormatError(MissingFile, depthDir, errors.Errorf("%s camera depth is required", cam.id))
	}
	if stream.depths, err = sortedFiles(depthDir, ".raw"); err != nil {
		return stream, err
	}
	if len(stream.depths) != len(stream.colors) {
		return stream, newFormatError(PoseCountMismatch, depthDir,
			errors.Errorf("%d depth frames for %d color frames", len(stream.depths), len(stream.colors)))
	}

	charPath := filepath.Join(root, cam.characteristic)
	if utils.FileExists(charPath) {
		stream.chars = &cameraCharacteristics{}
		if err := readJSONFile(charPath, stream.chars); err != nil {
			return stream, err
		}
	} else {
		logger.Warnw("camera characteristics missing, using default extrinsics", "camera", cam.id, "path", charPath)
	}
	if stream.headToCamera, err = stream.chars.headToCamera(cam.defaultX); err != nil {
		return stream, newFormatError(Malformed, charPath, err)
	}
	if stream.intrinsics, err = stream.chars.intrinsics(); err != nil {
		return stream, newFormatError(Malformed, charPath, err)
	}
	return stream, nil
}

// sortedFiles lists the files in dir with the extension, sorted by name.
func sortedFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, newFormatError(MissingFile, dir, err)
	}
	names := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		return e.Name(), !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ext)
	})
	sort.Strings(names)
	return lo.Map(names, func(name string, _ int) string { return filepath.Join(dir, name) }), nil
}
