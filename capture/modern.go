package capture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/mejkerslab/questgear3d/logging"
	"github.com/mejkerslab/questgear3d/referenceframe"
	"github.com/mejkerslab/questgear3d/rimage"
	"github.com/mejkerslab/questgear3d/rimage/transform"
	"github.com/mejkerslab/questgear3d/spatialmath"
	"github.com/mejkerslab/questgear3d/utils"
)

// Depth camera planes used when a depth block omits them.
const (
	defaultNearZ = 0.1
	defaultFarZ  = 3.0
)

type scanData struct {
	Frames []scanFrame `json:"frames"`
}

type scanFrame struct {
	FrameID    *int                               `json:"frame_id"`
	Timestamp  float64                            `json:"timestamp"`
	CameraID   string                             `json:"camera_id"`
	Pose       *spatialmath.Matrix4               `json:"pose"`
	ColorFile  string                             `json:"color_file"`
	DepthFile  string                             `json:"depth_file"`
	Intrinsics *transform.PinholeCameraIntrinsics `json:"intrinsics"`
	Camera     *depthCamera                       `json:"camera"`
}

// depthCamera describes a headset depth stream: its buffer size, frustum tangents and planes.
type depthCamera struct {
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	FOVLeft  float64  `json:"fov_left"`
	FOVRight float64  `json:"fov_right"`
	FOVTop   float64  `json:"fov_top"`
	FOVDown  float64  `json:"fov_down"`
	NearZ    *float64 `json:"near_z"`
	FarZ     *float64 `json:"far_z"`
}

func (c *depthCamera) planes() (float64, float64) {
	near, far := defaultNearZ, defaultFarZ
	if c.NearZ != nil {
		near = *c.NearZ
	}
	if c.FarZ != nil {
		far = *c.FarZ
	}
	return near, far
}

func (c *depthCamera) intrinsics() (*transform.PinholeCameraIntrinsics, error) {
	return transform.NewIntrinsicsFromFOVTangents(c.Width, c.Height, c.FOVLeft, c.FOVRight, c.FOVTop, c.FOVDown)
}

// cameraParameters is the transforms.json camera block.
type cameraParameters struct {
	W            int     `json:"w"`
	H            int     `json:"h"`
	FlX          float64 `json:"fl_x"`
	FlY          float64 `json:"fl_y"`
	Cx           float64 `json:"cx"`
	Cy           float64 `json:"cy"`
	CameraAngleX float64 `json:"camera_angle_x"`
	CameraAngleY float64 `json:"camera_angle_y"`
}

// intrinsics derives pinhole intrinsics. Focal lengths win over angles; a missing principal
// point is centered. It returns nil when the file carries no usable camera model.
func (p cameraParameters) intrinsics() (*transform.PinholeCameraIntrinsics, error) {
	if p.W <= 0 || p.H <= 0 {
		return nil, nil
	}
	if p.FlX > 0 {
		fy := p.FlY
		if fy <= 0 {
			fy = p.FlX
		}
		cx, cy := p.Cx, p.Cy
		if cx <= 0 {
			cx = float64(p.W) / 2
		}
		if cy <= 0 {
			cy = float64(p.H) / 2
		}
		intr := &transform.PinholeCameraIntrinsics{Width: p.W, Height: p.H, Fx: p.FlX, Fy: fy, Ppx: cx, Ppy: cy}
		return intr, intr.CheckValid()
	}
	if p.CameraAngleX > 0 {
		return transform.NewIntrinsicsFromFOVAngles(p.W, p.H, p.CameraAngleX, p.CameraAngleY)
	}
	return nil, nil
}

func readJSONFile(path string, v interface{}) error {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return newFormatError(MissingFile, path, err)
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return newFormatError(Malformed, path, err)
	}
	return nil
}

func loadModern(root string, o loadOptions, logger logging.Logger) (*Index, error) {
	idx := &Index{Version: IndexVersion, Source: root, Format: FormatModern, Root: root}

	transformsPath := filepath.Join(root, TransformsFile)
	if utils.FileExists(transformsPath) {
		var params cameraParameters
		if err := readJSONFile(transformsPath, &params); err != nil {
			return nil, err
		}
		intr, err := params.intrinsics()
		if err != nil {
			return nil, newFormatError(Malformed, transformsPath, err)
		}
		idx.Intrinsics = intr
	}

	manifestPath := filepath.Join(root, ScanDataFile)
	if !utils.FileExists(manifestPath) {
		return nil, newFormatError(MissingFile, manifestPath, errors.New("modern capture needs a frame manifest"))
	}
	var manifest scanData
	if err := readJSONFile(manifestPath, &manifest); err != nil {
		return nil, err
	}

	monoDir := filepath.Join(root, MonocularDepthDir)
	useMono := utils.DirExists(monoDir)
	if useMono {
		logger.Infow("using pre-generated monocular depth", "dir", monoDir)
	}

	for i, sf := range manifest.Frames {
		index := i
		if sf.FrameID != nil {
			index = *sf.FrameID
		}
		if sf.Pose == nil {
			return nil, newFormatError(PoseCountMismatch, manifestPath, errors.Errorf("frame %d has no pose", index))
		}
		if sf.ColorFile == "" || sf.DepthFile == "" {
			return nil, newFormatError(Malformed, manifestPath, errors.Errorf("frame %d needs color_file and depth_file", index))
		}

		frame := Frame{
			Index:     index,
			Timestamp: sf.Timestamp,
			CameraID:  sf.CameraID,
			Pose:      *sf.Pose,
		}
		if frame.CameraID == "" {
			frame.CameraID = referenceframe.CameraCenter
		}

		colorEnc, err := colorEncodingForPath(sf.ColorFile)
		if err != nil {
			return nil, newFormatError(Malformed, manifestPath, errors.Wrapf(err, "frame %d", index))
		}
		frame.Color = rimage.ColorSource{Path: resolveAgainst(root, sf.ColorFile), Encoding: colorEnc}

		frame.Depth, err = modernDepthSource(root, sf, o)
		if err != nil {
			return nil, newFormatError(Malformed, manifestPath, errors.Wrapf(err, "frame %d", index))
		}
		if useMono {
			if mono := monocularDepthPath(monoDir, sf.DepthFile); utils.FileExists(mono) {
				frame.Depth = rimage.DepthSource{Path: mono, Encoding: rimage.DepthPNG16, UnitScale: MonocularUnitScale}
			} else {
				logger.Debugw("no monocular depth for frame, keeping device depth", "frame", index, "expected", mono)
			}
		}

		switch {
		case sf.Intrinsics != nil:
			if err := sf.Intrinsics.CheckValid(); err != nil {
				return nil, newFormatError(Malformed, manifestPath, errors.Wrapf(err, "frame %d", index))
			}
			frame.Intrinsics = sf.Intrinsics
		case sf.Camera != nil && sf.Camera.FOVLeft+sf.Camera.FOVRight > 0:
			intr, err := sf.Camera.intrinsics()
			if err != nil {
				return nil, newFormatError(Malformed, manifestPath, errors.Wrapf(err, "frame %d", index))
			}
			frame.Intrinsics = intr
		}
		if frame.Color.Encoding == rimage.ColorYUV420 {
			if intr := frame.Intrinsics; intr != nil {
				frame.Color.Width, frame.Color.Height = intr.Width, intr.Height
			} else if idx.Intrinsics != nil {
				frame.Color.Width, frame.Color.Height = idx.Intrinsics.Width, idx.Intrinsics.Height
			}
		}
		idx.Frames = append(idx.Frames, frame)
	}

	slices.SortStableFunc(idx.Frames, func(a, b Frame) int { return a.Index - b.Index })
	return idx, nil
}

func modernDepthSource(root string, sf scanFrame, o loadOptions) (rimage.DepthSource, error) {
	src := rimage.DepthSource{Path: resolveAgainst(root, sf.DepthFile)}
	switch ext := strings.ToLower(filepath.Ext(sf.DepthFile)); ext {
	case ".png":
		src.Encoding = rimage.DepthPNG16
		src.UnitScale = o.depthUnitScale
	case ".raw", ".bin":
		src.Encoding = rimage.DepthFloat32Raw
		if sf.Camera != nil {
			src.Width, src.Height = sf.Camera.Width, sf.Camera.Height
			src.Near, src.Far = sf.Camera.planes()
			src.Encoding = rimage.DepthFloat32NDC
		}
	case ".u16":
		src.Encoding = rimage.DepthUint16Raw
		src.UnitScale = o.depthUnitScale
		if sf.Camera != nil {
			src.Width, src.Height = sf.Camera.Width, sf.Camera.Height
		}
	default:
		return src, errors.Errorf("unknown depth file extension %q", ext)
	}
	return src, nil
}

func colorEncodingForPath(path string) (rimage.ColorEncoding, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jpg", ".jpeg":
		return rimage.ColorJPEG, nil
	case ".png":
		return rimage.ColorPNG, nil
	case ".yuv":
		return rimage.ColorYUV420, nil
	default:
		return "", errors.Errorf("unknown color file extension %q", ext)
	}
}

// MonocularUnitScale is meters per unit of the 16-bit monocular depth files.
const MonocularUnitScale = 0.001

// MonocularDepthPath returns where the monocular depth for a depth file reference is stored.
func MonocularDepthPath(root, depthFile string) string {
	return monocularDepthPath(filepath.Join(root, MonocularDepthDir), depthFile)
}

func monocularDepthPath(dir, depthFile string) string {
	base := filepath.Base(filepath.FromSlash(depthFile))
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".png")
}
