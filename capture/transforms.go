package capture

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/mejkerslab/questgear3d/referenceframe"
	"github.com/mejkerslab/questgear3d/rimage/transform"
	"github.com/mejkerslab/questgear3d/utils"
)

// cameraTransforms is the camera transform file read by radiance field trainers.
type cameraTransforms struct {
	FlX    float64          `json:"fl_x"`
	FlY    float64          `json:"fl_y"`
	Cx     float64          `json:"cx"`
	Cy     float64          `json:"cy"`
	W      int              `json:"w"`
	H      int              `json:"h"`
	Frames []transformFrame `json:"frames"`
}

type transformFrame struct {
	FilePath        string        `json:"file_path"`
	DepthFilePath   string        `json:"depth_file_path,omitempty"`
	Timestamp       float64       `json:"timestamp"`
	CameraID        string        `json:"camera_id,omitempty"`
	TransformMatrix [4][4]float64 `json:"transform_matrix"`
	*FrameIntrinsics
}

// FrameIntrinsics is the camera model a transforms.json frame carries when it differs from the
// shared one.
type FrameIntrinsics struct {
	FlX float64 `json:"fl_x"`
	FlY float64 `json:"fl_y"`
	Cx  float64 `json:"cx"`
	Cy  float64 `json:"cy"`
	W   int     `json:"w"`
	H   int     `json:"h"`
}

// frameOverride returns the frame's own camera model when it differs from the shared one.
func frameOverride(f Frame, shared *transform.PinholeCameraIntrinsics) (*FrameIntrinsics, error) {
	if f.Intrinsics == nil || *f.Intrinsics == *shared {
		return nil, nil
	}
	if err := f.Intrinsics.CheckValid(); err != nil {
		return nil, errors.Wrapf(err, "frame %d", f.Index)
	}
	intr := f.Intrinsics
	return &FrameIntrinsics{FlX: intr.Fx, FlY: intr.Fy, Cx: intr.Ppx, Cy: intr.Ppy, W: intr.Width, H: intr.Height}, nil
}

// WriteTransforms writes the camera transforms of idx to path in the OpenGL convention, with file
// paths relative to the directory of path. Frames whose pose is not a finite rigid transform are
// left out. Frames whose intrinsics differ from the shared ones carry their own fl_x, fl_y, cx, cy,
// w and h. It returns the number of frames written.
func WriteTransforms(idx *Index, path string) (int, error) {
	intr, err := exportIntrinsics(idx)
	if err != nil {
		return 0, err
	}
	out := cameraTransforms{FlX: intr.Fx, FlY: intr.Fy, Cx: intr.Ppx, Cy: intr.Ppy, W: intr.Width, H: intr.Height}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return 0, errors.Wrap(err, "resolving output directory")
	}
	for _, f := range idx.Frames {
		camera := f.Pose
		if f.HeadToCamera != nil {
			camera = camera.Mul(*f.HeadToCamera)
		}
		if !camera.IsFinite() || !camera.IsRigid(1e-3) {
			continue
		}
		override, err := frameOverride(f, intr)
		if err != nil {
			return 0, err
		}
		gl := referenceframe.ConvertMatrix(camera, referenceframe.ConventionDevice, referenceframe.ConventionOpenGL)
		var rows [4][4]float64
		for i := 0; i < 4; i++ {
			for j := 0; j < 4; j++ {
				rows[i][j] = gl.At(i, j)
			}
		}
		out.Frames = append(out.Frames, transformFrame{
			FilePath:        relativeTo(dir, f.Color.Path),
			DepthFilePath:   relativeTo(dir, f.Depth.Path),
			Timestamp:       f.Timestamp,
			CameraID:        f.CameraID,
			TransformMatrix: rows,
			FrameIntrinsics: override,
		})
	}

	err = utils.WriteFileAtomic(path, func(file *os.File) error {
		enc := json.NewEncoder(file)
		enc.SetIndent("", "  ")
		return enc.Encode(&out)
	})
	return len(out.Frames), err
}

func exportIntrinsics(idx *Index) (*transform.PinholeCameraIntrinsics, error) {
	if idx.Intrinsics != nil {
		return idx.Intrinsics, idx.Intrinsics.CheckValid()
	}
	for _, f := range idx.Frames {
		if f.Intrinsics != nil {
			return f.Intrinsics, f.Intrinsics.CheckValid()
		}
	}
	return nil, transform.NewNoIntrinsicsError("cannot export camera transforms")
}
