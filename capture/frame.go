package capture

import (
	"github.com/samber/lo"

	"github.com/mejkerslab/questgear3d/referenceframe"
	"github.com/mejkerslab/questgear3d/rimage"
	"github.com/mejkerslab/questgear3d/rimage/transform"
	"github.com/mejkerslab/questgear3d/spatialmath"
)

// Frame is one camera view of one capture instant. Pose is the head (or camera) to world
// transform in the device convention, row-major.
type Frame struct {
	Index        int                                `json:"index"`
	Timestamp    float64                            `json:"timestamp"`
	CameraID     string                             `json:"camera_id,omitempty"`
	Color        rimage.ColorSource                 `json:"color"`
	Depth        rimage.DepthSource                 `json:"depth"`
	Pose         spatialmath.Matrix4                `json:"pose"`
	HeadToCamera *spatialmath.Matrix4               `json:"head_to_camera,omitempty"`
	Intrinsics   *transform.PinholeCameraIntrinsics `json:"intrinsics,omitempty"`
}

// clone returns a deep copy so callers cannot alias the index through pointer fields.
func (f Frame) clone() Frame {
	if f.HeadToCamera != nil {
		m := *f.HeadToCamera
		f.HeadToCamera = &m
	}
	if f.Intrinsics != nil {
		intr := *f.Intrinsics
		f.Intrinsics = &intr
	}
	return f
}

// FrameSet is every camera view sharing one frame index, timestamp and head pose.
type FrameSet struct {
	Index     int
	Timestamp float64
	Frames    []Frame
}

// PoseInput returns the views of the set as the pose resolver consumes them.
func (s FrameSet) PoseInput() referenceframe.FrameSet {
	return referenceframe.FrameSet{
		Index:     s.Index,
		Timestamp: s.Timestamp,
		Views: lo.Map(s.Frames, func(f Frame, _ int) referenceframe.CameraView {
			f = f.clone()
			return referenceframe.CameraView{
				CameraID:     f.CameraID,
				DevicePose:   f.Pose,
				HeadToCamera: f.HeadToCamera,
			}
		}),
	}
}

// CameraIDs lists the camera ids of the set in view order.
func (s FrameSet) CameraIDs() []string {
	return lo.Map(s.Frames, func(f Frame, _ int) string { return f.CameraID })
}
