package referenceframe

import (
	"github.com/golang/geo/r3"

	"github.com/mejkerslab/questgear3d/spatialmath"
)

const identityEpsilon = 1e-9

// Camera identifiers.
const (
	CameraLeft   = "left"
	CameraRight  = "right"
	CameraCenter = "center"
)

// CameraView is one camera of a frame set as the pose resolver sees it.
type CameraView struct {
	CameraID string
	// DevicePose is the head (or camera) to world transform in ConventionDevice.
	DevicePose spatialmath.Matrix4
	// HeadToCamera is an optional camera offset relative to the head, in ConventionDevice.
	HeadToCamera *spatialmath.Matrix4
}

// FrameSet groups the camera views that share one frame index, timestamp and head pose.
type FrameSet struct {
	Index     int
	Timestamp float64
	Views     []CameraView
}

// PoseRecord is the resolved camera to world pose of one view in ConventionIntegration.
type PoseRecord struct {
	FrameIndex int
	CameraID   string
	Timestamp  float64
	Pose       spatialmath.Pose
}

// ResolverConfig controls pose resolution.
type ResolverConfig struct {
	// StereoEnabled places a two-view frame set's cameras at -/+ InterpupillaryOffset/2 along the
	// head's right axis, keeping any extrinsic rotation.
	StereoEnabled        bool
	InterpupillaryOffset float64
	// RejectIdentityPoses treats an exact identity head pose as lost tracking.
	RejectIdentityPoses bool
}

// Resolver turns device poses into integration poses. It holds no per-run state.
type Resolver struct {
	cfg ResolverConfig
}

// NewResolver returns a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve returns one PoseRecord per view, in view order. A frame set whose pose is non-finite,
// not rigid, or a rejected identity fails as a whole with a *PoseError.
func (r *Resolver) Resolve(set FrameSet) ([]PoseRecord, error) {
	for _, view := range set.Views {
		if err := r.checkPose(set, view.DevicePose); err != nil {
			return nil, err
		}
		if view.HeadToCamera != nil {
			if !view.HeadToCamera.IsFinite() || !view.HeadToCamera.IsRigid(1e-3) {
				return nil, newInvalidPoseError(set, "camera extrinsic is not a rigid transform")
			}
		}
	}

	stereo := r.cfg.StereoEnabled && len(set.Views) == 2
	records := make([]PoseRecord, 0, len(set.Views))
	for i, view := range set.Views {
		camera := view.DevicePose
		switch {
		case stereo:
			camera = camera.Mul(r.eyeOffset(i, view))
		case view.HeadToCamera != nil:
			camera = camera.Mul(*view.HeadToCamera)
		}
		pose, err := spatialmath.NewPoseFromMatrix(ConvertMatrix(camera, ConventionDevice, ConventionIntegration))
		if err != nil {
			return nil, newInvalidPoseError(set, err.Error())
		}
		records = append(records, PoseRecord{
			FrameIndex: set.Index,
			CameraID:   view.CameraID,
			Timestamp:  set.Timestamp,
			Pose:       pose,
		})
	}
	return records, nil
}

func (r *Resolver) checkPose(set FrameSet, m spatialmath.Matrix4) error {
	if !m.IsFinite() {
		return newInvalidPoseError(set, "pose has non-finite entries")
	}
	if !m.IsRigid(1e-3) {
		return newInvalidPoseError(set, "pose is not a rigid transform")
	}
	if r.cfg.RejectIdentityPoses && m.IsIdentity(identityEpsilon) {
		return newInvalidPoseError(set, "identity pose, tracking was not available")
	}
	return nil
}

// eyeOffset returns the head to eye transform for view i of a stereo pair. Views named "left" and
// "right" are placed by name, otherwise the first view is the left eye.
func (r *Resolver) eyeOffset(i int, view CameraView) spatialmath.Matrix4 {
	half := r.cfg.InterpupillaryOffset / 2
	x := -half
	switch view.CameraID {
	case CameraRight:
		x = half
	case CameraLeft:
	default:
		if i == 1 {
			x = half
		}
	}
	rot := spatialmath.IdentityMatrix4().Rotation()
	if view.HeadToCamera != nil {
		rot = view.HeadToCamera.Rotation()
	}
	return spatialmath.NewMatrix4FromParts(rot, r3.Vector{X: x})
}
