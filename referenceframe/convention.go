// Package referenceframe translates headset poses between coordinate conventions and resolves the
// per-camera poses the volumetric integrator consumes.
//
// Every conversion goes through ChangeOfBasis, which returns the explicit 4x4 matrix S that maps
// vectors from one convention's axes to another's. A pose T becomes S*T*S^T.
package referenceframe

import (
	"github.com/pkg/errors"

	"github.com/mejkerslab/questgear3d/spatialmath"
)

// Convention is a named set of coordinate axes. Basis maps device axes to this convention's axes.
type Convention struct {
	Name  string
	Basis spatialmath.Matrix4
}

func (c Convention) String() string {
	return c.Name
}

var (
	// ConventionDevice is the headset runtime frame: left-handed, X right, Y up, Z forward.
	ConventionDevice = Convention{Name: "device", Basis: spatialmath.IdentityMatrix4()}
	// ConventionIntegration is the camera frame used by volumetric integration: right-handed,
	// X right, Y down, Z forward.
	ConventionIntegration = Convention{Name: "integration", Basis: spatialmath.DiagonalMatrix4(1, -1, 1)}
	// ConventionOpenGL is right-handed, X right, Y up and cameras look down -Z. It is only used
	// for camera transform exports.
	ConventionOpenGL = Convention{Name: "opengl", Basis: spatialmath.DiagonalMatrix4(1, 1, -1)}
)

// ConventionByName looks up one of the known conventions.
func ConventionByName(name string) (Convention, error) {
	for _, c := range []Convention{ConventionDevice, ConventionIntegration, ConventionOpenGL} {
		if c.Name == name {
			return c, nil
		}
	}
	return Convention{}, errors.Errorf("unknown coordinate convention %q", name)
}

// ChangeOfBasis returns S = to.Basis * from.Basis^T, the matrix taking coordinates expressed in
// from's axes to coordinates expressed in to's axes.
func ChangeOfBasis(from, to Convention) spatialmath.Matrix4 {
	return to.Basis.Mul(from.Basis.Transpose())
}

// ConvertMatrix re-expresses the rigid transform m, given in from's axes, in to's axes.
func ConvertMatrix(m spatialmath.Matrix4, from, to Convention) spatialmath.Matrix4 {
	s := ChangeOfBasis(from, to)
	return s.Mul(m).Mul(s.Transpose())
}

// ConvertPose is ConvertMatrix for a validated pose.
func ConvertPose(p spatialmath.Pose, from, to Convention) (spatialmath.Pose, error) {
	return spatialmath.NewPoseFromMatrix(ConvertMatrix(spatialmath.PoseToMatrix(p), from, to))
}
