package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a rotation followed by a translation. Camera poses are expressed as
// camera-to-world transforms.
type Pose interface {
	// Point returns the translation in meters.
	Point() r3.Vector
	// Orientation returns the rotation as a unit quaternion.
	Orientation() quat.Number
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return newDualQuaternion()
}

// NewPose returns a pose that rotates by orientation then translates by point.
func NewPose(point r3.Vector, orientation quat.Number) Pose {
	return newDualQuaternionFromParts(point, orientation)
}

// NewPoseFromPoint returns a pure translation.
func NewPoseFromPoint(point r3.Vector) Pose {
	return newDualQuaternionFromParts(point, quat.Number{Real: 1})
}

// NewPoseFromMatrix converts a homogeneous transform into a Pose. The matrix must be finite, have
// a [0 0 0 1] last row and a proper rotation block.
func NewPoseFromMatrix(m Matrix4) (Pose, error) {
	if !m.IsFinite() {
		return nil, errors.New("pose matrix has non-finite entries")
	}
	if !m.IsRigid(rigidTolerance) {
		return nil, errors.New("pose matrix is not a rigid transform")
	}
	return newDualQuaternionFromParts(m.Translation(), QuatFromRotationMatrix(m.Rotation())), nil
}

// PoseToMatrix returns the homogeneous transform of p.
func PoseToMatrix(p Pose) Matrix4 {
	return NewMatrix4FromParts(RotationMatrixFromQuat(p.Orientation()), p.Point())
}

// Compose returns the transform that applies b first and then a.
func Compose(a, b Pose) Pose {
	return &dualQuaternion{dualQuaternionFromPose(a).transformation(dualQuaternionFromPose(b).Number)}
}

// PoseInverse returns the inverse of p.
func PoseInverse(p Pose) Pose {
	return dualQuaternionFromPose(p).invert()
}

// PoseBetween returns the transform that takes a to b, so Compose(a, PoseBetween(a, b)) == b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// TransformPoint applies p to pt.
func TransformPoint(p Pose, pt r3.Vector) r3.Vector {
	return RotateVector(p.Orientation(), pt).Add(p.Point())
}

// PoseAlmostEqual reports whether two poses are within a small tolerance of each other.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, 1e-6)
}

// PoseAlmostEqualEps is PoseAlmostEqual with an explicit tolerance.
func PoseAlmostEqualEps(a, b Pose, epsilon float64) bool {
	return R3VectorAlmostEqual(a.Point(), b.Point(), epsilon) &&
		QuatAlmostEqual(a.Orientation(), b.Orientation(), epsilon)
}

// R3VectorAlmostEqual compares two r3.Vector objects and returns if the all elementwise differences are less than epsilon.
func R3VectorAlmostEqual(a, b r3.Vector, epsilon float64) bool {
	return a.Sub(b).Norm() < epsilon
}

// PoseString renders a pose for logs.
func PoseString(p Pose) string {
	q := p.Orientation()
	pt := p.Point()
	return fmt.Sprintf("{X:%.4f Y:%.4f Z:%.4f | W:%.4f I:%.4f J:%.4f K:%.4f}",
		pt.X, pt.Y, pt.Z, q.Real, q.Imag, q.Jmag, q.Kmag)
}

func (q *dualQuaternion) Point() r3.Vector {
	return q.point()
}

func (q *dualQuaternion) Orientation() quat.Number {
	return q.rotation()
}

func dualQuaternionFromPose(p Pose) *dualQuaternion {
	if q, ok := p.(*dualQuaternion); ok {
		return q
	}
	return newDualQuaternionFromParts(p.Point(), p.Orientation())
}
