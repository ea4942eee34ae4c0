package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/num/quat"
)

func TestComposeAndInverse(t *testing.T) {
	a := NewPose(r3.Vector{X: 1, Y: 2, Z: 3}, QuatFromAxisAngle(r3.Vector{Z: 1}, math.Pi/2))
	b := NewPose(r3.Vector{X: 0.5}, QuatFromAxisAngle(r3.Vector{X: 1}, math.Pi/3))

	ab := Compose(a, b)
	pt := r3.Vector{X: 0.1, Y: -0.2, Z: 0.7}
	expected := TransformPoint(a, TransformPoint(b, pt))
	test.That(t, R3VectorAlmostEqual(TransformPoint(ab, pt), expected, 1e-9), test.ShouldBeTrue)

	// Rotating (0.5, 0, 0) by 90 degrees about Z gives (0, 0.5, 0).
	test.That(t, R3VectorAlmostEqual(ab.Point(), r3.Vector{X: 1, Y: 2.5, Z: 3}, 1e-9), test.ShouldBeTrue)

	identity := Compose(a, PoseInverse(a))
	test.That(t, PoseAlmostEqual(identity, NewZeroPose()), test.ShouldBeTrue)

	between := PoseBetween(a, ab)
	test.That(t, PoseAlmostEqual(between, b), test.ShouldBeTrue)
}

func TestMatrixRoundTrip(t *testing.T) {
	p := NewPose(r3.Vector{X: -0.3, Y: 1.6, Z: 0.25}, QuatFromAxisAngle(r3.Vector{X: 1, Y: 1, Z: 0}, 2.5))
	m := PoseToMatrix(p)
	test.That(t, m.IsRigid(1e-9), test.ShouldBeTrue)

	back, err := NewPoseFromMatrix(m)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, PoseAlmostEqual(back, p), test.ShouldBeTrue)

	pt := r3.Vector{X: 1, Y: 2, Z: 3}
	test.That(t, R3VectorAlmostEqual(m.TransformPoint(pt), TransformPoint(p, pt), 1e-9), test.ShouldBeTrue)
}

func TestQuatFromRotationMatrixNear180(t *testing.T) {
	for _, axis := range []r3.Vector{{X: 1}, {Y: 1}, {Z: 1}, {X: 1, Y: -1, Z: 0.5}} {
		q := QuatFromAxisAngle(axis, math.Pi-1e-9)
		back := QuatFromRotationMatrix(RotationMatrixFromQuat(q))
		test.That(t, QuatAlmostEqual(back, q, 1e-6), test.ShouldBeTrue)
	}
}

func TestNewPoseFromMatrixRejects(t *testing.T) {
	m := IdentityMatrix4()
	m[3] = math.NaN()
	_, err := NewPoseFromMatrix(m)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "non-finite")

	m = DiagonalMatrix4(2, 1, 1)
	_, err = NewPoseFromMatrix(m)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "rigid")

	// A reflection is orthonormal but not a rotation.
	_, err = NewPoseFromMatrix(DiagonalMatrix4(1, -1, 1))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMatrixHelpers(t *testing.T) {
	s := DiagonalMatrix4(1, -1, 1)
	test.That(t, s.Mul(s).IsIdentity(0), test.ShouldBeTrue)
	test.That(t, s.Transpose(), test.ShouldResemble, s)

	m, err := NewMatrix4FromSlice([]float64{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.At(1, 2), test.ShouldEqual, 7.)
	test.That(t, m.Transpose().At(2, 1), test.ShouldEqual, 7.)
	test.That(t, m.Translation(), test.ShouldResemble, r3.Vector{X: 4, Y: 8, Z: 12})

	_, err = NewMatrix4FromSlice([]float64{1, 2, 3})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRotateVector(t *testing.T) {
	q := QuatFromAxisAngle(r3.Vector{Y: 1}, math.Pi/2)
	v := RotateVector(q, r3.Vector{Z: 1})
	test.That(t, R3VectorAlmostEqual(v, r3.Vector{X: 1}, 1e-9), test.ShouldBeTrue)

	test.That(t, QuatFromAxisAngle(r3.Vector{}, 1), test.ShouldResemble, quat.Number{Real: 1})
}
