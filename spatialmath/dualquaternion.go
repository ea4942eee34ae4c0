// Package spatialmath defines the rigid transforms, matrices and triangle meshes used by the
// reconstruction pipeline.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// dualQuaternion defines functions to perform rigid transformations in 3D.
type dualQuaternion struct {
	dualquat.Number
}

// newDualQuaternion returns a dualQuaternion whose rotation is the identity quaternion.
// Since the real part of a dual quaternion should be a unit quaternion, not all zeroes, this
// should be used instead of &dualQuaternion{}.
func newDualQuaternion() *dualQuaternion {
	return &dualQuaternion{dualquat.Number{
		Real: quat.Number{Real: 1},
		Dual: quat.Number{},
	}}
}

// newDualQuaternionFromParts builds a rigid transform that rotates by q then translates by pt.
func newDualQuaternionFromParts(pt r3.Vector, q quat.Number) *dualQuaternion {
	dq := &dualQuaternion{dualquat.Number{Real: normalizeQuat(q)}}
	dq.setTranslation(pt)
	return dq
}

// rotation returns the rotation quaternion.
func (q *dualQuaternion) rotation() quat.Number {
	return q.Real
}

// point returns the translation component in meters.
func (q *dualQuaternion) point() r3.Vector {
	// t = 2 * dual * conj(real)
	tQuat := quat.Mul(quat.Scale(2, q.Dual), quat.Conj(q.Real))
	return r3.Vector{X: tQuat.Imag, Y: tQuat.Jmag, Z: tQuat.Kmag}
}

// setTranslation correctly sets the translation quaternion against the rotation.
func (q *dualQuaternion) setTranslation(pt r3.Vector) {
	q.Dual = quat.Mul(quat.Number{Imag: pt.X / 2, Jmag: pt.Y / 2, Kmag: pt.Z / 2}, q.Real)
}

// transformation multiplies the dual quat contained in this dualQuaternion by another dual quat.
func (q *dualQuaternion) transformation(by dualquat.Number) dualquat.Number {
	// Ensure we are multiplying by a unit dual quaternion
	if vecLen := quat.Abs(by.Real); vecLen != 1 {
		by.Real = quat.Scale(1/vecLen, by.Real)
	}

	return dualquat.Mul(q.Number, by)
}

// invert returns the inverse rigid transform.
func (q *dualQuaternion) invert() *dualQuaternion {
	return &dualQuaternion{dualquat.ConjQuat(q.Number)}
}

func normalizeQuat(q quat.Number) quat.Number {
	norm := quat.Abs(q)
	if norm == 0 {
		return quat.Number{Real: 1}
	}
	q = quat.Scale(1/norm, q)
	// Keep a canonical hemisphere so equal rotations compare equal.
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// RotateVector rotates v by the unit quaternion q.
func RotateVector(q quat.Number, v r3.Vector) r3.Vector {
	rotated := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: rotated.Imag, Y: rotated.Jmag, Z: rotated.Kmag}
}

// QuatFromAxisAngle returns the unit quaternion rotating by theta radians about axis.
func QuatFromAxisAngle(axis r3.Vector, theta float64) quat.Number {
	if axis.Norm() == 0 {
		return quat.Number{Real: 1}
	}
	axis = axis.Normalize()
	s := math.Sin(theta / 2)
	return quat.Number{Real: math.Cos(theta / 2), Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
}

// QuatFromRotationMatrix converts a row-major 3x3 rotation matrix into a unit quaternion using
// Shepperd's method, which stays numerically stable for rotations near 180 degrees.
func QuatFromRotationMatrix(r [9]float64) quat.Number {
	m00, m01, m02 := r[0], r[1], r[2]
	m10, m11, m12 := r[3], r[4], r[5]
	m20, m21, m22 := r[6], r[7], r[8]

	var q quat.Number
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}
	return normalizeQuat(q)
}

// RotationMatrixFromQuat converts a unit quaternion into a row-major 3x3 rotation matrix.
func RotationMatrixFromQuat(q quat.Number) [9]float64 {
	q = normalizeQuat(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	}
}

// QuatAlmostEqual reports whether two quaternions describe the same rotation within epsilon.
func QuatAlmostEqual(a, b quat.Number, epsilon float64) bool {
	a, b = normalizeQuat(a), normalizeQuat(b)
	return math.Abs(a.Real-b.Real) < epsilon && math.Abs(a.Imag-b.Imag) < epsilon &&
		math.Abs(a.Jmag-b.Jmag) < epsilon && math.Abs(a.Kmag-b.Kmag) < epsilon
}
