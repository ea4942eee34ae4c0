package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

const floatEpsilon = 1e-6

// Triangle is a single mesh face with a cached plane normal.
type Triangle struct {
	p0 r3.Vector
	p1 r3.Vector
	p2 r3.Vector

	normal r3.Vector
}

// NewTriangle creates a Triangle. The normal follows the right hand rule over p0, p1, p2.
func NewTriangle(p0, p1, p2 r3.Vector) *Triangle {
	return &Triangle{
		p0:     p0,
		p1:     p1,
		p2:     p2,
		normal: PlaneNormal(p0, p1, p2),
	}
}

// Points returns the three corners.
func (t *Triangle) Points() []r3.Vector {
	return []r3.Vector{t.p0, t.p1, t.p2}
}

// Normal returns the unit plane normal, or the zero vector for degenerate triangles.
func (t *Triangle) Normal() r3.Vector {
	return t.normal
}

// Area returns the triangle area.
func (t *Triangle) Area() float64 {
	return t.p1.Sub(t.p0).Cross(t.p2.Sub(t.p0)).Norm() / 2
}

// Centroid returns the mean of the corners.
func (t *Triangle) Centroid() r3.Vector {
	return t.p0.Add(t.p1).Add(t.p2).Mul(1. / 3)
}

// IsDegenerate reports whether the triangle has (near) zero area.
func (t *Triangle) IsDegenerate() bool {
	return t.Area() < floatEpsilon*floatEpsilon
}

// ClosestPointToPoint takes a point, and returns the closest point on the triangle to the given point.
func (t *Triangle) ClosestPointToPoint(point r3.Vector) r3.Vector {
	closestPtInside, inside := t.ClosestInsidePoint(point)
	if inside {
		return closestPtInside
	}

	// If the closest point is outside the triangle, it must be on an edge, so we
	// check each triangle edge for a closest point to the point pt.
	closestPt := ClosestPointSegmentPoint(t.p0, t.p1, point)
	bestDist := point.Sub(closestPt).Norm2()

	newPt := ClosestPointSegmentPoint(t.p1, t.p2, point)
	if newDist := point.Sub(newPt).Norm2(); newDist < bestDist {
		closestPt = newPt
		bestDist = newDist
	}

	newPt = ClosestPointSegmentPoint(t.p2, t.p0, point)
	if newDist := point.Sub(newPt).Norm2(); newDist < bestDist {
		return newPt
	}
	return closestPt
}

// ClosestInsidePoint returns the closest point on a triangle IF AND ONLY IF the query point's projection overlaps the triangle.
// Otherwise it will return the query point.
func (t *Triangle) ClosestInsidePoint(point r3.Vector) (r3.Vector, bool) {
	eps := 1e-6

	// Parametrize the triangle s.t. a point inside the triangle is
	// Q = p0 + u * e0 + v * e1, when 0 <= u <= 1, 0 <= v <= 1, and
	// 0 <= u + v <= 1. Let e0 = (p1 - p0) and e1 = (p2 - p0).
	// We analytically minimize the distance between the point pt and Q.
	e0 := t.p1.Sub(t.p0)
	e1 := t.p2.Sub(t.p0)
	a := e0.Norm2()
	b := e0.Dot(e1)
	c := e1.Norm2()
	d := point.Sub(t.p0)
	// The determinant is 0 only if the angle between e1 and e0 is 0
	// (i.e. the triangle has overlapping lines).
	det := (a*c - b*b)
	if math.Abs(det) < eps*eps {
		return point, false
	}
	u := (c*e0.Dot(d) - b*e1.Dot(d)) / det
	v := (-b*e0.Dot(d) + a*e1.Dot(d)) / det
	inside := (0 <= u+eps) && (u <= 1+eps) && (0 <= v+eps) && (v <= 1+eps) && (u+v <= 1+eps)
	if !inside {
		return point, false
	}
	return t.p0.Add(e0.Mul(u)).Add(e1.Mul(v)), true
}

// PlaneNormal returns the unit normal of the plane through p0, p1, p2.
func PlaneNormal(p0, p1, p2 r3.Vector) r3.Vector {
	n := p1.Sub(p0).Cross(p2.Sub(p0))
	if n.Norm() == 0 {
		return r3.Vector{}
	}
	return n.Normalize()
}

// ClosestPointSegmentPoint takes a line segment defined by two points and a third point, and
// returns the closest point on the segment to the third point.
func ClosestPointSegmentPoint(segStart, segEnd, pt r3.Vector) r3.Vector {
	segVec := segEnd.Sub(segStart)
	denom := segVec.Norm2()
	if denom == 0 {
		return segStart
	}
	t := pt.Sub(segStart).Dot(segVec) / denom
	t = math.Max(0, math.Min(1, t))
	return segStart.Add(segVec.Mul(t))
}
