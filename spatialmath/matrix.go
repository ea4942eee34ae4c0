package spatialmath

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/mejkerslab/questgear3d/utils"
)

// rigidTolerance bounds how far R*R^T may stray from identity for device poses, which are stored
// as single precision floats on the headset.
const rigidTolerance = 1e-3

// Matrix4 is a row-major 4x4 homogeneous transform.
type Matrix4 [16]float64

// IdentityMatrix4 returns the 4x4 identity.
func IdentityMatrix4() Matrix4 {
	return Matrix4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// DiagonalMatrix4 returns a diagonal matrix with the given first three entries and a 1 last.
func DiagonalMatrix4(x, y, z float64) Matrix4 {
	return Matrix4{
		x, 0, 0, 0,
		0, y, 0, 0,
		0, 0, z, 0,
		0, 0, 0, 1,
	}
}

// NewMatrix4FromParts builds a transform from a row-major rotation and a translation.
func NewMatrix4FromParts(rot [9]float64, t r3.Vector) Matrix4 {
	return Matrix4{
		rot[0], rot[1], rot[2], t.X,
		rot[3], rot[4], rot[5], t.Y,
		rot[6], rot[7], rot[8], t.Z,
		0, 0, 0, 1,
	}
}

// NewMatrix4FromSlice accepts 16 row-major values.
func NewMatrix4FromSlice(vals []float64) (Matrix4, error) {
	var m Matrix4
	if len(vals) != 16 {
		return m, errors.Errorf("expected 16 matrix values, got %d", len(vals))
	}
	copy(m[:], vals)
	return m, nil
}

// NewMatrix4FromDense converts a 4x4 gonum matrix.
func NewMatrix4FromDense(d mat.Matrix) (Matrix4, error) {
	var m Matrix4
	if r, c := d.Dims(); r != 4 || c != 4 {
		return m, errors.Errorf("expected a 4x4 matrix, got %dx%d", r, c)
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m[i*4+j] = d.At(i, j)
		}
	}
	return m, nil
}

// At returns the entry at row i and column j.
func (m Matrix4) At(i, j int) float64 {
	return m[i*4+j]
}

// Dense returns m as a gonum matrix.
func (m Matrix4) Dense() *mat.Dense {
	vals := make([]float64, 16)
	copy(vals, m[:])
	return mat.NewDense(4, 4, vals)
}

// Mul returns m*o.
func (m Matrix4) Mul(o Matrix4) Matrix4 {
	var out mat.Dense
	out.Mul(m.Dense(), o.Dense())
	//nolint:errcheck
	res, _ := NewMatrix4FromDense(&out)
	return res
}

// Transpose returns m^T.
func (m Matrix4) Transpose() Matrix4 {
	//nolint:errcheck
	res, _ := NewMatrix4FromDense(m.Dense().T())
	return res
}

// Rotation returns the upper-left 3x3 block, row-major.
func (m Matrix4) Rotation() [9]float64 {
	return [9]float64{
		m[0], m[1], m[2],
		m[4], m[5], m[6],
		m[8], m[9], m[10],
	}
}

// Translation returns the last column.
func (m Matrix4) Translation() r3.Vector {
	return r3.Vector{X: m[3], Y: m[7], Z: m[11]}
}

// TransformPoint applies m to a point.
func (m Matrix4) TransformPoint(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0]*p.X + m[1]*p.Y + m[2]*p.Z + m[3],
		Y: m[4]*p.X + m[5]*p.Y + m[6]*p.Z + m[7],
		Z: m[8]*p.X + m[9]*p.Y + m[10]*p.Z + m[11],
	}
}

// IsFinite reports whether every entry is finite.
func (m Matrix4) IsFinite() bool {
	for _, v := range m {
		if !utils.IsFinite(v) {
			return false
		}
	}
	return true
}

// IsIdentity reports whether m is the identity within epsilon.
func (m Matrix4) IsIdentity(epsilon float64) bool {
	return m.AlmostEqual(IdentityMatrix4(), epsilon)
}

// AlmostEqual compares entrywise.
func (m Matrix4) AlmostEqual(o Matrix4, epsilon float64) bool {
	for i := range m {
		if math.Abs(m[i]-o[i]) > epsilon {
			return false
		}
	}
	return true
}

// IsRigid reports whether m has a [0 0 0 1] last row and an orthonormal rotation block with
// determinant +1.
func (m Matrix4) IsRigid(epsilon float64) bool {
	if math.Abs(m[12]) > epsilon || math.Abs(m[13]) > epsilon || math.Abs(m[14]) > epsilon ||
		math.Abs(m[15]-1) > epsilon {
		return false
	}
	rot := m.Rotation()
	r := mat.NewDense(3, 3, rot[:])
	var rrt mat.Dense
	rrt.Mul(r, r.T())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.
			if i == j {
				want = 1
			}
			if math.Abs(rrt.At(i, j)-want) > epsilon {
				return false
			}
		}
	}
	return math.Abs(mat.Det(r)-1) <= epsilon
}

// MarshalJSON encodes m as 16 row-major numbers. Non-finite entries are written as the strings
// "NaN", "+Inf" and "-Inf" so that corrupt device poses survive a round trip.
func (m Matrix4) MarshalJSON() ([]byte, error) {
	vals := make([]interface{}, len(m))
	for i, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			vals[i] = strconv.FormatFloat(v, 'g', -1, 64)
			continue
		}
		vals[i] = v
	}
	return json.Marshal(vals)
}

// UnmarshalJSON accepts 16 row-major numbers, a nested 4x4 array, or the string forms written by
// MarshalJSON.
func (m *Matrix4) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "matrix must be an array")
	}
	if len(raw) == 4 {
		var rows [][]json.RawMessage
		if err := json.Unmarshal(data, &rows); err == nil {
			raw = raw[:0]
			for _, row := range rows {
				raw = append(raw, row...)
			}
		}
	}
	if len(raw) != 16 {
		return errors.Errorf("expected 16 matrix values, got %d", len(raw))
	}
	for i, r := range raw {
		v, err := parseJSONFloat(r)
		if err != nil {
			return errors.Wrapf(err, "matrix entry %d", i)
		}
		m[i] = v
	}
	return nil
}

func parseJSONFloat(r json.RawMessage) (float64, error) {
	var v float64
	if err := json.Unmarshal(r, &v); err == nil {
		return v, nil
	}
	var s string
	if err := json.Unmarshal(r, &s); err != nil {
		return 0, errors.Errorf("not a number: %s", string(r))
	}
	return strconv.ParseFloat(s, 64)
}
