package pointcloud

import (
	"bytes"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func trajectoryCloud(t *testing.T) PointCloud {
	t.Helper()
	pc := New()
	test.That(t, pc.Set(NewVector(0, 0, 0), NewColoredValueData(color.NRGBA{255, 0, 0, 255}, 0)), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(1, 0, 0), NewColoredValueData(color.NRGBA{0, 255, 0, 255}, 1)), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(1, 2, -1), NewColoredValueData(color.NRGBA{0, 0, 255, 255}, 2)), test.ShouldBeNil)
	return pc
}

func TestPointCloudBasic(t *testing.T) {
	pc := New()
	test.That(t, pc.Size(), test.ShouldEqual, 0)

	test.That(t, pc.Set(NewVector(1, 2, 3), NewBasicData()), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(-1, 5, 0), NewValueData(7)), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)

	d, ok := pc.At(-1, 5, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.Value(), test.ShouldEqual, 7)
	_, ok = pc.At(0, 0, 0)
	test.That(t, ok, test.ShouldBeFalse)

	// replacing keeps the size.
	test.That(t, pc.Set(NewVector(1, 2, 3), NewValueData(3)), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)

	meta := pc.MetaData()
	test.That(t, meta.HasValue, test.ShouldBeTrue)
	test.That(t, meta.HasColor, test.ShouldBeFalse)
	test.That(t, meta.MinX, test.ShouldEqual, -1.0)
	test.That(t, meta.MaxY, test.ShouldEqual, 5.0)

	test.That(t, pc.Set(r3.Vector{X: 1, Y: 0, Z: math.Inf(1)}, nil), test.ShouldNotBeNil)

	test.That(t, CloudCentroid(pc), test.ShouldResemble, r3.Vector{X: 0, Y: 3.5, Z: 1.5})
}

func TestSequenceKeepsRepeats(t *testing.T) {
	pc := NewSequence()
	still := NewVector(0.5, 1.6, -0.2)
	for i := 0; i < 3; i++ {
		test.That(t, pc.Set(still, NewValueData(i)), test.ShouldBeNil)
	}
	test.That(t, pc.Set(NewVector(0.6, 1.6, -0.2), NewValueData(3)), test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 4)

	var values []int
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		values = append(values, d.Value())
		return true
	})
	test.That(t, values, test.ShouldResemble, []int{0, 1, 2, 3})

	d, ok := pc.At(0.5, 1.6, -0.2)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.Value(), test.ShouldEqual, 2)

	test.That(t, pc.Set(NewVector(math.NaN(), 0, 0), nil), test.ShouldNotBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 4)

	var buf bytes.Buffer
	test.That(t, ToPCD(pc, &buf, PCDAscii), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldContainSubstring, "POINTS 4\n")
}

func TestIterate(t *testing.T) {
	pc := trajectoryCloud(t)
	var values []int
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		values = append(values, d.Value())
		return true
	})
	test.That(t, values, test.ShouldResemble, []int{0, 1, 2})

	count := 0
	for batch := 0; batch < 2; batch++ {
		pc.Iterate(2, batch, func(p r3.Vector, d Data) bool {
			count++
			return true
		})
	}
	test.That(t, count, test.ShouldEqual, 3)

	seen := 0
	pc.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		seen++
		return false
	})
	test.That(t, seen, test.ShouldEqual, 1)
}

func TestToPCD(t *testing.T) {
	pc := trajectoryCloud(t)
	var buf bytes.Buffer
	test.That(t, ToPCD(pc, &buf, PCDAscii), test.ShouldBeNil)
	out := buf.String()
	test.That(t, out, test.ShouldContainSubstring, "FIELDS x y z rgb\n")
	test.That(t, out, test.ShouldContainSubstring, "POINTS 3\n")
	test.That(t, out, test.ShouldContainSubstring, "DATA ascii\n")
	test.That(t, out, test.ShouldContainSubstring, "1.000000 0.000000 0.000000 65280\n")

	buf.Reset()
	test.That(t, ToPCD(pc, &buf, PCDBinary), test.ShouldBeNil)
	header := "DATA binary\n"
	idx := strings.Index(buf.String(), header)
	test.That(t, idx, test.ShouldBeGreaterThan, 0)
	test.That(t, buf.Len()-idx-len(header), test.ShouldEqual, 3*16)
}

func TestToPLY(t *testing.T) {
	pc := trajectoryCloud(t)
	var buf bytes.Buffer
	test.That(t, ToPLY(pc, &buf), test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	test.That(t, lines[0], test.ShouldEqual, "ply")
	test.That(t, buf.String(), test.ShouldContainSubstring, "element vertex 3\n")
	test.That(t, buf.String(), test.ShouldContainSubstring, "property int value\n")
	test.That(t, lines[len(lines)-1], test.ShouldEqual, "1 2 -1 0 0 255 2")
}

func TestWriteToFile(t *testing.T) {
	dir := t.TempDir()
	pc := trajectoryCloud(t)
	for _, name := range []string{"traj.ply", "traj.pcd"} {
		fn := filepath.Join(dir, name)
		test.That(t, WriteToFile(pc, fn), test.ShouldBeNil)
		info, err := os.Stat(fn)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
	}
	test.That(t, WriteToFile(pc, filepath.Join(dir, "traj.xyz")), test.ShouldNotBeNil)
}

func TestLASRoundTrip(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "traj.las")
	pc := trajectoryCloud(t)
	test.That(t, WriteToFile(pc, fn), test.ShouldBeNil)

	read, err := NewFromLASFile(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.Size(), test.ShouldEqual, 3)
	test.That(t, read.MetaData().HasColor, test.ShouldBeTrue)
	test.That(t, read.MetaData().HasValue, test.ShouldBeTrue)

	var values []int
	read.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		values = append(values, d.Value())
		return true
	})
	test.That(t, values, test.ShouldResemble, []int{0, 1, 2})
}
