package transform

import (
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/mejkerslab/questgear3d/rimage"
)

func TestCheckValid(t *testing.T) {
	var nilParams *PinholeCameraIntrinsics
	test.That(t, errors.Is(nilParams.CheckValid(), ErrNoIntrinsics), test.ShouldBeTrue)

	params := &PinholeCameraIntrinsics{Width: 10, Height: 10, Fx: 5, Fy: 5, Ppx: 5, Ppy: 5}
	test.That(t, params.CheckValid(), test.ShouldBeNil)

	bad := *params
	bad.Fx = 0
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
	bad = *params
	bad.Width = 0
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
	bad = *params
	bad.Ppy = -1
	test.That(t, bad.CheckValid(), test.ShouldNotBeNil)
}

func TestIntrinsicsFromFOVTangents(t *testing.T) {
	params, err := NewIntrinsicsFromFOVTangents(200, 100, 1, 1, 1, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.Fx, test.ShouldEqual, 100.0)
	test.That(t, params.Fy, test.ShouldEqual, 50.0)
	test.That(t, params.Ppx, test.ShouldEqual, 100.0)
	test.That(t, params.Ppy, test.ShouldEqual, 50.0)

	asym, err := NewIntrinsicsFromFOVTangents(200, 100, 0.5, 1.5, 1, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, asym.Fx, test.ShouldEqual, 100.0)
	test.That(t, asym.Ppx, test.ShouldEqual, 150.0)

	_, err = NewIntrinsicsFromFOVTangents(200, 100, 0, 0, 1, 1)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestIntrinsicsFromFOVAngles(t *testing.T) {
	params, err := NewIntrinsicsFromFOVAngles(640, 480, math.Pi/2, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.Fx, test.ShouldAlmostEqual, 320.0)
	test.That(t, params.Fy, test.ShouldAlmostEqual, 320.0)
	test.That(t, params.Ppy, test.ShouldEqual, 240.0)

	_, err = NewIntrinsicsFromFOVAngles(640, 480, 0, 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestScaledAndProjection(t *testing.T) {
	params := &PinholeCameraIntrinsics{Width: 200, Height: 100, Fx: 100, Fy: 100, Ppx: 100, Ppy: 50}
	half := params.Scaled(100, 50)
	test.That(t, half.Fx, test.ShouldEqual, 50.0)
	test.That(t, half.Ppy, test.ShouldEqual, 25.0)

	x, y, z := params.PixelToPoint(150, 25, 2)
	test.That(t, x, test.ShouldAlmostEqual, 1.0)
	test.That(t, y, test.ShouldAlmostEqual, -0.5)
	test.That(t, z, test.ShouldEqual, 2.0)

	u, v, ok := params.PointToPixel(x, y, z)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, u, test.ShouldAlmostEqual, 150.0)
	test.That(t, v, test.ShouldAlmostEqual, 25.0)

	_, _, ok = params.PointToPixel(1, 1, -1)
	test.That(t, ok, test.ShouldBeFalse)

	k := params.GetCameraMatrix()
	test.That(t, k.At(0, 2), test.ShouldEqual, 100.0)
	test.That(t, k.At(2, 2), test.ShouldEqual, 1.0)
}

func TestIntrinsicsJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "intrinsics.json")
	test.That(t, os.WriteFile(path, []byte(`{"width":4,"height":2,"fx":3,"fy":3,"cx":2,"cy":1}`), 0o600), test.ShouldBeNil)
	params, err := NewPinholeCameraIntrinsicsFromJSONFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, *params, test.ShouldResemble, PinholeCameraIntrinsics{Width: 4, Height: 2, Fx: 3, Fy: 3, Ppx: 2, Ppy: 1})
}

func TestRGBDToPointCloud(t *testing.T) {
	params := &PinholeCameraIntrinsics{Width: 2, Height: 2, Fx: 1, Fy: 1, Ppx: 0, Ppy: 0}
	dm := rimage.NewEmptyDepthMap(2, 2)
	dm.Set(1, 1, 2)
	dm.Set(0, 0, 1)
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(1, 1, color.NRGBA{1, 2, 3, 255})

	pc, err := params.RGBDToPointCloud(img, dm)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)
	d, ok := pc.At(2, 2, 2)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.Color(), test.ShouldResemble, color.NRGBA{1, 2, 3, 255})

	cropped, err := params.RGBDToPointCloud(nil, dm, image.Rect(1, 1, 2, 2))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cropped.Size(), test.ShouldEqual, 1)

	_, err = params.RGBDToPointCloud(nil, rimage.NewEmptyDepthMap(3, 3))
	test.That(t, err, test.ShouldNotBeNil)
}
