// Package transform holds the pinhole camera model used to move between depth pixels and camera
// space points.
package transform

import (
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/mejkerslab/questgear3d/pointcloud"
	"github.com/mejkerslab/questgear3d/rimage"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// PinholeCameraIntrinsics holds the parameters necessary to do a perspective projection of a 3D scene to the 2D plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"cx"`
	Ppy    float64 `json:"cy"`
}

// NewIntrinsicsFromFOVTangents builds intrinsics from the tangents of the four half angles of an
// asymmetric frustum, the form headset depth cameras report their field of view in.
func NewIntrinsicsFromFOVTangents(width, height int, left, right, top, bottom float64) (*PinholeCameraIntrinsics, error) {
	if left+right <= 0 || top+bottom <= 0 {
		return nil, NewNoIntrinsicsError(fmt.Sprintf("invalid fov tangents l=%v r=%v t=%v b=%v", left, right, top, bottom))
	}
	w, h := float64(width), float64(height)
	params := &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     w / (right + left),
		Fy:     h / (top + bottom),
		Ppx:    w * right / (right + left),
		Ppy:    h * top / (top + bottom),
	}
	return params, params.CheckValid()
}

// NewIntrinsicsFromFOVAngles builds centered intrinsics from full horizontal and vertical field
// of view angles in radians. A zero vertical angle reuses the horizontal focal length.
func NewIntrinsicsFromFOVAngles(width, height int, angleX, angleY float64) (*PinholeCameraIntrinsics, error) {
	if angleX <= 0 || angleX >= math.Pi {
		return nil, NewNoIntrinsicsError(fmt.Sprintf("invalid horizontal fov %v", angleX))
	}
	fx := float64(width) / (2 * math.Tan(angleX/2))
	fy := fx
	if angleY > 0 {
		if angleY >= math.Pi {
			return nil, NewNoIntrinsicsError(fmt.Sprintf("invalid vertical fov %v", angleY))
		}
		fy = float64(height) / (2 * math.Tan(angleY/2))
	}
	params := &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     fx,
		Fy:     fy,
		Ppx:    float64(width) / 2,
		Ppy:    float64(height) / 2,
	}
	return params, params.CheckValid()
}

// CheckValid checks if the fields for PinholeCameraIntrinsics have valid inputs.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 || math.IsNaN(params.Fx) || math.IsInf(params.Fx, 0) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 || math.IsNaN(params.Fy) || math.IsInf(params.Fy, 0) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// Scaled returns the intrinsics for the same camera resampled to width x height.
func (params *PinholeCameraIntrinsics) Scaled(width, height int) *PinholeCameraIntrinsics {
	sx := float64(width) / float64(params.Width)
	sy := float64(height) / float64(params.Height)
	return &PinholeCameraIntrinsics{
		Width:  width,
		Height: height,
		Fx:     params.Fx * sx,
		Fy:     params.Fy * sy,
		Ppx:    params.Ppx * sx,
		Ppy:    params.Ppy * sy,
	}
}

// NewPinholeCameraIntrinsicsFromJSONFile takes in a file path to a JSON and turns it into PinholeCameraIntrinsics.
func NewPinholeCameraIntrinsicsFromJSONFile(jsonPath string) (*PinholeCameraIntrinsics, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	intrinsics := &PinholeCameraIntrinsics{}
	if err := json.Unmarshal(byteValue, intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	return intrinsics, intrinsics.CheckValid()
}

// PixelToPoint transforms a pixel with depth to a 3D point in the camera frame (X right, Y down,
// Z forward).
func (params *PinholeCameraIntrinsics) PixelToPoint(x, y, z float64) (float64, float64, float64) {
	if params == nil {
		return float64(0), float64(0), float64(0)
	}
	xOverZ := (x - params.Ppx) / params.Fx
	yOverZ := (y - params.Ppy) / params.Fy
	xm := xOverZ * z
	ym := yOverZ * z
	return xm, ym, z
}

// PointToPixel projects a 3D point to a continuous pixel position in the image plane. Points at or
// behind the camera return ok == false.
func (params *PinholeCameraIntrinsics) PointToPixel(x, y, z float64) (float64, float64, bool) {
	if z <= 0 {
		return -1, -1, false
	}
	return (x/z)*params.Fx + params.Ppx, (y/z)*params.Fy + params.Ppy, true
}

// ImagePointTo3DPoint takes in a image coordinate and returns the 3D point from the camera matrix.
func (params *PinholeCameraIntrinsics) ImagePointTo3DPoint(point image.Point, d float64) r3.Vector {
	px, py, pz := params.PixelToPoint(float64(point.X), float64(point.Y), d)
	return r3.Vector{X: px, Y: py, Z: pz}
}

// GetCameraMatrix creates a new camera matrix and returns it.
// Camera matrix:
// [[fx 0 ppx],
//
//	[0 fy ppy],
//	[0 0  1]]
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	if params == nil {
		return nil
	}
	cameraMatrix := mat.NewDense(3, 3, nil)
	cameraMatrix.Set(0, 0, params.Fx)
	cameraMatrix.Set(1, 1, params.Fy)
	cameraMatrix.Set(0, 2, params.Ppx)
	cameraMatrix.Set(1, 2, params.Ppy)
	cameraMatrix.Set(2, 2, 1)
	return cameraMatrix
}

// RGBDToPointCloud back-projects every valid depth pixel into camera space. img may be nil; when
// given it must match the depth map dimensions and colors the points.
func (params *PinholeCameraIntrinsics) RGBDToPointCloud(
	img image.Image, dm *rimage.DepthMap,
	crop ...image.Rectangle,
) (pointcloud.PointCloud, error) {
	if dm == nil {
		return nil, errors.New("no depth channel. Cannot project to Pointcloud")
	}
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	if params.Width != dm.Width() || params.Height != dm.Height() {
		return nil, errors.Errorf("depth map and intrinsics dimensions don't match Depth(%d,%d) != Intrinsics(%d,%d)",
			dm.Width(), dm.Height(), params.Width, params.Height)
	}
	if img != nil && img.Bounds().Size() != dm.Bounds().Size() {
		return nil, errors.Errorf("depth map and color dimensions don't match Depth(%d,%d) != Color(%d,%d)",
			dm.Width(), dm.Height(), img.Bounds().Dx(), img.Bounds().Dy())
	}
	if len(crop) > 1 {
		return nil, errors.Errorf("cannot have more than one cropping rectangle, got %v", crop)
	}
	bounds := dm.Bounds()
	// if optional crop rectangle is provided, use intersections of rectangle and image window and iterate through it
	if len(crop) == 1 {
		bounds = crop[0].Intersect(bounds)
	}

	pc := pointcloud.NewWithPrealloc(bounds.Dx() * bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			d := dm.GetDepth(x, y)
			if !rimage.IsValidDepth(d) {
				continue
			}
			px, py, pz := params.PixelToPoint(float64(x), float64(y), float64(d))
			data := pointcloud.NewBasicData()
			if img != nil {
				origin := img.Bounds().Min
				c := color.NRGBAModel.Convert(img.At(origin.X+x, origin.Y+y)).(color.NRGBA)
				data = pointcloud.NewColoredData(c)
			}
			if err := pc.Set(pointcloud.NewVector(px, py, pz), data); err != nil {
				return nil, err
			}
		}
	}
	return pc, nil
}
