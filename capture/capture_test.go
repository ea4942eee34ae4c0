package capture

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"github.com/mejkerslab/questgear3d/logging"
	"github.com/mejkerslab/questgear3d/referenceframe"
	"github.com/mejkerslab/questgear3d/rimage"
	"github.com/mejkerslab/questgear3d/rimage/transform"
	"github.com/mejkerslab/questgear3d/spatialmath"
	"github.com/mejkerslab/questgear3d/testutils/capturegen"
)

func formatErrorKind(t *testing.T, err error) ErrorKind {
	t.Helper()
	var fe *FormatError
	test.That(t, errors.As(err, &fe), test.ShouldBeTrue)
	return fe.Kind
}

func TestDetect(t *testing.T) {
	_, err := Detect(filepath.Join(t.TempDir(), "nope"))
	test.That(t, formatErrorKind(t, err), test.ShouldEqual, MissingFile)

	empty := t.TempDir()
	format, err := Detect(empty)
	test.That(t, format, test.ShouldEqual, FormatUnknown)
	test.That(t, formatErrorKind(t, err), test.ShouldEqual, UnrecognizedLayout)

	modern := t.TempDir()
	test.That(t, capturegen.WriteModern(modern, capturegen.DefaultScene()), test.ShouldBeNil)
	format, err = Detect(modern)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, format, test.ShouldEqual, FormatModern)

	legacy := t.TempDir()
	test.That(t, capturegen.WriteLegacy(legacy, capturegen.DefaultScene(), capturegen.LegacyOptions{}), test.ShouldBeNil)
	format, err = Detect(legacy)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, format, test.ShouldEqual, FormatLegacy)
	test.That(t, format.String(), test.ShouldEqual, "legacy")

	// a pose table without camera images is not a capture
	tableOnly := t.TempDir()
	test.That(t, os.WriteFile(filepath.Join(tableOnly, PoseTableFile), []byte("unix_time\n"), 0o600), test.ShouldBeNil)
	_, err = Detect(tableOnly)
	test.That(t, formatErrorKind(t, err), test.ShouldEqual, UnrecognizedLayout)
}

func TestLoadModern(t *testing.T) {
	logger := logging.NewTestLogger(t)
	root := t.TempDir()
	scene := capturegen.DefaultScene()
	test.That(t, capturegen.WriteModern(root, scene), test.ShouldBeNil)

	idx, err := Load(context.Background(), root, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, idx.Format, test.ShouldEqual, FormatModern)
	test.That(t, idx.Len(), test.ShouldEqual, 10)
	test.That(t, len(idx.Groups()), test.ShouldEqual, 10)
	test.That(t, idx.Intrinsics, test.ShouldResemble, scene.Intrinsics())

	f := idx.Frame(3)
	test.That(t, f.Index, test.ShouldEqual, 3)
	test.That(t, f.CameraID, test.ShouldEqual, referenceframe.CameraCenter)
	test.That(t, f.Pose, test.ShouldResemble, scene.HeadPose(3))
	test.That(t, f.Color.Encoding, test.ShouldEqual, rimage.ColorPNG)
	test.That(t, f.Color.Path, test.ShouldEqual, filepath.Join(root, "color", "frame_000003.png"))
	test.That(t, f.Depth.Encoding, test.ShouldEqual, rimage.DepthPNG16)
	test.That(t, f.Depth.UnitScale, test.ShouldEqual, rimage.DefaultUnitScale)

	intr, err := idx.IntrinsicsFor(f)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intr.Fx, test.ShouldEqual, scene.Fx)

	dm, err := rimage.DecodeDepth(f.Depth, rimage.DepthOptions{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dm.GetDepth(0, 0), test.ShouldAlmostEqual, scene.Depth(3)[0], 1e-3)

	t.Run("canonical index written once", func(t *testing.T) {
		path := filepath.Join(root, IndexFile)
		read, err := ReadIndex(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, read.Frames, test.ShouldResemble, idx.Frames)
		test.That(t, read.Intrinsics, test.ShouldResemble, idx.Intrinsics)

		raw, err := os.ReadFile(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, string(raw), test.ShouldContainSubstring, `"path": "color/frame_000000.png"`)

		sentinel := []byte(`{"version":"sentinel"}`)
		test.That(t, os.WriteFile(path, sentinel, 0o600), test.ShouldBeNil)
		_, err = Load(context.Background(), root, logger)
		test.That(t, err, test.ShouldBeNil)
		after, err := os.ReadFile(path)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, after, test.ShouldResemble, sentinel)

		_, err = ReadIndex(path)
		test.That(t, formatErrorKind(t, err), test.ShouldEqual, Malformed)
	})

	t.Run("index write can be skipped", func(t *testing.T) {
		other := t.TempDir()
		test.That(t, capturegen.WriteModern(other, scene), test.ShouldBeNil)
		_, err := Load(context.Background(), other, logger, WithoutIndexWrite())
		test.That(t, err, test.ShouldBeNil)
		_, err = os.Stat(filepath.Join(other, IndexFile))
		test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Load(ctx, root, logger)
		test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	})
}

func TestLoadModernCorruptPoseSurvives(t *testing.T) {
	root := t.TempDir()
	scene := capturegen.DefaultScene()
	scene.CorruptPoses = []int{2}
	test.That(t, capturegen.WriteModern(root, scene), test.ShouldBeNil)

	idx, err := Load(context.Background(), root, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, idx.Frame(2).Pose.IsFinite(), test.ShouldBeFalse)
	test.That(t, idx.Frame(3).Pose.IsFinite(), test.ShouldBeTrue)

	read, err := ReadIndex(filepath.Join(root, IndexFile))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.Frame(2).Pose.IsFinite(), test.ShouldBeFalse)
}

func TestLoadModernErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	write := func(t *testing.T, name, content string) string {
		t.Helper()
		root := t.TempDir()
		test.That(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o600), test.ShouldBeNil)
		return root
	}

	for _, tc := range []struct {
		name    string
		file    string
		content string
		kind    ErrorKind
	}{
		{"missing manifest", TransformsFile, `{"w": 4, "h": 4, "fl_x": 2}`, MissingFile},
		{"bad json", ScanDataFile, `{"frames": [`, Malformed},
		{"missing pose", ScanDataFile, `{"frames": [{"frame_id": 0, "color_file": "a.png", "depth_file": "a.png"}]}`, PoseCountMismatch},
		{"short pose", ScanDataFile, `{"frames": [{"pose": [1, 0, 0], "color_file": "a.png", "depth_file": "a.png"}]}`, Malformed},
		{"unknown extension", ScanDataFile,
			`{"frames": [{"pose": [[1,0,0,0],[0,1,0,0],[0,0,1,0],[0,0,0,1]], "color_file": "a.tga", "depth_file": "a.png"}]}`, Malformed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			root := write(t, tc.file, tc.content)
			_, err := Load(context.Background(), root, logger, WithoutIndexWrite())
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, formatErrorKind(t, err), test.ShouldEqual, tc.kind)
		})
	}
}

func TestLoadModernMonocularRedirect(t *testing.T) {
	root := t.TempDir()
	scene := capturegen.DefaultScene()
	scene.Frames = 2
	test.That(t, capturegen.WriteModern(root, scene), test.ShouldBeNil)

	mono := MonocularDepthPath(root, "depth/frame_000000.png")
	test.That(t, mono, test.ShouldEqual, filepath.Join(root, MonocularDepthDir, "frame_000000.png"))
	test.That(t, os.MkdirAll(filepath.Dir(mono), 0o750), test.ShouldBeNil)
	test.That(t, os.WriteFile(mono, []byte("x"), 0o600), test.ShouldBeNil)

	idx, err := Load(context.Background(), root, logging.NewTestLogger(t), WithoutIndexWrite())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, idx.Frame(0).Depth.Path, test.ShouldEqual, mono)
	test.That(t, idx.Frame(0).Depth.UnitScale, test.ShouldEqual, MonocularUnitScale)
	// frames without a generated file keep device depth
	test.That(t, idx.Frame(1).Depth.Path, test.ShouldEqual, filepath.Join(root, "depth", "frame_000001.png"))
}

func TestLoadLegacyStereo(t *testing.T) {
	root := t.TempDir()
	scene := capturegen.DefaultScene()
	scene.Frames = 5
	test.That(t, capturegen.WriteLegacy(root, scene, capturegen.LegacyOptions{Stereo: true, NDC: true}), test.ShouldBeNil)

	idx, err := Load(context.Background(), root, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, idx.Format, test.ShouldEqual, FormatLegacy)
	test.That(t, idx.Len(), test.ShouldEqual, 10)

	groups := idx.Groups()
	test.That(t, len(groups), test.ShouldEqual, 5)
	for i, g := range groups {
		test.That(t, g.Index, test.ShouldEqual, i)
		test.That(t, g.CameraIDs(), test.ShouldResemble, []string{referenceframe.CameraLeft, referenceframe.CameraRight})
		test.That(t, g.Frames[0].Pose, test.ShouldResemble, g.Frames[1].Pose)
		test.That(t, g.Frames[0].Timestamp, test.ShouldEqual, g.Frames[1].Timestamp)
	}

	left := groups[1].Frames[0]
	test.That(t, left.HeadToCamera, test.ShouldNotBeNil)
	test.That(t, left.HeadToCamera.Translation().X, test.ShouldAlmostEqual, -0.032)
	test.That(t, groups[1].Frames[1].HeadToCamera.Translation().X, test.ShouldAlmostEqual, 0.032)
	test.That(t, left.Pose.AlmostEqual(scene.HeadPose(1), 1e-9), test.ShouldBeTrue)
	test.That(t, left.Color.Encoding, test.ShouldEqual, rimage.ColorYUV420)
	test.That(t, left.Color.Width, test.ShouldEqual, scene.Width)
	test.That(t, left.Depth.Encoding, test.ShouldEqual, rimage.DepthFloat32NDC)
	test.That(t, left.Depth.Near, test.ShouldEqual, 0.1)
	test.That(t, left.Depth.Far, test.ShouldEqual, 3.0)
	test.That(t, left.Intrinsics.Fx, test.ShouldAlmostEqual, scene.Fx)
	test.That(t, left.Intrinsics.Ppx, test.ShouldAlmostEqual, float64(scene.Width)/2)

	dm, err := rimage.DecodeDepth(left.Depth, rimage.DepthOptions{})
	test.That(t, err, test.ShouldBeNil)
	want := scene.Depth(1)
	test.That(t, dm.GetDepth(5, 7), test.ShouldAlmostEqual, want[7*scene.Width+5], 1e-4)

	img, err := rimage.DecodeColor(left.Color, rimage.ColorOptions{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, scene.Width)

	input := groups[1].PoseInput()
	test.That(t, len(input.Views), test.ShouldEqual, 2)
	test.That(t, input.Views[1].CameraID, test.ShouldEqual, referenceframe.CameraRight)
	input.Views[0].HeadToCamera[3] = 99
	test.That(t, idx.Frame(2).HeadToCamera.Translation().X, test.ShouldAlmostEqual, -0.032)
}

func TestLoadLegacyPoseCountMismatch(t *testing.T) {
	root := t.TempDir()
	scene := capturegen.DefaultScene()
	scene.Frames = 5
	test.That(t, capturegen.WriteLegacy(root, scene, capturegen.LegacyOptions{}), test.ShouldBeNil)
	test.That(t, os.Remove(filepath.Join(root, leftColorDir, "000004.yuv")), test.ShouldBeNil)
	test.That(t, os.Remove(filepath.Join(root, leftDepthDir, "000004.raw")), test.ShouldBeNil)

	logger := logging.NewTestLogger(t)
	_, err := Load(context.Background(), root, logger, WithoutIndexWrite())
	test.That(t, formatErrorKind(t, err), test.ShouldEqual, PoseCountMismatch)

	idx, err := Load(context.Background(), root, logger, WithoutIndexWrite(), WithLenientPoseCount())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(idx.Groups()), test.ShouldEqual, 4)
	test.That(t, idx.Frame(0).Depth.Encoding, test.ShouldEqual, rimage.DepthFloat32Raw)

	test.That(t, os.Remove(filepath.Join(root, leftDepthDir, "000003.raw")), test.ShouldBeNil)
	_, err = Load(context.Background(), root, logger, WithoutIndexWrite(), WithLenientPoseCount())
	test.That(t, formatErrorKind(t, err), test.ShouldEqual, PoseCountMismatch)

	test.That(t, os.RemoveAll(filepath.Join(root, leftDepthDir)), test.ShouldBeNil)
	_, err = Load(context.Background(), root, logger, WithoutIndexWrite())
	test.That(t, formatErrorKind(t, err), test.ShouldEqual, MissingFile)
}

func TestParsePoseTable(t *testing.T) {
	rows, err := parsePoseTable("poses.csv", strings.NewReader(
		"unix_time,pos_x,pos_y,pos_z,rot_w,rot_x,rot_y,rot_z\n"+
			"100, 1, 2, 3, 1, 0, 0, 0\n"+
			"133,NaN,2,3,1,0,0,0\n"+
			"166, 1, 2, 3, 0, 0, 0, 0\n"+
			"200, 1, 2, 3, 0, 1e-9, 0, 0\n"+
			"233, 1, 2, 3, 0, 0, 2, 0\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(rows), test.ShouldEqual, 5)
	test.That(t, rows[0].Timestamp, test.ShouldEqual, 100.0)
	test.That(t, rows[0].matrix().Translation().Z, test.ShouldEqual, 3.0)
	test.That(t, rows[1].matrix().IsFinite(), test.ShouldBeFalse)
	// a quaternion without a usable norm is not an orientation
	test.That(t, rows[2].matrix().IsFinite(), test.ShouldBeFalse)
	test.That(t, rows[3].matrix().IsFinite(), test.ShouldBeFalse)
	// any other scale is normalized
	test.That(t, rows[4].matrix().IsFinite(), test.ShouldBeTrue)
	test.That(t, rows[4].matrix().IsRigid(1e-9), test.ShouldBeTrue)

	_, err = parsePoseTable("poses.csv", strings.NewReader("unix_time,pos_x\n1,2\n"))
	test.That(t, formatErrorKind(t, err), test.ShouldEqual, Malformed)

	_, err = parsePoseTable("poses.csv", strings.NewReader(
		"unix_time,pos_x,pos_y,pos_z,rot_w,rot_x,rot_y,rot_z\n1,2,3,four,1,0,0,0\n"))
	test.That(t, formatErrorKind(t, err), test.ShouldEqual, Malformed)
}

func TestSelectGroups(t *testing.T) {
	groups := make([]FrameSet, 10)
	for i := range groups {
		groups[i].Index = i
	}
	indexes := func(sets []FrameSet) []int {
		out := make([]int, len(sets))
		for i, s := range sets {
			out[i] = s.Index
		}
		return out
	}
	test.That(t, indexes(SelectGroups(groups, 0, 0, 1)), test.ShouldHaveLength, 10)
	test.That(t, indexes(SelectGroups(groups, 2, 8, 3)), test.ShouldResemble, []int{2, 5})
	test.That(t, indexes(SelectGroups(groups, 7, 100, 0)), test.ShouldResemble, []int{7, 8, 9})
	test.That(t, SelectGroups(groups, 12, 0, 1), test.ShouldBeEmpty)
}

func TestWriteTransforms(t *testing.T) {
	root := t.TempDir()
	scene := capturegen.DefaultScene()
	scene.CorruptPoses = []int{4}
	test.That(t, capturegen.WriteModern(root, scene), test.ShouldBeNil)
	idx, err := Load(context.Background(), root, logging.NewTestLogger(t), WithoutIndexWrite())
	test.That(t, err, test.ShouldBeNil)

	out := filepath.Join(root, "export", "transforms.json")
	n, err := WriteTransforms(idx, out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 9)

	raw, err := os.ReadFile(out)
	test.That(t, err, test.ShouldBeNil)
	var parsed cameraTransforms
	test.That(t, json.Unmarshal(raw, &parsed), test.ShouldBeNil)
	test.That(t, parsed.W, test.ShouldEqual, scene.Width)
	test.That(t, parsed.FlX, test.ShouldEqual, scene.Fx)
	test.That(t, len(parsed.Frames), test.ShouldEqual, 9)

	first := parsed.Frames[0]
	test.That(t, first.FilePath, test.ShouldEqual, "../color/frame_000000.png")
	test.That(t, first.DepthFilePath, test.ShouldEqual, "../depth/frame_000000.png")
	// a pure translation keeps its rotation and flips Z
	test.That(t, first.TransformMatrix[1][3], test.ShouldAlmostEqual, 1.6)
	test.That(t, first.TransformMatrix[2][2], test.ShouldAlmostEqual, 1.0)
	second := parsed.Frames[1]
	test.That(t, second.TransformMatrix[2][3], test.ShouldAlmostEqual, -scene.Step.Z)

	_, err = WriteTransforms(&Index{}, filepath.Join(root, "none.json"))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestWriteTransformsPerFrameIntrinsics(t *testing.T) {
	root := t.TempDir()
	left := &transform.PinholeCameraIntrinsics{Width: 32, Height: 24, Fx: 30, Fy: 31, Ppx: 15, Ppy: 12}
	right := &transform.PinholeCameraIntrinsics{Width: 32, Height: 24, Fx: 28, Fy: 29, Ppx: 17, Ppy: 11}
	frame := func(i int, camera string, intr *transform.PinholeCameraIntrinsics) Frame {
		return Frame{
			Index:      i,
			CameraID:   camera,
			Color:      rimage.ColorSource{Path: filepath.Join(root, camera, "color.png")},
			Depth:      rimage.DepthSource{Path: filepath.Join(root, camera, "depth.raw")},
			Pose:       spatialmath.IdentityMatrix4(),
			Intrinsics: intr,
		}
	}
	idx := &Index{Frames: []Frame{frame(0, "left", left), frame(0, "right", right), frame(1, "left", nil)}}

	out := filepath.Join(root, "transforms.json")
	n, err := WriteTransforms(idx, out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 3)

	raw, err := os.ReadFile(out)
	test.That(t, err, test.ShouldBeNil)
	var parsed cameraTransforms
	test.That(t, json.Unmarshal(raw, &parsed), test.ShouldBeNil)
	test.That(t, parsed.FlX, test.ShouldEqual, 30.0)
	test.That(t, parsed.Frames[0].FrameIntrinsics, test.ShouldBeNil)
	test.That(t, parsed.Frames[1].FrameIntrinsics, test.ShouldResemble,
		&FrameIntrinsics{FlX: 28, FlY: 29, Cx: 17, Cy: 11, W: 32, H: 24})
	test.That(t, parsed.Frames[2].FrameIntrinsics, test.ShouldBeNil)

	var frames struct {
		Frames []map[string]interface{} `json:"frames"`
	}
	test.That(t, json.Unmarshal(raw, &frames), test.ShouldBeNil)
	test.That(t, frames.Frames[0], test.ShouldNotContainKey, "fl_x")
	test.That(t, frames.Frames[1]["cx"], test.ShouldEqual, 17.0)

	idx.Frames[1].Intrinsics = &transform.PinholeCameraIntrinsics{Width: 32, Height: 24}
	_, err = WriteTransforms(idx, out)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestIndexSchema(t *testing.T) {
	schema, err := IndexSchema()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(schema), test.ShouldContainSubstring, "frames")
	test.That(t, string(schema), test.ShouldContainSubstring, "head_to_camera")
}
