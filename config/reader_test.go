package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Validate(""), test.ShouldBeNil)
	test.That(t, cfg.TruncationDistance(), test.ShouldAlmostEqual, 0.08)
	test.That(t, cfg.ExportDir("/data/scan"), test.ShouldEqual, filepath.Join("/data/scan", "Export"))
}

func TestFromReaderValidate(t *testing.T) {
	_, err := FromReader("somepath", strings.NewReader(""))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "EOF")

	_, err = FromReader("somepath", strings.NewReader(`{"voxel_size": "big"}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unmarshal")

	_, err = FromReader("somepath", strings.NewReader(`{"voxels": 1}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown field")

	conf, err := FromReader("somepath", strings.NewReader(`{}`))
	test.That(t, err, test.ShouldBeNil)
	expected := Default()
	expected.ConfigFilePath = "somepath"
	test.That(t, conf, test.ShouldResemble, expected)

	_, err = FromReader("somepath", strings.NewReader(`{"decimation_ratio": 1.5}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "decimation_ratio")

	_, err = FromReader("somepath", strings.NewReader(`{"capacity_policy": ""}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, `"capacity_policy" is required`)

	_, err = FromReader("somepath", strings.NewReader(`{"export": {"mesh_format": "stl"}}`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "export.mesh_format")

	conf, err = FromReader("somepath", strings.NewReader(`{"voxel_size": 0.02, "bilateral": {"diameter": 7}}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.VoxelSize, test.ShouldEqual, 0.02)
	test.That(t, conf.Bilateral.Diameter, test.ShouldEqual, 7)
	test.That(t, conf.Bilateral.SigmaDepth, test.ShouldEqual, Default().Bilateral.SigmaDepth)
}

func TestReadSubstitutesEnv(t *testing.T) {
	t.Setenv("QG_EXPORT_DIR", "/tmp/qg-out")
	path := filepath.Join(t.TempDir(), "config.json")
	err := os.WriteFile(path, []byte(`{"export": {"dir": "${QG_EXPORT_DIR}"}, "stereo_enabled": true}`), 0o600)
	test.That(t, err, test.ShouldBeNil)

	conf, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.Export.Dir, test.ShouldEqual, "/tmp/qg-out")
	test.That(t, conf.StereoEnabled, test.ShouldBeTrue)
	test.That(t, conf.ConfigFilePath, test.ShouldEqual, path)
	test.That(t, conf.ExportDir("/ignored"), test.ShouldEqual, "/tmp/qg-out")
}

func TestFromAttributes(t *testing.T) {
	conf, err := FromAttributes(map[string]interface{}{
		"voxel_size":     "0.005",
		"stereo_enabled": true,
		"frame_interval": 2,
		"validation":     map[string]interface{}{"min_distinct_values": "4"},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.VoxelSize, test.ShouldEqual, 0.005)
	test.That(t, conf.StereoEnabled, test.ShouldBeTrue)
	test.That(t, conf.FrameInterval, test.ShouldEqual, 2)
	test.That(t, conf.Validation.MinDistinctValues, test.ShouldEqual, 4)
	test.That(t, conf.Validation.MinValidFraction, test.ShouldEqual, 0.01)

	_, err = FromAttributes(map[string]interface{}{"not_a_field": 1})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = FromAttributes(map[string]interface{}{"frame_interval": 0})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "frame_interval")
}

func TestMerge(t *testing.T) {
	base := Default()
	merged, err := base.Merge(map[string]interface{}{"workers": 4, "end_frame": 10, "start_frame": 2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, merged.Workers, test.ShouldEqual, 4)
	test.That(t, merged.StartFrame, test.ShouldEqual, 2)
	test.That(t, base.Workers, test.ShouldEqual, 1)

	_, err = base.Merge(map[string]interface{}{"end_frame": 1, "start_frame": 2})
	test.That(t, err, test.ShouldNotBeNil)
}
