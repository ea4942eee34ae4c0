package cli

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/mejkerslab/questgear3d/reconstruction"
)

type reconstructArgs struct {
	Out        string `flag:"out"`
	NoExport   bool   `flag:"no-export"`
	NoProgress bool   `flag:"no-progress"`
}

// reconstructOverrides maps reconstruct flags to the config fields they override.
var reconstructOverrides = map[string]string{
	flagWorkers:           "workers",
	flagVoxelSize:         "voxel_size",
	flagStartFrame:        "start_frame",
	flagEndFrame:          "end_frame",
	flagFrameInterval:     "frame_interval",
	flagStereo:            "stereo_enabled",
	flagMonocularFallback: "monocular_fallback",
}

// flagOverrides collects the explicitly set flags among keys as config attributes.
func flagOverrides(c *cli.Context, keys map[string]string) map[string]interface{} {
	out := map[string]interface{}{}
	for name, key := range keys {
		if c.IsSet(name) {
			out[key] = c.Value(name)
		}
	}
	return out
}

// ReconstructAction is the corresponding action for 'reconstruct'.
func ReconstructAction(c *cli.Context, args reconstructArgs) error {
	pos, err := requireArgs(c, "capture-root")
	if err != nil {
		return err
	}
	root := pos[0]

	overrides := flagOverrides(c, reconstructOverrides)
	if args.Out != "" {
		overrides["export"] = map[string]interface{}{"dir": args.Out}
	}
	cfg, err := loadConfig(c, overrides)
	if err != nil {
		return err
	}
	logger := loggerFromContext(c)

	var opts []reconstruction.Option
	if args.NoExport {
		opts = append(opts, reconstruction.WithoutExport())
	}

	pm := NewProgressManager(c.App.Writer, []*Step{
		{ID: "run", Message: fmt.Sprintf("Reconstructing %s", root), IndentLevel: 0},
		{ID: "load", Message: "Loading capture", IndentLevel: 1},
		{ID: "integrate", Message: "Integrating frame sets", CompletedMsg: "Extracted mesh", IndentLevel: 1},
		{ID: "export", Message: "Exporting artifacts", IndentLevel: 1},
	}, WithProgressOutput(!args.NoProgress))
	defer pm.Stop()
	if err := pm.Start("run"); err != nil {
		return err
	}
	if err := pm.Start("load"); err != nil {
		return err
	}

	runner := reconstruction.Start(c.Context, root, cfg, logger, opts...)
	defer runner.Close()
	for e := range runner.Events() {
		switch e.Kind {
		case reconstruction.EventStarted:
			_ = pm.CompleteWithMessage("load", fmt.Sprintf("Loaded %d frame sets", e.Total)) //nolint:errcheck
			_ = pm.Start("integrate")                                                          //nolint:errcheck
		case reconstruction.EventProgress:
			pm.UpdateText(fmt.Sprintf("Integrating frame sets (%d/%d)", e.Processed, e.Total))
		case reconstruction.EventFrameSkipped:
			logger.Debugw("skipped frame", "frame", e.FrameIndex, "camera", e.CameraID, "reason", e.Reason)
		case reconstruction.EventFinished:
			_ = pm.Complete("integrate") //nolint:errcheck
			if !args.NoExport {
				_ = pm.Start("export") //nolint:errcheck
			}
		}
	}
	res, err := runner.Wait()
	if err != nil {
		pm.Fail(err)
		return err
	}
	if res.Artifacts != nil {
		_ = pm.CompleteWithMessage("export", "Exported to "+res.Artifacts.Dir) //nolint:errcheck
	}
	_ = pm.Complete("run") //nolint:errcheck

	printf(c.App.Writer, "%s", summaryTable(res.Summary))
	if res.Artifacts != nil {
		printf(c.App.Writer, "%s", artifactsTable(res.Artifacts))
	}
	if res.Summary.NoGeometry {
		warningf(c.App.Writer, "no frame was integrated, so no mesh was written")
	}
	return nil
}

func summaryTable(s reconstruction.Summary) string {
	t := table.NewWriter()
	t.SetTitle("Run %s", s.RunID)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"format", s.Format},
		{"frame sets", s.FrameSets},
		{"views", s.Views},
		{"integrated", s.Integrated},
		{"monocular fallbacks", s.MonocularFallbacks},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"empty depth", s.Empty},
		{"degenerate depth", s.Degenerate},
		{"decode failures", s.DecodeFailures},
		{"pose failures", s.PoseFailures},
		{"skipped", s.Skipped()},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"vertices", s.Vertices},
		{"triangles", s.Triangles},
		{"duration", s.Duration.Round(time.Millisecond)},
	})
	return t.Render()
}

func artifactsTable(a *reconstruction.Artifacts) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Artifact", "Path"})
	for _, row := range []struct{ name, path string }{
		{"mesh", a.Mesh},
		{"preview", a.Preview},
		{"trajectory", a.Trajectory},
		{"summary", a.Summary},
	} {
		if row.path != "" {
			t.AppendRow(table.Row{row.name, row.path})
		}
	}
	return t.Render()
}
