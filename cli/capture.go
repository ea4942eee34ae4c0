package cli

import (
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/mejkerslab/questgear3d/capture"
)

type adaptArgs struct {
	Out     string `flag:"out"`
	Lenient bool   `flag:"lenient"`
}

// AdaptAction is the corresponding action for 'adapt'.
func AdaptAction(c *cli.Context, args adaptArgs) error {
	pos, err := requireArgs(c, "capture-root")
	if err != nil {
		return err
	}
	opts := []capture.LoadOption{capture.WithoutIndexWrite()}
	if args.Lenient {
		opts = append(opts, capture.WithLenientPoseCount())
	}
	cfg, err := loadConfig(c, nil)
	if err != nil {
		return err
	}
	opts = append(opts, capture.WithDepthUnitScale(cfg.DepthUnitScale))

	idx, err := capture.Load(c.Context, pos[0], loggerFromContext(c), opts...)
	if err != nil {
		return err
	}
	out := args.Out
	if out == "" {
		out = filepath.Join(idx.Root, capture.IndexFile)
	}
	out, err = filepath.Abs(out)
	if err != nil {
		return err
	}
	// frame paths are stored relative to the index file
	rebased := *idx
	rebased.Root = filepath.Dir(out)
	if err := capture.WriteIndex(&rebased, out); err != nil {
		return err
	}

	t := table.NewWriter()
	t.AppendRows([]table.Row{
		{"format", idx.Format},
		{"frames", idx.Len()},
		{"frame sets", len(idx.Groups())},
		{"cameras", cameraList(idx)},
		{"index", out},
	})
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

func cameraList(idx *capture.Index) []string {
	return lo.Compact(lo.Uniq(lo.Map(idx.Frames, func(f capture.Frame, _ int) string {
		return f.CameraID
	})))
}

type exportTransformsArgs struct {
	Out string `flag:"out"`
}

// ExportTransformsAction is the corresponding action for 'export-transforms'.
func ExportTransformsAction(c *cli.Context, args exportTransformsArgs) error {
	pos, err := requireArgs(c, "capture-root")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c, nil)
	if err != nil {
		return err
	}
	idx, err := capture.Load(c.Context, pos[0], loggerFromContext(c),
		capture.WithoutIndexWrite(), capture.WithDepthUnitScale(cfg.DepthUnitScale))
	if err != nil {
		return err
	}

	out := args.Out
	if out == "" {
		out = filepath.Join(cfg.ExportDir(idx.Root), capture.TransformsFile)
	}
	same, err := samePath(out, filepath.Join(idx.Root, capture.TransformsFile))
	if err != nil {
		return err
	}
	if same && idx.Format == capture.FormatModern {
		return errors.Errorf("refusing to overwrite the camera parameters of the capture at %q", out)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return errors.Wrapf(err, "creating %q", filepath.Dir(out))
	}
	n, err := capture.WriteTransforms(idx, out)
	if err != nil {
		return err
	}
	if skipped := idx.Len() - n; skipped > 0 {
		warningf(c.App.ErrWriter, "left out %d frame(s) without a valid pose", skipped)
	}
	printf(c.App.Writer, "wrote %d camera transforms to %s", n, out)
	return nil
}

// SchemaAction is the corresponding action for 'schema'.
func SchemaAction(c *cli.Context) error {
	schema, err := capture.IndexSchema()
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", schema)
	return nil
}
