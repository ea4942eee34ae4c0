package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/mejkerslab/questgear3d/capture"
	"github.com/mejkerslab/questgear3d/monodepth"
	"github.com/mejkerslab/questgear3d/preprocess"
	"github.com/mejkerslab/questgear3d/rimage"
)

type inspectDepthArgs struct {
	Encoding  string  `flag:"encoding"`
	Width     int     `flag:"width"`
	Height    int     `flag:"height"`
	Near      float64 `flag:"near"`
	Far       float64 `flag:"far"`
	UnitScale float64 `flag:"unit-scale"`
}

// guessDepthEncoding picks an encoding from the file extension.
func guessDepthEncoding(path string) rimage.DepthEncoding {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return rimage.DepthPNG16
	case ".u16":
		return rimage.DepthUint16Raw
	default:
		return rimage.DepthFloat32Raw
	}
}

// InspectDepthAction is the corresponding action for 'inspect-depth'.
func InspectDepthAction(c *cli.Context, args inspectDepthArgs) error {
	pos, err := requireArgs(c, "depth-file")
	if err != nil {
		return err
	}
	path := pos[0]
	cfg, err := loadConfig(c, nil)
	if err != nil {
		return err
	}

	src := rimage.DepthSource{
		Path:      path,
		Encoding:  rimage.DepthEncoding(args.Encoding),
		Width:     args.Width,
		Height:    args.Height,
		Near:      args.Near,
		Far:       args.Far,
		UnitScale: args.UnitScale,
	}
	if src.Encoding == "" {
		src.Encoding = guessDepthEncoding(path)
	}
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading %q", path)
	}
	// no range check so the statistics show what the file holds
	dm, err := rimage.DecodeDepthBytes(data, src, rimage.DepthOptions{UnitScale: cfg.DepthUnitScale})
	if err != nil {
		return errors.Wrapf(err, "decoding %q as %s", path, src.Encoding)
	}

	stats := rimage.ComputeDepthStats(dm)
	report := rimage.ClassifyDepth(dm, rimage.ValidationThresholds{
		MinValidFraction:  cfg.Validation.MinValidFraction,
		MinDistinctValues: cfg.Validation.MinDistinctValues,
	})

	t := table.NewWriter()
	t.SetTitle(filepath.Base(path))
	t.AppendRows([]table.Row{
		{"encoding", src.Encoding},
		{"file size", units.HumanSize(float64(len(data)))},
		{"size", fmt.Sprintf("%dx%d", dm.Width(), dm.Height())},
	})
	if src.Encoding == rimage.DepthFloat32Raw || src.Encoding == rimage.DepthFloat32NDC {
		// the error was already reported by the decode above
		raw, _ := rimage.Float32Samples(data)
		rs := rimage.CountRawSamples(raw)
		t.AppendSeparator()
		t.AppendRows([]table.Row{
			{"NaN", rs.NaN},
			{"+Inf", rs.PosInf},
			{"-Inf", rs.NegInf},
			{"zero", rs.Zero},
			{"negative", rs.Negative},
		})
	}
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"valid", stats.Count},
		{"invalid", stats.InvalidCount},
		{"distinct", stats.DistinctCount},
	})
	if stats.Count > 0 {
		t.AppendRows([]table.Row{
			{"min", fmt.Sprintf("%.4f m", stats.Min)},
			{"max", fmt.Sprintf("%.4f m", stats.Max)},
			{"mean", fmt.Sprintf("%.4f m", stats.Mean)},
			{"median", fmt.Sprintf("%.4f m", stats.Median)},
			{"p95", fmt.Sprintf("%.4f m", stats.P95)},
			{"stddev", fmt.Sprintf("%.4f m", stats.StdDev)},
		})
	}
	t.AppendSeparator()
	verdict := report.Verdict.String()
	if report.Reason != "" {
		verdict += " (" + report.Reason + ")"
	}
	t.AppendRow(table.Row{"verdict", verdict})
	printf(c.App.Writer, "%s", t.Render())
	return nil
}

// GenerateDepthAction is the corresponding action for 'generate-depth'.
func GenerateDepthAction(c *cli.Context) error {
	pos, err := requireArgs(c, "capture-root")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c, nil)
	if err != nil {
		return err
	}
	logger := loggerFromContext(c)
	// an index written now would point at device depth
	idx, err := capture.Load(c.Context, pos[0], logger,
		capture.WithoutIndexWrite(), capture.WithDepthUnitScale(cfg.DepthUnitScale))
	if err != nil {
		return err
	}
	est := monodepth.NewGradientEstimatorFromConfig(cfg)
	n, err := monodepth.GenerateForCapture(c.Context, idx, est, preprocess.OptionsFromConfig(cfg).Color, logger)
	if err != nil {
		return err
	}
	if n < idx.Len() {
		warningf(c.App.ErrWriter, "%d frame(s) had no decodable color and were left without depth", idx.Len()-n)
	}
	printf(c.App.Writer, "wrote %d depth maps to %s", n, filepath.Join(idx.Root, capture.MonocularDepthDir))
	return nil
}
