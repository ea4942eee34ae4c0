// Package cli contains the questgear command line actions.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	// Global flags.
	flagConfig   = "config"
	flagDebug    = "debug"
	flagLogFile  = "log-file"
	flagLogLevel = "log-level"

	// Command flags.
	flagOut               = "out"
	flagWorkers           = "workers"
	flagVoxelSize         = "voxel-size"
	flagStartFrame        = "start-frame"
	flagEndFrame          = "end-frame"
	flagFrameInterval     = "frame-interval"
	flagStereo            = "stereo"
	flagMonocularFallback = "monocular-fallback"
	flagNoExport          = "no-export"
	flagNoProgress        = "no-progress"
	flagLenient           = "lenient"
	flagEncoding          = "encoding"
	flagWidth             = "width"
	flagHeight            = "height"
	flagNear              = "near"
	flagFar               = "far"
	flagUnitScale         = "unit-scale"
)

var app = &cli.App{
	Name:            "questgear",
	Usage:           "reconstruct meshes from Quest RGB-D captures",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.PathFlag{
			Name:    flagConfig,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.BoolFlag{
			Name:    flagDebug,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.PathFlag{
			Name:  flagLogFile,
			Usage: "also write logs to a size rotated `FILE`",
		},
		&cli.StringFlag{
			Name:  flagLogLevel,
			Usage: "log `LEVEL` (debug, info, warn or error), overridden by --debug",
		},
	},
	Before: setupLogging,
	After:  closeLogging,
	Commands: []*cli.Command{
		{
			Name:      "reconstruct",
			Usage:     "fuse a capture into a colored mesh and export it",
			ArgsUsage: "<capture-root>",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:  flagOut,
					Usage: "export directory, defaults to Export/ inside the capture",
				},
				&cli.IntFlag{
					Name:  flagWorkers,
					Usage: "number of frame sets decoded in parallel",
				},
				&cli.Float64Flag{
					Name:  flagVoxelSize,
					Usage: "voxel edge length in meters",
				},
				&cli.IntFlag{
					Name:  flagStartFrame,
					Usage: "first frame set to integrate",
				},
				&cli.IntFlag{
					Name:  flagEndFrame,
					Usage: "frame set to stop before, 0 for the end of the capture",
				},
				&cli.IntFlag{
					Name:  flagFrameInterval,
					Usage: "integrate every n-th frame set",
				},
				&cli.BoolFlag{
					Name:  flagStereo,
					Usage: "integrate both eyes of legacy captures",
				},
				&cli.BoolFlag{
					Name:  flagMonocularFallback,
					Usage: "estimate depth from color when device depth is unusable",
				},
				&cli.BoolFlag{
					Name:  flagNoExport,
					Usage: "do not write any artifacts",
				},
				&cli.BoolFlag{
					Name:  flagNoProgress,
					Usage: "do not show progress",
				},
			},
			Action: createCommandWithT[reconstructArgs](ReconstructAction),
		},
		{
			Name:      "adapt",
			Usage:     "write the canonical frame index of a capture",
			ArgsUsage: "<capture-root>",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:  flagOut,
					Usage: "index path, defaults to frames.json inside the capture",
				},
				&cli.BoolFlag{
					Name:  flagLenient,
					Usage: "truncate legacy captures whose pose and image counts disagree",
				},
			},
			Action: createCommandWithT[adaptArgs](AdaptAction),
		},
		{
			Name:      "export-transforms",
			Usage:     "write camera transforms in the OpenGL convention for radiance field trainers",
			ArgsUsage: "<capture-root>",
			Flags: []cli.Flag{
				&cli.PathFlag{
					Name:  flagOut,
					Usage: "output path, defaults to transforms.json in the export directory",
				},
			},
			Action: createCommandWithT[exportTransformsArgs](ExportTransformsAction),
		},
		{
			Name:      "inspect-depth",
			Usage:     "print statistics and the usability verdict of one depth file",
			ArgsUsage: "<depth-file>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  flagEncoding,
					Usage: "float32, float32_ndc, uint16 or png16; guessed from the extension when empty",
				},
				&cli.IntFlag{
					Name:  flagWidth,
					Usage: "buffer width for raw encodings, square when unset",
				},
				&cli.IntFlag{
					Name:  flagHeight,
					Usage: "buffer height for raw encodings, square when unset",
				},
				&cli.Float64Flag{
					Name:  flagNear,
					Usage: "near plane in meters for float32_ndc",
					Value: 0.1,
				},
				&cli.Float64Flag{
					Name:  flagFar,
					Usage: "far plane in meters for float32_ndc, 0 for an infinite far plane",
				},
				&cli.Float64Flag{
					Name:  flagUnitScale,
					Usage: "meters per unit for integer encodings",
				},
			},
			Action: createCommandWithT[inspectDepthArgs](InspectDepthAction),
		},
		{
			Name:      "generate-depth",
			Usage:     "estimate monocular depth for every frame of a capture",
			ArgsUsage: "<capture-root>",
			Action:    GenerateDepthAction,
		},
		{
			Name:      "compare-meshes",
			Usage:     "measure the mean vertex distance between two PLY meshes",
			ArgsUsage: "<a.ply> <b.ply>",
			Action:    CompareMeshesAction,
		},
		{
			Name:   "schema",
			Usage:  "print the JSON schema of the canonical frame index",
			Action: SchemaAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
