// Package cli contains the depthfuse command line application.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"go.viam.com/depthfuse/pointcloud"
)

const (
	generalFlagConfig  = "config"
	generalFlagDebug   = "debug"
	generalFlagLogFile = "log-file"

	fuseFlagTestPath              = "testpath"
	fuseFlagTestList              = "testlist"
	fuseFlagScans                 = "scans"
	fuseFlagOutDir                = "outdir"
	fuseFlagMinConfidence         = "min-confidence"
	fuseFlagMinAgreeingViews      = "min-agreeing-views"
	fuseFlagMaxPixelDrift         = "max-pixel-drift"
	fuseFlagMaxRelativeDepthError = "max-relative-depth-error"
	fuseFlagIntrinsicsDivisor     = "intrinsics-divisor"
	fuseFlagImageMaxHeight        = "image-max-height"
	fuseFlagImageMaxWidth         = "image-max-width"
	fuseFlagFormat                = "format"
	fuseFlagOutputTemplate        = "output-template"
	fuseFlagParallelism           = "parallelism"
	fuseFlagWriteMasks            = "write-masks"
	fuseFlagDepthPreview          = "depth-preview"
	fuseFlagStats                 = "stats"
)

// NewApp returns a new app with the depthfuse commands, Writer set to out, and ErrWriter
// set to errOut. Logs go to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "depthfuse",
		Usage:           "fuse multi-view depth maps into point clouds",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    generalFlagConfig,
				Aliases: []string{"c"},
				Usage:   "load fusion settings from JSON `FILE`",
			},
			&cli.BoolFlag{
				Name:    generalFlagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.PathFlag{
				Name:  generalFlagLogFile,
				Usage: "also write logs to `FILE`, rotated every 100MB",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "fuse",
				Usage:     "fuse the depth maps of one or more scans",
				UsageText: "depthfuse fuse --testpath <dir> --outdir <dir> (--testlist <file> | --scans <scan>...) [other options]",
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:     fuseFlagTestPath,
						Required: true,
						Usage:    "directory holding one input directory per scan (cams, images, pair.txt)",
					},
					&cli.PathFlag{
						Name:  fuseFlagTestList,
						Usage: "file listing the scans to fuse, one per line",
					},
					&cli.StringSliceFlag{
						Name:  fuseFlagScans,
						Usage: "scans to fuse, in addition to the test list",
					},
					&cli.PathFlag{
						Name:     fuseFlagOutDir,
						Required: true,
						Usage:    "directory holding the estimated depth per scan; point clouds are written here",
					},
					&cli.Float64Flag{
						Name:  fuseFlagMinConfidence,
						Usage: "keep pixels whose confidence is above this",
					},
					&cli.IntFlag{
						Name:  fuseFlagMinAgreeingViews,
						Usage: "keep pixels confirmed by at least this many source views",
					},
					&cli.Float64Flag{
						Name:  fuseFlagMaxPixelDrift,
						Usage: "largest reprojection error in pixels for a source view to agree",
					},
					&cli.Float64Flag{
						Name:  fuseFlagMaxRelativeDepthError,
						Usage: "largest relative depth error for a source view to agree",
					},
					&cli.Float64Flag{
						Name:  fuseFlagIntrinsicsDivisor,
						Usage: "depth maps are this many times smaller than the calibrated images",
					},
					&cli.IntFlag{
						Name:  fuseFlagImageMaxHeight,
						Usage: "resize and crop color images to this height (0 disables)",
					},
					&cli.IntFlag{
						Name:  fuseFlagImageMaxWidth,
						Usage: "resize and crop color images to this width (0 disables)",
					},
					&cli.StringFlag{
						Name:  fuseFlagFormat,
						Usage: formatUsage(),
					},
					&cli.StringFlag{
						Name:  fuseFlagOutputTemplate,
						Usage: "point cloud file name per scan, {scan} is replaced by the scan name",
					},
					&cli.IntFlag{
						Name:  fuseFlagParallelism,
						Usage: "number of views processed concurrently (0 uses every CPU)",
					},
					&cli.BoolFlag{
						Name:  fuseFlagWriteMasks,
						Usage: "write photometric, geometric and final masks per view",
					},
					&cli.BoolFlag{
						Name:  fuseFlagDepthPreview,
						Usage: "write a colorized fused depth image per view",
					},
					&cli.BoolFlag{
						Name:  fuseFlagStats,
						Usage: "print a table of per view statistics for every fused scan",
					},
				},
				Action: FuseAction,
			},
			{
				Name:   "formats",
				Usage:  "list the supported point cloud formats",
				Action: FormatsAction,
			},
		},
	}
}

func formatUsage() string {
	usage := "point cloud format:"
	for _, f := range pointcloud.Formats {
		usage += " " + string(f)
	}
	return usage
}
