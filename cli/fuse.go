package cli

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"
	"go.viam.com/utils"
	"gopkg.in/natefinch/lumberjack.v2"

	"go.viam.com/depthfuse/fusion"
	"go.viam.com/depthfuse/logging"
	"go.viam.com/depthfuse/pointcloud"
)

// FuseAction fuses every requested scan and prints one summary line per written point cloud.
func FuseAction(c *cli.Context) error {
	logger, closeLog := newLogger(c)
	defer closeLog()

	cfg, err := configFromFlags(c)
	if err != nil {
		return err
	}
	scans, err := scansFromFlags(c)
	if err != nil {
		return err
	}

	p, err := fusion.NewPipeline(cfg, logger)
	if err != nil {
		return err
	}
	results, err := p.RunBatch(c.Context, c.Path(fuseFlagTestPath), c.Path(fuseFlagOutDir), scans)
	for _, res := range results {
		printf(c, "%s: %d points from %d views -> %s", res.Scan, res.Points, len(res.Views), res.OutputPath)
		if c.Bool(fuseFlagStats) {
			printf(c, "%s", statsTable(res))
		}
	}
	if err != nil {
		return errors.Wrapf(err, "%d of %d scans failed", len(scans)-len(results), len(scans))
	}
	return nil
}

// FormatsAction lists the point cloud formats a scan can be written in.
func FormatsAction(c *cli.Context) error {
	for _, f := range pointcloud.Formats {
		printf(c, "%s\t%s", f, f.Extension())
	}
	return nil
}

// newLogger logs to the app's error writer and, when requested, to a rotating log file. The
// returned func flushes and closes the outputs.
func newLogger(c *cli.Context) (logging.Logger, func()) {
	logger := logging.NewBlankLogger("depthfuse")
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if c.Bool(generalFlagDebug) {
		logger.SetLevel(zapcore.DebugLevel)
	} else {
		logger.SetLevel(zapcore.InfoLevel)
	}

	var closers []io.Closer
	if fn := c.Path(generalFlagLogFile); fn != "" {
		rotated := &lumberjack.Logger{
			Filename:   fn,
			MaxSize:    100,
			MaxBackups: 3,
		}
		logger.AddAppender(logging.NewWriterAppender(rotated))
		closers = append(closers, rotated)
	}
	return logger, func() {
		//nolint:errcheck
		logger.Sync()
		for _, closer := range closers {
			utils.UncheckedError(closer.Close())
		}
	}
}

func statsTable(res *fusion.ScanResult) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"View", "Sources", "Photo", "Geo", "Final", "Mean conf", "Median depth", "Points"})
	for _, vs := range res.Views {
		t.AppendRow(table.Row{
			vs.ID,
			vs.Sources,
			fmt.Sprintf("%.3f", vs.PhotoCoverage),
			fmt.Sprintf("%.3f", vs.GeoCoverage),
			fmt.Sprintf("%.3f", vs.FinalCoverage),
			fmt.Sprintf("%.3f", vs.MeanConfidence),
			fmt.Sprintf("%.2f", vs.MedianDepth),
			vs.Points,
		})
	}
	if len(res.DroppedViews) > 0 {
		t.AppendFooter(table.Row{"dropped", fmt.Sprint(res.DroppedViews)})
	}
	t.AppendFooter(table.Row{"total", "", "", "", "", "", "", res.Points})
	return t.Render()
}

// configFromFlags starts from the defaults, applies the config file and then any flag set on
// the command line.
func configFromFlags(c *cli.Context) (fusion.Config, error) {
	cfg := fusion.DefaultConfig()
	if path := c.Path(generalFlagConfig); path != "" {
		loaded, err := fusion.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	if c.IsSet(fuseFlagMinConfidence) {
		cfg.MinConfidence = c.Float64(fuseFlagMinConfidence)
	}
	if c.IsSet(fuseFlagMinAgreeingViews) {
		cfg.MinAgreeingViews = c.Int(fuseFlagMinAgreeingViews)
	}
	if c.IsSet(fuseFlagMaxPixelDrift) {
		cfg.MaxPixelDrift = c.Float64(fuseFlagMaxPixelDrift)
	}
	if c.IsSet(fuseFlagMaxRelativeDepthError) {
		cfg.MaxRelativeDepthError = c.Float64(fuseFlagMaxRelativeDepthError)
	}
	if c.IsSet(fuseFlagIntrinsicsDivisor) {
		cfg.IntrinsicsDivisor = c.Float64(fuseFlagIntrinsicsDivisor)
	}
	if c.IsSet(fuseFlagImageMaxHeight) {
		cfg.ImageMaxHeight = c.Int(fuseFlagImageMaxHeight)
	}
	if c.IsSet(fuseFlagImageMaxWidth) {
		cfg.ImageMaxWidth = c.Int(fuseFlagImageMaxWidth)
	}
	if c.IsSet(fuseFlagFormat) {
		format, err := pointcloud.ParseFormat(c.String(fuseFlagFormat))
		if err != nil {
			return cfg, err
		}
		cfg.OutputFormat = format
		if !c.IsSet(fuseFlagOutputTemplate) {
			cfg.OutputTemplate = fusion.ScanPlaceholder + format.Extension()
		}
	}
	if c.IsSet(fuseFlagOutputTemplate) {
		cfg.OutputTemplate = c.String(fuseFlagOutputTemplate)
	}
	if c.IsSet(fuseFlagParallelism) {
		cfg.Parallelism = c.Int(fuseFlagParallelism)
	}
	if c.IsSet(fuseFlagWriteMasks) {
		cfg.WriteMasks = c.Bool(fuseFlagWriteMasks)
	}
	if c.IsSet(fuseFlagDepthPreview) {
		cfg.WriteDepthPreview = c.Bool(fuseFlagDepthPreview)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "invalid flags")
	}
	return cfg, nil
}

func scansFromFlags(c *cli.Context) ([]string, error) {
	var scans []string
	if fn := c.Path(fuseFlagTestList); fn != "" {
		listed, err := fusion.ReadScanList(fn)
		if err != nil {
			return nil, err
		}
		scans = append(scans, listed...)
	}
	scans = lo.Uniq(append(scans, c.StringSlice(fuseFlagScans)...))
	if len(scans) == 0 {
		return nil, errors.Errorf("no scans to fuse, pass --%s or --%s", fuseFlagTestList, fuseFlagScans)
	}
	return scans, nil
}

func printf(c *cli.Context, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(c.App.Writer, format+"\n", a...)
}
