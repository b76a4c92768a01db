package fusion

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/depthfuse/logging"
	"go.viam.com/depthfuse/pointcloud"
	"go.viam.com/depthfuse/rimage"
	"go.viam.com/depthfuse/rimage/transform"
	"go.viam.com/depthfuse/utils"
)

const depthHistogramBins = 10

// Scan locates the inputs and outputs of one scan:
//
//	<InputDir>/pair.txt
//	<InputDir>/cams/<id>_cam.txt
//	<InputDir>/images/<id>.jpg
//	<DepthDir>/depth_est_0/<id>.pfm
//	<DepthDir>/confidence_0/<id>.pfm
//	<DepthDir>/mask/<id>_{photo,geo,final,depth}.png
//
// where <id> is the view id zero padded to 8 digits.
type Scan struct {
	Name       string
	InputDir   string
	DepthDir   string
	OutputPath string
}

// PairPath returns the pair file of the scan.
func (s Scan) PairPath() string {
	return filepath.Join(s.InputDir, "pair.txt")
}

// CameraPath returns the camera file of view id.
func (s Scan) CameraPath(id int) string {
	return filepath.Join(s.InputDir, "cams", fmt.Sprintf("%08d_cam.txt", id))
}

// ImagePath returns the color image of view id.
func (s Scan) ImagePath(id int) string {
	return filepath.Join(s.InputDir, "images", fmt.Sprintf("%08d.jpg", id))
}

// DepthPath returns the estimated depth of view id.
func (s Scan) DepthPath(id int) string {
	return filepath.Join(s.DepthDir, "depth_est_0", fmt.Sprintf("%08d.pfm", id))
}

// ConfidencePath returns the photometric confidence of view id.
func (s Scan) ConfidencePath(id int) string {
	return filepath.Join(s.DepthDir, "confidence_0", fmt.Sprintf("%08d.pfm", id))
}

// MaskPath returns where a diagnostic image of view id is written; kind is photo, geo, final
// or depth.
func (s Scan) MaskPath(id int, kind string) string {
	return filepath.Join(s.DepthDir, "mask", fmt.Sprintf("%08d_%s.png", id, kind))
}

// ViewStats summarizes one fused reference view.
type ViewStats struct {
	ID             int
	Sources        int
	MeanConfidence float64
	MedianDepth    float64
	PhotoCoverage  float64
	GeoCoverage    float64
	FinalCoverage  float64
	Points         int
}

// ScanResult summarizes a written scan.
type ScanResult struct {
	Scan         string
	OutputPath   string
	Points       int
	Views        []ViewStats
	DroppedViews []int
}

// Pipeline turns depth and confidence maps of calibrated views into one point cloud per scan.
type Pipeline struct {
	cfg    Config
	logger logging.Logger
}

// NewPipeline validates cfg and returns a pipeline logging to logger.
func NewPipeline(cfg Config, logger logging.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{cfg: cfg, logger: logger}, nil
}

// NewScan lays out scan name with inputs under testPath and outputs under outDir.
func (p *Pipeline) NewScan(testPath, outDir, name string) (Scan, error) {
	inputDir, err := utils.SafeJoinDir(testPath, name)
	if err != nil {
		return Scan{}, err
	}
	depthDir, err := utils.SafeJoinDir(outDir, name)
	if err != nil {
		return Scan{}, err
	}
	outputPath, err := utils.SafeJoinDir(outDir, p.cfg.OutputName(name))
	if err != nil {
		return Scan{}, err
	}
	return Scan{Name: name, InputDir: inputDir, DepthDir: depthDir, OutputPath: outputPath}, nil
}

// RunBatch runs each scan in turn. A failed scan is logged and skipped; all failures are
// returned together once every scan has been attempted.
func (p *Pipeline) RunBatch(ctx context.Context, testPath, outDir string, scans []string) ([]*ScanResult, error) {
	var results []*ScanResult
	var errs error
	for _, name := range scans {
		if err := ctx.Err(); err != nil {
			return results, multierr.Combine(errs, err)
		}
		scan, err := p.NewScan(testPath, outDir, name)
		if err != nil {
			p.logger.Errorw("skipping scan", "scan", name, "error", err)
			errs = multierr.Combine(errs, errors.Wrapf(err, "scan %s", name))
			continue
		}
		res, err := p.RunScan(ctx, scan)
		if err != nil {
			p.logger.Errorw("scan failed", "scan", name, "error", err)
			errs = multierr.Combine(errs, errors.Wrapf(err, "scan %s", name))
			continue
		}
		results = append(results, res)
	}
	return results, errs
}

type loadedView struct {
	*View
	color *image.NRGBA
}

// RunScan fuses every reference view of scan and writes the concatenated cloud. Nothing is
// written unless every reference view succeeds.
func (p *Pipeline) RunScan(ctx context.Context, scan Scan) (*ScanResult, error) {
	ctx, span := trace.StartSpan(ctx, "fusion::RunScan")
	defer span.End()
	span.AddAttributes(trace.StringAttribute("scan", scan.Name))

	logger := p.logger.Sublogger(scan.Name)
	start := time.Now()

	pairs, err := ReadPairFile(scan.PairPath())
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, NewIOError(scan.PairPath(), errors.New("no view has any source view"))
	}
	logger.Debugw("read pairs", "refs", len(pairs), "views", len(ViewIDs(pairs)))

	refIDs := lo.Map(pairs, func(vp ViewPair, _ int) int { return vp.Ref })
	views, dropped, err := p.loadViews(ctx, scan, ViewIDs(pairs), refIDs, logger)
	if err != nil {
		return nil, err
	}

	refs := lo.Filter(pairs, func(vp ViewPair, _ int) bool {
		_, ok := views[vp.Ref]
		return ok
	})
	slices.SortStableFunc(refs, func(a, b ViewPair) int { return a.Ref - b.Ref })

	workers := min(p.cfg.parallelism(), len(refs))
	inner := p.cfg
	if workers > 0 {
		inner.Parallelism = max(1, p.cfg.parallelism()/workers)
	}

	clouds := make([]pointcloud.PointCloud, len(refs))
	stats := make([]ViewStats, len(refs))
	fusedViews := make([]*FusedView, len(refs))
	err = utils.ForEachParallel(ctx, len(refs), workers, func(ctx context.Context, i int) error {
		ref := views[refs[i].Ref]
		var sources []*View
		for _, id := range refs[i].Sources {
			if src, ok := views[id]; ok {
				sources = append(sources, src.View)
			}
		}
		pc, st, fused, err := p.processView(ctx, scan, ref, sources, inner, logger)
		if err != nil {
			return err
		}
		clouds[i] = pc
		stats[i] = st
		if p.cfg.WriteMasks {
			fusedViews[i] = fused
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// diagnostics are only written once every reference view succeeded and are removed again
	// if the cloud cannot be saved
	var diagnostics []string
	if p.cfg.WriteMasks {
		for _, fused := range fusedViews {
			written, err := p.writeDiagnostics(scan, fused)
			diagnostics = append(diagnostics, written...)
			if err != nil {
				removeFiles(diagnostics)
				return nil, err
			}
		}
	}

	cloud := pointcloud.Concat(clouds...)
	if err := utils.ReplaceFileAtomic(scan.OutputPath, func(tmpPath string) error {
		return pointcloud.WriteToFile(cloud, tmpPath, p.cfg.OutputFormat)
	}); err != nil {
		removeFiles(diagnostics)
		return nil, NewIOError(scan.OutputPath, err)
	}
	logger.Infow("saved point cloud", "file", scan.OutputPath, "points", cloud.Size(),
		"refs", len(refs), "dropped", dropped, "took", time.Since(start))

	return &ScanResult{
		Scan:         scan.Name,
		OutputPath:   scan.OutputPath,
		Points:       cloud.Size(),
		Views:        stats,
		DroppedViews: dropped,
	}, nil
}

// loadViews reads cameras, depth and confidence of every view, and color images of the
// reference views, one file at a time. Views with a singular camera are dropped and reported;
// any other failure aborts the scan.
func (p *Pipeline) loadViews(
	ctx context.Context,
	scan Scan,
	ids, refIDs []int,
	logger logging.Logger,
) (map[int]*loadedView, []int, error) {
	_, span := trace.StartSpan(ctx, "fusion::loadViews")
	defer span.End()

	views := make(map[int]*loadedView, len(ids))
	var dropped []int
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		camPath := scan.CameraPath(id)
		cam, err := transform.ReadCameraFile(camPath, p.cfg.IntrinsicsDivisor)
		if err != nil {
			if errors.Is(err, transform.ErrSingularMatrix) {
				logger.Errorw("dropping view", "view", id, "error", NewGeometryError(id, err))
				dropped = append(dropped, id)
				continue
			}
			return nil, nil, NewIOError(camPath, err)
		}
		depth, err := rimage.ReadPFMFile(scan.DepthPath(id))
		if err != nil {
			return nil, nil, NewIOError(scan.DepthPath(id), err)
		}
		confidence, err := rimage.ReadPFMFile(scan.ConfidencePath(id))
		if err != nil {
			return nil, nil, NewIOError(scan.ConfidencePath(id), err)
		}
		if !depth.SameSize(confidence) {
			return nil, nil, NewIOError(scan.ConfidencePath(id),
				errors.Errorf("confidence is %v but depth is %v", confidence.Bounds(), depth.Bounds()))
		}
		views[id] = &loadedView{View: &View{ID: id, Camera: cam, Depth: depth, Confidence: confidence}}
	}
	for _, id := range refIDs {
		lv, ok := views[id]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		img, err := rimage.ReadImageResizeCrop(scan.ImagePath(id), p.cfg.resizeCrop())
		if err != nil {
			return nil, nil, NewIOError(scan.ImagePath(id), err)
		}
		lv.color = img
	}
	return views, dropped, nil
}

func (p *Pipeline) processView(
	ctx context.Context,
	scan Scan,
	ref *loadedView,
	sources []*View,
	cfg Config,
	logger logging.Logger,
) (pointcloud.PointCloud, ViewStats, *FusedView, error) {
	fused, err := FuseView(ctx, ref.View, sources, cfg)
	if err != nil {
		return nil, ViewStats{}, nil, err
	}
	pc, err := BuildPoints(fused, ref.Camera, ref.color, cfg)
	if err != nil {
		return nil, ViewStats{}, nil, NewIOError(scan.ImagePath(ref.ID), err)
	}

	st := ViewStats{
		ID:             ref.ID,
		Sources:        fused.Sources,
		MeanConfidence: ref.Confidence.Mean(),
		MedianDepth:    fused.Depth.Median(fused.FinalMask),
		PhotoCoverage:  fused.PhotoMask.Coverage(),
		GeoCoverage:    fused.GeoMask.Coverage(),
		FinalCoverage:  fused.FinalMask.Coverage(),
		Points:         pc.Size(),
	}
	logger.Infow("fused view",
		"view", st.ID,
		"sources", st.Sources,
		"photo", st.PhotoCoverage,
		"geo", st.GeoCoverage,
		"final", st.FinalCoverage,
		"mean_confidence", st.MeanConfidence,
		"median_depth", st.MedianDepth,
		"points", st.Points)
	if hist, ok := fused.Depth.Histogram(fused.FinalMask, depthHistogramBins); ok {
		logger.Debugw("fused depth histogram",
			"view", st.ID,
			"from", hist.Buckets[0].Min,
			"to", hist.Buckets[len(hist.Buckets)-1].Max,
			"counts", lo.Map(hist.Buckets, func(b histogram.Bucket, _ int) int { return b.Count }))
	}
	return pc, st, fused, nil
}

// writeDiagnostics saves the masks of one fused view and returns the files it wrote, including
// when it fails part way.
func (p *Pipeline) writeDiagnostics(scan Scan, fused *FusedView) ([]string, error) {
	dir := filepath.Dir(scan.MaskPath(fused.ID, "final"))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, NewIOError(dir, err)
	}
	var written []string
	for _, m := range []struct {
		kind string
		mask *rimage.Mask
	}{
		{"photo", fused.PhotoMask},
		{"geo", fused.GeoMask},
		{"final", fused.FinalMask},
	} {
		fn := scan.MaskPath(fused.ID, m.kind)
		written = append(written, fn)
		if err := rimage.WriteMaskFile(fn, m.mask); err != nil {
			return written, NewIOError(fn, err)
		}
	}
	if p.cfg.WriteDepthPreview {
		fn := scan.MaskPath(fused.ID, "depth")
		written = append(written, fn)
		if err := rimage.WriteDepthPreviewFile(fn, fused.Depth, fused.FinalMask); err != nil {
			return written, NewIOError(fn, err)
		}
	}
	return written, nil
}

func removeFiles(fns []string) {
	for _, fn := range fns {
		utils.RemoveFileNoError(fn)
	}
}

// ReadScanList reads scan names, one per line. Blank lines and lines starting with # are
// skipped.
func ReadScanList(fn string) ([]string, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, NewIOError(fn, err)
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	var scans []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		scans = append(scans, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, NewIOError(fn, err)
	}
	return scans, nil
}
