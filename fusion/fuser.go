package fusion

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.viam.com/depthfuse/rimage"
	"go.viam.com/depthfuse/utils"
)

// FusedView is the fused depth of one reference view and the masks deciding which of its pixels
// become points.
type FusedView struct {
	ID int
	// Depth is (sum of agreeing reprojected depths + reference depth) / (agreeing views + 1).
	Depth *rimage.FloatMap
	// AgreeCount is the number of agreeing source views per pixel, row-major.
	AgreeCount []int
	PhotoMask  *rimage.Mask
	GeoMask    *rimage.Mask
	FinalMask  *rimage.Mask
	// Sources is how many source views were fused.
	Sources int
}

// Fuser accumulates consistency results for one reference view. Results must be added in a
// fixed order (ascending source id) for the sums to be reproducible.
type Fuser struct {
	depthRef      *rimage.FloatMap
	confidenceRef *rimage.FloatMap
	cfg           Config

	sum     []float64
	count   []int
	sources int
}

// NewFuser starts fusing the given reference depth and confidence.
func NewFuser(depthRef, confidenceRef *rimage.FloatMap, cfg Config) (*Fuser, error) {
	if !depthRef.SameSize(confidenceRef) {
		return nil, errors.Errorf("confidence is %v but depth is %v", confidenceRef.Bounds(), depthRef.Bounds())
	}
	n := depthRef.Width() * depthRef.Height()
	return &Fuser{
		depthRef:      depthRef,
		confidenceRef: confidenceRef,
		cfg:           cfg,
		sum:           make([]float64, n),
		count:         make([]int, n),
	}, nil
}

// Add folds one source view's consistency result into the running sums.
func (f *Fuser) Add(res *ConsistencyResult) error {
	if !f.depthRef.SameSize(res.Mask) || !f.depthRef.SameSize(res.DepthReprojected) {
		return errors.Errorf("consistency result is %v but depth is %v", res.Mask.Bounds(), f.depthRef.Bounds())
	}
	mask := res.Mask.Data()
	depth := res.DepthReprojected.Data()
	for i, ok := range mask {
		// off-mask depth is already zero
		f.sum[i] += float64(depth[i])
		if ok {
			f.count[i]++
		}
	}
	f.sources++
	return nil
}

// Finish computes the fused depth and the photometric, geometric and final masks.
func (f *Fuser) Finish() *FusedView {
	w, h := f.depthRef.Width(), f.depthRef.Height()
	out := &FusedView{
		Depth:      rimage.NewFloatMap(w, h),
		AgreeCount: f.count,
		PhotoMask:  rimage.NewMask(w, h),
		GeoMask:    rimage.NewMask(w, h),
		FinalMask:  rimage.NewMask(w, h),
		Sources:    f.sources,
	}
	depthRef := f.depthRef.Data()
	confidence := f.confidenceRef.Data()
	fused := out.Depth.Data()
	photo, geo, final := out.PhotoMask.Data(), out.GeoMask.Data(), out.FinalMask.Data()
	for i := range fused {
		d := depthRef[i]
		fused[i] = float32((f.sum[i] + float64(d)) / float64(f.count[i]+1))
		photo[i] = float64(confidence[i]) > f.cfg.MinConfidence
		// a pixel without reference depth has nothing to fuse
		geo[i] = d > 0 && f.count[i] >= f.cfg.MinAgreeingViews
		final[i] = photo[i] && geo[i]
	}
	return out
}

// FuseView checks ref against every source and fuses the results. Checks run in parallel in
// chunks of cfg.Parallelism and are reduced in ascending source id, so the fused depth does not
// depend on scheduling.
func FuseView(ctx context.Context, ref *View, sources []*View, cfg Config) (*FusedView, error) {
	ctx, span := trace.StartSpan(ctx, "fusion::FuseView")
	defer span.End()

	fuser, err := NewFuser(ref.Depth, ref.Confidence, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "view %d", ref.ID)
	}
	ordered := slices.Clone(sources)
	slices.SortStableFunc(ordered, func(a, b *View) int { return a.ID - b.ID })

	err = utils.ReduceInOrder(ctx, len(ordered), cfg.parallelism(),
		func(ctx context.Context, i int) (*ConsistencyResult, error) {
			return CheckGeometricConsistency(ref, ordered[i], &cfg)
		},
		func(i int, res *ConsistencyResult) error {
			return fuser.Add(res)
		},
	)
	if err != nil {
		return nil, errors.Wrapf(err, "fusing view %d", ref.ID)
	}
	fused := fuser.Finish()
	fused.ID = ref.ID
	return fused, nil
}
