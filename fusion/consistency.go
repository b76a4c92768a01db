package fusion

import (
	"math"

	"github.com/pkg/errors"

	"go.viam.com/depthfuse/rimage"
	"go.viam.com/depthfuse/rimage/transform"
)

// View is one calibrated view of a scan with its estimated depth and confidence.
type View struct {
	ID         int
	Camera     *transform.CameraParameters
	Depth      *rimage.FloatMap
	Confidence *rimage.FloatMap
}

// ConsistencyResult is the outcome of checking a reference view against one source view.
type ConsistencyResult struct {
	// Mask is set where the source view agrees with the reference depth.
	Mask *rimage.Mask
	// DepthReprojected is the source depth brought back into the reference view, zero wherever
	// Mask is unset.
	DepthReprojected *rimage.FloatMap
	// XSrc and YSrc are where each reference pixel lands in the source view.
	XSrc *rimage.FloatMap
	YSrc *rimage.FloatMap
}

// CheckGeometricConsistency projects every reference pixel into the source view, looks up the
// source depth there and projects it back. A pixel agrees when the round trip lands within
// cfg.MaxPixelDrift pixels and cfg.MaxRelativeDepthError relative depth of where it started.
//
// Pixels without a reference depth, whose projection leaves the source view or hits no source
// depth, or whose round trip is not finite never agree.
func CheckGeometricConsistency(ref, src *View, cfg *Config) (*ConsistencyResult, error) {
	if !ref.Depth.SameSize(src.Depth) {
		return nil, errors.Errorf("depth of view %d is %v but view %d is %v",
			src.ID, src.Depth.Bounds(), ref.ID, ref.Depth.Bounds())
	}
	rp := transform.NewReprojector(ref.Camera, src.Camera)

	w, h := ref.Depth.Width(), ref.Depth.Height()
	res := &ConsistencyResult{
		Mask:             rimage.NewMask(w, h),
		DepthReprojected: rimage.NewFloatMap(w, h),
		XSrc:             rimage.NewFloatMap(w, h),
		YSrc:             rimage.NewFloatMap(w, h),
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := float64(ref.Depth.GetXY(x, y))
			p := rp.ReprojectPixel(float64(x), float64(y), d, src.Depth)
			res.XSrc.SetXY(x, y, float32(p.XSrc))
			res.YSrc.SetXY(x, y, float32(p.YSrc))
			if !agrees(float64(x), float64(y), d, p, cfg) {
				continue
			}
			res.Mask.SetXY(x, y, true)
			res.DepthReprojected.SetXY(x, y, float32(p.Depth))
		}
	}
	return res, nil
}

func agrees(x, y, d float64, p transform.PixelReprojection, cfg *Config) bool {
	if !(d > 0) || !(p.SampledDepth > 0) {
		return false
	}
	if !isFinite(p.Depth) || !isFinite(p.X) || !isFinite(p.Y) {
		return false
	}
	dist := math.Hypot(p.X-x, p.Y-y)
	rel := math.Abs(p.Depth-d) / d
	return dist < cfg.MaxPixelDrift && rel < cfg.MaxRelativeDepthError
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
