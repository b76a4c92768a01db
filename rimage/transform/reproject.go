package transform

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"go.viam.com/depthfuse/rimage"
)

// Reprojector moves reference pixels into a source view and back. The combined transforms are
// computed once per view pair so the per-pixel work is a handful of multiply-adds.
type Reprojector struct {
	// forward: K_src * (E_src * E_ref^-1) * K_ref^-1, split into a 3x3 part and translation
	fwd  [9]float64
	fwdT [3]float64
	// back: (E_ref * E_src^-1) * K_src^-1 into the reference camera frame
	back  [9]float64
	backT [3]float64
	// refK projects reference camera points to pixels
	refK [9]float64
}

// NewReprojector precomputes the transforms between ref and src.
func NewReprojector(ref, src *CameraParameters) *Reprojector {
	var rp Reprojector

	var refToSrc mat.Dense
	refToSrc.Mul(src.extrinsics, ref.extrinsicsInv)
	var kR mat.Dense
	kR.Mul(src.intrinsics, refToSrc.Slice(0, 3, 0, 3))
	var fwd mat.Dense
	fwd.Mul(&kR, ref.intrinsicsInv)
	var fwdT mat.VecDense
	fwdT.MulVec(src.intrinsics, refToSrc.ColView(3).(*mat.VecDense).SliceVec(0, 3))
	copy3x3(&rp.fwd, &fwd)
	copyVec3(&rp.fwdT, &fwdT)

	var srcToRef mat.Dense
	srcToRef.Mul(ref.extrinsics, src.extrinsicsInv)
	var back mat.Dense
	back.Mul(srcToRef.Slice(0, 3, 0, 3), src.intrinsicsInv)
	copy3x3(&rp.back, &back)
	for i := 0; i < 3; i++ {
		rp.backT[i] = srcToRef.At(i, 3)
	}
	copy3x3(&rp.refK, ref.intrinsics)
	return &rp
}

func copy3x3(dst *[9]float64, m mat.Matrix) {
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			dst[r*3+c] = m.At(r, c)
		}
	}
}

func copyVec3(dst *[3]float64, v mat.Vector) {
	for i := 0; i < 3; i++ {
		dst[i] = v.AtVec(i)
	}
}

func apply3(m *[9]float64, t *[3]float64, x, y, s float64) (float64, float64, float64) {
	return (m[0]*x+m[1]*y+m[2])*s + t[0],
		(m[3]*x+m[4]*y+m[5])*s + t[1],
		(m[6]*x+m[7]*y+m[8])*s + t[2]
}

// ProjectForward maps reference pixel (x, y) with depth depthRef to source pixel coordinates.
// Points that land on the source camera plane give non finite coordinates.
func (rp *Reprojector) ProjectForward(x, y, depthRef float64) (float64, float64) {
	hx, hy, hz := apply3(&rp.fwd, &rp.fwdT, x, y, depthRef)
	return hx / hz, hy / hz
}

// ProjectBackward lifts source pixel (xSrc, ySrc) with depth depthSrc back into the reference
// view, returning the depth in the reference camera frame and the reference pixel coordinates.
func (rp *Reprojector) ProjectBackward(xSrc, ySrc, depthSrc float64) (depth, x, y float64) {
	px, py, pz := apply3(&rp.back, &rp.backT, xSrc, ySrc, depthSrc)
	k := &rp.refK
	hx := k[0]*px + k[1]*py + k[2]*pz
	hy := k[3]*px + k[4]*py + k[5]*pz
	hz := k[6]*px + k[7]*py + k[8]*pz
	return pz, hx / hz, hy / hz
}

// ReprojectPixel runs the full round trip for one reference pixel: forward into the source
// view, bilinear lookup of the source depth there, and backward into the reference view.
func (rp *Reprojector) ReprojectPixel(x, y, depthRef float64, depthSrc *rimage.FloatMap) PixelReprojection {
	xSrc, ySrc := rp.ProjectForward(x, y, depthRef)
	sampled := SampleDepth(depthSrc, xSrc, ySrc)
	depth, xr, yr := rp.ProjectBackward(xSrc, ySrc, sampled)
	return PixelReprojection{
		Depth:        depth,
		X:            xr,
		Y:            yr,
		XSrc:         xSrc,
		YSrc:         ySrc,
		SampledDepth: sampled,
	}
}

// PixelReprojection is the round trip of a single reference pixel.
type PixelReprojection struct {
	Depth        float64
	X, Y         float64
	XSrc, YSrc   float64
	SampledDepth float64
}

// Reprojection holds the raster form of a reference to source round trip.
type Reprojection struct {
	DepthReprojected *rimage.FloatMap
	XReprojected     *rimage.FloatMap
	YReprojected     *rimage.FloatMap
	XSrc             *rimage.FloatMap
	YSrc             *rimage.FloatMap
}

// Reproject runs ReprojectPixel over every pixel of depthRef.
func (rp *Reprojector) Reproject(depthRef, depthSrc *rimage.FloatMap) *Reprojection {
	w, h := depthRef.Width(), depthRef.Height()
	out := &Reprojection{
		DepthReprojected: rimage.NewFloatMap(w, h),
		XReprojected:     rimage.NewFloatMap(w, h),
		YReprojected:     rimage.NewFloatMap(w, h),
		XSrc:             rimage.NewFloatMap(w, h),
		YSrc:             rimage.NewFloatMap(w, h),
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := rp.ReprojectPixel(float64(x), float64(y), float64(depthRef.GetXY(x, y)), depthSrc)
			out.DepthReprojected.SetXY(x, y, float32(p.Depth))
			out.XReprojected.SetXY(x, y, float32(p.X))
			out.YReprojected.SetXY(x, y, float32(p.Y))
			out.XSrc.SetXY(x, y, float32(p.XSrc))
			out.YSrc.SetXY(x, y, float32(p.YSrc))
		}
	}
	return out
}

// SampleDepth bilinearly interpolates depth at (x, y). Taps outside the raster count as 0,
// so lookups partially or fully outside fade to 0. Non finite coordinates give 0.
func SampleDepth(depth *rimage.FloatMap, x, y float64) float64 {
	// also rejects NaN
	if !(x > -1 && x < float64(depth.Width()) && y > -1 && y < float64(depth.Height())) {
		return 0
	}
	x0f, y0f := math.Floor(x), math.Floor(y)
	tx, ty := x-x0f, y-y0f
	x0, y0 := int(x0f), int(y0f)

	tap := func(xi, yi int) float64 {
		if !depth.In(xi, yi) {
			return 0
		}
		return float64(depth.GetXY(xi, yi))
	}

	total := 0.0
	if w := (1 - tx) * (1 - ty); w != 0 {
		total += w * tap(x0, y0)
	}
	if w := tx * (1 - ty); w != 0 {
		total += w * tap(x0+1, y0)
	}
	if w := (1 - tx) * ty; w != 0 {
		total += w * tap(x0, y0+1)
	}
	if w := tx * ty; w != 0 {
		total += w * tap(x0+1, y0+1)
	}
	return total
}
