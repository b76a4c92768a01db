// Package rimage holds the dense rasters consumed and produced by depth fusion along with their
// file codecs.
package rimage

import (
	"image"
	"math"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

const (
	// MaxRasterSize bounds both dimensions of any raster read from disk.
	MaxRasterSize = 100000
	// MaxRasterPixels bounds width*height of any raster read from disk.
	MaxRasterPixels = 1 << 28
)

// ValidRasterSize reports whether a raster of width x height may be allocated.
func ValidRasterSize(width, height int) bool {
	return width > 0 && height > 0 && width < MaxRasterSize && height < MaxRasterSize &&
		width*height <= MaxRasterPixels
}

// FloatMap is a dense, row-major, single channel float32 raster. It is used for depth maps
// (0 means "no estimate") and confidence maps.
type FloatMap struct {
	width  int
	height int

	data []float32
}

// NewFloatMap returns a zero filled raster of the given size.
func NewFloatMap(width, height int) *FloatMap {
	return &FloatMap{width: width, height: height, data: make([]float32, width*height)}
}

// NewFloatMapFromData wraps data, which must hold width*height values in row-major order.
func NewFloatMapFromData(width, height int, data []float32) (*FloatMap, error) {
	if !ValidRasterSize(width, height) {
		return nil, errors.Errorf("bad width or height for raster %d x %d", width, height)
	}
	if len(data) != width*height {
		return nil, errors.Errorf("raster of %d x %d needs %d values but got %d", width, height, width*height, len(data))
	}
	return &FloatMap{width: width, height: height, data: data}, nil
}

// Width returns the horizontal size of the raster.
func (fm *FloatMap) Width() int {
	return fm.width
}

// Height returns the vertical size of the raster.
func (fm *FloatMap) Height() int {
	return fm.height
}

// Bounds returns the raster bounds anchored at the origin.
func (fm *FloatMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, fm.width, fm.height)
}

// In reports whether (x, y) is inside the raster.
func (fm *FloatMap) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < fm.width && y < fm.height
}

// GetXY returns the value at (x, y). It panics when out of bounds.
func (fm *FloatMap) GetXY(x, y int) float32 {
	return fm.data[y*fm.width+x]
}

// SetXY sets the value at (x, y).
func (fm *FloatMap) SetXY(x, y int, v float32) {
	fm.data[y*fm.width+x] = v
}

// Data exposes the underlying row-major buffer.
func (fm *FloatMap) Data() []float32 {
	return fm.data
}

// Fill sets every value to v.
func (fm *FloatMap) Fill(v float32) {
	for i := range fm.data {
		fm.data[i] = v
	}
}

// SameSize reports whether the two rasters share dimensions.
func (fm *FloatMap) SameSize(other interface{ Bounds() image.Rectangle }) bool {
	return fm.Bounds() == other.Bounds()
}

// MinMax returns the smallest and largest finite value selected by mask, or all values when
// mask is nil. ok is false when nothing was selected.
func (fm *FloatMap) MinMax(mask *Mask) (lo, hi float32, ok bool) {
	lo, hi = float32(math.Inf(1)), float32(math.Inf(-1))
	for i, v := range fm.data {
		if mask != nil && !mask.data[i] {
			continue
		}
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			continue
		}
		ok = true
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, ok
}

// Mean returns the arithmetic mean of all values.
func (fm *FloatMap) Mean() float64 {
	values := make(stats.Float64Data, len(fm.data))
	for i, v := range fm.data {
		values[i] = float64(v)
	}
	mean, err := stats.Mean(values)
	if err != nil {
		return 0
	}
	return mean
}

// Median returns the median of the values selected by mask (all when nil), or 0 when empty.
func (fm *FloatMap) Median(mask *Mask) float64 {
	values := make(stats.Float64Data, 0, len(fm.data))
	for i, v := range fm.data {
		if mask != nil && !mask.data[i] {
			continue
		}
		values = append(values, float64(v))
	}
	median, err := stats.Median(values)
	if err != nil {
		return 0
	}
	return median
}

// Histogram buckets the finite values selected by mask (all when nil) into nbins equal width
// bins. ok is false when nothing was selected.
func (fm *FloatMap) Histogram(mask *Mask, nbins int) (histogram.Histogram, bool) {
	values := make([]float64, 0, len(fm.data))
	for i, v := range fm.data {
		if mask != nil && !mask.data[i] {
			continue
		}
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			continue
		}
		values = append(values, float64(v))
	}
	if len(values) == 0 {
		return histogram.Histogram{}, false
	}
	return histogram.Hist(max(1, nbins), values), true
}
