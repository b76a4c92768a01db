package rimage

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestFloatMapFromData(t *testing.T) {
	_, err := NewFloatMapFromData(2, 2, []float32{1, 2, 3})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "needs 4 values")

	_, err = NewFloatMapFromData(0, 2, nil)
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, ValidRasterSize(1600, 1200), test.ShouldBeTrue)
	test.That(t, ValidRasterSize(99999, 99999), test.ShouldBeFalse)
	test.That(t, ValidRasterSize(MaxRasterSize, 1), test.ShouldBeFalse)

	fm, err := NewFloatMapFromData(2, 2, []float32{1, 2, 3, 4})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fm.GetXY(1, 0), test.ShouldEqual, float32(2))
	test.That(t, fm.GetXY(0, 1), test.ShouldEqual, float32(3))
	test.That(t, fm.In(2, 0), test.ShouldBeFalse)
	test.That(t, fm.In(1, 1), test.ShouldBeTrue)
	test.That(t, fm.SameSize(NewMask(2, 2)), test.ShouldBeTrue)
	test.That(t, fm.SameSize(NewMask(2, 3)), test.ShouldBeFalse)
}

func TestFloatMapStats(t *testing.T) {
	fm, err := NewFloatMapFromData(4, 1, []float32{4, 1, float32(math.NaN()), 2})
	test.That(t, err, test.ShouldBeNil)

	lo, hi, ok := fm.MinMax(nil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, lo, test.ShouldEqual, float32(1))
	test.That(t, hi, test.ShouldEqual, float32(4))

	mask := NewMask(4, 1)
	_, _, ok = fm.MinMax(mask)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, fm.Median(mask), test.ShouldEqual, 0.0)

	mask.SetXY(0, 0, true)
	mask.SetXY(3, 0, true)
	test.That(t, fm.Median(mask), test.ShouldEqual, 3.0)

	conf, err := NewFloatMapFromData(2, 1, []float32{0.25, 0.75})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.Mean(), test.ShouldAlmostEqual, 0.5, 1e-9)
}

func TestFloatMapHistogram(t *testing.T) {
	fm, err := NewFloatMapFromData(3, 2, []float32{1, 1, 2, 9, 10, float32(math.Inf(1))})
	test.That(t, err, test.ShouldBeNil)

	hist, ok := fm.Histogram(nil, 3)
	test.That(t, ok, test.ShouldBeTrue)
	total := 0
	for _, b := range hist.Buckets {
		total += b.Count
	}
	test.That(t, total, test.ShouldEqual, 5)
	test.That(t, hist.Buckets[0].Count, test.ShouldEqual, 3)

	mask := NewMask(3, 2)
	_, ok = fm.Histogram(mask, 3)
	test.That(t, ok, test.ShouldBeFalse)

	mask.SetXY(0, 0, true)
	mask.SetXY(1, 0, true)
	hist, ok = fm.Histogram(mask, 4)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, len(hist.Buckets), test.ShouldEqual, 1)
	test.That(t, hist.Buckets[0].Count, test.ShouldEqual, 2)
}
