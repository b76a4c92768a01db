package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// PointAndData is one stored point with its data.
type PointAndData struct {
	P r3.Vector
	D Data
}

// basicPointCloud is the basic implementation of the PointCloud interface backed by
// a slice of points in insertion order.
type basicPointCloud struct {
	points []PointAndData
	meta   MetaData
}

// New returns an empty PointCloud backed by a basicPointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud backed by a basicPointCloud.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points: make([]PointAndData, 0, size),
		meta:   NewMetaData(),
	}
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

// Append validates that the point is finite before adding it to the cloud.
func (cloud *basicPointCloud) Append(p r3.Vector, d Data) error {
	if !isFinite(p.X) {
		return errors.Errorf("x component (%v) is not finite", p.X)
	}
	if !isFinite(p.Y) {
		return errors.Errorf("y component (%v) is not finite", p.Y)
	}
	if !isFinite(p.Z) {
		return errors.Errorf("z component (%v) is not finite", p.Z)
	}
	cloud.points = append(cloud.points, PointAndData{P: p, D: d})
	cloud.meta.Merge(p, d)
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (cloud *basicPointCloud) At(i int) (r3.Vector, Data) {
	pd := cloud.points[i]
	return pd.P, pd.D
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	from, to := 0, len(cloud.points)
	if numBatches > 0 {
		batchSize := (len(cloud.points) + numBatches - 1) / numBatches
		from = myBatch * batchSize
		to = from + batchSize
		if from > len(cloud.points) {
			from = len(cloud.points)
		}
		if to > len(cloud.points) {
			to = len(cloud.points)
		}
	}
	for _, pd := range cloud.points[from:to] {
		if !fn(pd.P, pd.D) {
			return
		}
	}
}

// Concat joins clouds in the order given into a new cloud. Duplicates are preserved.
func Concat(clouds ...PointCloud) PointCloud {
	total := 0
	for _, c := range clouds {
		if c != nil {
			total += c.Size()
		}
	}
	out := &basicPointCloud{points: make([]PointAndData, 0, total), meta: NewMetaData()}
	for _, c := range clouds {
		if c == nil {
			continue
		}
		c.Iterate(0, 0, func(p r3.Vector, d Data) bool {
			out.points = append(out.points, PointAndData{P: p, D: d})
			return true
		})
		if c.Size() > 0 {
			out.meta.Combine(c.MetaData())
		}
	}
	return out
}
