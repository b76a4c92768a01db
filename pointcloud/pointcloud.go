// Package pointcloud defines the append-only colored point cloud produced by depth fusion and
// its file formats.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns meta data for an empty cloud.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the meta data with a newly added point.
func (meta *MetaData) Merge(v r3.Vector, data Data) {
	if data != nil && data.HasColor() {
		meta.HasColor = true
	}

	if v.X > meta.MaxX {
		meta.MaxX = v.X
	}
	if v.Y > meta.MaxY {
		meta.MaxY = v.Y
	}
	if v.Z > meta.MaxZ {
		meta.MaxZ = v.Z
	}

	if v.X < meta.MinX {
		meta.MinX = v.X
	}
	if v.Y < meta.MinY {
		meta.MinY = v.Y
	}
	if v.Z < meta.MinZ {
		meta.MinZ = v.Z
	}
}

// Combine merges the bounds and flags of other into meta.
func (meta *MetaData) Combine(other MetaData) {
	meta.HasColor = meta.HasColor || other.HasColor
	meta.MinX = math.Min(meta.MinX, other.MinX)
	meta.MinY = math.Min(meta.MinY, other.MinY)
	meta.MinZ = math.Min(meta.MinZ, other.MinZ)
	meta.MaxX = math.Max(meta.MaxX, other.MaxX)
	meta.MaxY = math.Max(meta.MaxY, other.MaxY)
	meta.MaxZ = math.Max(meta.MaxZ, other.MaxZ)
}

// PointCloud is an ordered, append-only sequence of points. Points at the same position are
// all kept; insertion order is preserved by Iterate and At.
type PointCloud interface {
	// Size returns the number of points in the cloud.
	Size() int

	// MetaData returns meta data
	MetaData() MetaData

	// Append adds the point to the end of the cloud.
	Append(p r3.Vector, d Data) error

	// At returns the i-th point in insertion order.
	At(i int) (r3.Vector, Data)

	// Iterate iterates over all points in the cloud and calls the given
	// function for each point. If the supplied function returns false,
	// iteration will stop after the function returns.
	// numBatches lets you divide up he work. 0 means don't divide
	// myBatch is used iff numBatches > 0 and is which batch you want
	Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool)
}
