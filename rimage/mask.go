package rimage

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Mask is a dense boolean raster.
type Mask struct {
	width  int
	height int

	data []bool
}

// NewMask returns an all-false mask of the given size.
func NewMask(width, height int) *Mask {
	return &Mask{width: width, height: height, data: make([]bool, width*height)}
}

// Width returns the horizontal size of the mask.
func (m *Mask) Width() int {
	return m.width
}

// Height returns the vertical size of the mask.
func (m *Mask) Height() int {
	return m.height
}

// Bounds returns the mask bounds anchored at the origin.
func (m *Mask) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.width, m.height)
}

// GetXY returns whether (x, y) is set.
func (m *Mask) GetXY(x, y int) bool {
	return m.data[y*m.width+x]
}

// SetXY sets (x, y) to v.
func (m *Mask) SetXY(x, y int, v bool) {
	m.data[y*m.width+x] = v
}

// Data exposes the underlying row-major buffer.
func (m *Mask) Data() []bool {
	return m.data
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.data {
		if v {
			n++
		}
	}
	return n
}

// Coverage returns the fraction of set pixels, like numpy's mask.mean().
func (m *Mask) Coverage() float64 {
	if len(m.data) == 0 {
		return 0
	}
	return float64(m.Count()) / float64(len(m.data))
}

// And returns a new mask set where both m and other are set.
func (m *Mask) And(other *Mask) (*Mask, error) {
	if m.Bounds() != other.Bounds() {
		return nil, errors.Errorf("mask sizes differ %v != %v", m.Bounds(), other.Bounds())
	}
	out := NewMask(m.width, m.height)
	for i := range m.data {
		out.data[i] = m.data[i] && other.data[i]
	}
	return out, nil
}

// ToGray renders the mask as 0/255 grayscale.
func (m *Mask) ToGray() *image.Gray {
	img := image.NewGray(m.Bounds())
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			if m.GetXY(x, y) {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

// WriteMaskFile saves the mask as a grayscale image; the format follows the extension.
func WriteMaskFile(fn string, m *Mask) error {
	return errors.Wrapf(imaging.Save(m.ToGray(), fn), "cannot write mask %q", fn)
}

// ReadMaskFile loads a mask image, treating pixels brighter than half intensity as set.
func ReadMaskFile(fn string) (*Mask, error) {
	img, err := imaging.Open(fn)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read mask %q", fn)
	}
	b := img.Bounds()
	m := NewMask(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			m.SetXY(x, y, g.Y > 127)
		}
	}
	return m, nil
}
