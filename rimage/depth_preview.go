package rimage

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// ToPrettyPicture colorizes the pixels of fm selected by mask (all non zero pixels when mask
// is nil) with a hue ramp from near to far. Unselected pixels stay black.
func (fm *FloatMap) ToPrettyPicture(mask *Mask) *image.NRGBA {
	img := image.NewNRGBA(fm.Bounds())
	for i := range img.Pix {
		if i%4 == 3 {
			img.Pix[i] = 255
		}
	}

	if mask == nil {
		mask = NewMask(fm.width, fm.height)
		for i, z := range fm.data {
			mask.data[i] = z != 0
		}
	}
	min, max, ok := fm.MinMax(mask)
	if !ok {
		return img
	}
	span := float64(max) - float64(min)

	for y := 0; y < fm.height; y++ {
		for x := 0; x < fm.width; x++ {
			i := y*fm.width + x
			z := fm.data[i]
			if !mask.data[i] {
				continue
			}
			ratio := 0.0
			if span > 0 {
				ratio = (float64(z) - float64(min)) / span
			}
			if !(ratio >= 0 && ratio <= 1) {
				// NaN or Inf
				continue
			}
			r, g, b := colorful.Hsv(30+200*ratio, 1, 1).RGB255()
			img.SetNRGBA(x, y, color.NRGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}

// WriteDepthPreviewFile saves the colorized depth of fm under mask; the format follows the
// extension.
func WriteDepthPreviewFile(fn string, fm *FloatMap, mask *Mask) error {
	return errors.Wrapf(imaging.Save(fm.ToPrettyPicture(mask), fn), "cannot write depth preview %q", fn)
}
