package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	_ "github.com/lmittmann/ppm" // register ppm
	"github.com/pkg/errors"
	_ "golang.org/x/image/webp" // register webp
)

// ReadImageFile decodes a color image from disk into NRGBA, applying EXIF orientation.
func ReadImageFile(fn string) (*image.NRGBA, error) {
	img, err := imaging.Open(fn, imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	return imaging.Clone(img), nil
}

// ResizeCropOptions describes how a color image is fitted to the depth estimator's input.
// A zero MaxWidth or MaxHeight disables the transformation.
type ResizeCropOptions struct {
	MaxHeight int
	MaxWidth  int
}

// Enabled reports whether the options request any resizing.
func (opts ResizeCropOptions) Enabled() bool {
	return opts.MaxHeight > 0 && opts.MaxWidth > 0
}

// ReadImageResizeCrop reads a color image and fits it with ResizeCrop.
func ReadImageResizeCrop(fn string, opts ResizeCropOptions) (*image.NRGBA, error) {
	img, err := ReadImageFile(fn)
	if err != nil {
		return nil, err
	}
	if !opts.Enabled() {
		return img, nil
	}
	return ResizeCrop(img, opts)
}

// ResizeCrop scales img so that it covers MaxWidth x MaxHeight, then center crops it to at most
// that size. Images smaller than the requested size are rejected since they would need
// upsampling.
func ResizeCrop(img image.Image, opts ResizeCropOptions) (*image.NRGBA, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("cannot resize an empty image")
	}
	heightScale := float64(opts.MaxHeight) / float64(h)
	widthScale := float64(opts.MaxWidth) / float64(w)
	if heightScale > 1 || widthScale > 1 {
		return nil, errors.Errorf("image %d x %d is smaller than the requested %d x %d",
			w, h, opts.MaxWidth, opts.MaxHeight)
	}
	scale := math.Max(heightScale, widthScale)

	scaledW := int(math.Round(float64(w) * scale))
	scaledH := int(math.Round(float64(h) * scale))
	scaled := imaging.Resize(img, scaledW, scaledH, imaging.Linear)

	newH := minInt(scaledH, opts.MaxHeight)
	newW := minInt(scaledW, opts.MaxWidth)
	startH := int(math.Ceil(float64(scaledH-newH) / 2))
	startW := int(math.Ceil(float64(scaledW-newW) / 2))
	return imaging.Crop(scaled, image.Rect(startW, startH, startW+newW, startH+newH)), nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ColorAt returns the 8-bit color at (x, y) and whether it is in bounds.
func ColorAt(img *image.NRGBA, x, y int) (color.NRGBA, bool) {
	p := image.Point{X: img.Rect.Min.X + x, Y: img.Rect.Min.Y + y}
	if !p.In(img.Rect) {
		return color.NRGBA{}, false
	}
	return img.NRGBAAt(p.X, p.Y), true
}
