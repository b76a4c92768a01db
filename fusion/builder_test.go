package fusion

import (
	"image"
	"image/color"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/depthfuse/rimage"
)

func fusedPlane(width, height int, depth float32, pixels ...image.Point) *FusedView {
	fused := &FusedView{
		ID:        7,
		Depth:     constantMap(width, height, depth),
		FinalMask: rimage.NewMask(width, height),
	}
	for _, p := range pixels {
		fused.FinalMask.SetXY(p.X, p.Y, true)
	}
	return fused
}

func TestBuildPoints(t *testing.T) {
	cfg := DefaultConfig()
	cam := sceneCamera(t, 2)
	fused := fusedPlane(sceneWidth, sceneHeight, planeDepth, image.Pt(4, 3), image.Pt(6, 1))

	img := image.NewNRGBA(image.Rect(0, 0, 2*sceneWidth+1, 2*sceneHeight+1))
	img.SetNRGBA(9, 7, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	img.SetNRGBA(13, 3, color.NRGBA{R: 40, G: 50, B: 60, A: 7})

	pc, err := BuildPoints(fused, cam, img, cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 2)
	test.That(t, pc.MetaData().HasColor, test.ShouldBeTrue)

	// row-major: (6, 1) comes before (4, 3)
	p, d := pc.At(0)
	test.That(t, p.Sub(r3.Vector{X: 2 + 2, Y: -2, Z: planeDepth}).Norm(), test.ShouldBeLessThan, 1e-9)
	test.That(t, d.Color(), test.ShouldResemble, color.NRGBA{R: 40, G: 50, B: 60, A: 255})

	p, d = pc.At(1)
	test.That(t, p.Sub(r3.Vector{X: 2, Y: 0, Z: planeDepth}).Norm(), test.ShouldBeLessThan, 1e-9)
	r, g, b := d.RGB255()
	test.That(t, []uint8{r, g, b}, test.ShouldResemble, []uint8{10, 20, 30})
}

func TestBuildPointsWithoutColor(t *testing.T) {
	fused := fusedPlane(3, 3, 1, image.Pt(0, 0), image.Pt(1, 1), image.Pt(2, 2))
	pc, err := BuildPoints(fused, identityCamera(t), nil, DefaultConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 3)
	test.That(t, pc.MetaData().HasColor, test.ShouldBeFalse)
	p, d := pc.At(2)
	test.That(t, p, test.ShouldResemble, r3.Vector{X: 2, Y: 2, Z: 1})
	test.That(t, d.HasColor(), test.ShouldBeFalse)
}

func TestBuildPointsColorOutOfBounds(t *testing.T) {
	fused := fusedPlane(3, 3, 1, image.Pt(2, 2))
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	_, err := BuildPoints(fused, identityCamera(t), img, DefaultConfig())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "outside")
}

func TestBuildPointsEmptyMask(t *testing.T) {
	pc, err := BuildPoints(fusedPlane(3, 3, 1), identityCamera(t), nil, DefaultConfig())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pc.Size(), test.ShouldEqual, 0)
}
