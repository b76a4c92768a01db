package transform

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

const dtuCamera = `extrinsic
0.970263 0.00747983 0.241939 -191.02
-0.0147429 0.999493 0.0282234 3.28832
-0.241605 -0.030951 0.969881 22.5401
0.0 0.0 0.0 1.0

intrinsic
2892.33 0 823.205
0 2883.18 619.071
0 0 1

425 2.5
`

func TestParseCamera(t *testing.T) {
	cam, err := ParseCamera(strings.NewReader(dtuCamera), 2)
	test.That(t, err, test.ShouldBeNil)

	k := cam.Intrinsics()
	test.That(t, k.At(0, 0), test.ShouldAlmostEqual, 2892.33/2)
	test.That(t, k.At(0, 2), test.ShouldAlmostEqual, 823.205/2)
	test.That(t, k.At(1, 1), test.ShouldAlmostEqual, 2883.18/2)
	test.That(t, k.At(2, 2), test.ShouldEqual, 1.0)
	test.That(t, cam.Extrinsics().At(0, 3), test.ShouldEqual, -191.02)

	var prod mat.Dense
	prod.Mul(cam.Extrinsics(), cam.ExtrinsicsInverse())
	test.That(t, mat.EqualApprox(&prod, eye(4), 1e-9), test.ShouldBeTrue)
	prod.Reset()
	prod.Mul(cam.Intrinsics(), cam.IntrinsicsInverse())
	test.That(t, mat.EqualApprox(&prod, eye(3), 1e-9), test.ShouldBeTrue)

	full, err := ParseCamera(strings.NewReader(dtuCamera), 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, full.Intrinsics().At(0, 0), test.ShouldEqual, 2892.33)
}

func TestParseCameraErrors(t *testing.T) {
	_, err := ParseCamera(strings.NewReader("extrinsic\n1 0 0 0\n"), 2)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "need at least 10")

	_, err = ParseCamera(strings.NewReader(strings.Replace(dtuCamera, "2892.33", "focal", 1)), 2)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bad intrinsics")

	_, err = ParseCamera(strings.NewReader(strings.Replace(dtuCamera, "0.0 0.0 0.0 1.0", "0.0 0.0 0.0", 1)), 2)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "bad extrinsics")

	_, err = ParseCamera(strings.NewReader(dtuCamera), 0)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSingularCamera(t *testing.T) {
	singularK := mat.NewDense(3, 3, []float64{1, 2, 3, 2, 4, 6, 0, 0, 1})
	_, err := NewCameraParameters(singularK, eye(4))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrSingularMatrix), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "intrinsics")

	_, err = NewCameraParameters(eye(3), mat.NewDense(4, 4, nil))
	test.That(t, errors.Is(err, ErrSingularMatrix), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "extrinsics")

	_, err = NewCameraParameters(eye(4), eye(4))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrSingularMatrix), test.ShouldBeFalse)
}

func TestReadCameraFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "00000000_cam.txt")
	test.That(t, os.WriteFile(fn, []byte(dtuCamera), 0o600), test.ShouldBeNil)
	cam, err := ReadCameraFile(fn, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.Intrinsics().At(1, 2), test.ShouldAlmostEqual, 619.071/2)

	_, err = ReadCameraFile(filepath.Join(t.TempDir(), "missing_cam.txt"), 2)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPixelToWorld(t *testing.T) {
	k := mat.NewDense(3, 3, []float64{100, 0, 50, 0, 100, 40, 0, 0, 1})
	// camera sits at world (1, 2, 3), axes aligned
	e := eye(4)
	e.Set(0, 3, -1)
	e.Set(1, 3, -2)
	e.Set(2, 3, -3)
	cam, err := NewCameraParameters(k, e)
	test.That(t, err, test.ShouldBeNil)

	p := cam.PixelToPoint(150, 40, 2)
	test.That(t, p.X, test.ShouldAlmostEqual, 2.0)
	test.That(t, p.Y, test.ShouldAlmostEqual, 0.0)
	test.That(t, p.Z, test.ShouldAlmostEqual, 2.0)

	w := cam.PixelToWorld(150, 40, 2)
	test.That(t, w.Sub(r3.Vector{X: 3, Y: 2, Z: 5}).Norm(), test.ShouldBeLessThan, 1e-9)
	test.That(t, cam.WorldToCamera(w).Sub(p).Norm(), test.ShouldBeLessThan, 1e-9)

	x, y := cam.PointToPixel(p)
	test.That(t, x, test.ShouldAlmostEqual, 150.0)
	test.That(t, y, test.ShouldAlmostEqual, 40.0)
}

func eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}
