// Package transform holds the pinhole camera model used to move pixels with depth between
// calibrated views.
package transform

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
)

// ErrSingularMatrix is returned when an intrinsics or extrinsics matrix cannot be inverted.
var ErrSingularMatrix = errors.New("camera matrix is singular")

// NewSingularMatrixError is used when a camera matrix has no usable inverse.
func NewSingularMatrixError(which string, cause error) error {
	return errors.Wrapf(ErrSingularMatrix, "%s: %v", which, cause)
}

// CameraParameters is a calibrated pinhole camera: 3x3 intrinsics K and 4x4 world to camera
// extrinsics E. Inverses are computed once at construction and the value is read-only after.
type CameraParameters struct {
	intrinsics    *mat.Dense
	extrinsics    *mat.Dense
	intrinsicsInv *mat.Dense
	extrinsicsInv *mat.Dense
}

// NewCameraParameters validates shapes, inverts both matrices and returns the camera. The
// given matrices are copied.
func NewCameraParameters(intrinsics, extrinsics mat.Matrix) (*CameraParameters, error) {
	if r, c := intrinsics.Dims(); r != 3 || c != 3 {
		return nil, errors.Errorf("intrinsics must be 3x3, got %dx%d", r, c)
	}
	if r, c := extrinsics.Dims(); r != 4 || c != 4 {
		return nil, errors.Errorf("extrinsics must be 4x4, got %dx%d", r, c)
	}
	k := mat.DenseCopyOf(intrinsics)
	e := mat.DenseCopyOf(extrinsics)

	kInv, err := invert(k)
	if err != nil {
		return nil, NewSingularMatrixError("intrinsics", err)
	}
	eInv, err := invert(e)
	if err != nil {
		return nil, NewSingularMatrixError("extrinsics", err)
	}
	return &CameraParameters{intrinsics: k, extrinsics: e, intrinsicsInv: kInv, extrinsicsInv: eInv}, nil
}

func invert(m mat.Matrix) (*mat.Dense, error) {
	rows, cols := m.Dims()
	d := mat.NewDense(rows, cols, nil)
	// a mat.Condition error means the inverse is unreliable; treat it like a singular matrix.
	if err := d.Inverse(m); err != nil {
		return nil, err
	}
	return d, nil
}

// Intrinsics returns the 3x3 K matrix.
func (cp *CameraParameters) Intrinsics() mat.Matrix {
	return cp.intrinsics
}

// Extrinsics returns the 4x4 world to camera matrix.
func (cp *CameraParameters) Extrinsics() mat.Matrix {
	return cp.extrinsics
}

// IntrinsicsInverse returns K^-1.
func (cp *CameraParameters) IntrinsicsInverse() mat.Matrix {
	return cp.intrinsicsInv
}

// ExtrinsicsInverse returns E^-1, the camera to world transform.
func (cp *CameraParameters) ExtrinsicsInverse() mat.Matrix {
	return cp.extrinsicsInv
}

// PixelToPoint unprojects pixel (x, y) with depth z into the camera frame.
func (cp *CameraParameters) PixelToPoint(x, y, z float64) r3.Vector {
	return mulVec3(cp.intrinsicsInv, r3.Vector{X: x * z, Y: y * z, Z: z})
}

// PointToPixel projects a camera frame point into the image plane. A point on the camera
// plane (z == 0) yields non finite coordinates.
func (cp *CameraParameters) PointToPixel(p r3.Vector) (float64, float64) {
	h := mulVec3(cp.intrinsics, p)
	return h.X / h.Z, h.Y / h.Z
}

// CameraToWorld maps a camera frame point to world coordinates with E^-1.
func (cp *CameraParameters) CameraToWorld(p r3.Vector) r3.Vector {
	return mulAffine(cp.extrinsicsInv, p)
}

// WorldToCamera maps a world point into the camera frame with E.
func (cp *CameraParameters) WorldToCamera(p r3.Vector) r3.Vector {
	return mulAffine(cp.extrinsics, p)
}

// PixelToWorld unprojects pixel (x, y) with depth z all the way into world coordinates.
func (cp *CameraParameters) PixelToWorld(x, y, z float64) r3.Vector {
	return cp.CameraToWorld(cp.PixelToPoint(x, y, z))
}

func mulVec3(m mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

// mulAffine applies the top 3x4 block of a 4x4 homogeneous transform.
func mulAffine(m mat.Matrix, v r3.Vector) r3.Vector {
	return mulVec3(m, v).Add(r3.Vector{X: m.At(0, 3), Y: m.At(1, 3), Z: m.At(2, 3)})
}

// ReadCameraFile reads a camera file from disk. See ParseCamera.
func ReadCameraFile(fn string, intrinsicsDivisor float64) (*CameraParameters, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	cam, err := ParseCamera(f, intrinsicsDivisor)
	if err != nil {
		return nil, errors.Wrapf(err, "reading camera %q", fn)
	}
	return cam, nil
}

// ParseCamera decodes the text camera format:
//
//	extrinsic
//	e00 e01 e02 e03   (4 rows)
//	...
//
//	intrinsic
//	k00 k01 k02       (3 rows)
//	...
//
// Anything after the intrinsics, such as the depth range line, is ignored. Rows 0 and 1 of
// the intrinsics are divided by intrinsicsDivisor, since depth maps are estimated at a
// fraction of the image resolution.
func ParseCamera(r io.Reader, intrinsicsDivisor float64) (*CameraParameters, error) {
	if intrinsicsDivisor <= 0 {
		return nil, errors.Errorf("intrinsics divisor must be positive, got %v", intrinsicsDivisor)
	}
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), " \t\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(lines) < 10 {
		return nil, errors.Errorf("camera file has %d lines, need at least 10", len(lines))
	}

	extrinsics, err := parseMatrix(lines[1:5], 4, 4)
	if err != nil {
		return nil, errors.Wrap(err, "bad extrinsics")
	}
	intrinsics, err := parseMatrix(lines[7:10], 3, 3)
	if err != nil {
		return nil, errors.Wrap(err, "bad intrinsics")
	}
	for r := 0; r < 2; r++ {
		for c := 0; c < 3; c++ {
			intrinsics.Set(r, c, intrinsics.At(r, c)/intrinsicsDivisor)
		}
	}
	return NewCameraParameters(intrinsics, extrinsics)
}

func parseMatrix(lines []string, rows, cols int) (*mat.Dense, error) {
	fields := strings.Fields(strings.Join(lines, " "))
	if len(fields) != rows*cols {
		return nil, errors.Errorf("expected %d values, got %d", rows*cols, len(fields))
	}
	data := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "value %d", i)
		}
		data[i] = v
	}
	return mat.NewDense(rows, cols, data), nil
}
