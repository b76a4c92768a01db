package pointcloud

import (
	"bytes"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/depthfuse/logging"
)

func makeColoredCloud(t *testing.T) PointCloud {
	t.Helper()
	pc := New()
	test.That(t, pc.Append(NewVector(0, 0, 0), NewColoredData(color.NRGBA{255, 0, 0, 255})), test.ShouldBeNil)
	test.That(t, pc.Append(NewVector(1.5, -2.25, 3), NewColoredData(color.NRGBA{0, 128, 7, 255})), test.ShouldBeNil)
	test.That(t, pc.Append(NewVector(1.5, -2.25, 3), NewColoredData(color.NRGBA{10, 20, 30, 255})), test.ShouldBeNil)
	return pc
}

func requireSameCloud(t *testing.T, got, want PointCloud, tol float64) {
	t.Helper()
	test.That(t, got.Size(), test.ShouldEqual, want.Size())
	for i := 0; i < want.Size(); i++ {
		gp, gd := got.At(i)
		wp, wd := want.At(i)
		test.That(t, gp.Sub(wp).Norm(), test.ShouldBeLessThanOrEqualTo, tol)
		test.That(t, gd.HasColor(), test.ShouldEqual, wd.HasColor())
		if wd.HasColor() {
			test.That(t, gd.Color(), test.ShouldResemble, wd.Color())
		}
	}
}

func TestPLYBinaryHeader(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, ToPLY(makeColoredCloud(t), &buf, PLYBinary), test.ShouldBeNil)
	header := "ply\nformat binary_little_endian 1.0\nelement vertex 3\n" +
		"property float x\nproperty float y\nproperty float z\n" +
		"property uchar red\nproperty uchar green\nproperty uchar blue\nend_header\n"
	test.That(t, strings.HasPrefix(buf.String(), header), test.ShouldBeTrue)
	test.That(t, buf.Len(), test.ShouldEqual, len(header)+3*15)
}

func TestPLYRoundTrip(t *testing.T) {
	want := makeColoredCloud(t)
	for _, typ := range []PLYType{PLYBinary, PLYAscii} {
		var buf bytes.Buffer
		test.That(t, ToPLY(want, &buf, typ), test.ShouldBeNil)
		got, err := ReadPLY(&buf)
		test.That(t, err, test.ShouldBeNil)
		requireSameCloud(t, got, want, 1e-6)
	}

	plain := New()
	test.That(t, plain.Append(NewVector(4, 5, 6), nil), test.ShouldBeNil)
	var buf bytes.Buffer
	test.That(t, ToPLY(plain, &buf, PLYBinary), test.ShouldBeNil)
	test.That(t, strings.Contains(buf.String(), "red"), test.ShouldBeFalse)
	got, err := ReadPLY(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Size(), test.ShouldEqual, 1)
	test.That(t, got.MetaData().HasColor, test.ShouldBeFalse)
}

func TestPLYBigEndianDouble(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("ply\nformat binary_big_endian 1.0\ncomment made by hand\nelement vertex 1\n" +
		"property double x\nproperty double y\nproperty double z\nend_header\n")
	for _, v := range []float64{1.25, -7, 1e-3} {
		var b [8]byte
		bits := math.Float64bits(v)
		for i := 0; i < 8; i++ {
			b[i] = byte(bits >> (56 - 8*i))
		}
		buf.Write(b[:])
	}
	got, err := ReadPLY(&buf)
	test.That(t, err, test.ShouldBeNil)
	p, _ := got.At(0)
	test.That(t, p, test.ShouldResemble, r3.Vector{X: 1.25, Y: -7, Z: 1e-3})
}

func TestPLYMalformed(t *testing.T) {
	for _, tc := range []struct {
		name  string
		input string
		msg   string
	}{
		{"magic", "pcd\n", "not a ply"},
		{"format", "ply\nformat binary_middle_endian 1.0\nelement vertex 0\nend_header\n", "unsupported ply format"},
		{"noVertex", "ply\nformat ascii 1.0\nend_header\n", "no vertex"},
		{"listProperty", "ply\nformat ascii 1.0\nelement vertex 1\nproperty list uchar int idx\nend_header\n", "unsupported ply vertex property"},
		{"truncated", "ply\nformat binary_little_endian 1.0\nelement vertex 2\nproperty float x\n" +
			"property float y\nproperty float z\nend_header\n\x00\x00", "reading ply vertex 0"},
		{"missingZ", "ply\nformat binary_little_endian 1.0\nelement vertex 1\nproperty float x\n" +
			"property float y\nend_header\n\x00\x00\x00\x00\x00\x00\x00\x00", "needs x, y and z"},
		{"header", "ply\nformat ascii 1.0\n", "header"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadPLY(strings.NewReader(tc.input))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.msg)
		})
	}
}

func TestPCDRoundTrip(t *testing.T) {
	want := makeColoredCloud(t)
	for _, typ := range []PCDType{PCDBinary, PCDAscii} {
		var buf bytes.Buffer
		test.That(t, ToPCD(want, &buf, typ), test.ShouldBeNil)
		got, err := ReadPCD(&buf)
		test.That(t, err, test.ShouldBeNil)
		requireSameCloud(t, got, want, 1e-6)
	}

	var buf bytes.Buffer
	test.That(t, ToPCD(want, &buf, PCDCompressed), test.ShouldNotBeNil)
}

func TestPCDHeader(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, ToPCD(makeColoredCloud(t), &buf, PCDAscii), test.ShouldBeNil)
	lines := strings.Split(buf.String(), "\n")
	test.That(t, lines[:10], test.ShouldResemble, []string{
		"VERSION .7",
		"FIELDS x y z rgb",
		"SIZE 4 4 4 4",
		"TYPE F F F I",
		"COUNT 1 1 1 1",
		"WIDTH 3",
		"HEIGHT 1",
		"VIEWPOINT 0 0 0 1 0 0 0",
		"POINTS 3",
		"DATA ascii",
	})
	test.That(t, lines[10], test.ShouldEqual, "0 0 0 16711680")

	bad := strings.Replace(buf.String(), "POINTS 3", "POINTS 4", 1)
	_, err := ReadPCD(strings.NewReader(bad))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "does not match")
}

func TestFormats(t *testing.T) {
	for _, f := range Formats {
		parsed, err := ParseFormat(strings.ToUpper(string(f)))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, f)
	}
	_, err := ParseFormat("obj")
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, FormatPCDAscii.Extension(), test.ShouldEqual, ".pcd")
	test.That(t, FormatPLYAscii.Extension(), test.ShouldEqual, ".ply")
	test.That(t, FormatLAS.Extension(), test.ShouldEqual, ".las")

	f, err := FormatFromExtension("scan1.PLY")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f, test.ShouldEqual, FormatPLY)
	_, err = FormatFromExtension("scan1.xyz")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFileRoundTrip(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := t.TempDir()
	want := makeColoredCloud(t)

	for _, f := range []Format{FormatPLY, FormatPLYAscii, FormatPCD, FormatPCDAscii} {
		fn := filepath.Join(dir, "cloud_"+string(f)+f.Extension())
		test.That(t, WriteToFile(want, fn, f), test.ShouldBeNil)
		got, err := NewFromFile(fn, logger)
		test.That(t, err, test.ShouldBeNil)
		requireSameCloud(t, got, want, 1e-6)
	}

	_, err := NewFromFile(filepath.Join(dir, "missing.ply"), logger)
	test.That(t, err, test.ShouldNotBeNil)

	bogus := filepath.Join(dir, "bogus.pcd")
	test.That(t, os.WriteFile(bogus, []byte("VERSION 9\n"), 0o600), test.ShouldBeNil)
	_, err = NewFromFile(bogus, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsupported pcd version")
}

func TestLASRoundTrip(t *testing.T) {
	logger := logging.NewTestLogger(t)
	fn := filepath.Join(t.TempDir(), "cloud.las")

	want := New()
	test.That(t, want.Append(NewVector(1, 2, 3), NewColoredData(color.NRGBA{255, 0, 0, 255})), test.ShouldBeNil)
	test.That(t, want.Append(NewVector(-4, 5, 60), NewColoredData(color.NRGBA{0, 16, 255, 255})), test.ShouldBeNil)
	test.That(t, WriteToFile(want, fn, FormatLAS), test.ShouldBeNil)
	// overwriting an existing file works
	test.That(t, WriteToFile(want, fn, FormatLAS), test.ShouldBeNil)

	got, err := NewFromFile(fn, logger)
	test.That(t, err, test.ShouldBeNil)
	requireSameCloud(t, got, want, 1e-2)
}
