package fusion

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/depthfuse/rimage"
	"go.viam.com/depthfuse/rimage/transform"
)

// A flat wall at depth planeDepth seen by cameras translated along x by baseline per view.
// Pixels shift by focal*baseline/planeDepth = 1 between neighbouring views.
const (
	sceneWidth  = 8
	sceneHeight = 6
	focal       = 10.0
	planeDepth  = 10.0
	baseline    = 1.0
)

func sceneIntrinsics() []float64 {
	return []float64{focal, 0, sceneWidth / 2, 0, focal, sceneHeight / 2, 0, 0, 1}
}

// sceneExtrinsics returns the world to camera transform of a camera sitting at (tx, 0, 0).
func sceneExtrinsics(tx float64) []float64 {
	return []float64{1, 0, 0, -tx, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

func identityCamera(t *testing.T) *transform.CameraParameters {
	t.Helper()
	cam, err := transform.NewCameraParameters(
		mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
		mat.NewDense(4, 4, sceneExtrinsics(0)),
	)
	test.That(t, err, test.ShouldBeNil)
	return cam
}

func sceneCamera(t *testing.T, tx float64) *transform.CameraParameters {
	t.Helper()
	cam, err := transform.NewCameraParameters(
		mat.NewDense(3, 3, sceneIntrinsics()),
		mat.NewDense(4, 4, sceneExtrinsics(tx)),
	)
	test.That(t, err, test.ShouldBeNil)
	return cam
}

func constantMap(width, height int, v float32) *rimage.FloatMap {
	fm := rimage.NewFloatMap(width, height)
	fm.Fill(v)
	return fm
}

func constantView(t *testing.T, id int, cam *transform.CameraParameters, width, height int, depth float32) *View {
	t.Helper()
	return &View{
		ID:         id,
		Camera:     cam,
		Depth:      constantMap(width, height, depth),
		Confidence: constantMap(width, height, 1),
	}
}

func formatMatrix(values []float64, cols int) string {
	var sb strings.Builder
	for i, v := range values {
		sb.WriteString(fmt.Sprintf("%g", v))
		if (i+1)%cols == 0 {
			sb.WriteString("\n")
		} else {
			sb.WriteString(" ")
		}
	}
	return sb.String()
}

func writeCameraFile(t *testing.T, fn string, intrinsics, extrinsics []float64) {
	t.Helper()
	text := "extrinsic\n" + formatMatrix(extrinsics, 4) + "\nintrinsic\n" + formatMatrix(intrinsics, 3) + "\n425 2.5\n"
	test.That(t, os.MkdirAll(filepath.Dir(fn), 0o750), test.ShouldBeNil)
	test.That(t, os.WriteFile(fn, []byte(text), 0o600), test.ShouldBeNil)
}

func writePFM(t *testing.T, fn string, fm *rimage.FloatMap) {
	t.Helper()
	test.That(t, os.MkdirAll(filepath.Dir(fn), 0o750), test.ShouldBeNil)
	test.That(t, rimage.WritePFMFile(fn, fm), test.ShouldBeNil)
}

func writeColorImage(t *testing.T, fn string, width, height int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(20 * x), G: uint8(30 * y), B: 128, A: 255})
		}
	}
	test.That(t, os.MkdirAll(filepath.Dir(fn), 0o750), test.ShouldBeNil)
	test.That(t, imaging.Save(img, fn), test.ShouldBeNil)
}

func writePairFile(t *testing.T, fn string, pairs []ViewPair) {
	t.Helper()
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d\n", len(pairs)))
	for _, p := range pairs {
		sb.WriteString(fmt.Sprintf("%d\n%d", p.Ref, len(p.Sources)))
		for _, src := range p.Sources {
			sb.WriteString(fmt.Sprintf(" %d 100.0", src))
		}
		sb.WriteString("\n")
	}
	test.That(t, os.MkdirAll(filepath.Dir(fn), 0o750), test.ShouldBeNil)
	test.That(t, os.WriteFile(fn, []byte(sb.String()), 0o600), test.ShouldBeNil)
}

// writeScene lays out a scan of the translated camera scene where view i sits at
// (i*baseline, 0, 0).
func writeScene(t *testing.T, testPath, outDir, name string, pairs []ViewPair) Scan {
	t.Helper()
	scan := Scan{
		Name:       name,
		InputDir:   filepath.Join(testPath, name),
		DepthDir:   filepath.Join(outDir, name),
		OutputPath: filepath.Join(outDir, name+".ply"),
	}
	writePairFile(t, scan.PairPath(), pairs)
	for _, id := range ViewIDs(pairs) {
		writeCameraFile(t, scan.CameraPath(id), sceneIntrinsics(), sceneExtrinsics(float64(id)*baseline))
		writeColorImage(t, scan.ImagePath(id), sceneWidth, sceneHeight)
		writePFM(t, scan.DepthPath(id), constantMap(sceneWidth, sceneHeight, planeDepth))
		writePFM(t, scan.ConfidencePath(id), constantMap(sceneWidth, sceneHeight, 1))
	}
	return scan
}

// sceneConfig samples colors at depth resolution and disables resizing of the small synthetic
// images.
func sceneConfig() Config {
	cfg := DefaultConfig()
	cfg.IntrinsicsDivisor = 1
	cfg.ColorScale = 1
	cfg.ColorOffset = 0
	cfg.ImageMaxHeight = 0
	cfg.ImageMaxWidth = 0
	cfg.Parallelism = 2
	return cfg
}
