package fusion

import (
	"image"
	"math"

	"github.com/pkg/errors"

	"go.viam.com/depthfuse/pointcloud"
	"go.viam.com/depthfuse/rimage"
	"go.viam.com/depthfuse/rimage/transform"
)

// BuildPoints unprojects every pixel of fused.FinalMask with its fused depth into world
// coordinates, in row-major order. Colors come from img at
// (x*ColorScale+ColorOffset, y*ColorScale+ColorOffset); a nil img gives uncolored points.
func BuildPoints(fused *FusedView, cam *transform.CameraParameters, img *image.NRGBA, cfg Config) (pointcloud.PointCloud, error) {
	final := fused.FinalMask
	pc := pointcloud.NewWithPrealloc(final.Count())
	for y := 0; y < final.Height(); y++ {
		for x := 0; x < final.Width(); x++ {
			if !final.GetXY(x, y) {
				continue
			}
			d := pointcloud.NewBasicData()
			if img != nil {
				cx := int(math.Round(float64(x)*cfg.ColorScale + cfg.ColorOffset))
				cy := int(math.Round(float64(y)*cfg.ColorScale + cfg.ColorOffset))
				c, ok := rimage.ColorAt(img, cx, cy)
				if !ok {
					return nil, errors.Errorf("view %d: depth pixel (%d, %d) maps to color pixel (%d, %d) outside the %v image",
						fused.ID, x, y, cx, cy, img.Bounds().Size())
				}
				c.A = 255
				d = pointcloud.NewColoredData(c)
			}
			p := cam.PixelToWorld(float64(x), float64(y), float64(fused.Depth.GetXY(x, y)))
			if err := pc.Append(p, d); err != nil {
				return nil, errors.Wrapf(err, "view %d pixel (%d, %d)", fused.ID, x, y)
			}
		}
	}
	return pc, nil
}
