package vision

import (
	"image"

	"golang.org/x/image/draw"

	"github.com/your-org/facefinder/internal/models"
)

// normalization is applied per channel as (pixel - mean) / std.
type normalization struct {
	mean [3]float32
	std  [3]float32
	bgr  bool
}

var (
	detectorNorm = normalization{mean: [3]float32{127.5, 127.5, 127.5}, std: [3]float32{128, 128, 128}}
	insightNorm  = normalization{mean: [3]float32{127.5, 127.5, 127.5}, std: [3]float32{127.5, 127.5, 127.5}}
	facenetNorm  = normalization{mean: [3]float32{127.5, 127.5, 127.5}, std: [3]float32{128, 128, 128}}
	vggNorm      = normalization{mean: [3]float32{93.594, 104.7624, 129.1863}, std: [3]float32{1, 1, 1}, bgr: true}
)

// embedderNorms holds the input normalisation each recognition model was
// trained with.
var embedderNorms = map[models.Model]normalization{
	models.ModelArcFace:    insightNorm,
	models.ModelFacenet:    facenetNorm,
	models.ModelFacenet512: facenetNorm,
	models.ModelVGGFace:    vggNorm,
}

func resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

func pixel(img *image.RGBA, x, y int, n normalization) (float32, float32, float32) {
	i := img.PixOffset(x, y)
	r, g, b := float32(img.Pix[i]), float32(img.Pix[i+1]), float32(img.Pix[i+2])
	if n.bgr {
		r, b = b, r
	}
	return (r - n.mean[0]) / n.std[0], (g - n.mean[1]) / n.std[1], (b - n.mean[2]) / n.std[2]
}

// toCHW resizes img and lays it out as [3][h][w].
func toCHW(img image.Image, w, h int, n normalization) []float32 {
	resized := resize(img, w, h)
	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c0, c1, c2 := pixel(resized, x, y, n)
			idx := y*w + x
			data[idx] = c0
			data[plane+idx] = c1
			data[2*plane+idx] = c2
		}
	}
	return data
}

// toHWC resizes img and lays it out as [h][w][3].
func toHWC(img image.Image, w, h int, n normalization) []float32 {
	resized := resize(img, w, h)
	data := make([]float32, 3*w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c0, c1, c2 := pixel(resized, x, y, n)
			idx := (y*w + x) * 3
			data[idx] = c0
			data[idx+1] = c1
			data[idx+2] = c2
		}
	}
	return data
}

// cropFace cuts the box out of img with 10% padding on each side, clamped
// to the image. Returns nil when the box does not overlap the image.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	r := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])).Intersect(img.Bounds())
	if r.Empty() {
		return nil
	}
	padW := r.Dx() / 10
	padH := r.Dy() / 10
	r = image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH).Intersect(img.Bounds())

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)
	return crop
}
