package vision

import (
	"fmt"
	"image"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facefinder/internal/models"
)

// Candidate is a face proposed by the detector, in source image pixels.
type Candidate struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
	Landmarks  [5][2]float32 // eyes, nose, mouth corners
}

// Box converts the corner form to an integer x/y/w/h box.
func (c Candidate) Box() models.BoundingBox {
	x1 := int(math.Round(float64(c.BBox[0])))
	y1 := int(math.Round(float64(c.BBox[1])))
	x2 := int(math.Round(float64(c.BBox[2])))
	y2 := int(math.Round(float64(c.BBox[3])))
	return models.BoundingBox{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// Eyes returns the eye landmarks as they appear in the image, left first.
func (c Candidate) Eyes() (left, right models.Point) {
	a := models.Point{X: int(math.Round(float64(c.Landmarks[0][0]))), Y: int(math.Round(float64(c.Landmarks[0][1])))}
	b := models.Point{X: int(math.Round(float64(c.Landmarks[1][0]))), Y: int(math.Round(float64(c.Landmarks[1][1])))}
	if b.X < a.X {
		a, b = b, a
	}
	return a, b
}

// Detector runs RetinaFace (det_10g) face detection using ONNX Runtime.
// A Detector owns fixed input/output tensors and is not safe for concurrent use.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	inputW        int
	inputH        int
}

var strides = []int{8, 16, 32}

const (
	anchorsPerStride = 2
	nmsThreshold     = 0.4
)

// NewDetector loads the RetinaFace ONNX model.
// opts may be nil (ORT defaults) or a pre-configured *ort.SessionOptions.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	inputW, inputH := 640, 640

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(inputH), int64(inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	// det_10g outputs have no batch dimension. Row counts are
	// (640/stride)^2 * 2 anchors: 12800, 3200, 800.
	outputs := []struct {
		name  string
		shape ort.Shape
	}{
		{"448", ort.NewShape(12800, 1)},
		{"471", ort.NewShape(3200, 1)},
		{"494", ort.NewShape(800, 1)},
		{"451", ort.NewShape(12800, 4)},
		{"474", ort.NewShape(3200, 4)},
		{"497", ort.NewShape(800, 4)},
		{"454", ort.NewShape(12800, 10)},
		{"477", ort.NewShape(3200, 10)},
		{"500", ort.NewShape(800, 10)},
	}

	outputNames := make([]string, len(outputs))
	outputTensors := make([]*ort.Tensor[float32], len(outputs))
	outputValues := make([]ort.Value, len(outputs))
	for i, o := range outputs {
		outputNames[i] = o.name
		t, err := ort.NewEmptyTensor[float32](o.shape)
		if err != nil {
			for j := 0; j < i; j++ {
				outputTensors[j].Destroy()
			}
			inputTensor.Destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", o.name, err)
		}
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			t.Destroy()
		}
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		inputW:        inputW,
		inputH:        inputH,
	}, nil
}

// Detect finds faces in img, highest confidence first.
func (d *Detector) Detect(img image.Image) ([]Candidate, error) {
	b := img.Bounds()
	copy(d.inputTensor.GetData(), toCHW(img, d.inputW, d.inputH, detectorNorm))

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	return nms(d.decode(b.Dx(), b.Dy()), nmsThreshold), nil
}

// decode turns the anchor-based outputs at strides 8, 16 and 32 into
// candidates scaled back to the original image size.
func (d *Detector) decode(origW, origH int) []Candidate {
	var out []Candidate

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		bboxes := d.outputTensors[si+3].GetData()
		landmarks := d.outputTensors[si+6].GetData()

		fmW := d.inputW / stride
		fmH := d.inputH / stride
		st := float32(stride)

		idx := 0
		for cy := 0; cy < fmH; cy++ {
			for cx := 0; cx < fmW; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					if scores[idx] >= d.threshold {
						ax := float32(cx) * st
						ay := float32(cy) * st

						c := Candidate{
							BBox: [4]float32{
								clampF((ax-bboxes[idx*4+0]*st)*scaleW, 0, float32(origW)),
								clampF((ay-bboxes[idx*4+1]*st)*scaleH, 0, float32(origH)),
								clampF((ax+bboxes[idx*4+2]*st)*scaleW, 0, float32(origW)),
								clampF((ay+bboxes[idx*4+3]*st)*scaleH, 0, float32(origH)),
							},
							Confidence: scores[idx],
						}
						for li := 0; li < 5; li++ {
							c.Landmarks[li][0] = (ax + landmarks[idx*10+li*2]*st) * scaleW
							c.Landmarks[li][1] = (ay + landmarks[idx*10+li*2+1]*st) * scaleH
						}
						out = append(out, c)
					}
					idx++
				}
			}
		}
	}
	return out
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms performs Non-Maximum Suppression, keeping the most confident of any
// overlapping pair.
func nms(cands []Candidate, iouThreshold float32) []Candidate {
	if len(cands) == 0 {
		return cands
	}

	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Confidence > cands[j].Confidence
	})

	keep := make([]bool, len(cands))
	for i := range keep {
		keep[i] = true
	}
	for i := 0; i < len(cands); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(cands); j++ {
			if keep[j] && iou(cands[i].BBox, cands[j].BBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	var result []Candidate
	for i, c := range cands {
		if keep[i] {
			result = append(result, c)
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])

	intersection := max(0, x2-x1) * max(0, y2-y1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
