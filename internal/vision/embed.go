package vision

import (
	"fmt"
	"image"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

// Embedder maps an aligned face crop to a fixed-size embedding with one
// ONNX recognition model. Not safe for concurrent use.
type Embedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	layout       tensorLayout
	norm         normalization
	inputW       int
	inputH       int
	embDim       int
}

// NewEmbedder loads a recognition model and checks that it emits dim values.
// Tensor names and the input size are read from the model itself, so any
// single-input single-output NCHW or NHWC export works.
func NewEmbedder(modelPath string, dim int, norm normalization, opts *ort.SessionOptions) (*Embedder, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("inspect embedder model: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("embedder model must have one input and one output, got %d and %d", len(inputs), len(outputs))
	}

	layout, inputW, inputH, err := parseInputShape(inputs[0].Dimensions)
	if err != nil {
		return nil, fmt.Errorf("embedder input %s: %w", inputs[0].Name, err)
	}
	outDims := outputs[0].Dimensions
	if len(outDims) == 0 || (outDims[len(outDims)-1] > 0 && int(outDims[len(outDims)-1]) != dim) {
		return nil, fmt.Errorf("embedder output %s has shape %v, want %d values", outputs[0].Name, outDims, dim)
	}

	var inputShape ort.Shape
	if layout == layoutNHWC {
		inputShape = ort.NewShape(1, int64(inputH), int64(inputW), 3)
	} else {
		inputShape = ort.NewShape(1, 3, int64(inputH), int64(inputW))
	}
	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dim)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		opts,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		layout:       layout,
		norm:         norm,
		inputW:       inputW,
		inputH:       inputH,
		embDim:       dim,
	}, nil
}

// Embed returns the L2-normalised embedding of a face crop.
func (e *Embedder) Embed(face image.Image) ([]float32, error) {
	var data []float32
	if e.layout == layoutNHWC {
		data = toHWC(face, e.inputW, e.inputH, e.norm)
	} else {
		data = toCHW(face, e.inputW, e.inputH, e.norm)
	}
	copy(e.inputTensor.GetData(), data)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	embedding := make([]float32, e.embDim)
	copy(embedding, e.outputTensor.GetData())
	normalize(embedding)
	return embedding, nil
}

func (e *Embedder) Dim() int { return e.embDim }

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

type tensorLayout int

const (
	layoutNCHW tensorLayout = iota
	layoutNHWC
)

// parseInputShape recognises [N,3,H,W] and [N,H,W,3]. The batch dimension
// may be dynamic; height and width must be fixed.
func parseInputShape(shape ort.Shape) (tensorLayout, int, int, error) {
	if len(shape) != 4 {
		return 0, 0, 0, fmt.Errorf("want a 4-d input, got %v", shape)
	}
	switch {
	case shape[1] == 3 && shape[2] > 0 && shape[3] > 0:
		return layoutNCHW, int(shape[3]), int(shape[2]), nil
	case shape[3] == 3 && shape[1] > 0 && shape[2] > 0:
		return layoutNHWC, int(shape[2]), int(shape[1]), nil
	}
	return 0, 0, 0, fmt.Errorf("unsupported input shape %v", shape)
}

// normalize performs L2 normalization in-place.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
