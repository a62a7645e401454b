package models

import (
	"fmt"
	"sort"
)

type Model string

const (
	ModelVGGFace    Model = "VGG-Face"
	ModelFacenet    Model = "Facenet"
	ModelArcFace    Model = "ArcFace"
	ModelFacenet512 Model = "Facenet512"
)

// KnownModels lists every embedding model the catalog understands.
var KnownModels = []Model{ModelVGGFace, ModelFacenet, ModelArcFace, ModelFacenet512}

// ParseModel validates a model name coming from config or a request.
func ParseModel(s string) (Model, error) {
	for _, m := range KnownModels {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedModel, s)
}

type Metric string

const (
	MetricL2     Metric = "l2"
	MetricCosine Metric = "cosine"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricL2, MetricCosine:
		return Metric(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMetric, s)
}

// DefaultDimensions must match what the extractor actually emits per model.
var DefaultDimensions = map[Model]int{
	ModelVGGFace:    4096,
	ModelFacenet:    128,
	ModelArcFace:    512,
	ModelFacenet512: 512,
}

// DefaultThresholds are max cosine distances for "same face".
var DefaultThresholds = map[Model]float64{
	ModelFacenet:    0.8,
	ModelFacenet512: 0.5,
	ModelVGGFace:    0.6,
	ModelArcFace:    0.6,
}

// Registry holds the per-model dimensionality and threshold tables.
// It is built once at startup and never mutated; all accessors are safe
// for concurrent use.
type Registry struct {
	dims       map[Model]int
	thresholds map[Model]float64
}

// NewRegistry copies the given tables. Every model with a dimension must
// also have a threshold and vice versa.
func NewRegistry(dims map[Model]int, thresholds map[Model]float64) (*Registry, error) {
	r := &Registry{
		dims:       make(map[Model]int, len(dims)),
		thresholds: make(map[Model]float64, len(thresholds)),
	}
	for m, d := range dims {
		if _, err := ParseModel(string(m)); err != nil {
			return nil, err
		}
		if d <= 0 {
			return nil, fmt.Errorf("model %s: dimension must be positive, got %d", m, d)
		}
		if _, ok := thresholds[m]; !ok {
			return nil, fmt.Errorf("%w: %s has no threshold", ErrUnsupportedModel, m)
		}
		r.dims[m] = d
	}
	for m, t := range thresholds {
		if _, ok := dims[m]; !ok {
			return nil, fmt.Errorf("%w: %s has no dimension", ErrUnsupportedModel, m)
		}
		if t < 0 {
			return nil, fmt.Errorf("model %s: threshold must not be negative", m)
		}
		r.thresholds[m] = t
	}
	return r, nil
}

// DefaultRegistry returns a registry over the built-in tables.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultDimensions, DefaultThresholds)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) Dimension(m Model) (int, error) {
	d, ok := r.dims[m]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedModel, m)
	}
	return d, nil
}

func (r *Registry) Threshold(m Model) (float64, error) {
	t, ok := r.thresholds[m]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedModel, m)
	}
	return t, nil
}

// Models returns the registered models sorted by name.
func (r *Registry) Models() []Model {
	out := make([]Model, 0, len(r.dims))
	for m := range r.dims {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dimensions returns the distinct vector sizes in use, ascending.
func (r *Registry) Dimensions() []int {
	seen := map[int]bool{}
	var out []int
	for _, d := range r.dims {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Ints(out)
	return out
}
