package models

import (
	"fmt"
	"strconv"

	"github.com/pgvector/pgvector-go"
)

// Embedding is the single model-tagged vector slot of a face. The zero value
// is an empty slot. A populated Embedding always has len(vector) equal to the
// registry dimension of its model; the only way to populate it is Set or
// NewEmbedding.
type Embedding struct {
	model  Model
	vector []float32
}

// NewEmbedding builds a populated slot, see Set.
func NewEmbedding(reg *Registry, vector any, model Model) (Embedding, error) {
	var e Embedding
	if err := e.Set(reg, vector, model); err != nil {
		return Embedding{}, err
	}
	return e, nil
}

// Set converts vector to a dense float32 slice, validates it against the
// model's dimensionality and replaces whatever the slot held before.
// Accepted inputs are []float32, []float64 and map[string]float64 keyed by
// element index, the shape some extractors emit.
func (e *Embedding) Set(reg *Registry, vector any, model Model) error {
	want, err := reg.Dimension(model)
	if err != nil {
		return err
	}

	v, err := toFloat32(vector)
	if err != nil {
		return err
	}
	if len(v) != want {
		return fmt.Errorf("%w: model %s expects %d, got %d", ErrDimensionMismatch, model, want, len(v))
	}

	e.model = model
	e.vector = v
	return nil
}

// Get returns the vector when the slot holds one produced by model.
func (e Embedding) Get(model Model) ([]float32, error) {
	if len(e.vector) == 0 {
		return nil, fmt.Errorf("%w: no vector set", ErrSlotEmpty)
	}
	if e.model != model {
		return nil, fmt.Errorf("%w: slot holds %s, not %s", ErrSlotEmpty, e.model, model)
	}
	return e.vector, nil
}

// Model returns the producing model, empty for an unset slot.
func (e Embedding) Model() Model { return e.model }

func (e Embedding) IsZero() bool { return len(e.vector) == 0 }

func toFloat32(vector any) ([]float32, error) {
	switch v := vector.(type) {
	case []float32:
		out := make([]float32, len(v))
		copy(out, v)
		return out, nil
	case pgvector.Vector:
		return toFloat32(v.Slice())
	case []float64:
		out := make([]float32, len(v))
		for i, x := range v {
			out[i] = float32(x)
		}
		return out, nil
	case map[string]float64:
		// Keys are the positions 0..len-1, each exactly once.
		out := make([]float32, len(v))
		seen := make([]bool, len(v))
		for k, x := range v {
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 || i >= len(v) || seen[i] {
				return nil, fmt.Errorf("invalid vector index %q", k)
			}
			seen[i] = true
			out[i] = float32(x)
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("%w: nil vector", ErrSlotEmpty)
	default:
		return nil, fmt.Errorf("unsupported vector type %T", vector)
	}
}
