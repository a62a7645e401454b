package models

import (
	"errors"
	"testing"

	"github.com/pgvector/pgvector-go"
)

func vec(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(i) / float32(n)
	}
	return v
}

func TestDimensionTable(t *testing.T) {
	reg := DefaultRegistry()

	want := map[Model]int{
		ModelVGGFace:    4096,
		ModelFacenet:    128,
		ModelArcFace:    512,
		ModelFacenet512: 512,
	}
	for m, d := range want {
		got, err := reg.Dimension(m)
		if err != nil {
			t.Fatalf("Dimension(%s): %v", m, err)
		}
		if got != d {
			t.Errorf("Dimension(%s) = %d, want %d", m, got, d)
		}
	}
}

func TestEmbeddingSetRejectsWrongLength(t *testing.T) {
	reg := DefaultRegistry()

	for _, m := range KnownModels {
		d, _ := reg.Dimension(m)
		for _, n := range []int{0, 1, d - 1, d + 1} {
			var e Embedding
			err := e.Set(reg, vec(n), m)
			if !errors.Is(err, ErrDimensionMismatch) {
				t.Errorf("Set(%s, len %d) error = %v, want ErrDimensionMismatch", m, n, err)
			}
			if !e.IsZero() {
				t.Errorf("Set(%s, len %d) populated the slot on failure", m, n)
			}
		}
	}
}

func TestEmbeddingArcFaceScenario(t *testing.T) {
	reg, err := NewRegistry(map[Model]int{ModelArcFace: 512}, map[Model]float64{ModelArcFace: 0.6})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewEmbedding(reg, vec(512), ModelArcFace); err != nil {
		t.Errorf("512-length ArcFace vector: %v", err)
	}
	if _, err := NewEmbedding(reg, vec(511), ModelArcFace); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("511-length ArcFace vector error = %v, want ErrDimensionMismatch", err)
	}
}

func TestEmbeddingSetReplacesSlot(t *testing.T) {
	reg := DefaultRegistry()

	var e Embedding
	if err := e.Set(reg, vec(128), ModelFacenet); err != nil {
		t.Fatal(err)
	}
	if err := e.Set(reg, vec(4096), ModelVGGFace); err != nil {
		t.Fatal(err)
	}

	if e.Model() != ModelVGGFace {
		t.Errorf("Model() = %s, want %s", e.Model(), ModelVGGFace)
	}
	if _, err := e.Get(ModelFacenet); !errors.Is(err, ErrSlotEmpty) {
		t.Errorf("Get(Facenet) after overwrite error = %v, want ErrSlotEmpty", err)
	}
	v, err := e.Get(ModelVGGFace)
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 4096 {
		t.Errorf("len = %d, want 4096", len(v))
	}
}

func TestEmbeddingSharedDimensionIsNotInterchangeable(t *testing.T) {
	reg := DefaultRegistry()

	e, err := NewEmbedding(reg, vec(512), ModelArcFace)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Get(ModelFacenet512); !errors.Is(err, ErrSlotEmpty) {
		t.Errorf("Get(Facenet512) on ArcFace slot error = %v, want ErrSlotEmpty", err)
	}
}

func TestEmbeddingUnsupportedModel(t *testing.T) {
	reg := DefaultRegistry()

	if _, err := NewEmbedding(reg, vec(512), Model("Dlib")); !errors.Is(err, ErrUnsupportedModel) {
		t.Errorf("error = %v, want ErrUnsupportedModel", err)
	}
}

func TestEmbeddingInputConversions(t *testing.T) {
	reg, err := NewRegistry(map[Model]int{ModelFacenet: 3}, map[Model]float64{ModelFacenet: 0.8})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		input any
		want  []float32
	}{
		{"float32", []float32{1, 2, 3}, []float32{1, 2, 3}},
		{"float64", []float64{1.5, 2.5, 3.5}, []float32{1.5, 2.5, 3.5}},
		{"pgvector", pgvector.NewVector([]float32{4, 5, 6}), []float32{4, 5, 6}},
		{"indexed map", map[string]float64{"2": 3, "0": 1, "1": 2}, []float32{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEmbedding(reg, tt.input, ModelFacenet)
			if err != nil {
				t.Fatal(err)
			}
			got, _ := e.Get(ModelFacenet)
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestEmbeddingRejectsBadIndexKeys(t *testing.T) {
	reg, err := NewRegistry(map[Model]int{ModelFacenet: 3}, map[Model]float64{ModelFacenet: 0.8})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		input map[string]float64
	}{
		{"non-numeric", map[string]float64{"0": 1, "1": 2, "x": 3}},
		{"negative", map[string]float64{"0": 1, "1": 2, "-1": 3}},
		{"gap", map[string]float64{"0": 1, "1": 2, "5": 3}},
		{"duplicate position", map[string]float64{"0": 1, "1": 2, "01": 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEmbedding(reg, tt.input, ModelFacenet); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEmbeddingSetCopiesInput(t *testing.T) {
	reg := DefaultRegistry()
	in := vec(128)

	e, err := NewEmbedding(reg, in, ModelFacenet)
	if err != nil {
		t.Fatal(err)
	}
	in[0] = 42
	got, _ := e.Get(ModelFacenet)
	if got[0] == 42 {
		t.Error("embedding aliases caller slice")
	}
}
