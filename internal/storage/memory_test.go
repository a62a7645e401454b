package storage

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/your-org/facefinder/internal/models"
)

func testRegistry(t *testing.T) *models.Registry {
	t.Helper()
	reg, err := models.NewRegistry(
		map[models.Model]int{models.ModelArcFace: 3, models.ModelFacenet512: 3, models.ModelFacenet: 2},
		map[models.Model]float64{models.ModelArcFace: 0.6, models.ModelFacenet512: 0.5, models.ModelFacenet: 0.8},
	)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func face(t *testing.T, reg *models.Registry, image string, model models.Model, v ...float32) *models.FaceRecord {
	t.Helper()
	emb, err := models.NewEmbedding(reg, v, model)
	if err != nil {
		t.Fatal(err)
	}
	return &models.FaceRecord{
		SourceImage: image,
		BBox:        models.BoundingBox{X: 1, Y: 2, W: 40, H: 40},
		Confidence:  0.9,
		Quality:     1,
		Embedding:   emb,
	}
}

func TestMemoryStoreInsertAndGet(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	s := NewMemoryStore(reg)

	id1, err := s.InsertFace(ctx, face(t, reg, "a.jpg", models.ModelArcFace, 1, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	id2, _ := s.InsertFace(ctx, face(t, reg, "a.jpg", models.ModelArcFace, 0, 1, 0))
	if id1 == id2 {
		t.Fatalf("ids not unique: %d %d", id1, id2)
	}

	got, err := s.GetFace(ctx, id2)
	if err != nil {
		t.Fatal(err)
	}
	if got.SourceImage != "a.jpg" || got.Model() != models.ModelArcFace {
		t.Errorf("GetFace = %+v", got)
	}

	if _, err := s.GetFace(ctx, 999); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetFace(999) err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreRejectsEmptySlot(t *testing.T) {
	s := NewMemoryStore(testRegistry(t))
	_, err := s.InsertFace(context.Background(), &models.FaceRecord{SourceImage: "x.jpg"})
	if !errors.Is(err, models.ErrSlotEmpty) {
		t.Errorf("err = %v, want ErrSlotEmpty", err)
	}
}

func TestMemoryStoreFindSimilar(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	s := NewMemoryStore(reg)

	s.InsertFace(ctx, face(t, reg, "far.jpg", models.ModelArcFace, 0, 0, 1))
	s.InsertFace(ctx, face(t, reg, "near.jpg", models.ModelArcFace, 1, 0.1, 0))
	s.InsertFace(ctx, face(t, reg, "other-model.jpg", models.ModelFacenet512, 1, 0, 0))
	s.InsertFace(ctx, face(t, reg, "exact-a.jpg", models.ModelArcFace, 2, 0, 0))
	s.InsertFace(ctx, face(t, reg, "exact-b.jpg", models.ModelArcFace, 3, 0, 0))

	got, err := s.FindSimilarFaces(ctx, []float32{1, 0, 0}, models.ModelArcFace, models.MetricCosine, 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"exact-a.jpg", "exact-b.jpg", "near.jpg", "far.jpg"}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Face.SourceImage != w {
			t.Errorf("result[%d] = %s, want %s", i, got[i].Face.SourceImage, w)
		}
		if got[i].Face.Model() != models.ModelArcFace {
			t.Errorf("result[%d] has model %s", i, got[i].Face.Model())
		}
		if i > 0 && got[i].Distance < got[i-1].Distance {
			t.Errorf("results not ascending at %d", i)
		}
	}

	top, _ := s.FindSimilarFaces(ctx, []float32{1, 0, 0}, models.ModelArcFace, models.MetricL2, 1)
	if len(top) != 1 || top[0].Face.SourceImage != "near.jpg" {
		t.Errorf("l2 top = %+v, want near.jpg", top)
	}
}

func TestMemoryStoreFindSimilarErrors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(testRegistry(t))

	tests := []struct {
		name   string
		query  []float32
		model  models.Model
		metric models.Metric
		want   error
	}{
		{"wrong dimension", []float32{1, 0}, models.ModelArcFace, models.MetricCosine, models.ErrDimensionMismatch},
		{"unknown model", []float32{1, 0, 0}, models.ModelVGGFace, models.MetricCosine, models.ErrUnsupportedModel},
		{"unknown metric", []float32{1, 0, 0}, models.ModelArcFace, "dot", models.ErrUnsupportedMetric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.FindSimilarFaces(ctx, tt.query, tt.model, tt.metric, 5)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMemoryStoreLookups(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	s := NewMemoryStore(reg)

	s.InsertFace(ctx, face(t, reg, "Beach.JPG", models.ModelArcFace, 1, 0, 0))
	s.InsertFace(ctx, face(t, reg, "Beach.JPG", models.ModelFacenet, 1, 0))
	s.InsertFace(ctx, face(t, reg, "party.png", models.ModelArcFace, 0, 1, 0))

	byImage, _ := s.FindFacesBySourceImage(ctx, "beach.jpg")
	if len(byImage) != 2 {
		t.Errorf("FindFacesBySourceImage = %d faces, want 2", len(byImage))
	}

	images, _ := s.ListSourceImages(ctx)
	if len(images) != 2 {
		t.Errorf("ListSourceImages = %v, want 2 distinct", images)
	}

	tests := []struct {
		search string
		limit  int
		want   int
	}{
		{"", 10, 3},
		{"", 2, 2},
		{"party", 10, 1},
		{"facenet", 10, 1},
		{"party beach", 10, 3},
		{"nothing", 10, 0},
	}
	for _, tt := range tests {
		got, err := s.FindRandomFaces(ctx, tt.limit, tt.search)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != tt.want {
			t.Errorf("FindRandomFaces(%d, %q) = %d faces, want %d", tt.limit, tt.search, len(got), tt.want)
		}
	}
}

func TestMemoryStoreCountFacesSince(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	s := NewMemoryStore(reg)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	s.now = func() time.Time { return clock }

	s.InsertFace(ctx, face(t, reg, "old.jpg", models.ModelArcFace, 1, 0, 0))
	clock = base.Add(48 * time.Hour)
	s.InsertFace(ctx, face(t, reg, "new.jpg", models.ModelArcFace, 1, 0, 0))

	total, _ := s.CountFaces(ctx, nil)
	if total != 2 {
		t.Errorf("CountFaces(nil) = %d, want 2", total)
	}
	since := clock.Add(-24 * time.Hour)
	recent, _ := s.CountFaces(ctx, &since)
	if recent != 1 {
		t.Errorf("CountFaces(since) = %d, want 1", recent)
	}
}

func TestMemoryStoreZeroVectorsRankLast(t *testing.T) {
	ctx := context.Background()
	reg := testRegistry(t)
	s := NewMemoryStore(reg)

	vectors := [][]float32{{0, 1, 0}, {0, 0, 0}, {1, 0, 0}, {0, 0, 0}, {1, 0.1, 0}}
	for _, v := range vectors {
		if _, err := s.InsertFace(ctx, face(t, reg, "z.jpg", models.ModelArcFace, v...)); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.FindSimilarFaces(ctx, []float32{1, 0, 0}, models.ModelArcFace, models.MetricCosine, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d results, want 5", len(got))
	}
	if got[0].Distance != 0 || got[0].Face.ID != 3 {
		t.Errorf("first = face %d at %v, want exact match face 3", got[0].Face.ID, got[0].Distance)
	}
	for i := 0; i < 3; i++ {
		if math.IsNaN(got[i].Distance) {
			t.Errorf("result %d has NaN distance ahead of a finite one", i)
		}
	}
	if !math.IsNaN(got[3].Distance) || !math.IsNaN(got[4].Distance) {
		t.Errorf("zero vectors not ranked last: %v, %v", got[3].Distance, got[4].Distance)
	}
}

func TestCompareDistance(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		a, b float64
		want int
	}{
		{0.1, 0.2, -1},
		{0.2, 0.1, 1},
		{0.3, 0.3, 0},
		{nan, 5, 1},
		{5, nan, -1},
		{nan, nan, 0},
	}
	for _, tt := range tests {
		if got := CompareDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareDistance(%v, %v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDistances(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	if d := L2Distance(a, b); math.Abs(d-math.Sqrt2) > 1e-9 {
		t.Errorf("L2Distance = %v", d)
	}
	if d := CosineDistance(a, b); math.Abs(d-1) > 1e-9 {
		t.Errorf("CosineDistance orthogonal = %v", d)
	}
	if d := CosineDistance(a, []float32{5, 0}); math.Abs(d) > 1e-9 {
		t.Errorf("CosineDistance parallel = %v", d)
	}
}
