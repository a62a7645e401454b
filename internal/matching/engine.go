// Package matching ranks stored faces against a query embedding and
// classifies candidates as the same face under per-model thresholds.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/your-org/facefinder/internal/extract"
	"github.com/your-org/facefinder/internal/models"
	"github.com/your-org/facefinder/internal/observability"
	"github.com/your-org/facefinder/internal/storage"
)

// AnalyzeCandidateCap bounds how many nearest candidates AnalyzeImage
// inspects per detected face. Matches beyond the cap are not counted.
const AnalyzeCandidateCap = 100

var (
	// ErrModelMismatch is returned when a stored face is queried under a
	// model other than the one that produced its embedding.
	ErrModelMismatch = errors.New("model does not match stored face")
	// ErrFaceNotInImage is returned when no detected face has the requested
	// bounding box.
	ErrFaceNotInImage = errors.New("no detected face with that bounding box")
	ErrInvalidLimit   = errors.New("limit must be positive")
)

// Repository is the read side of the face catalog the engine needs.
type Repository interface {
	GetFace(ctx context.Context, id int64) (*models.FaceRecord, error)
	FindSimilarFaces(ctx context.Context, query []float32, model models.Model, metric models.Metric, limit int) ([]storage.ScoredFace, error)
}

type Match struct {
	Face     models.FaceRecord
	Distance float64
	IsSame   bool
}

// AnalyzedFace is one face found in a query image with the number of
// stored faces classified as the same person.
type AnalyzedFace struct {
	Detection models.Detection
	Matches   int
}

type Engine struct {
	repo          Repository
	extractor     extract.Extractor
	reg           *models.Registry
	defaultModel  models.Model
	defaultMetric models.Metric
}

// NewEngine builds an engine. extractor may be nil when the image flows are
// not used.
func NewEngine(repo Repository, extractor extract.Extractor, reg *models.Registry, defaultModel models.Model, defaultMetric models.Metric) (*Engine, error) {
	if _, err := reg.Dimension(defaultModel); err != nil {
		return nil, fmt.Errorf("default model: %w", err)
	}
	if _, err := models.ParseMetric(string(defaultMetric)); err != nil {
		return nil, fmt.Errorf("default metric: %w", err)
	}
	return &Engine{
		repo:          repo,
		extractor:     extractor,
		reg:           reg,
		defaultModel:  defaultModel,
		defaultMetric: defaultMetric,
	}, nil
}

func (e *Engine) DefaultModel() models.Model   { return e.defaultModel }
func (e *Engine) DefaultMetric() models.Metric { return e.defaultMetric }

// Classify reports whether distance is within the model's threshold.
func (e *Engine) Classify(model models.Model, distance float64) (bool, error) {
	threshold, err := e.reg.Threshold(model)
	if err != nil {
		return false, err
	}
	return distance <= threshold, nil
}

// FindSimilar returns up to limit faces of model nearest to query, by
// ascending distance with ties ordered by face ID.
func (e *Engine) FindSimilar(ctx context.Context, query []float32, model models.Model, metric models.Metric, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	if _, err := models.ParseModel(string(model)); err != nil {
		return nil, err
	}
	if _, err := models.ParseMetric(string(metric)); err != nil {
		return nil, err
	}
	threshold, err := e.reg.Threshold(model)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	scored, err := e.repo.FindSimilarFaces(ctx, query, model, metric, limit)
	observability.SimilarityQueryDuration.WithLabelValues(string(model), string(metric)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("find similar faces: %w", err)
	}

	matches := make([]Match, 0, len(scored))
	for _, s := range scored {
		if s.Face.Model() != model {
			continue
		}
		matches = append(matches, Match{
			Face:     s.Face,
			Distance: s.Distance,
			IsSame:   s.Distance <= threshold,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if c := storage.CompareDistance(matches[i].Distance, matches[j].Distance); c != 0 {
			return c < 0
		}
		return matches[i].Face.ID < matches[j].Face.ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// FindSimilarToFace ranks faces against a stored face's own embedding. The
// stored face is part of the result at distance zero.
func (e *Engine) FindSimilarToFace(ctx context.Context, id int64, model models.Model, metric models.Metric, limit int) (*models.FaceRecord, []Match, error) {
	face, err := e.repo.GetFace(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if model == "" {
		model = face.Model()
	}
	vector, err := face.Embedding.Get(model)
	if err != nil {
		if errors.Is(err, models.ErrSlotEmpty) {
			return nil, nil, fmt.Errorf("%w: face %d is %s, query is %s", ErrModelMismatch, id, face.Model(), model)
		}
		return nil, nil, err
	}
	matches, err := e.FindSimilar(ctx, vector, model, metric, limit)
	if err != nil {
		return nil, nil, err
	}
	return face, matches, nil
}

// FindSimilarToImage extracts faces from an image with the default model,
// picks the one whose bounding box equals bbox and ranks stored faces
// against it.
func (e *Engine) FindSimilarToImage(ctx context.Context, imagePath string, bbox models.BoundingBox, limit int) (*models.Detection, []Match, error) {
	detections, err := e.extract(ctx, imagePath)
	if err != nil {
		return nil, nil, err
	}
	for i := range detections {
		if detections[i].BBox == bbox {
			matches, err := e.FindSimilar(ctx, detections[i].Embedding, e.defaultModel, e.defaultMetric, limit)
			if err != nil {
				return nil, nil, err
			}
			return &detections[i], matches, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrFaceNotInImage, bbox)
}

// AnalyzeImage counts, for every face in the image, the stored faces
// classified as the same under the default model and metric. Only the
// nearest AnalyzeCandidateCap candidates are considered, so a face with
// more matches than that is undercounted. extract.ErrNoFace is returned
// unchanged.
func (e *Engine) AnalyzeImage(ctx context.Context, imagePath string) ([]AnalyzedFace, error) {
	detections, err := e.extract(ctx, imagePath)
	if err != nil {
		return nil, err
	}

	out := make([]AnalyzedFace, 0, len(detections))
	for _, d := range detections {
		matches, err := e.FindSimilar(ctx, d.Embedding, e.defaultModel, e.defaultMetric, AnalyzeCandidateCap)
		if err != nil {
			return nil, err
		}
		n := 0
		for _, m := range matches {
			if m.IsSame {
				n++
			}
		}
		out = append(out, AnalyzedFace{Detection: d, Matches: n})
	}
	return out, nil
}

func (e *Engine) extract(ctx context.Context, imagePath string) ([]models.Detection, error) {
	if e.extractor == nil {
		return nil, errors.New("no extractor configured")
	}
	detections, err := e.extractor.Extract(ctx, imagePath, e.defaultModel)
	if err != nil {
		if errors.Is(err, extract.ErrNoFace) {
			return nil, err
		}
		return nil, fmt.Errorf("extract faces: %w", err)
	}
	return detections, nil
}
