package vision

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "golang.org/x/image/webp"

	"github.com/your-org/facefinder/internal/config"
	"github.com/your-org/facefinder/internal/extract"
	"github.com/your-org/facefinder/internal/models"
	"github.com/your-org/facefinder/internal/observability"
)

// LocalExtractor detects faces with RetinaFace and embeds them with one
// ONNX model per configured embedding model, all in-process. Calls are
// serialised because the sessions share fixed tensors.
type LocalExtractor struct {
	mu        sync.Mutex
	detector  *Detector
	embedders map[models.Model]*Embedder
}

var _ extract.Extractor = (*LocalExtractor)(nil)

// NewLocalExtractor loads the detector and every embedder listed in
// cfg.EmbedderFiles. Each embedder must emit the registry dimension of its
// model.
func NewLocalExtractor(cfg config.VisionConfig, reg *models.Registry) (*LocalExtractor, error) {
	detPath := filepath.Join(cfg.ModelsDir, cfg.DetectorFile)
	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), nil)
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	x := &LocalExtractor{
		detector:  det,
		embedders: make(map[models.Model]*Embedder, len(cfg.EmbedderFiles)),
	}

	for name, file := range cfg.EmbedderFiles {
		model, err := models.ParseModel(name)
		if err != nil {
			x.Close()
			return nil, fmt.Errorf("vision.embedder_files: %w", err)
		}
		dim, err := reg.Dimension(model)
		if err != nil {
			x.Close()
			return nil, fmt.Errorf("vision.embedder_files: %w", err)
		}

		path := filepath.Join(cfg.ModelsDir, file)
		slog.Info("loading embedding model", "model", model, "path", path, "dim", dim)
		emb, err := NewEmbedder(path, dim, embedderNorms[model], nil)
		if err != nil {
			x.Close()
			return nil, fmt.Errorf("load embedder %s: %w", model, err)
		}
		x.embedders[model] = emb
	}

	slog.Info("local extractor ready", "models", x.Models())
	return x, nil
}

// Models lists the embedding models this extractor can serve.
func (x *LocalExtractor) Models() []models.Model {
	out := make([]models.Model, 0, len(x.embedders))
	for m := range x.embedders {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (x *LocalExtractor) Extract(ctx context.Context, imagePath string, model models.Model) ([]models.Detection, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", filepath.Base(imagePath), err)
	}
	return x.ExtractImage(ctx, img, model)
}

// ExtractImage runs detection and embedding on an already decoded image.
func (x *LocalExtractor) ExtractImage(ctx context.Context, img image.Image, model models.Model) ([]models.Detection, error) {
	emb, ok := x.embedders[model]
	if !ok {
		return nil, fmt.Errorf("%w: no embedder loaded for %s", models.ErrUnsupportedModel, model)
	}

	start := time.Now()
	defer func() {
		observability.ExtractionDuration.WithLabelValues("local", string(model)).Observe(time.Since(start).Seconds())
	}()

	x.mu.Lock()
	defer x.mu.Unlock()

	cands, err := x.detector.Detect(img)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	if len(cands) == 0 {
		return nil, extract.ErrNoFace
	}

	out := make([]models.Detection, 0, len(cands))
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		crop := cropFace(img, c.BBox)
		if crop == nil {
			continue
		}
		vector, err := emb.Embed(crop)
		if err != nil {
			return nil, fmt.Errorf("embed face: %w", err)
		}
		left, right := c.Eyes()
		out = append(out, models.Detection{
			BBox:       c.Box(),
			LeftEye:    left,
			RightEye:   right,
			Confidence: float64(c.Confidence),
			Embedding:  vector,
		})
	}
	if len(out) == 0 {
		return nil, extract.ErrNoFace
	}
	return out, nil
}

// Close releases all ONNX sessions.
func (x *LocalExtractor) Close() {
	if x.detector != nil {
		x.detector.Close()
	}
	for _, e := range x.embedders {
		e.Close()
	}
}
