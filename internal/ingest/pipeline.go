package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/your-org/facefinder/internal/extract"
	"github.com/your-org/facefinder/internal/models"
	"github.com/your-org/facefinder/internal/observability"
)

// Repository is the slice of the face catalog ingestion writes through.
type Repository interface {
	ListSourceImages(ctx context.Context) ([]string, error)
	InsertFace(ctx context.Context, f *models.FaceRecord) (int64, error)
}

type UnitStatus string

const (
	StatusSuccess       UnitStatus = "success"
	StatusSkippedNoFace UnitStatus = "skipped-no-face"
	StatusFailed        UnitStatus = "failed"
)

// UnitResult is the outcome of one image under one model.
type UnitResult struct {
	Image  string
	Model  models.Model
	Status UnitStatus
	// Faces is the number of records inserted, including those inserted
	// before a failure part way through the face list.
	Faces int
	Err   error
}

type Report struct {
	Selected  int
	Processed int
	Units     []UnitResult
}

// Count returns how many units ended with status.
func (r *Report) Count(status UnitStatus) int {
	n := 0
	for _, u := range r.Units {
		if u.Status == status {
			n++
		}
	}
	return n
}

// FacesInserted sums inserted records over all units.
func (r *Report) FacesInserted() int {
	n := 0
	for _, u := range r.Units {
		n += u.Faces
	}
	return n
}

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Pipeline syncs a directory of source images into the face catalog.
// Images already present in the catalog are skipped as a whole.
type Pipeline struct {
	repo      Repository
	extractor extract.Extractor
	reg       *models.Registry
	sourceDir string
	models    []models.Model

	// OnImage, when set, is called after each image finishes its model loop.
	OnImage func(done, total int)
}

// NewPipeline validates that every model in ms is registered. Models are
// run in the given order for each image.
func NewPipeline(repo Repository, extractor extract.Extractor, reg *models.Registry, sourceDir string, ms []models.Model) (*Pipeline, error) {
	if len(ms) == 0 {
		return nil, fmt.Errorf("%w: no ingest models configured", models.ErrUnsupportedModel)
	}
	for _, m := range ms {
		if _, err := reg.Dimension(m); err != nil {
			return nil, err
		}
	}
	return &Pipeline{
		repo:      repo,
		extractor: extractor,
		reg:       reg,
		sourceDir: sourceDir,
		models:    append([]models.Model(nil), ms...),
	}, nil
}

// SelectNew lists the source images that are not yet in the catalog.
func (p *Pipeline) SelectNew(ctx context.Context) ([]string, error) {
	known, err := p.repo.ListSourceImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ingested images: %w", err)
	}
	seen := make(map[string]bool, len(known))
	for _, name := range known {
		seen[name] = true
	}

	entries, err := os.ReadDir(p.sourceDir)
	if err != nil {
		return nil, fmt.Errorf("read source dir: %w", err)
	}

	var selected []string
	for _, e := range entries {
		name := e.Name()
		if !p.isFile(e) {
			continue
		}
		if !allowedExtensions[strings.ToLower(filepath.Ext(name))] || seen[name] {
			continue
		}
		selected = append(selected, name)
	}
	return selected, nil
}

// isFile reports whether the entry is a regular file, following symlinks.
func (p *Pipeline) isFile(e os.DirEntry) bool {
	if e.Type().IsRegular() {
		return true
	}
	if e.IsDir() {
		return false
	}
	info, err := os.Stat(filepath.Join(p.sourceDir, e.Name()))
	return err == nil && info.Mode().IsRegular()
}

// Run processes every new image. A failing image/model unit is recorded and
// skipped; only listing errors abort the run. Cancellation is honoured
// between images, in which case the partial report is returned with the
// context error. progress may be nil.
func (p *Pipeline) Run(ctx context.Context, progress func(string)) (*Report, error) {
	emit := func(format string, args ...any) {
		if progress != nil {
			progress(fmt.Sprintf(format, args...))
		}
	}

	selected, err := p.SelectNew(ctx)
	if err != nil {
		return nil, err
	}

	report := &Report{Selected: len(selected)}
	emit("found %d new images in %s", len(selected), p.sourceDir)

	for i, name := range selected {
		if err := ctx.Err(); err != nil {
			emit("stopped after %d of %d images", report.Processed, len(selected))
			return report, err
		}
		emit("[%d/%d] %s", i+1, len(selected), name)

		for _, model := range p.models {
			unit := p.processUnit(ctx, name, model)
			report.Units = append(report.Units, unit)
			observability.IngestUnits.WithLabelValues(string(model), string(unit.Status)).Inc()

			switch unit.Status {
			case StatusSuccess:
				emit("%s %s: %d faces", name, model, unit.Faces)
			case StatusSkippedNoFace:
				emit("%s %s: no face detected", name, model)
			case StatusFailed:
				slog.Warn("ingest unit failed", "image", name, "model", model, "faces", unit.Faces, "error", unit.Err)
				emit("%s %s: failed: %v", name, model, unit.Err)
			}
		}

		report.Processed++
		observability.IngestImages.WithLabelValues(p.sourceDir).Inc()
		if p.OnImage != nil {
			p.OnImage(report.Processed, len(selected))
		}
	}

	emit("done: %d of %d images processed, %d faces stored", report.Processed, report.Selected, report.FacesInserted())
	return report, nil
}

func (p *Pipeline) processUnit(ctx context.Context, name string, model models.Model) UnitResult {
	unit := UnitResult{Image: name, Model: model}

	detections, err := p.extractor.Extract(ctx, filepath.Join(p.sourceDir, name), model)
	if err != nil {
		if errors.Is(err, extract.ErrNoFace) {
			unit.Status = StatusSkippedNoFace
			return unit
		}
		unit.Status = StatusFailed
		unit.Err = fmt.Errorf("extract: %w", err)
		return unit
	}

	for _, d := range detections {
		emb, err := models.NewEmbedding(p.reg, d.Embedding, model)
		if err != nil {
			unit.Status = StatusFailed
			unit.Err = err
			return unit
		}
		rec := &models.FaceRecord{
			SourceImage: name,
			BBox:        d.BBox,
			LeftEye:     d.LeftEye,
			RightEye:    d.RightEye,
			Confidence:  d.Confidence,
			Quality:     d.Quality(),
			Embedding:   emb,
		}
		if _, err := p.repo.InsertFace(ctx, rec); err != nil {
			unit.Status = StatusFailed
			unit.Err = fmt.Errorf("insert face: %w", err)
			return unit
		}
		unit.Faces++
		observability.FacesStored.WithLabelValues(string(model)).Inc()
	}

	unit.Status = StatusSuccess
	return unit
}
