package storage

import (
	"context"
	"time"

	"github.com/your-org/facefinder/internal/models"
)

// ScoredFace is a candidate returned by a similarity query.
type ScoredFace struct {
	Face     models.FaceRecord
	Distance float64
}

// FaceRepository is the durable face catalog. Records are append-only.
type FaceRepository interface {
	InsertFace(ctx context.Context, f *models.FaceRecord) (int64, error)
	GetFace(ctx context.Context, id int64) (*models.FaceRecord, error)
	FindFacesBySourceImage(ctx context.Context, name string) ([]models.FaceRecord, error)
	FindRandomFaces(ctx context.Context, limit int, search string) ([]models.FaceRecord, error)
	CountFaces(ctx context.Context, since *time.Time) (int, error)
	ListSourceImages(ctx context.Context) ([]string, error)
	FindSimilarFaces(ctx context.Context, query []float32, model models.Model, metric models.Metric, limit int) ([]ScoredFace, error)
	CountUsers(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

var (
	_ FaceRepository = (*PostgresStore)(nil)
	_ FaceRepository = (*MemoryStore)(nil)
)
