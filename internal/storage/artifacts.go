package storage

import (
	"context"
	"fmt"

	"github.com/your-org/facefinder/internal/config"
)

// ArtifactStore holds derived preview images by key.
type ArtifactStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key string, data []byte, overwrite bool) error
	Get(ctx context.Context, key string) ([]byte, error)
	Ping(ctx context.Context) error
}

var (
	_ ArtifactStore = (*DirStore)(nil)
	_ ArtifactStore = (*MinIOStore)(nil)
)

// NewArtifactStore opens the preview backend named by faces.preview_backend.
func NewArtifactStore(ctx context.Context, cfg *config.Config) (ArtifactStore, error) {
	switch cfg.Faces.PreviewBackend {
	case "dir":
		return NewDirStore(cfg.Faces.PreviewDir)
	case "minio":
		s, err := NewMinIOStore(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown preview backend %q", cfg.Faces.PreviewBackend)
	}
}
