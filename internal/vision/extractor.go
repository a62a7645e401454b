package vision

import (
	"fmt"
	"log/slog"

	"github.com/your-org/facefinder/internal/config"
	"github.com/your-org/facefinder/internal/extract"
	"github.com/your-org/facefinder/internal/models"
)

// NewExtractor builds the extractor selected by extractor.mode. The returned
// func releases whatever the extractor holds (ONNX sessions and runtime in
// local mode).
func NewExtractor(cfg *config.Config, reg *models.Registry) (extract.Extractor, func(), error) {
	switch cfg.Extractor.Mode {
	case "remote":
		slog.Info("using remote extractor", "url", cfg.Extractor.RemoteURL)
		return extract.NewRemoteExtractor(cfg.Extractor.RemoteURL, cfg.Extractor.Timeout), func() {}, nil
	case "local":
		destroy, err := InitRuntime(cfg.Vision.ONNXLibPath)
		if err != nil {
			return nil, nil, err
		}
		x, err := NewLocalExtractor(cfg.Vision, reg)
		if err != nil {
			destroy()
			return nil, nil, err
		}
		return x, func() {
			x.Close()
			destroy()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown extractor mode %q", cfg.Extractor.Mode)
	}
}
