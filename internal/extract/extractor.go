// Package extract defines the face extraction capability and its HTTP client.
package extract

import (
	"context"
	"errors"

	"github.com/your-org/facefinder/internal/models"
)

// ErrNoFace means the image was readable but contained no detectable face.
// Callers treat it as a normal outcome, not a failure.
var ErrNoFace = errors.New("no face detected")

// Extractor detects faces in an image and embeds each one with model.
// A successful call returns at least one detection; an image without faces
// yields ErrNoFace.
type Extractor interface {
	Extract(ctx context.Context, imagePath string, model models.Model) ([]models.Detection, error)
}
