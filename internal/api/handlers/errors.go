package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facefinder/internal/extract"
	"github.com/your-org/facefinder/internal/matching"
	"github.com/your-org/facefinder/internal/models"
	"github.com/your-org/facefinder/internal/preview"
)

// respondError maps domain errors onto HTTP statuses. Anything unrecognised
// is logged and reported as 500.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, extract.ErrNoFace):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face detected"})
	case errors.Is(err, models.ErrNotFound), errors.Is(err, matching.ErrFaceNotInImage):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrUnsupportedModel),
		errors.Is(err, models.ErrUnsupportedMetric),
		errors.Is(err, models.ErrDimensionMismatch),
		errors.Is(err, matching.ErrModelMismatch),
		errors.Is(err, matching.ErrInvalidLimit),
		errors.Is(err, preview.ErrInvalidGeometry):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
