package handlers

import (
	"context"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	_ "golang.org/x/image/webp"

	"github.com/your-org/facefinder/internal/extract"
	"github.com/your-org/facefinder/internal/models"
	"github.com/your-org/facefinder/pkg/dto"
)

const maxImageBytes = 32 << 20

// ImageExtractor runs extraction on a decoded image.
type ImageExtractor interface {
	ExtractImage(ctx context.Context, img image.Image, model models.Model) ([]models.Detection, error)
}

// ExtractHandler serves the worker side of the remote extraction protocol.
type ExtractHandler struct {
	extractor ImageExtractor
}

func NewExtractHandler(extractor ImageExtractor) *ExtractHandler {
	return &ExtractHandler{extractor: extractor}
}

// Extract decodes the raw image body and returns the faces found for
// ?model=. An image without faces is a 422 with the no_face error code.
func (h *ExtractHandler) Extract(c *gin.Context) {
	model, err := models.ParseModel(c.Query("model"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}

	img, _, err := image.Decode(http.MaxBytesReader(c.Writer, c.Request.Body, maxImageBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "decode image: " + err.Error()})
		return
	}

	start := time.Now()
	detections, err := h.extractor.ExtractImage(c.Request.Context(), img, model)
	switch {
	case errors.Is(err, extract.ErrNoFace):
		c.JSON(http.StatusUnprocessableEntity, dto.ErrorResponse{Error: dto.ExtractErrorNoFace})
		return
	case errors.Is(err, models.ErrUnsupportedModel):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
		return
	}

	resp := dto.ExtractResponse{
		Model:            string(model),
		Faces:            make([]dto.DetectedFace, 0, len(detections)),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	for _, d := range detections {
		resp.Faces = append(resp.Faces, extract.ToDTO(d))
	}
	c.JSON(http.StatusOK, resp)
}
