package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/your-org/facefinder/internal/models"
	"github.com/your-org/facefinder/internal/observability"
	"github.com/your-org/facefinder/pkg/dto"
)

// RemoteExtractor calls the extraction worker over HTTP. The image bytes are
// uploaded, so the worker does not need access to the source directory.
type RemoteExtractor struct {
	baseURL    string
	httpClient *http.Client
}

func NewRemoteExtractor(baseURL string, timeout time.Duration) *RemoteExtractor {
	return &RemoteExtractor{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *RemoteExtractor) Extract(ctx context.Context, imagePath string, model models.Model) ([]models.Detection, error) {
	start := time.Now()
	defer func() {
		observability.ExtractionDuration.WithLabelValues("remote", string(model)).Observe(time.Since(start).Seconds())
	}()

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	endpoint := c.baseURL + "/v1/extract?model=" + url.QueryEscape(string(model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(imagePath)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call extraction worker: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e dto.ErrorResponse
		_ = json.Unmarshal(body, &e)
		if resp.StatusCode == http.StatusUnprocessableEntity && e.Error == dto.ExtractErrorNoFace {
			return nil, ErrNoFace
		}
		return nil, fmt.Errorf("extraction worker error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result dto.ExtractResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(result.Faces) == 0 {
		return nil, ErrNoFace
	}

	out := make([]models.Detection, len(result.Faces))
	for i, f := range result.Faces {
		out[i] = FromDTO(f)
	}
	return out, nil
}

// Health checks the worker's liveness endpoint.
func (c *RemoteExtractor) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call health endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

func FromDTO(f dto.DetectedFace) models.Detection {
	return models.Detection{
		BBox:       models.BoundingBox{X: f.FacialArea.X, Y: f.FacialArea.Y, W: f.FacialArea.W, H: f.FacialArea.H},
		LeftEye:    models.Point{X: f.LeftEye.X, Y: f.LeftEye.Y},
		RightEye:   models.Point{X: f.RightEye.X, Y: f.RightEye.Y},
		Confidence: f.FaceConfidence,
		Embedding:  f.Embedding,
	}
}

func ToDTO(d models.Detection) dto.DetectedFace {
	return dto.DetectedFace{
		FacialArea:     dto.Box{X: d.BBox.X, Y: d.BBox.Y, W: d.BBox.W, H: d.BBox.H},
		LeftEye:        dto.Point{X: d.LeftEye.X, Y: d.LeftEye.Y},
		RightEye:       dto.Point{X: d.RightEye.X, Y: d.RightEye.Y},
		FaceConfidence: d.Confidence,
		Embedding:      d.Embedding,
	}
}
