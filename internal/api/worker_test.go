package api

import (
	"context"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facefinder/internal/api/handlers"
	"github.com/your-org/facefinder/internal/extract"
	"github.com/your-org/facefinder/internal/models"
)

type imageExtractor struct {
	detections []models.Detection
	err        error
	gotSize    image.Point
}

func (f *imageExtractor) ExtractImage(_ context.Context, img image.Image, _ models.Model) ([]models.Detection, error) {
	f.gotSize = img.Bounds().Size()
	return f.detections, f.err
}

func TestWorkerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "q.png")
	writePNG(t, path, 32, 24)

	want := models.Detection{
		BBox:       models.BoundingBox{X: 2, Y: 3, W: 20, H: 18},
		LeftEye:    models.Point{X: 8, Y: 9},
		RightEye:   models.Point{X: 15, Y: 9},
		Confidence: 0.97,
		Embedding:  []float32{0.6, 0.8},
	}

	tests := []struct {
		name    string
		fake    *imageExtractor
		model   models.Model
		wantErr error
	}{
		{"faces", &imageExtractor{detections: []models.Detection{want}}, models.ModelArcFace, nil},
		{"no face", &imageExtractor{err: extract.ErrNoFace}, models.ModelArcFace, extract.ErrNoFace},
		{"empty list", &imageExtractor{}, models.ModelArcFace, extract.ErrNoFace},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewWorkerRouter(tt.fake))
			defer srv.Close()

			got, err := extract.NewRemoteExtractor(srv.URL, 5*time.Second).Extract(context.Background(), path, tt.model)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if tt.fake.gotSize != (image.Point{X: 32, Y: 24}) {
				t.Errorf("worker decoded %v", tt.fake.gotSize)
			}
			if len(got) != 1 || got[0].BBox != want.BBox || got[0].LeftEye != want.LeftEye || got[0].Embedding[1] != 0.8 {
				t.Errorf("detections = %+v", got)
			}
		})
	}
}

func TestWorkerRejectsBadRequests(t *testing.T) {
	srv := httptest.NewServer(NewWorkerRouter(&imageExtractor{}))
	defer srv.Close()

	tests := []struct {
		name  string
		query string
		body  string
		want  int
	}{
		{"unknown model", "?model=Dlib", "x", http.StatusBadRequest},
		{"not an image", "?model=ArcFace", "plain text", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/v1/extract"+tt.query, "image/png", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRemoteExtractorReadiness(t *testing.T) {
	worker := httptest.NewServer(NewWorkerRouter(&imageExtractor{}))
	defer worker.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	tests := []struct {
		name string
		url  string
		want int
	}{
		{"worker up", worker.URL, http.StatusOK},
		{"worker unhealthy", down.URL, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rx := extract.NewRemoteExtractor(tt.url, time.Second)
			sys := handlers.NewSystemHandler(map[string]handlers.Check{"extractor": rx.Health})

			r := gin.New()
			r.GET("/readyz", sys.Readyz)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}
