package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/your-org/facefinder/internal/extract"
	"github.com/your-org/facefinder/internal/matching"
	"github.com/your-org/facefinder/internal/models"
	"github.com/your-org/facefinder/internal/preview"
	"github.com/your-org/facefinder/internal/storage"
	"github.com/your-org/facefinder/pkg/dto"
)

type stubExtractor struct {
	detections []models.Detection
	err        error
}

func (s stubExtractor) Extract(context.Context, string, models.Model) ([]models.Detection, error) {
	return s.detections, s.err
}

type recordingCommands struct {
	mu   sync.Mutex
	sent []dto.IngestCommand
}

func (r *recordingCommands) PublishIngestCommand(_ context.Context, _ string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, data.(dto.IngestCommand))
	return nil
}

func (r *recordingCommands) PendingCommands(context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(len(r.sent)), nil
}

type fixture struct {
	router   http.Handler
	store    *storage.MemoryStore
	commands *recordingCommands
	ids      []int64
}

func newFixture(t *testing.T, apiKey string, ex extract.Extractor) *fixture {
	t.Helper()
	reg, err := models.NewRegistry(
		map[models.Model]int{models.ModelArcFace: 2, models.ModelFacenet: 2},
		map[models.Model]float64{models.ModelArcFace: 0.6, models.ModelFacenet: 0.8},
	)
	if err != nil {
		t.Fatal(err)
	}

	srcDir := t.TempDir()
	writePNG(t, filepath.Join(srcDir, "group.png"), 100, 100)

	store := storage.NewMemoryStore(reg)
	f := &fixture{store: store, commands: &recordingCommands{}}
	for _, face := range []struct {
		model models.Model
		box   models.BoundingBox
		vec   []float32
	}{
		{models.ModelArcFace, models.BoundingBox{X: 10, Y: 10, W: 30, H: 30}, []float32{0, 0}},
		{models.ModelArcFace, models.BoundingBox{X: 50, Y: 10, W: 30, H: 30}, []float32{0, 0.3}},
		{models.ModelFacenet, models.BoundingBox{X: 10, Y: 10, W: 30, H: 30}, []float32{0, 0}},
	} {
		emb, err := models.NewEmbedding(reg, face.vec, face.model)
		if err != nil {
			t.Fatal(err)
		}
		id, err := store.InsertFace(context.Background(), &models.FaceRecord{
			SourceImage: "group.png", BBox: face.box, Confidence: 0.99, Quality: 1, Embedding: emb,
		})
		if err != nil {
			t.Fatal(err)
		}
		f.ids = append(f.ids, id)
	}

	engine, err := matching.NewEngine(store, ex, reg, models.ModelArcFace, models.MetricL2)
	if err != nil {
		t.Fatal(err)
	}
	artifacts, err := storage.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	f.router = NewRouter(RouterConfig{
		APIKey:    apiKey,
		Repo:      store,
		Engine:    engine,
		Previews:  preview.NewCache(artifacts, srcDir),
		SourceDir: srcDir,
		Commands:  f.commands,
	})
	return f
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return v
}

func upload(t *testing.T, path string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	part, err := w.CreateFormFile("image", "query.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("png bytes"))
	w.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestListFacesWithPreviews(t *testing.T) {
	f := newFixture(t, "", nil)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/v1/faces?search=arcface", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	resp := decode[dto.FaceListResponse](t, rec)
	if resp.Total != 2 {
		t.Fatalf("total = %d, want 2", resp.Total)
	}
	for _, face := range resp.Faces {
		if face.Preview == "" {
			t.Fatalf("face %d has no preview", face.ID)
		}
	}

	img := f.do(t, httptest.NewRequest(http.MethodGet, resp.Faces[0].Preview, nil))
	if img.Code != http.StatusOK || img.Header().Get("Content-Type") != "image/jpeg" {
		t.Errorf("preview fetch: %d %s", img.Code, img.Header().Get("Content-Type"))
	}

	bad := f.do(t, httptest.NewRequest(http.MethodGet, "/v1/faces?limit=-1", nil))
	if bad.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d", bad.Code)
	}
}

func TestGetFaceDetail(t *testing.T) {
	f := newFixture(t, "", nil)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/v1/faces/"+strconv.FormatInt(f.ids[0], 10), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	resp := decode[dto.FaceDetailResponse](t, rec)
	if resp.Face.ID != f.ids[0] {
		t.Errorf("face id = %d", resp.Face.ID)
	}
	if len(resp.SameImage) != 1 || resp.SameImage[0].ID != f.ids[1] {
		t.Errorf("same image = %+v, want only face %d", resp.SameImage, f.ids[1])
	}

	tests := []struct {
		path string
		want int
	}{
		{"/v1/faces/abc", http.StatusBadRequest},
		{"/v1/faces/9999", http.StatusNotFound},
	}
	for _, tt := range tests {
		if rec := f.do(t, httptest.NewRequest(http.MethodGet, tt.path, nil)); rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestSimilarToFace(t *testing.T) {
	f := newFixture(t, "", nil)
	base := "/v1/faces/" + strconv.FormatInt(f.ids[0], 10) + "/similar"

	rec := f.do(t, httptest.NewRequest(http.MethodGet, base+"?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	resp := decode[dto.SimilarResponse](t, rec)
	if resp.Model != "ArcFace" || resp.Metric != "l2" {
		t.Errorf("model/metric = %s/%s", resp.Model, resp.Metric)
	}
	if len(resp.Matches) != 2 || resp.Matches[0].Face.ID != f.ids[0] || !resp.Matches[1].IsSame {
		t.Errorf("matches = %+v", resp.Matches)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"?metric=dot", http.StatusBadRequest},
		{"?model=Facenet", http.StatusBadRequest},
		{"?model=Dlib", http.StatusBadRequest},
		{"?limit=0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := f.do(t, httptest.NewRequest(http.MethodGet, base+tt.query, nil)); rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.query, rec.Code, tt.want)
		}
	}
}

func TestAnalyzeUpload(t *testing.T) {
	ex := stubExtractor{detections: []models.Detection{
		{BBox: models.BoundingBox{X: 1, Y: 2, W: 40, H: 40}, Confidence: 0.9, Embedding: []float32{0, 0.1}},
	}}
	f := newFixture(t, "", ex)

	rec := f.do(t, upload(t, "/v1/analyze", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	resp := decode[dto.AnalyzeResponse](t, rec)
	if len(resp.Faces) != 1 || resp.Faces[0].Matches != 2 {
		t.Errorf("faces = %+v", resp.Faces)
	}
}

func TestAnalyzeNoFaceIs422(t *testing.T) {
	f := newFixture(t, "", stubExtractor{err: extract.ErrNoFace})

	rec := f.do(t, upload(t, "/v1/analyze", nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if body := decode[dto.ErrorResponse](t, rec); body.Error != "no face detected" {
		t.Errorf("error = %q", body.Error)
	}

	if rec := f.do(t, httptest.NewRequest(http.MethodPost, "/v1/analyze", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("missing upload status = %d", rec.Code)
	}
}

func TestSimilarToImage(t *testing.T) {
	ex := stubExtractor{detections: []models.Detection{
		{BBox: models.BoundingBox{X: 5, Y: 5, W: 20, H: 20}, Embedding: []float32{0, 0.3}},
	}}
	f := newFixture(t, "", ex)

	fields := map[string]string{"x": "5", "y": "5", "w": "20", "h": "20"}
	rec := f.do(t, upload(t, "/v1/search?limit=1", fields))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	resp := decode[dto.SimilarResponse](t, rec)
	if len(resp.Matches) != 1 || resp.Matches[0].Face.ID != f.ids[1] {
		t.Errorf("matches = %+v", resp.Matches)
	}

	fields["x"] = "6"
	if rec := f.do(t, upload(t, "/v1/search", fields)); rec.Code != http.StatusNotFound {
		t.Errorf("unknown bbox status = %d, want 404", rec.Code)
	}
	fields["x"] = "left"
	if rec := f.do(t, upload(t, "/v1/search", fields)); rec.Code != http.StatusBadRequest {
		t.Errorf("bad bbox status = %d, want 400", rec.Code)
	}
}

func TestTriggerIngest(t *testing.T) {
	f := newFixture(t, "", nil)

	rec := f.do(t, httptest.NewRequest(http.MethodPost, "/v1/ingest", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	resp := decode[dto.IngestTriggerResponse](t, rec)
	if len(f.commands.sent) != 1 {
		t.Fatalf("sent %d commands", len(f.commands.sent))
	}
	if cmd := f.commands.sent[0]; cmd.RunID != resp.RunID || cmd.Action != "scan" {
		t.Errorf("command = %+v, response run id %s", cmd, resp.RunID)
	}
}

func TestDashboard(t *testing.T) {
	f := newFixture(t, "", nil)
	f.store.AddUser(models.User{Email: "a@example.com"})

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/v1/dashboard", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	resp := decode[dto.DashboardResponse](t, rec)
	if resp.TotalFaces != 3 || resp.FacesLast24h != 3 || resp.Users != 1 {
		t.Errorf("dashboard = %+v", resp)
	}
}

func TestAPIKey(t *testing.T) {
	f := newFixture(t, "secret", nil)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"missing", "/v1/dashboard", "", http.StatusUnauthorized},
		{"wrong", "/v1/dashboard", "nope", http.StatusForbidden},
		{"header", "/v1/dashboard", "secret", http.StatusOK},
		{"query", "/v1/dashboard?api_key=secret", "", http.StatusOK},
		{"health is open", "/healthz", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			if rec := f.do(t, req); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestSourceRejectsTraversal(t *testing.T) {
	f := newFixture(t, "", nil)
	if rec := f.do(t, httptest.NewRequest(http.MethodGet, "/source/group.png", nil)); rec.Code != http.StatusOK {
		t.Errorf("source status = %d", rec.Code)
	}
	if rec := f.do(t, httptest.NewRequest(http.MethodGet, "/source/%2e%2e", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("traversal status = %d, want 404", rec.Code)
	}
}

func TestPreviewRejectsMalformedKey(t *testing.T) {
	f := newFixture(t, "", nil)
	for _, path := range []string{"/preview/%2e%2e", "/preview/missing.jpg"} {
		if rec := f.do(t, httptest.NewRequest(http.MethodGet, path, nil)); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, rec.Code)
		}
	}
}
