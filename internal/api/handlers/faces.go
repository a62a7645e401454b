package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facefinder/internal/matching"
	"github.com/your-org/facefinder/internal/models"
	"github.com/your-org/facefinder/internal/preview"
	"github.com/your-org/facefinder/internal/storage"
	"github.com/your-org/facefinder/pkg/dto"
)

const (
	defaultListLimit = 30
	maxListLimit     = 200
	defaultMatches   = 10
)

type FaceHandler struct {
	repo     storage.FaceRepository
	engine   *matching.Engine
	previews *preview.Cache
}

func NewFaceHandler(repo storage.FaceRepository, engine *matching.Engine, previews *preview.Cache) *FaceHandler {
	return &FaceHandler{repo: repo, engine: engine, previews: previews}
}

// List returns a random sample of faces, optionally narrowed by search
// tokens matched against source image and model.
func (h *FaceHandler) List(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultListLimit)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	limit = min(limit, maxListLimit)

	faces, err := h.repo.FindRandomFaces(c.Request.Context(), limit, c.Query("search"))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.FaceResponse, 0, len(faces))
	for i := range faces {
		resp = append(resp, h.faceResponse(c.Request.Context(), &faces[i]))
	}
	c.JSON(http.StatusOK, dto.FaceListResponse{Faces: resp, Total: len(resp)})
}

func (h *FaceHandler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid face id"})
		return
	}
	ctx := c.Request.Context()

	face, err := h.repo.GetFace(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	siblings, err := h.repo.FindFacesBySourceImage(ctx, face.SourceImage)
	if err != nil {
		respondError(c, err)
		return
	}

	same := make([]dto.FaceResponse, 0, len(siblings))
	for i := range siblings {
		if siblings[i].ID == face.ID || siblings[i].Model() != face.Model() {
			continue
		}
		same = append(same, h.faceResponse(ctx, &siblings[i]))
	}
	c.JSON(http.StatusOK, dto.FaceDetailResponse{Face: h.faceResponse(ctx, face), SameImage: same})
}

// Similar ranks stored faces against the embedding of face :id. model and
// metric default to the face's own model and the configured metric.
func (h *FaceHandler) Similar(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid face id"})
		return
	}
	limit, err := queryInt(c, "limit", defaultMatches)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	metric := models.Metric(c.DefaultQuery("metric", string(h.engine.DefaultMetric())))
	model := models.Model(c.Query("model"))

	ctx := c.Request.Context()
	face, matches, err := h.engine.FindSimilarToFace(ctx, id, model, metric, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if model == "" {
		model = face.Model()
	}
	query := h.faceResponse(ctx, face)
	c.JSON(http.StatusOK, dto.SimilarResponse{
		Model:   string(model),
		Metric:  string(metric),
		Query:   &query,
		Matches: h.matchResponses(ctx, matches),
	})
}

// SimilarToImage takes an uploaded image and the bounding box of one face in
// it, and ranks stored faces against that face.
func (h *FaceHandler) SimilarToImage(c *gin.Context) {
	var bbox models.BoundingBox
	for _, f := range []struct {
		name string
		dst  *int
	}{{"x", &bbox.X}, {"y", &bbox.Y}, {"w", &bbox.W}, {"h", &bbox.H}} {
		v, err := strconv.Atoi(c.PostForm(f.name))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + f.name})
			return
		}
		*f.dst = v
	}
	limit, err := queryInt(c, "limit", defaultMatches)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	path, cleanup, ok := saveUpload(c)
	if !ok {
		return
	}
	defer cleanup()

	ctx := c.Request.Context()
	_, matches, err := h.engine.FindSimilarToImage(ctx, path, bbox, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SimilarResponse{
		Model:   string(h.engine.DefaultModel()),
		Metric:  string(h.engine.DefaultMetric()),
		Matches: h.matchResponses(ctx, matches),
	})
}

// Analyze reports every face in an uploaded image with the number of stored
// faces classified as the same.
func (h *FaceHandler) Analyze(c *gin.Context) {
	path, cleanup, ok := saveUpload(c)
	if !ok {
		return
	}
	defer cleanup()

	faces, err := h.engine.AnalyzeImage(c.Request.Context(), path)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.AnalyzeResponse{
		Model:  string(h.engine.DefaultModel()),
		Metric: string(h.engine.DefaultMetric()),
		Faces:  make([]dto.AnalyzedFace, 0, len(faces)),
	}
	for _, f := range faces {
		resp.Faces = append(resp.Faces, dto.AnalyzedFace{
			FacialArea:     box(f.Detection.BBox),
			FaceConfidence: f.Detection.Confidence,
			Matches:        f.Matches,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *FaceHandler) matchResponses(ctx context.Context, matches []matching.Match) []dto.MatchResponse {
	out := make([]dto.MatchResponse, 0, len(matches))
	for i := range matches {
		out = append(out, dto.MatchResponse{
			Face:     h.faceResponse(ctx, &matches[i].Face),
			Distance: matches[i].Distance,
			IsSame:   matches[i].IsSame,
		})
	}
	return out
}

// faceResponse derives the face's preview on the way out. A failed
// derivation is logged and leaves Preview empty.
func (h *FaceHandler) faceResponse(ctx context.Context, f *models.FaceRecord) dto.FaceResponse {
	r := dto.FaceResponse{
		ID:          f.ID,
		SourceImage: f.SourceImage,
		Model:       string(f.Model()),
		BBox:        box(f.BBox),
		LeftEye:     dto.Point{X: f.LeftEye.X, Y: f.LeftEye.Y},
		RightEye:    dto.Point{X: f.RightEye.X, Y: f.RightEye.Y},
		Confidence:  f.Confidence,
		Quality:     f.Quality,
		CreatedAt:   f.CreatedAt.UTC().Format(time.RFC3339),
	}
	if h.previews != nil {
		key, err := h.previews.Derive(ctx, f.SourceImage, f.BBox, false)
		if err != nil {
			slog.Warn("derive preview", "face_id", f.ID, "error", err)
		} else {
			r.Preview = "/preview/" + key
		}
	}
	return r
}

func box(b models.BoundingBox) dto.Box {
	return dto.Box{X: b.X, Y: b.Y, W: b.W, H: b.H}
}

func queryInt(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// saveUpload stores the multipart "image" field in a temp file, keeping the
// extension so the extractor can pick a decoder. On failure it has already
// written the response.
func saveUpload(c *gin.Context) (string, func(), bool) {
	header, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return "", nil, false
	}

	tmp, err := os.CreateTemp("", "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store upload failed"})
		return "", nil, false
	}
	path := tmp.Name()
	tmp.Close()
	cleanup := func() { os.Remove(path) }

	if err := c.SaveUploadedFile(header, path); err != nil {
		cleanup()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store upload failed"})
		return "", nil, false
	}
	return path, cleanup, true
}
