package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facefinder/internal/api/handlers"
	"github.com/your-org/facefinder/internal/api/ws"
	"github.com/your-org/facefinder/internal/auth"
	"github.com/your-org/facefinder/internal/matching"
	"github.com/your-org/facefinder/internal/preview"
	"github.com/your-org/facefinder/internal/storage"
)

type RouterConfig struct {
	APIKey    string
	Repo      storage.FaceRepository
	Engine    *matching.Engine
	Previews  *preview.Cache
	SourceDir string
	Commands  handlers.CommandPublisher
	Hub       *ws.Hub
	Checks    map[string]handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Preview and source images (no auth)
	staticH := handlers.NewStaticHandler(cfg.Previews, cfg.SourceDir)
	r.GET("/preview/:key", staticH.Preview)
	r.GET("/source/:name", staticH.Source)

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	faceH := handlers.NewFaceHandler(cfg.Repo, cfg.Engine, cfg.Previews)
	v1.GET("/faces", faceH.List)
	v1.GET("/faces/:id", faceH.Get)
	v1.GET("/faces/:id/similar", faceH.Similar)
	v1.POST("/search", faceH.SimilarToImage)
	v1.POST("/analyze", faceH.Analyze)

	dashH := handlers.NewDashboardHandler(cfg.Repo)
	v1.GET("/dashboard", dashH.Stats)

	if cfg.Commands != nil {
		ingestH := handlers.NewIngestHandler(cfg.Commands)
		v1.POST("/ingest", ingestH.Trigger)
		v1.GET("/ingest/pending", ingestH.Pending)
	}

	return r
}

// NewWorkerRouter serves the extraction protocol used by extract.RemoteExtractor.
func NewWorkerRouter(extractor handlers.ImageExtractor) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())

	systemH := handlers.NewSystemHandler(nil)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	extractH := handlers.NewExtractHandler(extractor)
	r.POST("/v1/extract", extractH.Extract)

	return r
}
