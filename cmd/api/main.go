package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facefinder/internal/api"
	"github.com/your-org/facefinder/internal/api/handlers"
	"github.com/your-org/facefinder/internal/api/ws"
	"github.com/your-org/facefinder/internal/config"
	"github.com/your-org/facefinder/internal/extract"
	"github.com/your-org/facefinder/internal/matching"
	"github.com/your-org/facefinder/internal/observability"
	"github.com/your-org/facefinder/internal/preview"
	"github.com/your-org/facefinder/internal/queue"
	"github.com/your-org/facefinder/internal/storage"
	"github.com/your-org/facefinder/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facefinder API service", "port", cfg.Server.Port)

	reg, err := cfg.Registry()
	if err != nil {
		slog.Error("build model registry", "error", err)
		os.Exit(1)
	}
	defaultModel, _ := cfg.DefaultModel(reg)
	defaultMetric, _ := cfg.DefaultMetric()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database, reg)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("migrate database", "error", err)
		os.Exit(1)
	}

	// Preview artifacts
	artifacts, err := storage.NewArtifactStore(ctx, cfg)
	if err != nil {
		slog.Error("open preview store", "backend", cfg.Faces.PreviewBackend, "error", err)
		os.Exit(1)
	}
	previews := preview.NewCache(artifacts, cfg.Faces.SourceDir)

	// Extractor for the image upload flows
	extractor, closeExtractor, err := vision.NewExtractor(cfg, reg)
	if err != nil {
		slog.Warn("extractor unavailable, image search disabled", "error", err)
	} else {
		defer closeExtractor()
	}

	engine, err := matching.NewEngine(db, extractor, reg, defaultModel, defaultMetric)
	if err != nil {
		slog.Error("create matching engine", "error", err)
		os.Exit(1)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// WebSocket hub fed from the progress stream
	hub := ws.NewHub()
	go hub.Run()

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create progress consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeProgress(ctx, "api-progress", func(ctx context.Context, msg jetstream.Msg) error {
		hub.BroadcastRaw(msg.Data())
		return nil
	})
	if err != nil {
		slog.Warn("start progress consumer", "error", err)
	}

	checks := map[string]handlers.Check{
		"postgres": db.Ping,
		"previews": artifacts.Ping,
		"nats":     func(context.Context) error { return producer.Ping() },
	}
	if rx, ok := extractor.(*extract.RemoteExtractor); ok {
		checks["extractor"] = rx.Health
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:    cfg.Server.APIKey,
		Repo:      db,
		Engine:    engine,
		Previews:  previews,
		SourceDir: cfg.Faces.SourceDir,
		Commands:  producer,
		Hub:       hub,
		Checks:    checks,
	})

	// Start HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * cfg.Extractor.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
