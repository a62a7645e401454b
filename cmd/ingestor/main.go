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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facefinder/internal/config"
	"github.com/your-org/facefinder/internal/ingest"
	"github.com/your-org/facefinder/internal/observability"
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
	slog.Info("starting facefinder ingestor", "source_dir", cfg.Faces.SourceDir)

	reg, err := cfg.Registry()
	if err != nil {
		slog.Error("build model registry", "error", err)
		os.Exit(1)
	}
	ingestModels, _ := cfg.IngestModels(reg)

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

	extractor, closeExtractor, err := vision.NewExtractor(cfg, reg)
	if err != nil {
		slog.Error("create extractor", "error", err)
		os.Exit(1)
	}
	defer closeExtractor()

	pipeline, err := ingest.NewPipeline(db, extractor, reg, cfg.Faces.SourceDir, ingestModels)
	if err != nil {
		slog.Error("create ingestion pipeline", "error", err)
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

	manager := ingest.NewManager(pipeline, producer)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeIngestCommands(ctx, "ingestor", func(ctx context.Context, msg jetstream.Msg) error {
		cmd, err := ingest.ParseCommand(msg.Data())
		if err != nil {
			slog.Error("parse command", "error", err)
			return nil // Don't retry on unmarshal errors
		}

		slog.Info("received command", "action", cmd.Action, "run_id", cmd.RunID, "requested_by", cmd.RequestedBy)
		if err := manager.HandleCommand(ctx, cmd); err != nil {
			slog.Error("handle command", "error", err, "action", cmd.Action, "run_id", cmd.RunID)
		}
		return nil
	})
	if err != nil {
		slog.Error("start command consumer", "error", err)
		os.Exit(1)
	}

	if cfg.Faces.ScanInterval > 0 {
		slog.Info("periodic scan enabled", "interval", cfg.Faces.ScanInterval)
		manager.StartInterval(ctx, cfg.Faces.ScanInterval)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("ingestor metrics listening", "addr", ":8081")
		if err := http.ListenAndServe(":8081", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down ingestor...")
	cancel()

	// A run stops before its next image once ctx is cancelled.
	done := make(chan struct{})
	go func() {
		manager.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.Extractor.Timeout):
		slog.Warn("ingestion run did not stop in time")
	}
	slog.Info("ingestor stopped")
}
