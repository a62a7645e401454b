package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/your-org/facefinder/internal/api"
	"github.com/your-org/facefinder/internal/config"
	"github.com/your-org/facefinder/internal/observability"
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

	slog.Info("starting facefinder extraction worker",
		"port", cfg.Server.WorkerPort,
		"cpu_cores", runtime.NumCPU(),
	)

	reg, err := cfg.Registry()
	if err != nil {
		slog.Error("build model registry", "error", err)
		os.Exit(1)
	}

	// Initialize ONNX Runtime
	destroy, err := vision.InitRuntime(cfg.Vision.ONNXLibPath)
	if err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer destroy()

	extractor, err := vision.NewLocalExtractor(cfg.Vision, reg)
	if err != nil {
		slog.Error("init local extractor", "error", err)
		os.Exit(1)
	}
	defer extractor.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.WorkerPort),
		Handler:      api.NewWorkerRouter(extractor),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Extractor.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("worker listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("worker stopped")
}
