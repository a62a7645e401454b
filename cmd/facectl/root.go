package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/your-org/facefinder/internal/config"
	"github.com/your-org/facefinder/internal/models"
	"github.com/your-org/facefinder/internal/observability"
	"github.com/your-org/facefinder/internal/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "facectl",
	Short: "Operate the facefinder face catalog",
	Long: `facectl runs one-shot ingestion and inspects the face catalog
directly against PostgreSQL, without going through the API service.`,
	SilenceUsage: true,
}

// Execute runs the CLI. An interrupt cancels the command's context; ingest
// stops before its next image.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
}

// env is what every subcommand needs: validated config, the model registry
// and, unless skipped, an open catalog.
type env struct {
	cfg *config.Config
	reg *models.Registry
	db  *storage.PostgresStore
}

func (e *env) Close() {
	if e.db != nil {
		e.db.Close()
	}
}

func loadEnv(ctx context.Context, withDB bool) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	// Logs go to stderr as text; stdout carries command output.
	observability.SetupLogger(cfg.Logging.Level, "text")

	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, reg: reg}
	if !withDB {
		return e, nil
	}

	db, err := storage.NewPostgresStore(cfg.Database, reg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	e.db = db
	return e, nil
}
