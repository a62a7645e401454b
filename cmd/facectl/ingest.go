package main

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/your-org/facefinder/internal/ingest"
	"github.com/your-org/facefinder/internal/storage"
	"github.com/your-org/facefinder/internal/vision"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest new images from the source directory",
	Long: `Scan the source directory for images that are not yet in the catalog,
extract faces with every configured ingest model and store them.

With --dry-run nothing is written: faces go to an in-memory catalog and
every image in the directory is processed.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().Bool("dry-run", false, "Extract into an in-memory catalog instead of PostgreSQL")
}

func runIngest(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	e, err := loadEnv(ctx, !dryRun)
	if err != nil {
		return err
	}
	defer e.Close()

	ms, err := e.cfg.IngestModels(e.reg)
	if err != nil {
		return err
	}

	var repo ingest.Repository = e.db
	if dryRun {
		repo = storage.NewMemoryStore(e.reg)
	}

	extractor, closeExtractor, err := vision.NewExtractor(e.cfg, e.reg)
	if err != nil {
		return err
	}
	defer closeExtractor()

	pipeline, err := ingest.NewPipeline(repo, extractor, e.reg, e.cfg.Faces.SourceDir, ms)
	if err != nil {
		return err
	}

	pending, err := pipeline.SelectNew(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("No new images.")
		return nil
	}

	bar := progressbar.NewOptions(len(pending),
		progressbar.OptionSetDescription("Ingesting"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
	pipeline.OnImage = func(done, total int) {
		_ = bar.Set(done)
	}

	report, err := pipeline.Run(ctx, nil)
	_ = bar.Finish()
	fmt.Println()
	if report != nil {
		fmt.Printf("Images:   %d of %d\n", report.Processed, report.Selected)
		fmt.Printf("Faces:    %d\n", report.FacesInserted())
		fmt.Printf("No face:  %d\n", report.Count(ingest.StatusSkippedNoFace))
		fmt.Printf("Failed:   %d\n", report.Count(ingest.StatusFailed))
		for _, u := range report.Units {
			if u.Status == ingest.StatusFailed {
				fmt.Printf("  %s [%s]: %v\n", u.Image, u.Model, u.Err)
			}
		}
	}
	if err != nil {
		return fmt.Errorf("ingestion stopped: %w", err)
	}
	return nil
}
