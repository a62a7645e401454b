package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/your-org/facefinder/internal/matching"
	"github.com/your-org/facefinder/internal/models"
	"github.com/your-org/facefinder/internal/preview"
	"github.com/your-org/facefinder/internal/storage"
)

var similarCmd = &cobra.Command{
	Use:   "similar [face-id]",
	Short: "Find faces similar to a stored face",
	Long: `Rank stored faces by distance to the embedding of the given face.
Lower distance means more similar; "same" marks faces within the model's threshold.

Examples:
  facectl similar 42
  facectl similar 42 --metric l2 --limit 5
  facectl similar 42 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func init() {
	rootCmd.AddCommand(similarCmd)
	similarCmd.Flags().String("model", "", "Embedding model (default: the face's own model)")
	similarCmd.Flags().String("metric", "", "Distance metric, l2 or cosine (default from config)")
	similarCmd.Flags().Int("limit", 10, "Maximum number of results")
	similarCmd.Flags().Bool("json", false, "Output as JSON")
	similarCmd.Flags().Bool("previews", false, "Derive preview crops for the results")
}

type similarOutput struct {
	FaceID      int64   `json:"face_id"`
	SourceImage string  `json:"source_image"`
	Distance    float64 `json:"distance"`
	Same        bool    `json:"same"`
	Preview     string  `json:"preview,omitempty"`
}

func runSimilar(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid face id %q", args[0])
	}
	model, _ := cmd.Flags().GetString("model")
	metricFlag, _ := cmd.Flags().GetString("metric")
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")
	withPreviews, _ := cmd.Flags().GetBool("previews")

	e, err := loadEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.Close()

	defaultModel, _ := e.cfg.DefaultModel(e.reg)
	defaultMetric, _ := e.cfg.DefaultMetric()
	metric := defaultMetric
	if metricFlag != "" {
		if metric, err = models.ParseMetric(metricFlag); err != nil {
			return err
		}
	}

	engine, err := matching.NewEngine(e.db, nil, e.reg, defaultModel, defaultMetric)
	if err != nil {
		return err
	}
	face, matches, err := engine.FindSimilarToFace(ctx, id, models.Model(model), metric, limit)
	if err != nil {
		return err
	}

	var previews *preview.Cache
	if withPreviews {
		store, err := storage.NewArtifactStore(ctx, e.cfg)
		if err != nil {
			return err
		}
		previews = preview.NewCache(store, e.cfg.Faces.SourceDir)
	}

	out := make([]similarOutput, 0, len(matches))
	for _, m := range matches {
		o := similarOutput{
			FaceID:      m.Face.ID,
			SourceImage: m.Face.SourceImage,
			Distance:    m.Distance,
			Same:        m.IsSame,
		}
		if previews != nil {
			if key, err := previews.Derive(ctx, m.Face.SourceImage, m.Face.BBox, false); err == nil {
				o.Preview = key
			} else {
				fmt.Fprintf(os.Stderr, "preview for face %d: %v\n", m.Face.ID, err)
			}
		}
		out = append(out, o)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Face %d (%s, %s) by %s:\n", face.ID, face.SourceImage, face.Model(), metric)
	for _, o := range out {
		same := ""
		if o.Same {
			same = "same"
		}
		fmt.Printf("  %6d  %.4f  %-4s  %s\n", o.FaceID, o.Distance, same, o.SourceImage)
	}
	return nil
}
