package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Show the number of faces in the catalog",
	Long:  `Counts all stored faces, or only those stored within the last --since duration.`,
	Args:  cobra.NoArgs,
	RunE:  runCount,
}

func init() {
	rootCmd.AddCommand(countCmd)
	countCmd.Flags().Duration("since", 0, "Only count faces stored within this duration (e.g. 24h)")
}

func runCount(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	since, _ := cmd.Flags().GetDuration("since")

	e, err := loadEnv(ctx, true)
	if err != nil {
		return err
	}
	defer e.Close()

	var from *time.Time
	if since > 0 {
		t := time.Now().Add(-since)
		from = &t
	}
	n, err := e.db.CountFaces(ctx, from)
	if err != nil {
		return err
	}

	if from != nil {
		fmt.Printf("Faces since %s: %d\n", from.Format(time.RFC3339), n)
	} else {
		fmt.Printf("Faces: %d\n", n)
	}
	return nil
}
