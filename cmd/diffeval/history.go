package main

import (
	"fmt"
	"os"
	"time"

	"github.com/example/go-diffusion-eval/internal/history"
	"github.com/example/go-diffusion-eval/internal/report"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var (
		diffusionType string
		limit         int
		format        string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded evaluation runs",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if cfg.Paths.HistoryPath == "" {
				return fmt.Errorf("--paths-history-path is required for history")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			store, err := history.Open(cfg.Paths.HistoryPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			records, err := store.List(diffusionType, limit)
			if err != nil {
				return err
			}

			if len(records) == 0 {
				_, _ = fmt.Fprintln(os.Stdout, "no recorded runs")
				return nil
			}

			rows := historyRows(records)
			switch format {
			case "json":
				report.FormatJSON(rows, os.Stdout)
			default:
				report.FormatTable(rows, os.Stdout)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&diffusionType, "diffusion-type", "", "Only list runs of this sampling strategy")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows to list (0 = all)")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")

	return cmd
}

func historyRows(records []history.Record) []report.Row {
	rows := make([]report.Row, len(records))
	for i, rec := range records {
		rows[i] = report.Row{
			Step:                rec.Step,
			DiffusionType:       rec.DiffusionType,
			Samples:             rec.Samples,
			FrechetDistance:     rec.FrechetDistance,
			IntelligibilityLoss: rec.IntelligibilityLoss,
			Elapsed:             time.Duration(rec.ElapsedMS) * time.Millisecond,
			CreatedAt:           rec.CreatedAt,
		}
	}

	return rows
}
