package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/example/go-diffusion-eval/internal/dataset"
	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	var checkAudio bool

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize the configured dataset manifest",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if strings.TrimSpace(cfg.Eval.TSV) == "" {
				return fmt.Errorf("--eval-tsv is required for inspect")
			}

			entries, err := dataset.Load(cfg.Eval.TSV)
			if err != nil {
				return err
			}

			return inspectDataset(os.Stdout, cfg.Eval.TSV, entries, cfg.Eval.WorldSize, checkAudio)
		},
	}

	cmd.Flags().BoolVar(&checkAudio, "check-audio", false, "Stat every referenced audio file and report missing ones")

	return cmd
}

// inspectDataset prints the manifest summary: entry count, code length range,
// and how the entries split across evaluation workers.
func inspectDataset(w io.Writer, path string, entries []dataset.Entry, worldSize int, checkAudio bool) error {
	minCodes, maxCodes := len(entries[0].Codes), len(entries[0].Codes)
	for _, e := range entries[1:] {
		if len(e.Codes) < minCodes {
			minCodes = len(e.Codes)
		}
		if len(e.Codes) > maxCodes {
			maxCodes = len(e.Codes)
		}
	}

	fmt.Fprintf(w, "manifest: %s\n", path)
	fmt.Fprintf(w, "entries: %d\n", len(entries))
	fmt.Fprintf(w, "codes per entry: %d..%d\n", minCodes, maxCodes)

	if worldSize > 0 {
		perWorker := len(entries) / worldSize
		dropped := len(entries) % worldSize
		fmt.Fprintf(w, "entries per worker: %d (world size %d, %d dropped)\n", perWorker, worldSize, dropped)
	}

	if !checkAudio {
		return nil
	}

	missing := 0
	for _, e := range entries {
		if _, err := os.Stat(e.AudioPath); err != nil {
			missing++
			fmt.Fprintf(w, "missing audio: %s\n", e.AudioPath)
		}
	}

	if missing > 0 {
		return fmt.Errorf("%d of %d audio files missing", missing, len(entries))
	}

	fmt.Fprintf(w, "all %d audio files present\n", len(entries))

	return nil
}
