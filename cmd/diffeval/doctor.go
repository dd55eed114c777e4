package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/go-diffusion-eval/internal/dataset"
	"github.com/example/go-diffusion-eval/internal/doctor"
	"github.com/example/go-diffusion-eval/internal/model"
	"github.com/example/go-diffusion-eval/internal/onnx"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime, bundle and dataset checks",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			dcfg := doctor.Config{
				ORTVersion: func() (string, error) {
					info, err := onnx.DetectRuntime(cfg.Runtime)
					if err != nil {
						return "", err
					}
					return info.Version, nil
				},
				Bundle: func() (string, error) {
					return probeBundle(cfg.Paths.BundlePath)
				},
				Dataset: func() (string, error) {
					return probeDataset(cfg.Eval.TSV)
				},
				SkipDataset: cfg.Eval.TSV == "",
				OutputDir:   filepath.Join(cfg.Paths.OutputBase, "..", "audio_eval"),
			}
			if cfg.Paths.MelNormsPath != "" {
				dcfg.AuxFiles = []string{cfg.Paths.MelNormsPath}
			}

			result := doctor.Run(dcfg, os.Stdout)

			// ONNX smoke inference as an additional check.
			// Skip gracefully when no bundle has been downloaded yet.
			if _, statErr := os.Stat(cfg.Paths.BundlePath); os.IsNotExist(statErr) {
				_, _ = fmt.Fprintf(os.Stdout, "%s bundle smoke: skipped (no manifest at %s)\n", doctor.PassMark, cfg.Paths.BundlePath)
			} else {
				verifyErr := model.VerifyONNX(model.VerifyOptions{
					ManifestPath: cfg.Paths.BundlePath,
					ORTLibrary:   cfg.Runtime.ORTLibraryPath,
					Stdout:       os.Stdout,
					Stderr:       os.Stderr,
				})
				if verifyErr != nil {
					result.AddFailure(fmt.Sprintf("bundle smoke: %v", verifyErr))
					_, _ = fmt.Fprintf(os.Stdout, "%s bundle smoke: %v\n", doctor.FailMark, verifyErr)
				} else {
					_, _ = fmt.Fprintf(os.Stdout, "%s bundle smoke: ok\n", doctor.PassMark)
				}
			}

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(os.Stdout, "doctor checks passed")

			return nil
		},
	}

	return cmd
}

// probeBundle validates the bundle manifest and its graph files and returns a
// one-line summary for the doctor report.
func probeBundle(manifestPath string) (string, error) {
	m, err := model.LoadManifest(manifestPath)
	if err != nil {
		return "", err
	}

	if err := m.Validate(); err != nil {
		return "", err
	}

	if err := m.VerifyFiles(filepath.Dir(manifestPath)); err != nil {
		return "", err
	}

	return fmt.Sprintf("%d graphs verified", len(m.Graphs)), nil
}

// probeDataset loads the dataset manifest and summarizes it.
func probeDataset(path string) (string, error) {
	entries, err := dataset.Load(path)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%d entries", len(entries)), nil
}
