package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/go-diffusion-eval/internal/config"
	"github.com/example/go-diffusion-eval/internal/model"
	"github.com/spf13/cobra"
)

func newBundleVerifyCmd() *cobra.Command {
	var manifestPath string
	var ortAPIVersion uint32
	var skipSmoke bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check bundle integrity and smoke-run every exported graph",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			path := manifestPath
			if path == "" {
				path = cfg.Paths.BundlePath
			}

			if err := verifyBundleFiles(path); err != nil {
				return err
			}

			if skipSmoke {
				return nil
			}

			return smokeVerifyONNX(path, cfg, ortAPIVersion)
		},
	}

	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Bundle manifest path (default: configured bundle path)")
	cmd.Flags().Uint32Var(&ortAPIVersion, "ort-api-version", 23, "ONNX Runtime C API version expected by the purego binding")
	cmd.Flags().BoolVar(&skipSmoke, "skip-smoke", false, "Only check manifest structure and file checksums, skip inference")

	return cmd
}

// verifyBundleFiles checks manifest structure, required graphs, and per-file
// checksums without touching ONNX Runtime.
func verifyBundleFiles(manifestPath string) error {
	m, err := model.LoadManifest(manifestPath)
	if err != nil {
		return err
	}

	if err := m.Validate(); err != nil {
		return fmt.Errorf("bundle manifest invalid: %w", err)
	}

	if _, err := fmt.Fprintf(os.Stdout, "  ✓ manifest declares %d graphs\n", len(m.Graphs)); err != nil {
		return fmt.Errorf("write status: %w", err)
	}

	if err := m.VerifyFiles(filepath.Dir(manifestPath)); err != nil {
		return fmt.Errorf("bundle files invalid: %w", err)
	}

	if _, err := fmt.Fprintf(os.Stdout, "  ✓ graph files present and checksums match\n"); err != nil {
		return fmt.Errorf("write status: %w", err)
	}

	return nil
}

// smokeVerifyONNX opens every graph with ONNX Runtime and runs zero-tensor
// inference through it.
func smokeVerifyONNX(manifestPath string, cfg config.Config, ortAPIVersion uint32) error {
	err := model.VerifyONNX(model.VerifyOptions{
		ManifestPath:  manifestPath,
		ORTLibrary:    cfg.Runtime.ORTLibraryPath,
		ORTAPIVersion: ortAPIVersion,
		Stdout:        os.Stdout,
		Stderr:        os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("bundle verify failed: %w", err)
	}

	return nil
}
