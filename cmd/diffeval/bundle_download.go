package main

import (
	"fmt"
	"os"

	"github.com/example/go-diffusion-eval/internal/model"
	"github.com/spf13/cobra"
)

func newBundleDownloadCmd() *cobra.Command {
	var bundleID string
	var variant string
	var bundleURL string
	var sha256Sum string
	var lockFile string
	var outDir string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download and extract an exported eval bundle",
		RunE: func(_ *cobra.Command, _ []string) error {
			err := model.DownloadBundle(model.DownloadBundleOptions{
				BundleID:  bundleID,
				Variant:   variant,
				BundleURL: bundleURL,
				SHA256:    sha256Sum,
				LockFile:  lockFile,
				OutDir:    outDir,
				Stdout:    os.Stdout,
				Stderr:    os.Stderr,
			})
			if err != nil {
				return fmt.Errorf("download eval bundle: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&bundleID, "bundle-id", "", "Bundle id to resolve from the lock file")
	cmd.Flags().StringVar(&variant, "variant", "", "Bundle variant from the lock file (default \"base\")")
	cmd.Flags().StringVar(&bundleURL, "bundle-url", "", "Direct bundle archive URL (http(s):// or file://), bypasses the lock file")
	cmd.Flags().StringVar(&sha256Sum, "sha256", "", "Expected sha256 of the archive when --bundle-url is used")
	cmd.Flags().StringVar(&lockFile, "lock-file", "", "Bundle lock file (default \"bundles/eval-bundles.lock.json\")")
	cmd.Flags().StringVar(&outDir, "out-dir", "models", "Directory the bundle is extracted into")

	return cmd
}
