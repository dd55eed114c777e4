package main

import "github.com/spf13/cobra"

func newBundleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Eval bundle acquisition and verification commands",
	}

	cmd.AddCommand(newBundleDownloadCmd())
	cmd.AddCommand(newBundleVerifyCmd())
	return cmd
}
