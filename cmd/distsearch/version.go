package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/distsearch/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build metadata",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "distsearch %s\n", version.String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
