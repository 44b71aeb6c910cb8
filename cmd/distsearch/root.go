package main

import (
	"github.com/spf13/cobra"

	"github.com/kailas-cloud/distsearch/internal/config"
	"github.com/kailas-cloud/distsearch/internal/version"
)

var (
	envFlag    string
	configFlag string
)

var rootCmd = &cobra.Command{
	Use:   "distsearch",
	Short: "Distributed faceted search coordinator",
	Long: `distsearch serves select requests over a set of shard cores, merging
ranked documents, grouped results and facet counts across shards.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate("distsearch version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&envFlag, "env", config.GetEnv(),
		"Environment: local, dev, docker or prod (selects config/<env>.yaml)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "",
		"Explicit config file path (overrides --env lookup)")
}

func loadConfig() (config.Config, error) {
	if configFlag != "" {
		return config.LoadFile(configFlag)
	}
	return config.Load(envFlag)
}
