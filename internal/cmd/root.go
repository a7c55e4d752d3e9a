// Package cmd implements the loom command line interface.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/loomlang/loom/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Pipeline coordinator for source-to-source conversion",
	Long: `Loom drives external generation and verification capabilities through
bounded generate, verify, refine cycles per unit of work, racing parallel
attempts within each round and persisting progress so interrupted runs
resume without redoing completed units.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default .loom.yaml in the working directory)")
}

// loadConfig reads and validates the effective configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
