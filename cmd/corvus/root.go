package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/corvuslabs/corvus/internal/config"
)

var (
	cfgFile string
	dataDir string
)

var rootCmd = &cobra.Command{
	Use:   "corvus",
	Short: "Framework-driven corpus analysis orchestrator",
	Long: `Corvus runs multi-stage LLM analysis of text corpora against
registered analytical frameworks, with transactional framework versioning,
content-addressed result storage, validation caching, and a reliability
layer over the model providers.

A run validates every framework against the registry, checks coherence of
the framework/experiment/corpus combination (cached by content), analyzes
each document with bounded concurrency, consolidates and synthesizes the
results, and verifies derived statistics before reporting.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/corvus/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the data directory")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(frameworksCmd)
}

// loadConfig loads configuration honoring the persistent flags.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		cfg, err = config.LoadFromPath(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Data.Dir = dataDir
	}
	return cfg, nil
}
