package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackconsult/prospectpulse/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "prospectpulse",
	Short: "Asynchronous lead enrichment service",
	Long:  "Accepts lead submissions, runs them through a mining, validation, and synthesis pipeline on a worker pool, and serves status and results over HTTP.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
