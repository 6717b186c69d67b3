package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stackconsult/prospectpulse/internal/worker"
)

var workerCount int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a standalone worker pool against the broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		count := workerCount
		if count == 0 {
			count = cfg.Worker.Count
		}
		pool := worker.NewPool(count, func() *worker.Worker { return newWorker(env) })

		zap.L().Info("starting worker pool", zap.Int("workers", count))
		return pool.Run(ctx)
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerCount, "workers", 0, "worker count (default from config)")
	rootCmd.AddCommand(workerCmd)
}
