package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stackconsult/prospectpulse/internal/gateway"
	"github.com/stackconsult/prospectpulse/internal/monitoring"
	"github.com/stackconsult/prospectpulse/internal/resilience"
	"github.com/stackconsult/prospectpulse/internal/worker"
)

var (
	servePort    int
	serveWorkers int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway with an embedded worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
		gw := gateway.New(env.Store, env.Broker, breaker, newWorker(env), gateway.Options{
			APIToken:           cfg.Server.APIToken,
			StreamPollInterval: time.Duration(cfg.Stream.PollIntervalMs) * time.Millisecond,
			StreamTimeout:      time.Duration(cfg.Stream.TimeoutSecs) * time.Second,
			MetricsSampleLimit: cfg.Monitoring.SampleLimit,
		})

		checker := monitoring.NewChecker(
			monitoring.NewCollector(env.Store, cfg.Monitoring.SampleLimit),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: gw.Router(),
		}

		workers := serveWorkers
		if workers == 0 {
			workers = cfg.Worker.Count
		}
		pool := worker.NewPool(workers, func() *worker.Worker { return newWorker(env) })

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("starting worker pool", zap.Int("workers", workers))
			return pool.Run(ctx)
		})
		g.Go(func() error {
			checker.Run(ctx)
			return nil
		})
		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			return srv.Shutdown(cmd.Context())
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 0, "embedded worker count (default from config)")
	rootCmd.AddCommand(serveCmd)
}
