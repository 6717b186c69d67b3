package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/stackconsult/prospectpulse/internal/limiter"
	"github.com/stackconsult/prospectpulse/internal/pipeline"
	"github.com/stackconsult/prospectpulse/internal/queue"
	"github.com/stackconsult/prospectpulse/internal/resilience"
	"github.com/stackconsult/prospectpulse/internal/stage"
	"github.com/stackconsult/prospectpulse/internal/store"
	"github.com/stackconsult/prospectpulse/internal/worker"
	"github.com/stackconsult/prospectpulse/pkg/llm"
)

// pulseEnv holds the initialized store, broker, and pipeline shared by
// the serve/worker/enqueue commands.
type pulseEnv struct {
	Store    store.Store
	Broker   queue.Broker
	Limiter  *limiter.Limiter
	Executor *pipeline.Executor
	Retry    resilience.RetryConfig
}

// Close releases resources held by the environment.
func (pe *pulseEnv) Close() {
	if pe.Broker != nil {
		_ = pe.Broker.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "prospectpulse.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initBroker(ctx context.Context) queue.Broker {
	if cfg.Queue.RedisAddr == "" {
		zap.L().Info("no redis address configured, using in-process broker")
		return queue.NewMemory()
	}
	broker, err := queue.NewRedis(ctx, cfg.Queue.RedisAddr, cfg.Queue.RedisPassword, cfg.Queue.RedisDB)
	if err != nil {
		zap.L().Warn("redis unreachable, using in-process broker",
			zap.String("addr", cfg.Queue.RedisAddr),
			zap.Error(err),
		)
		return queue.NewMemory()
	}
	zap.L().Info("connected to redis broker", zap.String("addr", cfg.Queue.RedisAddr))
	return broker
}

func initLimiter() *limiter.Limiter {
	limits := make(map[string]limiter.ProviderLimit, len(cfg.RateLimit.Providers))
	for provider, pl := range cfg.RateLimit.Providers {
		limits[provider] = limiter.ProviderLimit{RatePerSec: pl.RatePerSec, Burst: pl.Burst}
	}
	fallback := limiter.ProviderLimit{
		RatePerSec: cfg.RateLimit.Fallback.RatePerSec,
		Burst:      cfg.RateLimit.Fallback.Burst,
	}
	return limiter.New(limits, fallback)
}

// initEnv sets up the store, broker, limiter, and pipeline. Callers
// should defer env.Close().
func initEnv(ctx context.Context, mode string) (*pulseEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	lim := initLimiter()
	llmClient := llm.NewClient(cfg.Anthropic.Key, cfg.Anthropic.Model)
	exec := pipeline.New(st, stage.DefaultRunners(llmClient), lim)

	return &pulseEnv{
		Store:    st,
		Broker:   initBroker(ctx),
		Limiter:  lim,
		Executor: exec,
		Retry: resilience.FromConfig(
			cfg.Worker.MaxAttempts,
			cfg.Worker.InitialBackoffMs,
			cfg.Worker.MaxBackoffMs,
			cfg.Worker.Multiplier,
			cfg.Worker.JitterFraction,
		),
	}, nil
}

func newWorker(env *pulseEnv) *worker.Worker {
	return worker.New(env.Store, env.Broker, env.Executor, env.Retry)
}
