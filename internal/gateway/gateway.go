// Package gateway exposes the job subsystem over HTTP: submission,
// status, lead retrieval, and a live status stream.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/stackconsult/prospectpulse/internal/monitoring"
	"github.com/stackconsult/prospectpulse/internal/queue"
	"github.com/stackconsult/prospectpulse/internal/resilience"
	"github.com/stackconsult/prospectpulse/internal/store"
)

// InlineRunner executes a job in-process when the broker cannot take
// the notification.
type InlineRunner interface {
	RunInline(ctx context.Context, jobID string) error
}

// Options tunes gateway behavior.
type Options struct {
	// APIToken, when set, gates the workspace endpoints.
	APIToken string
	// StreamPollInterval is how often the status stream re-reads a job.
	StreamPollInterval time.Duration
	// StreamTimeout bounds how long a stream stays open for a job that
	// never reaches a terminal status.
	StreamTimeout time.Duration
	// MetricsSampleLimit caps how many recent jobs the metrics endpoint
	// aggregates over.
	MetricsSampleLimit int
}

func (o *Options) applyDefaults() {
	if o.StreamPollInterval <= 0 {
		o.StreamPollInterval = 500 * time.Millisecond
	}
	if o.StreamTimeout <= 0 {
		o.StreamTimeout = 60 * time.Second
	}
}

// Gateway wires the HTTP surface to the store and broker.
type Gateway struct {
	store     store.Store
	broker    queue.Broker
	breaker   *resilience.CircuitBreaker
	inline    InlineRunner
	collector *monitoring.Collector
	opts      Options
	log       *zap.Logger
}

// New builds a Gateway. The breaker guards every broker publish; while
// it is open, submissions run through the inline path instead.
func New(st store.Store, broker queue.Broker, breaker *resilience.CircuitBreaker, inline InlineRunner, opts Options) *Gateway {
	opts.applyDefaults()
	return &Gateway{
		store:     st,
		broker:    broker,
		breaker:   breaker,
		inline:    inline,
		collector: monitoring.NewCollector(st, opts.MetricsSampleLimit),
		opts:      opts,
		log:       zap.L().Named("gateway"),
	}
}

// Router assembles the HTTP routes.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-API-Token"},
	}))

	r.Get("/health", g.handleHealth)
	r.Get("/metrics", g.handleMetrics)
	r.Post("/enqueue", g.handleEnqueue)
	r.Get("/status/{jobID}", g.handleStatus)
	r.Get("/leads", g.handleListLeads)
	r.Get("/stream/{jobID}", g.handleStream)

	r.Route("/workspaces", func(r chi.Router) {
		r.Use(g.requireToken)
		r.Get("/", g.handleListWorkspaces)
		r.Post("/", g.handlePutWorkspace)
	})

	return r
}

func (g *Gateway) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.opts.APIToken != "" && r.Header.Get("X-API-Token") != g.opts.APIToken {
			respondError(w, http.StatusUnauthorized, "invalid or missing api token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "ok"

	storeState := "ok"
	if err := g.store.Ping(ctx); err != nil {
		storeState = err.Error()
		status = "degraded"
	}

	brokerState := "ok"
	if err := g.broker.Ping(ctx); err != nil {
		brokerState = err.Error()
		status = "degraded"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]string{
		"status": status,
		"store":  storeState,
		"broker": brokerState,
	})
}

func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := g.collector.Collect(r.Context())
	if err != nil {
		g.log.Error("metrics collection failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "metrics collection failed")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func respondJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("gateway: write response failed", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
