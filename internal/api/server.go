// Package api exposes the ingestion trigger, the daily index read model and
// the operational endpoints over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/yesterday/internal/model"
	"github.com/sells-group/yesterday/internal/store"
)

// Ingester runs one ingestion for a calendar date.
type Ingester interface {
	Ingest(ctx context.Context, date model.Date) model.RunResult
}

// Instrumentation wraps handlers with request metrics and serves the
// scrape endpoint.
type Instrumentation interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

// Options configures the router.
type Options struct {
	CORSOrigins  []string
	Metrics      Instrumentation
	ReadyTimeout time.Duration
}

// Server holds the dependencies shared by the handlers.
type Server struct {
	store        store.QueryStore
	ingester     Ingester
	readyTimeout time.Duration
}

// NewRouter builds the chi router serving every endpoint.
func NewRouter(st store.QueryStore, ing Ingester, opts Options) http.Handler {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 2 * time.Second
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	s := &Server{store: st, ingester: ing, readyTimeout: opts.ReadyTimeout}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ingest/{date}", s.handleIngest)
		r.Get("/days/{date}", s.handleDay)
		r.Get("/items/{id}", s.handleItem)
	})
	r.Get("/ops/runs", s.handleRuns)

	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}
	return r
}
