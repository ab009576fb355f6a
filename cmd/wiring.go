package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/yesterday/internal/cache"
	"github.com/sells-group/yesterday/internal/config"
	"github.com/sells-group/yesterday/internal/fetcher"
	"github.com/sells-group/yesterday/internal/ingest"
	"github.com/sells-group/yesterday/internal/ingest/govuk"
	"github.com/sells-group/yesterday/internal/ingest/parliament"
	"github.com/sells-group/yesterday/internal/metrics"
	"github.com/sells-group/yesterday/internal/resilience"
	"github.com/sells-group/yesterday/internal/store"
)

// initStore opens the configured store, wrapping it in the Redis day cache
// when redis.addr is set. counter may be nil.
func initStore(ctx context.Context, c *config.Config, counter cache.Counter) (store.Store, error) {
	var st store.Store
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "yesterday.db"
		}
		s, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		st = s
	case "postgres":
		s, err := store.NewPostgres(ctx, c.Store.DatabaseURL, c.Store.PoolConfig())
		if err != nil {
			return nil, err
		}
		st = s
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}

	if c.Redis.Addr == "" {
		return st, nil
	}
	rcfg := cache.RedisConfig{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TTLSecs:  c.Redis.TTLSecs,
	}
	backend, err := cache.NewClient(ctx, rcfg)
	if err != nil {
		// The cache is an optimisation; run uncached rather than fail.
		zap.L().Warn("redis unavailable, day cache disabled", zap.String("addr", c.Redis.Addr), zap.Error(err))
		return st, nil
	}
	return cache.NewStore(st, backend, rcfg.TTL(), counter), nil
}

// initMetrics registers collectors on a fresh registry.
func initMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

// newFetcher builds one rate-limited upstream transport.
func newFetcher(c *config.Config, baseURL string, ratePerSec float64, obs fetcher.Observer) (*fetcher.Client, error) {
	return fetcher.NewClient(fetcher.Options{
		BaseURL:     baseURL,
		UserAgent:   c.HTTP.UserAgent,
		ReadTimeout: c.HTTP.Timeout(),
		RatePerSec:  ratePerSec,
		Observer:    obs,
	})
}

// buildRegistry wires the GOV.UK, bills and SI sources.
func buildRegistry(c *config.Config, obs fetcher.Observer) (*ingest.Registry, error) {
	govukHTTP, err := newFetcher(c, c.GovUK.BaseURL, c.GovUK.RatePerSec, obs)
	if err != nil {
		return nil, eris.Wrap(err, "wiring: govuk transport")
	}
	billsHTTP, err := newFetcher(c, c.Parliament.BillsBaseURL, c.Parliament.RatePerSec, obs)
	if err != nil {
		return nil, eris.Wrap(err, "wiring: bills transport")
	}
	sisHTTP, err := newFetcher(c, c.Parliament.SIsBaseURL, c.Parliament.RatePerSec, obs)
	if err != nil {
		return nil, eris.Wrap(err, "wiring: sis transport")
	}

	gcfg := govuk.DefaultConfig()
	gcfg.PageSize = c.GovUK.PageSize
	if c.GovUK.MaxRetries > 0 {
		gcfg.Retry.MaxAttempts = c.GovUK.MaxRetries
	}
	if d := c.GovUK.BaseDelay(); d > 0 {
		gcfg.Retry.InitialBackoff = d
	}
	gcfg.Retry.OnRetry = resilience.RetryLogger("govuk", "search")

	return ingest.NewRegistry(
		govuk.NewSource(govuk.NewClient(govukHTTP, gcfg), govuk.DefaultBaseURL),
		parliament.NewBillSource(parliament.NewBillsClient(billsHTTP)),
		parliament.NewSISource(parliament.NewSIsClient(sisHTTP, parliament.SIsConfig{
			PageSize: c.Parliament.PageSize,
			MaxItems: c.Parliament.MaxItems,
		})),
	), nil
}

// env bundles what the long-running commands share.
type env struct {
	Store   store.Store
	Metrics *metrics.Metrics
	Service *ingest.Service
}

// Close releases the store.
func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// initEnv validates cfg for mode, opens and migrates the store, and builds
// the ingestion service.
func initEnv(ctx context.Context, mode string) (*env, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	m := initMetrics()
	st, err := initStore(ctx, cfg, m)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	reg, err := buildRegistry(cfg, m.ObserveUpstream)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	return &env{
		Store:   st,
		Metrics: m,
		Service: ingest.NewService(st, reg, ingest.WithRecorder(m)),
	}, nil
}
