package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/yesterday/internal/ingest"
	"github.com/sells-group/yesterday/internal/model"
)

var _ ingest.Recorder = (*Metrics)(nil)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return New(prometheus.NewRegistry())
}

func value(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var pb dto.Metric
	require.NoError(t, c.Write(&pb))
	return pb.GetCounter().GetValue()
}

func TestObserveRun(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveRun(model.RunStatusSuccess, 3*time.Second)
	m.ObserveRun(model.RunStatusSuccess, time.Second)
	m.ObserveRun(model.RunStatusFailed, time.Second)

	assert.Equal(t, 2.0, value(t, m.RunsTotal.WithLabelValues("SUCCESS")))
	assert.Equal(t, 1.0, value(t, m.RunsTotal.WithLabelValues("FAILED")))
}

func TestAddItems(t *testing.T) {
	m := newTestMetrics(t)
	m.AddItems("govuk", model.BucketNew, 5)
	m.AddItems("govuk", model.BucketNew, 2)
	m.AddItems("govuk", model.BucketUpdated, 1)

	assert.Equal(t, 7.0, value(t, m.ItemsTotal.WithLabelValues("govuk", "NEW")))
	assert.Equal(t, 1.0, value(t, m.ItemsTotal.WithLabelValues("govuk", "UPDATED")))
}

func TestObserveUpstream(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveUpstream("www.gov.uk", 429, 10*time.Millisecond)
	m.ObserveUpstream("www.gov.uk", 0, time.Millisecond)

	assert.Equal(t, 1.0, value(t, m.UpstreamRequests.WithLabelValues("www.gov.uk", "429")))
	assert.Equal(t, 1.0, value(t, m.UpstreamRequests.WithLabelValues("www.gov.uk", "0")))
}

func TestCacheCounters(t *testing.T) {
	m := newTestMetrics(t)
	m.CacheHit()
	m.CacheMiss()
	m.CacheMiss()

	assert.Equal(t, 1.0, value(t, m.CacheHitsTotal))
	assert.Equal(t, 2.0, value(t, m.CacheMissesTotal))
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	m := newTestMetrics(t)
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/days/{date}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, d := range []string{"2026-02-26", "2026-02-27"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/days/"+d, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, 2.0, value(t, m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/days/{date}", "404")))
}

func TestHandler_ServesRegistry(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveRun(model.RunStatusSuccess, time.Second)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `yesterday_ingest_runs_total{status="SUCCESS"} 1`)
}
