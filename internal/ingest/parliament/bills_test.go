package parliament

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/yesterday/internal/fetcher"
	"github.com/sells-group/yesterday/internal/ingest"
	"github.com/sells-group/yesterday/internal/model"
	"github.com/sells-group/yesterday/internal/resilience"
)

var (
	winterDay = model.NewDate(2026, time.February, 27)
	winter    = ingest.ForDate(winterDay)
)

func newGetter(t *testing.T, srv *httptest.Server) *fetcher.Client {
	t.Helper()
	f, err := fetcher.NewClient(fetcher.Options{BaseURL: srv.URL, RatePerSec: 1000, Burst: 100})
	require.NoError(t, err)
	return f
}

func billsServer(t *testing.T, details map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/v1/Sittings" {
			q := r.URL.Query()
			assert.Equal(t, "2026-02-27T00:00:00", q.Get("DateFrom"))
			assert.Equal(t, "2026-02-27T23:59:59", q.Get("DateTo"))
			assert.Equal(t, "200", q.Get("Take"))
			w.Write([]byte(`{"items":[
				{"id":1,"stageId":1,"billId":10},
				{"id":2,"stageId":6,"billId":11},
				{"id":3,"stageId":1,"billId":12},
				{"id":4,"stageId":1,"billId":10}
			],"totalResults":4}`)) //nolint:errcheck
			return
		}
		body, ok := details[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(body)) //nolint:errcheck
	}))
}

func TestFetchIntroducedBills(t *testing.T) {
	srv := billsServer(t, map[string]string{
		"/api/v1/Bills/10": `{"billId":10,"shortTitle":"Finance Bill","currentHouse":"Commons","lastUpdate":"2026-02-27T12:00:00"}`,
		"/api/v1/Bills/12": `{"billId":12,"shortTitle":"","currentHouse":"Lords"}`,
	})
	defer srv.Close()

	bills, err := NewBillsClient(newGetter(t, srv)).FetchIntroducedBills(context.Background(), winter)
	require.NoError(t, err)
	require.Len(t, bills, 2)
	assert.Equal(t, 10, bills[0].BillID)
	assert.Equal(t, "Finance Bill", bills[0].ShortTitle)
	assert.Equal(t, 12, bills[1].BillID)
	assert.Contains(t, string(bills[0].Raw), `"lastUpdate"`)
}

func TestFetchIntroducedBills_DetailFailureSkipped(t *testing.T) {
	srv := billsServer(t, map[string]string{
		"/api/v1/Bills/12": `{"billId":12,"shortTitle":"Second Bill"}`,
	})
	defer srv.Close()

	bills, err := NewBillsClient(newGetter(t, srv)).FetchIntroducedBills(context.Background(), winter)
	require.NoError(t, err)
	require.Len(t, bills, 1)
	assert.Equal(t, 12, bills[0].BillID)
}

func TestFetchIntroducedBills_SittingsFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewBillsClient(newGetter(t, srv)).FetchIntroducedBills(context.Background(), winter)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch sittings 2026-02-27")
}

func TestFetchIntroducedBills_NoSittings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"items":[],"totalResults":0}`)) //nolint:errcheck
	}))
	defer srv.Close()

	bills, err := NewBillsClient(newGetter(t, srv)).FetchIntroducedBills(context.Background(), winter)
	require.NoError(t, err)
	assert.Empty(t, bills)
}

func TestFetchIntroducedBills_OpenCircuitSkipsRemainingDetails(t *testing.T) {
	var detailCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/Sittings" {
			w.Write([]byte(`{"items":[
				{"stageId":1,"billId":1},{"stageId":1,"billId":2},{"stageId":1,"billId":3}
			]}`)) //nolint:errcheck
			return
		}
		detailCalls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewBillsClient(newGetter(t, srv))
	c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})

	bills, err := c.FetchIntroducedBills(context.Background(), winter)
	require.NoError(t, err)
	assert.Empty(t, bills)
	assert.Equal(t, int32(2), detailCalls.Load())
	assert.Equal(t, resilience.CircuitOpen, c.breaker.State())
}

func TestBillRow(t *testing.T) {
	row := billRow(Bill{BillID: 42, ShortTitle: " Finance  Bill ", CurrentHouse: "Commons", Raw: []byte(`{"billId":42}`)}, winterDay)

	assert.Equal(t, ingest.CanonicalID("parliament:bill:42"), row.ID)
	assert.Equal(t, model.SourceParliament, row.Source)
	assert.Equal(t, model.SubtypeBill, row.SourceSubtype)
	assert.Equal(t, "bill/42", row.SourceReference)
	assert.Equal(t, "Finance Bill", row.Title)
	assert.Equal(t, "https://bills.parliament.uk/bills/42", row.URL)
	assert.Equal(t, time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC), row.PublishedAt)
	assert.Nil(t, row.UpdatedAt)
	assert.Equal(t, map[string]any{"house": "Commons"}, row.Tags)
	assert.JSONEq(t, `{"billId":42}`, string(row.Raw))

	untitled := billRow(Bill{BillID: 7}, winterDay)
	assert.Equal(t, "Untitled Bill", untitled.Title)
	assert.Empty(t, untitled.Tags)
}

func TestBillSource(t *testing.T) {
	srv := billsServer(t, map[string]string{
		"/api/v1/Bills/10": `{"billId":10,"shortTitle":"Finance Bill"}`,
		"/api/v1/Bills/12": `{"billId":12,"shortTitle":"Other Bill"}`,
	})
	defer srv.Close()

	s := NewBillSource(NewBillsClient(newGetter(t, srv)))
	assert.Equal(t, "parliament_bill", s.Name())
	assert.False(t, s.NeedsHistory())

	rows, err := s.FetchItems(context.Background(), winter)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		b, ok := ingest.Classify(r.PublishedAt, r.UpdatedAt, winter)
		assert.True(t, ok)
		assert.Equal(t, model.BucketNew, b)
	}

	// Parliamentary midnight-UTC timestamps stay inside a BST window.
	summer := ingest.ForDate(model.NewDate(2026, time.July, 15))
	b, ok := ingest.Classify(billRow(Bill{BillID: 1}, summer.Date).PublishedAt, nil, summer)
	assert.True(t, ok)
	assert.Equal(t, model.BucketNew, b)
}
