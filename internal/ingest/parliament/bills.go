// Package parliament ingests bills introduced in, and statutory
// instruments laid before, the UK Parliament.
package parliament

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/yesterday/internal/fetcher"
	"github.com/sells-group/yesterday/internal/ingest"
	"github.com/sells-group/yesterday/internal/model"
	"github.com/sells-group/yesterday/internal/resilience"
)

// Defaults for the bills API.
const (
	DefaultBillsBaseURL = "https://bills-api.parliament.uk"
	BillsSiteURL        = "https://bills.parliament.uk"
	BillSourceName      = "parliament_bill"

	// firstReadingStage is the bill stage id that marks introduction.
	firstReadingStage = 1
	sittingsTake      = 200
	untitledBill      = "Untitled Bill"
)

// BillsClient lists bills introduced on a date.
type BillsClient struct {
	http    fetcher.Getter
	breaker *resilience.CircuitBreaker
}

// NewBillsClient creates a bills client over g. Detail lookups share one
// circuit breaker so a failing detail endpoint is skipped quickly.
func NewBillsClient(g fetcher.Getter) *BillsClient {
	log := zap.L().With(zap.String("component", "parliament.bills"))
	return &BillsClient{
		http: g,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			OnStateChange: func(from, to resilience.CircuitState) {
				log.Warn("bill detail circuit changed", zap.Stringer("from", from), zap.Stringer("to", to))
			},
		}),
	}
}

// FetchIntroducedBills returns the bills that had a first reading on
// w.Date, in sitting order. Failing to list sittings is fatal; a failed
// detail lookup skips that bill.
func (c *BillsClient) FetchIntroducedBills(ctx context.Context, w model.DateWindow) ([]Bill, error) {
	log := zap.L().With(zap.String("component", "parliament.bills"), zap.Stringer("date", w.Date))

	ids, err := c.introducedIDs(ctx, w.Date)
	if err != nil {
		return nil, err
	}
	log.Info("bills introduced", zap.Int("count", len(ids)))

	bills := make([]Bill, 0, len(ids))
	for _, id := range ids {
		bill, err := resilience.ExecuteVal(c.breaker, func() (Bill, error) {
			return c.fetchBill(ctx, id)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrap(ctx.Err(), "parliament: fetch bills")
			}
			log.Warn("bill detail failed, skipping", zap.Int("bill_id", id), zap.Error(err))
			continue
		}
		bills = append(bills, bill)
	}
	return bills, nil
}

// introducedIDs returns distinct first-reading bill ids for date in
// first-seen order.
func (c *BillsClient) introducedIDs(ctx context.Context, date model.Date) ([]int, error) {
	d := date.String()
	q := url.Values{}
	q.Set("DateFrom", d+"T00:00:00")
	q.Set("DateTo", d+"T23:59:59")
	q.Set("Take", strconv.Itoa(sittingsTake))

	var resp sittingsResponse
	if err := c.http.GetJSON(ctx, "/api/v1/Sittings", q, &resp); err != nil {
		return nil, eris.Wrapf(err, "parliament: fetch sittings %s", d)
	}

	seen := make(map[int]struct{})
	var ids []int
	for _, s := range resp.Items {
		if s.StageID != firstReadingStage {
			continue
		}
		if _, ok := seen[s.BillID]; ok {
			continue
		}
		seen[s.BillID] = struct{}{}
		ids = append(ids, s.BillID)
	}
	return ids, nil
}

func (c *BillsClient) fetchBill(ctx context.Context, id int) (Bill, error) {
	var raw json.RawMessage
	if err := c.http.GetJSON(ctx, "/api/v1/Bills/"+strconv.Itoa(id), nil, &raw); err != nil {
		return Bill{}, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return Bill{}, eris.Errorf("parliament: empty response for bill %d", id)
	}

	var b Bill
	if err := json.Unmarshal(raw, &b); err != nil {
		return Bill{}, eris.Wrapf(err, "parliament: decode bill %d", id)
	}
	if b.BillID == 0 {
		b.BillID = id
	}
	b.Raw = raw
	return b, nil
}

// BillSource adapts BillsClient to ingest.Source.
type BillSource struct {
	client *BillsClient
}

// NewBillSource creates the bills source.
func NewBillSource(c *BillsClient) *BillSource {
	return &BillSource{client: c}
}

func (s *BillSource) Name() string       { return BillSourceName }
func (s *BillSource) NeedsHistory() bool { return false }

func (s *BillSource) FetchItems(ctx context.Context, w model.DateWindow) ([]model.ItemRow, error) {
	bills, err := s.client.FetchIntroducedBills(ctx, w)
	if err != nil {
		return nil, err
	}
	rows := make([]model.ItemRow, 0, len(bills))
	for _, b := range bills {
		rows = append(rows, billRow(b, w.Date))
	}
	return rows, nil
}

func billRow(b Bill, date model.Date) model.ItemRow {
	id := strconv.Itoa(b.BillID)
	tags := map[string]any{}
	if h := strings.TrimSpace(b.CurrentHouse); h != "" {
		tags["house"] = h
	}
	return model.ItemRow{
		ID:              ingest.CanonicalID("parliament:bill:" + id),
		Source:          model.SourceParliament,
		SourceSubtype:   model.SubtypeBill,
		SourceReference: "bill/" + id,
		Title:           ingest.NormalizeTitle(b.ShortTitle, untitledBill),
		URL:             BillsSiteURL + "/bills/" + id,
		PublishedAt:     date.Midnight(time.UTC),
		Tags:            tags,
		Raw:             b.Raw,
	}
}
