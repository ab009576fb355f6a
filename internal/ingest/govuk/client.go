// Package govuk ingests the GOV.UK search API.
package govuk

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/yesterday/internal/fetcher"
	"github.com/sells-group/yesterday/internal/ingest"
	"github.com/sells-group/yesterday/internal/model"
	"github.com/sells-group/yesterday/internal/resilience"
)

// Defaults for the search client.
const (
	DefaultBaseURL  = "https://www.gov.uk"
	DefaultPageSize = 100
	searchPath      = "/api/search.json"
)

// Fields requested from the search API.
var Fields = []string{
	"title", "link", "public_timestamp", "first_published_at",
	"format", "organisations", "content_id", "description",
}

// Organisation is one entry of a result's organisations list.
type Organisation struct {
	Slug  string `json:"slug"`
	Title string `json:"title,omitempty"`
}

// Result is one search result. Raw holds the result exactly as received.
type Result struct {
	Title            string          `json:"title"`
	Link             string          `json:"link"`
	PublicTimestamp  string          `json:"public_timestamp"`
	FirstPublishedAt string          `json:"first_published_at"`
	Format           string          `json:"format"`
	Organisations    []Organisation  `json:"organisations"`
	ContentID        string          `json:"content_id"`
	Description      string          `json:"description"`
	Raw              json.RawMessage `json:"-"`
}

type searchPage struct {
	Results []json.RawMessage `json:"results"`
	Total   int               `json:"total"`
	Start   int               `json:"start"`
}

// Config tunes paging and retries.
type Config struct {
	PageSize int
	Retry    resilience.RetryConfig
}

// DefaultConfig returns 100-result pages and three attempts per page with
// 1s/2s jittered backoff.
func DefaultConfig() Config {
	return Config{PageSize: DefaultPageSize, Retry: resilience.DefaultRetryConfig()}
}

// Client pages through the search API newest-first.
type Client struct {
	http fetcher.Getter
	cfg  Config
	now  func() time.Time
}

// NewClient creates a search client over g.
func NewClient(g fetcher.Getter, cfg Config) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &Client{http: g, cfg: cfg, now: time.Now}
}

// FetchAll returns every result on the pages that can overlap w. The API
// has no date filter, so paging stops once a page's oldest timestamp
// precedes w.Start, a page comes back short, or the reported total is
// reached. Results outside w are returned as-is.
func (c *Client) FetchAll(ctx context.Context, w model.DateWindow) ([]Result, error) {
	log := zap.L().With(zap.String("component", "govuk.client"))

	var all []Result
	start := 0
	for {
		page, err := c.fetchPage(ctx, start)
		if err != nil {
			return nil, eris.Wrapf(err, "govuk: fetch page start=%d", start)
		}

		results := make([]Result, 0, len(page.Results))
		for _, raw := range page.Results {
			var r Result
			if err := json.Unmarshal(raw, &r); err != nil {
				return nil, eris.Wrapf(err, "govuk: decode result at start=%d", start)
			}
			r.Raw = raw
			results = append(results, r)
		}
		all = append(all, results...)
		start += len(results)

		oldest, ok := oldestTimestamp(results)
		exhausted := ok && oldest.Before(w.Start)
		log.Debug("page fetched",
			zap.Int("start", start),
			zap.Int("results", len(results)),
			zap.Int("total", page.Total),
			zap.Bool("window_exhausted", exhausted),
		)

		// A missing total decodes as 0 and does not end paging.
		if exhausted || len(results) < c.cfg.PageSize || (page.Total > 0 && start >= page.Total) {
			break
		}
	}

	log.Info("fetch complete", zap.Int("results", len(all)))
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, start int) (searchPage, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(c.cfg.PageSize))
	q.Set("start", strconv.Itoa(start))
	q.Set("order", "-public_timestamp")
	for _, f := range Fields {
		q.Add("fields[]", f)
	}

	retry := c.cfg.Retry
	retry.ShouldRetry = func(err error) bool { return !resilience.IsClientError(err) }
	retry.RetryAfter = func(err error) (time.Duration, bool) { return fetcher.RateLimitWait(err, c.now()) }
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("govuk", "search")
	}

	return resilience.DoVal(ctx, retry, func(ctx context.Context) (searchPage, error) {
		var page searchPage
		err := c.http.GetJSON(ctx, searchPath, q, &page)
		return page, err
	})
}

// oldestTimestamp returns the earliest parseable public_timestamp.
func oldestTimestamp(results []Result) (time.Time, bool) {
	var (
		oldest time.Time
		found  bool
	)
	for _, r := range results {
		t, err := ingest.ParseTimestamp(r.PublicTimestamp)
		if err != nil {
			continue
		}
		if !found || t.Before(oldest) {
			oldest, found = t, true
		}
	}
	return oldest, found
}
