package govuk

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/yesterday/internal/ingest"
	"github.com/sells-group/yesterday/internal/model"
)

// SourceName is the run-count key for GOV.UK items.
const SourceName = "govuk"

const untitled = "Untitled"

// Source adapts the search client to ingest.Source.
type Source struct {
	client  *Client
	baseURL string
}

// NewSource creates the GOV.UK source. Item URLs are built from baseURL and
// each result's link.
func NewSource(c *Client, baseURL string) *Source {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Source{client: c, baseURL: strings.TrimRight(baseURL, "/")}
}

func (s *Source) Name() string { return SourceName }

// NeedsHistory is true: search results carry no reliable "new vs updated"
// flag, so the store decides.
func (s *Source) NeedsHistory() bool { return true }

func (s *Source) FetchItems(ctx context.Context, w model.DateWindow) ([]model.ItemRow, error) {
	results, err := s.client.FetchAll(ctx, w)
	if err != nil {
		return nil, err
	}

	rows := make([]model.ItemRow, 0, len(results))
	for _, r := range results {
		if row, ok := s.toRow(r, w); ok {
			rows = append(rows, row)
		}
	}
	zap.L().Info("govuk items mapped",
		zap.String("component", "govuk.source"),
		zap.Int("fetched", len(results)),
		zap.Int("in_window", len(rows)),
	)
	return rows, nil
}

// toRow maps one result. Results without a link or a parseable
// public_timestamp, or whose public_timestamp is outside w, are dropped.
func (s *Source) toRow(r Result, w model.DateWindow) (model.ItemRow, bool) {
	if r.Link == "" || r.PublicTimestamp == "" {
		return model.ItemRow{}, false
	}
	public, err := ingest.ParseTimestamp(r.PublicTimestamp)
	if err != nil || !w.Contains(public) {
		return model.ItemRow{}, false
	}

	url := s.baseURL + r.Link
	id := strings.TrimSpace(r.ContentID)
	if id == "" {
		id = ingest.CanonicalID("govuk:" + url)
	}

	published := public
	var updated *time.Time
	if r.FirstPublishedAt != "" {
		if first, err := ingest.ParseTimestamp(r.FirstPublishedAt); err == nil {
			published = first
			if public.After(first) {
				updated = &public
			}
		}
	}

	return model.ItemRow{
		ID:          id,
		Source:      model.SourceGovUK,
		Title:       ingest.NormalizeTitle(r.Title, untitled),
		URL:         url,
		PublishedAt: published,
		UpdatedAt:   updated,
		Tags:        tags(r),
		Raw:         r.Raw,
	}, true
}

func tags(r Result) map[string]any {
	t := map[string]any{}
	if r.Format != "" {
		t["format"] = r.Format
	}
	if r.Organisations != nil {
		slugs := make([]string, 0, len(r.Organisations))
		for _, o := range r.Organisations {
			if o.Slug != "" {
				slugs = append(slugs, o.Slug)
			}
		}
		t["organisations"] = slugs
	}
	if r.ContentID != "" {
		t["native_ids"] = map[string]any{"content_id": r.ContentID}
	}
	return t
}
