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
)

// Defaults for the statutory instruments API.
const (
	DefaultSIsBaseURL = "https://statutoryinstruments-api.parliament.uk"
	SIsSiteURL        = "https://statutoryinstruments.parliament.uk"
	SISourceName      = "parliament_si"

	DefaultSIPageSize = 200
	DefaultSIMaxItems = 1000
	untitledSI        = "Untitled SI"
)

// SIsConfig bounds paging through the instrument list.
type SIsConfig struct {
	PageSize int
	// MaxItems caps how many list entries are scanned per call.
	MaxItems int
}

// SIsClient lists instruments laid on a date.
type SIsClient struct {
	http fetcher.Getter
	cfg  SIsConfig
}

// NewSIsClient creates an SI client over g.
func NewSIsClient(g fetcher.Getter, cfg SIsConfig) *SIsClient {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultSIPageSize
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultSIMaxItems
	}
	return &SIsClient{http: g, cfg: cfg}
}

// FetchLaidSIs pages the newest-first instrument list and keeps entries
// whose commons or lords laying date is w.Date. Paging stops on an empty
// or short page, a page where every dated entry predates w.Date, or after
// MaxItems entries.
func (c *SIsClient) FetchLaidSIs(ctx context.Context, w model.DateWindow) ([]Instrument, error) {
	log := zap.L().With(zap.String("component", "parliament.sis"), zap.Stringer("date", w.Date))
	target := w.Date.String()

	var (
		laid    []Instrument
		scanned int
	)
	for skip := 0; skip < c.cfg.MaxItems; skip += c.cfg.PageSize {
		page, err := c.fetchPage(ctx, skip)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		scanned += len(page)

		allOlder := true
		for _, si := range page {
			if laidOn(si, target) {
				laid = append(laid, si)
			}
			if !olderThan(si, target) {
				allOlder = false
			}
		}
		if allOlder || len(page) < c.cfg.PageSize {
			break
		}
	}

	log.Info("instruments laid", zap.Int("count", len(laid)), zap.Int("scanned", scanned))
	return laid, nil
}

func (c *SIsClient) fetchPage(ctx context.Context, skip int) ([]Instrument, error) {
	q := url.Values{}
	q.Set("Skip", strconv.Itoa(skip))
	q.Set("Take", strconv.Itoa(c.cfg.PageSize))

	var resp siListResponse
	if err := c.http.GetJSON(ctx, "/api/v2/StatutoryInstrument", q, &resp); err != nil {
		return nil, eris.Wrapf(err, "parliament: fetch instruments skip=%d", skip)
	}

	out := make([]Instrument, 0, len(resp.Items))
	for _, item := range resp.Items {
		if len(item.Value) == 0 || string(item.Value) == "null" {
			continue
		}
		var si Instrument
		if err := json.Unmarshal(item.Value, &si); err != nil {
			return nil, eris.Wrapf(err, "parliament: decode instrument skip=%d", skip)
		}
		si.Raw = item.Value
		out = append(out, si)
	}
	return out, nil
}

func laidOn(si Instrument, target string) bool {
	return strings.HasPrefix(si.CommonsLayingDate, target) || strings.HasPrefix(si.LordsLayingDate, target)
}

// olderThan reports whether the instrument's laying date (commons, else
// lords) is strictly before target. Undated instruments are not older.
func olderThan(si Instrument, target string) bool {
	d := si.CommonsLayingDate
	if d == "" {
		d = si.LordsLayingDate
	}
	if d == "" {
		return false
	}
	if len(d) > len(model.DateLayout) {
		d = d[:len(model.DateLayout)]
	}
	return d < target
}

// SISource adapts SIsClient to ingest.Source.
type SISource struct {
	client *SIsClient
}

// NewSISource creates the statutory instruments source.
func NewSISource(c *SIsClient) *SISource {
	return &SISource{client: c}
}

func (s *SISource) Name() string       { return SISourceName }
func (s *SISource) NeedsHistory() bool { return false }

func (s *SISource) FetchItems(ctx context.Context, w model.DateWindow) ([]model.ItemRow, error) {
	sis, err := s.client.FetchLaidSIs(ctx, w)
	if err != nil {
		return nil, err
	}
	rows := make([]model.ItemRow, 0, len(sis))
	for _, si := range sis {
		if row, ok := siRow(si, w.Date); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// siRow maps one instrument. Instruments without a work package have no
// public page and are dropped.
func siRow(si Instrument, date model.Date) (model.ItemRow, bool) {
	if si.WorkpackageID == "" {
		return model.ItemRow{}, false
	}

	tags := map[string]any{}
	if si.Procedure != nil && si.Procedure.Name != "" {
		tags["procedure"] = si.Procedure.Name
	}
	if si.PaperYear != "" {
		tags["paperYear"] = si.PaperYear
	}
	var ref []string
	if si.PaperPrefix != "" {
		ref = append(ref, si.PaperPrefix)
	}
	if si.PaperNumber != nil {
		ref = append(ref, strconv.Itoa(*si.PaperNumber))
	}
	if len(ref) > 0 {
		tags["siReference"] = strings.Join(ref, " ")
	}

	return model.ItemRow{
		ID:              ingest.CanonicalID("parliament:si:" + si.ID),
		Source:          model.SourceParliament,
		SourceSubtype:   model.SubtypeSI,
		SourceReference: "si/" + si.ID,
		Title:           ingest.NormalizeTitle(si.Name, untitledSI),
		URL:             SIsSiteURL + "/instrumentDetail/" + si.WorkpackageID,
		PublishedAt:     date.Midnight(time.UTC),
		Tags:            tags,
		Raw:             si.Raw,
	}, true
}
