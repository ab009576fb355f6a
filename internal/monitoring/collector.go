package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/yesterday/internal/model"
)

// DayHealth is the run history of one calendar date in the lookback.
type DayHealth struct {
	Date       model.Date      `json:"date"`
	Runs       int             `json:"runs"`
	Succeeded  bool            `json:"succeeded"`
	LastStatus model.RunStatus `json:"last_status,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
}

// MetricsSnapshot holds a point-in-time view of ingestion health.
type MetricsSnapshot struct {
	RunsTotal     int `json:"runs_total"`
	RunsSucceeded int `json:"runs_succeeded"`
	RunsFailed    int `json:"runs_failed"`
	RunsRunning   int `json:"runs_running"`

	// Days is ordered oldest first and covers every date in the lookback.
	Days []DayHealth `json:"days"`

	// StuckRuns are RUNNING runs older than the stuck threshold.
	StuckRuns []model.IngestionRun `json:"stuck_runs,omitempty"`

	LookbackDays int       `json:"lookback_days"`
	CollectedAt  time.Time `json:"collected_at"`
}

// FailedDays returns the dates whose latest run FAILED with no success.
func (s *MetricsSnapshot) FailedDays() []DayHealth {
	var out []DayHealth
	for _, d := range s.Days {
		if !d.Succeeded && d.LastStatus == model.RunStatusFailed {
			out = append(out, d)
		}
	}
	return out
}

// MissingDays returns the dates with no run at all.
func (s *MetricsSnapshot) MissingDays() []DayHealth {
	var out []DayHealth
	for _, d := range s.Days {
		if d.Runs == 0 {
			out = append(out, d)
		}
	}
	return out
}

// RunLister is the slice of the run store the collector reads.
type RunLister interface {
	RecentRuns(ctx context.Context, limit int) ([]model.IngestionRun, error)
}

// Collector gathers run health from the store.
type Collector struct {
	store      RunLister
	loc        *time.Location
	stuckAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a collector that evaluates dates in loc.
func NewCollector(st RunLister, loc *time.Location, stuckAfter time.Duration) *Collector {
	if loc == nil {
		loc = time.UTC
	}
	if stuckAfter <= 0 {
		stuckAfter = time.Hour
	}
	return &Collector{store: st, loc: loc, stuckAfter: stuckAfter, now: time.Now}
}

// runsPerDay bounds how many runs are read per lookback day.
const runsPerDay = 10

// Collect gathers a snapshot over the lookbackDays calendar dates ending
// yesterday.
func (c *Collector) Collect(ctx context.Context, lookbackDays int) (*MetricsSnapshot, error) {
	if lookbackDays < 1 {
		lookbackDays = 1
	}
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackDays: lookbackDays,
		CollectedAt:  now.UTC(),
	}

	runs, err := c.store.RecentRuns(ctx, lookbackDays*runsPerDay)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	last := model.DateOf(now.In(c.loc)).AddDays(-1)
	first := last.AddDays(-(lookbackDays - 1))

	days := make(map[model.Date]*DayHealth, lookbackDays)
	for d := first; !last.Before(d); d = d.AddDays(1) {
		days[d] = &DayHealth{Date: d}
	}

	// RecentRuns is newest first, so the first run seen per date is its latest.
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusSuccess:
			snap.RunsSucceeded++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
			if now.Sub(r.StartedAt) > c.stuckAfter {
				snap.StuckRuns = append(snap.StuckRuns, r)
			}
		}
		snap.RunsTotal++

		dh, ok := days[r.Date]
		if !ok {
			continue
		}
		if dh.Runs == 0 {
			dh.LastStatus = r.Status
			dh.LastError = r.ErrorSummary
		}
		dh.Runs++
		if r.Status == model.RunStatusSuccess {
			dh.Succeeded = true
		}
	}

	snap.Days = make([]DayHealth, 0, len(days))
	for _, dh := range days {
		snap.Days = append(snap.Days, *dh)
	}
	sort.Slice(snap.Days, func(i, j int) bool { return snap.Days[i].Date.Before(snap.Days[j].Date) })

	return snap, nil
}
