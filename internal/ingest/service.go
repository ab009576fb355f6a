package ingest

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/yesterday/internal/model"
	"github.com/sells-group/yesterday/internal/store"
)

// Store is the subset of storage the orchestrator writes through.
type Store interface {
	store.ItemStore
	store.IndexStore
	store.RunStore
}

// Recorder receives run and item observations. A nil Recorder is allowed.
type Recorder interface {
	ObserveRun(status model.RunStatus, elapsed time.Duration)
	AddItems(source string, bucket model.Bucket, n int)
}

// Service runs ingestion for one date at a time.
type Service struct {
	store    Store
	reg      *Registry
	recorder Recorder
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithClock overrides the clock used for durations.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an orchestrator over st and the sources in reg.
func NewService(st Store, reg *Registry, opts ...Option) *Service {
	s := &Service{store: st, reg: reg, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Ingest claims, fetches, classifies, persists and indexes date. It never
// returns an error: failures are recorded on the run and reported as a
// FAILED result. A call that finds the date already RUNNING or SUCCESS
// returns that run at once with zero counts.
//
// Once a run is claimed it executes on a context detached from ctx's
// cancellation, so a caller going away cannot fail the run.
func (s *Service) Ingest(ctx context.Context, date model.Date) model.RunResult {
	log := zap.L().With(zap.String("component", "ingest.service"), zap.Stringer("date", date))
	started := s.now()
	w := ForDate(date)

	log.Info("ingestion started", zap.Time("window_start", w.Start), zap.Time("window_end", w.End))

	run, created, err := s.store.Claim(ctx, date)
	if err != nil {
		log.Error("claim run failed", zap.Error(err))
		return s.finish(model.RunResult{
			Date:         date,
			Status:       model.RunStatusFailed,
			SourceCounts: map[string]int{},
			ErrorMessage: err.Error(),
		}, started)
	}
	if !created {
		log.Info("run already active or complete, skipping",
			zap.String("run_id", run.ID), zap.String("status", string(run.Status)))
		return model.RunResult{
			RunID:        run.ID,
			Date:         date,
			Status:       run.Status,
			SourceCounts: map[string]int{},
			DurationMs:   s.now().Sub(started).Milliseconds(),
		}
	}

	log = log.With(zap.String("run_id", run.ID))
	runCtx := context.WithoutCancel(ctx)
	total, counts, err := s.execute(runCtx, run.ID, w, log)
	if err != nil {
		log.Error("ingestion failed", zap.Error(err))
		if markErr := s.store.MarkFailed(runCtx, run.ID, err.Error()); markErr != nil {
			log.Error("failed to record run failure", zap.Error(markErr))
		}
		return s.finish(model.RunResult{
			RunID:        run.ID,
			Date:         date,
			Status:       model.RunStatusFailed,
			SourceCounts: map[string]int{},
			ErrorMessage: err.Error(),
		}, started)
	}

	res := s.finish(model.RunResult{
		RunID:        run.ID,
		Date:         date,
		Status:       model.RunStatusSuccess,
		TotalCount:   total,
		SourceCounts: counts,
	}, started)
	log.Info("ingestion complete", zap.Int("total", total), zap.Int64("duration_ms", res.DurationMs))
	return res
}

// classified is one row with its bucket for the window.
type classified struct {
	source string
	row    model.ItemRow
	bucket model.Bucket
}

// execute runs fetch through finalize for a claimed run.
func (s *Service) execute(ctx context.Context, runID string, w model.DateWindow, log *zap.Logger) (int, map[string]int, error) {
	sources := s.reg.All()
	fetched, err := s.fetch(ctx, sources, w)
	if err != nil {
		return 0, nil, err
	}

	var rows []classified
	for i, src := range sources {
		out, err := s.classify(ctx, src, fetched[i], w, log)
		if err != nil {
			return 0, nil, err
		}
		rows = append(rows, out...)
	}
	rows = dedupe(rows, log)

	for _, c := range rows {
		if err := s.store.Upsert(ctx, c.row); err != nil {
			return 0, nil, err
		}
	}

	entries := make([]model.IndexEntry, 0, len(rows))
	counts := make(map[string]int, len(sources))
	for _, src := range sources {
		counts[src.Name()] = 0
	}
	buckets := make(map[string]map[model.Bucket]int)
	for _, c := range rows {
		entries = append(entries, model.IndexEntry{Date: w.Date, CanonicalID: c.row.ID, Bucket: c.bucket})
		counts[c.source]++
		if buckets[c.source] == nil {
			buckets[c.source] = make(map[model.Bucket]int)
		}
		buckets[c.source][c.bucket]++
	}

	if err := s.store.Rebuild(ctx, w.Date, entries); err != nil {
		return 0, nil, err
	}
	if err := s.store.MarkSuccess(ctx, runID, len(entries), counts); err != nil {
		return 0, nil, err
	}

	if s.recorder != nil {
		for _, name := range sortedKeys(buckets) {
			for b, n := range buckets[name] {
				s.recorder.AddItems(name, b, n)
			}
		}
	}
	return len(entries), counts, nil
}

// fetch calls every source concurrently. Each source writes only its own
// slot, so no locking is needed.
func (s *Service) fetch(ctx context.Context, sources []Source, w model.DateWindow) ([][]model.ItemRow, error) {
	out := make([][]model.ItemRow, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			rows, err := src.FetchItems(gctx, w)
			if err != nil {
				return eris.Wrapf(err, "ingest: source %s", src.Name())
			}
			zap.L().Debug("source fetched",
				zap.String("component", "ingest.service"),
				zap.String("source", src.Name()),
				zap.Int("rows", len(rows)),
			)
			out[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// classify assigns buckets for one source's rows. History-backed sources
// ask the store which ids it knew before the window opened; the rest are
// bucketed from their own timestamps.
func (s *Service) classify(ctx context.Context, src Source, rows []model.ItemRow, w model.DateWindow, log *zap.Logger) ([]classified, error) {
	out := make([]classified, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	if src.NeedsHistory() {
		ids := make([]string, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		known, err := s.store.ExistingIDs(ctx, ids, w.Start)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: classify %s", src.Name())
		}
		for _, r := range rows {
			b := model.BucketNew
			if _, ok := known[r.ID]; ok {
				b = model.BucketUpdated
			}
			out = append(out, classified{source: src.Name(), row: r, bucket: b})
		}
		return out, nil
	}

	for _, r := range rows {
		b, ok := Classify(r.PublishedAt, r.UpdatedAt, w)
		if !ok {
			log.Warn("row outside window, excluded",
				zap.String("source", src.Name()), zap.String("id", r.ID), zap.Time("published_at", r.PublishedAt))
			continue
		}
		out = append(out, classified{source: src.Name(), row: r, bucket: b})
	}
	return out, nil
}

// dedupe keeps the first occurrence of each id.
func dedupe(rows []classified, log *zap.Logger) []classified {
	seen := make(map[string]struct{}, len(rows))
	out := rows[:0]
	for _, c := range rows {
		if _, ok := seen[c.row.ID]; ok {
			log.Debug("duplicate id dropped", zap.String("source", c.source), zap.String("id", c.row.ID))
			continue
		}
		seen[c.row.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (s *Service) finish(res model.RunResult, started time.Time) model.RunResult {
	res.DurationMs = s.now().Sub(started).Milliseconds()
	if s.recorder != nil {
		s.recorder.ObserveRun(res.Status, time.Duration(res.DurationMs)*time.Millisecond)
	}
	return res
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
