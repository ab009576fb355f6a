// Package store persists items, daily indexes and ingestion runs.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/yesterday/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrRunNotRunning is returned when finalizing a run that already left RUNNING.
var ErrRunNotRunning = eris.New("store: run is not running")

// ItemStore holds canonical items across runs.
type ItemStore interface {
	// Upsert inserts or merges one item. On conflict published_at keeps the
	// earliest value, tags are shallow-merged with incoming keys winning, and
	// created_at is preserved.
	Upsert(ctx context.Context, item model.ItemRow) error

	// ExistingIDs returns the subset of ids first stored before the given
	// instant.
	ExistingIDs(ctx context.Context, ids []string, before time.Time) (map[string]struct{}, error)
}

// IndexStore owns the per-day materialized index.
type IndexStore interface {
	// Rebuild replaces every entry for date in one transaction.
	Rebuild(ctx context.Context, date model.Date, entries []model.IndexEntry) error
}

// RunStore tracks the ingestion run lifecycle.
type RunStore interface {
	// Claim returns the RUNNING or SUCCESS run for date when one exists
	// (created is false), or creates and returns a new RUNNING run.
	Claim(ctx context.Context, date model.Date) (run *model.IngestionRun, created bool, err error)
	MarkSuccess(ctx context.Context, runID string, total int, sourceCounts map[string]int) error
	MarkFailed(ctx context.Context, runID string, summary string) error
}

// QueryStore is the read path over the persisted tables.
type QueryStore interface {
	// DailyIndex returns the index for date, or nil when it has no entries.
	DailyIndex(ctx context.Context, date model.Date) (*model.DailyIndex, error)
	// Item returns the stored record for id, or ErrNotFound.
	Item(ctx context.Context, id string) (*model.StoredItem, error)
	// RecentRuns returns up to limit runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]model.IngestionRun, error)
	Ping(ctx context.Context) error
	// MigrationsApplied reports whether every embedded migration has run.
	MigrationsApplied(ctx context.Context) (bool, error)
}

// Store aggregates every storage contract plus lifecycle.
type Store interface {
	ItemStore
	IndexStore
	RunStore
	QueryStore

	Migrate(ctx context.Context) error
	Close() error
}

// DefaultRecentRuns is the run listing size used by the ops surface.
const DefaultRecentRuns = 30

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentRuns
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func advisoryKey(date model.Date) string {
	return "ingest:" + date.String()
}
