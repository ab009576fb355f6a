package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/yesterday/internal/model"
)

// sqliteTime is fixed-width so text comparison orders instants correctly.
const sqliteTime = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection serializes transactions, which makes Claim atomic.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return eris.Wrap(err, "sqlite: ensure migration table")
	}

	applied, err := s.applied(ctx)
	if err != nil {
		return err
	}
	migrations, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		log.Info("applying migration", zap.String("file", m.name))
		if _, err := s.db.ExecContext(ctx, m.sql); err != nil {
			return eris.Wrapf(err, "sqlite: apply migration %s", m.name)
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`,
			m.name, s.stamp(s.now()),
		); err != nil {
			return eris.Wrapf(err, "sqlite: record migration %s", m.name)
		}
	}
	return nil
}

func (s *SQLiteStore) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT filename FROM schema_migrations`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query applied migrations")
	}
	defer rows.Close() //nolint:errcheck

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "sqlite: iterate migrations")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) MigrationsApplied(ctx context.Context) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`,
	).Scan(&n); err != nil {
		return false, eris.Wrap(err, "sqlite: check migration table")
	}
	if n == 0 {
		return false, nil
	}
	applied, err := s.applied(ctx)
	if err != nil {
		return false, err
	}
	return allApplied("sqlite", applied)
}

// --- items ---

// Upsert reads the stored tags and merges them in Go: SQLite's json_patch is
// a recursive merge patch, not the shallow union items need.
func (s *SQLiteStore) Upsert(ctx context.Context, item model.ItemRow) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var existing sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT tags FROM items WHERE id = ?`, item.ID).Scan(&existing)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return eris.Wrapf(err, "sqlite: read tags for %s", item.ID)
		}

		tags := item.Tags
		if existing.Valid {
			old, err := unmarshalTags([]byte(existing.String))
			if err != nil {
				return eris.Wrapf(err, "sqlite: unmarshal tags for %s", item.ID)
			}
			tags = model.MergeTags(old, item.Tags)
		}
		tagsJSON, err := marshalTags(tags)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal tags for %s", item.ID)
		}

		now := s.stamp(s.now())
		_, err = tx.ExecContext(ctx,
			`INSERT INTO items (id, source, source_subtype, source_reference, title, url,
			                    published_at, updated_at, tags, raw, created_at, modified_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			     title        = excluded.title,
			     published_at = MIN(items.published_at, excluded.published_at),
			     updated_at   = excluded.updated_at,
			     raw          = excluded.raw,
			     tags         = excluded.tags,
			     modified_at  = excluded.modified_at`,
			item.ID, string(item.Source), nullString(item.SourceSubtype), nullString(item.SourceReference),
			item.Title, item.URL, s.stamp(item.PublishedAt), s.stampPtr(item.UpdatedAt),
			string(tagsJSON), rawText(item.Raw), now, now,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert item %s", item.ID)
		}
		return nil
	})
}

func (s *SQLiteStore) ExistingIDs(ctx context.Context, ids []string, before time.Time) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, s.stamp(before))

	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM items WHERE id IN (`+placeholders(len(ids))+`) AND created_at < ?`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: existing ids")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan existing id")
		}
		out[id] = struct{}{}
	}
	return out, eris.Wrap(rows.Err(), "sqlite: existing ids iterate")
}

// --- daily index ---

func (s *SQLiteStore) Rebuild(ctx context.Context, date model.Date, entries []model.IndexEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM daily_index WHERE date = ?`, date.String()); err != nil {
			return eris.Wrapf(err, "sqlite: clear daily index %s", date)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO daily_index (date, canonical_id, bucket) VALUES (?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare index insert")
		}
		defer stmt.Close() //nolint:errcheck

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, date.String(), e.CanonicalID, string(e.Bucket)); err != nil {
				return eris.Wrapf(err, "sqlite: insert index entry %s", e.CanonicalID)
			}
		}
		return nil
	})
}

// --- runs ---

const sqliteRunColumns = `id, date, status, started_at, finished_at, total_count, source_counts, error_summary`

func (s *SQLiteStore) Claim(ctx context.Context, date model.Date) (*model.IngestionRun, bool, error) {
	var (
		run     *model.IngestionRun
		created bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanSQLiteRun(tx.QueryRowContext(ctx,
			`SELECT `+sqliteRunColumns+` FROM ingestion_runs
			 WHERE date = ? AND status IN ('RUNNING', 'SUCCESS')
			 ORDER BY started_at DESC LIMIT 1`,
			date.String(),
		))
		switch {
		case err == nil:
			run = existing
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return eris.Wrapf(err, "sqlite: find active run %s", date)
		}

		now := s.now().UTC()
		id := uuid.New().String()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ingestion_runs (id, date, started_at, status, total_count, source_counts)
			 VALUES (?, ?, ?, 'RUNNING', 0, '{}')`,
			id, date.String(), s.stamp(now),
		); err != nil {
			return eris.Wrapf(err, "sqlite: create run %s", date)
		}
		run = &model.IngestionRun{
			ID:           id,
			Date:         date,
			Status:       model.RunStatusRunning,
			StartedAt:    now,
			SourceCounts: map[string]int{},
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return run, created, nil
}

func (s *SQLiteStore) MarkSuccess(ctx context.Context, runID string, total int, sourceCounts map[string]int) error {
	counts, err := json.Marshal(nonNilCounts(sourceCounts))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal source counts")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs
		 SET finished_at = ?, status = 'SUCCESS', total_count = ?, source_counts = ?
		 WHERE id = ? AND status = 'RUNNING'`,
		s.stamp(s.now()), total, string(counts), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark run %s success", runID)
	}
	return checkRunTransition(res, runID)
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, runID string, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_runs
		 SET finished_at = ?, status = 'FAILED', error_summary = ?
		 WHERE id = ? AND status = 'RUNNING'`,
		s.stamp(s.now()), summary, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark run %s failed", runID)
	}
	return checkRunTransition(res, runID)
}

// --- queries ---

func (s *SQLiteStore) DailyIndex(ctx context.Context, date model.Date) (*model.DailyIndex, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT di.bucket, i.id, i.title, i.url, i.published_at, i.updated_at,
		        i.source, i.source_subtype, i.source_reference,
		        json_extract(i.tags, '$.format'), json_extract(i.tags, '$.organisations')
		 FROM daily_index di
		 JOIN items i ON i.id = di.canonical_id
		 WHERE di.date = ?
		 ORDER BY i.source, di.bucket, i.published_at DESC`,
		date.String(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: daily index %s", date)
	}
	defer rows.Close() //nolint:errcheck

	var items []model.IndexItem
	for rows.Next() {
		var (
			it                            model.IndexItem
			bucket, source, published     string
			updated, subtype, ref, format sql.NullString
			orgs                          sql.NullString
		)
		if err := rows.Scan(&bucket, &it.ID, &it.Title, &it.URL, &published, &updated,
			&source, &subtype, &ref, &format, &orgs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan index item")
		}
		if it.PublishedAt, err = parseStamp(published); err != nil {
			return nil, err
		}
		if it.UpdatedAt, err = parseStampPtr(updated); err != nil {
			return nil, err
		}
		it.Bucket = model.Bucket(bucket)
		it.Source = model.Source(source)
		it.SourceSubtype = subtype.String
		it.SourceReference = ref.String
		it.Format = format.String
		if it.Organisations, err = decodeOrganisations([]byte(orgs.String)); err != nil {
			return nil, eris.Wrapf(err, "sqlite: decode organisations for %s", it.ID)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: daily index iterate")
	}

	if len(items) == 0 {
		return nil, nil
	}
	return model.NewDailyIndex(date, items), nil
}

func (s *SQLiteStore) Item(ctx context.Context, id string) (*model.StoredItem, error) {
	var (
		it                          model.StoredItem
		source, tags                string
		published, created, modified string
		updated, subtype, ref, raw  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source, source_subtype, source_reference, title, url,
		        published_at, updated_at, tags, raw, created_at, modified_at
		 FROM items WHERE id = ?`,
		id,
	).Scan(&it.ID, &source, &subtype, &ref, &it.Title, &it.URL,
		&published, &updated, &tags, &raw, &created, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get item %s", id)
	}

	it.Source = model.Source(source)
	it.SourceSubtype = subtype.String
	it.SourceReference = ref.String
	if it.PublishedAt, err = parseStamp(published); err != nil {
		return nil, err
	}
	if it.UpdatedAt, err = parseStampPtr(updated); err != nil {
		return nil, err
	}
	if it.CreatedAt, err = parseStamp(created); err != nil {
		return nil, err
	}
	if it.ModifiedAt, err = parseStamp(modified); err != nil {
		return nil, err
	}
	if it.Tags, err = unmarshalTags([]byte(tags)); err != nil {
		return nil, eris.Wrapf(err, "sqlite: unmarshal tags for %s", id)
	}
	if raw.Valid {
		it.Raw = json.RawMessage(raw.String)
	}
	return &it, nil
}

func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]model.IngestionRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRunColumns+` FROM ingestion_runs ORDER BY started_at DESC LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.IngestionRun
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: recent runs iterate")
}

// --- helpers ---

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) stamp(t time.Time) string {
	return t.UTC().Format(sqliteTime)
}

func (s *SQLiteStore) stampPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s.stamp(*t)
}

func parseStamp(v string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, v)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse timestamp %q", v)
	}
	return t.UTC(), nil
}

func parseStampPtr(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := parseStamp(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func rawText(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func checkRunTransition(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotRunning, "sqlite: run %s", runID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*model.IngestionRun, error) {
	var (
		r                    model.IngestionRun
		day, status, started string
		counts               string
		finished, summary    sql.NullString
	)
	if err := row.Scan(&r.ID, &day, &status, &started, &finished, &r.TotalCount, &counts, &summary); err != nil {
		return nil, err
	}

	var err error
	if r.Date, err = model.ParseDate(day); err != nil {
		return nil, err
	}
	if r.StartedAt, err = parseStamp(started); err != nil {
		return nil, err
	}
	if r.FinishedAt, err = parseStampPtr(finished); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	r.ErrorSummary = summary.String
	r.SourceCounts = map[string]int{}
	if counts != "" {
		if err := json.Unmarshal([]byte(counts), &r.SourceCounts); err != nil {
			return nil, eris.Wrap(err, "unmarshal source counts")
		}
	}
	return &r, nil
}
