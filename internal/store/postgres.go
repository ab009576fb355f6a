package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/yesterday/internal/db"
	"github.com/sells-group/yesterday/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: time.Now}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePostgres(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) MigrationsApplied(ctx context.Context) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT to_regclass('schema_migrations') IS NOT NULL`,
	).Scan(&exists); err != nil {
		return false, eris.Wrap(err, "postgres: check migration table")
	}
	if !exists {
		return false, nil
	}
	applied, err := appliedPostgres(ctx, s.pool)
	if err != nil {
		return false, err
	}
	return allApplied("postgres", applied)
}

// --- items ---

var itemUpsert = db.UpsertConfig{
	Table: "items",
	Columns: []string{
		"id", "source", "source_subtype", "source_reference", "title", "url",
		"published_at", "updated_at", "tags", "raw", "created_at", "modified_at",
	},
	ConflictKeys: []string{"id"},
	UpdateCols:   []string{"title", "published_at", "updated_at", "raw", "tags", "modified_at"},
	UpdateExprs: map[string]string{
		"published_at": "LEAST(items.published_at, EXCLUDED.published_at)",
		"tags":         "items.tags || EXCLUDED.tags",
	},
}

var itemUpsertSQL = mustUpsertSQL(itemUpsert)

func mustUpsertSQL(cfg db.UpsertConfig) string {
	sql, err := db.UpsertSQL(cfg)
	if err != nil {
		panic(err)
	}
	return sql
}

func (s *PostgresStore) Upsert(ctx context.Context, item model.ItemRow) error {
	tags, err := marshalTags(item.Tags)
	if err != nil {
		return eris.Wrapf(err, "postgres: marshal tags for %s", item.ID)
	}
	now := s.now().UTC()

	_, err = s.pool.Exec(ctx, itemUpsertSQL,
		item.ID, string(item.Source), nullString(item.SourceSubtype), nullString(item.SourceReference),
		item.Title, item.URL, item.PublishedAt.UTC(), utcPtr(item.UpdatedAt),
		tags, nullJSON(item.Raw), now, now,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert item %s", item.ID)
	}
	return nil
}

func (s *PostgresStore) ExistingIDs(ctx context.Context, ids []string, before time.Time) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id FROM items WHERE id = ANY($1) AND created_at < $2`,
		ids, before.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: existing ids")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan existing id")
		}
		out[id] = struct{}{}
	}
	return out, eris.Wrap(rows.Err(), "postgres: existing ids iterate")
}

// --- daily index ---

func (s *PostgresStore) Rebuild(ctx context.Context, date model.Date, entries []model.IndexEntry) error {
	day := date.Midnight(time.UTC)
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{day, e.CanonicalID, string(e.Bucket)})
	}

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM daily_index WHERE date = $1`, day); err != nil {
			return eris.Wrapf(err, "postgres: clear daily index %s", date)
		}
		if _, err := db.CopyFrom(ctx, tx, "daily_index", []string{"date", "canonical_id", "bucket"}, rows); err != nil {
			return eris.Wrapf(err, "postgres: insert daily index %s", date)
		}
		return nil
	})
}

// --- runs ---

const runColumns = `id::text, date, status, started_at, finished_at, total_count, source_counts, error_summary`

func (s *PostgresStore) Claim(ctx context.Context, date model.Date) (*model.IngestionRun, bool, error) {
	var (
		run     *model.IngestionRun
		created bool
	)
	day := date.Midnight(time.UTC)

	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		// Serializes claims for the same date until this transaction ends.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, advisoryKey(date)); err != nil {
			return eris.Wrapf(err, "postgres: lock claim %s", date)
		}

		existing, err := scanPostgresRun(tx.QueryRow(ctx,
			`SELECT `+runColumns+` FROM ingestion_runs
			 WHERE date = $1 AND status IN ('RUNNING', 'SUCCESS')
			 ORDER BY started_at DESC LIMIT 1`,
			day,
		))
		switch {
		case err == nil:
			run = existing
			return nil
		case !errors.Is(err, pgx.ErrNoRows):
			return eris.Wrapf(err, "postgres: find active run %s", date)
		}

		now := s.now().UTC()
		id := uuid.New().String()
		if _, err := tx.Exec(ctx,
			`INSERT INTO ingestion_runs (id, date, started_at, status, total_count, source_counts)
			 VALUES ($1, $2, $3, 'RUNNING', 0, '{}')`,
			id, day, now,
		); err != nil {
			return eris.Wrapf(err, "postgres: create run %s", date)
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

func (s *PostgresStore) MarkSuccess(ctx context.Context, runID string, total int, sourceCounts map[string]int) error {
	counts, err := json.Marshal(nonNilCounts(sourceCounts))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal source counts")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs
		 SET finished_at = $1, status = 'SUCCESS', total_count = $2, source_counts = $3
		 WHERE id = $4 AND status = 'RUNNING'`,
		s.now().UTC(), total, counts, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark run %s success", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotRunning, "postgres: mark run %s success", runID)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, runID string, summary string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingestion_runs
		 SET finished_at = $1, status = 'FAILED', error_summary = $2
		 WHERE id = $3 AND status = 'RUNNING'`,
		s.now().UTC(), summary, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark run %s failed", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRunNotRunning, "postgres: mark run %s failed", runID)
	}
	return nil
}

// --- queries ---

func (s *PostgresStore) DailyIndex(ctx context.Context, date model.Date) (*model.DailyIndex, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT di.bucket, i.id, i.title, i.url, i.published_at, i.updated_at,
		        i.source, i.source_subtype, i.source_reference,
		        i.tags->>'format', i.tags->'organisations'
		 FROM daily_index di
		 JOIN items i ON i.id = di.canonical_id
		 WHERE di.date = $1
		 ORDER BY i.source, di.bucket, i.published_at DESC`,
		date.Midnight(time.UTC),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: daily index %s", date)
	}
	defer rows.Close()

	var items []model.IndexItem
	for rows.Next() {
		var (
			it                   model.IndexItem
			bucket, source       string
			subtype, ref, format *string
			orgs                 []byte
		)
		if err := rows.Scan(&bucket, &it.ID, &it.Title, &it.URL, &it.PublishedAt, &it.UpdatedAt,
			&source, &subtype, &ref, &format, &orgs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan index item")
		}
		it.Bucket = model.Bucket(bucket)
		it.Source = model.Source(source)
		it.SourceSubtype = deref(subtype)
		it.SourceReference = deref(ref)
		it.Format = deref(format)
		if it.Organisations, err = decodeOrganisations(orgs); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode organisations for %s", it.ID)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: daily index iterate")
	}

	if len(items) == 0 {
		return nil, nil
	}
	return model.NewDailyIndex(date, items), nil
}

func (s *PostgresStore) Item(ctx context.Context, id string) (*model.StoredItem, error) {
	var (
		it           model.StoredItem
		source       string
		subtype, ref *string
		tags, raw    []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, source, source_subtype, source_reference, title, url,
		        published_at, updated_at, tags, raw, created_at, modified_at
		 FROM items WHERE id = $1`,
		id,
	).Scan(&it.ID, &source, &subtype, &ref, &it.Title, &it.URL,
		&it.PublishedAt, &it.UpdatedAt, &tags, &raw, &it.CreatedAt, &it.ModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get item %s", id)
	}

	it.Source = model.Source(source)
	it.SourceSubtype = deref(subtype)
	it.SourceReference = deref(ref)
	if it.Tags, err = unmarshalTags(tags); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal tags for %s", id)
	}
	if len(raw) > 0 {
		it.Raw = json.RawMessage(raw)
	}
	return &it, nil
}

func (s *PostgresStore) RecentRuns(ctx context.Context, limit int) ([]model.IngestionRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM ingestion_runs ORDER BY started_at DESC LIMIT $1`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent runs")
	}
	defer rows.Close()

	var runs []model.IngestionRun
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: recent runs iterate")
}

func scanPostgresRun(row pgx.Row) (*model.IngestionRun, error) {
	var (
		r       model.IngestionRun
		day     time.Time
		status  string
		counts  []byte
		summary *string
	)
	if err := row.Scan(&r.ID, &day, &status, &r.StartedAt, &r.FinishedAt, &r.TotalCount, &counts, &summary); err != nil {
		return nil, err
	}
	r.Date = model.DateOf(day)
	r.Status = model.RunStatus(status)
	r.ErrorSummary = deref(summary)
	r.SourceCounts = map[string]int{}
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &r.SourceCounts); err != nil {
			return nil, eris.Wrap(err, "unmarshal source counts")
		}
	}
	return &r, nil
}
