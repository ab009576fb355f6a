package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/yesterday/internal/model"
)

var fixedNow = time.Date(2025, 3, 31, 6, 0, 0, 0, time.UTC)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, now: func() time.Time { return fixedNow }}
	return s, mock
}

var runCols = []string{"id", "date", "status", "started_at", "finished_at", "total_count", "source_counts", "error_summary"}

func TestPostgresStore_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	pub := time.Date(2025, 3, 30, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO "items" \("id", "source", .*"modified_at"\) VALUES \(\$1, .*\$12\) ON CONFLICT \("id"\) DO UPDATE SET .*"published_at" = LEAST\(items\.published_at, EXCLUDED\.published_at\).*"tags" = items\.tags \|\| EXCLUDED\.tags`).
		WithArgs("abc", "govuk", (*string)(nil), (*string)(nil), "Title", "https://www.gov.uk/x",
			pub, (*time.Time)(nil), []byte(`{"format":"guidance"}`), nil, fixedNow, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.Upsert(context.Background(), model.ItemRow{
		ID:          "abc",
		Source:      model.SourceGovUK,
		Title:       "Title",
		URL:         "https://www.gov.uk/x",
		PublishedAt: pub,
		Tags:        map[string]any{"format": "guidance"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "items"`).
		WithArgs("abc", "govuk", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), []byte(`{}`), nil, fixedNow, fixedNow).
		WillReturnError(assert.AnError)

	err := s.Upsert(context.Background(), model.ItemRow{ID: "abc", Source: model.SourceGovUK})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert item abc")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExistingIDs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	before := time.Date(2025, 3, 29, 23, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id FROM items WHERE id = ANY\(\$1\) AND created_at < \$2`).
		WithArgs([]string{"a", "b", "c"}, before).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("a").AddRow("c"))

	got, err := s.ExistingIDs(context.Background(), []string{"a", "b", "c"}, before)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "c")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExistingIDs_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	got, err := s.ExistingIDs(context.Background(), nil, fixedNow)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Rebuild(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	date := model.NewDate(2025, time.March, 30)
	day := date.Midnight(time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM daily_index WHERE date = \$1`).
		WithArgs(day).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"daily_index"}, []string{"date", "canonical_id", "bucket"}).
		WillReturnResult(2)
	mock.ExpectCommit()

	err := s.Rebuild(context.Background(), date, []model.IndexEntry{
		{Date: date, CanonicalID: "a", Bucket: model.BucketNew},
		{Date: date, CanonicalID: "b", Bucket: model.BucketUpdated},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Rebuild_RollsBackOnInsertFailure(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	date := model.NewDate(2025, time.March, 30)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM daily_index`).
		WithArgs(date.Midnight(time.UTC)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCopyFrom(pgx.Identifier{"daily_index"}, []string{"date", "canonical_id", "bucket"}).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.Rebuild(context.Background(), date, []model.IndexEntry{
		{Date: date, CanonicalID: "a", Bucket: model.BucketNew},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert daily index 2025-03-30")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Claim_CreatesRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	date := model.NewDate(2025, time.March, 30)
	day := date.Midnight(time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
		WithArgs("ingest:2025-03-30").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`SELECT id::text, .* FROM ingestion_runs\s+WHERE date = \$1 AND status IN \('RUNNING', 'SUCCESS'\)`).
		WithArgs(day).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO ingestion_runs`).
		WithArgs(pgxmock.AnyArg(), day, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	run, created, err := s.Claim(context.Background(), date)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.Equal(t, date, run.Date)
	assert.NotEmpty(t, run.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Claim_ReturnsExisting(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	date := model.NewDate(2025, time.March, 30)
	finished := fixedNow.Add(time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("ingest:2025-03-30").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery(`FROM ingestion_runs`).
		WithArgs(date.Midnight(time.UTC)).
		WillReturnRows(pgxmock.NewRows(runCols).AddRow(
			"run-1", date.Midnight(time.UTC), "SUCCESS", fixedNow, &finished, 7,
			[]byte(`{"govuk":5,"parliament_bill":2}`), (*string)(nil),
		))
	mock.ExpectCommit()

	run, created, err := s.Claim(context.Background(), date)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, model.RunStatusSuccess, run.Status)
	assert.Equal(t, 7, run.TotalCount)
	assert.Equal(t, map[string]int{"govuk": 5, "parliament_bill": 2}, run.SourceCounts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Claim_LockError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).
		WithArgs("ingest:2025-03-30").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, _, err := s.Claim(context.Background(), model.NewDate(2025, time.March, 30))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock claim")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkSuccess(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ingestion_runs\s+SET finished_at = \$1, status = 'SUCCESS'`).
		WithArgs(fixedNow, 3, []byte(`{"govuk":3}`), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.MarkSuccess(context.Background(), "run-1", 3, map[string]int{"govuk": 3}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkSuccess_NotRunning(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ingestion_runs`).
		WithArgs(fixedNow, 0, []byte(`{}`), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkSuccess(context.Background(), "run-1", 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunNotRunning)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkFailed(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE ingestion_runs\s+SET finished_at = \$1, status = 'FAILED', error_summary = \$2`).
		WithArgs(fixedNow, "boom", "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.MarkFailed(context.Background(), "run-1", "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DailyIndex(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	date := model.NewDate(2025, time.March, 30)
	pub := time.Date(2025, 3, 30, 9, 0, 0, 0, time.UTC)
	kind := "guidance"
	subtype := "bill"
	ref := "bill/42"

	cols := []string{"bucket", "id", "title", "url", "published_at", "updated_at",
		"source", "source_subtype", "source_reference", "format", "organisations"}
	mock.ExpectQuery(`FROM daily_index di\s+JOIN items i ON i.id = di.canonical_id`).
		WithArgs(date.Midnight(time.UTC)).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("NEW", "g1", "Guide", "https://www.gov.uk/g", pub, (*time.Time)(nil),
				"govuk", (*string)(nil), (*string)(nil), &kind, []byte(`["HM Treasury"]`)).
			AddRow("UPDATED", "p1", "Bill", "https://bills.parliament.uk/bills/42", pub, (*time.Time)(nil),
				"parliament", &subtype, &ref, (*string)(nil), []byte(nil)))

	idx, err := s.DailyIndex(context.Background(), date)
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Equal(t, 2, idx.TotalCount)
	assert.Equal(t, 1, idx.NewCount)
	assert.Equal(t, 1, idx.UpdatedCount)
	assert.Equal(t, "guidance", idx.Items[0].Format)
	assert.Equal(t, []string{"HM Treasury"}, idx.Items[0].Organisations)
	assert.Equal(t, "bill/42", idx.Items[1].SourceReference)
	assert.Equal(t, []string{}, idx.Items[1].Organisations)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DailyIndex_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	date := model.NewDate(2025, time.March, 30)

	mock.ExpectQuery(`FROM daily_index`).
		WithArgs(date.Midnight(time.UTC)).
		WillReturnRows(pgxmock.NewRows([]string{"bucket"}))

	idx, err := s.DailyIndex(context.Background(), date)
	require.NoError(t, err)
	assert.Nil(t, idx)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Item_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM items WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Item(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecentRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	summary := "ingest: source govuk: boom"

	mock.ExpectQuery(`FROM ingestion_runs ORDER BY started_at DESC LIMIT \$1`).
		WithArgs(DefaultRecentRuns).
		WillReturnRows(pgxmock.NewRows(runCols).
			AddRow("run-2", fixedNow, "FAILED", fixedNow, &fixedNow, 0, []byte(`{}`), &summary).
			AddRow("run-1", fixedNow, "SUCCESS", fixedNow, &fixedNow, 4, []byte(`{"govuk":4}`), (*string)(nil)))

	runs, err := s.RecentRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.Equal(t, summary, runs[0].ErrorSummary)
	assert.Equal(t, 4, runs[1].SourceCounts["govuk"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MigrationsApplied_NoTable(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT to_regclass\('schema_migrations'\) IS NOT NULL`).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := s.MigrationsApplied(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MigrationsApplied_All(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`to_regclass`).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}).AddRow("001_init.sql"))

	ok, err := s.MigrationsApplied(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`SELECT pg_advisory_lock`).WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(`SELECT filename FROM schema_migrations`).
		WillReturnRows(pgxmock.NewRows([]string{"filename"}))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS items`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`INSERT INTO schema_migrations`).WithArgs("001_init.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`SELECT pg_advisory_unlock`).WithArgs(migrationLockID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectPing()

	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
