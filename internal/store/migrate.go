package store

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/yesterday/internal/db"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

// migrationLockID guards concurrent migration runs (e.g. overlapping deploys).
const migrationLockID = 7726001

type migration struct {
	name string
	sql  string
}

// loadMigrations returns the embedded migrations for dialect in
// lexicographic order.
func loadMigrations(dialect string) ([]migration, error) {
	dir := "migrations/" + dialect
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, eris.Wrapf(err, "store: read migration dir %s", dir)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	out := make([]migration, 0, len(entries))
	for _, e := range entries {
		data, err := migrationFS.ReadFile(dir + "/" + e.Name())
		if err != nil {
			return nil, eris.Wrapf(err, "store: read migration %s", e.Name())
		}
		out = append(out, migration{name: e.Name(), sql: string(data)})
	}
	return out, nil
}

// migratePostgres applies pending migrations under a session advisory lock.
func migratePostgres(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "store: acquire migration advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("store: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return eris.Wrap(err, "store: ensure migration table")
	}

	applied, err := appliedPostgres(ctx, pool)
	if err != nil {
		return err
	}

	migrations, err := loadMigrations("postgres")
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}
		log.Info("applying migration", zap.String("file", m.name))

		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return eris.Wrapf(err, "store: apply migration %s", m.name)
		}
		if _, err := pool.Exec(ctx,
			"INSERT INTO schema_migrations (filename, applied_at) VALUES ($1, now())",
			m.name,
		); err != nil {
			return eris.Wrapf(err, "store: record migration %s", m.name)
		}
	}
	return nil
}

func appliedPostgres(ctx context.Context, pool db.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "store: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "store: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "store: iterate migrations")
}

// allApplied reports whether every embedded migration name is in applied.
func allApplied(dialect string, applied map[string]bool) (bool, error) {
	migrations, err := loadMigrations(dialect)
	if err != nil {
		return false, err
	}
	for _, m := range migrations {
		if !applied[m.name] {
			return false, nil
		}
	}
	return true, nil
}
