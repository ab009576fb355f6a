package db

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig describes a single-row INSERT ... ON CONFLICT DO UPDATE.
type UpsertConfig struct {
	Table        string            // target table (e.g., "items")
	Columns      []string          // all columns being inserted, in placeholder order
	ConflictKeys []string          // columns forming the unique constraint
	UpdateCols   []string          // columns to update on conflict; nil = all non-conflict columns
	UpdateExprs  map[string]string // per-column SET expression overriding "EXCLUDED.col"
}

// UpsertSQL builds the upsert statement for cfg. Placeholders $1..$n follow
// the order of cfg.Columns.
func UpsertSQL(cfg UpsertConfig) (string, error) {
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: upsert: no columns specified")
	}
	if len(cfg.ConflictKeys) == 0 {
		return "", eris.New("db: upsert: no conflict keys specified")
	}

	updateCols := cfg.UpdateCols
	if updateCols == nil {
		conflictSet := make(map[string]bool, len(cfg.ConflictKeys))
		for _, k := range cfg.ConflictKeys {
			conflictSet[k] = true
		}
		for _, c := range cfg.Columns {
			if !conflictSet[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	placeholders := make([]string, len(cfg.Columns))
	for i := range cfg.Columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	setClauses := make([]string, 0, len(updateCols))
	for _, col := range updateCols {
		expr, ok := cfg.UpdateExprs[col]
		if !ok {
			expr = "EXCLUDED." + pgx.Identifier{col}.Sanitize()
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = %s", pgx.Identifier{col}.Sanitize(), expr))
	}

	action := "DO NOTHING"
	if len(setClauses) > 0 {
		action = "DO UPDATE SET " + strings.Join(setClauses, ", ")
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		sanitizeTable(cfg.Table),
		quoteAndJoin(cfg.Columns),
		strings.Join(placeholders, ", "),
		quoteAndJoin(cfg.ConflictKeys),
		action,
	), nil
}

func identifier(table string) pgx.Identifier {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}
	}
	return pgx.Identifier{table}
}

// sanitizeTable handles schema-qualified table names like "public.items".
func sanitizeTable(table string) string {
	return identifier(table).Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
