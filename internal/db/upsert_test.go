package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertSQL_DefaultUpdateCols(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{
		Table:        "items",
		Columns:      []string{"id", "title", "url"},
		ConflictKeys: []string{"id"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "items" ("id", "title", "url") VALUES ($1, $2, $3) ON CONFLICT ("id") DO UPDATE SET "title" = EXCLUDED."title", "url" = EXCLUDED."url"`,
		sql)
}

func TestUpsertSQL_CustomExprs(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{
		Table:        "items",
		Columns:      []string{"id", "published_at", "tags"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"published_at", "tags", "modified_at"},
		UpdateExprs: map[string]string{
			"published_at": "LEAST(items.published_at, EXCLUDED.published_at)",
			"tags":         "items.tags || EXCLUDED.tags",
			"modified_at":  "now()",
		},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, `"published_at" = LEAST(items.published_at, EXCLUDED.published_at)`)
	assert.Contains(t, sql, `"tags" = items.tags || EXCLUDED.tags`)
	assert.Contains(t, sql, `"modified_at" = now()`)
}

func TestUpsertSQL_OnlyConflictColumns(t *testing.T) {
	sql, err := UpsertSQL(UpsertConfig{
		Table:        "daily_index",
		Columns:      []string{"date", "canonical_id"},
		ConflictKeys: []string{"date", "canonical_id"},
	})
	require.NoError(t, err)
	assert.Contains(t, sql, "DO NOTHING")
}

func TestUpsertSQL_NoColumns(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{
		Table:        "items",
		ConflictKeys: []string{"id"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestUpsertSQL_NoConflictKeys(t *testing.T) {
	_, err := UpsertSQL(UpsertConfig{
		Table:   "items",
		Columns: []string{"id", "name"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.items", `"public"."items"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeTable(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	result := quoteAndJoin([]string{"id", "name", "value"})
	assert.Equal(t, `"id", "name", "value"`, result)
}
