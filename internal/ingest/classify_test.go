package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/yesterday/internal/model"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func tsPtr(s string) *time.Time {
	t := ts(s)
	return &t
}

func TestClassify(t *testing.T) {
	w := ForDate(model.NewDate(2026, time.February, 27))

	tests := []struct {
		name      string
		published time.Time
		updated   *time.Time
		want      model.Bucket
		ok        bool
	}{
		{"published in window", ts("2026-02-27T09:00:00Z"), nil, model.BucketNew, true},
		{"published and updated same day", ts("2026-02-27T09:00:00Z"), tsPtr("2026-02-27T15:00:00Z"), model.BucketNew, true},
		{"published at start", w.Start, nil, model.BucketNew, true},
		{"published at end", w.End, nil, "", false},
		{"updated in window", ts("2026-02-01T09:00:00Z"), tsPtr("2026-02-27T14:00:00Z"), model.BucketUpdated, true},
		{"updated at start", ts("2026-02-01T09:00:00Z"), &w.Start, model.BucketUpdated, true},
		{"updated before window", ts("2026-02-01T09:00:00Z"), tsPtr("2026-02-26T14:00:00Z"), "", false},
		{"no update, published before", ts("2026-02-01T09:00:00Z"), nil, "", false},
		{"updated at end", ts("2026-02-01T09:00:00Z"), &w.End, "", false},
		{"published after window", ts("2026-03-01T09:00:00Z"), tsPtr("2026-02-27T14:00:00Z"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.published, tt.updated, w)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_BST(t *testing.T) {
	w := ForDate(model.NewDate(2026, time.July, 15))

	got, ok := Classify(ts("2026-07-14T23:30:00Z"), nil, w)
	assert.True(t, ok)
	assert.Equal(t, model.BucketNew, got)

	_, ok = Classify(ts("2026-07-15T23:30:00Z"), nil, w)
	assert.False(t, ok)
}
