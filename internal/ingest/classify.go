package ingest

import (
	"time"

	"github.com/sells-group/yesterday/internal/model"
)

// Classify decides which bucket an item belongs to for w. The first
// matching rule wins:
//
//  1. publishedAt in [start, end) is NEW, whatever updatedAt says.
//  2. updatedAt in [start, end) with publishedAt before start is UPDATED.
//
// Anything else is excluded and ok is false.
func Classify(publishedAt time.Time, updatedAt *time.Time, w model.DateWindow) (bucket model.Bucket, ok bool) {
	if w.Contains(publishedAt) {
		return model.BucketNew, true
	}
	if updatedAt != nil && w.Contains(*updatedAt) && publishedAt.Before(w.Start) {
		return model.BucketUpdated, true
	}
	return "", false
}
