package model

import "time"

// IndexEntry is one (item, bucket) pair in a day's index.
type IndexEntry struct {
	Date        Date   `json:"date"`
	CanonicalID string `json:"canonical_id"`
	Bucket      Bucket `json:"bucket"`
}

// DailyIndex is the read model of one day's rebuilt index.
type DailyIndex struct {
	Date         Date        `json:"date"`
	TotalCount   int         `json:"totalCount"`
	NewCount     int         `json:"newCount"`
	UpdatedCount int         `json:"updatedCount"`
	Items        []IndexItem `json:"items"`
}

// IndexItem is one row of the daily index joined with its item.
type IndexItem struct {
	ID              string     `json:"id"`
	Bucket          Bucket     `json:"bucket"`
	Title           string     `json:"title"`
	URL             string     `json:"url"`
	PublishedAt     time.Time  `json:"publishedAt"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
	Format          string     `json:"format,omitempty"`
	Organisations   []string   `json:"organisations"`
	Source          Source     `json:"source"`
	SourceSubtype   string     `json:"sourceSubtype,omitempty"`
	SourceReference string     `json:"sourceReference,omitempty"`
}

// NewDailyIndex builds a DailyIndex with bucket counts filled in.
func NewDailyIndex(date Date, items []IndexItem) *DailyIndex {
	idx := &DailyIndex{Date: date, TotalCount: len(items), Items: items}
	for _, it := range items {
		switch it.Bucket {
		case BucketNew:
			idx.NewCount++
		case BucketUpdated:
			idx.UpdatedCount++
		}
	}
	return idx
}
