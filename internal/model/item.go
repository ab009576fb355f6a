package model

import (
	"encoding/json"
	"time"
)

// Source identifies the upstream family an item came from.
type Source string

const (
	SourceGovUK      Source = "govuk"
	SourceParliament Source = "parliament"
)

// Parliamentary item subtypes.
const (
	SubtypeBill = "bill"
	SubtypeSI   = "si"
)

// Bucket classifies an item relative to a day window.
type Bucket string

const (
	BucketNew     Bucket = "NEW"
	BucketUpdated Bucket = "UPDATED"
)

// DateWindow is the half-open instant interval [Start, End) covering one
// calendar day in the reference timezone.
type DateWindow struct {
	Date  Date      `json:"date"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside [Start, End).
func (w DateWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns End - Start.
func (w DateWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// ItemRow is a normalized item ready to be written to the item store.
// Bucket classification happens separately in the orchestrator.
type ItemRow struct {
	ID              string          `json:"id"`
	Source          Source          `json:"source"`
	SourceSubtype   string          `json:"source_subtype,omitempty"`
	SourceReference string          `json:"source_reference,omitempty"`
	Title           string          `json:"title"`
	URL             string          `json:"url"`
	PublishedAt     time.Time       `json:"published_at"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty"`
	Tags            map[string]any  `json:"tags"`
	Raw             json.RawMessage `json:"raw"`
}

// ActivityAt returns the timestamp that places the item inside a window:
// the update time when present, otherwise the publish time.
func (r ItemRow) ActivityAt() time.Time {
	if r.UpdatedAt != nil {
		return *r.UpdatedAt
	}
	return r.PublishedAt
}

// StoredItem is the full persisted record for one canonical id.
type StoredItem struct {
	ID              string          `json:"id"`
	Source          Source          `json:"source"`
	SourceSubtype   string          `json:"source_subtype,omitempty"`
	SourceReference string          `json:"source_reference,omitempty"`
	Title           string          `json:"title"`
	URL             string          `json:"url"`
	PublishedAt     time.Time       `json:"published_at"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty"`
	Tags            map[string]any  `json:"tags"`
	Raw             json.RawMessage `json:"raw,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ModifiedAt      time.Time       `json:"modified_at"`
}

// MergeTags returns the shallow key-wise union of existing and incoming,
// with incoming values winning on collision. Nested values are replaced
// wholesale, never merged.
func MergeTags(existing, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}
