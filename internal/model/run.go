package model

import "time"

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
)

// IsTerminal reports whether the status can no longer change.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// IngestionRun is one execution attempt of ingestion for a date.
type IngestionRun struct {
	ID           string         `json:"id" yaml:"id"`
	Date         Date           `json:"date" yaml:"date"`
	Status       RunStatus      `json:"status" yaml:"status"`
	StartedAt    time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	TotalCount   int            `json:"total_count" yaml:"total_count"`
	SourceCounts map[string]int `json:"source_counts" yaml:"source_counts"`
	ErrorSummary string         `json:"error_summary,omitempty" yaml:"error_summary,omitempty"`
}

// RunResult is what Ingest reports back to its callers.
type RunResult struct {
	RunID        string         `json:"runId" yaml:"run_id"`
	Date         Date           `json:"date" yaml:"date"`
	Status       RunStatus      `json:"status" yaml:"status"`
	TotalCount   int            `json:"totalCount" yaml:"total_count"`
	SourceCounts map[string]int `json:"sourceCounts" yaml:"source_counts"`
	DurationMs   int64          `json:"durationMs" yaml:"duration_ms"`
	ErrorMessage string         `json:"errorMessage,omitempty" yaml:"error_message,omitempty"`
}

// Succeeded reports whether the result carries a SUCCESS status.
func (r RunResult) Succeeded() bool {
	return r.Status == RunStatusSuccess
}
