package inspection

import (
	"context"
	"time"
)

// RunStatus tracks the lifecycle of an ingestion run.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// RunCounters tallies per-document outcomes of one ingestion run.
type RunCounters struct {
	Records     int `json:"records"`
	Kept        int `json:"kept"`
	Duplicates  int `json:"duplicates"`
	Skipped     int `json:"skipped"`
	TooLarge    int `json:"tooLarge"`
	Failed      int `json:"failed"`
	ParseErrors int `json:"parseErrors"`
	Persisted   int `json:"persisted"`
	Published   int `json:"published"`
}

// Run is an ingestion request and its progress.
type Run struct {
	ID          string         `json:"id"`
	Status      RunStatus      `json:"status"`
	Records     []SourceRecord `json:"-"`
	Counters    RunCounters    `json:"counters"`
	Error       string         `json:"error,omitempty"`
	SubmittedAt time.Time      `json:"submittedAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	FinishedAt  *time.Time     `json:"finishedAt,omitempty"`
}

// RunStore persists run state for status queries.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, id string, status RunStatus, errText string, counters RunCounters) error
	GetRun(ctx context.Context, id string) (Run, error)
}
