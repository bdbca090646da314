package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

// RunStore tracks ingestion runs in-memory.
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]inspection.Run
	now  func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]inspection.Run),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run.
func (s *RunStore) CreateRun(_ context.Context, run inspection.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	run.Records = nil
	s.runs[run.ID] = run
	return nil
}

// UpdateRun updates the status and counters for a run.
func (s *RunStore) UpdateRun(
	_ context.Context,
	id string,
	status inspection.RunStatus,
	errText string,
	counters inspection.RunCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return inspection.ErrNotFound
	}
	run.Status = status
	run.Error = errText
	run.Counters = counters
	now := s.now()
	if status == inspection.RunRunning && run.StartedAt == nil {
		run.StartedAt = &now
	}
	if status.Terminal() {
		run.FinishedAt = &now
	}
	s.runs[id] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, id string) (inspection.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return inspection.Run{}, inspection.ErrNotFound
	}
	return run, nil
}
