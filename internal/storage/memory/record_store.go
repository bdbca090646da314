package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

// RecordStore keeps normalized records in insertion order. Every write call
// validates the whole batch before applying any of it.
type RecordStore struct {
	mu      sync.RWMutex
	records []inspection.NormalizedRecord
	index   map[string]int
}

// NewRecordStore constructs an empty RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{index: make(map[string]int)}
}

// Upsert inserts records, replacing any existing row with the same ID.
func (s *RecordStore) Upsert(_ context.Context, records []inspection.NormalizedRecord) error {
	for _, r := range records {
		if r.ID == "" {
			return &inspection.PersistenceError{Op: "upsert", Count: len(records), Err: errors.New("record id is required")}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		r = cloneRecord(r)
		if i, ok := s.index[r.ID]; ok {
			s.records[i] = r
			continue
		}
		s.index[r.ID] = len(s.records)
		s.records = append(s.records, r)
	}
	return nil
}

// BatchDelete removes the rows with the given IDs. Unknown IDs are ignored.
func (s *RecordStore) BatchDelete(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, r := range s.records {
		if _, ok := drop[r.ID]; !ok {
			kept = append(kept, r)
		}
	}
	s.records = kept
	s.reindex()
	return nil
}

// TagUniqueKeys sets UniqueKey on each referenced row. An unknown ID fails the
// whole call without changes.
func (s *RecordStore) TagUniqueKeys(_ context.Context, tags []inspection.KeyTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range tags {
		if _, ok := s.index[tag.ID]; !ok {
			return &inspection.PersistenceError{
				Op:    "tag",
				Count: len(tags),
				Err:   fmt.Errorf("record %q: %w", tag.ID, inspection.ErrNotFound),
			}
		}
	}
	for _, tag := range tags {
		s.records[s.index[tag.ID]].UniqueKey = tag.UniqueKey
	}
	return nil
}

// ListByDateRange returns records whose date falls within [start, end].
// Records with unparseable dates are skipped.
func (s *RecordStore) ListByDateRange(_ context.Context, start, end time.Time) ([]inspection.NormalizedRecord, error) {
	return s.filter(func(r inspection.NormalizedRecord) bool {
		d, err := inspection.ParseRecordDate(r.Date)
		if err != nil {
			return false
		}
		return !d.Before(start) && !d.After(end)
	}), nil
}

// ListBySourceIDs returns records whose source ID is in ids.
func (s *RecordStore) ListBySourceIDs(_ context.Context, ids []int64) ([]inspection.NormalizedRecord, error) {
	return s.filter(func(r inspection.NormalizedRecord) bool {
		return r.SourceID != nil && slices.Contains(ids, *r.SourceID)
	}), nil
}

// ListAll returns every record.
func (s *RecordStore) ListAll(_ context.Context) ([]inspection.NormalizedRecord, error) {
	return s.filter(func(inspection.NormalizedRecord) bool { return true }), nil
}

func (s *RecordStore) filter(keep func(inspection.NormalizedRecord) bool) []inspection.NormalizedRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inspection.NormalizedRecord, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			out = append(out, cloneRecord(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *RecordStore) reindex() {
	s.index = make(map[string]int, len(s.records))
	for i, r := range s.records {
		s.index[r.ID] = i
	}
}

func cloneRecord(r inspection.NormalizedRecord) inspection.NormalizedRecord {
	if r.SourceID != nil {
		r.SourceID = inspection.Int64(*r.SourceID)
	}
	r.Observations = append([]inspection.Observation(nil), r.Observations...)
	r.RepeatFindings = append([]string(nil), r.RepeatFindings...)
	return r
}
