// Package dedup derives identity keys for inspection records and filters
// duplicates in first-seen order.
//
// Key is the only place identity keys are built. The same key is written to
// the store as uniqueKey and recomputed on every read, so it must never be
// normalized differently at write time and read time.
package dedup

import (
	"strconv"
	"sync"
)

// Missing renders an absent identity field inside a key.
const Missing = "undefined"

// Identifiable is implemented by every record type that participates in dedup.
type Identifiable interface {
	IdentityFields() (sourceID *int64, date string, name string)
}

// Key joins the identity fields as <sourceID>_<date>_<name>. Empty and absent
// fields both render as Missing, so records lacking a name share a key either way.
func Key(sourceID *int64, date, name string) string {
	id := Missing
	if sourceID != nil {
		id = strconv.FormatInt(*sourceID, 10)
	}
	return id + "_" + orMissing(date) + "_" + orMissing(name)
}

// KeyOf returns the identity key of a record.
func KeyOf(item Identifiable) string {
	return Key(item.IdentityFields())
}

func orMissing(s string) string {
	if s == "" {
		return Missing
	}
	return s
}

// Seen is the set of identity keys observed during one pass.
type Seen struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewSeen creates an empty set.
func NewSeen() *Seen {
	return &Seen{keys: make(map[string]struct{})}
}

// CheckAndInsert records key and reports whether this was its first occurrence.
func (s *Seen) CheckAndInsert(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Contains reports whether key was already observed.
func (s *Seen) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

// Len returns the number of distinct keys.
func (s *Seen) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
