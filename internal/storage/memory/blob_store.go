// Package memory keeps documents, records and runs in process memory for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

// BlobStore stores documents in-memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// Get returns a copy of the bytes stored at path.
func (s *BlobStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, inspection.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Put persists a copy of data and returns a memory:// URI.
func (s *BlobStore) Put(_ context.Context, path string, _ string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return "memory://" + path, nil
}

// Exists reports whether path has been stored.
func (s *BlobStore) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[path]
	return ok, nil
}

// SignedURL returns the memory URI with an expiry parameter.
func (s *BlobStore) SignedURL(path string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.data[path]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("sign %s: %w", path, inspection.ErrNotFound)
	}
	expires := time.Now().Add(ttl).Unix()
	return "memory://" + path + "?expires=" + url.QueryEscape(strconv.FormatInt(expires, 10)), nil
}
