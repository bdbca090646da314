package inspection

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by blob stores for missing objects.
	ErrNotFound = errors.New("object not found")
	// ErrTooLarge marks documents rejected before any model call.
	ErrTooLarge = errors.New("document too large")
	// ErrTimeout marks a model call that exceeded its tier budget.
	ErrTimeout = errors.New("model call timed out")
)

// FetchError reports a download that failed after all attempts.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError reports model output that could not be coerced into JSON.
type ParseError struct {
	// Offset is the byte offset of the syntax error, or -1 when unknown.
	Offset  int64
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("parse model output at offset %d: %v", e.Offset, e.Err)
	}
	return fmt.Sprintf("parse model output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PersistenceError reports a failed atomic write against the record store.
type PersistenceError struct {
	Op    string
	Count int
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %d records: %v", e.Op, e.Count, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
