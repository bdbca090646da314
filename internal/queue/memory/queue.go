// Package memory provides the in-process run queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

// ErrClosed is returned once the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue of ingestion runs.
type Queue struct {
	ch      chan inspection.Run
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{ch: make(chan inspection.Run, capacity)}
}

// Enqueue pushes a run, blocking while the queue is full until ctx ends.
func (q *Queue) Enqueue(ctx context.Context, run inspection.Run) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- run:
		return nil
	}
}

// Dequeue pops the next run, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (inspection.Run, error) {
	select {
	case <-ctx.Done():
		return inspection.Run{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case run, ok := <-q.ch:
		if !ok {
			return inspection.Run{}, ErrClosed
		}
		return run, nil
	}
}

// Len reports queued runs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting runs. Queued runs can still be dequeued.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
