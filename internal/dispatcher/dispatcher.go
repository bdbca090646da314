// Package dispatcher feeds queued ingestion runs to a single worker loop.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
	"github.com/JakeFAU/fda483-pipeline/internal/queue/memory"
)

// Queue holds submitted runs.
type Queue interface {
	Enqueue(ctx context.Context, run inspection.Run) error
	Dequeue(ctx context.Context) (inspection.Run, error)
}

// Processor executes the pipeline for one run's records.
type Processor interface {
	Process(ctx context.Context, records []inspection.SourceRecord) (inspection.RunCounters, error)
}

// Dispatcher owns run submission and the sequential processing loop.
type Dispatcher struct {
	queue  Queue
	runs   inspection.RunStore
	proc   Processor
	ids    inspection.IDGenerator
	clock  inspection.Clock
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue Queue,
	runs inspection.RunStore,
	proc Processor,
	ids inspection.IDGenerator,
	clock inspection.Clock,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:  queue,
		runs:   runs,
		proc:   proc,
		ids:    ids,
		clock:  clock,
		logger: logger.Named("dispatcher"),
	}
}

// Submit records a queued run and enqueues it.
func (d *Dispatcher) Submit(ctx context.Context, records []inspection.SourceRecord) (inspection.Run, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return inspection.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	run := inspection.Run{
		ID:          id,
		Status:      inspection.RunQueued,
		Records:     records,
		Counters:    inspection.RunCounters{Records: len(records)},
		SubmittedAt: d.clock.Now().UTC(),
	}
	if err := d.runs.CreateRun(ctx, run); err != nil {
		return inspection.Run{}, fmt.Errorf("create run: %w", err)
	}
	if err := d.queue.Enqueue(ctx, run); err != nil {
		d.finish(ctx, run.ID, inspection.RunFailed, err.Error(), run.Counters)
		return inspection.Run{}, fmt.Errorf("queue enqueue: %w", err)
	}
	d.logger.Info("run queued", zap.String("run_id", run.ID), zap.Int("records", len(records)))
	return run, nil
}

// Run blocks, processing runs one at a time until ctx ends or the queue closes.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		run, err := d.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			d.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		d.process(ctx, run)
	}
}

func (d *Dispatcher) process(ctx context.Context, run inspection.Run) {
	logger := d.logger.With(zap.String("run_id", run.ID))
	if err := d.runs.UpdateRun(ctx, run.ID, inspection.RunRunning, "", run.Counters); err != nil {
		logger.Error("update run status failed", zap.Error(err))
		return
	}

	start := time.Now()
	counters, err := d.proc.Process(ctx, run.Records)
	status, errText := inspection.RunSucceeded, ""
	if err != nil {
		status, errText = inspection.RunFailed, err.Error()
		logger.Error("run failed", zap.Error(err))
	}
	d.finish(ctx, run.ID, status, errText, counters)
	logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("persisted", counters.Persisted),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// finish writes the terminal status even after ctx is canceled.
func (d *Dispatcher) finish(ctx context.Context, id string, status inspection.RunStatus, errText string, counters inspection.RunCounters) {
	if err := d.runs.UpdateRun(context.WithoutCancel(ctx), id, status, errText, counters); err != nil {
		d.logger.Error("final run status update failed", zap.String("run_id", id), zap.Error(err))
	}
}

// Status returns the stored state of a run.
func (d *Dispatcher) Status(ctx context.Context, id string) (inspection.Run, error) {
	run, err := d.runs.GetRun(ctx, id)
	if err != nil {
		return inspection.Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return run, nil
}
