// Package pacing schedules pauses between sequential documents to stay under provider quotas.
package pacing

import (
	"context"
	"time"

	"github.com/JakeFAU/fda483-pipeline/internal/metrics"
)

// Config holds the pause schedule.
type Config struct {
	// Between is slept after every document.
	Between time.Duration
	// Every inserts LongPause after each Every-th document; zero disables it.
	Every     int
	LongPause time.Duration
}

// Pacer sleeps between documents.
type Pacer struct {
	cfg   Config
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Pacer from cfg.
func New(cfg Config) *Pacer {
	return &Pacer{cfg: cfg, sleep: sleepCtx}
}

// Delay returns the pause owed after the document at index (0-based).
func (p *Pacer) Delay(index int) time.Duration {
	if p == nil {
		return 0
	}
	d := p.cfg.Between
	if p.cfg.Every > 0 && (index+1)%p.cfg.Every == 0 {
		d += p.cfg.LongPause
	}
	return d
}

// Wait blocks for the pause owed after index, or until ctx is done.
func (p *Pacer) Wait(ctx context.Context, index int) error {
	d := p.Delay(index)
	if d <= 0 {
		return nil
	}
	metrics.ObservePacingDelay(d)
	return p.sleep(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
