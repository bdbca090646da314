package extract

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

// Item is a document whose bytes are loaded only when its turn comes.
type Item struct {
	Index int
	Name  string
	Load  func(ctx context.Context) ([]byte, error)
}

// Pacer schedules the pause owed after the document at index.
type Pacer interface {
	Wait(ctx context.Context, index int) error
}

// Batch drives a Caller over items sequentially.
type Batch struct {
	caller *Caller
	pacer  Pacer
	logger *zap.Logger
}

// NewBatch builds a Batch. A nil pacer disables pauses.
func NewBatch(caller *Caller, pacer Pacer, logger *zap.Logger) *Batch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batch{caller: caller, pacer: pacer, logger: logger.Named("batch")}
}

// Run processes items in order and returns one Outcome per processed item.
// It stops early once target successes are collected (target <= 0 disables
// early exit) or when ctx is done. Per-item failures never stop the batch.
func (b *Batch) Run(ctx context.Context, items []Item, target int) []Outcome {
	outcomes := make([]Outcome, 0, len(items))
	successes := 0
	for i, item := range items {
		if ctx.Err() != nil {
			b.logger.Info("batch canceled", zap.Int("processed", len(outcomes)))
			break
		}

		data, err := item.Load(ctx)
		var out Outcome
		if err != nil {
			b.logger.Warn("load document failed",
				zap.Int("doc_index", item.Index),
				zap.String("name", item.Name),
				zap.Error(err),
			)
			out = Outcome{
				Index:  item.Index,
				Name:   item.Name,
				Status: StatusFailed,
				Tier:   "none",
				Reason: placeholder(inspection.Document{Index: item.Index, Name: item.Name}, "Processing failed"),
				Err:    err,
			}
		} else {
			out = b.caller.Extract(ctx, inspection.Document{Index: item.Index, Name: item.Name, Bytes: data})
		}
		outcomes = append(outcomes, out)

		if out.OK() {
			successes++
			if target > 0 && successes >= target {
				b.logger.Info("early exit", zap.Int("successes", successes), zap.Int("remaining", len(items)-i-1))
				break
			}
		}
		if i == len(items)-1 || b.pacer == nil {
			continue
		}
		if err := b.pacer.Wait(ctx, i); err != nil {
			b.logger.Info("pacing interrupted", zap.Error(err))
			break
		}
	}
	return outcomes
}
