// Package cleanup flags or removes persisted duplicate records.
package cleanup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/fda483-pipeline/internal/dedup"
	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
	"github.com/JakeFAU/fda483-pipeline/internal/metrics"
)

// Mode selects how duplicates are resolved.
type Mode string

const (
	// ModeTag writes the identity key onto each kept record.
	ModeTag Mode = "tag"
	// ModeDelete removes every record after the first per identity key.
	ModeDelete Mode = "delete"
)

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeTag, ModeDelete:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown dedup mode %q (want tag or delete)", s)
	}
}

// Report summarizes one cleanup pass.
type Report struct {
	Mode       Mode `json:"mode"`
	Scanned    int  `json:"scanned"`
	Kept       int  `json:"kept"`
	Duplicates int  `json:"duplicates"`
	Deleted    int  `json:"deleted"`
	Tagged     int  `json:"tagged"`
}

// Cleaner runs duplicate maintenance against a record store.
type Cleaner struct {
	store  inspection.RecordStore
	logger *zap.Logger
}

// New creates a Cleaner.
func New(store inspection.RecordStore, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{store: store, logger: logger.Named("cleanup")}
}

// Run partitions every stored record by identity key in store order and then
// issues one atomic write for the chosen mode.
func (c *Cleaner) Run(ctx context.Context, mode Mode) (Report, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return Report{}, err
	}
	records, err := c.store.ListAll(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list records: %w", err)
	}
	part := dedup.Partition(records, dedup.NewSeen())
	report := Report{
		Mode:       mode,
		Scanned:    len(records),
		Kept:       len(part.Kept),
		Duplicates: len(part.Duplicates),
	}
	metrics.ObserveDuplicates("cleanup", report.Duplicates)

	switch mode {
	case ModeDelete:
		if len(part.Duplicates) == 0 {
			break
		}
		ids := make([]string, 0, len(part.Duplicates))
		for _, d := range part.Duplicates {
			ids = append(ids, d.Item.ID)
			c.logger.Debug("deleting duplicate",
				zap.String("id", d.Item.ID),
				zap.String("unique_key", d.Key),
			)
		}
		if err := c.store.BatchDelete(ctx, ids); err != nil {
			return report, err
		}
		report.Deleted = len(ids)
	case ModeTag:
		tags := make([]inspection.KeyTag, 0, len(part.Kept))
		for i, rec := range part.Kept {
			if rec.UniqueKey == part.Keys[i] {
				continue
			}
			tags = append(tags, inspection.KeyTag{ID: rec.ID, UniqueKey: part.Keys[i]})
		}
		if len(tags) == 0 {
			break
		}
		if err := c.store.TagUniqueKeys(ctx, tags); err != nil {
			return report, err
		}
		report.Tagged = len(tags)
	}

	c.logger.Info("dedup pass complete",
		zap.String("mode", string(mode)),
		zap.Int("scanned", report.Scanned),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("deleted", report.Deleted),
		zap.Int("tagged", report.Tagged),
	)
	return report, nil
}
