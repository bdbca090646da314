// Package analysis serves read queries that re-extract findings from stored documents.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fda483-pipeline/internal/dedup"
	"github.com/JakeFAU/fda483-pipeline/internal/extract"
	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
	"github.com/JakeFAU/fda483-pipeline/internal/normalize"
	"github.com/JakeFAU/fda483-pipeline/internal/storage/gcs"
)

var (
	// ErrNoDocuments is returned when a query matches no stored records.
	ErrNoDocuments = errors.New("no documents found")
	// ErrEmptyQuestion is returned by Ask for blank input.
	ErrEmptyQuestion = errors.New("question is required")
)

// DefaultTarget is the number of successful extractions after which a query stops.
const DefaultTarget = 3

// Answerer handles free-text questions.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Downloader fetches a document straight from its URL.
type Downloader interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Config controls the Analyzer.
type Config struct {
	// Target bounds successful extractions per query; zero uses DefaultTarget
	// and a negative value disables early exit.
	Target int
}

// Analyzer answers date-range and facility queries.
type Analyzer struct {
	store      inspection.RecordStore
	blobs      inspection.BlobStore
	downloader Downloader
	batch      *extract.Batch
	normalizer *normalize.Normalizer
	answerer   Answerer
	cfg        Config
	logger     *zap.Logger
}

// New creates an Analyzer. downloader and answerer may be nil.
func New(
	store inspection.RecordStore,
	blobs inspection.BlobStore,
	downloader Downloader,
	batch *extract.Batch,
	normalizer *normalize.Normalizer,
	answerer Answerer,
	cfg Config,
	logger *zap.Logger,
) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Target == 0 {
		cfg.Target = DefaultTarget
	}
	if normalizer == nil {
		normalizer = normalize.New(logger)
	}
	return &Analyzer{
		store:      store,
		blobs:      blobs,
		downloader: downloader,
		batch:      batch,
		normalizer: normalizer,
		answerer:   answerer,
		cfg:        cfg,
		logger:     logger.Named("analysis"),
	}
}

// DocumentResult is the per-document part of a query response.
type DocumentResult struct {
	SourceID       *int64                   `json:"fei_number"`
	Date           string                   `json:"date"`
	Name           string                   `json:"name"`
	DocumentURL    string                   `json:"firebaseUrl"`
	Status         extract.Status           `json:"status"`
	Reason         string                   `json:"reason,omitempty"`
	Summary        string                   `json:"summary,omitempty"`
	Category       string                   `json:"category,omitempty"`
	CFRNumber      string                   `json:"cfrNumber,omitempty"`
	Observations   []inspection.Observation `json:"observations"`
	RepeatFindings []string                 `json:"repeatFinding"`
}

// Result is a query response.
type Result struct {
	Observations   []inspection.Observation `json:"observations"`
	RepeatFindings []string                 `json:"repeatFinding"`
	Documents      []DocumentResult         `json:"documents"`
	Matched        int                      `json:"matched"`
	Processed      int                      `json:"processed"`
	Succeeded      int                      `json:"succeeded"`
}

// ByDateRange analyzes records dated within [start, end].
func (a *Analyzer) ByDateRange(ctx context.Context, start, end time.Time) (Result, error) {
	if end.Before(start) {
		return Result{}, fmt.Errorf("end date %s is before start date %s",
			end.Format(inspection.RecordDateLayout), start.Format(inspection.RecordDateLayout))
	}
	records, err := a.store.ListByDateRange(ctx, start, end)
	if err != nil {
		return Result{}, fmt.Errorf("list by date range: %w", err)
	}
	return a.analyze(ctx, records)
}

// BySourceIDs analyzes records for the given facility identifiers.
func (a *Analyzer) BySourceIDs(ctx context.Context, ids []int64) (Result, error) {
	if len(ids) == 0 {
		return Result{}, ErrNoDocuments
	}
	records, err := a.store.ListBySourceIDs(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("list by source ids: %w", err)
	}
	return a.analyze(ctx, records)
}

// Records returns every stored record with duplicates removed.
func (a *Analyzer) Records(ctx context.Context) ([]inspection.NormalizedRecord, error) {
	records, err := a.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return dedup.Partition(records, dedup.NewSeen()).Kept, nil
}

// Ask forwards question to the answerer.
func (a *Analyzer) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	if a.answerer == nil {
		return "", errors.New("question answering is not configured")
	}
	answer, err := a.answerer.Answer(ctx, question)
	if err != nil {
		return "", fmt.Errorf("answer question: %w", err)
	}
	return answer, nil
}

func (a *Analyzer) analyze(ctx context.Context, records []inspection.NormalizedRecord) (Result, error) {
	kept := dedup.Partition(records, dedup.NewSeen()).Kept
	candidates := make([]inspection.NormalizedRecord, 0, len(kept))
	for _, rec := range kept {
		if strings.TrimSpace(rec.DocumentURL) != "" {
			candidates = append(candidates, rec)
		}
	}
	if len(candidates) == 0 {
		return Result{}, ErrNoDocuments
	}

	items := make([]extract.Item, len(candidates))
	for i, rec := range candidates {
		items[i] = extract.Item{
			Index: i,
			Name:  rec.Name,
			Load:  func(ctx context.Context) ([]byte, error) { return a.load(ctx, rec.DocumentURL) },
		}
	}

	target := a.cfg.Target
	if target < 0 {
		target = 0
	}
	outcomes := a.batch.Run(ctx, items, target)

	res := Result{
		Observations:   []inspection.Observation{},
		RepeatFindings: []string{},
		Documents:      make([]DocumentResult, 0, len(outcomes)),
		Matched:        len(candidates),
		Processed:      len(outcomes),
	}
	seenRepeat := map[string]struct{}{}
	for _, out := range outcomes {
		rec := candidates[out.Index]
		doc := DocumentResult{
			SourceID:       rec.SourceID,
			Date:           rec.Date,
			Name:           rec.Name,
			DocumentURL:    rec.DocumentURL,
			Status:         out.Status,
			Reason:         out.Reason,
			Observations:   []inspection.Observation{},
			RepeatFindings: []string{},
		}
		if out.OK() {
			extracted, err := a.normalizer.Normalize(out.Text)
			switch {
			case err != nil:
				a.logger.Warn("skipping unparseable output", zap.String("name", rec.Name), zap.Error(err))
			case !extracted.Empty:
				res.Succeeded++
				doc.Summary = extracted.Summary
				doc.Category = extracted.Category
				doc.CFRNumber = extracted.CFRNumber
				doc.Observations = extracted.Observations
				doc.RepeatFindings = extracted.RepeatFindings
				res.Observations = append(res.Observations, extracted.Observations...)
				for _, r := range extracted.RepeatFindings {
					if _, dup := seenRepeat[r]; !dup {
						seenRepeat[r] = struct{}{}
						res.RepeatFindings = append(res.RepeatFindings, r)
					}
				}
			}
		}
		res.Documents = append(res.Documents, doc)
	}
	return res, nil
}

// load reads the document from blob storage, falling back to a direct download
// when the URL does not name a stored object.
func (a *Analyzer) load(ctx context.Context, docURL string) ([]byte, error) {
	path, err := a.objectPath(docURL)
	if err == nil && a.blobs != nil {
		data, getErr := a.blobs.Get(ctx, path)
		if getErr == nil {
			return data, nil
		}
		if !errors.Is(getErr, inspection.ErrNotFound) || a.downloader == nil {
			return nil, fmt.Errorf("get stored document %s: %w", path, getErr)
		}
	}
	if a.downloader == nil {
		return nil, fmt.Errorf("resolve document %s: %w", docURL, err)
	}
	return a.downloader.Fetch(ctx, docURL)
}

// pathResolver is implemented by blob stores whose URLs need store state to
// map back to an object path.
type pathResolver interface {
	ObjectPath(docURL string) (string, error)
}

func (a *Analyzer) objectPath(docURL string) (string, error) {
	if r, ok := a.blobs.(pathResolver); ok {
		return r.ObjectPath(docURL)
	}
	return objectPath(docURL)
}

// objectPath maps a stored document URL to its blob path. memory:// URLs come
// from the in-memory store used in development.
func objectPath(docURL string) (string, error) {
	if rest, ok := strings.CutPrefix(docURL, "memory://"); ok {
		rest, _, _ = strings.Cut(rest, "?")
		if rest == "" {
			return "", fmt.Errorf("memory url %q has no object path", docURL)
		}
		return rest, nil
	}
	return gcs.ObjectPath(docURL)
}
