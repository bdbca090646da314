// Package worker implements the ingestion pipeline for one run of source records.
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fda483-pipeline/internal/dedup"
	"github.com/JakeFAU/fda483-pipeline/internal/extract"
	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
	"github.com/JakeFAU/fda483-pipeline/internal/metrics"
	"github.com/JakeFAU/fda483-pipeline/internal/normalize"
)

// Fetcher downloads documents.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	FetchToFile(ctx context.Context, url, path string) (bool, error)
}

// EventExtracted is the event name on published notifications.
const EventExtracted = "record.extracted"

// Config controls Worker behavior.
type Config struct {
	BlobPrefix   string
	Topic        string
	SignedURLTTL time.Duration
	// SeedFromStore preloads dedup keys from persisted records.
	SeedFromStore bool
	// UploadConcurrency bounds UploadAll fan-out.
	UploadConcurrency int
}

// Worker runs source records through fetch, extraction, and persistence.
type Worker struct {
	fetcher    Fetcher
	blobs      inspection.BlobStore
	signer     inspection.URLSigner
	records    inspection.RecordStore
	batch      *extract.Batch
	normalizer *normalize.Normalizer
	publisher  inspection.Publisher
	hasher     inspection.Hasher
	clock      inspection.Clock
	ids        inspection.IDGenerator
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker. signer and publisher may be nil.
func New(
	fetcher Fetcher,
	blobs inspection.BlobStore,
	signer inspection.URLSigner,
	records inspection.RecordStore,
	batch *extract.Batch,
	normalizer *normalize.Normalizer,
	publisher inspection.Publisher,
	hasher inspection.Hasher,
	clock inspection.Clock,
	ids inspection.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BlobPrefix == "" {
		cfg.BlobPrefix = "pdfs"
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 365 * 24 * time.Hour
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 4
	}
	if normalizer == nil {
		normalizer = normalize.New(logger)
	}
	return &Worker{
		fetcher:    fetcher,
		blobs:      blobs,
		signer:     signer,
		records:    records,
		batch:      batch,
		normalizer: normalizer,
		publisher:  publisher,
		hasher:     hasher,
		clock:      clock,
		ids:        ids,
		cfg:        cfg,
		logger:     logger.Named("worker"),
	}
}

// prepared carries per-document state from the load step to record building.
type prepared struct {
	source   inspection.SourceRecord
	key      string
	blobPath string
	blobURL  string
	hash     string
}

// Process ingests records and returns the run counters. Per-document failures
// are counted; only store failures are returned.
func (w *Worker) Process(ctx context.Context, records []inspection.SourceRecord) (inspection.RunCounters, error) {
	counters := inspection.RunCounters{Records: len(records)}

	seen := dedup.NewSeen()
	if w.cfg.SeedFromStore {
		existing, err := w.records.ListAll(ctx)
		if err != nil {
			return counters, fmt.Errorf("seed dedup keys: %w", err)
		}
		dedup.Seed(seen, existing)
	}
	part := dedup.Partition(records, seen)
	counters.Kept = len(part.Kept)
	counters.Duplicates = len(part.Duplicates)
	metrics.ObserveDuplicates("ingest", counters.Duplicates)
	for _, d := range part.Duplicates {
		w.logger.Debug("duplicate record skipped",
			zap.String("unique_key", d.Key),
			zap.Int("index", d.Index),
			zap.Int("first_index", d.FirstIndex),
		)
	}

	docs := make([]*prepared, 0, len(part.Kept))
	items := make([]extract.Item, 0, len(part.Kept))
	for i, rec := range part.Kept {
		if strings.TrimSpace(rec.DocumentURL) == "" {
			counters.Skipped++
			w.logger.Info("record has no document url", zap.String("name", rec.Name))
			continue
		}
		doc := &prepared{source: rec, key: part.Keys[i], blobPath: w.blobPath(rec)}
		index := len(docs)
		docs = append(docs, doc)
		items = append(items, extract.Item{
			Index: index,
			Name:  documentName(rec.DocumentURL),
			Load:  func(ctx context.Context) ([]byte, error) { return w.load(ctx, doc) },
		})
	}

	outcomes := w.batch.Run(ctx, items, 0)

	var normalized []inspection.NormalizedRecord
	for _, out := range outcomes {
		doc := docs[out.Index]
		switch out.Status {
		case extract.StatusTooLarge:
			counters.TooLarge++
			continue
		case extract.StatusFailed:
			counters.Failed++
			continue
		}
		result, err := w.normalizer.Normalize(out.Text)
		if err != nil {
			counters.ParseErrors++
			w.logger.Warn("model output not parseable",
				zap.String("unique_key", doc.key),
				zap.Error(err),
			)
			continue
		}
		if result.Empty {
			counters.ParseErrors++
			continue
		}
		rec, err := w.buildRecord(doc, documentName(doc.source.DocumentURL), result)
		if err != nil {
			counters.Failed++
			w.logger.Error("build record failed", zap.String("unique_key", doc.key), zap.Error(err))
			continue
		}
		normalized = append(normalized, rec)
	}

	if len(normalized) == 0 {
		return counters, nil
	}
	if err := w.records.Upsert(ctx, normalized); err != nil {
		return counters, err
	}
	counters.Persisted = len(normalized)
	metrics.ObservePersisted(len(normalized))

	counters.Published = w.publishAll(ctx, normalized)
	w.logger.Info("run processed",
		zap.Int("records", counters.Records),
		zap.Int("persisted", counters.Persisted),
		zap.Int("duplicates", counters.Duplicates),
		zap.Int("failed", counters.Failed),
	)
	return counters, nil
}

// load returns the document bytes, preferring an already stored blob.
func (w *Worker) load(ctx context.Context, doc *prepared) ([]byte, error) {
	exists, err := w.blobs.Exists(ctx, doc.blobPath)
	if err != nil {
		return nil, fmt.Errorf("check blob %s: %w", doc.blobPath, err)
	}

	var data []byte
	if exists {
		data, err = w.blobs.Get(ctx, doc.blobPath)
		if err != nil {
			return nil, fmt.Errorf("get blob %s: %w", doc.blobPath, err)
		}
	} else {
		data, err = w.fetcher.Fetch(ctx, doc.source.DocumentURL)
		if err != nil {
			return nil, err
		}
		uri, err := w.blobs.Put(ctx, doc.blobPath, "application/pdf", data)
		if err != nil {
			return nil, fmt.Errorf("put blob %s: %w", doc.blobPath, err)
		}
		doc.blobURL = uri
	}

	hash, err := w.hasher.Hash(data)
	if err != nil {
		return nil, fmt.Errorf("hash document: %w", err)
	}
	doc.hash = hash
	doc.blobURL = w.readURL(doc)
	return data, nil
}

// readURL picks a signed URL, then the stored object URL, then the source URL.
func (w *Worker) readURL(doc *prepared) string {
	if w.signer != nil {
		signed, err := w.signer.SignedURL(doc.blobPath, w.cfg.SignedURLTTL)
		if err == nil {
			return signed
		}
		w.logger.Warn("sign url failed", zap.String("path", doc.blobPath), zap.Error(err))
	}
	if doc.blobURL != "" {
		return doc.blobURL
	}
	return doc.source.DocumentURL
}

func (w *Worker) buildRecord(doc *prepared, fileName string, result inspection.ExtractionResult) (inspection.NormalizedRecord, error) {
	id, err := w.ids.NewID()
	if err != nil {
		return inspection.NormalizedRecord{}, fmt.Errorf("generate record id: %w", err)
	}
	return inspection.NormalizedRecord{
		ID:               id,
		SourceID:         doc.source.SourceID,
		Date:             doc.source.Date,
		Name:             doc.source.Name,
		DocumentURL:      doc.blobURL,
		PDFFileName:      fileName,
		InspectionNumber: strings.TrimSuffix(fileName, path.Ext(fileName)),
		ContentHash:      doc.hash,
		Summary:          result.Summary,
		Category:         result.Category,
		CFRNumber:        result.CFRNumber,
		Observations:     result.Observations,
		RepeatFindings:   result.RepeatFindings,
		UniqueKey:        doc.key,
		CreatedAt:        w.clock.Now().UTC(),
	}, nil
}

func (w *Worker) publishAll(ctx context.Context, records []inspection.NormalizedRecord) int {
	if w.cfg.Topic == "" || w.publisher == nil {
		return 0
	}
	published := 0
	for _, rec := range records {
		payload := map[string]any{
			"event":        EventExtracted,
			"id":           rec.ID,
			"uniqueKey":    rec.UniqueKey,
			"fei_number":   rec.SourceID,
			"observations": len(rec.Observations),
		}
		if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
			w.logger.Error("publish notification failed", zap.String("id", rec.ID), zap.Error(err))
			continue
		}
		published++
	}
	return published
}

// blobPath derives the storage path for a record's document from its
// identity fields, so documents sharing a URL basename never collide. The
// suffix hashes the full identity key because safeName is lossy.
func (w *Worker) blobPath(rec inspection.SourceRecord) string {
	source := dedup.Missing
	if rec.SourceID != nil {
		source = strconv.FormatInt(*rec.SourceID, 10)
	}
	name := safeName(rec.Name)
	if name == "" {
		name = dedup.Missing
	}
	date := strings.ReplaceAll(rec.Date, "/", "-")
	if date == "" {
		date = dedup.Missing
	}
	sum := fnv.New32a()
	_, _ = sum.Write([]byte(dedup.Key(rec.SourceID, rec.Date, rec.Name)))
	file := fmt.Sprintf("%s_%s_%s_%08x.pdf", name, safeName(date), source, sum.Sum32())
	return path.Join(strings.Trim(w.cfg.BlobPrefix, "/"), source, file)
}

// safeName replaces everything but ASCII letters, digits, and dashes with
// underscores and caps the result at 50 bytes.
func safeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= 50 {
			break
		}
	}
	return b.String()
}

// documentName returns the file name portion of a document URL.
func documentName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return "document.pdf"
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return "document.pdf"
	}
	if path.Ext(base) == "" {
		base += ".pdf"
	}
	return base
}

// IsPersistenceError reports whether err came from an atomic store write.
func IsPersistenceError(err error) bool {
	var pe *inspection.PersistenceError
	return errors.As(err, &pe)
}
