package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/fda483-pipeline/internal/dedup"
	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

// LocalFile is a downloaded document waiting to be uploaded.
type LocalFile struct {
	LocalPath string
	BlobPath  string
}

// UploadAll uploads already-downloaded files concurrently and returns
// their URLs in input order. The first failure cancels remaining uploads.
func (w *Worker) UploadAll(ctx context.Context, files []LocalFile) ([]string, error) {
	urls := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.UploadConcurrency)
	for i, f := range files {
		g.Go(func() error {
			data, err := os.ReadFile(f.LocalPath)
			if err != nil {
				return fmt.Errorf("read %s: %w", f.LocalPath, err)
			}
			uri, err := w.blobs.Put(gctx, f.BlobPath, "application/pdf", data)
			if err != nil {
				return fmt.Errorf("upload %s: %w", f.BlobPath, err)
			}
			urls[i] = uri
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return urls, nil
}

// MirrorReport summarizes a Mirror call.
type MirrorReport struct {
	Downloaded int `json:"downloaded"`
	Existing   int `json:"existing"`
	Failed     int `json:"failed"`
	Uploaded   int `json:"uploaded"`
}

// Mirror downloads each unique record's document into dir, skipping files
// already present, then uploads the set to the blob store.
func (w *Worker) Mirror(ctx context.Context, records []inspection.SourceRecord, dir string) (MirrorReport, error) {
	var report MirrorReport
	part := dedup.Partition(records, dedup.NewSeen())
	files := make([]LocalFile, 0, len(part.Kept))
	for _, rec := range part.Kept {
		if strings.TrimSpace(rec.DocumentURL) == "" {
			continue
		}
		blobPath := w.blobPath(rec)
		local := filepath.Join(dir, filepath.FromSlash(blobPath))
		downloaded, err := w.fetcher.FetchToFile(ctx, rec.DocumentURL, local)
		if err != nil {
			if ctx.Err() != nil {
				return report, fmt.Errorf("mirror documents: %w", ctx.Err())
			}
			report.Failed++
			w.logger.Warn("download failed", zap.String("url", rec.DocumentURL), zap.Error(err))
			continue
		}
		if downloaded {
			report.Downloaded++
		} else {
			report.Existing++
		}
		files = append(files, LocalFile{LocalPath: local, BlobPath: blobPath})
	}

	urls, err := w.UploadAll(ctx, files)
	if err != nil {
		return report, err
	}
	report.Uploaded = len(urls)
	return report, nil
}
