// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// UploadRetries is the number of Put attempts; defaults to 3.
	UploadRetries int
	RetryWait     time.Duration
	// SigningAccount and SigningKey are used for signed URLs when the
	// client credentials cannot sign on their own.
	SigningAccount string
	SigningKey     []byte
}

// BlobStore reads and writes documents in a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	cfg    Config
	logger *zap.Logger
	sleep  func(time.Duration)
	now    func() time.Time
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if cfg.UploadRetries <= 0 {
		cfg.UploadRetries = 3
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobStore{
		client: client,
		cfg:    cfg,
		logger: logger.Named("gcs"),
		sleep:  time.Sleep,
		now:    time.Now,
	}, nil
}

// Get downloads the object at path.
func (s *BlobStore) Get(ctx context.Context, path string) ([]byte, error) {
	r, err := s.client.Bucket(s.cfg.Bucket).Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("get %s: %w", path, inspection.ErrNotFound)
		}
		return nil, fmt.Errorf("open reader: %w", err)
	}
	defer func() {
		if cerr := r.Close(); cerr != nil {
			s.logger.Debug("close reader failed", zap.Error(cerr))
		}
	}()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Put uploads data to path and returns its public storage URL. Failed uploads
// are retried UploadRetries times.
func (s *BlobStore) Put(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	var lastErr error
	for attempt := 1; attempt <= s.cfg.UploadRetries; attempt++ {
		if lastErr = s.write(ctx, path, contentType, data); lastErr == nil {
			return PublicURL(s.cfg.Bucket, path), nil
		}
		s.logger.Warn("upload failed",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if ctx.Err() != nil {
			break
		}
		if attempt < s.cfg.UploadRetries {
			s.sleep(s.cfg.RetryWait)
		}
	}
	return "", fmt.Errorf("upload %s: %w", path, lastErr)
}

func (s *BlobStore) write(ctx context.Context, path, contentType string, data []byte) error {
	writer := s.client.Bucket(s.cfg.Bucket).Object(path).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Exists reports whether path is present in the bucket.
func (s *BlobStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.Bucket(s.cfg.Bucket).Object(path).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("object attrs: %w", err)
}

// SignedURL returns a read URL for path valid for ttl. V2 signing is used
// because V4 caps expiry at seven days.
func (s *BlobStore) SignedURL(path string, ttl time.Duration) (string, error) {
	opts := &storage.SignedURLOptions{
		Method:         "GET",
		Expires:        s.now().Add(ttl),
		Scheme:         storage.SigningSchemeV2,
		GoogleAccessID: s.cfg.SigningAccount,
		PrivateKey:     s.cfg.SigningKey,
	}
	u, err := s.client.Bucket(s.cfg.Bucket).SignedURL(path, opts)
	if err != nil {
		return "", fmt.Errorf("sign url: %w", err)
	}
	return u, nil
}

// PublicURL formats the storage.googleapis.com URL for an object.
func PublicURL(bucket, path string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, path)
}

// ObjectPath strips the host and bucket segment from a storage URL, returning
// the object path. Both https://storage.googleapis.com/<bucket>/<path> and
// gs://<bucket>/<path> forms are accepted; query strings are dropped.
func ObjectPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse storage url: %w", err)
	}
	var rest string
	switch u.Scheme {
	case "gs":
		rest = u.Path
	case "http", "https":
		parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
		if len(parts) < 2 {
			return "", fmt.Errorf("storage url %q has no object path", rawURL)
		}
		rest = parts[1]
	default:
		return "", fmt.Errorf("unsupported storage url scheme %q", u.Scheme)
	}
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return "", fmt.Errorf("storage url %q has no object path", rawURL)
	}
	return rest, nil
}
