// Package resilient downloads documents over HTTP with bounded retries.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
	"github.com/JakeFAU/fda483-pipeline/internal/metrics"
)

// DefaultUserAgent mimics a desktop browser; the reading room rejects bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const maxRedirects = 5

// Config controls retry and timeout behavior.
type Config struct {
	MaxRetries int
	Timeout    time.Duration
	Backoff    time.Duration
	UserAgent  string
}

// Fetcher issues GET requests and retries on network errors or non-2xx statuses.
type Fetcher struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// New builds a Fetcher, filling zero config values with defaults.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 2 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout:       cfg.Timeout,
			Transport:     newHTTPTransport(),
			CheckRedirect: checkRedirect,
		},
		logger: logger.Named("fetcher"),
		sleep:  sleepCtx,
	}
}

// Fetch downloads url into memory.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := f.retry(ctx, url, func(resp *http.Response) error {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// FetchToFile downloads url to path. An existing file at path is left alone.
// Partial downloads never become visible at path.
func (f *Fetcher) FetchToFile(ctx context.Context, url, path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		f.logger.Debug("file exists, skipping download", zap.String("path", path))
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return false, fmt.Errorf("create dir: %w", err)
	}
	err := f.retry(ctx, url, func(resp *http.Response) error {
		return writeAtomic(path, resp.Body)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *Fetcher) retry(ctx context.Context, url string, consume func(*http.Response) error) error {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.MaxRetries; attempt++ {
		lastErr = f.attempt(ctx, url, consume)
		if lastErr == nil {
			metrics.ObserveFetchAttempt("success")
			return nil
		}
		metrics.ObserveFetchAttempt("error")
		f.logger.Warn("fetch attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", f.cfg.MaxRetries),
			zap.Error(lastErr),
		)
		if ctx.Err() != nil {
			return &inspection.FetchError{URL: url, Attempts: attempt, Err: ctx.Err()}
		}
		if attempt < f.cfg.MaxRetries {
			if err := f.sleep(ctx, f.cfg.Backoff); err != nil {
				return &inspection.FetchError{URL: url, Attempts: attempt, Err: err}
			}
		}
	}
	return &inspection.FetchError{URL: url, Attempts: f.cfg.MaxRetries, Err: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, url string, consume func(*http.Response) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf,*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close body failed", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return consume(resp)
}

func writeAtomic(path string, r io.Reader) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".part-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	n, err := io.Copy(tmp, r)
	if err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if n == 0 {
		return errors.New("empty response body")
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func checkRedirect(_ *http.Request, via []*http.Request) error {
	if len(via) > maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
