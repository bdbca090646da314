// Package extract submits documents to a model with size-tiered timeouts.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
	"github.com/JakeFAU/fda483-pipeline/internal/metrics"
)

// Status classifies an extraction outcome.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusTooLarge Status = "too_large"
	StatusFailed   Status = "failed"
)

// Outcome is the classified result for one document.
type Outcome struct {
	Index    int
	Name     string
	Status   Status
	Text     string
	Reason   string
	Tier     string
	Attempts int
	Elapsed  time.Duration
	Err      error
}

// OK reports whether the model returned text.
func (o Outcome) OK() bool { return o.Status == StatusSuccess }

// Config controls the caller.
type Config struct {
	Tiers       []Tier
	Generation  inspection.GenerationConfig
	Instruction string
	SchemaHint  string
	// DegradedMaxOutputTokens replaces MaxOutputTokens on the retry after a timeout.
	DegradedMaxOutputTokens int32
	// RetryTimeoutCap bounds the retry timeout.
	RetryTimeoutCap time.Duration
}

// DefaultConfig returns the stock tiers and generation settings.
func DefaultConfig() Config {
	return Config{
		Tiers:                   DefaultTiers(),
		Generation:              DefaultGenerationConfig(),
		DegradedMaxOutputTokens: 400,
		RetryTimeoutCap:         15 * time.Second,
	}
}

// Caller runs one document at a time through a Model.
type Caller struct {
	model  inspection.Model
	cfg    Config
	logger *zap.Logger
}

// NewCaller builds a Caller. Zero config fields take defaults.
func NewCaller(model inspection.Model, cfg Config, logger *zap.Logger) *Caller {
	def := DefaultConfig()
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = def.Tiers
	}
	if cfg.Generation == (inspection.GenerationConfig{}) {
		cfg.Generation = def.Generation
	}
	if cfg.DegradedMaxOutputTokens <= 0 {
		cfg.DegradedMaxOutputTokens = def.DegradedMaxOutputTokens
	}
	if cfg.RetryTimeoutCap <= 0 {
		cfg.RetryTimeoutCap = def.RetryTimeoutCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Caller{model: model, cfg: cfg, logger: logger.Named("extract")}
}

type attemptKind int

const (
	attemptOK attemptKind = iota
	attemptTimeout
	attemptError
)

type attemptResult struct {
	kind attemptKind
	text string
	err  error
}

// Extract classifies doc as success, too large, or failed. It never returns an
// error; failures are carried on the Outcome with a placeholder Reason.
func (c *Caller) Extract(ctx context.Context, doc inspection.Document) Outcome {
	start := time.Now()
	out := Outcome{Index: doc.Index, Name: doc.Name}
	logger := c.logger.With(
		zap.Int("doc_index", doc.Index),
		zap.String("name", doc.Name),
		zap.Int("bytes", len(doc.Bytes)),
	)

	tier, ok := SelectTier(c.cfg.Tiers, len(doc.Bytes))
	if !ok {
		logger.Info("document too large, skipping")
		out.Status = StatusTooLarge
		out.Tier = "none"
		out.Reason = placeholder(doc, "File too large for processing")
		out.Err = inspection.ErrTooLarge
		out.Elapsed = time.Since(start)
		metrics.ObserveDocument(out.Tier, string(out.Status))
		return out
	}
	out.Tier = tier.Name
	logger = logger.With(zap.String("tier", tier.Name), zap.Duration("timeout", tier.Timeout))

	req := inspection.ModelRequest{
		Instruction: c.cfg.Instruction,
		SchemaHint:  c.cfg.SchemaHint,
		Document:    doc.Bytes,
		MIMEType:    "application/pdf",
		Config:      c.cfg.Generation,
	}

	res := c.attempt(ctx, req, tier, "normal", tier.Timeout)
	out.Attempts = 1
	switch res.kind {
	case attemptOK:
		out.Status = StatusSuccess
		out.Text = res.text
	case attemptError:
		logger.Warn("model call failed", zap.Error(res.err))
		out.Status = StatusFailed
		out.Reason = placeholder(doc, "Processing failed")
		out.Err = res.err
	case attemptTimeout:
		logger.Warn("model call timed out, retrying with reduced output budget")
		degraded := req
		degraded.Config.MaxOutputTokens = c.cfg.DegradedMaxOutputTokens
		retryTimeout := min(tier.Timeout, c.cfg.RetryTimeoutCap)

		res = c.attempt(ctx, degraded, tier, "degraded", retryTimeout)
		out.Attempts = 2
		if res.kind == attemptOK {
			out.Status = StatusSuccess
			out.Text = res.text
			break
		}
		logger.Warn("retry failed", zap.Error(res.err))
		out.Status = StatusFailed
		out.Reason = placeholder(doc, "Processing failed after retry")
		out.Err = res.err
	}

	out.Elapsed = time.Since(start)
	metrics.ObserveDocument(out.Tier, string(out.Status))
	logger.Debug("extraction finished",
		zap.String("status", string(out.Status)),
		zap.Int("attempt", out.Attempts),
		zap.Duration("elapsed", out.Elapsed),
	)
	return out
}

// attempt races one model call against timeout. A timed-out call is abandoned.
func (c *Caller) attempt(
	ctx context.Context,
	req inspection.ModelRequest,
	tier Tier,
	label string,
	timeout time.Duration,
) attemptResult {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan attemptResult, 1)
	go func() {
		text, err := c.model.Generate(callCtx, req)
		if err != nil {
			done <- attemptResult{kind: attemptError, err: err}
			return
		}
		done <- attemptResult{kind: attemptOK, text: text}
	}()

	var res attemptResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = attemptResult{kind: attemptError, err: callCtx.Err()}
	}
	metrics.ObserveModelCall(tier.Name, label, time.Since(start))

	// Parent cancellation is never retried.
	if ctx.Err() != nil {
		return attemptResult{kind: attemptError, err: fmt.Errorf("model call: %w", ctx.Err())}
	}
	if res.kind == attemptError && errors.Is(res.err, context.DeadlineExceeded) {
		return attemptResult{
			kind: attemptTimeout,
			err:  fmt.Errorf("%w after %s", inspection.ErrTimeout, timeout),
		}
	}
	return res
}

func placeholder(doc inspection.Document, stage string) string {
	name := doc.Name
	if name == "" {
		name = "Unknown"
	}
	return fmt.Sprintf("Document %d: %s - %s", doc.Index+1, name, stage)
}
