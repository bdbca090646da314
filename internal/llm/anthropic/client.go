// Package anthropic implements the document model on the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
	"github.com/JakeFAU/fda483-pipeline/internal/policy/ratelimit"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-sonnet-4-5"

// Config controls the Anthropic client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Client sends PDFs as base64 document blocks.
type Client struct {
	client  sdk.Client
	model   string
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New creates an Anthropic client. SDK retries are disabled since the
// extraction caller owns retry policy.
func New(cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		client:  sdk.NewClient(opts...),
		model:   cfg.Model,
		limiter: limiter,
		logger:  logger.Named("anthropic"),
	}, nil
}

// Generate sends the document and instruction in a single user turn.
func (c *Client) Generate(ctx context.Context, req inspection.ModelRequest) (string, error) {
	if err := c.limiter.Wait(ctx, "anthropic"); err != nil {
		return "", err
	}
	msg, err := c.client.Messages.New(ctx, buildParams(c.model, req))
	if err != nil {
		return "", fmt.Errorf("anthropic generate: %w", err)
	}
	text := messageText(msg)
	if text == "" {
		return "", errors.New("anthropic returned no text")
	}
	c.logger.Debug("anthropic response",
		zap.Int("chars", len(text)),
		zap.String("stop_reason", string(msg.StopReason)),
	)
	return text, nil
}

// Answer sends a free-text question as a plain user turn.
func (c *Client) Answer(ctx context.Context, question string) (string, error) {
	if err := c.limiter.Wait(ctx, "anthropic"); err != nil {
		return "", err
	}
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: 1024,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(question))},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic answer: %w", err)
	}
	return messageText(msg), nil
}

func buildParams(model string, req inspection.ModelRequest) sdk.MessageNewParams {
	maxTokens := int64(req.Config.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 800
	}
	blocks := []sdk.ContentBlockParamUnion{
		sdk.NewDocumentBlock(sdk.Base64PDFSourceParam{
			Data: base64.StdEncoding.EncodeToString(req.Document),
		}),
	}
	prompt := strings.TrimSpace(req.SchemaHint)
	if req.Config.ResponseMIMEType == "application/json" {
		prompt = strings.TrimSpace(prompt + "\nRespond with JSON only.")
	}
	if prompt != "" {
		blocks = append(blocks, sdk.NewTextBlock(prompt))
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(model),
		MaxTokens:   maxTokens,
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
		Temperature: sdk.Float(float64(req.Config.Temperature)),
	}
	if req.Config.TopK > 0 {
		params.TopK = sdk.Int(int64(req.Config.TopK))
	}
	if req.Instruction != "" {
		params.System = []sdk.TextBlockParam{{Text: req.Instruction}}
	}
	return params
}

func messageText(msg *sdk.Message) string {
	if msg == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}
