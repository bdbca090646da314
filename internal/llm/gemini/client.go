// Package gemini implements the document model and question answerer on Google Gemini.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
	"github.com/JakeFAU/fda483-pipeline/internal/policy/ratelimit"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-2.5-flash"

// Config controls the Gemini client.
type Config struct {
	APIKey string
	Model  string
	// Endpoint overrides the API endpoint; used in tests.
	Endpoint string
}

type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client calls Gemini with inline PDF bytes.
type Client struct {
	client   *genai.Client
	model    string
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
	newModel func(name string) generatorModel
}

// generatorModel is a configurable model handle.
type generatorModel interface {
	generator
	configure(req inspection.ModelRequest)
}

type sdkModel struct {
	*genai.GenerativeModel
}

func (m sdkModel) configure(req inspection.ModelRequest) {
	applyRequest(m.GenerativeModel, req)
}

// New creates a Gemini client. A nil limiter disables quota waits.
func New(ctx context.Context, cfg Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		client:  client,
		model:   cfg.Model,
		limiter: limiter,
		logger:  logger.Named("gemini"),
	}
	c.newModel = func(name string) generatorModel {
		return sdkModel{client.GenerativeModel(name)}
	}
	return c, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close gemini client: %w", err)
	}
	return nil
}

// Generate sends the document with the request's instruction and generation settings.
func (c *Client) Generate(ctx context.Context, req inspection.ModelRequest) (string, error) {
	if err := c.limiter.Wait(ctx, "gemini"); err != nil {
		return "", err
	}
	model := c.newModel(c.model)
	model.configure(req)

	mime := req.MIMEType
	if mime == "" {
		mime = "application/pdf"
	}
	parts := []genai.Part{genai.Blob{MIMEType: mime, Data: req.Document}}
	if req.SchemaHint != "" {
		parts = append(parts, genai.Text(req.SchemaHint))
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text, err := responseText(resp)
	if err != nil {
		return "", err
	}
	c.logger.Debug("gemini response", zap.Int("chars", len(text)), zap.Int("bytes", len(req.Document)))
	return text, nil
}

// Answer forwards a free-text question and returns the model's reply.
func (c *Client) Answer(ctx context.Context, question string) (string, error) {
	if err := c.limiter.Wait(ctx, "gemini"); err != nil {
		return "", err
	}
	resp, err := c.newModel(c.model).GenerateContent(ctx, genai.Text(question))
	if err != nil {
		return "", fmt.Errorf("gemini answer: %w", err)
	}
	return responseText(resp)
}

// applyRequest maps generation settings onto a model handle. Safety filters
// are disabled because inspection reports routinely describe hazards.
func applyRequest(m *genai.GenerativeModel, req inspection.ModelRequest) {
	cfg := req.Config
	m.SetTemperature(cfg.Temperature)
	if cfg.TopP > 0 {
		m.SetTopP(cfg.TopP)
	}
	if cfg.TopK > 0 {
		m.SetTopK(cfg.TopK)
	}
	if cfg.CandidateCount > 0 {
		m.SetCandidateCount(cfg.CandidateCount)
	}
	if cfg.MaxOutputTokens > 0 {
		m.SetMaxOutputTokens(cfg.MaxOutputTokens)
	}
	m.ResponseMIMEType = cfg.ResponseMIMEType
	if req.Instruction != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.Instruction)}}
	}
	m.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
	}
}

var errEmptyResponse = errors.New("gemini returned no text")

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errEmptyResponse
	}
	var parts []string
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				parts = append(parts, string(text))
			}
		}
	}
	if len(parts) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
			return "", fmt.Errorf("%w: blocked (%s)", errEmptyResponse, resp.PromptFeedback.BlockReason)
		}
		return "", errEmptyResponse
	}
	return strings.Join(parts, ""), nil
}
