package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

// ErrEmptyResponse is returned when the model answers with no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// generator is the slice of *genai.Models the allocator needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiConfig configures a Gemini allocator.
type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration

	// Rate and Burst limit model calls across all requests. Rate <= 0 means unlimited.
	Rate  float64
	Burst int
}

// Gemini implements Allocator on the Gemini API.
type Gemini struct {
	models  generator
	model   string
	timeout time.Duration
	limiter *rate.Limiter
	schema  *genai.Schema
	logger  *slog.Logger
}

var _ Allocator = (*Gemini)(nil)

// NewGemini creates a Gemini allocator.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return newGemini(client.Models, cfg, logger), nil
}

func newGemini(models generator, cfg GeminiConfig, logger *slog.Logger) *Gemini {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Gemini{
		models:  models,
		model:   model,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(limit, burst),
		schema:  ResponseSchema(),
		logger:  logger,
	}
}

// Model returns the model name requests are sent to.
func (g *Gemini) Model() string {
	return g.model
}

// Allocate sends the image and instruction to the model and returns its JSON answer.
func (g *Gemini) Allocate(ctx context.Context, req Request) (string, error) {
	if len(req.Image) == 0 {
		return "", fmt.Errorf("bill image is empty")
	}

	prompt, err := BuildPrompt(PromptInput{
		UploaderID:  req.PayerID,
		PayerID:     req.PayerID,
		Roster:      req.Roster,
		Instruction: req.Instruction,
		Feedback:    req.Feedback,
	})
	if err != nil {
		return "", err
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("failed to wait for model rate limit: %w", err)
	}

	mimeType := req.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.Image, mimeType),
			genai.NewPartFromText(req.Instruction),
		}, genai.RoleUser),
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    g.schema,
		Temperature:       genai.Ptr[float32](0),
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate allocation: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	g.logger.Debug("Model answered",
		"model", g.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"response_bytes", len(text),
	)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
