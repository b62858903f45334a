package genai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	gemini "google.golang.org/genai"
)

// DefaultGeminiModel is used when no WithModel option is given.
const DefaultGeminiModel = "gemini-2.0-flash"

// modelsService defines the minimal content generation surface used by GeminiClient.
type modelsService interface {
	GenerateContent(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) (*gemini.GenerateContentResponse, error)
}

// GeminiClient wraps the Google Gen AI content generation API.
type GeminiClient struct {
	models      modelsService
	model       string
	temperature float32
	maxTokens   int32
	timeout     time.Duration
}

// NewGeminiClient creates a Gemini-backed client. The API key falls back to
// GEMINI_API_KEY when no WithAPIKey option is given.
func NewGeminiClient(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	cfg := buildOpts(opts)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		slog.Error("GenAI.NewGeminiClient: Gemini API key not set")
		return nil, fmt.Errorf("gemini: %w", ErrNoAPIKey)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}

	cli, err := gemini.NewClient(ctx, &gemini.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: gemini.BackendGeminiAPI,
	})
	if err != nil {
		slog.Error("GenAI.NewGeminiClient: failed to create client", "error", err)
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	slog.Debug("GenAI.NewGeminiClient: Gemini client created", "model", cfg.Model, "temperature", cfg.Temperature)
	return &GeminiClient{
		models:      cli.Models,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
		timeout:     cfg.RequestTimeout,
	}, nil
}

// GeneratePrompt generates a response from a system instruction and one user text.
func (g *GeminiClient) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	contents := []*gemini.Content{textContent(RoleUser, userPrompt)}
	return g.generate(ctx, "GeneratePrompt", systemPrompt, contents)
}

// GenerateWithMessages generates a response from a system instruction and ordered turns.
func (g *GeminiClient) GenerateWithMessages(ctx context.Context, systemPrompt string, turns []Message) (string, error) {
	contents := make([]*gemini.Content, 0, len(turns))
	for _, turn := range turns {
		contents = append(contents, textContent(turn.Role, turn.Content))
	}
	if len(contents) == 0 {
		// Gemini rejects requests without contents.
		contents = append(contents, textContent(RoleUser, "Begin."))
	}
	return g.generate(ctx, "GenerateWithMessages", systemPrompt, contents)
}

func (g *GeminiClient) generate(ctx context.Context, method, systemPrompt string, contents []*gemini.Content) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	temperature := g.temperature
	config := &gemini.GenerateContentConfig{
		SystemInstruction: &gemini.Content{Parts: []*gemini.Part{{Text: systemPrompt}}},
		Temperature:       &temperature,
	}
	if g.maxTokens > 0 {
		config.MaxOutputTokens = g.maxTokens
	}

	slog.Debug("GenAI.Gemini."+method+": sending request", "model", g.model, "contents", len(contents))
	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		slog.Error("GenAI.Gemini."+method+": request failed", "error", err, "model", g.model)
		return "", fmt.Errorf("gemini generate content failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		slog.Warn("GenAI.Gemini."+method+": no candidates returned", "model", g.model)
		return "", ErrNoChoicesReturned
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		slog.Warn("GenAI.Gemini."+method+": empty content returned", "model", g.model)
		return "", ErrEmptyResponse
	}
	return text, nil
}

// textContent maps a provider-neutral role onto a Gemini content block.
func textContent(role, text string) *gemini.Content {
	r := "user"
	if role == RoleAssistant {
		r = "model"
	}
	return &gemini.Content{Role: r, Parts: []*gemini.Part{{Text: text}}}
}
