// Package genai provides the text-completion clients used by the interview
// engine for extraction and question generation.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default configuration values.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 800
)

// Errors returned by the clients.
var (
	ErrNoAPIKey          = errors.New("API key not set")
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrEmptyResponse     = errors.New("empty response")
)

// Role values for Message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one provider-neutral conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ClientInterface is implemented by every text-completion backend.
type ClientInterface interface {
	// GeneratePrompt sends a system instruction and a single user text.
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	// GenerateWithMessages sends a system instruction followed by ordered turns.
	GenerateWithMessages(ctx context.Context, systemPrompt string, turns []Message) (string, error)
}

// Opts holds configuration for the GenAI clients.
type Opts struct {
	APIKey         string
	Model          string
	BaseURL        string
	Temperature    float64
	MaxTokens      int64
	RequestTimeout time.Duration
	DebugMode      bool
	StateDir       string
}

// Option configures a GenAI client.
type Option func(*Opts)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the default model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithBaseURL points the OpenAI client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithRequestTimeout bounds every call. Zero means no client-side timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Opts) { o.RequestTimeout = d }
}

// WithDebugMode writes every request/response pair under <stateDir>/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// buildOpts applies options over the defaults.
func buildOpts(opts []Option) Opts {
	cfg := Opts{
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// chatService defines the minimal chat completion surface used by Client.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openAIChatService adapts the SDK completion service to chatService.
type openAIChatService struct {
	svc *openai.ChatCompletionService
}

func (s *openAIChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the OpenAI chat completion API.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
	timeout     time.Duration
	debugMode   bool
	stateDir    string
}

// NewClient creates an OpenAI-backed client. The API key falls back to
// OPENAI_API_KEY when no WithAPIKey option is given.
func NewClient(opts ...Option) (*Client, error) {
	cfg := buildOpts(opts)
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		slog.Error("GenAI.NewClient: OpenAI API key not set")
		return nil, fmt.Errorf("openai: %w", ErrNoAPIKey)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	slog.Debug("GenAI.NewClient: OpenAI client created", "model", cfg.Model, "temperature", cfg.Temperature, "baseURLSet", cfg.BaseURL != "", "debugMode", cfg.DebugMode)
	return &Client{
		chat:        &openAIChatService{svc: &cli.Chat.Completions},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.RequestTimeout,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// GeneratePrompt generates a response from a system instruction and one user text.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(systemPrompt),
		openai.UserMessage(userPrompt),
	}
	return c.complete(ctx, "GeneratePrompt", messages)
}

// GenerateWithMessages generates a response from a system instruction and ordered turns.
func (c *Client) GenerateWithMessages(ctx context.Context, systemPrompt string, turns []Message) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	for _, turn := range turns {
		switch turn.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	return c.complete(ctx, "GenerateWithMessages", messages)
}

func (c *Client) complete(ctx context.Context, method string, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}

	slog.Debug("GenAI."+method+": sending request", "model", c.model, "messages", len(messages))
	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI."+method+": request failed", "error", err, "model", c.model, "elapsed", time.Since(start))
		c.writeDebugLog(method, params, nil, err)
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	c.writeDebugLog(method, params, &resp, nil)

	if len(resp.Choices) == 0 {
		slog.Warn("GenAI."+method+": no choices returned", "model", c.model)
		return "", ErrNoChoicesReturned
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		slog.Warn("GenAI."+method+": empty content returned", "model", c.model)
		return "", ErrEmptyResponse
	}
	slog.Debug("GenAI."+method+": response received", "model", c.model, "length", len(content), "elapsed", time.Since(start))
	return content, nil
}

// debugLogEntry is the on-disk shape of one debug record.
type debugLogEntry struct {
	Timestamp time.Time   `json:"timestamp"`
	Method    string      `json:"method"`
	Model     string      `json:"model"`
	Params    interface{} `json:"params"`
	Response  interface{} `json:"response"`
	Error     string      `json:"error,omitempty"`
}

// writeDebugLog persists one request/response pair when debug mode is on.
// Failures are logged and otherwise ignored.
func (c *Client) writeDebugLog(method string, params interface{}, resp interface{}, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to create debug directory", "error", err, "dir", dir)
		return
	}
	entry := debugLogEntry{
		Timestamp: time.Now().UTC(),
		Method:    method,
		Model:     c.model,
		Params:    params,
		Response:  resp,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to marshal debug entry", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", entry.Timestamp.Format("20060102T150405.000000000"), method)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		slog.Warn("GenAI.writeDebugLog: failed to write debug file", "error", err, "dir", dir)
	}
}
