package genai

import (
	"context"
	"errors"
	"testing"

	gemini "google.golang.org/genai"
)

type mockModelsService struct {
	resp     *gemini.GenerateContentResponse
	err      error
	contents []*gemini.Content
	config   *gemini.GenerateContentConfig
}

func (m *mockModelsService) GenerateContent(ctx context.Context, model string, contents []*gemini.Content, config *gemini.GenerateContentConfig) (*gemini.GenerateContentResponse, error) {
	m.contents = contents
	m.config = config
	return m.resp, m.err
}

func geminiResponse(parts ...string) *gemini.GenerateContentResponse {
	content := &gemini.Content{Role: "model"}
	for _, p := range parts {
		content.Parts = append(content.Parts, &gemini.Part{Text: p})
	}
	return &gemini.GenerateContentResponse{Candidates: []*gemini.Candidate{{Content: content}}}
}

func TestGemini_GenerateWithMessages(t *testing.T) {
	mock := &mockModelsService{resp: geminiResponse("What is ", "your height?")}
	client := &GeminiClient{models: mock, model: "gemini-test", temperature: 0.3}

	out, err := client.GenerateWithMessages(context.Background(), "persona", []Message{
		{Role: RoleAssistant, Content: "Hi!"},
		{Role: RoleUser, Content: "I weigh 65kg"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "What is your height?" {
		t.Errorf("unexpected output %q", out)
	}
	if len(mock.contents) != 2 || mock.contents[0].Role != "model" || mock.contents[1].Role != "user" {
		t.Errorf("unexpected role mapping: %+v", mock.contents)
	}
	if mock.config.SystemInstruction == nil || mock.config.SystemInstruction.Parts[0].Text != "persona" {
		t.Error("expected system instruction to carry the persona")
	}
}

func TestGemini_EmptyTurnsStillSendsContent(t *testing.T) {
	mock := &mockModelsService{resp: geminiResponse("hello")}
	client := &GeminiClient{models: mock, model: "gemini-test"}
	if _, err := client.GenerateWithMessages(context.Background(), "persona", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mock.contents) != 1 {
		t.Errorf("expected a placeholder content, got %d", len(mock.contents))
	}
}

func TestGemini_Errors(t *testing.T) {
	client := &GeminiClient{models: &mockModelsService{err: errors.New("quota exceeded")}}
	if _, err := client.GeneratePrompt(context.Background(), "sys", "usr"); err == nil {
		t.Error("expected transport error")
	}

	client = &GeminiClient{models: &mockModelsService{resp: &gemini.GenerateContentResponse{}}}
	if _, err := client.GeneratePrompt(context.Background(), "sys", "usr"); !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected ErrNoChoicesReturned, got %v", err)
	}

	client = &GeminiClient{models: &mockModelsService{resp: geminiResponse("  ")}}
	if _, err := client.GeneratePrompt(context.Background(), "sys", "usr"); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestNewGeminiClient_NoKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	if _, err := NewGeminiClient(context.Background()); !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}
