package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/WellnessPipe/internal/genai"
	"github.com/BTreeMap/WellnessPipe/internal/models"
)

// GenerationCapability is the external text-generation function used for
// follow-up questions, introductions and the completion message.
type GenerationCapability interface {
	GenerateWithMessages(ctx context.Context, systemPrompt string, turns []genai.Message) (string, error)
}

// QuestionGenerator produces the next prompt shown to the user.
type QuestionGenerator struct {
	capability GenerationCapability
	configs    StageConfigProvider
}

// NewQuestionGenerator creates a question generator.
func NewQuestionGenerator(capability GenerationCapability, configs StageConfigProvider) *QuestionGenerator {
	return &QuestionGenerator{capability: capability, configs: configs}
}

// NextQuestion generates the next question about stage given the whole
// conversation recorded in progress.
func (g *QuestionGenerator) NextQuestion(ctx context.Context, stage models.Stage, progress *models.StageProgress) (string, error) {
	return g.generate(ctx, stage, progress)
}

// CompletionMessage generates the closing message of the interview.
func (g *QuestionGenerator) CompletionMessage(ctx context.Context, progress *models.StageProgress) (string, error) {
	return g.generate(ctx, models.StageCompleted, progress)
}

func (g *QuestionGenerator) generate(ctx context.Context, stage models.Stage, progress *models.StageProgress) (string, error) {
	cfg, err := g.configs.StageConfig(ctx, stage)
	if err != nil {
		return "", err
	}

	turns := conversationTurns(progress.ConversationContext())
	slog.Debug("QuestionGenerator.generate: requesting prompt", "stage", stage, "turns", len(turns))

	text, err := g.capability.GenerateWithMessages(ctx, questionSystemPrompt(cfg), turns)
	if err != nil {
		slog.Error("QuestionGenerator.generate: capability call failed", "error", err, "stage", stage)
		return "", fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		slog.Error("QuestionGenerator.generate: capability returned empty text", "stage", stage)
		return "", fmt.Errorf("%w: empty text for stage %s", ErrGenerationUnavailable, stage)
	}
	return text, nil
}

func questionSystemPrompt(cfg StageConfig) string {
	instruction := strings.TrimSpace(cfg.QuestionInstruction)
	if cfg.Persona == "" {
		return instruction
	}
	return cfg.Persona + "\n\n" + instruction
}

// conversationTurns maps recorded utterances onto provider-neutral messages.
func conversationTurns(history []models.Utterance) []genai.Message {
	turns := make([]genai.Message, 0, len(history))
	for _, u := range history {
		role := genai.RoleUser
		if u.Role == models.RoleAssistant {
			role = genai.RoleAssistant
		}
		turns = append(turns, genai.Message{Role: role, Content: u.Text})
	}
	return turns
}
