package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/WellnessPipe/internal/models"
)

// ExtractionCapability is the external text-in/text-out extraction function.
type ExtractionCapability interface {
	GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// responseContract is appended to every extraction instruction.
const responseContract = `Respond with a single JSON object and nothing else:
{"extracted_data": {<field>: <value>, ...}, "confidence": <number 0-100>, "reasoning": "<one sentence>"}
Use only the field names listed above. Omit fields the user did not state.`

// normalizationRules is appended to every extraction instruction.
const normalizationRules = `Normalization rules:
- weights in kilograms (1 lb = 0.4536 kg), heights in centimetres (1 in = 2.54 cm, 1 ft = 30.48 cm)
- sleep in hours per night, exercise in days per week (0-7), stress level on a 1-10 scale
- lists (conditions, medications, allergies, injuries, family history, secondary goals) as arrays of short strings
- enumerations: gender in [%s]; activity_level in [%s]; alcohol_frequency in [%s]
Never infer or guess data the user did not explicitly state.`

// Extractor turns one user utterance into structured stage data by
// delegating to an external extraction capability.
type Extractor struct {
	capability ExtractionCapability
	configs    StageConfigProvider
}

// NewExtractor creates an extraction adapter.
func NewExtractor(capability ExtractionCapability, configs StageConfigProvider) *Extractor {
	return &Extractor{capability: capability, configs: configs}
}

// Extract sends the utterance with the stage context to the capability and
// parses the structured result. It never mutates progress.
func (e *Extractor) Extract(ctx context.Context, stage models.Stage, utterance string, stageHistory []models.Utterance, previous models.WellnessData) (models.ExtractionResult, error) {
	cfg, err := e.configs.StageConfig(ctx, stage)
	if err != nil {
		return models.ExtractionResult{}, err
	}

	systemPrompt, err := buildExtractionInstruction(stage, cfg, previous)
	if err != nil {
		return models.ExtractionResult{}, err
	}
	userPrompt := buildExtractionUserText(stageHistory, utterance)

	slog.Debug("Extractor.Extract: calling extraction capability", "stage", stage, "historyLength", len(stageHistory))
	raw, err := e.capability.GeneratePrompt(ctx, systemPrompt, userPrompt)
	if err != nil {
		slog.Error("Extractor.Extract: capability call failed", "error", err, "stage", stage)
		return models.ExtractionResult{}, fmt.Errorf("%w: extraction call failed: %v", ErrGenerationUnavailable, err)
	}

	result, err := parseExtractionResponse(stage, raw)
	if err != nil {
		slog.Error("Extractor.Extract: malformed extraction response", "error", err, "stage", stage, "responseLength", len(raw))
		return models.ExtractionResult{}, err
	}

	slog.Debug("Extractor.Extract: extraction parsed", "stage", stage, "fields", result.ExtractedData.PresentFields(), "confidence", result.Confidence)
	return result, nil
}

func buildExtractionInstruction(stage models.Stage, cfg StageConfig, previous models.WellnessData) (string, error) {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(cfg.ExtractionInstruction))
	sb.WriteString("\n\nFields for the ")
	sb.WriteString(string(stage))
	sb.WriteString(" stage: ")
	sb.WriteString(strings.Join(stage.Fields(), ", "))
	sb.WriteString("\nOther fields you may fill if the user states them: ")
	sb.WriteString(strings.Join(otherFields(stage), ", "))
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf(normalizationRules,
		strings.Join(models.GenderValues, ", "),
		strings.Join(models.ActivityLevelValues, ", "),
		strings.Join(models.AlcoholFrequencyValues, ", ")))

	if !previous.IsEmpty() {
		known, err := previous.ToJSON()
		if err != nil {
			return "", fmt.Errorf("failed to serialize previous stage data: %w", err)
		}
		sb.WriteString("\n\nAlready known for this stage (repeat a field only if the user corrects it):\n")
		sb.WriteString(known)
	}
	sb.WriteString("\n\n")
	sb.WriteString(responseContract)
	return sb.String(), nil
}

// otherFields lists every extractable field outside the stage's own set.
func otherFields(stage models.Stage) []string {
	own := make(map[string]bool)
	for _, f := range stage.Fields() {
		own[f] = true
	}
	var out []string
	for _, f := range models.AllFields() {
		if !own[f] && f != models.FieldBMI {
			out = append(out, f)
		}
	}
	return out
}

func buildExtractionUserText(history []models.Utterance, utterance string) string {
	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("Conversation so far in this stage:\n")
		for _, u := range history {
			sb.WriteString(string(u.Role))
			sb.WriteString(": ")
			sb.WriteString(u.Text)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Latest user message:\n")
	sb.WriteString(utterance)
	return sb.String()
}
