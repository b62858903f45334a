package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/BTreeMap/WellnessPipe/internal/genai"
	"github.com/BTreeMap/WellnessPipe/internal/models"
)

// fakeExtraction returns scripted raw responses in order. When the script is
// exhausted the last response is repeated.
type fakeExtraction struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     int
	systems   []string
	users     []string
}

func (f *fakeExtraction) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.systems = append(f.systems, systemPrompt)
	f.users = append(f.users, userPrompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return `{"extracted_data": {}, "confidence": 0}`, nil
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return resp, nil
}

// fakeGeneration echoes a fixed reply and records the turns it was given.
type fakeGeneration struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	systems []string
	turns   [][]genai.Message
}

func (f *fakeGeneration) GenerateWithMessages(ctx context.Context, systemPrompt string, turns []genai.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.systems = append(f.systems, systemPrompt)
	f.turns = append(f.turns, append([]genai.Message(nil), turns...))
	if f.err != nil {
		return "", f.err
	}
	if f.reply == "" {
		return "Tell me more.", nil
	}
	return f.reply, nil
}

func (f *fakeGeneration) lastSystem() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.systems) == 0 {
		return ""
	}
	return f.systems[len(f.systems)-1]
}

// failingConfigProvider always reports the configuration as unavailable.
type failingConfigProvider struct{}

func (failingConfigProvider) StageConfig(ctx context.Context, stage models.Stage) (StageConfig, error) {
	return StageConfig{}, errors.Join(ErrConfigurationUnavailable, errors.New("provider offline"))
}

func testConfigs() map[models.Stage]StageConfig {
	configs := make(map[models.Stage]StageConfig)
	for _, stage := range models.AllStages() {
		configs[stage] = StageConfig{
			ExtractionInstruction: "extract " + string(stage),
			QuestionInstruction:   "ask about " + string(stage),
			Introduction:          "Let's talk about " + stage.Title() + ".",
		}
	}
	return configs
}

func testConfigProvider() *StaticStageConfigProvider {
	return NewStaticStageConfigProvider("You are a friendly wellness coach.", testConfigs())
}

func fixedClock() func() time.Time {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func newTestEngine(ext *fakeExtraction, gen *fakeGeneration, opts ...EngineOption) *Engine {
	opts = append([]EngineOption{WithClock(fixedClock())}, opts...)
	return NewEngine(ext, gen, testConfigProvider(), opts...)
}
