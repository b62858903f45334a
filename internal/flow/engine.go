package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/WellnessPipe/internal/models"
)

// TurnResult is the outcome of one processed user utterance.
type TurnResult struct {
	Extraction  *models.ExtractionResult
	Progress    *models.StageProgress
	BotResponse string
	Advanced    bool
}

// EngineOpts holds optional Engine settings.
type EngineOpts struct {
	Policy CompletionPolicy
	Now    func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*EngineOpts)

// WithCompletionPolicy replaces the default TurnCeilingPolicy.
func WithCompletionPolicy(policy CompletionPolicy) EngineOption {
	return func(o *EngineOpts) {
		o.Policy = policy
	}
}

// WithClock sets the time source used to stamp utterances.
func WithClock(now func() time.Time) EngineOption {
	return func(o *EngineOpts) {
		o.Now = now
	}
}

// Engine is the stage state machine. It holds no per-session state; every
// call operates on the progress record it is given.
type Engine struct {
	extractor *Extractor
	questions *QuestionGenerator
	configs   StageConfigProvider
	policy    CompletionPolicy
	now       func() time.Time
}

// NewEngine wires the extraction and generation capabilities with a stage
// configuration provider.
func NewEngine(extraction ExtractionCapability, generation GenerationCapability, configs StageConfigProvider, opts ...EngineOption) *Engine {
	o := EngineOpts{
		Policy: NewTurnCeilingPolicy(DefaultMaxStageTurns),
		Now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		extractor: NewExtractor(extraction, configs),
		questions: NewQuestionGenerator(generation, configs),
		configs:   configs,
		policy:    o.Policy,
		now:       o.Now,
	}
}

// InitializeProgress returns a fresh progress record on the first stage.
func (e *Engine) InitializeProgress() *models.StageProgress {
	return models.NewStageProgress(e.now())
}

// StageIntroduction returns the configured introduction of a stage.
func (e *Engine) StageIntroduction(ctx context.Context, stage models.Stage) (string, error) {
	cfg, err := e.configs.StageConfig(ctx, stage)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(cfg.Introduction), nil
}

// Finalize aggregates the collected data of progress.
func (e *Engine) Finalize(progress *models.StageProgress) (models.WellnessData, error) {
	return Finalize(progress)
}

// ProcessUserResponse runs one transition of the state machine. The user
// utterance is appended to progress before any external call; everything
// else is applied only when the whole turn succeeds.
func (e *Engine) ProcessUserResponse(ctx context.Context, utterance string, progress *models.StageProgress) (TurnResult, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return TurnResult{}, ErrEmptyUtterance
	}

	if progress.IsFinished() {
		last, _ := progress.LastAssistantMessage(models.StageCompleted)
		slog.Debug("Engine.ProcessUserResponse: interview already completed")
		return TurnResult{Progress: progress, BotResponse: last.Text}, nil
	}

	stage := progress.CurrentStage
	progress.AppendMessage(stage, models.UserUtterance(utterance, e.now()))

	work := progress.Clone()
	extraction, err := e.extractor.Extract(ctx, stage, utterance, work.History(stage), work.StageData[stage])
	if err != nil {
		return TurnResult{Progress: progress}, err
	}
	if err := work.MergeStageData(stage, extraction.ExtractedData); err != nil {
		return TurnResult{Progress: progress}, fmt.Errorf("%w: %v", ErrExtractionMalformed, err)
	}
	work.UsedExternalExtraction = true

	complete := e.policy.IsComplete(stage, work.StageData[stage], work.History(stage))
	slog.Debug("Engine.ProcessUserResponse: stage evaluated", "stage", stage, "complete", complete,
		"turns", work.UserTurns(stage), "fields", work.StageData[stage].FieldCount())

	var text string
	target := stage
	if !complete {
		text, err = e.questions.NextQuestion(ctx, stage, work)
	} else {
		work.MarkCompleted(stage)
		target = stage.Next()
		work.CurrentStage = target
		if target.IsTerminal() {
			text, err = e.questions.CompletionMessage(ctx, work)
		} else {
			text, err = e.questions.NextQuestion(ctx, target, work)
		}
	}
	if err != nil {
		return TurnResult{Progress: progress}, err
	}
	work.AppendMessage(target, models.AssistantUtterance(text, e.now()))

	*progress = *work
	if complete {
		slog.Info("Engine.ProcessUserResponse: stage completed", "stage", stage, "next", target)
	}
	return TurnResult{
		Extraction:  &extraction,
		Progress:    progress,
		BotResponse: text,
		Advanced:    complete,
	}, nil
}
