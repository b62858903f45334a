// Package flow implements the staged wellness interview: stage configuration,
// extraction, completion policy, question generation and aggregation.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/WellnessPipe/internal/models"
	"gopkg.in/yaml.v3"
)

// StageConfig carries the configured prompt text for one stage.
type StageConfig struct {
	// Persona is the shared style instruction prepended to question prompts.
	Persona               string `yaml:"-" json:"persona"`
	ExtractionInstruction string `yaml:"extraction_instruction" json:"extraction_instruction"`
	QuestionInstruction   string `yaml:"question_instruction" json:"question_instruction"`
	Introduction          string `yaml:"introduction" json:"introduction"`
}

// StageConfigProvider serves the prompt configuration of a stage.
type StageConfigProvider interface {
	StageConfig(ctx context.Context, stage models.Stage) (StageConfig, error)
}

// stageConfigDocument is the YAML layout of a stage configuration file.
type stageConfigDocument struct {
	Persona string                 `yaml:"persona"`
	Stages  map[string]StageConfig `yaml:"stages"`
}

// ParseStageConfig decodes and validates a YAML stage configuration document.
func ParseStageConfig(data []byte) (map[models.Stage]StageConfig, error) {
	var doc stageConfigDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse stage config: %w", err)
	}

	configs := make(map[models.Stage]StageConfig, len(doc.Stages))
	for name, cfg := range doc.Stages {
		stage, err := models.ParseStage(name)
		if err != nil {
			return nil, fmt.Errorf("stage config: %w", err)
		}
		cfg.Persona = strings.TrimSpace(doc.Persona)
		configs[stage] = cfg
	}

	for _, stage := range models.AllStages() {
		cfg, ok := configs[stage]
		if !ok {
			return nil, fmt.Errorf("stage config: missing stage %s", stage)
		}
		if err := validateStageConfig(stage, cfg); err != nil {
			return nil, err
		}
	}
	return configs, nil
}

func validateStageConfig(stage models.Stage, cfg StageConfig) error {
	if strings.TrimSpace(cfg.QuestionInstruction) == "" {
		return fmt.Errorf("stage config: %s has no question_instruction", stage)
	}
	if stage.IsTerminal() {
		return nil
	}
	if strings.TrimSpace(cfg.ExtractionInstruction) == "" {
		return fmt.Errorf("stage config: %s has no extraction_instruction", stage)
	}
	if strings.TrimSpace(cfg.Introduction) == "" {
		return fmt.Errorf("stage config: %s has no introduction", stage)
	}
	return nil
}

// FileStageConfigProvider serves stage configuration from a YAML file and
// reloads it whenever the file's modification time or size changes.
type FileStageConfigProvider struct {
	path string

	mu      sync.RWMutex
	configs map[models.Stage]StageConfig
	modTime time.Time
	size    int64
}

// NewFileStageConfigProvider loads the YAML file at path. The initial load
// must succeed.
func NewFileStageConfigProvider(path string) (*FileStageConfigProvider, error) {
	p := &FileStageConfigProvider{path: path}
	if err := p.reload(); err != nil {
		slog.Error("FileStageConfigProvider: initial load failed", "error", err, "path", path)
		return nil, err
	}
	slog.Debug("FileStageConfigProvider: configuration loaded", "path", path, "stages", len(p.configs))
	return p, nil
}

// StageConfig returns the configuration of a stage, reloading the file when it changed.
// A file that cannot be read or parsed fails the call; the previous content
// is not served because it may no longer match the live configuration.
func (p *FileStageConfigProvider) StageConfig(ctx context.Context, stage models.Stage) (StageConfig, error) {
	if err := ctx.Err(); err != nil {
		return StageConfig{}, fmt.Errorf("%w: %v", ErrConfigurationUnavailable, err)
	}

	info, err := os.Stat(p.path)
	if err != nil {
		slog.Error("FileStageConfigProvider.StageConfig: stat failed", "error", err, "path", p.path)
		return StageConfig{}, fmt.Errorf("%w: %v", ErrConfigurationUnavailable, err)
	}

	p.mu.RLock()
	stale := !info.ModTime().Equal(p.modTime) || info.Size() != p.size
	p.mu.RUnlock()
	if stale {
		slog.Info("FileStageConfigProvider.StageConfig: configuration changed, reloading", "path", p.path)
		if err := p.reload(); err != nil {
			slog.Error("FileStageConfigProvider.StageConfig: reload failed", "error", err, "path", p.path)
			return StageConfig{}, fmt.Errorf("%w: %v", ErrConfigurationUnavailable, err)
		}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	cfg, ok := p.configs[stage]
	if !ok {
		return StageConfig{}, fmt.Errorf("%w: no configuration for stage %s", ErrConfigurationUnavailable, stage)
	}
	return cfg, nil
}

func (p *FileStageConfigProvider) reload() error {
	info, err := os.Stat(p.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationUnavailable, err)
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationUnavailable, err)
	}
	configs, err := ParseStageConfig(data)
	if err != nil {
		p.mu.Lock()
		p.configs = nil
		p.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrConfigurationUnavailable, err)
	}

	p.mu.Lock()
	p.configs = configs
	p.modTime = info.ModTime()
	p.size = info.Size()
	p.mu.Unlock()
	return nil
}

// StaticStageConfigProvider serves a fixed in-memory configuration.
type StaticStageConfigProvider struct {
	configs map[models.Stage]StageConfig
}

// NewStaticStageConfigProvider copies the given configuration, applying persona to every stage.
func NewStaticStageConfigProvider(persona string, configs map[models.Stage]StageConfig) *StaticStageConfigProvider {
	copied := make(map[models.Stage]StageConfig, len(configs))
	for stage, cfg := range configs {
		cfg.Persona = persona
		copied[stage] = cfg
	}
	return &StaticStageConfigProvider{configs: copied}
}

// StageConfig returns the configuration of a stage.
func (p *StaticStageConfigProvider) StageConfig(ctx context.Context, stage models.Stage) (StageConfig, error) {
	cfg, ok := p.configs[stage]
	if !ok {
		return StageConfig{}, fmt.Errorf("%w: no configuration for stage %s", ErrConfigurationUnavailable, stage)
	}
	return cfg, nil
}
