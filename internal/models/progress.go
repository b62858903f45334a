// Package models defines the per-session interview progress record.
package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Role identifies the author of an utterance.
type Role string

// Role constants.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Utterance is one message of the interview. It is never modified once
// appended to a history.
type Utterance struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// UserUtterance builds a user utterance stamped with the given time.
func UserUtterance(text string, at time.Time) Utterance {
	return Utterance{Role: RoleUser, Text: text, Timestamp: at}
}

// AssistantUtterance builds an assistant utterance stamped with the given time.
func AssistantUtterance(text string, at time.Time) Utterance {
	return Utterance{Role: RoleAssistant, Text: text, Timestamp: at}
}

// StageProgress is the full mutable record of one session's journey
// through the stages.
type StageProgress struct {
	CurrentStage           Stage                  `json:"current_stage"`
	CompletedStages        []Stage                `json:"completed_stages"`
	StageData              map[Stage]WellnessData `json:"stage_data"`
	MessageHistory         map[Stage][]Utterance  `json:"message_history"`
	UsedExternalExtraction bool                   `json:"used_external_extraction"`
	StartedAt              time.Time              `json:"started_at"`
	LastActiveAt           time.Time              `json:"last_active_at"`
}

// NewStageProgress returns an empty progress record positioned on the first stage.
func NewStageProgress(now time.Time) *StageProgress {
	return &StageProgress{
		CurrentStage:    FirstStage(),
		CompletedStages: []Stage{},
		StageData:       make(map[Stage]WellnessData),
		MessageHistory:  make(map[Stage][]Utterance),
		StartedAt:       now,
		LastActiveAt:    now,
	}
}

// AppendMessage appends an utterance to the history of the given stage.
func (p *StageProgress) AppendMessage(stage Stage, u Utterance) {
	if p.MessageHistory == nil {
		p.MessageHistory = make(map[Stage][]Utterance)
	}
	p.MessageHistory[stage] = append(p.MessageHistory[stage], u)
	if u.Timestamp.After(p.LastActiveAt) {
		p.LastActiveAt = u.Timestamp
	}
}

// MergeStageData writes every present field of partial over the stage's
// accumulated data.
func (p *StageProgress) MergeStageData(stage Stage, partial WellnessData) error {
	if p.StageData == nil {
		p.StageData = make(map[Stage]WellnessData)
	}
	merged, err := p.StageData[stage].Merge(partial)
	if err != nil {
		return fmt.Errorf("failed to merge data for stage %s: %w", stage, err)
	}
	p.StageData[stage] = merged
	return nil
}

// MarkCompleted appends the stage to the completed list once.
func (p *StageProgress) MarkCompleted(stage Stage) {
	if p.IsStageCompleted(stage) {
		return
	}
	p.CompletedStages = append(p.CompletedStages, stage)
}

// IsStageCompleted reports whether the stage is in the completed list.
func (p *StageProgress) IsStageCompleted(stage Stage) bool {
	return slices.Contains(p.CompletedStages, stage)
}

// IsFinished reports whether the interview reached the terminal stage.
func (p *StageProgress) IsFinished() bool {
	return p.CurrentStage.IsTerminal()
}

// History returns the utterances recorded for a stage.
func (p *StageProgress) History(stage Stage) []Utterance {
	return p.MessageHistory[stage]
}

// UserTurns counts the user utterances recorded for a stage.
func (p *StageProgress) UserTurns(stage Stage) int {
	return CountUserTurns(p.MessageHistory[stage])
}

// ConversationContext returns the histories of the completed stages in
// completion order followed by the active stage's history.
func (p *StageProgress) ConversationContext() []Utterance {
	var out []Utterance
	for _, stage := range p.CompletedStages {
		if stage == p.CurrentStage {
			continue
		}
		out = append(out, p.MessageHistory[stage]...)
	}
	return append(out, p.MessageHistory[p.CurrentStage]...)
}

// LastAssistantMessage returns the newest assistant utterance of a stage.
func (p *StageProgress) LastAssistantMessage(stage Stage) (Utterance, bool) {
	history := p.MessageHistory[stage]
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleAssistant {
			return history[i], true
		}
	}
	return Utterance{}, false
}

// Clone returns a deep copy of the progress record.
func (p *StageProgress) Clone() *StageProgress {
	out := &StageProgress{
		CurrentStage:           p.CurrentStage,
		CompletedStages:        append([]Stage{}, p.CompletedStages...),
		StageData:              make(map[Stage]WellnessData, len(p.StageData)),
		MessageHistory:         make(map[Stage][]Utterance, len(p.MessageHistory)),
		UsedExternalExtraction: p.UsedExternalExtraction,
		StartedAt:              p.StartedAt,
		LastActiveAt:           p.LastActiveAt,
	}
	for stage, data := range p.StageData {
		out.StageData[stage] = data.Clone()
	}
	for stage, history := range p.MessageHistory {
		out.MessageHistory[stage] = append([]Utterance(nil), history...)
	}
	return out
}

// ToJSON serializes the progress record.
func (p *StageProgress) ToJSON() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FromJSON deserializes a progress record produced by ToJSON.
func (p *StageProgress) FromJSON(data string) error {
	if err := json.Unmarshal([]byte(data), p); err != nil {
		return err
	}
	if p.StageData == nil {
		p.StageData = make(map[Stage]WellnessData)
	}
	if p.MessageHistory == nil {
		p.MessageHistory = make(map[Stage][]Utterance)
	}
	if p.CompletedStages == nil {
		p.CompletedStages = []Stage{}
	}
	return nil
}

// CountUserTurns counts the user utterances in a history.
func CountUserTurns(history []Utterance) int {
	n := 0
	for _, u := range history {
		if u.Role == RoleUser {
			n++
		}
	}
	return n
}

// ExtractionResult is the structured outcome of one extraction call.
type ExtractionResult struct {
	Stage         Stage        `json:"stage"`
	ExtractedData WellnessData `json:"extracted_data"`
	Confidence    float64      `json:"confidence"`
	Reasoning     string       `json:"reasoning,omitempty"`
}
