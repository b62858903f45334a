package flow

import (
	"github.com/BTreeMap/WellnessPipe/internal/models"
)

// DefaultMaxStageTurns is the number of user turns after which a stage is
// closed regardless of the data collected.
const DefaultMaxStageTurns = 2

// CompletionPolicy decides after each extraction whether the active stage is done.
type CompletionPolicy interface {
	IsComplete(stage models.Stage, data models.WellnessData, messages []models.Utterance) bool
}

// TurnCeilingPolicy closes a stage once it has one user turn and at least one
// present field, or once it reaches MaxTurns user turns.
type TurnCeilingPolicy struct {
	MaxTurns int
}

// NewTurnCeilingPolicy returns the policy with the given ceiling; values
// below one select DefaultMaxStageTurns.
func NewTurnCeilingPolicy(maxTurns int) TurnCeilingPolicy {
	if maxTurns < 1 {
		maxTurns = DefaultMaxStageTurns
	}
	return TurnCeilingPolicy{MaxTurns: maxTurns}
}

// IsComplete implements CompletionPolicy.
func (p TurnCeilingPolicy) IsComplete(stage models.Stage, data models.WellnessData, messages []models.Utterance) bool {
	turns := models.CountUserTurns(messages)
	if turns >= ceiling(p.MaxTurns) {
		return true
	}
	return turns >= 1 && !data.IsEmpty()
}

// RequiredFieldsPolicy closes a stage once every field in its required list is
// present, or once it reaches MaxTurns user turns.
type RequiredFieldsPolicy struct {
	MaxTurns int
	Required map[models.Stage][]string
}

// DefaultRequiredFields lists the fields a stage needs under RequiredFieldsPolicy.
func DefaultRequiredFields() map[models.Stage][]string {
	return map[models.Stage][]string{
		models.StageDemographics: {models.FieldAge, models.FieldGender},
		models.StageBiometrics:   {models.FieldWeightKg, models.FieldHeightCm},
		models.StageLifestyle:    {models.FieldActivityLevel, models.FieldSleepHours},
		models.StageMedical:      {models.FieldMedicalConditions},
		models.StageGoals:        {models.FieldPrimaryGoal},
	}
}

// NewRequiredFieldsPolicy returns the policy with the default required field
// lists.
func NewRequiredFieldsPolicy(maxTurns int) RequiredFieldsPolicy {
	if maxTurns < 1 {
		maxTurns = DefaultMaxStageTurns
	}
	return RequiredFieldsPolicy{MaxTurns: maxTurns, Required: DefaultRequiredFields()}
}

// IsComplete implements CompletionPolicy.
func (p RequiredFieldsPolicy) IsComplete(stage models.Stage, data models.WellnessData, messages []models.Utterance) bool {
	turns := models.CountUserTurns(messages)
	if turns >= ceiling(p.MaxTurns) {
		return true
	}
	if turns == 0 {
		return false
	}
	required := p.Required[stage]
	if len(required) == 0 {
		return !data.IsEmpty()
	}
	for _, field := range required {
		if !data.HasField(field) {
			return false
		}
	}
	return true
}

func ceiling(maxTurns int) int {
	if maxTurns < 1 {
		return DefaultMaxStageTurns
	}
	return maxTurns
}
