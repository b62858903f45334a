// Package models defines the stage table and the data structures shared by the
// WellnessPipe interview engine, its stores and its API.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// Stage identifies one topic segment of the wellness interview.
type Stage string

// Stage constants, in interview order.
const (
	StageDemographics Stage = "demographics"
	StageBiometrics   Stage = "biometrics"
	StageLifestyle    Stage = "lifestyle"
	StageMedical      Stage = "medical"
	StageGoals        Stage = "goals"
	// StageCompleted is terminal and absorbing.
	StageCompleted Stage = "completed"
)

// ErrInvalidStage is returned when a stage name is not part of the table.
var ErrInvalidStage = errors.New("invalid stage")

// stageDefinition is one row of the stage table.
type stageDefinition struct {
	stage     Stage
	successor Stage
	fields    []string
}

// stageTable is the ordered, immutable stage definition table.
var stageTable = []stageDefinition{
	{
		stage:     StageDemographics,
		successor: StageBiometrics,
		fields:    []string{FieldAge, FieldGender, FieldOccupation},
	},
	{
		stage:     StageBiometrics,
		successor: StageLifestyle,
		fields: []string{
			FieldWeightKg, FieldHeightCm, FieldRestingHeartRate,
			FieldBloodPressureSystolic, FieldBloodPressureDiastolic,
		},
	},
	{
		stage:     StageLifestyle,
		successor: StageMedical,
		fields: []string{
			FieldActivityLevel, FieldExerciseDaysPerWeek, FieldSleepHours,
			FieldDietType, FieldSmoker, FieldAlcoholFrequency, FieldStressLevel,
		},
	},
	{
		stage:     StageMedical,
		successor: StageGoals,
		fields: []string{
			FieldMedicalConditions, FieldMedications, FieldAllergies,
			FieldInjuries, FieldFamilyHistory,
		},
	},
	{
		stage:     StageGoals,
		successor: StageCompleted,
		fields: []string{
			FieldPrimaryGoal, FieldSecondaryGoals, FieldTargetWeightKg,
			FieldTimeline, FieldMotivation,
		},
	},
	{
		stage:     StageCompleted,
		successor: StageCompleted,
	},
}

// AllStages returns every stage in interview order, terminal stage last.
func AllStages() []Stage {
	stages := make([]Stage, len(stageTable))
	for i, def := range stageTable {
		stages[i] = def.stage
	}
	return stages
}

// FirstStage returns the stage a new interview starts on.
func FirstStage() Stage {
	return stageTable[0].stage
}

// IsValid reports whether s is part of the stage table.
func (s Stage) IsValid() bool {
	return s.index() >= 0
}

// IsTerminal reports whether s is the absorbing completed stage.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted
}

// Next returns the successor of s. The terminal stage is its own successor.
func (s Stage) Next() Stage {
	i := s.index()
	if i < 0 {
		return StageCompleted
	}
	return stageTable[i].successor
}

// Order returns the position of s in the stage table, or -1 if unknown.
func (s Stage) Order() int {
	return s.index()
}

// Fields returns the JSON field names the stage is meant to acquire.
func (s Stage) Fields() []string {
	i := s.index()
	if i < 0 {
		return nil
	}
	return append([]string(nil), stageTable[i].fields...)
}

// Title returns a human readable stage name.
func (s Stage) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

func (s Stage) index() int {
	for i, def := range stageTable {
		if def.stage == s {
			return i
		}
	}
	return -1
}

// ParseStage maps a stage name (case-insensitive) to a Stage.
func ParseStage(name string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(name)))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStage, name)
	}
	return s, nil
}
