// Package models defines the wellness record collected by the interview.
package models

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// JSON field names of WellnessData.
const (
	FieldAge        = "age"
	FieldGender     = "gender"
	FieldOccupation = "occupation"

	FieldWeightKg               = "weight_kg"
	FieldHeightCm               = "height_cm"
	FieldBMI                    = "bmi"
	FieldRestingHeartRate       = "resting_heart_rate"
	FieldBloodPressureSystolic  = "blood_pressure_systolic"
	FieldBloodPressureDiastolic = "blood_pressure_diastolic"

	FieldActivityLevel       = "activity_level"
	FieldExerciseDaysPerWeek = "exercise_days_per_week"
	FieldSleepHours          = "sleep_hours"
	FieldDietType            = "diet_type"
	FieldSmoker              = "smoker"
	FieldAlcoholFrequency    = "alcohol_frequency"
	FieldStressLevel         = "stress_level"

	FieldMedicalConditions = "medical_conditions"
	FieldMedications       = "medications"
	FieldAllergies         = "allergies"
	FieldInjuries          = "injuries"
	FieldFamilyHistory     = "family_history"

	FieldPrimaryGoal    = "primary_goal"
	FieldSecondaryGoals = "secondary_goals"
	FieldTargetWeightKg = "target_weight_kg"
	FieldTimeline       = "timeline"
	FieldMotivation     = "motivation"
)

// allFields lists every WellnessData field in declaration order.
var allFields = []string{
	FieldAge, FieldGender, FieldOccupation,
	FieldWeightKg, FieldHeightCm, FieldBMI, FieldRestingHeartRate,
	FieldBloodPressureSystolic, FieldBloodPressureDiastolic,
	FieldActivityLevel, FieldExerciseDaysPerWeek, FieldSleepHours, FieldDietType,
	FieldSmoker, FieldAlcoholFrequency, FieldStressLevel,
	FieldMedicalConditions, FieldMedications, FieldAllergies, FieldInjuries, FieldFamilyHistory,
	FieldPrimaryGoal, FieldSecondaryGoals, FieldTargetWeightKg, FieldTimeline, FieldMotivation,
}

// Enumerated values accepted for the string-enum fields.
var (
	GenderValues           = []string{"male", "female", "non_binary", "other", "prefer_not_to_say"}
	ActivityLevelValues    = []string{"sedentary", "light", "moderate", "active", "very_active"}
	AlcoholFrequencyValues = []string{"never", "occasionally", "weekly", "daily"}
)

// WellnessData is the structured record collected over the interview.
// Every field is optional; a nil pointer or empty list means "not yet known".
type WellnessData struct {
	// Demographics
	Age        *int    `json:"age,omitempty"`
	Gender     *string `json:"gender,omitempty"`
	Occupation *string `json:"occupation,omitempty"`

	// Biometrics
	WeightKg               *float64 `json:"weight_kg,omitempty"`
	HeightCm               *float64 `json:"height_cm,omitempty"`
	BMI                    *float64 `json:"bmi,omitempty"` // derived on finalize
	RestingHeartRate       *int     `json:"resting_heart_rate,omitempty"`
	BloodPressureSystolic  *int     `json:"blood_pressure_systolic,omitempty"`
	BloodPressureDiastolic *int     `json:"blood_pressure_diastolic,omitempty"`

	// Lifestyle
	ActivityLevel       *string  `json:"activity_level,omitempty"`
	ExerciseDaysPerWeek *int     `json:"exercise_days_per_week,omitempty"`
	SleepHours          *float64 `json:"sleep_hours,omitempty"`
	DietType            *string  `json:"diet_type,omitempty"`
	Smoker              *bool    `json:"smoker,omitempty"`
	AlcoholFrequency    *string  `json:"alcohol_frequency,omitempty"`
	StressLevel         *int     `json:"stress_level,omitempty"` // 1-10

	// Medical history
	MedicalConditions []string `json:"medical_conditions,omitempty"`
	Medications       []string `json:"medications,omitempty"`
	Allergies         []string `json:"allergies,omitempty"`
	Injuries          []string `json:"injuries,omitempty"`
	FamilyHistory     []string `json:"family_history,omitempty"`

	// Goals
	PrimaryGoal    *string  `json:"primary_goal,omitempty"`
	SecondaryGoals []string `json:"secondary_goals,omitempty"`
	TargetWeightKg *float64 `json:"target_weight_kg,omitempty"`
	Timeline       *string  `json:"timeline,omitempty"`
	Motivation     *string  `json:"motivation,omitempty"`
}

// AllFields returns every WellnessData field name in declaration order.
func AllFields() []string {
	return append([]string(nil), allFields...)
}

// PresentFields returns the names of the fields that carry a value, in
// declaration order.
func (w WellnessData) PresentFields() []string {
	set := w.fieldSet()
	present := make([]string, 0, len(set))
	for _, name := range allFields {
		if set[name] {
			present = append(present, name)
		}
	}
	return present
}

// FieldCount returns the number of fields that carry a value.
func (w WellnessData) FieldCount() int {
	return len(w.fieldSet())
}

// HasField reports whether the named field carries a value.
func (w WellnessData) HasField(name string) bool {
	return w.fieldSet()[name]
}

// IsEmpty reports whether no field carries a value.
func (w WellnessData) IsEmpty() bool {
	return w.FieldCount() == 0
}

// fieldSet relies on omitempty: only present fields survive marshaling.
func (w WellnessData) fieldSet() map[string]bool {
	data, err := json.Marshal(w)
	if err != nil {
		return map[string]bool{}
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return map[string]bool{}
	}
	set := make(map[string]bool, len(raw))
	for k := range raw {
		set[k] = true
	}
	return set
}

// Merge returns w with every present field of patch written over it
// (RFC 7386 merge patch; last write wins per field, lists are replaced).
func (w WellnessData) Merge(patch WellnessData) (WellnessData, error) {
	base, err := json.Marshal(w)
	if err != nil {
		return WellnessData{}, fmt.Errorf("failed to marshal base data: %w", err)
	}
	delta, err := json.Marshal(patch)
	if err != nil {
		return WellnessData{}, fmt.Errorf("failed to marshal patch data: %w", err)
	}
	merged, err := jsonpatch.MergePatch(base, delta)
	if err != nil {
		return WellnessData{}, fmt.Errorf("failed to apply merge patch: %w", err)
	}
	var out WellnessData
	if err := json.Unmarshal(merged, &out); err != nil {
		return WellnessData{}, fmt.Errorf("failed to unmarshal merged data: %w", err)
	}
	return out, nil
}

// Clone returns a deep copy of w.
func (w WellnessData) Clone() WellnessData {
	out, err := WellnessData{}.Merge(w)
	if err != nil {
		return w
	}
	return out
}

// ToJSON serializes the record to a JSON string.
func (w WellnessData) ToJSON() (string, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Ptr returns a pointer to v. Handy for building WellnessData literals.
func Ptr[T any](v T) *T {
	return &v
}
