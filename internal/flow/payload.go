package flow

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/BTreeMap/WellnessPipe/internal/models"
	"github.com/bytedance/sonic"
)

// maxFreeTextLength bounds free-text fields accepted from the model.
const maxFreeTextLength = 200

// extractionPayload is the response contract of the extraction capability.
type extractionPayload struct {
	ExtractedData map[string]interface{} `json:"extracted_data"`
	Confidence    interface{}            `json:"confidence"`
	Reasoning     string                 `json:"reasoning"`
}

// locateJSONObject returns the first balanced {...} substring of text.
// Braces inside JSON strings are ignored.
func locateJSONObject(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		if end, ok := matchBrace(text, start); ok {
			return text[start : end+1], true
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing the one at start.
func matchBrace(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// parseExtractionResponse turns a raw capability response into an
// ExtractionResult. It returns ErrExtractionMalformed on any contract violation.
func parseExtractionResponse(stage models.Stage, raw string) (models.ExtractionResult, error) {
	object, ok := locateJSONObject(raw)
	if !ok {
		return models.ExtractionResult{}, fmt.Errorf("%w: no JSON object in response", ErrExtractionMalformed)
	}

	var payload extractionPayload
	if err := sonic.UnmarshalString(object, &payload); err != nil {
		return models.ExtractionResult{}, fmt.Errorf("%w: %v", ErrExtractionMalformed, err)
	}
	if payload.ExtractedData == nil {
		return models.ExtractionResult{}, fmt.Errorf("%w: missing extracted_data object", ErrExtractionMalformed)
	}
	confidence, ok := payload.Confidence.(float64)
	if !ok {
		return models.ExtractionResult{}, fmt.Errorf("%w: confidence is not numeric", ErrExtractionMalformed)
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 100 {
		return models.ExtractionResult{}, fmt.Errorf("%w: confidence %v outside [0, 100]", ErrExtractionMalformed, confidence)
	}

	data, dropped := sanitizeExtractedData(payload.ExtractedData)
	if len(dropped) > 0 {
		slog.Warn("Extractor.parse: dropped invalid fields", "stage", stage, "fields", dropped)
	}

	return models.ExtractionResult{
		Stage:         stage,
		ExtractedData: data,
		Confidence:    confidence,
		Reasoning:     strings.TrimSpace(payload.Reasoning),
	}, nil
}

// fieldSetter stores a decoded value on a record, reporting whether it was accepted.
type fieldSetter func(v interface{}, w *models.WellnessData) bool

var fieldSetters = map[string]fieldSetter{
	models.FieldAge:        intField(1, 120, func(w *models.WellnessData, v int) { w.Age = &v }),
	models.FieldGender:     enumField(models.GenderValues, genderAliases, func(w *models.WellnessData, v string) { w.Gender = &v }),
	models.FieldOccupation: textField(func(w *models.WellnessData, v string) { w.Occupation = &v }),

	models.FieldWeightKg:               floatField(20, 400, func(w *models.WellnessData, v float64) { w.WeightKg = &v }),
	models.FieldHeightCm:               floatField(50, 260, func(w *models.WellnessData, v float64) { w.HeightCm = &v }),
	models.FieldRestingHeartRate:       intField(25, 250, func(w *models.WellnessData, v int) { w.RestingHeartRate = &v }),
	models.FieldBloodPressureSystolic:  intField(60, 260, func(w *models.WellnessData, v int) { w.BloodPressureSystolic = &v }),
	models.FieldBloodPressureDiastolic: intField(30, 180, func(w *models.WellnessData, v int) { w.BloodPressureDiastolic = &v }),

	models.FieldActivityLevel:       enumField(models.ActivityLevelValues, nil, func(w *models.WellnessData, v string) { w.ActivityLevel = &v }),
	models.FieldExerciseDaysPerWeek: intField(0, 7, func(w *models.WellnessData, v int) { w.ExerciseDaysPerWeek = &v }),
	models.FieldSleepHours:          floatField(0, 24, func(w *models.WellnessData, v float64) { w.SleepHours = &v }),
	models.FieldDietType:            textField(func(w *models.WellnessData, v string) { w.DietType = &v }),
	models.FieldSmoker:              boolField(func(w *models.WellnessData, v bool) { w.Smoker = &v }),
	models.FieldAlcoholFrequency:    enumField(models.AlcoholFrequencyValues, alcoholAliases, func(w *models.WellnessData, v string) { w.AlcoholFrequency = &v }),
	models.FieldStressLevel:         intField(1, 10, func(w *models.WellnessData, v int) { w.StressLevel = &v }),

	models.FieldMedicalConditions: listField(func(w *models.WellnessData, v []string) { w.MedicalConditions = v }),
	models.FieldMedications:       listField(func(w *models.WellnessData, v []string) { w.Medications = v }),
	models.FieldAllergies:         listField(func(w *models.WellnessData, v []string) { w.Allergies = v }),
	models.FieldInjuries:          listField(func(w *models.WellnessData, v []string) { w.Injuries = v }),
	models.FieldFamilyHistory:     listField(func(w *models.WellnessData, v []string) { w.FamilyHistory = v }),

	models.FieldPrimaryGoal:    textField(func(w *models.WellnessData, v string) { w.PrimaryGoal = &v }),
	models.FieldSecondaryGoals: listField(func(w *models.WellnessData, v []string) { w.SecondaryGoals = v }),
	models.FieldTargetWeightKg: floatField(20, 400, func(w *models.WellnessData, v float64) { w.TargetWeightKg = &v }),
	models.FieldTimeline:       textField(func(w *models.WellnessData, v string) { w.Timeline = &v }),
	models.FieldMotivation:     textField(func(w *models.WellnessData, v string) { w.Motivation = &v }),
}

var genderAliases = map[string]string{
	"m": "male", "man": "male", "f": "female", "woman": "female",
	"nonbinary": "non_binary", "nb": "non_binary", "enby": "non_binary",
}

var alcoholAliases = map[string]string{
	"none": "never", "rarely": "occasionally", "sometimes": "occasionally",
	"socially": "occasionally", "every_day": "daily",
}

// sanitizeExtractedData converts the model's field map into a record.
// Null values and empty lists mean "not mentioned" and are skipped silently; values that fail
// validation, unknown keys and the derived bmi are returned as dropped.
func sanitizeExtractedData(raw map[string]interface{}) (models.WellnessData, []string) {
	var data models.WellnessData
	var dropped []string
	for key, value := range raw {
		if value == nil {
			continue
		}
		if list, ok := value.([]interface{}); ok && len(list) == 0 {
			continue
		}
		setter, ok := fieldSetters[key]
		if !ok || !setter(value, &data) {
			dropped = append(dropped, key)
		}
	}
	slices.Sort(dropped)
	return data, dropped
}

func numberOf(v interface{}) (float64, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func intField(lo, hi int, set func(*models.WellnessData, int)) fieldSetter {
	return func(v interface{}, w *models.WellnessData) bool {
		f, ok := numberOf(v)
		if !ok {
			return false
		}
		n := int(math.Round(f))
		if n < lo || n > hi {
			return false
		}
		set(w, n)
		return true
	}
}

func floatField(lo, hi float64, set func(*models.WellnessData, float64)) fieldSetter {
	return func(v interface{}, w *models.WellnessData) bool {
		f, ok := numberOf(v)
		if !ok || f < lo || f > hi {
			return false
		}
		set(w, f)
		return true
	}
}

func textField(set func(*models.WellnessData, string)) fieldSetter {
	return func(v interface{}, w *models.WellnessData) bool {
		s, ok := v.(string)
		s = strings.TrimSpace(s)
		if !ok || s == "" || len(s) > maxFreeTextLength {
			return false
		}
		set(w, s)
		return true
	}
}

func normalizeEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

func enumField(allowed []string, aliases map[string]string, set func(*models.WellnessData, string)) fieldSetter {
	return func(v interface{}, w *models.WellnessData) bool {
		s, ok := v.(string)
		if !ok {
			return false
		}
		s = normalizeEnum(s)
		if alias, ok := aliases[s]; ok {
			s = alias
		}
		if !slices.Contains(allowed, s) {
			return false
		}
		set(w, s)
		return true
	}
}

func boolField(set func(*models.WellnessData, bool)) fieldSetter {
	return func(v interface{}, w *models.WellnessData) bool {
		switch b := v.(type) {
		case bool:
			set(w, b)
			return true
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "true", "yes":
				set(w, true)
				return true
			case "false", "no":
				set(w, false)
				return true
			}
		}
		return false
	}
}

func listField(set func(*models.WellnessData, []string)) fieldSetter {
	return func(v interface{}, w *models.WellnessData) bool {
		var items []interface{}
		switch t := v.(type) {
		case []interface{}:
			items = t
		case string:
			items = []interface{}{t}
		default:
			return false
		}
		var out []string
		for _, item := range items {
			s, ok := item.(string)
			s = strings.TrimSpace(s)
			if !ok || s == "" || len(s) > maxFreeTextLength {
				continue
			}
			if !slices.ContainsFunc(out, func(existing string) bool { return strings.EqualFold(existing, s) }) {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return false
		}
		set(w, out)
		return true
	}
}
