package flow

import (
	"fmt"
	"math"

	"github.com/BTreeMap/WellnessPipe/internal/models"
)

// Finalize merges every stage's data, in stage order, into one record and
// derives the body-mass index when weight and height are both known.
func Finalize(progress *models.StageProgress) (models.WellnessData, error) {
	var result models.WellnessData
	for _, stage := range models.AllStages() {
		data, ok := progress.StageData[stage]
		if !ok {
			continue
		}
		merged, err := result.Merge(data)
		if err != nil {
			return models.WellnessData{}, fmt.Errorf("finalize stage %s: %w", stage, err)
		}
		result = merged
	}

	result.BMI = nil
	if bmi, ok := computeBMI(result.WeightKg, result.HeightCm); ok {
		result.BMI = &bmi
	}
	return result, nil
}

// computeBMI returns weight / height(m)^2 rounded to one decimal.
func computeBMI(weightKg, heightCm *float64) (float64, bool) {
	if weightKg == nil || heightCm == nil || *heightCm <= 0 {
		return 0, false
	}
	meters := *heightCm / 100
	return math.Round(*weightKg/(meters*meters)*10) / 10, true
}
