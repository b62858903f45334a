package flow

import (
	"testing"
	"time"

	"github.com/BTreeMap/WellnessPipe/internal/models"
)

func TestFinalize_ComputesBMI(t *testing.T) {
	progress := models.NewStageProgress(time.Now())
	progress.StageData[models.StageBiometrics] = models.WellnessData{
		WeightKg: models.Ptr(70.0),
		HeightCm: models.Ptr(175.0),
	}

	result, err := Finalize(progress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.BMI == nil || *result.BMI != 22.9 {
		t.Errorf("expected bmi 22.9, got %v", result.BMI)
	}
}

func TestFinalize_BMIAbsentWithoutBothMeasures(t *testing.T) {
	for name, data := range map[string]models.WellnessData{
		"weight only": {WeightKg: models.Ptr(70.0)},
		"height only": {HeightCm: models.Ptr(175.0), BMI: models.Ptr(30.0)},
	} {
		t.Run(name, func(t *testing.T) {
			progress := models.NewStageProgress(time.Now())
			progress.StageData[models.StageBiometrics] = data
			result, err := Finalize(progress)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.BMI != nil {
				t.Errorf("expected no bmi, got %v", *result.BMI)
			}
		})
	}
}

func TestFinalize_MergeMonotonicity(t *testing.T) {
	progress := models.NewStageProgress(time.Now())
	progress.StageData[models.StageDemographics] = models.WellnessData{
		Age:      models.Ptr(28),
		WeightKg: models.Ptr(65.0),
	}
	progress.StageData[models.StageBiometrics] = models.WellnessData{
		WeightKg:         models.Ptr(66.5),
		RestingHeartRate: models.Ptr(60),
	}
	// Data on the active, unfinished stage is included.
	progress.CurrentStage = models.StageLifestyle
	progress.StageData[models.StageLifestyle] = models.WellnessData{
		Smoker:         models.Ptr(false),
		SecondaryGoals: []string{"sleep better"},
	}

	result, err := Finalize(progress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, stage := range models.AllStages() {
		for _, field := range progress.StageData[stage].PresentFields() {
			if !result.HasField(field) {
				t.Errorf("field %s from %s was dropped", field, stage)
			}
		}
	}
	if *result.WeightKg != 66.5 {
		t.Errorf("expected the later stage to win the collision, got %v", *result.WeightKg)
	}
	if result.Smoker == nil || *result.Smoker {
		t.Error("expected smoker=false to survive the merge")
	}
	if progress.StageData[models.StageDemographics].WeightKg == nil || *progress.StageData[models.StageDemographics].WeightKg != 65 {
		t.Error("expected Finalize not to mutate stage data")
	}
}

func TestFinalize_Empty(t *testing.T) {
	result, err := Finalize(models.NewStageProgress(time.Now()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsEmpty() {
		t.Errorf("expected an empty record, got %v", result.PresentFields())
	}
}
