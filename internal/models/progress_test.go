package models

import (
	"testing"
	"time"
)

func TestNewStageProgress(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := NewStageProgress(now)
	if p.CurrentStage != StageDemographics {
		t.Errorf("expected demographics, got %s", p.CurrentStage)
	}
	if len(p.CompletedStages) != 0 || len(p.StageData) != 0 || len(p.MessageHistory) != 0 {
		t.Error("expected empty progress")
	}
	if p.UsedExternalExtraction {
		t.Error("expected extraction flag unset")
	}
	if !p.StartedAt.Equal(now) || !p.LastActiveAt.Equal(now) {
		t.Error("expected timestamps set to creation time")
	}
}

func TestAppendMessageAndTurns(t *testing.T) {
	start := time.Now()
	p := NewStageProgress(start)
	later := start.Add(time.Minute)

	p.AppendMessage(StageDemographics, AssistantUtterance("How old are you?", start))
	p.AppendMessage(StageDemographics, UserUtterance("28", later))

	if got := len(p.History(StageDemographics)); got != 2 {
		t.Fatalf("expected 2 utterances, got %d", got)
	}
	if p.UserTurns(StageDemographics) != 1 {
		t.Errorf("expected 1 user turn, got %d", p.UserTurns(StageDemographics))
	}
	if !p.LastActiveAt.Equal(later) {
		t.Error("expected last active time to follow the newest utterance")
	}
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	p := NewStageProgress(time.Now())
	p.MarkCompleted(StageDemographics)
	p.MarkCompleted(StageDemographics)
	if len(p.CompletedStages) != 1 {
		t.Errorf("expected no duplicates, got %v", p.CompletedStages)
	}
}

func TestConversationContextOrder(t *testing.T) {
	now := time.Now()
	p := NewStageProgress(now)
	p.AppendMessage(StageDemographics, UserUtterance("a1", now))
	p.AppendMessage(StageDemographics, AssistantUtterance("a2", now))
	p.MarkCompleted(StageDemographics)
	p.AppendMessage(StageBiometrics, UserUtterance("b1", now))
	p.MarkCompleted(StageBiometrics)
	p.CurrentStage = StageLifestyle
	p.AppendMessage(StageLifestyle, UserUtterance("c1", now))
	p.AppendMessage(StageLifestyle, UserUtterance("c2", now))

	var got []string
	for _, u := range p.ConversationContext() {
		got = append(got, u.Text)
	}
	want := []string{"a1", "a2", "b1", "c1", "c2"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestProgressCloneAndJSON(t *testing.T) {
	p := NewStageProgress(time.Now().UTC().Truncate(time.Second))
	p.AppendMessage(StageDemographics, UserUtterance("I'm 28", p.StartedAt))
	if err := p.MergeStageData(StageDemographics, WellnessData{Age: Ptr(28)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clone := p.Clone()
	clone.AppendMessage(StageDemographics, UserUtterance("more", p.StartedAt))
	if err := clone.MergeStageData(StageDemographics, WellnessData{Age: Ptr(29)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.History(StageDemographics)) != 1 || *p.StageData[StageDemographics].Age != 28 {
		t.Error("clone mutation leaked into the original")
	}

	raw, err := p.ToJSON()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded StageProgress
	if err := decoded.FromJSON(raw); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.CurrentStage != StageDemographics || *decoded.StageData[StageDemographics].Age != 28 {
		t.Errorf("unexpected decoded progress: %+v", decoded)
	}
}
