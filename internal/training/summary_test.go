package training

import (
	"strings"
	"testing"
	"time"
)

func TestBuildSummary(t *testing.T) {
	s := &Session{
		ScenarioID:    "dr_sakura_initial_consultation",
		ScenarioName:  "Initial Consultation",
		TotalMessages: 7,
		Context: SessionContext{
			TopicsCovered:       []string{"anxiety", "screening"},
			RemainingObjectives: []string{"Agree on a next step with a clinician"},
		},
		Metrics: Metrics{AverageQuality: 75, ResponseCount: 3},
	}
	sum := buildSummary(s, 12*time.Minute)

	if sum.MessageCount != 7 || sum.DurationSeconds != 720 {
		t.Fatalf("unexpected counters: %+v", sum)
	}
	if sum.DurationText != "12 minutes" {
		t.Fatalf("unexpected duration text %q", sum.DurationText)
	}
	if len(sum.Achievements) != 4 {
		t.Fatalf("expected 4 achievements, got %v", sum.Achievements)
	}
	if len(sum.LearningPoints) != 2 {
		t.Fatalf("expected 2 learning points, got %v", sum.LearningPoints)
	}
	if !strings.Contains(strings.Join(sum.ImprovementAreas, "|"), "Agree on a next step") {
		t.Fatalf("open objective not listed: %v", sum.ImprovementAreas)
	}
	if !strings.Contains(strings.Join(sum.Recommendations, "|"), "Lifestyle Follow-up") {
		t.Fatalf("expected next scenario recommendation: %v", sum.Recommendations)
	}
}

func TestBuildSummary_NoResponses(t *testing.T) {
	sum := buildSummary(&Session{ScenarioID: "x"}, time.Second)
	if len(sum.ImprovementAreas) != 1 || !strings.Contains(sum.ImprovementAreas[0], "at least one") {
		t.Fatalf("unexpected improvement areas %v", sum.ImprovementAreas)
	}
	if len(sum.Achievements) != 1 || !strings.Contains(sum.Achievements[0], "x") {
		t.Fatalf("unexpected achievements %v", sum.Achievements)
	}
}

func TestScenarios_SortedAndComplete(t *testing.T) {
	all := Scenarios()
	if len(all) != 4 {
		t.Fatalf("expected 4 scenarios, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Fatalf("scenarios not sorted: %s before %s", all[i-1].ID, all[i].ID)
		}
	}
	for _, sc := range all {
		if sc.Name == "" || sc.AvatarName == "" || len(sc.Objectives) == 0 {
			t.Fatalf("incomplete scenario %+v", sc)
		}
	}
}
