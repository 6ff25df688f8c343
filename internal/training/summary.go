package training

import (
	"fmt"
	"strings"
	"time"

	units "github.com/docker/go-units"
)

var topicAchievements = map[string]string{
	"anxiety":        "Acknowledged the patient's emotional concerns",
	"technique":      "Explained self-examination technique",
	"family_history": "Explored the patient's family history",
	"screening":      "Discussed screening options",
	"lifestyle":      "Covered lifestyle risk factors",
}

var topicLessons = map[string]string{
	"anxiety":        "Validate fear before giving information",
	"technique":      "Describe self-exam steps in the order the patient will do them",
	"family_history": "Ask about age at diagnosis when a relative is mentioned",
	"screening":      "Tie screening advice to the patient's age and last screening date",
	"lifestyle":      "Agree on one realistic habit change rather than many",
}

// buildSummary derives the completion summary from session state only, so it
// works without loading the message ledger.
func buildSummary(s *Session, elapsed time.Duration) *Summary {
	sum := &Summary{
		MessageCount:    s.TotalMessages,
		DurationSeconds: int64(elapsed / time.Second),
		DurationText:    units.HumanDuration(elapsed),
		AverageQuality:  s.Metrics.AverageQuality,
	}

	name := s.ScenarioName
	if name == "" {
		name = s.ScenarioID
	}
	sum.Achievements = append(sum.Achievements, fmt.Sprintf("Completed the %s scenario", name))
	if s.TotalMessages >= 6 {
		sum.Achievements = append(sum.Achievements, fmt.Sprintf("Sustained a conversation of %d messages", s.TotalMessages))
	}
	for _, t := range s.Context.TopicsCovered {
		if a, ok := topicAchievements[t]; ok {
			sum.Achievements = append(sum.Achievements, a)
		}
		if l, ok := topicLessons[t]; ok {
			sum.LearningPoints = append(sum.LearningPoints, l)
		}
	}

	for _, o := range s.Context.RemainingObjectives {
		sum.ImprovementAreas = append(sum.ImprovementAreas, "Objective not reached: "+o)
	}
	if s.Metrics.ResponseCount > 0 && s.Metrics.AverageQuality < 85 {
		sum.ImprovementAreas = append(sum.ImprovementAreas, "Give more specific, personalised answers")
	}
	if s.Metrics.ResponseCount == 0 {
		sum.ImprovementAreas = append(sum.ImprovementAreas, "Exchange at least one full question and answer before finishing")
	}
	if len(sum.ImprovementAreas) == 0 {
		sum.ImprovementAreas = append(sum.ImprovementAreas, "Keep responses concise while staying warm")
	}

	if len(s.Context.RemainingObjectives) > 0 {
		sum.Recommendations = append(sum.Recommendations,
			fmt.Sprintf("Repeat %s focusing on: %s", name, strings.Join(s.Context.RemainingObjectives, "; ")))
	}
	if next, ok := nextScenario(s.ScenarioID); ok {
		sum.Recommendations = append(sum.Recommendations, fmt.Sprintf("Try the %s scenario next", next.Name))
	}
	sum.Recommendations = append(sum.Recommendations, "Review the conversation and note one phrase to reuse")
	return sum
}

func nextScenario(current string) (Scenario, bool) {
	all := Scenarios()
	for i, sc := range all {
		if sc.ID == current && len(all) > 1 {
			return all[(i+1)%len(all)], true
		}
	}
	return Scenario{}, false
}
