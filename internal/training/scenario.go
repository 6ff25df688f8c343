package training

import "sort"

type Scenario struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Description        string   `json:"description"`
	AvatarName         string   `json:"avatar_name"`
	PersonaDescription string   `json:"persona_description"`
	Persona            Persona  `json:"persona"`
	TargetMood         string   `json:"target_mood"`
	Objectives         []string `json:"objectives"`
	Difficulty         string   `json:"difficulty"`
	EstimatedMinutes   int      `json:"estimated_minutes"`
}

// ScenarioDetails lets a caller override the catalog persona for one session.
type ScenarioDetails struct {
	Persona            *Persona `json:"persona,omitempty"`
	PersonaDescription string   `json:"persona_description,omitempty"`
}

var catalog = map[string]Scenario{
	"dr_sakura_initial_consultation": {
		ID:                 "dr_sakura_initial_consultation",
		Name:               "Initial Consultation",
		Description:        "A first visit where the patient has just completed the online risk assessment and wants to understand her results.",
		AvatarName:         "Dr. Sakura",
		PersonaDescription: "Maria Santos, 42, office manager, recently noticed changes during a self-exam and is unsure whether to worry.",
		Persona:            Persona{Name: "Maria Santos", Age: 42, Background: "office manager, recently noticed changes during a self-exam"},
		TargetMood:         "anxious",
		Objectives: []string{
			"Build rapport and acknowledge concerns",
			"Explain the screening options",
			"Agree on a next step with a clinician",
		},
		Difficulty:       "beginner",
		EstimatedMinutes: 10,
	},
	"dr_sakura_family_history": {
		ID:                 "dr_sakura_family_history",
		Name:               "Family History Discussion",
		Description:        "The patient's mother and aunt had breast cancer. She wants to know what that means for her own risk.",
		AvatarName:         "Dr. Sakura",
		PersonaDescription: "Jennifer Lee, 35, teacher whose mother was diagnosed at 48, worried about genetic testing.",
		Persona:            Persona{Name: "Jennifer Lee", Age: 35, Background: "teacher, mother diagnosed at 48"},
		TargetMood:         "worried",
		Objectives: []string{
			"Collect the family history in detail",
			"Explain genetic counselling and BRCA testing",
			"Outline an enhanced screening plan",
		},
		Difficulty:       "intermediate",
		EstimatedMinutes: 15,
	},
	"dr_sakura_screening_anxiety": {
		ID:                 "dr_sakura_screening_anxiety",
		Name:               "Screening Anxiety",
		Description:        "The patient has avoided her mammogram for two years because the last one was painful and frightening.",
		AvatarName:         "Dr. Sakura",
		PersonaDescription: "a 51 year old nurse who has postponed her mammogram twice.",
		Persona:            Persona{Age: 51, Background: "nurse, postponed her mammogram twice"},
		TargetMood:         "fearful",
		Objectives: []string{
			"Normalize the fear of screening",
			"Describe what happens during a mammogram",
			"Agree on a booking date",
		},
		Difficulty:       "intermediate",
		EstimatedMinutes: 12,
	},
	"dr_sakura_lifestyle_followup": {
		ID:                 "dr_sakura_lifestyle_followup",
		Name:               "Lifestyle Follow-up",
		Description:        "A follow-up about everyday habits that influence long-term breast health.",
		AvatarName:         "Dr. Sakura",
		PersonaDescription: "Sarah, 29, software developer who drinks most weekends and rarely exercises.",
		Persona:            Persona{Name: "Sarah", Age: 29, Background: "software developer"},
		TargetMood:         "curious",
		Objectives: []string{
			"Review diet and exercise habits",
			"Discuss alcohol and weight",
			"Set one realistic lifestyle goal",
		},
		Difficulty:       "beginner",
		EstimatedMinutes: 10,
	},
}

func LookupScenario(id string) (Scenario, bool) {
	s, ok := catalog[id]
	if !ok {
		return Scenario{}, false
	}
	s.Objectives = append([]string(nil), s.Objectives...)
	return s, true
}

// Scenarios returns the catalog ordered by id.
func Scenarios() []Scenario {
	out := make([]Scenario, 0, len(catalog))
	for id := range catalog {
		s, _ := LookupScenario(id)
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
