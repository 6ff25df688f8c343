package training

import (
	"fmt"
	"strings"
	"testing"
)

// wordCounter counts whitespace separated words.
type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func promptFixture(t *testing.T) PromptInput {
	t.Helper()
	sc, ok := LookupScenario("dr_sakura_initial_consultation")
	if !ok {
		t.Fatalf("scenario missing")
	}
	sess := &Session{
		ID:         "s1",
		ScenarioID: sc.ID,
		Persona:    sc.Persona,
		Context: SessionContext{
			Phase:               "exploration",
			TopicsCovered:       []string{"anxiety"},
			RemainingObjectives: []string{"Explain the screening options"},
			PatientMood:         "anxious",
		},
	}
	return PromptInput{
		Scenario: sc,
		Session:  sess,
		Memory: TrainingMemory{
			TotalSessions:  2,
			AverageQuality: 80,
			ScenarioNames:  []string{"Initial Consultation"},
			LearningPoints: []string{"Validate fear before giving information"},
		},
		History: []Message{
			{Role: RoleSystem, Content: "Training scenario started: Initial Consultation", Sequence: 1},
			{Role: RoleCustomer, Content: "Hello doctor", Sequence: 2},
			{Role: RoleAvatar, Content: "Hello Maria, it's lovely to meet you.", Sequence: 3},
		},
		Incoming: "What happens at a mammogram?",
	}
}

func TestBuild_SectionOrder(t *testing.T) {
	b := NewPromptBuilder(10, 0, nil)
	out, err := b.Build(promptFixture(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	sections := []string{
		"You are Dr. Sakura",
		"BUSINESS CONTEXT:",
		"SCENARIO: Initial Consultation",
		"PATIENT:\nName: Maria Santos",
		"TRAINING MEMORY:",
		"AVOID REPEATING:",
		"RECENT CONVERSATION:",
		"PATIENT'S NEW MESSAGE:\nWhat happens at a mammogram?",
		"Reply as Dr. Sakura speaking directly to Maria Santos.",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(out, s)
		if idx < 0 {
			t.Fatalf("missing section %q in:\n%s", s, out)
		}
		if idx <= last {
			t.Fatalf("section %q out of order", s)
		}
		last = idx
	}
	if !strings.Contains(out, "Use 80 to 150 words") {
		t.Fatalf("missing word range:\n%s", out)
	}
	if strings.Contains(out, "Training scenario started") {
		t.Fatalf("system messages must not appear as turns:\n%s", out)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	b := NewPromptBuilder(10, 0, nil)
	in := promptFixture(t)
	first, err := b.Build(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := b.Build(in)
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if again != first {
			t.Fatalf("output changed between builds")
		}
	}
}

func TestBuild_OmitsEmptyMemory(t *testing.T) {
	in := promptFixture(t)
	in.Memory = TrainingMemory{}
	in.History = nil
	out, err := NewPromptBuilder(10, 0, nil).Build(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, s := range []string{"TRAINING MEMORY:", "AVOID REPEATING:", "RECENT CONVERSATION:"} {
		if strings.Contains(out, s) {
			t.Fatalf("unexpected section %q", s)
		}
	}
}

func TestBuild_AntiRepetitionKeepsLastThree(t *testing.T) {
	in := promptFixture(t)
	in.History = nil
	for i := 1; i <= 5; i++ {
		in.History = append(in.History,
			Message{Role: RoleCustomer, Content: fmt.Sprintf("question %d", i)},
			Message{Role: RoleAvatar, Content: fmt.Sprintf("answer number %d", i)},
		)
	}
	out, err := NewPromptBuilder(2, 0, nil).Build(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	block := out[strings.Index(out, "AVOID REPEATING:"):strings.Index(out, "RECENT CONVERSATION:")]
	for _, want := range []string{`"answer number 3"`, `"answer number 4"`, `"answer number 5"`} {
		if !strings.Contains(block, want) {
			t.Fatalf("anti-repetition block missing %s:\n%s", want, block)
		}
	}
	if strings.Contains(block, "answer number 2") {
		t.Fatalf("anti-repetition block has too many entries:\n%s", block)
	}
}

func TestBuild_WindowAndTokenBudget(t *testing.T) {
	in := promptFixture(t)
	in.History = nil
	for i := 1; i <= 6; i++ {
		in.History = append(in.History, Message{Role: RoleCustomer, Content: fmt.Sprintf("turn%d alpha beta gamma", i)})
	}

	out, err := NewPromptBuilder(4, 0, nil).Build(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(out, "turn2 ") || !strings.Contains(out, "turn3 ") {
		t.Fatalf("window of 4 not applied:\n%s", out)
	}

	// each line is 7 words; a budget of 15 keeps two lines
	out, err = NewPromptBuilder(4, 15, wordCounter{}).Build(in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(out, "turn4 ") || !strings.Contains(out, "turn5 ") || !strings.Contains(out, "turn6 ") {
		t.Fatalf("token budget not applied:\n%s", out)
	}
}

func TestExtractPersonaName(t *testing.T) {
	cases := map[string]string{
		"Maria Santos, 42, office manager":              "Maria Santos",
		"Jennifer Lee, 35, teacher":                     "Jennifer Lee",
		"a 51 year old nurse":                           "Linda",
		"The patient is 35 and worried":                 "Jennifer",
		"She mentions her friend sarah often":           "Sarah",
		"retired, lives alone":                          patientPlaceholder,
		"":                                              patientPlaceholder,
		"Anne-Marie Dubois is anxious about her results": "Anne-Marie",
		"José García, 51, retired nurse":                 "José García",
		"Zoë Müller, 30":                                 "Zoë Müller",
		"Émilie":                                         "Émilie",
	}
	for in, want := range cases {
		if got := ExtractPersonaName(in); got != want {
			t.Errorf("ExtractPersonaName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResolvePatientName_PrefersStructuredPersona(t *testing.T) {
	if got := ResolvePatientName(Persona{Name: "Grace"}, "Maria Santos, 42"); got != "Grace" {
		t.Fatalf("expected Grace, got %q", got)
	}
	if got := ResolvePatientName(Persona{}, "Maria Santos, 42"); got != "Maria Santos" {
		t.Fatalf("expected Maria Santos, got %q", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("  short  ", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
	if got := truncateRunes("ääääää", 3); got != "äää..." {
		t.Fatalf("got %q", got)
	}
}
