package training

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tmc/langchaingo/prompts"
)

const defaultBusinessContext = "The platform offers a free breast-health risk assessment quiz and follow-up education. " +
	"Avatars educate and reassure; they never diagnose, never interpret images or results, " +
	"and always direct anyone with a new symptom to a qualified clinician."

const headerTemplate = `You are {{.avatar}}, a warm and knowledgeable breast-health educator.
You are in a practice conversation with a simulated patient. Stay in character as {{.avatar}} for the whole reply.
Listen first, answer the patient's actual question, and keep medical statements general and accurate.`

const formattingTemplate = `Reply as {{.avatar}} speaking directly to {{.patient}}.
Use {{.min}} to {{.max}} words, a {{.tone}} tone, plain language and no lists or headings.
Do not start with a greeting if you have already greeted {{.patient}}.`

const (
	antiRepetitionLimit = 3
	antiRepetitionRunes = 120
	learningPointLimit  = 5
	defaultWindow       = 10
	patientPlaceholder  = "the patient"
)

// TokenCounter measures prompt text. Implementations must be safe for
// concurrent use.
type TokenCounter interface {
	Count(text string) int
}

// PromptBuilder turns a session and its surroundings into one instruction
// block. It performs no I/O; equal inputs give equal output.
type PromptBuilder struct {
	BusinessContext string
	// Window is the number of recent turns copied verbatim.
	Window int
	// TokenBudget caps the recent-turns section when Counter is set.
	TokenBudget int
	Counter     TokenCounter
	MinWords    int
	MaxWords    int
	Tone        string
}

func NewPromptBuilder(window, tokenBudget int, counter TokenCounter) *PromptBuilder {
	if window <= 0 || window > 100 {
		window = defaultWindow
	}
	return &PromptBuilder{
		BusinessContext: defaultBusinessContext,
		Window:          window,
		TokenBudget:     tokenBudget,
		Counter:         counter,
		MinWords:        80,
		MaxWords:        150,
		Tone:            "warm, professional",
	}
}

type PromptInput struct {
	Scenario Scenario
	Session  *Session
	Memory   TrainingMemory
	// History is the conversation before Incoming, oldest first.
	History  []Message
	Incoming string
}

func renderGoTemplate(tmpl string, values map[string]any) (string, error) {
	p := prompts.PromptTemplate{
		Template:       tmpl,
		TemplateFormat: prompts.TemplateFormatGoTemplate,
		InputVariables: keys(values),
	}
	return p.Format(values)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func avatarName(sc Scenario) string {
	if sc.AvatarName != "" {
		return sc.AvatarName
	}
	return "the coach"
}

// Build assembles persona instructions, business context, scenario, patient,
// training memory, anti-repetition notes, recent turns, the new message and
// the formatting instruction, in that order.
func (b *PromptBuilder) Build(in PromptInput) (string, error) {
	avatar := avatarName(in.Scenario)
	patient := ResolvePatientName(in.Session.Persona, personaDescription(in.Scenario, in.Session))

	header, err := renderGoTemplate(headerTemplate, map[string]any{"avatar": avatar})
	if err != nil {
		return "", fmt.Errorf("render header: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("\n\nBUSINESS CONTEXT:\n")
	sb.WriteString(b.BusinessContext)

	sb.WriteString("\n\nSCENARIO: ")
	sb.WriteString(in.Scenario.Name)
	sb.WriteString("\n")
	sb.WriteString(in.Scenario.Description)
	ctx := in.Session.Context
	if ctx.Phase != "" {
		fmt.Fprintf(&sb, "\nConversation phase: %s", ctx.Phase)
	}
	if len(ctx.RemainingObjectives) > 0 {
		fmt.Fprintf(&sb, "\nObjectives still open: %s", strings.Join(ctx.RemainingObjectives, "; "))
	}
	if len(ctx.TopicsCovered) > 0 {
		fmt.Fprintf(&sb, "\nTopics already covered: %s", strings.Join(ctx.TopicsCovered, ", "))
	}

	sb.WriteString("\n\n")
	sb.WriteString(patientBlock(patient, in.Session.Persona, ctx.PatientMood))

	if mem := memoryBlock(in.Memory); mem != "" {
		sb.WriteString("\n\n")
		sb.WriteString(mem)
	}
	if rep := antiRepetitionBlock(in.History); rep != "" {
		sb.WriteString("\n\n")
		sb.WriteString(rep)
	}
	if turns := b.recentTurns(in.History, avatar, patient); turns != "" {
		sb.WriteString("\n\nRECENT CONVERSATION:\n")
		sb.WriteString(turns)
	}

	sb.WriteString("\n\nPATIENT'S NEW MESSAGE:\n")
	sb.WriteString(strings.TrimSpace(in.Incoming))

	format, err := renderGoTemplate(formattingTemplate, map[string]any{
		"avatar":  avatar,
		"patient": patient,
		"min":     b.MinWords,
		"max":     b.MaxWords,
		"tone":    b.Tone,
	})
	if err != nil {
		return "", fmt.Errorf("render formatting: %w", err)
	}
	sb.WriteString("\n\n")
	sb.WriteString(format)
	return sb.String(), nil
}

func personaDescription(sc Scenario, s *Session) string {
	if s != nil && s.Persona.Background != "" && s.Persona.Name == "" {
		return s.Persona.Background
	}
	return sc.PersonaDescription
}

func patientBlock(name string, p Persona, mood string) string {
	var sb strings.Builder
	sb.WriteString("PATIENT:\nName: ")
	sb.WriteString(name)
	if p.Age > 0 {
		fmt.Fprintf(&sb, "\nAge: %d", p.Age)
	}
	if p.Background != "" {
		sb.WriteString("\nBackground: ")
		sb.WriteString(p.Background)
	}
	if mood != "" {
		sb.WriteString("\nCurrent mood: ")
		sb.WriteString(mood)
	}
	return sb.String()
}

func memoryBlock(m TrainingMemory) string {
	if m.TotalSessions == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "TRAINING MEMORY:\nCompleted sessions with this trainee: %d (average quality %.1f).", m.TotalSessions, m.AverageQuality)
	if len(m.ScenarioNames) > 0 {
		sb.WriteString("\nScenarios practiced: ")
		sb.WriteString(strings.Join(m.ScenarioNames, ", "))
	}
	points := m.LearningPoints
	if len(points) > learningPointLimit {
		points = points[:learningPointLimit]
	}
	if len(points) > 0 {
		sb.WriteString("\nRecent learning points:")
		for _, p := range points {
			sb.WriteString("\n- ")
			sb.WriteString(p)
		}
	}
	return sb.String()
}

func antiRepetitionBlock(history []Message) string {
	var said []string
	for i := len(history) - 1; i >= 0 && len(said) < antiRepetitionLimit; i-- {
		if history[i].Role == RoleAvatar {
			said = append(said, truncateRunes(history[i].Content, antiRepetitionRunes))
		}
	}
	if len(said) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("AVOID REPEATING:\nYou already said the following in this conversation. Do not reuse these greetings or phrases:")
	for i := len(said) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "\n- %q", said[i])
	}
	return sb.String()
}

func (b *PromptBuilder) recentTurns(history []Message, avatar, patient string) string {
	var lines []string
	for _, m := range history {
		switch m.Role {
		case RoleAvatar:
			lines = append(lines, avatar+": "+m.Content)
		case RoleCustomer:
			lines = append(lines, "Patient ("+patient+"): "+m.Content)
		}
	}
	if len(lines) > b.Window {
		lines = lines[len(lines)-b.Window:]
	}
	if b.Counter != nil && b.TokenBudget > 0 {
		for len(lines) > 1 && b.Counter.Count(strings.Join(lines, "\n")) > b.TokenBudget {
			lines = lines[1:]
		}
	}
	return strings.Join(lines, "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

// SimplePrompt is the context-free prompt used by the backup provider.
func SimplePrompt(avatar, message string) string {
	if avatar == "" {
		avatar = "a breast-health educator"
	}
	return fmt.Sprintf("You are %s. A patient says: %q\n"+
		"Reply in under 120 words with empathy and general, accurate information. "+
		"Do not diagnose and recommend seeing a clinician for any new symptom.", avatar, strings.TrimSpace(message))
}

// QuestionPrompt asks a provider to play the patient and return JSON.
func QuestionPrompt(sc Scenario, s *Session, history []Message) string {
	patient := ResolvePatientName(s.Persona, personaDescription(sc, s))
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are role-playing %s, a patient in the scenario %q.\n%s\n", patient, sc.Name, sc.Description)
	if s.Persona.Background != "" {
		fmt.Fprintf(&sb, "Background: %s\n", s.Persona.Background)
	}
	if s.Context.PatientMood != "" {
		fmt.Fprintf(&sb, "Current mood: %s\n", s.Context.PatientMood)
	}
	if len(history) > 0 {
		sb.WriteString("Conversation so far:\n")
		start := 0
		if len(history) > 6 {
			start = len(history) - 6
		}
		for _, m := range history[start:] {
			switch m.Role {
			case RoleAvatar:
				fmt.Fprintf(&sb, "%s: %s\n", avatarName(sc), m.Content)
			case RoleCustomer:
				fmt.Fprintf(&sb, "%s: %s\n", patient, m.Content)
			}
		}
	}
	sb.WriteString("Ask the next natural question this patient would ask. ")
	sb.WriteString(`Respond with JSON only: {"question": "...", "emotion": "...", "context": "..."}`)
	return sb.String()
}

var (
	// \b is ASCII-only in RE2, so the name must end at punctuation, space or end of text.
	leadingNameRe = regexp.MustCompile(`^\s*(\p{Lu}\p{Ll}+(?:[ -]\p{Lu}\p{Ll}+)?)(?:[\s,.;:!?]|$)`)
	nameStopWords = map[string]bool{
		"A": true, "An": true, "The": true, "She": true, "He": true, "They": true,
		"Patient": true, "This": true, "Mrs": true, "Ms": true, "Mr": true,
	}
	// guesses are consulted in order; names before ages.
	nameGuesses = []struct {
		pattern *regexp.Regexp
		name    string
	}{
		{regexp.MustCompile(`(?i)\bmaria\b`), "Maria"},
		{regexp.MustCompile(`(?i)\bjennifer\b`), "Jennifer"},
		{regexp.MustCompile(`(?i)\bsarah\b`), "Sarah"},
		{regexp.MustCompile(`(?i)\blinda\b`), "Linda"},
		{regexp.MustCompile(`\b42\b`), "Maria"},
		{regexp.MustCompile(`\b35\b`), "Jennifer"},
		{regexp.MustCompile(`\b29\b`), "Sarah"},
		{regexp.MustCompile(`\b51\b`), "Linda"},
	}
)

// ResolvePatientName prefers the structured persona and only falls back to
// guessing from free text.
func ResolvePatientName(p Persona, description string) string {
	if n := strings.TrimSpace(p.Name); n != "" {
		return n
	}
	return ExtractPersonaName(description)
}

// ExtractPersonaName guesses a display name from a prose persona description:
// a leading capitalized name, then known name/age hints, then a placeholder.
func ExtractPersonaName(description string) string {
	if m := leadingNameRe.FindStringSubmatch(description); m != nil {
		name := m[1]
		first, _, _ := strings.Cut(name, " ")
		if !nameStopWords[first] {
			return name
		}
	}
	for _, g := range nameGuesses {
		if g.pattern.MatchString(description) {
			return g.name
		}
	}
	return patientPlaceholder
}
