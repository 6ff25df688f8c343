package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/avatar-coach/internal/ai"
	"github.com/xeipuuv/gojsonschema"
)

const questionSchema = `{
  "type": "object",
  "required": ["question", "emotion"],
  "properties": {
    "question": {"type": "string", "minLength": 3},
    "emotion":  {"type": "string", "minLength": 1},
    "context":  {"type": "string"}
  }
}`

var compiledQuestionSchema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(questionSchema))
	if err != nil {
		panic(fmt.Sprintf("question schema: %v", err))
	}
	return s
}()

type PatientQuestion struct {
	Question string `json:"question"`
	Emotion  string `json:"emotion"`
	Context  string `json:"context"`
}

// ParsePatientQuestion extracts and validates the JSON object in a model reply.
func ParsePatientQuestion(text string) (PatientQuestion, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return PatientQuestion{}, errors.New("no json object in reply")
	}
	raw := text[start : end+1]

	res, err := compiledQuestionSchema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return PatientQuestion{}, fmt.Errorf("invalid json: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return PatientQuestion{}, fmt.Errorf("schema: %s", strings.Join(msgs, "; "))
	}

	var q PatientQuestion
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return PatientQuestion{}, err
	}
	q.Question = strings.TrimSpace(q.Question)
	return q, nil
}

// QuestionStrategy asks a provider to play the patient.
type QuestionStrategy struct {
	Label       string
	Provider    ai.Provider
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
	Source      string
}

func (q *QuestionStrategy) Name() string { return q.Label }

func (q *QuestionStrategy) Attempt(ctx context.Context, in GenerationInput) (Result, error) {
	text, err := chatWithTimeout(ctx, q.Provider, q.Timeout, ai.Request{
		Messages:    []ai.Message{{Role: ai.RoleUser, Content: in.Prompt}},
		MaxTokens:   q.MaxTokens,
		Temperature: q.Temperature,
	})
	if err != nil {
		return Result{}, err
	}
	pq, err := ParsePatientQuestion(text)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Text:    pq.Question,
		Emotion: pq.Emotion,
		Note:    pq.Context,
		Source:  q.Source,
	}, nil
}

var cannedQuestions = []PatientQuestion{
	{Question: "I noticed something different when I was checking myself last week. How do I know if it's serious?", Emotion: "worried", Context: "opening concern"},
	{Question: "My mother had breast cancer. Does that mean I will get it too?", Emotion: "anxious", Context: "family history"},
	{Question: "How often should someone my age have a mammogram?", Emotion: "curious", Context: "screening schedule"},
	{Question: "Is there anything I can change in my daily life to lower my risk?", Emotion: "hopeful", Context: "lifestyle"},
	{Question: "What should I do next after this conversation?", Emotion: "uncertain", Context: "next steps"},
}

// CannedQuestions rotates fixed questions by conversation length. It never fails.
type CannedQuestions struct{}

func (CannedQuestions) Name() string { return "canned_questions" }

func (CannedQuestions) Attempt(ctx context.Context, in GenerationInput) (Result, error) {
	n := in.HistoryLen
	if n < 0 {
		n = 0
	}
	q := cannedQuestions[n%len(cannedQuestions)]
	return Result{
		Text:    q.Question,
		Emotion: q.Emotion,
		Note:    q.Context,
		Source:  SourceFallback,
	}, nil
}
