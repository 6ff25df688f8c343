package training

import (
	"errors"
	"time"
)

var (
	ErrSessionNotFound  = errors.New("training session not found")
	ErrScenarioNotFound = errors.New("training scenario not found")
	ErrSessionClosed    = errors.New("training session is no longer active")
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusPaused    Status = "paused"
	StatusAbandoned Status = "abandoned"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAvatar   Role = "avatar"
	RoleSystem   Role = "system"
)

// ScoreKindSynthetic marks quality scores that are placeholders chosen by the
// generation strategy, not measured against anything.
const ScoreKindSynthetic = "synthetic"

type Persona struct {
	Name       string `json:"name,omitempty"`
	Age        int    `json:"age,omitempty"`
	Background string `json:"background,omitempty"`
}

// SessionContext is the mutable conversational state carried by a session.
type SessionContext struct {
	Phase               string    `json:"phase"`
	TopicsCovered       []string  `json:"topics_covered"`
	RemainingObjectives []string  `json:"remaining_objectives"`
	PatientMood         string    `json:"patient_mood"`
	LastSpeaker         Role      `json:"last_speaker,omitempty"`
	LastActivity        time.Time `json:"last_activity"`
}

func (c SessionContext) clone() SessionContext {
	c.TopicsCovered = append([]string(nil), c.TopicsCovered...)
	c.RemainingObjectives = append([]string(nil), c.RemainingObjectives...)
	return c
}

type Metrics struct {
	AverageQuality   float64 `json:"average_quality"`
	ResponseCount    int     `json:"response_count"`
	AverageLatencyMs int64   `json:"average_latency_ms"`
}

type Summary struct {
	Achievements     []string `json:"achievements"`
	ImprovementAreas []string `json:"improvement_areas"`
	Recommendations  []string `json:"recommendations"`
	LearningPoints   []string `json:"learning_points"`
	MessageCount     int      `json:"message_count"`
	DurationSeconds  int64    `json:"duration_seconds"`
	DurationText     string   `json:"duration_text"`
	AverageQuality   float64  `json:"average_quality"`
}

func (s *Summary) clone() *Summary {
	if s == nil {
		return nil
	}
	out := *s
	out.Achievements = append([]string(nil), s.Achievements...)
	out.ImprovementAreas = append([]string(nil), s.ImprovementAreas...)
	out.Recommendations = append([]string(nil), s.Recommendations...)
	out.LearningPoints = append([]string(nil), s.LearningPoints...)
	return &out
}

type Session struct {
	ID            string         `json:"session_id"`
	UserID        string         `json:"user_id"`
	AvatarID      string         `json:"avatar_id"`
	ScenarioID    string         `json:"scenario_id"`
	ScenarioName  string         `json:"scenario_name"`
	Persona       Persona        `json:"persona"`
	Status        Status         `json:"status"`
	Messages      []Message      `json:"messages"`
	Context       SessionContext `json:"context"`
	Metrics       Metrics        `json:"metrics"`
	Summary       *Summary       `json:"summary,omitempty"`
	TotalMessages int            `json:"total_messages"`
	StartedAt     time.Time      `json:"started_at"`
	LastActiveAt  time.Time      `json:"last_active_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// Clone returns a deep copy, so callers never share slices with a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Context = s.Context.clone()
	out.Summary = s.Summary.clone()
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			out.Messages[i] = m.clone()
		}
	}
	return &out
}

// ResponseMetadata accompanies messages produced by the automated responder.
type ResponseMetadata struct {
	QualityScore int    `json:"quality_score"`
	ScoreKind    string `json:"score_kind"`
	LatencyMs    int64  `json:"latency_ms"`
	Source       string `json:"source"`
	// InReplyTo is the id of the customer message being answered.
	InReplyTo    string `json:"in_reply_to,omitempty"`
}

type Message struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	Role            Role           `json:"role"`
	Content         string         `json:"content"`
	Emotion         string         `json:"emotion"`
	Sequence        int            `json:"sequence"`
	QualityScore    *int           `json:"quality_score,omitempty"`
	ScoreKind       string         `json:"score_kind,omitempty"`
	LatencyMs       *int64         `json:"latency_ms,omitempty"`
	Source          string         `json:"source,omitempty"`
	InReplyTo       string         `json:"in_reply_to,omitempty"`
	ContextSnapshot SessionContext `json:"context_snapshot"`
	CreatedAt       time.Time      `json:"created_at"`
}

func (m Message) clone() Message {
	m.ContextSnapshot = m.ContextSnapshot.clone()
	if m.QualityScore != nil {
		q := *m.QualityScore
		m.QualityScore = &q
	}
	if m.LatencyMs != nil {
		l := *m.LatencyMs
		m.LatencyMs = &l
	}
	return m
}
