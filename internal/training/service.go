package training

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/suPer8Hu/avatar-coach/internal/common"
)

var (
	ErrEmptyMessage    = errors.New("message is empty")
	ErrNothingToReply  = errors.New("no customer message awaiting a reply")
	ErrMessageNotFound = errors.New("training message not found")
)

// errUnchanged aborts an UpdateSession without writing.
var errUnchanged = errors.New("unchanged")

const avatarEmotion = "supportive"

type Service struct {
	store     Store
	builder   *PromptBuilder
	replies   *Chain
	questions *Chain
	cache     MemoryCache
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithMemoryCache(c MemoryCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, builder *PromptBuilder, replies, questions *Chain, opts ...Option) *Service {
	if builder == nil {
		builder = NewPromptBuilder(0, 0, nil)
	}
	if replies == nil {
		replies = NewChain(KeywordFallback{})
	}
	if questions == nil {
		questions = NewChain(CannedQuestions{})
	}
	s := &Service{
		store:     store,
		builder:   builder,
		replies:   replies,
		questions: questions,
		logger:    slog.Default().With("component", "training.service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func NewSessionID() (string, error) {
	return common.NewULID()
}

// Exchange is the result of one conversational turn.
type Exchange struct {
	Customer *Message `json:"customer_message"`
	Reply    *Message `json:"reply"`
	Session  *Session `json:"session"`
}

func (s *Service) CreateSession(ctx context.Context, userID, avatarID, scenarioID string, details *ScenarioDetails) (*Session, error) {
	sc, ok := LookupScenario(scenarioID)
	if !ok {
		return nil, ErrScenarioNotFound
	}

	persona := sc.Persona
	if details != nil {
		switch {
		case details.Persona != nil:
			persona = *details.Persona
		case strings.TrimSpace(details.PersonaDescription) != "":
			desc := strings.TrimSpace(details.PersonaDescription)
			persona = Persona{Background: desc}
			if n := ExtractPersonaName(desc); n != patientPlaceholder {
				persona.Name = n
			}
		}
	}

	sid, err := NewSessionID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:           sid,
		UserID:       userID,
		AvatarID:     avatarID,
		ScenarioID:   sc.ID,
		ScenarioName: sc.Name,
		Persona:      persona,
		Status:       StatusActive,
		Context: SessionContext{
			Phase:               "opening",
			TopicsCovered:       []string{},
			RemainingObjectives: sc.Objectives,
			PatientMood:         sc.TargetMood,
			LastActivity:        now,
		},
		StartedAt:    now,
		LastActiveAt: now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	if _, err := s.AddMessage(ctx, sid, RoleSystem, "Training scenario started: "+sc.Name, "neutral", nil); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "training session created", "session_id", sid, "user_id", userID, "scenario_id", sc.ID)
	return s.store.GetSession(ctx, sid)
}

// GetSession returns nil, nil when the session does not exist.
func (s *Service) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) AddMessage(ctx context.Context, id string, role Role, content, emotion string, meta *ResponseMetadata) (*Message, error) {
	msg := &Message{
		Role:    role,
		Content: content,
		Emotion: emotion,
	}
	if meta != nil {
		score := meta.QualityScore
		latency := meta.LatencyMs
		msg.QualityScore = &score
		msg.LatencyMs = &latency
		msg.ScoreKind = meta.ScoreKind
		msg.Source = meta.Source
		msg.InReplyTo = meta.InReplyTo
	}
	return s.store.AppendMessage(ctx, id, msg, func(sess *Session, stamped *Message) error {
		applyMessage(sess, stamped, meta)
		return nil
	})
}

func applyMessage(sess *Session, msg *Message, meta *ResponseMetadata) {
	c := &sess.Context
	if msg.Role != RoleSystem {
		for _, t := range detectTopics(msg.Content) {
			if !contains(c.TopicsCovered, t) {
				c.TopicsCovered = append(c.TopicsCovered, t)
			}
		}
	}

	remaining := c.RemainingObjectives[:0:0]
	for _, o := range c.RemainingObjectives {
		if t := matchTopic(o); t != nil && contains(c.TopicsCovered, t.Name) {
			continue
		}
		remaining = append(remaining, o)
	}
	c.RemainingObjectives = remaining

	switch {
	case msg.Sequence <= 3:
		c.Phase = "opening"
	case msg.Sequence <= 10:
		c.Phase = "exploration"
	default:
		c.Phase = "closing"
	}
	if msg.Role == RoleCustomer && msg.Emotion != "" && msg.Emotion != "neutral" {
		c.PatientMood = msg.Emotion
	}
	c.LastSpeaker = msg.Role
	c.LastActivity = msg.CreatedAt

	if meta != nil && msg.Role == RoleAvatar {
		m := &sess.Metrics
		n := float64(m.ResponseCount)
		m.AverageQuality = (m.AverageQuality*n + float64(meta.QualityScore)) / (n + 1)
		m.AverageLatencyMs = (m.AverageLatencyMs*int64(m.ResponseCount) + meta.LatencyMs) / int64(m.ResponseCount+1)
		m.ResponseCount++
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// SubmitMessage records a customer message without answering it; Reply
// produces the answer later.
func (s *Service) SubmitMessage(ctx context.Context, id, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	return s.AddMessage(ctx, id, RoleCustomer, text, detectEmotion(text), nil)
}

// PostMessage records a customer message and the avatar's reply to it.
func (s *Service) PostMessage(ctx context.Context, id, text string) (*Exchange, error) {
	customer, err := s.SubmitMessage(ctx, id, text)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, id, customer)
}

// Reply answers the latest customer message of a session.
func (s *Service) Reply(ctx context.Context, id string) (*Exchange, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(sess.Messages) == 0 || sess.Messages[len(sess.Messages)-1].Role != RoleCustomer {
		return nil, ErrNothingToReply
	}
	last := sess.Messages[len(sess.Messages)-1]
	return s.respond(ctx, id, &last)
}

// ReplyTo answers one specific customer message, even when newer messages
// follow it. If that message was already answered the existing exchange is
// returned and nothing is generated.
func (s *Service) ReplyTo(ctx context.Context, id, messageID string) (*Exchange, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	var customer *Message
	for i := range sess.Messages {
		if sess.Messages[i].ID == messageID {
			m := sess.Messages[i]
			customer = &m
			break
		}
	}
	if customer == nil {
		return nil, ErrMessageNotFound
	}
	if customer.Role != RoleCustomer {
		return nil, ErrNothingToReply
	}
	for i := range sess.Messages {
		if m := sess.Messages[i]; m.Role == RoleAvatar && m.InReplyTo == messageID {
			return &Exchange{Customer: customer, Reply: &m, Session: sess}, nil
		}
	}
	return s.respond(ctx, id, customer)
}

// Advance lets the simulated patient ask the next question and answers it.
func (s *Service) Advance(ctx context.Context, id string) (*Exchange, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != StatusActive {
		return nil, ErrSessionClosed
	}
	sc := scenarioFor(sess)

	in := GenerationInput{
		Prompt:     QuestionPrompt(sc, sess, sess.Messages),
		AvatarName: avatarName(sc),
		HistoryLen: len(sess.Messages),
	}
	res, err := s.questions.Generate(ctx, in)
	if err != nil {
		res, _ = CannedQuestions{}.Attempt(ctx, in)
	}
	emotion := res.Emotion
	if emotion == "" {
		emotion = detectEmotion(res.Text)
	}

	customer, err := s.AddMessage(ctx, id, RoleCustomer, res.Text, emotion, nil)
	if err != nil {
		return nil, err
	}
	return s.respond(ctx, id, customer)
}

func scenarioFor(sess *Session) Scenario {
	if sc, ok := LookupScenario(sess.ScenarioID); ok {
		return sc
	}
	return Scenario{ID: sess.ScenarioID, Name: sess.ScenarioName}
}

func (s *Service) respond(ctx context.Context, id string, customer *Message) (*Exchange, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	sc := scenarioFor(sess)

	memory, err := s.TrainingMemory(ctx, sess.UserID, sess.AvatarID)
	if err != nil {
		s.logger.WarnContext(ctx, "training memory unavailable", "session_id", id, "error", err)
		memory = TrainingMemory{}
	}

	history := make([]Message, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		if m.Sequence >= customer.Sequence {
			break
		}
		history = append(history, m)
	}

	in := GenerationInput{
		Message:    customer.Content,
		AvatarName: avatarName(sc),
		HistoryLen: len(history),
	}
	in.Prompt, err = s.builder.Build(PromptInput{
		Scenario: sc,
		Session:  sess,
		Memory:   memory,
		History:  history,
		Incoming: customer.Content,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "prompt build failed", "session_id", id, "error", err)
		in.Prompt = SimplePrompt(in.AvatarName, customer.Content)
	}

	start := time.Now()
	res, err := s.replies.Generate(ctx, in)
	if err != nil {
		res, _ = KeywordFallback{}.Attempt(ctx, in)
		res.Strategy = KeywordFallback{}.Name()
	}
	latency := time.Since(start).Milliseconds()

	reply, err := s.AddMessage(ctx, id, RoleAvatar, res.Text, avatarEmotion, &ResponseMetadata{
		QualityScore: res.Score,
		ScoreKind:    ScoreKindSynthetic,
		LatencyMs:    latency,
		Source:       res.Source,
		InReplyTo:    customer.ID,
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "avatar reply generated",
		"session_id", id,
		"strategy", res.Strategy,
		"source", res.Source,
		"latency_ms", latency,
	)

	updated, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Exchange{Customer: customer, Reply: reply, Session: updated}, nil
}

// CompleteSession closes an active session with a summary. It returns nil, nil
// for unknown sessions and leaves already closed sessions untouched.
func (s *Service) CompleteSession(ctx context.Context, id string) (*Session, error) {
	_, err := s.store.UpdateSession(ctx, id, func(sess *Session) error {
		if sess.Status != StatusActive {
			return errUnchanged
		}
		now := s.now()
		sess.Summary = buildSummary(sess, now.Sub(sess.StartedAt))
		sess.Status = StatusCompleted
		sess.CompletedAt = &now
		return nil
	})
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return nil, nil
	case errors.Is(err, errUnchanged):
	case err != nil:
		return nil, err
	default:
		sess, gerr := s.store.GetSession(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if s.cache != nil {
			if err := s.cache.InvalidateMemory(ctx, sess.UserID, sess.AvatarID); err != nil {
				s.logger.WarnContext(ctx, "memory cache invalidate failed", "session_id", id, "error", err)
			}
		}
		s.logger.InfoContext(ctx, "training session completed", "session_id", id, "messages", sess.TotalMessages)
		return sess, nil
	}
	return s.store.GetSession(ctx, id)
}

// UserSessions returns every session of a user, newest first.
func (s *Service) UserSessions(ctx context.Context, userID string) ([]Session, error) {
	return s.store.ListSessions(ctx, SessionQuery{UserID: userID})
}

// CleanupAbandonedSessions marks active sessions older than hoursThreshold
// as abandoned.
func (s *Service) CleanupAbandonedSessions(ctx context.Context, hoursThreshold int) (int, error) {
	if hoursThreshold <= 0 {
		hoursThreshold = 24
	}
	cutoff := s.now().Add(-time.Duration(hoursThreshold) * time.Hour)
	n, err := s.store.MarkAbandoned(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "abandoned sessions swept", "count", n, "threshold_hours", hoursThreshold)
	}
	return n, nil
}
