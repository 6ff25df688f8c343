package training

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type sessionRow struct {
	ID            uint64                             `gorm:"primaryKey;autoIncrement"`
	SessionID     string                             `gorm:"type:varchar(64);uniqueIndex;not null"`
	UserID        string                             `gorm:"type:varchar(64);not null;index:idx_training_sess_user_avatar,priority:1"`
	AvatarID      string                             `gorm:"type:varchar(64);not null;index:idx_training_sess_user_avatar,priority:2"`
	ScenarioID    string                             `gorm:"type:varchar(64);not null"`
	ScenarioName  string                             `gorm:"type:varchar(128);not null"`
	Status        string                             `gorm:"type:varchar(16);index;not null"`
	Persona       datatypes.JSONType[Persona]        `gorm:"not null"`
	Context       datatypes.JSONType[SessionContext] `gorm:"not null"`
	Metrics       datatypes.JSONType[Metrics]        `gorm:"not null"`
	Summary       datatypes.JSONType[*Summary]
	TotalMessages int       `gorm:"not null;default:0"`
	StartedAt     time.Time `gorm:"index;not null"`
	LastActiveAt  time.Time `gorm:"not null"`
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (sessionRow) TableName() string { return "training_sessions" }

type messageRow struct {
	ID              uint64                             `gorm:"primaryKey;autoIncrement"`
	MessageID       string                             `gorm:"type:varchar(36);uniqueIndex;not null"`
	SessionID       string                             `gorm:"type:varchar(64);not null;index:uniq_training_msg_seq,unique,priority:1"`
	Sequence        int                                `gorm:"not null;index:uniq_training_msg_seq,unique,priority:2"`
	Role            string                             `gorm:"type:varchar(16);not null"`
	Content         string                             `gorm:"type:text;not null"`
	Emotion         string                             `gorm:"type:varchar(32)"`
	QualityScore    *int
	ScoreKind       string `gorm:"type:varchar(16)"`
	LatencyMs       *int64
	Source          string                             `gorm:"type:varchar(32)"`
	InReplyTo       string                             `gorm:"type:varchar(36);index"`
	ContextSnapshot datatypes.JSONType[SessionContext] `gorm:"not null"`
	CreatedAt       time.Time
}

func (messageRow) TableName() string { return "training_messages" }

func toSessionRow(s *Session) sessionRow {
	return sessionRow{
		SessionID:     s.ID,
		UserID:        s.UserID,
		AvatarID:      s.AvatarID,
		ScenarioID:    s.ScenarioID,
		ScenarioName:  s.ScenarioName,
		Status:        string(s.Status),
		Persona:       datatypes.NewJSONType(s.Persona),
		Context:       datatypes.NewJSONType(s.Context),
		Metrics:       datatypes.NewJSONType(s.Metrics),
		Summary:       datatypes.NewJSONType(s.Summary),
		TotalMessages: s.TotalMessages,
		StartedAt:     s.StartedAt,
		LastActiveAt:  s.LastActiveAt,
		CompletedAt:   s.CompletedAt,
	}
}

func (r sessionRow) toSession() *Session {
	s := &Session{
		ID:            r.SessionID,
		UserID:        r.UserID,
		AvatarID:      r.AvatarID,
		ScenarioID:    r.ScenarioID,
		ScenarioName:  r.ScenarioName,
		Status:        Status(r.Status),
		Persona:       r.Persona.Data(),
		Context:       r.Context.Data(),
		Metrics:       r.Metrics.Data(),
		Summary:       r.Summary.Data(),
		TotalMessages: r.TotalMessages,
		StartedAt:     r.StartedAt,
		LastActiveAt:  r.LastActiveAt,
		CompletedAt:   r.CompletedAt,
	}
	return s
}

func toMessageRow(m *Message) messageRow {
	return messageRow{
		MessageID:       m.ID,
		SessionID:       m.SessionID,
		Sequence:        m.Sequence,
		Role:            string(m.Role),
		Content:         m.Content,
		Emotion:         m.Emotion,
		QualityScore:    m.QualityScore,
		ScoreKind:       m.ScoreKind,
		LatencyMs:       m.LatencyMs,
		Source:          m.Source,
		InReplyTo:       m.InReplyTo,
		ContextSnapshot: datatypes.NewJSONType(m.ContextSnapshot),
		CreatedAt:       m.CreatedAt,
	}
}

func (r messageRow) toMessage() Message {
	return Message{
		ID:              r.MessageID,
		SessionID:       r.SessionID,
		Role:            Role(r.Role),
		Content:         r.Content,
		Emotion:         r.Emotion,
		Sequence:        r.Sequence,
		QualityScore:    r.QualityScore,
		ScoreKind:       r.ScoreKind,
		LatencyMs:       r.LatencyMs,
		Source:          r.Source,
		InReplyTo:       r.InReplyTo,
		ContextSnapshot: r.ContextSnapshot.Data(),
		CreatedAt:       r.CreatedAt,
	}
}

// GormStore persists sessions in relational rows with JSON columns for the
// nested structures. mu serializes read-modify-write within this process and
// the (session_id, sequence) unique index rejects duplicates across processes.
type GormStore struct {
	db  *gorm.DB
	mu  sync.Mutex
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates or updates the training tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&sessionRow{}, &messageRow{}, &Job{})
}

func (g *GormStore) CreateSession(ctx context.Context, s *Session) error {
	row := toSessionRow(s)
	return g.db.WithContext(ctx).Create(&row).Error
}

func loadSessionRow(tx *gorm.DB, id string) (*sessionRow, error) {
	var row sessionRow
	if err := tx.Where("session_id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (g *GormStore) GetSession(ctx context.Context, id string) (*Session, error) {
	tx := g.db.WithContext(ctx)
	row, err := loadSessionRow(tx, id)
	if err != nil {
		return nil, err
	}

	var msgs []messageRow
	if err := tx.Where("session_id = ?", id).Order("sequence ASC").Find(&msgs).Error; err != nil {
		return nil, err
	}

	s := row.toSession()
	s.Messages = make([]Message, 0, len(msgs))
	for _, m := range msgs {
		s.Messages = append(s.Messages, m.toMessage())
	}
	return s, nil
}

func (g *GormStore) UpdateSession(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out *Session
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := loadSessionRow(tx, id)
		if err != nil {
			return err
		}
		s := row.toSession()
		if err := fn(s); err != nil {
			return err
		}
		next := toSessionRow(s)
		next.ID = row.ID
		next.CreatedAt = row.CreatedAt
		if err := tx.Save(&next).Error; err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GormStore) AppendMessage(ctx context.Context, id string, in *Message, mutate func(*Session, *Message) error) (*Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// stamped on a copy; a rolled back transaction leaves nothing behind
	var msg Message
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := loadSessionRow(tx, id)
		if err != nil {
			return err
		}
		s := row.toSession()
		now := g.now()
		msg = in.clone()
		if err := stampMessage(s, &msg, now); err != nil {
			return err
		}
		if mutate != nil {
			if err := mutate(s, &msg); err != nil {
				return err
			}
		}
		msg.ContextSnapshot = s.Context.clone()
		touchSession(s, &msg, now)

		mrow := toMessageRow(&msg)
		if err := tx.Create(&mrow).Error; err != nil {
			return err
		}

		next := toSessionRow(s)
		next.ID = row.ID
		next.CreatedAt = row.CreatedAt
		return tx.Save(&next).Error
	})
	if err != nil {
		return nil, err
	}
	out := msg.clone()
	return &out, nil
}

func (g *GormStore) ListSessions(ctx context.Context, q SessionQuery) ([]Session, error) {
	tx := g.db.WithContext(ctx).Model(&sessionRow{})
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	if q.AvatarID != "" {
		tx = tx.Where("avatar_id = ?", q.AvatarID)
	}
	if q.Status != "" {
		tx = tx.Where("status = ?", string(q.Status))
	}

	var rows []sessionRow
	if err := tx.Order("started_at DESC").Order("session_id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toSession())
	}
	return out, nil
}

func (g *GormStore) MarkAbandoned(ctx context.Context, cutoff time.Time) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	res := g.db.WithContext(ctx).Model(&sessionRow{}).
		Where("status = ? AND started_at < ?", string(StatusActive), cutoff).
		Update("status", string(StatusAbandoned))
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}
