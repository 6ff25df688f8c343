package training

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SessionQuery struct {
	UserID   string
	AvatarID string
	Status   Status
}

func (q SessionQuery) matches(s *Session) bool {
	if q.UserID != "" && s.UserID != q.UserID {
		return false
	}
	if q.AvatarID != "" && s.AvatarID != q.AvatarID {
		return false
	}
	if q.Status != "" && s.Status != q.Status {
		return false
	}
	return true
}

// Store persists sessions and their message ledger. Every read-modify-write
// goes through UpdateSession or AppendMessage so implementations can make it
// atomic per session.
type Store interface {
	CreateSession(ctx context.Context, s *Session) error
	// GetSession returns the session with its messages ordered by sequence,
	// or ErrSessionNotFound.
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, id string, fn func(*Session) error) (*Session, error)
	// AppendMessage stamps a copy of msg with the next sequence number and
	// appends it. mutate sees the stamped copy and may adjust the session
	// (context, metrics) in the same step. msg itself is never modified.
	AppendMessage(ctx context.Context, id string, msg *Message, mutate func(*Session, *Message) error) (*Message, error)
	// ListSessions returns matching sessions newest first, without messages.
	ListSessions(ctx context.Context, q SessionQuery) ([]Session, error)
	// MarkAbandoned moves active sessions started before cutoff to abandoned.
	MarkAbandoned(ctx context.Context, cutoff time.Time) (int, error)
}

// stampMessage applies the ledger invariants shared by all stores: only
// active sessions accept messages, sequence numbers are gapless from 1.
func stampMessage(sess *Session, msg *Message, now time.Time) error {
	if sess.Status != StatusActive {
		return ErrSessionClosed
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.SessionID = sess.ID
	msg.Sequence = sess.TotalMessages + 1
	msg.CreatedAt = now
	return nil
}

func touchSession(sess *Session, msg *Message, now time.Time) {
	sess.TotalMessages = msg.Sequence
	sess.LastActiveAt = now
}
