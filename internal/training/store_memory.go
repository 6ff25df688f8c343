package training

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process. A single mutex serializes every
// operation, so appends to one session cannot interleave.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	work := s.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	m.sessions[id] = work
	return work.Clone(), nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, id string, in *Message, mutate func(*Session, *Message) error) (*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}

	work := s.Clone()
	now := m.now()
	msg := in.clone()
	if err := stampMessage(work, &msg, now); err != nil {
		return nil, err
	}
	if mutate != nil {
		if err := mutate(work, &msg); err != nil {
			return nil, err
		}
	}
	msg.ContextSnapshot = work.Context.clone()
	touchSession(work, &msg, now)
	work.Messages = append(work.Messages, msg.clone())

	m.sessions[id] = work
	out := msg.clone()
	return &out, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, q SessionQuery) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0)
	for _, s := range m.sessions {
		if !q.matches(s) {
			continue
		}
		c := s.Clone()
		c.Messages = nil
		out = append(out, *c)
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) MarkAbandoned(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive && s.StartedAt.Before(cutoff) {
			s.Status = StatusAbandoned
			n++
		}
	}
	return n, nil
}

func sortNewestFirst(sessions []Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].StartedAt.Equal(sessions[j].StartedAt) {
			return sessions[i].StartedAt.After(sessions[j].StartedAt)
		}
		return sessions[i].ID > sessions[j].ID
	})
}
