package store

import (
	"context"
	"sync"

	"github.com/go-go-golems/symposium/pkg/dialogue"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

// Memory keeps snapshots in a map. Saved and loaded sessions are deep copies.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*dialogue.Session
	closed   bool
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{sessions: map[string]*dialogue.Session{}}
}

func (m *Memory) Save(_ context.Context, s *dialogue.Session) error {
	if err := checkSession(s); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sessions[s.ID] = clone.Clone(s).(*dialogue.Session)
	return nil
}

func (m *Memory) Load(_ context.Context, id string) (*dialogue.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, id)
	}
	return clone.Clone(s).(*dialogue.Session), nil
}

func (m *Memory) List(_ context.Context, q Query) ([]Summary, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, ErrClosed
	}
	summaries := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		summaries = append(summaries, Summarize(s))
	}
	m.mu.RUnlock()
	return q.Apply(summaries)
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.sessions[id]; !ok {
		return errors.Wrap(ErrNotFound, id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
