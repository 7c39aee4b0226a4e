package session

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps sessions for the lifetime of the process.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	current  string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) SaveSession(_ context.Context, s *Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session id is required")
	}
	m.mu.Lock()
	m.sessions[s.ID] = s.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) AppendFragment(_ context.Context, sessionID string, f Fragment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	s.Fragments = append(s.Fragments, f)
	if f.CreatedAt.After(s.UpdatedAt) {
		s.UpdatedAt = f.CreatedAt
	}
	return nil
}

func (m *MemoryStore) LoadSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) CurrentSession(ctx context.Context) (*Session, error) {
	m.mu.RLock()
	id := m.current
	m.mu.RUnlock()
	if id == "" {
		return nil, ErrNoSession
	}
	return m.LoadSession(ctx, id)
}

func (m *MemoryStore) SetCurrent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("session %s not found", id)
	}
	m.current = id
	return nil
}
