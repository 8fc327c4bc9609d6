package storage

import (
	"sort"
	"sync"
	"time"

	"studio-backend/internal/model"
	"studio-backend/internal/session"
)

type memorySession struct {
	info     model.Session
	messages []*model.MessageRecord
	context  []session.ContextEntry
}

type MemoryStorage struct {
	sessions map[string]*memorySession
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions: make(map[string]*memorySession),
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func (m *MemoryStorage) Backup() error {
	return nil
}

func (m *MemoryStorage) SaveSession(s *model.Session) error {
	if s == nil || s.ID == "" {
		return ErrInvalidData
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[s.ID]; ok {
		info := *s
		info.CreatedAt = existing.info.CreatedAt
		existing.info = info
		return nil
	}
	m.sessions[s.ID] = &memorySession{info: *s}
	return nil
}

func (m *MemoryStorage) GetSession(sessionID string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	info := s.info
	return &info, nil
}

func (m *MemoryStorage) DeleteSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; !exists {
		return ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStorage) DeleteSessionsBefore(t time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.sessions {
		if s.info.UpdatedAt.Before(t) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStorage) ListSessions() ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*model.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		info := s.info
		sessions = append(sessions, &info)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (m *MemoryStorage) UpsertMessage(rec *model.MessageRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidData
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[rec.SessionID]
	if !exists {
		return ErrSessionNotFound
	}
	s.messages = upsertRecord(s.messages, rec)
	s.info.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStorage) GetMessages(sessionID string) ([]*model.MessageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return append([]*model.MessageRecord(nil), s.messages...), nil
}

func (m *MemoryStorage) GetConversation(sessionID, convID string) ([]*model.MessageRecord, error) {
	messages, err := m.GetMessages(sessionID)
	if err != nil {
		return nil, err
	}
	return filterConversation(messages, convID), nil
}

func (m *MemoryStorage) SaveContext(sessionID string, entries []session.ContextEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}
	s.context = append([]session.ContextEntry(nil), entries...)
	return nil
}

func (m *MemoryStorage) LoadContext(sessionID string) ([]session.ContextEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	return append([]session.ContextEntry(nil), s.context...), nil
}
