package identity

import (
	"sync"
)

// Storage persists the client session between calls, e.g. in cookies.
type Storage interface {
	Load() (*Session, error)
	Save(session *Session) error
	Clear() error
}

// MemoryStorage keeps the session in process memory.
type MemoryStorage struct {
	mu      sync.RWMutex
	session *Session
}

// NewMemoryStorage returns a storage seeded with session, which may be nil.
func NewMemoryStorage(session *Session) *MemoryStorage {
	return &MemoryStorage{session: session}
}

func (m *MemoryStorage) Load() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, nil
	}
	cp := *m.session
	return &cp, nil
}

func (m *MemoryStorage) Save(session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session == nil {
		m.session = nil
		return nil
	}
	cp := *session
	m.session = &cp
	return nil
}

func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
