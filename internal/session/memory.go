package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the default in-process session store: a map behind an
// RWMutex with a janitor goroutine sweeping expired entries.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewMemoryStore creates the store. A positive sweepInterval starts the
// janitor; zero disables it (expired sessions still never validate).
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	m := &MemoryStore{
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
		now:      time.Now,
	}
	if sweepInterval > 0 {
		go m.janitor(sweepInterval)
	}
	return m
}

func (m *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryStore) sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, token)
		}
	}
}

// Put saves a session under its token.
func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	cp := *s
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.Token] = &cp
	return nil
}

// Get returns the live session for token, or nil for unknown and expired
// tokens.
func (m *MemoryStore) Get(_ context.Context, token string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[token]
	m.mu.RUnlock()
	if !ok || s.Expired(m.now()) {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

// Delete forgets a token.
func (m *MemoryStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

// Destroy stops the janitor. Safe to call more than once.
func (m *MemoryStore) Destroy() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Len reports the number of stored sessions, expired included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
