package media

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/maxparsons123/happy-ride-helper-sub002/media/playout"
)

// Manager tracks active sessions by call ID for the signaling collaborator.
// All methods are safe for concurrent use.
type Manager struct {
	defaults SessionConfig

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager whose sessions inherit the given defaults.
func NewManager(defaults SessionConfig) *Manager {
	return &Manager{
		defaults: defaults,
		sessions: make(map[string]*Session),
	}
}

// Create builds, starts, and registers a session for one answered call.
func (m *Manager) Create(negotiation CodecNegotiation, transport playout.Transport, aiSink AISink) (*Session, error) {
	s, err := NewSession(negotiation, transport, aiSink, m.defaults)
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		s.Close()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	count := len(m.sessions)
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":        "Manager.Create",
		"session_id":      s.ID(),
		"active_sessions": count,
	}).Info("Session registered")

	return s, nil
}

// Get returns the session for a call ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close tears down and removes one session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// CloseAll tears down every active session, as on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.CloseAll",
		"closed":   len(sessions),
	}).Info("All sessions closed")
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
