package net

import "sync"

// Manager tracks live sessions by ID. All methods are safe for
// concurrent use; it is read from accept loops, ingress workers, the
// simulation goroutine, and the chat bridge.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[uint64]*Session)}
}

func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
}

// Remove takes a session out of the table and returns it, or nil if the
// ID was already gone. Callers use the nil return to make teardown
// side effects run once.
func (m *Manager) Remove(id uint64) *Session {
	m.mu.Lock()
	s := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	return s
}

func (m *Manager) Get(id uint64) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	return s, ok
}

func (m *Manager) Count() int {
	m.mu.RLock()
	n := len(m.sessions)
	m.mu.RUnlock()
	return n
}

// ForEach calls fn for every live session. fn must not call back into
// the Manager.
func (m *Manager) ForEach(fn func(*Session)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		fn(s)
	}
}

// CloseAll disconnects every session. The snapshot keeps Disconnect's
// close callback (which removes the session) off the lock.
func (m *Manager) CloseAll() {
	m.mu.RLock()
	snapshot := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		snapshot = append(snapshot, s)
	}
	m.mu.RUnlock()

	for _, s := range snapshot {
		s.Disconnect()
	}
}
