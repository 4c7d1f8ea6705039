package transport

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Manager assigns connection handles to sessions and tracks the live ones.
type Manager struct {
	next     atomic.Uint64
	mu       sync.RWMutex
	sessions map[ConnID]Session
}

func NewManager() *Manager { return &Manager{sessions: make(map[ConnID]Session)} }

// Add registers s and returns its handle.
func (m *Manager) Add(s Session) ConnID {
	id := ConnID(m.next.Add(1))
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return id
}

// Get returns the session for id, or nil.
func (m *Manager) Get(id ConnID) Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Remove forgets id and returns its session without closing it.
func (m *Manager) Remove(id ConnID) Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[id]
	delete(m.sessions, id)
	return s
}

// Close closes and forgets the session for id. It reports whether one existed.
func (m *Manager) Close(id ConnID) bool {
	s := m.Remove(id)
	if s == nil {
		return false
	}
	_ = s.Close()
	return true
}

// CloseAll closes every tracked session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[ConnID]Session)
	m.mu.Unlock()
	for _, s := range all {
		_ = s.Close()
	}
}

// List returns all live handles in ascending order.
func (m *Manager) List() []ConnID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ConnID, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
