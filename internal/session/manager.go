package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Manager owns the live session table. It is safe for concurrent use and
// carries no process-global state; the daemon constructs exactly one.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns an empty session table.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create registers a new session for a storyboard run.
func (m *Manager) Create(storyboardID string, totalScenes int) *Session {
	s := newSession(uuid.NewString(), storyboardID, totalScenes)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns a live session by identifier.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove finishes a session if necessary and drops it from the table.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s does not exist", id)
	}
	if !s.Finished() {
		s.Finish(s.Snapshot().Status)
	}
	return nil
}

// Live reports whether a session exists and has not finished. The recovery
// scanner uses this to avoid double-running a storyboard whose recorded
// session still belongs to this process.
func (m *Manager) Live(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	return ok && !s.Finished()
}

// ActiveForStoryboard returns the unfinished session for a storyboard, if
// one exists.
func (m *Manager) ActiveForStoryboard(storyboardID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.StoryboardID == storyboardID && !s.Finished() {
			return s, true
		}
	}
	return nil, false
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
