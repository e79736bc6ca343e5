package session

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager indexes live sessions by id and by principal. A principal may
// hold any number of concurrent sessions.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	byPrincipal map[string]map[*Session]struct{}
}

func NewManager() *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		byPrincipal: make(map[string]map[*Session]struct{}),
	}
}

func (m *Manager) Register(s *Session) {
	m.mu.Lock()
	m.sessions[s.ID] = s
	if m.byPrincipal[s.Principal.ID] == nil {
		m.byPrincipal[s.Principal.ID] = make(map[*Session]struct{})
	}
	m.byPrincipal[s.Principal.ID][s] = struct{}{}
	count := len(m.byPrincipal[s.Principal.ID])
	m.mu.Unlock()

	log.Info().
		Str("sessionId", s.ID).
		Str("principalId", s.Principal.ID).
		Str("role", string(s.Principal.Role)).
		Int("principalSessions", count).
		Msg("session registered")
}

func (m *Manager) Unregister(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok {
		return
	}
	delete(m.sessions, s.ID)

	if set, ok := m.byPrincipal[s.Principal.ID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(m.byPrincipal, s.Principal.ID)
		}
	}

	log.Info().
		Str("sessionId", s.ID).
		Str("principalId", s.Principal.ID).
		Msg("session unregistered")
}

func (m *Manager) SessionsOf(principalID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.byPrincipal[principalID]
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every live session. Transports observe Done and tear
// themselves down.
func (m *Manager) CloseAll(reason CloseReason) int {
	m.mu.RLock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.RUnlock()

	for _, s := range all {
		s.Close(reason)
	}
	return len(all)
}
