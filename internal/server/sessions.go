package server

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// SessionManager maps opaque session tokens handed to agents onto session ids.
// Tokens live only in memory; a restarted server makes agents reconnect.
// A session accepts one upload at a time; see Acquire.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]int64
	owned    map[int64]bool
	newToken func() string
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]int64),
		owned:    make(map[int64]bool),
		newToken: func() string { return strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
}

// Add issues a fresh token for sessionID.
func (m *SessionManager) Add(sessionID int64) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		token := m.newToken()
		if _, taken := m.sessions[token]; taken {
			continue
		}
		m.sessions[token] = sessionID
		return token
	}
}

func (m *SessionManager) Lookup(token string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.sessions[token]
	return id, ok
}

// Acquire claims sessionID for one sample upload. It returns false while
// another upload for the same session is in flight; otherwise the caller must
// call release when done.
func (m *SessionManager) Acquire(sessionID int64) (release func(), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owned[sessionID] {
		return nil, false
	}
	m.owned[sessionID] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.owned, sessionID)
			m.mu.Unlock()
		})
	}, true
}

func (m *SessionManager) Forget(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// ForgetSession removes all tokens pointing at sessionID and returns how many
// were dropped.
func (m *SessionManager) ForgetSession(sessionID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for token, id := range m.sessions {
		if id == sessionID {
			delete(m.sessions, token)
			n++
		}
	}
	return n
}

func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
