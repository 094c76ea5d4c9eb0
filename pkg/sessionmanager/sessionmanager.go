// Package sessionmanager holds the central server's browser sessions.
package sessionmanager

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// CookieName carries the central session ID in the browser.
const CookieName = "centra_session"

// UserSession is one authenticated browser session.
type UserSession struct {
	SubjectID   string
	Username    string
	TenantSlugs []string
	Expires     time.Time
}

// Manager is an in-memory session store.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]UserSession
	lifetime time.Duration
}

func New(lifetime time.Duration) *Manager {
	return &Manager{
		sessions: make(map[string]UserSession),
		lifetime: lifetime,
	}
}

func generateSessionID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}

	return hex.EncodeToString(b), nil
}

// Save stores a session and returns its ID.
func (m *Manager) Save(session UserSession) (string, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return "", err
	}

	if session.Expires.IsZero() {
		session.Expires = time.Now().Add(m.lifetime)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[sessionID] = session

	return sessionID, nil
}

// Get returns a live session. Expired sessions are removed on access.
func (m *Manager) Get(sessionID string) (UserSession, bool) {
	m.mu.RLock()
	session, exists := m.sessions[sessionID]
	m.mu.RUnlock()

	if !exists {
		return UserSession{}, false
	}

	if time.Now().After(session.Expires) {
		m.Delete(sessionID)

		return UserSession{}, false
	}

	return session, true
}

// Delete removes a session.
func (m *Manager) Delete(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
}
