package domain

import (
	"sync"
	"time"
)

type Session struct {
	ID            string
	UserID        string
	Authenticated bool
	CreatedAt     time.Time
	LastActiveAt  time.Time
	mu            sync.RWMutex
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Authenticate tags the session with a verified user id. It returns the
// previous id so callers can move user-index entries.
func (s *Session) Authenticate(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.UserID
	s.UserID = userID
	s.Authenticated = true
	s.LastActiveAt = time.Now()
	return prev
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Authenticated
}

func (s *Session) GetUserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.UserID
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActiveAt = time.Now()
}
