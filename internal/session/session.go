// Package session holds the authenticated user contract. Hosting and joining
// duels require a session; its absence is an authorization gap handled by the
// caller, never a system error.
package session

import "sync"

// Session is an authenticated user.
type Session struct {
	UserID      string
	Username    string
	AccessToken string
}

// Store owns the current session for the lifetime of the app. It is safe for
// concurrent readers.
type Store struct {
	mu      sync.RWMutex
	current *Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{}
}

// Set replaces the current session.
func (s *Store) Set(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := sess
	s.current = &copied
}

// Clear removes the current session.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

// Current returns the active session, or nil when signed out.
func (s *Store) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	copied := *s.current
	return &copied
}
