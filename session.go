package botcha

import (
	"sync"
	"time"
)

// Session is the token state of one client: the cached access token, its
// absolute expiry and the refresh token. It is safe for concurrent use.
//
// A Session belongs to the Client that created it unless it is handed to
// another Client explicitly with WithSession.
type Session struct {
	mu           sync.RWMutex
	accessToken  string
	expiresAt    time.Time
	refreshToken string
}

// NewSession creates an empty session
func NewSession() *Session {
	return &Session{}
}

// AccessToken returns the cached access token and its expiry. The token is empty when none is cached.
func (s *Session) AccessToken() (string, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken, s.expiresAt
}

// RefreshToken returns the cached refresh token, or an empty string
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// Set replaces the whole session state, for example to restore a persisted session
func (s *Session) Set(accessToken string, expiresAt time.Time, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = accessToken
	s.expiresAt = expiresAt
	s.refreshToken = refreshToken
}

// Clear drops all cached tokens
func (s *Session) Clear() {
	s.Set("", time.Time{}, "")
}

// usable returns the cached token when it expires strictly after now+buffer
func (s *Session) usable(now time.Time, buffer time.Duration) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.accessToken == "" || !s.expiresAt.After(now.Add(buffer)) {
		return "", false
	}
	return s.accessToken, true
}

// setAccess replaces the access token and keeps the refresh token
func (s *Session) setAccess(accessToken string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = accessToken
	s.expiresAt = expiresAt
}

// setRefresh replaces the refresh token; an empty value keeps the current one
func (s *Session) setRefresh(refreshToken string) {
	if refreshToken == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshToken = refreshToken
}
