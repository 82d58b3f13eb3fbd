package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/botcha/core"
	"github.com/layer-3/botcha/ports"
)

type challengeEntry struct {
	challenge core.Challenge
	expiresAt time.Time
}

// MemoryStore is an in-memory implementation of the Store interface
type MemoryStore struct {
	challenges        map[string]challengeEntry
	invalidatedTokens map[string]time.Time
	mu                sync.Mutex
	now               func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() ports.Store {
	return newMemoryStore(time.Now)
}

func newMemoryStore(now func() time.Time) *MemoryStore {
	return &MemoryStore{
		challenges:        make(map[string]challengeEntry),
		invalidatedTokens: make(map[string]time.Time),
		now:               now,
	}
}

// SaveChallenge keeps a copy of the challenge until ttl elapses
func (s *MemoryStore) SaveChallenge(ctx context.Context, challenge *core.Challenge, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)

	c := *challenge
	c.Problems = append([]int(nil), challenge.Problems...)
	s.challenges[challenge.ID] = challengeEntry{challenge: c, expiresAt: now.Add(ttl)}
	return nil
}

// ConsumeChallenge removes and returns a live challenge
func (s *MemoryStore) ConsumeChallenge(ctx context.Context, id string) (*core.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.challenges[id]
	if !exists {
		return nil, core.ErrChallengeNotFound
	}
	delete(s.challenges, id)

	if !s.now().Before(entry.expiresAt) {
		return nil, core.ErrChallengeNotFound
	}

	c := entry.challenge
	return &c, nil
}

// InvalidateToken marks a token as invalidated
func (s *MemoryStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)

	expiryTime := now.Add(expiry)
	// Only extend, never shorten, an existing invalidation
	if storedExpiry, exists := s.invalidatedTokens[tokenID]; exists && storedExpiry.After(expiryTime) {
		return nil
	}
	s.invalidatedTokens[tokenID] = expiryTime
	return nil
}

// IsTokenInvalidated checks if a token is invalidated
func (s *MemoryStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiryTime, exists := s.invalidatedTokens[tokenID]
	if !exists {
		return false, nil
	}

	// Check if the token invalidation has expired
	if s.now().After(expiryTime) {
		return false, nil
	}

	return true, nil
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	for id, entry := range s.challenges {
		if !now.Before(entry.expiresAt) {
			delete(s.challenges, id)
		}
	}
	for id, expiry := range s.invalidatedTokens {
		if now.After(expiry) {
			delete(s.invalidatedTokens, id)
		}
	}
}
