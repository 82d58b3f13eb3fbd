package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/botcha/core"
	"github.com/layer-3/botcha/ports"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces every key the store writes
const DefaultKeyPrefix = "botcha:"

// RedisStore is a Redis implementation of the Store interface
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

type challengeRecord struct {
	ID          string    `json:"id"`
	Problems    []int     `json:"problems"`
	TimeLimitMs int64     `json:"time_limit_ms"`
	AppID       string    `json:"app_id,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient) ports.Store {
	return &RedisStore{
		client: client,
		prefix: DefaultKeyPrefix,
	}
}

func (s *RedisStore) challengeKey(id string) string {
	return s.prefix + "challenge:" + id
}

func (s *RedisStore) invalidatedKey(tokenID string) string {
	return s.prefix + "invalidated:" + tokenID
}

// SaveChallenge stores the challenge as JSON with the given ttl
func (s *RedisStore) SaveChallenge(ctx context.Context, challenge *core.Challenge, ttl time.Duration) error {
	payload, err := json.Marshal(challengeRecord{
		ID:          challenge.ID,
		Problems:    challenge.Problems,
		TimeLimitMs: challenge.TimeLimit.Milliseconds(),
		AppID:       challenge.AppID,
		IssuedAt:    challenge.IssuedAt,
		ExpiresAt:   challenge.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode challenge: %w", err)
	}

	if err := s.client.Set(ctx, s.challengeKey(challenge.ID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save challenge: %w", err)
	}

	return nil
}

// ConsumeChallenge atomically reads and deletes the challenge
func (s *RedisStore) ConsumeChallenge(ctx context.Context, id string) (*core.Challenge, error) {
	payload, err := s.client.GetDel(ctx, s.challengeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}

	var rec challengeRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}

	return &core.Challenge{
		ID:        rec.ID,
		Problems:  rec.Problems,
		TimeLimit: time.Duration(rec.TimeLimitMs) * time.Millisecond,
		AppID:     rec.AppID,
		IssuedAt:  rec.IssuedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// InvalidateToken marks a token as invalidated in Redis
func (s *RedisStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	if err := s.client.Set(ctx, s.invalidatedKey(tokenID), "1", expiry).Err(); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	return nil
}

// IsTokenInvalidated checks if a token is invalidated in Redis
func (s *RedisStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	val, err := s.client.Exists(ctx, s.invalidatedKey(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token invalidation: %w", err)
	}

	return val > 0, nil
}
