package ports

import (
	"context"
	"time"

	"github.com/layer-3/botcha/core"
)

// Store keeps issued challenges until they are redeemed and tracks invalidated refresh tokens
type Store interface {
	// SaveChallenge keeps a challenge until it is consumed or the ttl elapses
	SaveChallenge(ctx context.Context, challenge *core.Challenge, ttl time.Duration) error

	// ConsumeChallenge returns the challenge and removes it, so it can be redeemed only once.
	// It returns core.ErrChallengeNotFound for unknown or already consumed ids.
	ConsumeChallenge(ctx context.Context, id string) (*core.Challenge, error)

	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)
}
