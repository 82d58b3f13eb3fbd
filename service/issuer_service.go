package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/botcha/core"
	"github.com/layer-3/botcha/ports"
)

const (
	DefaultAccessTTL    = 15 * time.Minute
	DefaultRefreshTTL   = time.Hour
	DefaultChallengeTTL = 30 * time.Second
	DefaultTimeLimit    = 10 * time.Second
	DefaultProblemCount = 5

	minProblem = 100000
	maxProblem = 999999
)

// IssuerService handles challenge issuance and token minting
type IssuerService struct {
	tokenizer ports.Tokenizer
	store     ports.Store
	eventPub  ports.EventPublisher
	solver    ports.Solver
	logger    *slog.Logger
	now       func() time.Time

	accessTTL    time.Duration
	refreshTTL   time.Duration
	challengeTTL time.Duration
	timeLimit    time.Duration
	problemCount int
}

// Option configures an IssuerService
type Option func(*IssuerService)

func WithAccessTTL(d time.Duration) Option    { return func(s *IssuerService) { s.accessTTL = d } }
func WithRefreshTTL(d time.Duration) Option   { return func(s *IssuerService) { s.refreshTTL = d } }
func WithChallengeTTL(d time.Duration) Option { return func(s *IssuerService) { s.challengeTTL = d } }
func WithTimeLimit(d time.Duration) Option    { return func(s *IssuerService) { s.timeLimit = d } }
func WithProblemCount(n int) Option           { return func(s *IssuerService) { s.problemCount = n } }
func WithLogger(l *slog.Logger) Option        { return func(s *IssuerService) { s.logger = l } }
func WithClock(now func() time.Time) Option   { return func(s *IssuerService) { s.now = now } }

// NewIssuerService creates a new issuer service
func NewIssuerService(
	tokenizer ports.Tokenizer,
	store ports.Store,
	eventPub ports.EventPublisher,
	solver ports.Solver,
	opts ...Option,
) *IssuerService {
	s := &IssuerService{
		tokenizer:    tokenizer,
		store:        store,
		eventPub:     eventPub,
		solver:       solver,
		logger:       slog.New(slog.DiscardHandler),
		now:          time.Now,
		accessTTL:    DefaultAccessTTL,
		refreshTTL:   DefaultRefreshTTL,
		challengeTTL: DefaultChallengeTTL,
		timeLimit:    DefaultTimeLimit,
		problemCount: DefaultProblemCount,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RedeemRequest carries a solution submitted for a token
type RedeemRequest struct {
	ChallengeID string
	Answers     []string
	Audience    string
	AppID       string
	ClientIP    string // Bound into the token when not empty
}

// CreateChallenge generates a new challenge, optionally scoped to an app
func (s *IssuerService) CreateChallenge(ctx context.Context, appID string) (*core.Challenge, error) {
	problems := make([]int, s.problemCount)
	for i := range problems {
		n, err := rand.Int(rand.Reader, big.NewInt(maxProblem-minProblem+1))
		if err != nil {
			return nil, fmt.Errorf("failed to generate problem: %w", err)
		}
		problems[i] = minProblem + int(n.Int64())
	}

	now := s.now()
	challenge := &core.Challenge{
		ID:        uuid.New().String(),
		Problems:  problems,
		TimeLimit: s.timeLimit,
		AppID:     appID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.challengeTTL),
	}

	if err := s.store.SaveChallenge(ctx, challenge, s.challengeTTL); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return challenge, nil
}

// CheckSolution consumes the challenge and verifies the answers, returning the solve time
func (s *IssuerService) CheckSolution(ctx context.Context, challengeID string, answers []string, appID string) (time.Duration, error) {
	challenge, err := s.store.ConsumeChallenge(ctx, challengeID)
	if err != nil {
		if errors.Is(err, core.ErrChallengeNotFound) {
			return 0, fmt.Errorf("%w: %w", core.ErrInvalidChallenge, err)
		}
		return 0, fmt.Errorf("failed to load challenge: %w", err)
	}

	solveTime := s.now().Sub(challenge.IssuedAt)
	if challenge.TimeLimit > 0 && solveTime > challenge.TimeLimit {
		return 0, core.ErrChallengeExpired
	}

	if challenge.AppID != appID {
		return 0, core.ErrAppMismatch
	}

	if !answersMatch(s.solver.Solve(challenge.Problems), answers) {
		return 0, core.ErrWrongAnswers
	}

	return solveTime, nil
}

// Redeem exchanges a correct solution for an access token and a refresh token
func (s *IssuerService) Redeem(ctx context.Context, req RedeemRequest) (*core.Grant, error) {
	solveTime, err := s.CheckSolution(ctx, req.ChallengeID, req.Answers, req.AppID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	identity := &core.Identity{
		ChallengeID:   req.ChallengeID,
		TokenID:       uuid.New().String(),
		AppID:         req.AppID,
		Audience:      req.Audience,
		ClientIP:      req.ClientIP,
		SolveTime:     solveTime,
		IssuedAt:      now,
		AccessExpiry:  now.Add(s.accessTTL),
		RefreshID:     uuid.New().String(),
		RefreshExpiry: now.Add(s.refreshTTL),
	}

	accessToken, err := s.tokenizer.IdentityToAccessToken(identity)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	refreshToken, err := s.tokenizer.IdentityToRefreshToken(identity)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	s.publish(ctx, "issued", s.eventPub.PublishIssued, identity)

	return &core.Grant{
		AccessToken:      accessToken,
		ExpiresIn:        s.accessTTL,
		RefreshToken:     refreshToken,
		RefreshExpiresIn: s.refreshTTL,
		SolveTime:        solveTime,
	}, nil
}

// Refresh mints a new access token from a refresh token. The refresh token is not rotated.
func (s *IssuerService) Refresh(ctx context.Context, refreshTokenStr string) (*core.Grant, error) {
	identity, err := s.tokenizer.RefreshTokenToIdentity(refreshTokenStr)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh token: %w", err)
	}

	invalidated, err := s.store.IsTokenInvalidated(ctx, identity.RefreshID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token invalidation: %w", err)
	}

	if invalidated {
		return nil, core.ErrTokenInvalidated
	}

	now := s.now()
	identity.TokenID = uuid.New().String()
	identity.IssuedAt = now
	identity.AccessExpiry = now.Add(s.accessTTL)

	accessToken, err := s.tokenizer.IdentityToAccessToken(identity)
	if err != nil {
		return nil, fmt.Errorf("failed to create new access token: %w", err)
	}

	s.publish(ctx, "refreshed", s.eventPub.PublishRefreshed, identity)

	return &core.Grant{
		AccessToken: accessToken,
		ExpiresIn:   s.accessTTL,
	}, nil
}

// Revoke invalidates a refresh token
func (s *IssuerService) Revoke(ctx context.Context, refreshTokenStr string) error {
	identity, err := s.tokenizer.RefreshTokenToIdentity(refreshTokenStr)
	if err != nil {
		// An expired refresh token can no longer be used, so there is nothing to revoke
		if errors.Is(err, core.ErrTokenExpired) {
			return nil
		}
		return fmt.Errorf("invalid refresh token: %w", err)
	}

	remainingTime := identity.RefreshExpiry.Sub(s.now())
	if remainingTime <= 0 {
		return nil
	}

	if err := s.store.InvalidateToken(ctx, identity.RefreshID, remainingTime); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	s.publish(ctx, "revoked", s.eventPub.PublishRevoked, identity)

	return nil
}

// publish logs but does not fail the operation: the token state is already settled
func (s *IssuerService) publish(ctx context.Context, kind string, fn func(context.Context, ports.TokenEvent) error, identity *core.Identity) {
	event := ports.TokenEvent{
		ChallengeID: identity.ChallengeID,
		TokenID:     identity.TokenID,
		RefreshID:   identity.RefreshID,
		AppID:       identity.AppID,
		Audience:    identity.Audience,
	}
	if err := fn(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish token event", "event", kind, "challenge_id", identity.ChallengeID, "error", err)
	}
}

func answersMatch(expected, got []string) bool {
	if len(expected) != len(got) {
		return false
	}
	ok := 1
	for i := range expected {
		ok &= subtle.ConstantTimeCompare([]byte(expected[i]), []byte(got[i]))
	}
	return ok == 1
}
