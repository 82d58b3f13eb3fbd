package core

import "time"

const (
	// TokenTypeVerified is the type claim of an access token minted for a solved challenge
	TokenTypeVerified = "botcha-verified"

	// TokenTypeRefresh is the type claim of a refresh token
	TokenTypeRefresh = "botcha-refresh"

	// RefreshBuffer is how long before expiry a cached access token stops being used
	RefreshBuffer = 5 * time.Minute

	// DefaultAccessLifetime is assumed when an issuer response states no lifetime
	// and the token carries no readable exp claim
	DefaultAccessLifetime = 300 * time.Second
)

// Headers carrying the answer to an inline challenge
const (
	HeaderChallengeID = "X-Botcha-Challenge-Id"
	HeaderAnswers     = "X-Botcha-Answers" // JSON array of fingerprints
	HeaderAppID       = "X-Botcha-App-Id"
)

// Challenge represents a puzzle set issued by the token service
type Challenge struct {
	ID        string        // Unique identifier for the challenge
	Problems  []int         // Ordered 6-digit puzzles
	TimeLimit time.Duration // How long the client has to answer
	AppID     string        // Optional tenant the challenge was issued for
	IssuedAt  time.Time     // When the challenge was created
	ExpiresAt time.Time     // When the challenge can no longer be redeemed
}

// Solution holds the answers for a challenge, in problem order
type Solution struct {
	ChallengeID string
	Answers     []string
}

// Grant is the result of a successful token exchange or refresh
type Grant struct {
	AccessToken      string
	ExpiresIn        time.Duration // Zero when the issuer did not state a lifetime
	RefreshToken     string        // Empty when no refresh token was issued
	RefreshExpiresIn time.Duration
	SolveTime        time.Duration
}

// Identity describes the holder of a verified access token
type Identity struct {
	ChallengeID   string // Subject of the token
	TokenID       string // jti
	AppID         string // Optional tenant
	Audience      string // Optional audience claim
	ClientIP      string // Optional client IP binding
	SolveTime     time.Duration
	IssuedAt      time.Time
	AccessExpiry  time.Time
	RefreshID     string // jti of the refresh token minted alongside, if any
	RefreshExpiry time.Time
}
