package tokenizer

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/botcha/core"
	"github.com/layer-3/botcha/ports"
)

// ErrMissingSecret is returned when the tokenizer is built without a signing secret
var ErrMissingSecret = errors.New("signing secret is required")

// JWTTokenizer implements the Tokenizer interface using HS256 JWTs
type JWTTokenizer struct {
	secret []byte
}

// NewJWTTokenizer creates a new JWT tokenizer signing with the shared secret
func NewJWTTokenizer(secret string) (ports.Tokenizer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	return &JWTTokenizer{secret: []byte(secret)}, nil
}

// IdentityToAccessToken converts an Identity to a signed access token
func (j *JWTTokenizer) IdentityToAccessToken(identity *core.Identity) (string, error) {
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ChallengeID,
			ID:        identity.TokenID,
			ExpiresAt: jwt.NewNumericDate(identity.AccessExpiry),
			IssuedAt:  jwt.NewNumericDate(identity.IssuedAt),
			Audience:  audience(identity.Audience),
		},
		Type:      core.TokenTypeVerified,
		SolveTime: float64(identity.SolveTime.Milliseconds()),
		ClientIP:  identity.ClientIP,
		AppID:     identity.AppID,
	}

	signedToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return signedToken, nil
}

// IdentityToRefreshToken converts an Identity to a signed refresh token
func (j *JWTTokenizer) IdentityToRefreshToken(identity *core.Identity) (string, error) {
	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ChallengeID,
			ID:        identity.RefreshID, // Use RefreshID as the JWT ID for the refresh token
			ExpiresAt: jwt.NewNumericDate(identity.RefreshExpiry),
			IssuedAt:  jwt.NewNumericDate(identity.IssuedAt),
			Audience:  audience(identity.Audience),
		},
		Type:      core.TokenTypeRefresh,
		SolveTime: identity.SolveTime.Milliseconds(),
		ClientIP:  identity.ClientIP,
		AppID:     identity.AppID,
	}

	signedToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return signedToken, nil
}

// RefreshTokenToIdentity parses a refresh token and returns the identity it was minted for
func (j *JWTTokenizer) RefreshTokenToIdentity(tokenStr string) (*core.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &RefreshClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return j.secret, nil
	}, jwt.WithExpirationRequired())

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, core.ErrTokenExpired
		}
		return nil, fmt.Errorf("failed to parse refresh token: %w", core.ErrInvalidToken)
	}

	if !token.Valid {
		return nil, core.ErrInvalidToken
	}

	claims, ok := token.Claims.(*RefreshClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	// An access token must never be accepted where a refresh token is expected
	if claims.Type != core.TokenTypeRefresh || claims.ID == "" {
		return nil, core.ErrInvalidToken
	}

	identity := &core.Identity{
		ChallengeID:   claims.Subject,
		RefreshID:     claims.ID,
		AppID:         claims.AppID,
		ClientIP:      claims.ClientIP,
		SolveTime:     time.Duration(claims.SolveTime) * time.Millisecond,
		RefreshExpiry: claims.ExpiresAt.Time,
	}
	if len(claims.Audience) > 0 {
		identity.Audience = claims.Audience[0]
	}
	if claims.IssuedAt != nil {
		identity.IssuedAt = claims.IssuedAt.Time
	}

	return identity, nil
}

func audience(aud string) jwt.ClaimStrings {
	if aud == "" {
		return nil
	}
	return jwt.ClaimStrings{aud}
}
