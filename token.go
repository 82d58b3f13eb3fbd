package botcha

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/botcha/core"
)

// challengeResponse is the body of GET /v1/token
type challengeResponse struct {
	ID        string `json:"id"`
	Problems  []int  `json:"problems"`
	TimeLimit int64  `json:"timeLimit"`
}

// verifyRequest is the body of POST /v1/token/verify
type verifyRequest struct {
	ID       string   `json:"id"`
	Answers  []string `json:"answers"`
	Audience string   `json:"audience,omitempty"`
	AppID    string   `json:"app_id,omitempty"`
}

type verifyResponse struct {
	Verified         bool     `json:"verified"`
	Token            string   `json:"token"`
	SolveTimeMs      float64  `json:"solveTimeMs"`
	ExpiresIn        *float64 `json:"expires_in"`
	RefreshToken     string   `json:"refresh_token"`
	RefreshExpiresIn *float64 `json:"refresh_expires_in"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string   `json:"access_token"`
	ExpiresIn   *float64 `json:"expires_in"`
}

// inlineChallenge is the 403 body of a resource demanding a solved challenge
type inlineChallenge struct {
	Challenge *struct {
		ID       string `json:"id"`
		Problems []int  `json:"problems"`
	} `json:"challenge"`
}

// grantedLifetime converts an expires_in field. ok is false when the issuer
// omitted it; an explicit zero or negative value is honored.
func grantedLifetime(v *float64) (time.Duration, bool) {
	if v == nil {
		return 0, false
	}
	return time.Duration(*v * float64(time.Second)), true
}

// tokenExpiry reads the exp claim from the payload segment alone, without
// looking at the header or the signature. Padded segments are tolerated.
func tokenExpiry(token string) (time.Time, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, false
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return time.Time{}, false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// expiresAt resolves the absolute expiry of a freshly granted access token:
// the granted lifetime, else the token's own exp claim, else the default lifetime.
func expiresAt(now time.Time, token string, expiresIn *float64) time.Time {
	if lifetime, ok := grantedLifetime(expiresIn); ok {
		return now.Add(lifetime)
	}
	if exp, ok := tokenExpiry(token); ok {
		return exp
	}
	return now.Add(core.DefaultAccessLifetime)
}
