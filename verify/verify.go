// Package verify validates BOTCHA access tokens on the resource server side.
//
// Verification is stateless: a token is accepted based on its HS256 signature,
// its registered claims, its type claim and the optional audience and client IP
// bindings. The issuer is never contacted. Failures are reported as a Result
// with a Kind rather than as an error, so callers can map every outcome to the
// same 401 response.
package verify

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/botcha/core"
)

// ErrMissingSecret is returned by New when no secret is configured
var ErrMissingSecret = errors.New("verification secret is required")

// Kind classifies why a token was rejected
type Kind string

const (
	KindNone             Kind = ""
	KindExpired          Kind = "expired"
	KindInvalidSignature Kind = "invalid_signature"
	KindMalformed        Kind = "malformed"
	KindWrongType        Kind = "wrong_type"
	KindAudienceMismatch Kind = "audience_mismatch"
	KindClientIPMismatch Kind = "client_ip_mismatch"
	KindMissingClaim     Kind = "missing_claim"
	KindMisconfigured    Kind = "misconfigured"
	KindFailed           Kind = "failed"
)

// Payload is the decoded claim set of a valid token
type Payload struct {
	Subject   string // Challenge id that was solved
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string // jti
	Type      string
	SolveTime time.Duration
	Audience  string // Empty when the token has no audience
	ClientIP  string // Empty when the token is not bound to an IP
	AppID     string
}

// Result is the outcome of one verification
type Result struct {
	Valid   bool
	Payload *Payload
	Kind    Kind
	Error   string
}

func invalid(kind Kind, format string, args ...any) Result {
	return Result{Kind: kind, Error: fmt.Sprintf(format, args...)}
}

// Options are the optional constraints checked after signature and type
type Options struct {
	Audience string
	ClientIP string
}

// Option sets a verification constraint
type Option func(*Options)

// WithAudience requires the token audience to match exactly
func WithAudience(audience string) Option {
	return func(o *Options) { o.Audience = audience }
}

// WithClientIP requires the token to be bound to this client IP
func WithClientIP(ip string) Option {
	return func(o *Options) { o.ClientIP = ip }
}

// Verifier checks tokens against one shared secret. It is safe for concurrent use.
type Verifier struct {
	secret   []byte
	defaults Options
	parser   *jwt.Parser
}

// New creates a Verifier. Options given here apply to every call and can be
// overridden per call.
func New(secret string, opts ...Option) (*Verifier, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	v := &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}
	for _, opt := range opts {
		opt(&v.defaults)
	}
	return v, nil
}

// Verify validates a token with a one-off secret. An empty secret yields a
// KindMisconfigured result.
func Verify(token, secret string, opts ...Option) Result {
	v, err := New(secret)
	if err != nil {
		return invalid(KindMisconfigured, "Token verification failed: %v", err)
	}
	return v.Verify(token, opts...)
}

// Verify validates token and returns the decoded payload on success
func (v *Verifier) Verify(token string, opts ...Option) Result {
	o := v.defaults
	for _, opt := range opts {
		opt(&o)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return invalid(KindMalformed, "Invalid token: token is empty")
	}

	claims := &Claims{}
	if _, err := v.parser.ParseWithClaims(token, claims, v.keyFunc); err != nil {
		return classify(err)
	}

	if missing := claims.missingClaim(); missing != "" {
		return invalid(KindMissingClaim, "Invalid token: missing required claim '%s'", missing)
	}

	if claims.Type != core.TokenTypeVerified {
		return invalid(KindWrongType, "Invalid token type: expected '%s', got '%s'", core.TokenTypeVerified, claims.Type)
	}

	if o.Audience != "" && !slices.Contains(claims.Audience, o.Audience) {
		return invalid(KindAudienceMismatch, "Token audience mismatch: expected '%s', got '%s'", o.Audience, strings.Join(claims.Audience, ","))
	}

	if o.ClientIP != "" && claims.ClientIP != o.ClientIP {
		return invalid(KindClientIPMismatch, "Client IP mismatch: expected '%s', got '%s'", o.ClientIP, claims.ClientIP)
	}

	return Result{Valid: true, Payload: claims.payload()}
}

func (v *Verifier) keyFunc(*jwt.Token) (any, error) {
	return v.secret, nil
}

func classify(err error) Result {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return invalid(KindMalformed, "Invalid token: %v", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return invalid(KindInvalidSignature, "Invalid token: %v", err)
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return invalid(KindMissingClaim, "Invalid token: %v", err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return invalid(KindExpired, "Token has expired")
	default:
		return invalid(KindFailed, "Token verification failed: %v", err)
	}
}

// ExtractBearerToken returns the token from an Authorization header value
func ExtractBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return "", false
	}
	return header[len(prefix):], true
}
