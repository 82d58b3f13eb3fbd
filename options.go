package botcha

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Client
type Option func(*Client)

// WithBaseURL sets the issuer base URL. Defaults to DefaultBaseURL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithAppID scopes challenges and tokens to an application
func WithAppID(appID string) Option {
	return func(c *Client) { c.appID = appID }
}

// WithAudience requests an audience claim in issued tokens
func WithAudience(audience string) Option {
	return func(c *Client) { c.audience = audience }
}

// WithAutoToken controls whether Do attaches a bearer token and recovers from 401 responses.
// Enabled by default.
func WithAutoToken(enabled bool) Option {
	return func(c *Client) { c.autoToken = enabled }
}

// WithAgentIdentity sets the User-Agent sent on every request
func WithAgentIdentity(identity string) Option {
	return func(c *Client) { c.userAgent = identity }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-call timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithSolver replaces the challenge solver
func WithSolver(s Solver) Option {
	return func(c *Client) { c.solver = s }
}

// WithSession makes the client use, and share, an existing session
func WithSession(s *Session) Option {
	return func(c *Client) { c.session = s }
}

// WithRefreshBuffer overrides how long before expiry a cached token is replaced
func WithRefreshBuffer(d time.Duration) Option {
	return func(c *Client) { c.buffer = d }
}

// WithLogger sets the logger. Defaults to discarding output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRegisterer registers the client metrics on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.registerer = reg }
}

// WithClock replaces time.Now when judging token expiry
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}
