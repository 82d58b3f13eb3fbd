// Package botcha is a client for BOTCHA issuers: it solves challenges, caches
// and refreshes the resulting bearer tokens, and transparently recovers
// requests that fail with 401 or demand an inline challenge with 403.
package botcha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/layer-3/botcha/adapters/solver"
	"github.com/layer-3/botcha/core"
	"github.com/layer-3/botcha/internal/obs"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultBaseURL = "https://botcha.ai"
	DefaultTimeout = 30 * time.Second
)

// Client acquires BOTCHA tokens and sends requests with them. It is safe for concurrent use;
// concurrent cache misses share a single challenge exchange.
type Client struct {
	baseURL    string
	appID      string
	audience   string
	autoToken  bool
	userAgent  string
	timeout    time.Duration
	buffer     time.Duration
	httpClient *http.Client
	solver     Solver
	session    *Session
	logger     *slog.Logger
	registerer prometheus.Registerer
	metrics    *obs.ClientMetrics
	now        func() time.Time

	flight singleflight.Group
}

// New creates a client
func New(opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:   DefaultBaseURL,
		autoToken: true,
		timeout:   DefaultTimeout,
		buffer:    core.RefreshBuffer,
		solver:    solver.SHA256,
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, c.baseURL)
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	if c.session == nil {
		c.session = NewSession()
	}
	c.metrics = obs.NewClientMetrics(c.registerer)
	return c, nil
}

// Session returns the session holding the client's tokens
func (c *Client) Session() *Session {
	return c.session
}

// Token returns a cached access token while it is valid for longer than the
// refresh buffer, otherwise it solves a fresh challenge.
func (c *Client) Token(ctx context.Context) (string, error) {
	if token, ok := c.session.usable(c.now(), c.buffer); ok {
		c.metrics.Acquisitions.WithLabelValues("cache_hit").Inc()
		return token, nil
	}

	v, err, _ := c.flight.Do("acquire", func() (any, error) {
		// Another caller may have finished an exchange while we waited
		if token, ok := c.session.usable(c.now(), c.buffer); ok {
			c.metrics.Acquisitions.WithLabelValues("cache_hit").Inc()
			return token, nil
		}
		token, err := c.acquire(ctx)
		if err != nil {
			c.metrics.Acquisitions.WithLabelValues("error").Inc()
			return nil, err
		}
		c.metrics.Acquisitions.WithLabelValues("issued").Inc()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) acquire(ctx context.Context) (string, error) {
	challenge, err := c.requestChallenge(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to request challenge: %w", err)
	}

	answers := c.solve(challenge.Problems)

	resp, err := c.verifySolution(ctx, challenge.ID, answers)
	if err != nil {
		return "", fmt.Errorf("failed to verify solution: %w", err)
	}

	now := c.now()
	expiry := expiresAt(now, resp.Token, resp.ExpiresIn)
	c.warnShortLifetime(ctx, expiry.Sub(now))

	c.session.setAccess(resp.Token, expiry)
	c.session.setRefresh(resp.RefreshToken)

	c.logger.DebugContext(ctx, "acquired token",
		"challenge_id", challenge.ID,
		"solve_time_ms", resp.SolveTimeMs,
		"expires_at", expiry,
		"refreshable", resp.RefreshToken != "",
	)
	return resp.Token, nil
}

// Refresh exchanges the cached refresh token for a new access token. The
// session is left untouched when the exchange fails.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	if c.session.RefreshToken() == "" {
		return "", ErrNoRefreshToken
	}

	v, err, _ := c.flight.Do("refresh", func() (any, error) {
		token, err := c.refresh(ctx)
		if err != nil {
			c.metrics.Refreshes.WithLabelValues("error").Inc()
			return nil, err
		}
		c.metrics.Refreshes.WithLabelValues("ok").Inc()
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) refresh(ctx context.Context) (string, error) {
	refreshToken := c.session.RefreshToken()
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	resp, err := c.refreshAccess(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	now := c.now()
	lifetime, ok := grantedLifetime(resp.ExpiresIn)
	if !ok {
		lifetime = core.DefaultAccessLifetime
	}
	c.warnShortLifetime(ctx, lifetime)
	c.session.setAccess(resp.AccessToken, now.Add(lifetime))

	c.logger.DebugContext(ctx, "refreshed token", "expires_at", now.Add(lifetime))
	return resp.AccessToken, nil
}

// Close drops the session's tokens and releases idle connections
func (c *Client) Close() error {
	c.session.Clear()
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) solve(problems []int) []string {
	start := time.Now()
	answers := c.solver.Solve(problems)
	c.metrics.SolveDuration.Observe(time.Since(start).Seconds())
	return answers
}

// A lifetime inside the buffer makes every later Token call reacquire
func (c *Client) warnShortLifetime(ctx context.Context, lifetime time.Duration) {
	if lifetime <= c.buffer {
		c.logger.WarnContext(ctx, "granted token lifetime does not exceed refresh buffer, it will not be cached",
			"lifetime", lifetime,
			"buffer", c.buffer,
		)
	}
}

// isRetryable reports whether a refresh failure should fall back to a full reacquire
func isRetryable(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
