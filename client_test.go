package botcha

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/botcha/adapters/solver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeIssuer implements the issuer endpoints with configurable responses
type fakeIssuer struct {
	t *testing.T

	mu           sync.Mutex
	challenges   int32
	verifies     int32
	refreshes    int32
	verifyBody   map[string]any
	expiresIn    any // nil omits the field
	refreshToken string
	refreshFails bool
	tokenFor     func(n int32) string
	lastVerify   verifyRequest
	lastQuery    string
	userAgent    string
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	return &fakeIssuer{
		t:            t,
		expiresIn:    900,
		refreshToken: "refresh-1",
		tokenFor:     func(n int32) string { return fmt.Sprintf("access-%d", n) },
	}
}

func (f *fakeIssuer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userAgent = r.Header.Get("User-Agent")

	switch r.URL.Path {
	case PathChallenge:
		atomic.AddInt32(&f.challenges, 1)
		f.lastQuery = r.URL.RawQuery
		writeJSON(w, http.StatusOK, map[string]any{"id": "ch-1", "problems": []int{123456, 789012}, "timeLimit": 10000})

	case PathVerify:
		n := atomic.AddInt32(&f.verifies, 1)
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&f.lastVerify))
		if !slices.Equal(solver.Solve([]int{123456, 789012}), f.lastVerify.Answers) {
			writeJSON(w, http.StatusOK, map[string]any{"verified": false})
			return
		}
		body := map[string]any{"verified": true, "token": f.tokenFor(n), "solveTimeMs": 3.5}
		if f.expiresIn != nil {
			body["expires_in"] = f.expiresIn
		}
		if f.refreshToken != "" {
			body["refresh_token"] = f.refreshToken
			body["refresh_expires_in"] = 3600
		}
		writeJSON(w, http.StatusOK, body)

	case PathRefresh:
		n := atomic.AddInt32(&f.refreshes, 1)
		var req refreshRequest
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		if f.refreshFails || req.RefreshToken != f.refreshToken {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid refresh token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"access_token": fmt.Sprintf("refreshed-%d", n), "expires_in": 900})

	case PathRevoke:
		w.WriteHeader(http.StatusOK)

	default:
		http.NotFound(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestClient(t *testing.T, issuer http.Handler, opts ...Option) (*Client, *testClock) {
	t.Helper()
	srv := httptest.NewServer(issuer)
	t.Cleanup(srv.Close)

	clk := &testClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithBaseURL(srv.URL), WithClock(clk.Now)}, opts...)
	c, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, clk
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	for _, u := range []string{"", "botcha.ai", "ftp://botcha.ai", "://bad"} {
		_, err := New(WithBaseURL(u))
		assert.ErrorIs(t, err, ErrInvalidBaseURL, u)
	}
}

func TestTokenAcquiresAndCaches(t *testing.T) {
	issuer := newFakeIssuer(t)
	reg := prometheus.NewRegistry()
	c, _ := newTestClient(t, issuer,
		WithAppID("app_1"),
		WithAudience("api.example.com"),
		WithAgentIdentity("test-agent/1.0"),
		WithRegisterer(reg),
	)
	ctx := context.Background()

	first, err := c.Token(ctx)
	require.NoError(t, err)
	second, err := c.Token(ctx)
	require.NoError(t, err)

	assert.Equal(t, "access-1", first)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, atomic.LoadInt32(&issuer.challenges))
	assert.EqualValues(t, 1, atomic.LoadInt32(&issuer.verifies))

	assert.Equal(t, "app_id=app_1", issuer.lastQuery)
	assert.Equal(t, "ch-1", issuer.lastVerify.ID)
	assert.Equal(t, "api.example.com", issuer.lastVerify.Audience)
	assert.Equal(t, "app_1", issuer.lastVerify.AppID)
	assert.Equal(t, "test-agent/1.0", issuer.userAgent)
	assert.Equal(t, "refresh-1", c.Session().RefreshToken())

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.Acquisitions.WithLabelValues("issued")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.Acquisitions.WithLabelValues("cache_hit")))
	n, err := testutil.GatherAndCount(reg, "botcha_client_solve_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTokenExpiryBoundary(t *testing.T) {
	issuer := newFakeIssuer(t)
	c, clk := newTestClient(t, issuer)
	ctx := context.Background()

	_, err := c.Token(ctx)
	require.NoError(t, err)

	// 900s lifetime: usable while more than 300s remain
	clk.Advance(599 * time.Second)
	token, err := c.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	// Exactly at the buffer the token is stale
	clk.Advance(time.Second)
	token, err = c.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.EqualValues(t, 2, atomic.LoadInt32(&issuer.verifies))
}

func TestTokenInsideBufferIsReacquired(t *testing.T) {
	issuer := newFakeIssuer(t)
	c, clk := newTestClient(t, issuer)

	c.Session().Set("cached", clk.Now().Add(240*time.Second), "")

	token, err := c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.EqualValues(t, 1, atomic.LoadInt32(&issuer.challenges))
}

func TestTokenExpiryFallbacks(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(2 * time.Hour)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)

	segment := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	payload := segment(fmt.Sprintf(`{"exp":%d}`, exp.Unix()))
	unknownAlg := segment(`{"alg":"ES256K","typ":"JWT"}`) + "." + payload + ".c2ln"
	plainHeader := "not-json." + payload + ".c2ln"
	padded := segment(`{"alg":"none"}`) + "." +
		base64.URLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"exp": %d}`, exp.Unix()))) + ".c2ln"

	tests := []struct {
		name      string
		token     string
		expiresIn any
		want      time.Time
	}{
		{name: "explicit lifetime", token: signed, expiresIn: 60, want: now.Add(time.Minute)},
		{name: "explicit zero lifetime", token: signed, expiresIn: 0, want: now},
		{name: "exp claim", token: signed, want: exp},
		{name: "exp claim with unregistered alg", token: unknownAlg, want: exp},
		{name: "exp claim with non-json header", token: plainHeader, want: exp},
		{name: "exp claim in padded segment", token: padded, want: exp},
		{name: "opaque token", token: "opaque", want: now.Add(300 * time.Second)},
		{name: "payload without exp", token: segment("{}") + "." + segment(`{"sub":"x"}`) + ".c2ln", want: now.Add(300 * time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer := newFakeIssuer(t)
			issuer.expiresIn = tt.expiresIn
			issuer.tokenFor = func(int32) string { return tt.token }
			c, _ := newTestClient(t, issuer)

			_, err := c.Token(context.Background())
			require.NoError(t, err)

			_, got := c.Session().AccessToken()
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
		})
	}
}

func TestTokenIssuerErrors(t *testing.T) {
	t.Run("http error", func(t *testing.T) {
		c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
		}))

		_, err := c.Token(context.Background())
		require.Error(t, err)
		assert.True(t, IsHTTPError(err, http.StatusServiceUnavailable))

		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Contains(t, httpErr.Message, "down for maintenance")
		assert.True(t, strings.HasSuffix(httpErr.URL, PathChallenge))
	})

	t.Run("not verified", func(t *testing.T) {
		c, _ := newTestClient(t, newFakeIssuer(t), WithSolver(SolverFunc(func(p []int) []string {
			return make([]string, len(p))
		})))

		_, err := c.Token(context.Background())
		assert.ErrorIs(t, err, ErrNotVerified)
		token, _ := c.Session().AccessToken()
		assert.Empty(t, token)
	})
}

func TestTokenConcurrentCallersShareOneExchange(t *testing.T) {
	issuer := newFakeIssuer(t)
	release := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == PathChallenge {
			<-release
		}
		issuer.ServeHTTP(w, r)
	})
	c, _ := newTestClient(t, slow)

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := c.Token(context.Background())
			assert.NoError(t, err)
			tokens[i] = token
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&issuer.challenges))
	for _, token := range tokens {
		assert.Equal(t, "access-1", token)
	}
}

func TestRefresh(t *testing.T) {
	t.Run("without refresh token", func(t *testing.T) {
		issuer := newFakeIssuer(t)
		c, _ := newTestClient(t, issuer)

		_, err := c.Refresh(context.Background())
		assert.ErrorIs(t, err, ErrNoRefreshToken)
		assert.Zero(t, atomic.LoadInt32(&issuer.refreshes))
	})

	t.Run("replaces access token only", func(t *testing.T) {
		issuer := newFakeIssuer(t)
		c, clk := newTestClient(t, issuer)
		ctx := context.Background()

		_, err := c.Token(ctx)
		require.NoError(t, err)

		token, err := c.Refresh(ctx)
		require.NoError(t, err)
		assert.Equal(t, "refreshed-1", token)

		cached, exp := c.Session().AccessToken()
		assert.Equal(t, "refreshed-1", cached)
		assert.True(t, clk.Now().Add(900*time.Second).Equal(exp))
		assert.Equal(t, "refresh-1", c.Session().RefreshToken())
	})

	t.Run("failure leaves session untouched", func(t *testing.T) {
		issuer := newFakeIssuer(t)
		issuer.refreshFails = true
		c, _ := newTestClient(t, issuer)
		ctx := context.Background()

		_, err := c.Token(ctx)
		require.NoError(t, err)
		before, beforeExp := c.Session().AccessToken()

		_, err = c.Refresh(ctx)
		assert.True(t, IsHTTPError(err, http.StatusUnauthorized))

		after, afterExp := c.Session().AccessToken()
		assert.Equal(t, before, after)
		assert.Equal(t, beforeExp, afterExp)
		assert.Equal(t, "refresh-1", c.Session().RefreshToken())
	})
}

func TestRevokeClearsSession(t *testing.T) {
	c, _ := newTestClient(t, newFakeIssuer(t))
	ctx := context.Background()

	_, err := c.Token(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Revoke(ctx))

	token, _ := c.Session().AccessToken()
	assert.Empty(t, token)
	assert.ErrorIs(t, c.Revoke(ctx), ErrNoRefreshToken)
}

func TestCloseClearsSession(t *testing.T) {
	c, _ := newTestClient(t, newFakeIssuer(t))

	_, err := c.Token(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())

	token, _ := c.Session().AccessToken()
	assert.Empty(t, token)
	assert.Empty(t, c.Session().RefreshToken())
}

func TestSharedSession(t *testing.T) {
	issuer := newFakeIssuer(t)
	a, _ := newTestClient(t, issuer)
	b, _ := newTestClient(t, issuer, WithSession(a.Session()))

	ta, err := a.Token(context.Background())
	require.NoError(t, err)
	tb, err := b.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ta, tb)
	assert.EqualValues(t, 1, atomic.LoadInt32(&issuer.verifies))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}
