package botcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/layer-3/botcha/core"
)

// Issuer endpoints, relative to the base URL
const (
	PathChallenge = "/v1/token"
	PathVerify    = "/v1/token/verify"
	PathRefresh   = "/v1/token/refresh"
	PathRevoke    = "/v1/token/revoke"
)

const maxErrorPreview = 512

func (c *Client) requestChallenge(ctx context.Context) (*core.Challenge, error) {
	query := url.Values{}
	if c.appID != "" {
		query.Set("app_id", c.appID)
	}

	var resp challengeResponse
	if err := c.call(ctx, http.MethodGet, PathChallenge, query, nil, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("%w: challenge has no id", ErrMalformedResponse)
	}

	return &core.Challenge{
		ID:       resp.ID,
		Problems: resp.Problems,
		AppID:    c.appID,
	}, nil
}

func (c *Client) verifySolution(ctx context.Context, challengeID string, answers []string) (*verifyResponse, error) {
	req := verifyRequest{
		ID:       challengeID,
		Answers:  answers,
		Audience: c.audience,
		AppID:    c.appID,
	}

	var resp verifyResponse
	if err := c.call(ctx, http.MethodPost, PathVerify, nil, req, &resp); err != nil {
		return nil, err
	}
	if !resp.Verified {
		return nil, ErrNotVerified
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("%w: no token in verify response", ErrMalformedResponse)
	}
	return &resp, nil
}

func (c *Client) refreshAccess(ctx context.Context, refreshToken string) (*refreshResponse, error) {
	var resp refreshResponse
	if err := c.call(ctx, http.MethodPost, PathRefresh, nil, refreshRequest{RefreshToken: refreshToken}, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%w: no access_token in refresh response", ErrMalformedResponse)
	}
	return &resp, nil
}

// Revoke invalidates the cached refresh token at the issuer and clears the session
func (c *Client) Revoke(ctx context.Context) error {
	refreshToken := c.session.RefreshToken()
	if refreshToken == "" {
		return ErrNoRefreshToken
	}
	if err := c.call(ctx, http.MethodPost, PathRevoke, nil, refreshRequest{RefreshToken: refreshToken}, nil); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	c.session.Clear()
	return nil
}

// call performs one JSON round trip with the issuer. out may be nil.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setUserAgent(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorPreview))
		return &HTTPError{StatusCode: resp.StatusCode, URL: endpoint, Message: string(preview)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

func (c *Client) setUserAgent(req *http.Request) {
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}
