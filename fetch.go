package botcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/layer-3/botcha/core"
)

// Inline challenge retry headers
const (
	HeaderChallengeID = core.HeaderChallengeID
	HeaderAnswers     = core.HeaderAnswers
	HeaderAppID       = core.HeaderAppID
)

const (
	maxInlineChallengeBody = 1 << 20
	maxDrain               = 64 << 10
)

// Fetch sends a GET request through Do
func (c *Client) Fetch(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(req)
}

// Do sends req with a bearer token attached. A 401 is retried once with a
// refreshed token, falling back to a full challenge exchange; a 403 carrying
// an inline challenge is retried once with the solution attached. Any other
// response is returned as is.
//
// The request body is buffered when req.GetBody is nil so it can be resent.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	base, err := rewindable(req)
	if err != nil {
		return nil, err
	}

	var token string
	if c.autoToken {
		token, err = c.Token(ctx)
		if err != nil {
			return nil, err
		}
	}

	resp, err := c.send(base, token, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && c.autoToken {
		resp, token, err = c.recoverUnauthorized(base, resp)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode == http.StatusForbidden {
		return c.answerInlineChallenge(base, resp, token)
	}
	return resp, nil
}

// recoverUnauthorized runs the single 401 retry path: refresh and resend,
// then if that is unavailable or still 401, reacquire from scratch and resend.
func (c *Client) recoverUnauthorized(base *http.Request, resp *http.Response) (*http.Response, string, error) {
	ctx := base.Context()

	if c.session.RefreshToken() != "" {
		token, err := c.Refresh(ctx)
		switch {
		case err == nil:
			drain(resp)
			c.metrics.Retries.WithLabelValues("refresh").Inc()
			retried, err := c.send(base, token, nil)
			if err != nil {
				return nil, "", err
			}
			if retried.StatusCode != http.StatusUnauthorized {
				return retried, token, nil
			}
			resp = retried
		case !isRetryable(err):
			drain(resp)
			return nil, "", err
		default:
			c.logger.DebugContext(ctx, "refresh failed, reacquiring token", "error", err)
		}
	}

	c.session.Clear()
	token, err := c.Token(ctx)
	drain(resp)
	if err != nil {
		return nil, "", err
	}

	c.metrics.Retries.WithLabelValues("reacquire").Inc()
	retried, err := c.send(base, token, nil)
	if err != nil {
		return nil, "", err
	}
	return retried, token, nil
}

// answerInlineChallenge solves a challenge embedded in a 403 body and resends
// once. A 403 without a challenge is returned with its body intact.
func (c *Client) answerInlineChallenge(base *http.Request, resp *http.Response, token string) (*http.Response, error) {
	original := resp.Body
	data, err := io.ReadAll(io.LimitReader(original, maxInlineChallengeBody))
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(data), original), original}
	if err != nil {
		return resp, nil
	}

	var payload inlineChallenge
	if json.Unmarshal(data, &payload) != nil ||
		payload.Challenge == nil ||
		payload.Challenge.ID == "" ||
		payload.Challenge.Problems == nil {
		return resp, nil
	}

	answers, err := json.Marshal(c.solve(payload.Challenge.Problems))
	if err != nil {
		return resp, nil
	}

	extra := http.Header{}
	extra.Set(HeaderChallengeID, payload.Challenge.ID)
	extra.Set(HeaderAnswers, string(answers))
	if c.appID != "" {
		extra.Set(HeaderAppID, c.appID)
	}

	drain(resp)
	c.metrics.Retries.WithLabelValues("inline_challenge").Inc()
	c.logger.DebugContext(base.Context(), "answering inline challenge", "challenge_id", payload.Challenge.ID)
	return c.send(base, token, extra)
}

// send issues one attempt of base with the bearer token and extra headers applied
func (c *Client) send(base *http.Request, token string, extra http.Header) (*http.Response, error) {
	attempt := base.Clone(base.Context())
	if base.GetBody != nil {
		body, err := base.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to rewind request body: %w", err)
		}
		attempt.Body = body
	}

	if token != "" {
		attempt.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range extra {
		attempt.Header[k] = v
	}
	c.setUserAgent(attempt)

	return c.httpClient.Do(attempt)
}

// rewindable returns a copy of req whose body can be replayed through GetBody
func rewindable(req *http.Request) (*http.Request, error) {
	base := req.Clone(req.Context())
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return base, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to buffer request body: %w", err)
	}
	base.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	base.ContentLength = int64(len(data))
	return base, nil
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	_ = resp.Body.Close()
}
