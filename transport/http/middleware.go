package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/botcha/core"
	"github.com/layer-3/botcha/internal/obs"
	"github.com/layer-3/botcha/service"
	"github.com/layer-3/botcha/verify"
)

const payloadKey = "botcha.payload"

// PayloadFromContext returns the claims stored by RequireToken
func PayloadFromContext(c *gin.Context) (*verify.Payload, bool) {
	v, ok := c.Get(payloadKey)
	if !ok {
		return nil, false
	}
	payload, ok := v.(*verify.Payload)
	return payload, ok
}

// RequireToken creates middleware that validates BOTCHA access tokens.
// With bindClientIP the token must carry the caller's address.
func RequireToken(verifier *verify.Verifier, metrics *obs.ServerMetrics, bindClientIP bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := verify.ExtractBearerToken(c.GetHeader("Authorization"))
		if !ok {
			unauthorized(c, "Missing or invalid Authorization header")
			return
		}

		var opts []verify.Option
		if bindClientIP {
			opts = append(opts, verify.WithClientIP(c.ClientIP()))
		}

		result := verifier.Verify(token, opts...)
		if metrics != nil {
			kind := string(result.Kind)
			if result.Valid {
				kind = "valid"
			}
			metrics.Verifications.WithLabelValues(kind).Inc()
		}
		if !result.Valid {
			unauthorized(c, result.Error)
			return
		}

		c.Set(payloadKey, result.Payload)
		c.Next()
	}
}

func unauthorized(c *gin.Context, detail string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "detail": detail})
}

// InlineChallenge creates middleware that demands a solved challenge on every
// request. Requests without an answer get a 403 carrying a fresh challenge
// scoped to appID.
func InlineChallenge(issuer *service.IssuerService, appID string, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		challengeID := c.GetHeader(core.HeaderChallengeID)
		if challengeID == "" {
			demandChallenge(c, issuer, appID, "Challenge required", logger)
			return
		}

		var answers []string
		if err := json.Unmarshal([]byte(c.GetHeader(core.HeaderAnswers)), &answers); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid " + core.HeaderAnswers + " header"})
			return
		}

		if sentAppID := c.GetHeader(core.HeaderAppID); sentAppID != "" && sentAppID != appID {
			demandChallenge(c, issuer, appID, "Challenge was issued for a different app", logger)
			return
		}

		if _, err := issuer.CheckSolution(ctx, challengeID, answers, appID); err != nil {
			if errors.Is(err, core.ErrInvalidChallenge) ||
				errors.Is(err, core.ErrChallengeExpired) ||
				errors.Is(err, core.ErrWrongAnswers) ||
				errors.Is(err, core.ErrAppMismatch) {
				demandChallenge(c, issuer, appID, "Challenge failed", logger)
				return
			}
			logger.ErrorContext(ctx, "failed to check inline challenge", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to check challenge"})
			return
		}

		c.Next()
	}
}

func demandChallenge(c *gin.Context, issuer *service.IssuerService, appID, reason string, logger *slog.Logger) {
	challenge, err := issuer.CreateChallenge(c.Request.Context(), appID)
	if err != nil {
		logger.ErrorContext(c.Request.Context(), "failed to create inline challenge", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to create challenge"})
		return
	}

	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"error":     reason,
		"challenge": challengeBody(challenge),
	})
}

// RequestMetrics records request counts and latencies by route
func RequestMetrics(metrics *obs.ServerMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.RequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		metrics.RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// RequestLogger logs method, path, status, duration
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.InfoContext(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
