package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/botcha/core"
	"github.com/layer-3/botcha/service"
)

// IssuerHandlers contains HTTP handlers for the token endpoints
type IssuerHandlers struct {
	issuer       *service.IssuerService
	bindClientIP bool
	logger       *slog.Logger
}

// NewIssuerHandlers creates new issuer handlers. With bindClientIP the caller's
// address is written into every access token.
func NewIssuerHandlers(issuer *service.IssuerService, bindClientIP bool, logger *slog.Logger) *IssuerHandlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &IssuerHandlers{
		issuer:       issuer,
		bindClientIP: bindClientIP,
		logger:       logger,
	}
}

// Challenge handles GET /v1/token
func (h *IssuerHandlers) Challenge(c *gin.Context) {
	challenge, err := h.issuer.CreateChallenge(c.Request.Context(), c.Query("app_id"))
	if err != nil {
		h.logger.ErrorContext(c.Request.Context(), "failed to create challenge", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create challenge"})
		return
	}

	c.JSON(http.StatusOK, challengeBody(challenge))
}

// Verify handles the solution exchange
func (h *IssuerHandlers) Verify(c *gin.Context) {
	var req struct {
		ID       string   `json:"id" binding:"required"`
		Answers  []string `json:"answers" binding:"required"`
		Audience string   `json:"audience"`
		AppID    string   `json:"app_id"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	redeem := service.RedeemRequest{
		ChallengeID: req.ID,
		Answers:     req.Answers,
		Audience:    req.Audience,
		AppID:       req.AppID,
	}
	if h.bindClientIP {
		redeem.ClientIP = c.ClientIP()
	}

	grant, err := h.issuer.Redeem(c.Request.Context(), redeem)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Verification failed"

		// A wrong answer is a well-formed exchange that did not verify
		switch {
		case errors.Is(err, core.ErrWrongAnswers):
			c.JSON(http.StatusOK, gin.H{"verified": false, "error": "Incorrect answers"})
			return
		case errors.Is(err, core.ErrInvalidChallenge):
			statusCode = http.StatusBadRequest
			errorMsg = "Invalid or already used challenge"
		case errors.Is(err, core.ErrChallengeExpired):
			statusCode = http.StatusBadRequest
			errorMsg = "Challenge time limit exceeded"
		case errors.Is(err, core.ErrAppMismatch):
			statusCode = http.StatusForbidden
			errorMsg = "Challenge was issued for a different app"
		default:
			h.logger.ErrorContext(c.Request.Context(), "failed to redeem challenge", "error", err)
		}

		c.JSON(statusCode, gin.H{"verified": false, "error": errorMsg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"verified":           true,
		"token":              grant.AccessToken,
		"solveTimeMs":        grant.SolveTime.Milliseconds(),
		"expires_in":         int64(grant.ExpiresIn.Seconds()),
		"refresh_token":      grant.RefreshToken,
		"refresh_expires_in": int64(grant.RefreshExpiresIn.Seconds()),
	})
}

// Refresh handles token refresh
func (h *IssuerHandlers) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	grant, err := h.issuer.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Failed to refresh token"

		switch {
		case errors.Is(err, core.ErrTokenExpired):
			statusCode = http.StatusUnauthorized
			errorMsg = "Refresh token expired"
		case errors.Is(err, core.ErrTokenInvalidated):
			statusCode = http.StatusUnauthorized
			errorMsg = "Refresh token has been revoked"
		case errors.Is(err, core.ErrInvalidToken):
			statusCode = http.StatusUnauthorized
			errorMsg = "Invalid refresh token"
		default:
			h.logger.ErrorContext(c.Request.Context(), "failed to refresh token", "error", err)
		}

		c.JSON(statusCode, gin.H{"error": errorMsg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": grant.AccessToken,
		"token_type":   "Bearer",
		"expires_in":   int64(grant.ExpiresIn.Seconds()),
	})
}

// Revoke invalidates a refresh token
func (h *IssuerHandlers) Revoke(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.issuer.Revoke(c.Request.Context(), req.RefreshToken); err != nil {
		if errors.Is(err, core.ErrInvalidToken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid refresh token"})
			return
		}
		h.logger.ErrorContext(c.Request.Context(), "failed to revoke token", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to revoke token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

// Me returns the verified claims of the caller
func (h *IssuerHandlers) Me(c *gin.Context) {
	payload, ok := PayloadFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token not found in context"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sub":         payload.Subject,
		"jti":         payload.ID,
		"iat":         payload.IssuedAt.Unix(),
		"exp":         payload.ExpiresAt.Unix(),
		"solveTimeMs": payload.SolveTime.Milliseconds(),
		"aud":         payload.Audience,
		"client_ip":   payload.ClientIP,
		"app_id":      payload.AppID,
	})
}

// Gated is served behind the inline challenge
func (h *IssuerHandlers) Gated(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"passed": true})
}

func challengeBody(challenge *core.Challenge) gin.H {
	return gin.H{
		"id":        challenge.ID,
		"problems":  challenge.Problems,
		"timeLimit": challenge.TimeLimit.Milliseconds(),
	}
}
