package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/botcha/internal/obs"
	"github.com/layer-3/botcha/service"
	"github.com/layer-3/botcha/verify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds the collaborators of the issuer router
type RouterConfig struct {
	Verifier     *verify.Verifier
	Metrics      *obs.ServerMetrics
	Gatherer     prometheus.Gatherer // Serves /metrics when set
	RateLimiter  *RateLimiter        // Applied to challenge and verify routes when set
	BindClientIP bool
	GatedAppID   string // App the inline challenge route issues challenges for
	Logger       *slog.Logger
}

// SetupRouter sets up the Gin router
func SetupRouter(issuer *service.IssuerService, cfg RouterConfig) *gin.Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(cfg.Logger))
	if cfg.Metrics != nil {
		router.Use(RequestMetrics(cfg.Metrics))
	}

	// Create handlers
	handlers := NewIssuerHandlers(issuer, cfg.BindClientIP, cfg.Logger)

	// Token routes
	token := router.Group("/v1/token")
	{
		minting := token.Group("")
		if cfg.RateLimiter != nil {
			minting.Use(cfg.RateLimiter.Middleware())
		}
		minting.GET("", handlers.Challenge)
		minting.POST("/verify", handlers.Verify)

		token.POST("/refresh", handlers.Refresh)
		token.POST("/revoke", handlers.Revoke)
	}

	// Protected API routes
	api := router.Group("/api")
	{
		api.GET("/me", RequireToken(cfg.Verifier, cfg.Metrics, cfg.BindClientIP), handlers.Me)
		api.Any("/gated", InlineChallenge(issuer, cfg.GatedAppID, cfg.Logger), handlers.Gated)
	}

	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	return router
}
