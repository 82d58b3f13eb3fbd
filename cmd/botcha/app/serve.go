package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/botcha/adapters/events"
	"github.com/layer-3/botcha/adapters/solver"
	"github.com/layer-3/botcha/adapters/store"
	"github.com/layer-3/botcha/adapters/tokenizer"
	"github.com/layer-3/botcha/config"
	"github.com/layer-3/botcha/internal/obs"
	"github.com/layer-3/botcha/ports"
	"github.com/layer-3/botcha/service"
	transport "github.com/layer-3/botcha/transport/http"
	"github.com/layer-3/botcha/verify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const limiterIdleTime = 10 * time.Minute

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the issuer HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger, err := obs.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Pretty)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	st, publisher, closeBackends, err := setupBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackends()

	tok, err := tokenizer.NewJWTTokenizer(cfg.Secret)
	if err != nil {
		return err
	}
	verifier, err := verify.New(cfg.Secret)
	if err != nil {
		return err
	}

	issuer := service.NewIssuerService(tok, st, publisher, solver.SHA256,
		service.WithAccessTTL(cfg.Tokens.AccessTTL),
		service.WithRefreshTTL(cfg.Tokens.RefreshTTL),
		service.WithChallengeTTL(cfg.Tokens.ChallengeTTL),
		service.WithTimeLimit(cfg.Tokens.TimeLimit),
		service.WithProblemCount(cfg.Tokens.ProblemCount),
		service.WithLogger(logger),
	)

	routerCfg := transport.RouterConfig{
		Verifier:     verifier,
		Metrics:      obs.NewServerMetrics(reg),
		Gatherer:     reg,
		BindClientIP: cfg.HTTP.BindClientIP,
		GatedAppID:   cfg.HTTP.GatedAppID,
		Logger:       logger,
	}
	if cfg.HTTP.RateLimit.PerSecond > 0 {
		routerCfg.RateLimiter = transport.NewRateLimiter(cfg.HTTP.RateLimit.PerSecond, cfg.HTTP.RateLimit.Burst)
		go pruneLimiter(ctx, routerCfg.RateLimiter, logger)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           transport.SetupRouter(issuer, routerCfg),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("issuer listening", "addr", cfg.HTTP.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// setupBackends picks the redis or in-memory store and event transport
func setupBackends(ctx context.Context, cfg *config.Config, logger *slog.Logger) (ports.Store, ports.EventPublisher, func(), error) {
	wmLogger := watermill.NewSlogLogger(logger)
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("failed to close backend", "error", err)
			}
		}
	}

	var (
		st        ports.Store
		publisher message.Publisher
	)

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		closers = append(closers, client.Close)

		if err := client.Ping(ctx).Err(); err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		st = store.NewRedisStore(client)

		if cfg.Events.Enabled {
			maxlens := map[string]int64{}
			if cfg.Events.MaxLen > 0 {
				for _, topic := range events.Topics {
					maxlens[topic] = cfg.Events.MaxLen
				}
			}
			publisher, err = redisstream.NewPublisher(redisstream.PublisherConfig{
				Client:  client,
				Maxlens: maxlens,
			}, wmLogger)
			if err != nil {
				closeAll()
				return nil, nil, nil, fmt.Errorf("failed to create redis stream publisher: %w", err)
			}
		}
		logger.Info("using redis backend", "addr", opts.Addr)
	} else {
		st = store.NewMemoryStore()

		if cfg.Events.Enabled {
			pubSub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
			if err := events.LogEvents(ctx, pubSub, logger); err != nil {
				_ = pubSub.Close()
				closeAll()
				return nil, nil, nil, err
			}
			publisher = pubSub
		}
		logger.Info("using in-memory backend")
	}

	if publisher == nil {
		return st, events.NopPublisher{}, closeAll, nil
	}
	// The publisher is closed before the redis client it writes to
	closers = append(closers, publisher.Close)
	return st, events.NewWatermillPublisher(publisher), closeAll, nil
}

func pruneLimiter(ctx context.Context, rl *transport.RateLimiter, logger *slog.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := rl.Cleanup(limiterIdleTime); removed > 0 {
				logger.Debug("pruned idle rate limiters", "removed", removed)
			}
		}
	}
}
