package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/portfolio-builder/internal/ai"
	"github.com/iliyamo/portfolio-builder/internal/config"
	"github.com/iliyamo/portfolio-builder/internal/database"
	"github.com/iliyamo/portfolio-builder/internal/handler"
	"github.com/iliyamo/portfolio-builder/internal/middleware"
	"github.com/iliyamo/portfolio-builder/internal/observability"
	"github.com/iliyamo/portfolio-builder/internal/queue"
	"github.com/iliyamo/portfolio-builder/internal/ratelimit"
	"github.com/iliyamo/portfolio-builder/internal/repository"
	"github.com/iliyamo/portfolio-builder/internal/router"
	"github.com/iliyamo/portfolio-builder/internal/security"
	"github.com/iliyamo/portfolio-builder/internal/service"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.Load()
	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env); err != nil {
		log.Warn("sentry disabled", "error", err)
	}
	defer observability.FlushSentry()

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		observability.FlushSentry()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keys, err := security.LoadKeyRing(cfg.PrivateKeyPath, cfg.PublicKeyPath)
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return err
	}
	defer db.Close()
	if cfg.MigrateOnStart {
		if err := database.Migrate(ctx, db, log); err != nil {
			return err
		}
	}

	rlCfg := config.LoadRateLimitConfig()
	redisCfg := config.LoadRedisConfig()
	rdb, err := config.NewRedisClient(redisCfg)
	if err != nil {
		if rlCfg.Enabled && rlCfg.Backend == "redis" {
			return err
		}
		log.Warn("redis unavailable, caches disabled", "redis", redisCfg.String(), "error", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}
	var cmdable redis.Cmdable
	if rdb != nil {
		cmdable = rdb
	}

	// denylist rows outlive their tokens only until the next sweep
	revoked := repository.NewRevokedTokenRepo(db)
	go sweepRevoked(ctx, revoked, cfg.RevocationSweep, log)

	tokens := security.NewTokenService(keys, security.TokenConfig{
		AccessTTL:  cfg.AccessTTL(),
		RefreshTTL: cfg.RefreshTTL(),
		Issuer:     cfg.Issuer,
	}, security.WithDenylist(revoked))
	vault := security.NewPasswordVault(security.Argon2Params{
		Time:    cfg.Argon2Time,
		Memory:  cfg.Argon2MemoryKiB,
		Threads: cfg.Argon2Threads,
	})
	users := repository.NewUserRepo(db)
	guard := middleware.NewSessionGuard(tokens, users, log)

	var limiter middleware.Admitter
	if rlCfg.Enabled {
		policy := ratelimit.Policy{PerMinute: rlCfg.PerMinute, PerHour: rlCfg.PerHour}
		if rlCfg.Backend == "redis" {
			limiter = ratelimit.New(ratelimit.NewRedisStore(rdb, rlCfg.Prefix), policy)
		} else {
			store := ratelimit.NewMemoryStore()
			go store.Run(ctx, rlCfg.SweepInterval)
			limiter = ratelimit.New(store, policy)
		}
		log.Info("rate limiter ready", "backend", rlCfg.Backend, "per_minute", rlCfg.PerMinute, "per_hour", rlCfg.PerHour)
	}

	aiCfg := config.LoadAIConfig()
	gemini, err := ai.NewGemini(ctx, aiCfg)
	if err != nil {
		return err
	}
	gen := ai.NewCachedGenerator(gemini, cmdable, aiCfg.CacheTTL, log)
	if aiCfg.APIKey == "" {
		log.Warn("GOOGLE_API_KEY not set, generation endpoints will answer 503")
	}

	qCfg := config.LoadQueueConfig()
	var events service.EventPublisher = service.NopPublisher{}
	if qCfg.URL != "" {
		events = service.NewAMQPPublisher(qCfg.URL, log)
		if qCfg.ConsumerEnabled {
			go func() {
				if err := queue.StartGenerationConsumer(ctx, qCfg.URL, qCfg.LogDir, log); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("generation consumer stopped", "error", err)
				}
			}()
		}
	}

	svc := service.NewPortfolioService(gen, repository.NewPortfolioRepo(db), events, log)
	defer svc.Close()
	cache := middleware.NewResponseCache(config.LoadCacheConfig(), cmdable, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(observability.Recover(log))
	e.Use(observability.RequestLogger(log))

	deps := map[string]handler.Pinger{"database": db}
	if rdb != nil {
		deps["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	router.RegisterRoutes(e, deps)
	router.RegisterAuth(e, handler.NewAuthHandler(users, tokens, vault, log), guard)
	router.RegisterPortfolio(e, handler.NewPortfolioHandler(svc, cache, log), guard, middleware.NewRateLimit(limiter, log), cache)

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func sweepRevoked(ctx context.Context, repo *repository.RevokedTokenRepo, every time.Duration, log *slog.Logger) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.DeleteExpired(ctx, now)
			if err != nil {
				log.Warn("revoked token sweep failed", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("revoked tokens purged", "count", n)
			}
		}
	}
}
