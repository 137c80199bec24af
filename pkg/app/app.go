// Package app wires configuration into a ready research engine. The server
// and the CLI share it.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/mikeboe/deep-research/pkg/cache"
	"github.com/mikeboe/deep-research/pkg/concurrency"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/metrics"
	"github.com/mikeboe/deep-research/pkg/policy"
	"github.com/mikeboe/deep-research/pkg/provider"
	"github.com/mikeboe/deep-research/pkg/research"
)

type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *provider.Registry
	Metrics  *metrics.Metrics
	Cache    *cache.Cache
	Engine   *research.Engine
	// DB is nil unless a database URL is configured.
	DB *database.PostgresDB

	redis *redis.Client
}

// New connects the configured backends and builds the engine.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: provider.NewRegistry(cfg.ProviderSettings()),
		Metrics:  metrics.New(),
	}

	if cfg.Database.URL != "" {
		db, err := database.NewPostgresDB(ctx, cfg.Database.URL, cfg.Database.PoolOptions)
		if err != nil {
			return nil, err
		}
		a.DB = db
		if err := db.InitSchema(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	store, err := a.store(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Cache = cache.New(store, cfg.Cache.Config)
	a.Cache.Logger = logger
	a.Cache.Recorder = a.Metrics

	sem := concurrency.NewSemaphore(cfg.Research.MaxConcurrency)
	a.Metrics.ObservePermits(sem.InUse)
	requests := concurrency.NewRequestManager(cfg.Research.DedupWindow)
	requests.Logger = logger

	a.Engine = research.NewEngine(a.Registry, research.Options{
		Cache:          a.Cache,
		Semaphore:      sem,
		Requests:       requests,
		Budgets:        policy.DefaultTable(),
		Defaults:       cfg.Research.Defaults,
		Observer:       a.Metrics,
		Logger:         logger,
		MaxSourceChars: cfg.Research.MaxSourceChars,
	})
	logger.Info("Research engine ready",
		"cache", cfg.Cache.Backend,
		"history", a.DB != nil,
		"models", a.Registry.Models(),
		"search", a.Registry.Searches(),
	)
	return a, nil
}

func (a *App) store(ctx context.Context) (cache.Store, error) {
	switch a.Config.Cache.Backend {
	case "redis":
		client, err := cache.DialRedis(ctx, a.Config.Redis.Addr, a.Config.Redis.Password, a.Config.Redis.DB)
		if err != nil {
			return nil, err
		}
		a.redis = client
		return cache.NewRedisStore(client, a.Config.Redis.Prefix), nil
	case "postgres":
		if a.DB == nil {
			return nil, fmt.Errorf("cache backend postgres requires DATABASE_URL")
		}
		return cache.NewPostgresStore(a.DB.Pool), nil
	default:
		return cache.NewMemoryStore(), nil
	}
}

// Close releases the database and redis connections.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("Failed to close redis", "error", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// NewLogger returns a text logger at level (debug, info, warn or error).
func NewLogger(level string, w io.Writer) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}
