// Package app wires the pipeline to its production collaborators. Both the
// API and the collector process build the same graph.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/geocoder89/taskintegrator/internal/config"
	"github.com/geocoder89/taskintegrator/internal/db"
	"github.com/geocoder89/taskintegrator/internal/notifications"
	"github.com/geocoder89/taskintegrator/internal/observability"
	"github.com/geocoder89/taskintegrator/internal/pipeline"
	"github.com/geocoder89/taskintegrator/internal/queue/inbound"
	"github.com/geocoder89/taskintegrator/internal/queue/redisclient"
	"github.com/geocoder89/taskintegrator/internal/repo/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type App struct {
	Cfg      config.Config
	Log      *slog.Logger
	Registry *prometheus.Registry
	Prom     *observability.Prom

	Pool      *pgxpool.Pool
	Redis     *redisclient.Client
	Inbound   *inbound.Queue
	Publisher *notifications.ProtectedPublisher
	Service   *pipeline.Service
}

// New connects to Postgres and Redis, prepares schema and queue, and builds
// the pipeline service. name identifies the process to both stores. Callers
// must Close the result.
func New(ctx context.Context, cfg config.Config, name string, log *slog.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := observability.NewProm(reg)

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DBURL,
		MaxConns: int32(cfg.DBMaxConns),
		AppName:  name,
	})
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	if err := db.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	if cfg.ConfigSeedFile != "" {
		n, err := db.SeedConfig(ctx, pool, cfg.ConfigNamespace(), cfg.ConfigSeedFile)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("seed config: %w", err)
		}
		log.Info("config.seeded", "namespace", cfg.ConfigNamespace(), "keys", n)
	}

	rc := redisclient.New(redisclient.Config{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		DB:         cfg.RedisDB,
		ClientName: name,
	})
	if err := rc.Ping(ctx); err != nil {
		pool.Close()
		_ = rc.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	queue := inbound.New(rc.Raw(), inbound.Config{
		Stream:   cfg.InboundStream,
		Consumer: cfg.WorkerID,
	}, prom)
	if err := queue.Setup(ctx); err != nil {
		pool.Close()
		_ = rc.Close()
		return nil, fmt.Errorf("inbound queue setup: %w", err)
	}

	publisher := notifications.NewProtectedPublisher(
		notifications.NewRedisPublisher(rc.Raw(), prom),
		notifications.ProtectedPublisherConfig{
			Timeout:          cfg.PublishTimeout,
			FailureThreshold: cfg.BreakerFailures,
			Cooldown:         cfg.BreakerCooldown,
		},
	)

	svc := pipeline.NewService(
		pipeline.ServiceConfig{
			Stack:             cfg.Stack(),
			Namespace:         cfg.ConfigNamespace(),
			PollRounds:        cfg.PollRounds,
			MaxMessages:       cfg.MaxMessages,
			SubmitConcurrency: cfg.SubmitConcurrency,
			EventConcurrency:  cfg.EventConcurrency,
		},
		postgres.NewConfigRepo(pool, prom),
		pipeline.DialMarketplace,
		postgres.NewTaskRoutesRepo(pool, prom),
		queue,
		publisher,
		prom,
		log,
	)

	return &App{
		Cfg:       cfg,
		Log:       log,
		Registry:  reg,
		Prom:      prom,
		Pool:      pool,
		Redis:     rc,
		Inbound:   queue,
		Publisher: publisher,
		Service:   svc,
	}, nil
}

// PingDB satisfies readiness checks.
func (a *App) PingDB(ctx context.Context) error {
	return a.Pool.Ping(ctx)
}

func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		a.Log.Warn("redis.close_failed", "err", err)
	}
	a.Pool.Close()
}
