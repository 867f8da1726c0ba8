package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/aegis-iam/aegis/internal/app"
	"github.com/aegis-iam/aegis/internal/audit"
	"github.com/aegis-iam/aegis/internal/authz"
	"github.com/aegis-iam/aegis/internal/entities"
	"github.com/aegis-iam/aegis/internal/grants"
	jobmetrics "github.com/aegis-iam/aegis/internal/jobs"
	"github.com/aegis-iam/aegis/internal/observability"
	"github.com/aegis-iam/aegis/internal/platform/cache"
	"github.com/aegis-iam/aegis/internal/platform/db"
	"github.com/aegis-iam/aegis/internal/platform/resilience"
	"github.com/aegis-iam/aegis/internal/roles"
	"github.com/aegis-iam/aegis/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	memory := authz.NewMemory(authz.MemoryConfig{
		Capacity:    cfg.CacheCapacity,
		MinCapacity: cfg.CacheMinCapacity,
		MaxCapacity: cfg.CacheMaxCapacity,
		DecisionTTL: cfg.DecisionTTL,
		GrantSetTTL: cfg.GrantSetTTL,
	})
	remote := authz.NewDistributed(redisClient, cfg.DecisionTTL, cfg.GrantSetTTL)
	bus := authz.NewBus(redisClient, "", logger)
	entityResolver := entities.NewResolver(entities.NewRepository(pool), cfg.EntityTTL)
	multiLevel := authz.NewMultiLevel(memory, remote, bus, logger, metrics, cfg.CacheAdaptEvery)
	multiLevel.BindTree(entityResolver)
	if err := multiLevel.Start(ctx); err != nil {
		logger.Error("start cache", slog.Any("error", err))
		os.Exit(1)
	}
	defer multiLevel.Stop()

	executor := resilience.NewExecutor(
		resilience.NewBreaker(resilience.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			CoolDown:         cfg.BreakerCoolDown,
			OnTransition:     metrics.BreakerTransition,
		}),
		resilience.NewRetryPolicy(resilience.DefaultRetryConfig()),
	)

	rolesRepo := roles.NewRepository(pool)
	grantsRepo := grants.NewRepository(pool)
	recorder := audit.NewRecorder(pool)

	boundary := authz.NewBoundaryValidator(entityResolver, grantsRepo, executor)
	engine := authz.NewService(rolesRepo, multiLevel, boundary, executor, metrics, nil, logger)
	grantsService := grants.NewService(grantsRepo, engine, multiLevel, logger)
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskGrantExpiry, Handler: jobs.NewGrantExpiryHandler(grantsService, jobMetrics, logger)},
			{Type: jobs.TaskCacheWarmup, Handler: jobs.NewCacheWarmupHandler(engine, recorder, jobMetrics, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: jobs.NewGrantExpiryTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "15 1 * * *", Task: mustWarmupTask(logger), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func mustWarmupTask(logger *slog.Logger) *asynq.Task {
	task, err := jobs.NewCacheWarmupTask(jobs.CacheWarmupPayload{})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	return task
}
