package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aegis-iam/aegis/internal/app"
	"github.com/aegis-iam/aegis/internal/audit"
	"github.com/aegis-iam/aegis/internal/authz"
	"github.com/aegis-iam/aegis/internal/entities"
	"github.com/aegis-iam/aegis/internal/grants"
	"github.com/aegis-iam/aegis/internal/observability"
	"github.com/aegis-iam/aegis/internal/platform/cache"
	"github.com/aegis-iam/aegis/internal/platform/db"
	"github.com/aegis-iam/aegis/internal/platform/resilience"
	"github.com/aegis-iam/aegis/internal/roles"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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
	entityResolver := entities.NewResolver(entities.NewRepository(dbpool), cfg.EntityTTL)
	multiLevel := authz.NewMultiLevel(memory, remote, bus, logger, metrics, cfg.CacheAdaptEvery)
	multiLevel.BindTree(entityResolver)
	if err := multiLevel.Start(ctx); err != nil {
		logger.Error("start cache", slog.Any("error", err))
		os.Exit(1)
	}
	defer multiLevel.Stop()

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		CoolDown:         cfg.BreakerCoolDown,
		OnTransition:     metrics.BreakerTransition,
	})
	executor := resilience.NewExecutor(breaker, resilience.NewRetryPolicy(resilience.DefaultRetryConfig()))

	rolesRepo := roles.NewRepository(dbpool)
	grantsRepo := grants.NewRepository(dbpool)

	emitter := audit.NewAsyncEmitter(logger, audit.NewRecorder(dbpool), cfg.AuditBuffer)
	defer emitter.Close()

	boundary := authz.NewBoundaryValidator(entityResolver, grantsRepo, executor)
	engine := authz.NewService(rolesRepo, multiLevel, boundary, executor, metrics, emitter, logger)

	rolesService := roles.NewService(rolesRepo, engine, multiLevel, logger)
	grantsService := grants.NewService(grantsRepo, engine, multiLevel, logger)

	identity := authz.Middleware{Service: engine, Logger: logger}

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		CheckHandler:    authz.NewHandler(logger, engine),
		RolesHandler:    roles.NewHandler(logger, rolesService),
		EntitiesHandler: entities.NewHandler(logger, entityResolver, multiLevel),
		GrantsHandler:   grants.NewHandler(logger, grantsService),
		Identity:        identity,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
