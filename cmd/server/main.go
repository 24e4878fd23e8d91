package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/oggyb/tubematch/internal/app"
	"github.com/oggyb/tubematch/internal/cache"
	"github.com/oggyb/tubematch/internal/config"
	"github.com/oggyb/tubematch/internal/db"
	"github.com/oggyb/tubematch/internal/logger"
	"github.com/oggyb/tubematch/internal/observability"
	"github.com/oggyb/tubematch/internal/server"
	"github.com/oggyb/tubematch/internal/service/explore"
	"github.com/oggyb/tubematch/internal/service/scheduler"
)

func main() {
	cfg := config.New()

	// Init logger (global singleton)
	logger.InitFromConfig(cfg)
	log := logger.L() // slog.Logger pointer

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(cfg, "tubematch-server", log)
	if err != nil {
		log.Error("failed to init tracing", "err", err)
		return
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	// Init DB
	database, err := db.NewDB(cfg)
	if err != nil {
		log.Error("failed to init db", "err", err)
		return
	}

	// Init Redis: overlap cache and queue connection
	redisCache := cache.NewRedisCache(cfg)
	queueClient := cache.NewClient(cfg.Redis)
	for _, c := range []struct {
		name string
		wait func() error
	}{
		{"cache", func() error { return cache.WaitReady(ctx, redisCache.Client, 5) }},
		{"queue", func() error { return cache.WaitReady(ctx, queueClient, 5) }},
	} {
		if err := c.wait(); err != nil {
			log.Error("failed to connect to redis", "conn", c.name, "err", err)
			return
		}
	}

	// Inject logger into app context
	appCtx := app.New(cfg, database, redisCache, queueClient, log)

	if cfg.App.ENV == "development" {
		if err := db.SeedTestData(database); err != nil {
			log.Error("failed to seed", "err", err)
		}
	}

	schedulerReg := scheduler.NewRegistrar(appCtx)
	exploreReg := explore.NewRegistrar(appCtx)

	checks := map[string]server.HealthCheck{
		"db": func(ctx context.Context) error {
			sqlDB, err := database.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"cache": redisCache.Ping,
		"queue": func(ctx context.Context) error { return queueClient.Ping(ctx).Err() },
	}
	router := server.NewRouter(log, checks, schedulerReg, exploreReg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.StartGRPCServer(gctx, cfg, log, schedulerReg)
	})
	g.Go(func() error {
		return server.StartHTTPServer(gctx, cfg, log, router)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
