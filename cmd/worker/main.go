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
	"github.com/oggyb/tubematch/internal/queue"
	"github.com/oggyb/tubematch/internal/service/analytics"
	"github.com/oggyb/tubematch/internal/service/prematch"
	"github.com/oggyb/tubematch/internal/service/scheduler"
)

// The worker process runs the prematch and analytics consumers and keeps the
// recurring prematch schedule registered.
func main() {
	cfg := config.New()

	logger.InitFromConfig(cfg)
	log := logger.L().With("process", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(cfg, "tubematch-worker", log)
	if err != nil {
		log.Error("failed to init tracing", "err", err)
		return
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	database, err := db.NewDB(cfg)
	if err != nil {
		log.Error("failed to init db", "err", err)
		return
	}

	redisCache := cache.NewRedisCache(cfg)
	queueClient := cache.NewClient(cfg.Redis)
	if err := cache.WaitReady(ctx, queueClient, 5); err != nil {
		log.Error("failed to connect to queue redis", "err", err)
		return
	}
	if err := cache.WaitReady(ctx, redisCache.Client, 5); err != nil {
		// matching still works without the overlap cache
		log.Warn("overlap cache unavailable", "err", err)
	}

	appCtx := app.New(cfg, database, redisCache, queueClient, log)

	if cfg.Schedule.Enabled {
		if _, err := scheduler.NewFromApp(appCtx).RegisterSchedule(ctx, cfg.Schedule.PrematchCron); err != nil {
			log.Error("failed to register prematch schedule", "pattern", cfg.Schedule.PrematchCron, "err", err)
			return
		}
	}

	opts := app.WorkerOptions(cfg)
	workers := []*queue.Worker{
		queue.NewWorker(appCtx.PrematchQueue, prematch.NewFromApp(appCtx).Handle, logger.Component(app.PrematchQueue), opts),
		queue.NewWorker(appCtx.AnalyticsQueue, analytics.NewFromApp(appCtx).Handle, logger.Component(app.AnalyticsQueue), opts),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error { return w.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error("worker stopped with error", "err", err)
		os.Exit(1)
	}
}
