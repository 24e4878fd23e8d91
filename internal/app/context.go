package app

import (
	"log/slog"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/oggyb/tubematch/internal/cache"
	"github.com/oggyb/tubematch/internal/config"
	"github.com/oggyb/tubematch/internal/queue"
	"github.com/oggyb/tubematch/internal/repository"
)

// AppContext holds shared dependencies (DB, store, cache, queues, logger).
type AppContext struct {
	Config         *config.Config
	DB             *gorm.DB
	Store          *repository.Store
	RedisCache     *cache.RedisCache
	PrematchQueue  *queue.Queue
	AnalyticsQueue *queue.Queue
	Logger         *slog.Logger
}

// New creates a new AppContext. queueClient backs both job queues and may be
// the same client as the cache's.
func New(cfg *config.Config, db *gorm.DB, rdb *cache.RedisCache, queueClient *redis.Client, logger *slog.Logger) *AppContext {
	return &AppContext{
		Config:         cfg,
		DB:             db,
		Store:          repository.NewStore(db),
		RedisCache:     rdb,
		PrematchQueue:  queue.New(queueClient, PrematchQueue, QueueOptions(cfg)),
		AnalyticsQueue: queue.New(queueClient, AnalyticsQueue, QueueOptions(cfg)),
		Logger:         logger,
	}
}
