package main

import (
	"context"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/oggyb/tubematch/internal/app"
	"github.com/oggyb/tubematch/internal/cache"
	"github.com/oggyb/tubematch/internal/config"
	"github.com/oggyb/tubematch/internal/db"
	"github.com/oggyb/tubematch/internal/logger"
	"github.com/oggyb/tubematch/internal/queue"
	"github.com/oggyb/tubematch/internal/repository"
	"github.com/oggyb/tubematch/internal/service/analytics"
	"github.com/oggyb/tubematch/internal/service/scheduler"
)

// schedulerClient is the part of the scheduler API the CLI talks to over gRPC.
type schedulerClient interface {
	CalculatePrematches(ctx context.Context) (string, error)
	CalculateAnalytics(ctx context.Context) (string, error)
	QueueStatus(ctx context.Context) (*scheduler.Status, error)
}

type snapshotLister interface {
	List(ctx context.Context, paginationToken *string, limit int) ([]analytics.Snapshot, *string, error)
}

// commandContext lazily opens the connections a command needs. Tests replace
// the open* funcs.
type commandContext struct {
	addr string

	openClient    func(ctx context.Context, addr string) (schedulerClient, func(), error)
	openSnapshots func(cfg *config.Config) (snapshotLister, error)
	openQueue     func(cfg *config.Config) (*queue.Queue, error)

	once sync.Once
	cfg  *config.Config
}

func newCommandContext() *commandContext {
	return &commandContext{
		openClient:    dialScheduler,
		openSnapshots: openSnapshotStore,
		openQueue:     openPrematchQueue,
	}
}

func (c *commandContext) config() *config.Config {
	c.once.Do(func() {
		if c.cfg == nil {
			c.cfg = config.New()
		}
	})
	return c.cfg
}

func (c *commandContext) serverAddr() string {
	if c.addr != "" {
		return c.addr
	}
	cfg := c.config()
	return net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
}

func (c *commandContext) client(ctx context.Context) (schedulerClient, func(), error) {
	return c.openClient(ctx, c.serverAddr())
}

func dialScheduler(_ context.Context, addr string) (schedulerClient, func(), error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return scheduler.NewClient(conn), func() { _ = conn.Close() }, nil
}

func openSnapshotStore(cfg *config.Config) (snapshotLister, error) {
	database, err := db.NewDB(cfg)
	if err != nil {
		return nil, err
	}
	return analytics.NewService(repository.NewStore(database), nil, nil, logger.L()), nil
}

func openPrematchQueue(cfg *config.Config) (*queue.Queue, error) {
	return queue.New(cache.NewClient(cfg.Redis), app.PrematchQueue, app.QueueOptions(cfg)), nil
}
