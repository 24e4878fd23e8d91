package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/oggyb/tubematch/internal/app"
	"github.com/oggyb/tubematch/internal/db"
	"github.com/oggyb/tubematch/internal/queue"
)

const (
	// PopularChannelsLimit is the size of the top-channel ranking.
	PopularChannelsLimit = 10

	window = 24 * time.Hour
)

// Store is the part of the relationship store analytics reads and appends to.
type Store interface {
	CountUsers(ctx context.Context) (int64, error)
	CountActiveUsersSince(ctx context.Context, since time.Time) (int64, error)
	CountSubscriptions(ctx context.Context) (int64, error)
	RelevancyDistribution(ctx context.Context) (map[int]int64, error)
	MatchingParamDistribution(ctx context.Context) (map[int]int64, error)
	PopularChannels(ctx context.Context, limit int) ([]db.PopularChannel, error)
	CountMatchesSince(ctx context.Context, since time.Time) (int64, error)
	CountSkippedPrematchesSince(ctx context.Context, since time.Time) (int64, error)
	CreateSnapshot(ctx context.Context, s *db.AnalyticsSnapshot) error
	ListSnapshots(ctx context.Context, paginationToken *string, limit int) ([]db.AnalyticsSnapshot, *string, error)
}

// Counters reads the common-subscription cache hit/miss counters.
type Counters interface {
	HitMissCounters(ctx context.Context) (hits, misses int64, err error)
}

// Lengther reports how many jobs wait on a queue; *queue.Queue satisfies it.
type Lengther interface {
	Length(ctx context.Context) (int64, error)
}

// Service builds analytics snapshots.
type Service struct {
	store    Store
	counters Counters
	pending  Lengther
	log      *slog.Logger
	now      func() time.Time
}

// NewService wires a Service. counters and pending may be nil; the matching
// snapshot fields are then 0.
func NewService(store Store, counters Counters, pending Lengther, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, counters: counters, pending: pending, log: log, now: time.Now}
}

// NewFromApp builds the Service from the shared dependencies. Queue length
// is read from the prematch queue.
func NewFromApp(appCtx *app.AppContext) *Service {
	var counters Counters
	if appCtx.RedisCache != nil {
		counters = appCtx.RedisCache
	}
	var pending Lengther
	if appCtx.PrematchQueue != nil {
		pending = appCtx.PrematchQueue
	}
	return NewService(appCtx.Store, counters, pending, appCtx.Logger.With("worker", "analytics"))
}

// Compute aggregates the current state into a snapshot without storing it.
//
// Behavior:
//   - Store reads run concurrently; any store error fails the computation.
//   - Cache counters and queue length are best-effort and read as 0 when
//     unavailable.
//   - cache_hit_ratio is hits/(hits+misses), 0 when nothing was recorded.
//   - skip_ratio_24h is skipped prematches over successful matches in the
//     last 24h, 0 when there were no matches.
//   - CalculationTimeMs covers everything up to the snapshot assembly.
func (s *Service) Compute(ctx context.Context) (*db.AnalyticsSnapshot, error) {
	ctx, span := otel.Tracer("github.com/oggyb/tubematch/internal/service/analytics").Start(ctx, "analytics.Compute")
	defer span.End()

	start := time.Now()
	now := s.now().UTC()
	since := now.Add(-window)

	var (
		totalUsers, activeUsers, totalSubs int64
		matches24h, skipped24h             int64
		relevancy, params                  map[int]int64
		popular                            []db.PopularChannel
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		totalUsers, err = s.store.CountUsers(gctx)
		return wrap("count users", err)
	})
	g.Go(func() (err error) {
		activeUsers, err = s.store.CountActiveUsersSince(gctx, since)
		return wrap("count active users", err)
	})
	g.Go(func() (err error) {
		totalSubs, err = s.store.CountSubscriptions(gctx)
		return wrap("count subscriptions", err)
	})
	g.Go(func() (err error) {
		relevancy, err = s.store.RelevancyDistribution(gctx)
		return wrap("relevancy distribution", err)
	})
	g.Go(func() (err error) {
		params, err = s.store.MatchingParamDistribution(gctx)
		return wrap("matching param distribution", err)
	})
	g.Go(func() (err error) {
		popular, err = s.store.PopularChannels(gctx, PopularChannelsLimit)
		return wrap("popular channels", err)
	})
	g.Go(func() (err error) {
		matches24h, err = s.store.CountMatchesSince(gctx, since)
		return wrap("count matches", err)
	})
	g.Go(func() (err error) {
		skipped24h, err = s.store.CountSkippedPrematchesSince(gctx, since)
		return wrap("count skipped prematches", err)
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	hits, misses := s.cacheCounters(ctx)
	queueLength := s.queueLength(ctx)

	var totalPrematches, scoreSum int64
	for score, n := range relevancy {
		totalPrematches += n
		scoreSum += int64(score) * n
	}
	if popular == nil {
		popular = []db.PopularChannel{}
	}

	snap := &db.AnalyticsSnapshot{
		Timestamp:                 now.Truncate(time.Millisecond),
		TotalUsers:                totalUsers,
		ActiveUsers24h:            activeUsers,
		AvgSubscriptionsPerUser:   ratio(totalSubs, totalUsers),
		TotalPrematches:           totalPrematches,
		AvgPrematchesPerUser:      ratio(totalPrematches, totalUsers),
		AvgRelevancyScore:         ratio(scoreSum, totalPrematches),
		PrematchDistribution:      datatypes.NewJSONType(relevancy),
		CacheHitRatio:             ratio(hits, hits+misses),
		QueueLength:               queueLength,
		SuccessfulMatches24h:      matches24h,
		SkipRatio24h:              ratio(skipped24h, matches24h),
		PopularChannels:           datatypes.NewJSONType(popular),
		MatchingParamDistribution: datatypes.NewJSONType(params),
	}
	snap.CalculationTimeMs = time.Since(start).Milliseconds()
	return snap, nil
}

// Handle is the queue handler for calculate-analytics jobs: one computation,
// one insert.
func (s *Service) Handle(ctx context.Context, job *queue.Job) (any, error) {
	snap, err := s.Compute(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}
	s.log.Info("analytics calculation completed",
		"job_id", job.ID,
		"snapshot_id", snap.ID,
		"total_users", snap.TotalUsers,
		"total_prematches", snap.TotalPrematches,
		"calculation_time_ms", snap.CalculationTimeMs,
	)
	return ToView(snap), nil
}

// List returns stored snapshots newest first.
func (s *Service) List(ctx context.Context, paginationToken *string, limit int) ([]Snapshot, *string, error) {
	rows, next, err := s.store.ListSnapshots(ctx, paginationToken, limit)
	if err != nil {
		return nil, nil, err
	}
	out := make([]Snapshot, 0, len(rows))
	for i := range rows {
		out = append(out, ToView(&rows[i]))
	}
	return out, next, nil
}

func (s *Service) cacheCounters(ctx context.Context) (hits, misses int64) {
	if s.counters == nil {
		return 0, 0
	}
	hits, misses, err := s.counters.HitMissCounters(ctx)
	if err != nil {
		s.log.Warn("cache counters unavailable, using 0", "err", err)
		return 0, 0
	}
	return hits, misses
}

func (s *Service) queueLength(ctx context.Context) int64 {
	if s.pending == nil {
		return 0
	}
	n, err := s.pending.Length(ctx)
	if err != nil {
		s.log.Warn("queue length unavailable, using 0", "err", err)
		return 0
	}
	return n
}

// ratio is num/den, or 0 when den is 0.
func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func wrap(what string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", what, err)
}
