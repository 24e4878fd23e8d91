package prematch

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oggyb/tubematch/internal/app"
	"github.com/oggyb/tubematch/internal/cache"
	"github.com/oggyb/tubematch/internal/db"
	"github.com/oggyb/tubematch/internal/metrics"
	"github.com/oggyb/tubematch/internal/queue"
	"github.com/oggyb/tubematch/internal/repository"
)

// Store is the part of the relationship store a matching pass needs.
type Store interface {
	ListUsers(ctx context.Context) ([]db.User, error)
	ListSubscriptions(ctx context.Context) ([]db.Subscription, error)
	ListPrematchPairs(ctx context.Context) (map[repository.Pair]struct{}, error)
	InsertPrematches(ctx context.Context, rows []db.Prematch) (int64, error)
}

// Cache memoizes common subscriptions per directed pair.
type Cache interface {
	SetCommonSubscriptions(ctx context.Context, userID, matchUserID uint64, subs []cache.CommonSubscription) error
}

// Enqueuer adds follow-up jobs; *queue.Queue satisfies it.
type Enqueuer interface {
	Add(ctx context.Context, name string, payload any, opts ...queue.AddOption) (*queue.Job, error)
}

// Result is stored as the job's return value.
type Result struct {
	PrematchCompleted bool  `json:"prematchCompleted"`
	AnalyticsQueued   bool  `json:"analyticsQueued"`
	UsersScanned      int   `json:"usersScanned"`
	PairsScanned      int   `json:"pairsScanned"`
	Created           int64 `json:"created"`
	SkippedExisting   int   `json:"skippedExisting"`
}

// Service computes prematch candidates for the whole user population.
type Service struct {
	store     Store
	cache     Cache
	analytics Enqueuer
	log       *slog.Logger
}

// NewService wires a Service. cache may be nil, in which case common
// subscriptions are not memoized.
func NewService(store Store, c Cache, analytics Enqueuer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, cache: c, analytics: analytics, log: log}
}

// NewFromApp builds the Service from the shared dependencies.
func NewFromApp(appCtx *app.AppContext) *Service {
	var c Cache
	if appCtx.RedisCache != nil {
		c = appCtx.RedisCache
	}
	return NewService(appCtx.Store, c, appCtx.AnalyticsQueue, appCtx.Logger.With("worker", "prematch"))
}

type member struct {
	user     db.User
	subs     []db.Subscription // distinct channels, first-seen order
	channels map[string]struct{}
}

// Calculate runs one matching pass over every ordered user pair.
//
// Behavior:
//   - Users, subscriptions and existing prematch pairs are loaded once.
//   - A pair (u, v) that already has a prematch is skipped.
//   - The pair qualifies when the number of shared channels is at least
//     max(u.MatchingParam, v.MatchingParam); its score is that number.
//   - New rows for a user are inserted in one batch; a row that appears
//     concurrently is skipped by the store, not reported as an error.
//   - Once a user's batch is written, the common subscriptions of its pairs
//     are cached for 24h. Cache failures are logged once and caching is
//     disabled for the rest of the pass.
//   - Any store error aborts the pass. Rows already written remain and are
//     skipped on the next pass.
//
// Example:
//
//	res, err := svc.Calculate(ctx)
func (s *Service) Calculate(ctx context.Context) (*Result, error) {
	ctx, span := otel.Tracer("github.com/oggyb/tubematch/internal/service/prematch").Start(ctx, "prematch.Calculate")
	defer span.End()

	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	existing, err := s.store.ListPrematchPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load existing prematches: %w", err)
	}

	members := buildMembers(users, subs)
	res := &Result{UsersScanned: len(members)}
	cacheOn := s.cache != nil

	for _, u := range members {
		var rows []db.Prematch
		var commons [][]cache.CommonSubscription
		for _, v := range members {
			if u.user.ID == v.user.ID {
				continue
			}
			res.PairsScanned++
			if _, ok := existing[repository.Pair{UserID: u.user.ID, MatchUserID: v.user.ID}]; ok {
				res.SkippedExisting++
				continue
			}

			common := commonSubscriptions(u, v)
			if len(common) < threshold(u.user, v.user) {
				continue
			}
			rows = append(rows, db.Prematch{
				UserID:         u.user.ID,
				MatchUserID:    v.user.ID,
				RelevancyScore: len(common),
			})
			commons = append(commons, common)
		}
		if len(rows) == 0 {
			continue
		}

		created, err := s.store.InsertPrematches(ctx, rows)
		if err != nil {
			return nil, fmt.Errorf("insert prematches for user %d: %w", u.user.ID, err)
		}
		res.Created += created
		// rows written concurrently by another pass
		res.SkippedExisting += len(rows) - int(created)
		metrics.PrematchesCreated.Add(float64(created))
		s.log.Debug("prematches written", "user_id", u.user.ID, "candidates", len(rows), "created", created)

		for i := 0; cacheOn && i < len(rows); i++ {
			if err := s.cache.SetCommonSubscriptions(ctx, rows[i].UserID, rows[i].MatchUserID, commons[i]); err != nil {
				s.log.Warn("cache unavailable, continuing without caching", "err", err)
				cacheOn = false
			}
		}
	}

	res.PrematchCompleted = true
	span.SetAttributes(
		attribute.Int("prematch.users", res.UsersScanned),
		attribute.Int64("prematch.created", res.Created),
	)
	s.log.Info("prematch pass finished",
		"users", res.UsersScanned,
		"pairs", res.PairsScanned,
		"created", res.Created,
		"skipped_existing", res.SkippedExisting,
	)
	return res, nil
}

// Handle is the queue handler for calculate-prematches jobs. After a
// successful pass it enqueues exactly one analytics job.
func (s *Service) Handle(ctx context.Context, job *queue.Job) (any, error) {
	res, err := s.Calculate(ctx)
	if err != nil {
		return nil, err
	}

	s.log.Info("prematch calculation completed, queueing analytics", "job_id", job.ID)
	if _, err := s.analytics.Add(ctx, app.CalculateAnalyticsJob, nil); err != nil {
		return nil, fmt.Errorf("queue analytics: %w", err)
	}
	res.AnalyticsQueued = true
	return res, nil
}

func threshold(u, v db.User) int {
	return max(u.MatchingParam, v.MatchingParam)
}

func buildMembers(users []db.User, subs []db.Subscription) []*member {
	members := make([]*member, 0, len(users))
	byID := make(map[uint64]*member, len(users))
	for _, u := range users {
		m := &member{user: u, channels: make(map[string]struct{})}
		members = append(members, m)
		byID[u.ID] = m
	}
	for _, sub := range subs {
		m, ok := byID[sub.UserID]
		if !ok {
			continue
		}
		if _, dup := m.channels[sub.ChannelID]; dup {
			continue
		}
		m.channels[sub.ChannelID] = struct{}{}
		m.subs = append(m.subs, sub)
	}
	return members
}

// commonSubscriptions returns u's subscriptions whose channel v also follows,
// in u's order. The membership test walks the smaller side.
func commonSubscriptions(u, v *member) []cache.CommonSubscription {
	var common []cache.CommonSubscription
	if len(u.subs) <= len(v.channels) {
		for _, sub := range u.subs {
			if _, ok := v.channels[sub.ChannelID]; ok {
				common = append(common, cache.CommonSubscription{ChannelID: sub.ChannelID, ChannelName: sub.ChannelName})
			}
		}
		return common
	}

	shared := make(map[string]struct{}, len(v.subs))
	for _, sub := range v.subs {
		if _, ok := u.channels[sub.ChannelID]; ok {
			shared[sub.ChannelID] = struct{}{}
		}
	}
	if len(shared) == 0 {
		return nil
	}
	for _, sub := range u.subs {
		if _, ok := shared[sub.ChannelID]; ok {
			common = append(common, cache.CommonSubscription{ChannelID: sub.ChannelID, ChannelName: sub.ChannelName})
		}
	}
	return common
}
