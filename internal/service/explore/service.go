package explore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/oggyb/tubematch/internal/app"
	"github.com/oggyb/tubematch/internal/cache"
	"github.com/oggyb/tubematch/internal/db"
	svcErr "github.com/oggyb/tubematch/internal/errors"
	"github.com/oggyb/tubematch/internal/metrics"
	"github.com/oggyb/tubematch/internal/repository"
)

// Service implements the candidate review actions.
// It contains the business logic on top of repository and cache layers.
type Service struct {
	appCtx *app.AppContext
	store  *repository.Store
}

// Profile is the public part of a candidate user.
type Profile struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
	City string `json:"city,omitempty"`
}

// Candidate is the next prematch shown to a user.
type Candidate struct {
	User                Profile                    `json:"user"`
	RelevancyScore      int                        `json:"relevancy_score"`
	Skipped             bool                       `json:"skipped"`
	CommonSubscriptions []cache.CommonSubscription `json:"common_subscriptions"`
}

// NewExploreService creates a new Explore service with dependencies from AppContext.
// Dependencies include:
//   - Store for prematch, match and subscription access
//   - RedisCache for common subscriptions and hit/miss counters
func NewExploreService(appCtx *app.AppContext) *Service {
	store := appCtx.Store
	if store == nil {
		store = repository.NewStore(appCtx.DB)
	}
	return &Service{appCtx: appCtx, store: store}
}

// ErrNoCandidates is returned by Next when the user has no prematches at all.
var ErrNoCandidates = svcErr.NotFound("no candidates available")

// Next returns the best candidate for userID.
//
// Behavior:
//   - No prematches at all → ErrNoCandidates.
//   - Every prematch skipped → all are unskipped first, so review cycles.
//   - Ordered by skipped ASC, relevancy_score DESC.
//   - Common subscriptions come from CommonSubscriptions (cache-first).
//
// Example:
//
//	svc.Next(ctx, 42)
func (s *Service) Next(ctx context.Context, userID uint64) (*Candidate, error) {
	s.appCtx.Logger.Debug("Next called", "user_id", userID)

	total, err := s.store.CountPrematchesForUser(ctx, userID)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	if total == 0 {
		return nil, ErrNoCandidates
	}

	open, err := s.store.HasUnskippedPrematch(ctx, userID)
	if err != nil {
		return nil, svcErr.Map(err)
	}
	if !open {
		n, err := s.store.UnskipAll(ctx, userID)
		if err != nil {
			return nil, svcErr.Map(err)
		}
		s.appCtx.Logger.Debug("all candidates skipped, review restarted", "user_id", userID, "unskipped", n)
	}

	p, err := s.store.NextPrematch(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoCandidates
		}
		return nil, svcErr.Map(err)
	}

	u, err := s.store.GetUser(ctx, p.MatchUserID)
	if err != nil {
		return nil, svcErr.Map(err)
	}

	common, err := s.CommonSubscriptions(ctx, userID, p.MatchUserID)
	if err != nil {
		return nil, err
	}

	return &Candidate{
		User:                Profile{ID: u.ID, Name: u.Name, City: u.City},
		RelevancyScore:      p.RelevancyScore,
		Skipped:             p.Skipped,
		CommonSubscriptions: common,
	}, nil
}

// Skip marks userID → matchUserID as skipped.
func (s *Service) Skip(ctx context.Context, userID, matchUserID uint64) error {
	s.appCtx.Logger.Debug("Skip called", "user_id", userID, "match_user_id", matchUserID)
	if err := s.store.SkipPrematch(ctx, userID, matchUserID); err != nil {
		return svcErr.Map(err)
	}
	return nil
}

// ConfirmMatch turns the prematch userID → matchUserID into a match.
//
// Behavior:
//   - Validates the two IDs differ.
//   - Creates the match with the prematch's relevancy score and deletes the
//     prematch in both directions, in one transaction.
//   - Unknown prematch → NotFound.
func (s *Service) ConfirmMatch(ctx context.Context, userID, matchUserID uint64) (*db.Match, error) {
	s.appCtx.Logger.Debug("ConfirmMatch called", "user_id", userID, "match_user_id", matchUserID)
	if userID == matchUserID {
		return nil, svcErr.InvalidArgument("cannot match with yourself")
	}

	m, err := s.store.ConfirmMatch(ctx, userID, matchUserID)
	if err != nil {
		return nil, svcErr.Map(err)
	}

	// cached overlap of a confirmed pair is no longer needed
	if rc := s.appCtx.RedisCache; rc != nil {
		for _, key := range []string{
			rc.KeyForCommonSubscriptions(userID, matchUserID),
			rc.KeyForCommonSubscriptions(matchUserID, userID),
		} {
			if err := rc.Del(ctx, key); err != nil {
				s.appCtx.Logger.Warn("common subscriptions cache delete failed", "key", key, "err", err)
			}
		}
	}
	return m, nil
}

// CommonSubscriptions returns the channels both users follow, in userID's order.
// Cache-first strategy:
//  1. Reads prematch:{userID}:{matchUserID}; a hit or miss bumps the counters.
//  2. On a miss (or cache error) derives the list from the store.
//  3. Re-caches the derived list for 24h.
//
// Example:
//
//	svc.CommonSubscriptions(ctx, 1, 2)
func (s *Service) CommonSubscriptions(ctx context.Context, userID, matchUserID uint64) ([]cache.CommonSubscription, error) {
	rc := s.appCtx.RedisCache
	if rc != nil {
		subs, found, err := rc.GetCommonSubscriptions(ctx, userID, matchUserID)
		switch {
		case err != nil:
			metrics.CommonSubscriptionsCache.WithLabelValues("error").Inc()
			s.appCtx.Logger.Warn("common subscriptions cache read failed", "err", err)
		case found:
			metrics.CommonSubscriptionsCache.WithLabelValues("hit").Inc()
			return subs, nil
		default:
			metrics.CommonSubscriptionsCache.WithLabelValues("miss").Inc()
		}
	}

	common, err := s.deriveCommon(ctx, userID, matchUserID)
	if err != nil {
		return nil, svcErr.Map(err)
	}

	if rc != nil {
		if err := rc.SetCommonSubscriptions(ctx, userID, matchUserID, common); err != nil {
			s.appCtx.Logger.Warn("common subscriptions cache write failed", "err", err)
		}
	}
	return common, nil
}

func (s *Service) deriveCommon(ctx context.Context, userID, matchUserID uint64) ([]cache.CommonSubscription, error) {
	mine, err := s.store.ListSubscriptionsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions of %d: %w", userID, err)
	}
	theirs, err := s.store.ListSubscriptionsForUser(ctx, matchUserID)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions of %d: %w", matchUserID, err)
	}

	followed := make(map[string]struct{}, len(theirs))
	for _, sub := range theirs {
		followed[sub.ChannelID] = struct{}{}
	}
	common := []cache.CommonSubscription{}
	seen := make(map[string]struct{})
	for _, sub := range mine {
		if _, ok := followed[sub.ChannelID]; !ok {
			continue
		}
		if _, dup := seen[sub.ChannelID]; dup {
			continue
		}
		seen[sub.ChannelID] = struct{}{}
		common = append(common, cache.CommonSubscription{ChannelID: sub.ChannelID, ChannelName: sub.ChannelName})
	}
	return common, nil
}

// UpdateMatchingParam sets the minimum number of shared channels userID
// requires. The new value applies from the next matching pass.
func (s *Service) UpdateMatchingParam(ctx context.Context, userID uint64, param int) error {
	if param < 1 {
		return svcErr.InvalidArgument("matching_param must be at least 1")
	}
	if err := s.store.UpdateMatchingParam(ctx, userID, param); err != nil {
		return svcErr.Map(err)
	}
	return nil
}
