package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/oggyb/tubematch/internal/db"
)

// SubscriptionRepository reads channel subscriptions. Subscriptions are
// written by the ingestion side; nothing here mutates them.
type SubscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new repository bound to the given DB connection.
func NewSubscriptionRepository(database *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: database}
}

// ListSubscriptions returns all subscriptions ordered by user, then insertion.
// One round trip for the whole population.
func (r *SubscriptionRepository) ListSubscriptions(ctx context.Context) ([]db.Subscription, error) {
	var subs []db.Subscription
	err := r.db.WithContext(ctx).
		Select("id", "user_id", "channel_id", "channel_name").
		Order("user_id ASC, id ASC").
		Find(&subs).Error
	return subs, err
}

// ListSubscriptionsForUser returns one user's subscriptions in insertion order.
func (r *SubscriptionRepository) ListSubscriptionsForUser(ctx context.Context, userID uint64) ([]db.Subscription, error) {
	var subs []db.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&subs).Error
	return subs, err
}

func (r *SubscriptionRepository) CountSubscriptions(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.Subscription{}).Count(&count).Error
	return count, err
}

// PopularChannels ranks channels by number of subscribers.
//
// Behavior:
//   - Groups subscriptions by channel_id and counts rows.
//   - Ties are broken by channel_id so the ranking is stable.
//   - channel_name is a representative name (MAX) for the channel.
//
// Example:
//
//	repo.PopularChannels(ctx, 10) // top 10 channels
func (r *SubscriptionRepository) PopularChannels(ctx context.Context, limit int) ([]db.PopularChannel, error) {
	var channels []db.PopularChannel
	err := r.db.WithContext(ctx).
		Model(&db.Subscription{}).
		Select("channel_id, MAX(channel_name) AS channel_name, COUNT(*) AS count").
		Group("channel_id").
		Order("COUNT(*) DESC, channel_id ASC").
		Limit(limit).
		Scan(&channels).Error
	return channels, err
}
