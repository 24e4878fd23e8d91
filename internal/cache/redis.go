package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/oggyb/tubematch/internal/config"
)

const (
	// CommonSubscriptionsTTL is how long a pair's common-subscription list is kept.
	CommonSubscriptionsTTL = 24 * time.Hour

	HitsKey   = "prematch_cache_hits"
	MissesKey = "prematch_cache_misses"
)

// CommonSubscription is one channel shared by both users of a pair.
type CommonSubscription struct {
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
}

type RedisCache struct {
	Client *redis.Client
}

// NewRedisCache initializes the overlap cache client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisCache(cfg *config.Config) *RedisCache {
	return &RedisCache{Client: NewClient(cfg.Cache)}
}

// NewClient builds a go-redis client for one connection block of the config.
func NewClient(rc config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr: rc.Addr,
	}
	if rc.Password != "" {
		opts.Password = rc.Password
	}
	if rc.DB != 0 {
		opts.DB = rc.DB
	}
	return redis.NewClient(opts)
}

// WaitReady pings the client with exponential backoff until it answers,
// the attempts are used up or ctx is done.
func WaitReady(ctx context.Context, client *redis.Client, attempts uint64) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0

	op := func() error {
		return client.Ping(ctx).Err()
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, attempts), ctx)); err != nil {
		return fmt.Errorf("redis %s not ready: %w", client.Options().Addr, err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.Client.Get(ctx, key).Result()
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	return c.Client.Del(ctx, key).Err()
}

func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	return c.Client.Incr(ctx, key).Result()
}

// KeyForCommonSubscriptions generates the Redis key for a directed pair.
func (c *RedisCache) KeyForCommonSubscriptions(userID, matchUserID uint64) string {
	return fmt.Sprintf("prematch:%d:%d", userID, matchUserID)
}

// SetCommonSubscriptions stores the pair's shared channels for 24h.
func (c *RedisCache) SetCommonSubscriptions(ctx context.Context, userID, matchUserID uint64, subs []CommonSubscription) error {
	if subs == nil {
		subs = []CommonSubscription{}
	}
	payload, err := json.Marshal(subs)
	if err != nil {
		return fmt.Errorf("failed to encode common subscriptions: %w", err)
	}
	return c.Set(ctx, c.KeyForCommonSubscriptions(userID, matchUserID), payload, CommonSubscriptionsTTL)
}

// GetCommonSubscriptions reads a cached pair and records the lookup in the
// global hit/miss counters.
//
// Behavior:
//   - hit  → returns the list, found=true, increments prematch_cache_hits.
//   - miss → returns found=false, increments prematch_cache_misses.
//   - Redis errors are returned as-is; counters are not touched.
func (c *RedisCache) GetCommonSubscriptions(ctx context.Context, userID, matchUserID uint64) ([]CommonSubscription, bool, error) {
	raw, err := c.Get(ctx, c.KeyForCommonSubscriptions(userID, matchUserID))
	if errors.Is(err, redis.Nil) {
		if _, err := c.Incr(ctx, MissesKey); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}

	var subs []CommonSubscription
	if err := json.Unmarshal([]byte(raw), &subs); err != nil {
		// corrupt entry: treat as a miss so the caller recomputes and overwrites it
		if _, err := c.Incr(ctx, MissesKey); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}
	if _, err := c.Incr(ctx, HitsKey); err != nil {
		return nil, false, err
	}
	return subs, true, nil
}

// HitMissCounters returns the global counters; missing keys count as 0.
func (c *RedisCache) HitMissCounters(ctx context.Context) (hits, misses int64, err error) {
	vals, err := c.Client.MGet(ctx, HitsKey, MissesKey).Result()
	if err != nil {
		return 0, 0, err
	}
	if hits, err = parseCounter(vals[0]); err != nil {
		return 0, 0, err
	}
	if misses, err = parseCounter(vals[1]); err != nil {
		return 0, 0, err
	}
	return hits, misses, nil
}

func parseCounter(v interface{}) (int64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("unexpected counter value %T", v)
	}
	return strconv.ParseInt(s, 10, 64)
}
