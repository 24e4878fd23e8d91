package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oggyb/tubematch/internal/cache"
	"github.com/oggyb/tubematch/internal/config"
)

func setupCache(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := &config.Config{}
	cfg.Cache.Addr = mr.Addr()
	c := cache.NewRedisCache(cfg)
	t.Cleanup(func() { c.Client.Close() })
	return c, mr
}

func TestCommonSubscriptions_MissThenHit(t *testing.T) {
	ctx := context.Background()
	c, mr := setupCache(t)

	_, found, err := c.GetCommonSubscriptions(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, found)

	subs := []cache.CommonSubscription{{ChannelID: "UC1", ChannelName: "One"}}
	require.NoError(t, c.SetCommonSubscriptions(ctx, 1, 2, subs))
	assert.True(t, mr.Exists("prematch:1:2"))
	assert.Equal(t, cache.CommonSubscriptionsTTL, mr.TTL("prematch:1:2"))

	got, found, err := c.GetCommonSubscriptions(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, subs, got)

	hits, misses, err := c.HitMissCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	// entry expires after 24h
	mr.FastForward(25 * time.Hour)
	_, found, err = c.GetCommonSubscriptions(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCommonSubscriptions_CorruptEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	c, mr := setupCache(t)

	require.NoError(t, mr.Set("prematch:3:4", "{not json"))
	_, found, err := c.GetCommonSubscriptions(ctx, 3, 4)
	require.NoError(t, err)
	assert.False(t, found)

	_, misses, err := c.HitMissCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), misses)
}

func TestHitMissCounters_Empty(t *testing.T) {
	c, _ := setupCache(t)
	hits, misses, err := c.HitMissCounters(context.Background())
	require.NoError(t, err)
	assert.Zero(t, hits)
	assert.Zero(t, misses)
}

func TestCache_Unavailable(t *testing.T) {
	ctx := context.Background()
	c, mr := setupCache(t)
	mr.SetError("LOADING redis is loading")

	_, _, err := c.GetCommonSubscriptions(ctx, 1, 2)
	assert.Error(t, err)
	assert.Error(t, c.SetCommonSubscriptions(ctx, 1, 2, nil))
}

func TestCommonSubscriptions_EmptyListIsHit(t *testing.T) {
	ctx := context.Background()
	c, mr := setupCache(t)

	require.NoError(t, c.SetCommonSubscriptions(ctx, 5, 6, nil))
	raw, err := mr.Get("prematch:5:6")
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)

	got, found, err := c.GetCommonSubscriptions(ctx, 5, 6)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, got)

	require.NoError(t, c.Del(ctx, c.KeyForCommonSubscriptions(5, 6)))
	assert.False(t, mr.Exists("prematch:5:6"))
}

func TestWaitReady(t *testing.T) {
	c, _ := setupCache(t)
	require.NoError(t, cache.WaitReady(context.Background(), c.Client, 3))
}
