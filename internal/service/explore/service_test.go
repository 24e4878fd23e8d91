package explore_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oggyb/tubematch/internal/app"
	"github.com/oggyb/tubematch/internal/cache"
	"github.com/oggyb/tubematch/internal/db"
	"github.com/oggyb/tubematch/internal/service/explore"
)

//
// Test helpers
//

type env struct {
	gdb    *gorm.DB
	mr     *miniredis.Miniredis
	logs   *bytes.Buffer
	svc    *explore.Service
	router *gin.Engine
}

// setupService spins up an in-memory SQLite DB, applies migrations,
// seeds the minimal dataset, starts a miniredis, and wires everything into
// an Explore service instance.
//
// Prematches seeded on top of the minimal dataset:
//   - 1 → 2 score 4
//   - 1 → 3 score 1
//   - 2 → 1 score 4
//
// Each test gets its own isolated DB + Redis.
func setupService(t *testing.T) *env {
	t.Helper()

	dbName := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{
		NowFunc:                func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(gdb))
	require.NoError(t, db.SeedMinimalTestData(gdb))
	require.NoError(t, gdb.Create(&[]db.Prematch{
		{UserID: 1, MatchUserID: 2, RelevancyScore: 4},
		{UserID: 1, MatchUserID: 3, RelevancyScore: 1},
		{UserID: 2, MatchUserID: 1, RelevancyScore: 4},
	}).Error)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logs := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	appCtx := app.New(nil, gdb, &cache.RedisCache{Client: client}, client, log)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	explore.NewRegistrar(appCtx).RegisterRoutes(router.Group("/api"))

	return &env{gdb: gdb, mr: mr, logs: logs, svc: explore.NewExploreService(appCtx), router: router}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func channelIDs(subs []cache.CommonSubscription) []string {
	ids := make([]string, 0, len(subs))
	for _, s := range subs {
		ids = append(ids, s.ChannelID)
	}
	return ids
}

//
// Tests
//

// TestNext_BestCandidateWithCommonSubscriptions checks ordering by score and
// that the overlap is returned in the user's subscription order.
func TestNext_BestCandidateWithCommonSubscriptions(t *testing.T) {
	ctx := context.Background()
	e := setupService(t)

	cand, err := e.svc.Next(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, uint64(2), cand.User.ID)
	assert.Equal(t, "user2", cand.User.Name)
	assert.Equal(t, 4, cand.RelevancyScore)
	assert.False(t, cand.Skipped)
	assert.Equal(t, []string{"UC1", "UC2", "UC3", "UC4"}, channelIDs(cand.CommonSubscriptions))
	assert.Equal(t, "Channel UC1", cand.CommonSubscriptions[0].ChannelName)
}

// TestNext_NoPrematches returns NotFound for a user nobody was paired with.
func TestNext_NoPrematches(t *testing.T) {
	e := setupService(t)

	_, err := e.svc.Next(context.Background(), 3)
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

// TestSkip_CyclesWhenEverythingSkipped skips both candidates of user1 and
// expects review to start over from the best one.
func TestSkip_CyclesWhenEverythingSkipped(t *testing.T) {
	ctx := context.Background()
	e := setupService(t)

	require.NoError(t, e.svc.Skip(ctx, 1, 2))
	cand, err := e.svc.Next(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), cand.User.ID)
	assert.Equal(t, []string{"UC1"}, channelIDs(cand.CommonSubscriptions))

	require.NoError(t, e.svc.Skip(ctx, 1, 3))
	cand, err = e.svc.Next(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cand.User.ID)
	assert.False(t, cand.Skipped)

	var skipped int64
	require.NoError(t, e.gdb.Model(&db.Prematch{}).Where("user_id = ? AND skipped = ?", 1, true).Count(&skipped).Error)
	assert.Equal(t, int64(0), skipped)
}

func TestSkip_UnknownPrematch(t *testing.T) {
	e := setupService(t)

	err := e.svc.Skip(context.Background(), 3, 1)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

// TestCommonSubscriptions_CacheHitAndMiss verifies the first lookup misses
// and fills prematch:{u}:{v}, the second one is served from the cache.
func TestCommonSubscriptions_CacheHitAndMiss(t *testing.T) {
	ctx := context.Background()
	e := setupService(t)

	first, err := e.svc.CommonSubscriptions(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, first, 4)

	require.True(t, e.mr.Exists("prematch:1:2"))
	assert.InDelta(t, (24 * time.Hour).Seconds(), e.mr.TTL("prematch:1:2").Seconds(), 1)
	misses, _ := e.mr.Get(cache.MissesKey)
	assert.Equal(t, "1", misses)

	// change the store: a cached answer must not see it
	require.NoError(t, e.gdb.Where("user_id = ? AND channel_id = ?", 2, "UC4").Delete(&db.Subscription{}).Error)

	second, err := e.svc.CommonSubscriptions(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	hits, _ := e.mr.Get(cache.HitsKey)
	assert.Equal(t, "1", hits)
}

// TestCommonSubscriptions_CacheDown falls back to the store.
func TestCommonSubscriptions_CacheDown(t *testing.T) {
	ctx := context.Background()
	e := setupService(t)
	e.mr.Close()

	subs, err := e.svc.CommonSubscriptions(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"UC1"}, channelIDs(subs))
}

func TestCommonSubscriptions_NoOverlap(t *testing.T) {
	ctx := context.Background()
	e := setupService(t)
	require.NoError(t, e.gdb.Where("user_id = ?", 3).Delete(&db.Subscription{}).Error)

	subs, err := e.svc.CommonSubscriptions(ctx, 1, 3)
	require.NoError(t, err)
	assert.NotNil(t, subs)
	assert.Empty(t, subs)
}

// TestConfirmMatch_RemovesBothDirections checks the match row, prematch
// cleanup and cache invalidation for the pair.
func TestConfirmMatch_RemovesBothDirections(t *testing.T) {
	ctx := context.Background()
	e := setupService(t)

	_, err := e.svc.CommonSubscriptions(ctx, 1, 2)
	require.NoError(t, err)

	m, err := e.svc.ConfirmMatch(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.User1ID)
	assert.Equal(t, uint64(2), m.User2ID)
	assert.Equal(t, 4, m.RelevancyScore)

	var left int64
	require.NoError(t, e.gdb.Model(&db.Prematch{}).
		Where("(user_id = 1 AND match_user_id = 2) OR (user_id = 2 AND match_user_id = 1)").
		Count(&left).Error)
	assert.Equal(t, int64(0), left)
	assert.False(t, e.mr.Exists("prematch:1:2"))

	// user2 had only user1 as candidate
	_, err = e.svc.Next(ctx, 2)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestConfirmMatch_CacheDown(t *testing.T) {
	ctx := context.Background()
	e := setupService(t)
	e.mr.Close()

	m, err := e.svc.ConfirmMatch(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), m.User2ID)

	var matches int64
	require.NoError(t, e.gdb.Model(&db.Match{}).Count(&matches).Error)
	assert.Equal(t, int64(1), matches)
	assert.Contains(t, e.logs.String(), "common subscriptions cache delete failed")
}

func TestConfirmMatch_Invalid(t *testing.T) {
	ctx := context.Background()
	e := setupService(t)

	_, err := e.svc.ConfirmMatch(ctx, 1, 1)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = e.svc.ConfirmMatch(ctx, 3, 2)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestUpdateMatchingParam(t *testing.T) {
	ctx := context.Background()
	e := setupService(t)

	err := e.svc.UpdateMatchingParam(ctx, 1, 0)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	require.NoError(t, e.svc.UpdateMatchingParam(ctx, 1, 5))
	var u db.User
	require.NoError(t, e.gdb.First(&u, 1).Error)
	assert.Equal(t, 5, u.MatchingParam)

	err = e.svc.UpdateMatchingParam(ctx, 99, 2)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

//
// HTTP
//

func TestHTTP_ReviewFlow(t *testing.T) {
	e := setupService(t)

	rec := e.do(t, http.MethodGet, "/api/explore/1/next", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cand explore.Candidate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cand))
	assert.Equal(t, uint64(2), cand.User.ID)
	assert.Len(t, cand.CommonSubscriptions, 4)

	rec = e.do(t, http.MethodPost, "/api/explore/1/skip/2", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/explore/1/common/3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"common_subscriptions":[{"channel_id":"UC1","channel_name":"Channel UC1"}]}`, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/explore/1/match/3", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"id":1,"user_1_id":1,"user_2_id":3,"relevancy_score":1}`, rec.Body.String())

	rec = e.do(t, http.MethodPut, "/api/explore/1/matching-param", `{"matching_param":2}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHTTP_Errors(t *testing.T) {
	e := setupService(t)

	rec := e.do(t, http.MethodGet, "/api/explore/abc/next", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid userId"}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/explore/3/next", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"no candidates available"}`, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/explore/1/match/1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPut, "/api/explore/1/matching-param", `{"matching_param":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPut, "/api/explore/1/matching-param", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
