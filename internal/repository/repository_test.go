package repository_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oggyb/tubematch/internal/db"
	"github.com/oggyb/tubematch/internal/repository"
)

// setup in-memory DB
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	database, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.Migrate(database); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return database
}

func TestInsertPrematches_ConflictIsSkip(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(setupTestDB(t))

	n, err := store.InsertPrematches(ctx, []db.Prematch{
		{UserID: 1, MatchUserID: 2, RelevancyScore: 4},
		{UserID: 2, MatchUserID: 1, RelevancyScore: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	// same pair again + one new pair
	n, err = store.InsertPrematches(ctx, []db.Prematch{
		{UserID: 1, MatchUserID: 2, RelevancyScore: 9},
		{UserID: 1, MatchUserID: 3, RelevancyScore: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	total, err := store.CountPrematches(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	p, err := store.GetPrematch(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 4, p.RelevancyScore, "existing edge must not be overwritten")

	pairs, err := store.ListPrematchPairs(ctx)
	require.NoError(t, err)
	assert.Len(t, pairs, 3)
	assert.Contains(t, pairs, repository.Pair{UserID: 1, MatchUserID: 3})
}

func TestDistributionsAndPopularChannels(t *testing.T) {
	ctx := context.Background()
	gdb := setupTestDB(t)
	store := repository.NewStore(gdb)

	require.NoError(t, gdb.Create(&[]db.User{
		{ID: 1, Name: "a", Email: "a@test.com", MatchingParam: 2},
		{ID: 2, Name: "b", Email: "b@test.com", MatchingParam: 2},
		{ID: 3, Name: "c", Email: "c@test.com", MatchingParam: 4},
	}).Error)
	require.NoError(t, gdb.Create(&[]db.Subscription{
		{UserID: 1, ChannelID: "UC1", ChannelName: "One"},
		{UserID: 2, ChannelID: "UC1", ChannelName: "One"},
		{UserID: 3, ChannelID: "UC1", ChannelName: "One"},
		{UserID: 1, ChannelID: "UC3", ChannelName: "Three"},
		{UserID: 2, ChannelID: "UC2", ChannelName: "Two"},
	}).Error)
	_, err := store.InsertPrematches(ctx, []db.Prematch{
		{UserID: 1, MatchUserID: 2, RelevancyScore: 3},
		{UserID: 2, MatchUserID: 1, RelevancyScore: 3},
		{UserID: 1, MatchUserID: 3, RelevancyScore: 5},
	})
	require.NoError(t, err)

	params, err := store.MatchingParamDistribution(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{2: 2, 4: 1}, params)

	scores, err := store.RelevancyDistribution(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int]int64{3: 2, 5: 1}, scores)

	channels, err := store.PopularChannels(ctx, 2)
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, db.PopularChannel{ChannelID: "UC1", ChannelName: "One", Count: 3}, channels[0])
	// UC2 and UC3 tie on count; channel id breaks the tie
	assert.Equal(t, "UC2", channels[1].ChannelID)

	subs, err := store.CountSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), subs)
}

func TestSkipUnskipAndNext(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(setupTestDB(t))

	_, err := store.NextPrematch(ctx, 1)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, err = store.InsertPrematches(ctx, []db.Prematch{
		{UserID: 1, MatchUserID: 2, RelevancyScore: 3},
		{UserID: 1, MatchUserID: 3, RelevancyScore: 6},
	})
	require.NoError(t, err)

	next, err := store.NextPrematch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next.MatchUserID)

	require.NoError(t, store.SkipPrematch(ctx, 1, 3))
	next, err = store.NextPrematch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next.MatchUserID, "skipped candidates go last")

	require.NoError(t, store.SkipPrematch(ctx, 1, 2))
	has, err := store.HasUnskippedPrematch(ctx, 1)
	require.NoError(t, err)
	assert.False(t, has)

	n, err := store.UnskipAll(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	has, err = store.HasUnskippedPrematch(ctx, 1)
	require.NoError(t, err)
	assert.True(t, has)

	assert.ErrorIs(t, store.SkipPrematch(ctx, 1, 99), gorm.ErrRecordNotFound)

	skipped, err := store.CountSkippedPrematchesSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), skipped)
}

func TestConfirmMatch(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(setupTestDB(t))

	_, err := store.InsertPrematches(ctx, []db.Prematch{
		{UserID: 1, MatchUserID: 2, RelevancyScore: 4},
		{UserID: 2, MatchUserID: 1, RelevancyScore: 4},
		{UserID: 1, MatchUserID: 3, RelevancyScore: 5},
	})
	require.NoError(t, err)

	m, err := store.ConfirmMatch(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.User1ID)
	assert.Equal(t, uint64(2), m.User2ID)
	assert.Equal(t, 4, m.RelevancyScore)

	total, err := store.CountPrematches(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "both directions removed, unrelated edge kept")

	_, err = store.ConfirmMatch(ctx, 1, 2)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	matches, err := store.CountMatchesSince(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), matches)
}

func TestCountActiveUsersSince(t *testing.T) {
	ctx := context.Background()
	gdb := setupTestDB(t)
	store := repository.NewStore(gdb)

	now := time.Now().UTC().Truncate(time.Millisecond)
	old := now.Add(-48 * time.Hour)

	require.NoError(t, gdb.Create(&[]db.Match{
		{User1ID: 1, User2ID: 2, RelevancyScore: 3, CreatedAt: now.Add(-time.Hour)},
		{User1ID: 5, User2ID: 6, RelevancyScore: 3, CreatedAt: old},
	}).Error)
	require.NoError(t, gdb.Create(&[]db.Chat{
		{MatchID: 1, SenderID: 2, Message: "hi", CreatedAt: now.Add(-time.Minute)},
		{MatchID: 1, SenderID: 3, Message: "hey", CreatedAt: now.Add(-time.Minute)},
		{MatchID: 2, SenderID: 5, Message: "old", CreatedAt: old},
	}).Error)

	active, err := store.CountActiveUsersSince(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), active) // users 1, 2, 3
}

func TestSnapshotsPagination(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(setupTestDB(t))

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.CreateSnapshot(ctx, &db.AnalyticsSnapshot{
			Timestamp:            base.Add(time.Duration(i) * time.Minute),
			TotalUsers:           int64(i),
			PrematchDistribution: datatypes.NewJSONType(map[int]int64{i: 1}),
		}))
	}

	page1, token, err := store.ListSnapshots(ctx, nil, 3)
	require.NoError(t, err)
	require.Len(t, page1, 3)
	require.NotNil(t, token)
	assert.Equal(t, int64(4), page1[0].TotalUsers)
	assert.Equal(t, map[int]int64{4: 1}, page1[0].PrematchDistribution.Data())

	page2, token, err := store.ListSnapshots(ctx, token, 3)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Nil(t, token)
	assert.Equal(t, int64(1), page2[0].TotalUsers)

	latest, err := store.LatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), latest.TotalUsers)

	count, err := store.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)

	bad := "???"
	_, _, err = store.ListSnapshots(ctx, &bad, 3)
	assert.Error(t, err)
}

func TestSnapshotsPagination_RejectsNonPositiveLimit(t *testing.T) {
	ctx := context.Background()
	store := repository.NewStore(setupTestDB(t))
	require.NoError(t, store.CreateSnapshot(ctx, &db.AnalyticsSnapshot{Timestamp: time.Now().UTC()}))

	for _, limit := range []int{0, -1} {
		page, token, err := store.ListSnapshots(ctx, nil, limit)
		require.Error(t, err, "limit %d", limit)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
		assert.Nil(t, page)
		assert.Nil(t, token)
	}
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	gdb := setupTestDB(t)
	store := repository.NewStore(gdb)

	require.NoError(t, gdb.Create(&db.User{ID: 7, Name: "seven", Email: "7@test.com", MatchingParam: 2}).Error)

	require.NoError(t, store.UpdateMatchingParam(ctx, 7, 5))
	u, err := store.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, u.MatchingParam)

	assert.ErrorIs(t, store.UpdateMatchingParam(ctx, 8, 5), gorm.ErrRecordNotFound)

	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "seven", users[0].Name)
}

func TestListPrematchDetails(t *testing.T) {
	ctx := context.Background()
	gdb := setupTestDB(t)
	store := repository.NewStore(gdb)
	require.NoError(t, db.SeedMinimalTestData(gdb))

	_, err := store.InsertPrematches(ctx, []db.Prematch{
		{UserID: 1, MatchUserID: 3, RelevancyScore: 1},
		{UserID: 1, MatchUserID: 2, RelevancyScore: 4},
	})
	require.NoError(t, err)

	rows, err := store.ListPrematchDetails(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "user1", rows[0].UserName)
	assert.Equal(t, "user2", rows[0].MatchUserName)
	assert.Equal(t, 4, rows[0].RelevancyScore)
	assert.Equal(t, "user3", rows[1].MatchUserName)
}
