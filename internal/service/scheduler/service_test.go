package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oggyb/tubematch/internal/app"
	"github.com/oggyb/tubematch/internal/cache"
	"github.com/oggyb/tubematch/internal/db"
	"github.com/oggyb/tubematch/internal/logger"
	"github.com/oggyb/tubematch/internal/queue"
	"github.com/oggyb/tubematch/internal/service/analytics"
	"github.com/oggyb/tubematch/internal/service/scheduler"
)

type env struct {
	appCtx *app.AppContext
	mr     *miniredis.Miniredis
	svc    *scheduler.Service
	router *gin.Engine
}

func setup(t *testing.T) *env {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		NowFunc:                func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := logger.Discard()
	appCtx := app.New(nil, gdb, &cache.RedisCache{Client: client}, client, log)
	svc := scheduler.NewFromApp(appCtx)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	svc.RegisterRoutes(router.Group("/api"))

	return &env{appCtx: appCtx, mr: mr, svc: svc, router: router}
}

func (e *env) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHTTP_CalculateEndpointsEnqueueOneJob(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	rec := e.do(t, http.MethodPost, "/api/prematch/calculate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Prematch calculation queued"}`, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/analytics/calculate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Analytics calculation queued"}`, rec.Body.String())

	pending, err := e.appCtx.PrematchQueue.GetJobs(ctx, queue.StateWaiting)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, app.CalculatePrematchesJob, pending[0].Name)

	pending, err = e.appCtx.AnalyticsQueue.GetJobs(ctx, queue.StateWaiting)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, app.CalculateAnalyticsJob, pending[0].Name)
}

func TestHTTP_CalculateFailsWhenQueueIsDown(t *testing.T) {
	e := setup(t)
	e.mr.SetError("LOADING redis is down")

	rec := e.do(t, http.MethodPost, "/api/prematch/calculate")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to queue prematch calculation"}`, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/queues/status")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to fetch queue status"}`, rec.Body.String())
}

func TestHTTP_QueueStatus(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	log := logger.Discard()

	for i := 0; i < 7; i++ {
		_, err := e.svc.EnqueuePrematch(ctx)
		require.NoError(t, err)
	}
	w := queue.NewWorker(e.appCtx.PrematchQueue, func(ctx context.Context, job *queue.Job) (any, error) {
		if job.ID == "2" {
			return nil, errors.New("store unavailable")
		}
		return map[string]bool{"prematchCompleted": true}, nil
	}, log, queue.WorkerOptions{})
	for i := 0; i < 3; i++ {
		_, err := w.ProcessNext(ctx)
		require.NoError(t, err)
	}

	rec := e.do(t, http.MethodGet, "/api/queues/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var st scheduler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))

	// job 2 failed once and waits for its retry
	assert.EqualValues(t, 5, st.Prematch.Waiting)
	assert.EqualValues(t, 2, st.Prematch.Completed)
	assert.Zero(t, st.Prematch.Failed)
	assert.Len(t, st.Prematch.RecentJobs, scheduler.RecentJobsLimit)
	assert.Empty(t, st.Analytics.RecentJobs)
	assert.Zero(t, st.Analytics.Waiting)

	var job2 *scheduler.JobView
	for i := range st.Prematch.RecentJobs {
		if st.Prematch.RecentJobs[i].ID == "2" {
			job2 = &st.Prematch.RecentJobs[i]
		}
	}
	if job2 != nil {
		assert.Equal(t, "store unavailable", job2.FailedReason)
	}

	// raw shape
	var raw map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	for _, k := range []string{"waiting", "active", "completed", "failed", "recentJobs"} {
		assert.Contains(t, raw["prematch"], k)
	}
}

func TestStatus_RecentJobsMostRecentFirst(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.svc.EnqueueAnalytics(ctx)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	st, err := e.svc.Status(ctx)
	require.NoError(t, err)
	require.Len(t, st.Analytics.RecentJobs, 3)
	assert.Equal(t, "3", st.Analytics.RecentJobs[0].ID)
	assert.Equal(t, "1", st.Analytics.RecentJobs[2].ID)
	assert.Equal(t, queue.StateWaiting, st.Analytics.RecentJobs[0].State)
}

func TestRegisterSchedule_Idempotent(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	first, err := e.svc.RegisterSchedule(ctx, "0 0 * * *")
	require.NoError(t, err)
	second, err := e.svc.RegisterSchedule(ctx, "0 0 * * *")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	n, err := e.appCtx.PrematchQueue.Length(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = e.svc.RegisterSchedule(ctx, "not a cron")
	assert.ErrorIs(t, err, queue.ErrInvalidPattern)
}

func TestHTTP_Snapshots(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	an := analytics.NewFromApp(e.appCtx)
	for i := 0; i < 3; i++ {
		_, err := an.Handle(ctx, &queue.Job{ID: fmt.Sprint(i)})
		require.NoError(t, err)
	}

	rec := e.do(t, http.MethodGet, "/api/analytics/snapshots?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Snapshots           []analytics.Snapshot `json:"snapshots"`
		NextPaginationToken string               `json:"next_pagination_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Snapshots, 2)
	require.NotEmpty(t, page.NextPaginationToken)

	rec = e.do(t, http.MethodGet, "/api/analytics/snapshots?limit=2&pagination_token="+page.NextPaginationToken)
	require.Equal(t, http.StatusOK, rec.Code)
	page.NextPaginationToken = ""
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Snapshots, 1)
	assert.Empty(t, page.NextPaginationToken)

	rec = e.do(t, http.MethodGet, "/api/analytics/snapshots?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/analytics/snapshots?pagination_token=%25%25bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid pagination token"}`, rec.Body.String())
}

func TestHTTP_PrematchCheck(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	require.NoError(t, db.SeedMinimalTestData(e.appCtx.DB))
	_, err := e.appCtx.Store.InsertPrematches(ctx, []db.Prematch{{UserID: 1, MatchUserID: 2, RelevancyScore: 4}})
	require.NoError(t, err)

	rec := e.do(t, http.MethodGet, "/api/prematch/check")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Prematches []map[string]any `json:"prematches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Prematches, 1)
	assert.Equal(t, "user2", body.Prematches[0]["match_user_name"])
}

//
// gRPC
//

func dialBufconn(t *testing.T, e *env) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	scheduler.NewRegistrar(e.appCtx).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGRPC_Scheduler(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	client := scheduler.NewClient(dialBufconn(t, e))

	msg, err := client.CalculatePrematches(ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.PrematchQueuedMessage, msg)

	msg, err = client.CalculateAnalytics(ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.AnalyticsQueuedMessage, msg)

	st, err := client.QueueStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Prematch.Waiting)
	assert.EqualValues(t, 1, st.Analytics.Waiting)
	require.Len(t, st.Prematch.RecentJobs, 1)
	assert.Equal(t, app.CalculatePrematchesJob, st.Prematch.RecentJobs[0].Name)
	assert.NotZero(t, st.Prematch.RecentJobs[0].Timestamp)
}

func TestGRPC_InfrastructureErrorIsInternal(t *testing.T) {
	e := setup(t)
	client := scheduler.NewClient(dialBufconn(t, e))
	e.mr.SetError("LOADING redis is down")

	_, err := client.CalculatePrematches(context.Background())
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}
