package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/oggyb/tubematch/internal/app"
	"github.com/oggyb/tubematch/internal/queue"
	"github.com/oggyb/tubematch/internal/repository"
	"github.com/oggyb/tubematch/internal/service/analytics"
)

// RecentJobsLimit is how many jobs per queue the status view lists.
const RecentJobsLimit = 5

// SnapshotLister pages through stored analytics snapshots.
type SnapshotLister interface {
	List(ctx context.Context, paginationToken *string, limit int) ([]analytics.Snapshot, *string, error)
}

// PrematchLister lists computed prematches for inspection.
type PrematchLister interface {
	ListPrematchDetails(ctx context.Context, limit int) ([]repository.PrematchDetail, error)
}

// JobView is the status representation of one job.
type JobView struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	State        queue.State     `json:"state"`
	Timestamp    int64           `json:"timestamp"`
	FailedReason string          `json:"failedReason,omitempty"`
	ReturnValue  json.RawMessage `json:"returnvalue,omitempty"`
}

// QueueStatus is the per-queue part of Status.
type QueueStatus struct {
	Waiting    int64     `json:"waiting"`
	Active     int64     `json:"active"`
	Completed  int64     `json:"completed"`
	Failed     int64     `json:"failed"`
	RecentJobs []JobView `json:"recentJobs"`
}

type Status struct {
	Prematch  QueueStatus `json:"prematch"`
	Analytics QueueStatus `json:"analytics"`
}

// Service is the trigger and status API in front of the two job queues.
type Service struct {
	prematch   *queue.Queue
	analytics  *queue.Queue
	snapshots  SnapshotLister
	prematches PrematchLister
	log        *slog.Logger
}

func NewService(prematchQ, analyticsQ *queue.Queue, snapshots SnapshotLister, prematches PrematchLister, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		prematch:   prematchQ,
		analytics:  analyticsQ,
		snapshots:  snapshots,
		prematches: prematches,
		log:        log,
	}
}

// NewFromApp builds the Service from the shared dependencies.
func NewFromApp(appCtx *app.AppContext) *Service {
	return NewService(
		appCtx.PrematchQueue,
		appCtx.AnalyticsQueue,
		analytics.NewFromApp(appCtx),
		appCtx.Store,
		appCtx.Logger,
	)
}

// EnqueuePrematch adds one calculate-prematches job.
func (s *Service) EnqueuePrematch(ctx context.Context) (*queue.Job, error) {
	job, err := s.prematch.Add(ctx, app.CalculatePrematchesJob, nil)
	if err != nil {
		return nil, err
	}
	s.log.Info("prematch calculation queued", "job_id", job.ID)
	return job, nil
}

// EnqueueAnalytics adds one calculate-analytics job.
func (s *Service) EnqueueAnalytics(ctx context.Context) (*queue.Job, error) {
	job, err := s.analytics.Add(ctx, app.CalculateAnalyticsJob, nil)
	if err != nil {
		return nil, err
	}
	s.log.Info("analytics calculation queued", "job_id", job.ID)
	return job, nil
}

// RegisterSchedule makes the prematch calculation recur on pattern.
// Calling it on every startup keeps a single schedule.
func (s *Service) RegisterSchedule(ctx context.Context, pattern string) (*queue.Job, error) {
	job, err := s.prematch.AddRepeatable(ctx, app.CalculatePrematchesJob, nil, pattern)
	if err != nil {
		return nil, err
	}
	if job != nil {
		s.log.Info("prematch schedule registered", "pattern", pattern, "next_job_id", job.ID)
	}
	return job, nil
}

// Status returns job counts and the most recent jobs of both queues.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	var out Status
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Prematch, err = queueStatus(gctx, s.prematch)
		return err
	})
	g.Go(func() (err error) {
		out.Analytics, err = queueStatus(gctx, s.analytics)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

func queueStatus(ctx context.Context, q *queue.Queue) (QueueStatus, error) {
	counts, err := q.Counts(ctx)
	if err != nil {
		return QueueStatus{}, err
	}
	jobs, err := q.GetJobs(ctx, queue.AllStates...)
	if err != nil {
		return QueueStatus{}, fmt.Errorf("list jobs of %s: %w", q.Name(), err)
	}
	if len(jobs) > RecentJobsLimit {
		jobs = jobs[:RecentJobsLimit]
	}

	st := QueueStatus{
		Waiting:    counts.Waiting,
		Active:     counts.Active,
		Completed:  counts.Completed,
		Failed:     counts.Failed,
		RecentJobs: make([]JobView, 0, len(jobs)),
	}
	for _, j := range jobs {
		st.RecentJobs = append(st.RecentJobs, JobView{
			ID:           j.ID,
			Name:         j.Name,
			State:        j.State,
			Timestamp:    j.Timestamp.UnixMilli(),
			FailedReason: j.FailedReason,
			ReturnValue:  j.ReturnValue,
		})
	}
	return st, nil
}

// Snapshots pages through analytics history, newest first.
func (s *Service) Snapshots(ctx context.Context, paginationToken *string, limit int) ([]analytics.Snapshot, *string, error) {
	return s.snapshots.List(ctx, paginationToken, limit)
}

// Prematches lists computed prematches, best scores first.
func (s *Service) Prematches(ctx context.Context, limit int) ([]repository.PrematchDetail, error) {
	return s.prematches.ListPrematchDetails(ctx, limit)
}
