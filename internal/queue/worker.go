package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/oggyb/tubematch/internal/metrics"
)

// Handler processes one job. The returned value is stored JSON-encoded as the
// job's return value; a non-nil error counts as a failed attempt.
type Handler func(ctx context.Context, job *Job) (any, error)

type WorkerOptions struct {
	Concurrency     int
	PollInterval    time.Duration
	LockDuration    time.Duration
	StalledInterval time.Duration
	MaxStalled      int
	JobTimeout      time.Duration
}

const (
	DefaultConcurrency     = 1
	DefaultPollInterval    = time.Second
	DefaultLockDuration    = 30 * time.Second
	DefaultStalledInterval = 30 * time.Second
	DefaultMaxStalled      = 1
	DefaultJobTimeout      = 5 * time.Minute
)

type Worker struct {
	queue   *Queue
	handler Handler
	log     *slog.Logger
	opts    WorkerOptions
	tracer  trace.Tracer
}

func NewWorker(q *Queue, h Handler, log *slog.Logger, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = DefaultLockDuration
	}
	if opts.StalledInterval <= 0 {
		opts.StalledInterval = DefaultStalledInterval
	}
	if opts.MaxStalled < 0 {
		opts.MaxStalled = DefaultMaxStalled
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		queue:   q,
		handler: h,
		log:     log.With("queue", q.Name()),
		opts:    opts,
		tracer:  otel.Tracer("github.com/oggyb/tubematch/internal/queue"),
	}
}

// Run polls the queue until ctx is cancelled. A job in flight when ctx is
// cancelled still gets its outcome recorded.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", "concurrency", w.opts.Concurrency)
	defer w.log.Info("worker stopped")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.opts.Concurrency; i++ {
		g.Go(func() error { return w.poll(ctx) })
	}
	g.Go(func() error { return w.watchStalled(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (w *Worker) poll(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		for ctx.Err() == nil {
			ok, err := w.ProcessNext(ctx)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				w.log.Warn("queue poll failed", "err", err)
				break
			}
			if !ok {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) watchStalled(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.StalledInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		recovered, failed, err := w.queue.RecoverStalled(ctx, w.opts.MaxStalled)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Warn("stalled check failed", "err", err)
			}
			continue
		}
		if recovered > 0 || failed > 0 {
			w.log.Warn("stalled jobs found", "recovered", recovered, "failed", failed)
		}
	}
}

// ProcessNext promotes due delayed jobs, then claims and processes one job.
// It reports whether a job was processed.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	if _, err := w.queue.promoteDelayed(ctx); err != nil {
		return false, err
	}
	token := uuid.NewString()
	job, err := w.queue.moveToActive(ctx, token, w.opts.LockDuration)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.process(ctx, job, token)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *Job, token string) {
	// bookkeeping must survive shutdown of the poll loop
	ctx = context.WithoutCancel(ctx)
	queueName := w.queue.Name()
	log := w.log.With("job_id", job.ID, "job_name", job.Name, "attempt", job.AttemptsMade+1)

	if job.RepeatKey != "" {
		if _, err := w.queue.scheduleNext(ctx, job.RepeatKey); err != nil {
			log.Warn("failed to schedule next occurrence", "err", err)
		}
	}

	ctx, span := w.tracer.Start(ctx, "queue.process "+job.Name,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("queue.name", queueName),
			attribute.String("job.id", job.ID),
			attribute.Int("job.attempt", job.AttemptsMade+1),
		))
	defer span.End()

	metrics.JobsActive.WithLabelValues(queueName).Inc()
	defer metrics.JobsActive.WithLabelValues(queueName).Dec()

	log.Debug("job started")
	stop := w.keepLock(ctx, job.ID, token, log)
	jobCtx, cancel := context.WithTimeout(ctx, w.opts.JobTimeout)
	start := time.Now()
	result, err := w.run(jobCtx, job)
	elapsed := time.Since(start)
	cancel()
	stop()
	metrics.JobDuration.WithLabelValues(queueName).Observe(elapsed.Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		retry, delay, ferr := w.queue.fail(ctx, job, token, err)
		if ferr != nil {
			log.Error("failed to record job failure", "err", ferr, "cause", err)
			return
		}
		metrics.JobsFailed.WithLabelValues(queueName, strconv.FormatBool(!retry)).Inc()
		if retry {
			log.Warn("job failed, retrying", "err", err, "retry_in", delay)
			return
		}
		log.Error("job failed", "err", err, "attempts", job.AttemptsMade+1)
		return
	}

	if cerr := w.queue.complete(ctx, job, token, result); cerr != nil {
		log.Error("failed to record job completion", "err", cerr)
		return
	}
	metrics.JobsCompleted.WithLabelValues(queueName).Inc()
	log.Info("job completed", "duration_ms", elapsed.Milliseconds())
}

func (w *Worker) run(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return w.handler(ctx, job)
}

// keepLock renews the job lock at half its duration until the returned
// function is called.
func (w *Worker) keepLock(ctx context.Context, id, token string, log *slog.Logger) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(w.opts.LockDuration / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ok, err := w.queue.extendLock(ctx, id, token, w.opts.LockDuration)
				if err != nil {
					log.Warn("failed to extend job lock", "err", err)
					continue
				}
				if !ok {
					log.Warn("job lock lost")
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
