// Package queue is a small Redis-backed job queue.
//
// Every queue keeps its state under "{prefix}:{name}":
//
//	id          INCR counter for generated job ids
//	job:{id}    hash with the job record
//	wait        list of ready ids (LPUSH in, RPOPLPUSH out, so FIFO)
//	active      list of claimed ids
//	delayed     zset of ids scored by their run-at time in ms
//	completed   zset of finished ids scored by finish time in ms
//	failed      zset of exhausted ids scored by finish time in ms
//	lock:{id}   token of the worker holding the job, with a PX expiry
//	repeat      hash of repeatable job definitions
//
// Every state transition is a single Lua script so concurrent workers and
// producers never observe a half-moved job.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockLost is returned when a worker tries to finish a job whose lock
	// it no longer holds (the job was recovered as stalled).
	ErrLockLost = errors.New("queue: job lock lost")
	// ErrInvalidPattern is returned for a repeat pattern that does not parse.
	ErrInvalidPattern = errors.New("queue: invalid repeat pattern")
	// ErrJobNotFound is returned by GetJob for an unknown id.
	ErrJobNotFound = errors.New("queue: job not found")
)

// Options configures a Queue. Zero values fall back to defaults.
type Options struct {
	Prefix        string
	Attempts      int
	Backoff       time.Duration
	KeepCompleted int // <0 keeps everything
	KeepFailed    int // <0 keeps everything

	// Clock is used for job timestamps, delays and retry times.
	Clock func() time.Time
}

const (
	DefaultPrefix        = "tubematch"
	DefaultAttempts      = 3
	DefaultBackoff       = time.Second
	DefaultKeepCompleted = 100
	DefaultKeepFailed    = 500
)

type Queue struct {
	name   string
	client *redis.Client
	keys   keys
	opts   Options
}

// New returns a handle on the named queue. It does not touch Redis.
func New(client *redis.Client, name string, opts Options) *Queue {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.KeepCompleted == 0 {
		opts.KeepCompleted = DefaultKeepCompleted
	}
	if opts.KeepFailed == 0 {
		opts.KeepFailed = DefaultKeepFailed
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Queue{
		name:   name,
		client: client,
		keys:   keysFor(opts.Prefix, name),
		opts:   opts,
	}
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) now() time.Time { return q.opts.Clock() }

type addOptions struct {
	delay     time.Duration
	jobID     string
	attempts  int
	backoff   time.Duration
	repeatKey string
}

type AddOption func(*addOptions)

// WithDelay keeps the job out of the wait list until the delay has passed.
func WithDelay(d time.Duration) AddOption {
	return func(o *addOptions) { o.delay = d }
}

// WithJobID sets a custom id. Adding a job whose id already exists is a no-op
// that returns the existing job.
func WithJobID(id string) AddOption {
	return func(o *addOptions) { o.jobID = id }
}

func WithAttempts(n int) AddOption {
	return func(o *addOptions) { o.attempts = n }
}

func WithBackoff(d time.Duration) AddOption {
	return func(o *addOptions) { o.backoff = d }
}

func withRepeatKey(key string) AddOption {
	return func(o *addOptions) { o.repeatKey = key }
}

// Add enqueues a job named name carrying payload encoded as JSON.
// A nil payload is stored as an empty object.
func (q *Queue) Add(ctx context.Context, name string, payload any, opts ...AddOption) (*Job, error) {
	o := addOptions{attempts: q.opts.Attempts, backoff: q.opts.Backoff}
	for _, opt := range opts {
		opt(&o)
	}
	if o.attempts <= 0 {
		o.attempts = 1
	}
	if o.delay < 0 {
		o.delay = 0
	}

	data, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for %s: %w", name, err)
	}

	now := q.now()
	res, err := addScript.Run(ctx, q.client,
		[]string{q.keys.id, q.keys.wait, q.keys.delayed},
		q.keys.base, o.jobID, name, data,
		millis(now), o.delay.Milliseconds(), o.attempts, o.backoff.Milliseconds(),
		o.repeatKey, millis(now.Add(o.delay)),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("add job %s to %s: %w", name, q.name, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("add job %s to %s: unexpected reply %v", name, q.name, res)
	}
	return q.GetJob(ctx, res[0])
}

func encodePayload(payload any) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GetJob loads a single job record.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	h, err := q.client.HGetAll(ctx, q.keys.job(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	if len(h) == 0 {
		return nil, ErrJobNotFound
	}
	return jobFromHash(h), nil
}

// GetJobs returns the jobs currently in any of the given states, most recently
// created first. No states means all of them.
func (q *Queue) GetJobs(ctx context.Context, states ...State) ([]*Job, error) {
	if len(states) == 0 {
		states = AllStates
	}
	want := make(map[State]bool, len(states))
	for _, s := range states {
		want[s] = true
	}

	pipe := q.client.Pipeline()
	var lists []*redis.StringSliceCmd
	if want[StateWaiting] {
		lists = append(lists,
			pipe.LRange(ctx, q.keys.wait, 0, -1),
			pipe.ZRange(ctx, q.keys.delayed, 0, -1))
	}
	if want[StateActive] {
		lists = append(lists, pipe.LRange(ctx, q.keys.active, 0, -1))
	}
	if want[StateCompleted] {
		lists = append(lists, pipe.ZRange(ctx, q.keys.completed, 0, -1))
	}
	if want[StateFailed] {
		lists = append(lists, pipe.ZRange(ctx, q.keys.failed, 0, -1))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("list jobs of %s: %w", q.name, err)
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, cmd := range lists {
		for _, id := range cmd.Val() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe = q.client.Pipeline()
	hashes := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		hashes[i] = pipe.HGetAll(ctx, q.keys.job(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("load jobs of %s: %w", q.name, err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, cmd := range hashes {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		job := jobFromHash(h)
		// the hash is authoritative; a job moving between structures while we
		// listed them is reported in its current state only
		if !want[job.State] {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].Timestamp.Equal(jobs[j].Timestamp) {
			return jobs[i].Timestamp.After(jobs[j].Timestamp)
		}
		return compareIDs(jobs[i].ID, jobs[j].ID) > 0
	})
	return jobs, nil
}

// compareIDs orders numeric ids numerically and anything else lexically.
func compareIDs(a, b string) int {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Counts is a per-state job count. Delayed jobs are included in Waiting.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.client.Pipeline()
	wait := pipe.LLen(ctx, q.keys.wait)
	delayed := pipe.ZCard(ctx, q.keys.delayed)
	active := pipe.LLen(ctx, q.keys.active)
	completed := pipe.ZCard(ctx, q.keys.completed)
	failed := pipe.ZCard(ctx, q.keys.failed)
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("count jobs of %s: %w", q.name, err)
	}
	return Counts{
		Waiting:   wait.Val() + delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

// Length is the number of jobs not yet picked up, delayed ones included.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	c, err := q.Counts(ctx)
	if err != nil {
		return 0, err
	}
	return c.Waiting, nil
}

// promoteDelayed moves due delayed jobs onto the wait list.
func (q *Queue) promoteDelayed(ctx context.Context) (int64, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.keys.delayed, q.keys.wait},
		millis(q.now()), 1000,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("promote delayed jobs of %s: %w", q.name, err)
	}
	return n, nil
}

// moveToActive claims the oldest waiting job for token. It returns nil when
// the wait list is empty.
func (q *Queue) moveToActive(ctx context.Context, token string, lock time.Duration) (*Job, error) {
	res, err := moveToActiveScript.Run(ctx, q.client,
		[]string{q.keys.wait, q.keys.active},
		q.keys.base, token, lock.Milliseconds(), millis(q.now()),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim job from %s: %w", q.name, err)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return jobFromHash(pairsToMap(res)), nil
}

func (q *Queue) complete(ctx context.Context, job *Job, token string, result any) error {
	rv := ""
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("encode result of job %s: %w", job.ID, err)
		}
		rv = string(b)
	}
	n, err := completeScript.Run(ctx, q.client,
		[]string{q.keys.active, q.keys.completed},
		q.keys.base, job.ID, token, millis(q.now()), rv, q.opts.KeepCompleted,
	).Int64()
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if n < 0 {
		return ErrLockLost
	}
	return nil
}

// fail records a failed attempt. It reports whether the job was scheduled
// for another attempt and after which delay.
func (q *Queue) fail(ctx context.Context, job *Job, token string, cause error) (bool, time.Duration, error) {
	attempt := job.AttemptsMade + 1
	now := q.now()
	retryAt := int64(-1)
	var delay time.Duration
	if attempt < job.MaxAttempts {
		delay = retryDelay(job.Backoff, attempt)
		retryAt = millis(now.Add(delay))
	}

	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	n, err := failScript.Run(ctx, q.client,
		[]string{q.keys.active, q.keys.delayed, q.keys.failed},
		q.keys.base, job.ID, token, millis(now), reason, retryAt, q.opts.KeepFailed,
	).Int64()
	if err != nil {
		return false, 0, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if n < 0 {
		return false, 0, ErrLockLost
	}
	return retryAt >= 0, delay, nil
}

func (q *Queue) extendLock(ctx context.Context, id, token string, d time.Duration) (bool, error) {
	n, err := extendLockScript.Run(ctx, q.client,
		[]string{q.keys.lock(id)},
		token, d.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("extend lock of job %s: %w", id, err)
	}
	return n == 1, nil
}

// RecoverStalled puts active jobs whose lock expired back on the wait list,
// failing those that stalled more than maxStalled times.
func (q *Queue) RecoverStalled(ctx context.Context, maxStalled int) (recovered, failed int64, err error) {
	res, err := stalledScript.Run(ctx, q.client,
		[]string{q.keys.active, q.keys.wait, q.keys.failed},
		q.keys.base, maxStalled, millis(q.now()), q.opts.KeepFailed,
	).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("recover stalled jobs of %s: %w", q.name, err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("recover stalled jobs of %s: unexpected reply %v", q.name, res)
	}
	return res[0], res[1], nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func pairsToMap(flat []string) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return m
}
