package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

type repeatDef struct {
	Name    string          `json:"name"`
	Pattern string          `json:"pattern"`
	Data    json.RawMessage `json:"data"`
}

func repeatKey(name, pattern string) string { return name + "::" + pattern }

// repeatJobID names one occurrence. The pattern hash keeps occurrences of
// different schedules for the same job name apart.
func repeatJobID(name, pattern string, runAtMillis int64) string {
	return repeatIDPrefix(name, pattern) + strconv.FormatInt(runAtMillis, 10)
}

func repeatIDPrefix(name, pattern string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(pattern))
	return "repeat:" + name + ":" + strconv.FormatUint(uint64(h.Sum32()), 16) + ":"
}

// AddRepeatable registers a job that recurs on a standard five-field cron
// pattern ("0 0 * * *"; a "CRON_TZ=" prefix selects a time zone) and
// schedules its next occurrence.
//
// Behavior:
//   - Registering the same name and pattern again keeps a single definition
//     and a single pending occurrence.
//   - The occurrence after that is scheduled when a worker picks the current
//     one up, as long as the definition still exists.
func (q *Queue) AddRepeatable(ctx context.Context, name string, payload any, pattern string) (*Job, error) {
	if _, err := cron.ParseStandard(pattern); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, pattern, err)
	}
	data, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload for %s: %w", name, err)
	}
	def, err := json.Marshal(repeatDef{Name: name, Pattern: pattern, Data: json.RawMessage(data)})
	if err != nil {
		return nil, err
	}
	key := repeatKey(name, pattern)
	if err := q.client.HSet(ctx, q.keys.repeat, key, def).Err(); err != nil {
		return nil, fmt.Errorf("register repeatable %s: %w", key, err)
	}
	return q.scheduleNext(ctx, key)
}

// RemoveRepeatable drops the definition and its pending occurrence. Other
// schedules of the same job name are left alone.
func (q *Queue) RemoveRepeatable(ctx context.Context, name, pattern string) error {
	if err := q.client.HDel(ctx, q.keys.repeat, repeatKey(name, pattern)).Err(); err != nil {
		return fmt.Errorf("remove repeatable %s: %w", name, err)
	}
	pending, err := q.client.ZRange(ctx, q.keys.delayed, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("remove repeatable %s: %w", name, err)
	}
	prefix := repeatIDPrefix(name, pattern)
	for _, id := range pending {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.keys.delayed, id)
		pipe.Del(ctx, q.keys.job(id))
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("remove pending occurrence %s: %w", id, err)
		}
	}
	return nil
}

// Repeatables lists the registered "name::pattern" keys.
func (q *Queue) Repeatables(ctx context.Context) ([]string, error) {
	return q.client.HKeys(ctx, q.keys.repeat).Result()
}

// scheduleNext adds the next occurrence of a repeatable definition. The job id
// is derived from the run time so repeated calls collapse into one job.
// Returns nil, nil when the definition no longer exists.
func (q *Queue) scheduleNext(ctx context.Context, key string) (*Job, error) {
	raw, err := q.client.HGet(ctx, q.keys.repeat, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load repeatable %s: %w", key, err)
	}

	var def repeatDef
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return nil, fmt.Errorf("decode repeatable %s: %w", key, err)
	}
	sched, err := cron.ParseStandard(def.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPattern, def.Pattern, err)
	}

	now := q.now()
	next := sched.Next(now)
	return q.Add(ctx, def.Name, def.Data,
		WithJobID(repeatJobID(def.Name, def.Pattern, millis(next))),
		WithDelay(next.Sub(now)),
		withRepeatKey(key),
	)
}
