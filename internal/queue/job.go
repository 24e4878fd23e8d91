package queue

import (
	"encoding/json"
	"strconv"
	"time"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var AllStates = []State{StateWaiting, StateActive, StateCompleted, StateFailed}

// Job is a snapshot of a job record. Delayed jobs and jobs waiting for a
// retry report StateWaiting.
type Job struct {
	ID           string
	Name         string
	Data         json.RawMessage
	State        State
	AttemptsMade int
	MaxAttempts  int
	Backoff      time.Duration
	Delay        time.Duration
	Timestamp    time.Time
	ProcessedOn  time.Time
	FinishedOn   time.Time
	FailedReason string
	ReturnValue  json.RawMessage
	RepeatKey    string
	StalledCount int
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Data, v)
}

func jobFromHash(h map[string]string) *Job {
	j := &Job{
		ID:           h["id"],
		Name:         h["name"],
		State:        State(h["state"]),
		AttemptsMade: atoi(h["attemptsMade"]),
		MaxAttempts:  atoi(h["maxAttempts"]),
		Backoff:      time.Duration(atoi64(h["backoff"])) * time.Millisecond,
		Delay:        time.Duration(atoi64(h["delay"])) * time.Millisecond,
		Timestamp:    fromMillis(h["timestamp"]),
		ProcessedOn:  fromMillis(h["processedOn"]),
		FinishedOn:   fromMillis(h["finishedOn"]),
		FailedReason: h["failedReason"],
		RepeatKey:    h["repeatKey"],
		StalledCount: atoi(h["stalledCount"]),
	}
	if d := h["data"]; d != "" {
		j.Data = json.RawMessage(d)
	}
	if rv := h["returnvalue"]; rv != "" {
		j.ReturnValue = json.RawMessage(rv)
	}
	return j
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func fromMillis(s string) time.Time {
	ms := atoi64(s)
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
