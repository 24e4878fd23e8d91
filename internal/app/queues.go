package app

import (
	"github.com/oggyb/tubematch/internal/config"
	"github.com/oggyb/tubematch/internal/queue"
)

// Queue and job names shared by producers and workers.
const (
	PrematchQueue  = "prematch-queue"
	AnalyticsQueue = "analytics-queue"

	CalculatePrematchesJob = "calculate-prematches"
	CalculateAnalyticsJob  = "calculate-analytics"
)

// QueueOptions maps the queue section of the config onto queue.Options.
func QueueOptions(cfg *config.Config) queue.Options {
	if cfg == nil {
		return queue.Options{}
	}
	return queue.Options{
		Prefix:        cfg.Queue.Prefix,
		Attempts:      cfg.Queue.Attempts,
		Backoff:       cfg.Queue.Backoff,
		KeepCompleted: cfg.Queue.KeepCompleted,
		KeepFailed:    cfg.Queue.KeepFailed,
	}
}

// WorkerOptions maps the queue section of the config onto queue.WorkerOptions.
func WorkerOptions(cfg *config.Config) queue.WorkerOptions {
	if cfg == nil {
		return queue.WorkerOptions{}
	}
	return queue.WorkerOptions{
		Concurrency:     cfg.Queue.Concurrency,
		PollInterval:    cfg.Queue.PollInterval,
		LockDuration:    cfg.Queue.LockDuration,
		StalledInterval: cfg.Queue.StalledInterval,
		MaxStalled:      cfg.Queue.MaxStalled,
		JobTimeout:      cfg.Queue.JobTimeout,
	}
}
