package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubematch_queue_jobs_completed_total",
			Help: "Total number of jobs completed per queue",
		},
		[]string{"queue"},
	)

	// JobsFailed counts failed attempts; final="true" once attempts are exhausted.
	JobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubematch_queue_jobs_failed_total",
			Help: "Total number of failed job attempts per queue",
		},
		[]string{"queue", "final"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tubematch_queue_job_duration_seconds",
			Help:    "Duration of job processing in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"queue"},
	)

	JobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tubematch_queue_jobs_active",
			Help: "Number of jobs currently processed by this process",
		},
		[]string{"queue"},
	)

	PrematchesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tubematch_prematches_created_total",
			Help: "Total number of prematch rows created by matching passes",
		},
	)

	CommonSubscriptionsCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubematch_common_subscriptions_cache_total",
			Help: "Common-subscription cache lookups by result",
		},
		[]string{"result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tubematch_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tubematch_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
