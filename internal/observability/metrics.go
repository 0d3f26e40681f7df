package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renderbot_jobs_enqueued_total",
		Help: "The total number of enqueued generation jobs.",
	}, []string{"kind"})

	JobsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renderbot_jobs_finished_total",
		Help: "The total number of jobs that reached a terminal status.",
	}, []string{"kind", "status"})

	JobAttempts = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "renderbot_job_attempts",
		Help:    "Attempts spent per job before its terminal status.",
		Buckets: prometheus.LinearBuckets(1, 1, 5),
	}, []string{"kind"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "renderbot_job_duration_seconds",
		Help:    "Wall time from enqueue to terminal status.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"kind"})

	PresetDowngrades = promauto.NewCounter(prometheus.CounterOpts{
		Name: "renderbot_preset_downgrades_total",
		Help: "Times a video job fell back to a cheaper preset after resource exhaustion.",
	})

	EngineSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "renderbot_engine_submissions_total",
		Help: "Submissions sent to the rendering engine.",
	}, []string{"outcome"})
)
