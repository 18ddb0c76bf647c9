package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmittedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "jobs_submitted_total",
			Help:      "Total dispatch jobs accepted at admission.",
		},
		[]string{"mode"},
	)

	jobsRejectedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "jobs_rejected_total",
			Help:      "Total submissions rejected at admission.",
		},
		[]string{"reason"},
	)

	jobsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "jobs_processed_total",
			Help:      "Total dispatch jobs that reached a terminal status.",
		},
		[]string{"status"}, // sent / partial / failed
	)

	sendAttemptsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "send_attempts_total",
			Help:      "Per-recipient send attempts.",
		},
		[]string{"channel", "result"}, // result: success / failure
	)

	jobDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "job_duration_seconds",
			Help:      "Wall time of one job execution attempt.",
			// Paced jobs run for minutes; default buckets top out too low.
			Buckets: []float64{1, 15, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"channel"},
	)

	channelSendDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "channel_send_duration_seconds",
			Help:      "Duration of individual ChannelClient.SendOne calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"channel"},
	)

	schedulerTicksCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "scheduler_ticks_total",
			Help:      "Total scheduler poll ticks.",
		},
	)
)
