package sandbox

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartbot_sandbox_executions_total",
			Help: "Total number of program executions by outcome",
		},
		[]string{"status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chartbot_sandbox_execution_duration_seconds",
			Help:    "Duration of program executions",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 11), // 0.25s to ~256s
		},
		[]string{"status"},
	)

	ExecutionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chartbot_sandbox_executions_in_flight",
			Help: "Number of program executions currently running",
		},
	)
)
