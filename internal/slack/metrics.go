package slack

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chartbot_slack_build_info",
			Help: "Build information of the chartbot Slack bot",
		},
		[]string{"version", "commit", "date"},
	)

	EventsReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartbot_slack_events_received_total",
			Help: "Total number of Slack events received",
		},
		[]string{"event_type", "inner_event_type"},
	)

	EventsDuplicateTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chartbot_slack_events_duplicate_total",
			Help: "Total number of duplicate events skipped",
		},
	)

	MessagesIgnoredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartbot_slack_messages_ignored_total",
			Help: "Total number of messages ignored",
		},
		[]string{"reason"},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartbot_slack_requests_total",
			Help: "Total number of analysis requests by final status",
		},
		[]string{"status"},
	)

	RequestsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chartbot_slack_requests_rejected_total",
			Help: "Total number of requests rejected because the queue was full",
		},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chartbot_slack_queue_depth",
			Help: "Number of requests waiting for the executor",
		},
	)

	RequestProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chartbot_slack_request_processing_duration_seconds",
			Help:    "Duration of request processing, from admission to reply",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~256s
		},
	)

	MessagesPostedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartbot_slack_messages_posted_total",
			Help: "Total number of messages posted to Slack",
		},
		[]string{"kind", "status"},
	)

	FeedbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartbot_slack_feedback_total",
			Help: "Total number of feedback votes by verdict",
		},
		[]string{"verdict"},
	)

	SlackAPIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartbot_slack_api_errors_total",
			Help: "Total number of Slack API errors",
		},
		[]string{"operation"},
	)

	SlackRateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chartbot_slack_rate_limited_total",
			Help: "Total number of Slack API calls that were rate limited and retried",
		},
		[]string{"operation"},
	)
)
