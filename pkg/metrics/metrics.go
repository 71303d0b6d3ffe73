package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CampaignLaunches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_campaign_launches_total",
		Help: "The total number of campaign launch attempts",
	}, []string{"trigger", "result"})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_messages_sent_total",
		Help: "The total number of gateway send attempts by outcome",
	}, []string{"outcome"})

	GatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "broadcast_gateway_request_duration_seconds",
		Help:    "Time taken by message gateway requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "result"})

	DispatchBatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "broadcast_dispatch_batch_duration_seconds",
		Help:    "Time taken to dispatch one batch of messages",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	WebhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_webhook_requests_total",
		Help: "The total number of gateway webhook requests by result",
	}, []string{"result"})

	CallbacksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_callbacks_received_total",
		Help: "The total number of delivery status callbacks received",
	}, []string{"status"})

	CallbacksApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_callbacks_applied_total",
		Help: "The total number of delivery status callbacks by reconciliation result",
	}, []string{"status", "result"})

	Clicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_button_clicks_total",
		Help: "The total number of tracked button clicks",
	}, []string{"first"})

	QueueSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "broadcast_queue_size",
		Help: "Current number of jobs waiting in a worker queue",
	}, []string{"queue"})

	JobRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_job_retries_total",
		Help: "The total number of worker job retries",
	}, []string{"job_type"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_rate_limit_exceeded_total",
		Help: "The total number of times rate limits were exceeded",
	}, []string{"client_id", "limit_type"})
)
