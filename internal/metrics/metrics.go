package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "peerchat_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_messages_sent_total",
			Help: "Messages committed to the store",
		},
		[]string{"attachment_kind"}, // "none", "image", "video", "audio", "file"
	)

	AttachmentUploadFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_attachment_upload_failures_total",
			Help: "Attachment uploads that aborted a send",
		},
		[]string{"partition"},
	)

	StoreWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peerchat_store_write_failures_total",
			Help: "Message appends rejected by the store",
		},
	)

	EnrichmentFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "peerchat_enrichment_failures_total",
			Help: "Profile lookups that degraded to placeholders",
		},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_notifications_total",
			Help: "Notification attempts by result",
		},
		[]string{"result"}, // "queued", "published", "failed"
	)

	FeedEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "peerchat_feed_events_dropped_total",
			Help: "Change feed events not applied to a timeline",
		},
		[]string{"reason"}, // "duplicate", "invalid", "stale", "foreign", "overflow"
	)

	LiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "peerchat_live_subscriptions",
			Help: "Currently open change feed subscriptions",
		},
	)
)
