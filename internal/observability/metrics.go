package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "job_tracking", Name: "connections_active", Help: "Open relay connections"})
	RoomsActive       = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "job_tracking", Name: "rooms_active", Help: "Rooms with at least one member"})

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "job_tracking", Name: "events_published_total", Help: "Events published into a room"},
		[]string{"kind"},
	)
	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "job_tracking", Name: "events_delivered_total", Help: "Events queued for a room member"},
		[]string{"kind"},
	)
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "job_tracking", Name: "events_dropped_total", Help: "Events dropped because a member queue was full or closed"},
		[]string{"kind"},
	)
	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "job_tracking", Name: "events_rejected_total", Help: "Inbound frames rejected by the relay"},
		[]string{"reason"},
	)
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "job_tracking", Name: "status_transitions_total", Help: "Accepted job status transitions"},
		[]string{"status"},
	)
	JobAlertsSent   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "job_tracking", Name: "job_alerts_sent_total", Help: "New-job offers delivered to nearby drivers"})
	SnapshotLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "job_tracking", Name: "snapshot_latency_seconds", Help: "Tracking snapshot build latency"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "job_tracking", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "job_tracking",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
