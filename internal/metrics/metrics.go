// Package metrics holds the service's prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest results.
const (
	ResultInserted    = "inserted"
	ResultDuplicate   = "duplicate"
	ResultInvalid     = "invalid"
	ResultUnavailable = "unavailable"
)

var (
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shotlog_ingest_total",
			Help: "Ingest attempts by result",
		},
		[]string{"result"},
	)

	RandomIdentityTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shotlog_random_identity_total",
			Help: "Shots stored under a random identity because no stable fields were present",
		},
	)

	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shotlog_store_operation_duration_seconds",
			Help:    "Duration of store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreOpErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shotlog_store_operation_errors_total",
			Help: "Store operation failures",
		},
		[]string{"operation"},
	)

	HubSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shotlog_hub_subscribers",
			Help: "Currently connected push subscribers",
		},
	)

	HubMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shotlog_hub_messages_sent_total",
			Help: "Messages handed to subscriber channels",
		},
	)

	HubSendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shotlog_hub_send_failures_total",
			Help: "Sends that failed and removed the subscriber",
		},
	)

	HubDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shotlog_hub_dropped_total",
			Help: "Broadcasts dropped because the hub mailbox was full",
		},
	)

	RelayPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shotlog_relay_publish_total",
			Help: "Relay publishes by outcome (ok, error, fallback)",
		},
		[]string{"outcome"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shotlog_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordStoreOp records the duration and outcome of a store call.
func RecordStoreOp(operation string, duration time.Duration, err error) {
	StoreOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		StoreOpErrors.WithLabelValues(operation).Inc()
	}
}

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}
