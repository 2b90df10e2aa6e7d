// Package metrics holds the Prometheus collectors shared by every service.
// All collectors carry a service label so one scrape config covers the fleet.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PaymentRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_requests_total",
		Help: "Total payment requests",
	}, []string{"service"})

	PaymentSuccessTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_success_total",
		Help: "Total successful payments",
	}, []string{"service"})

	PaymentFailureTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_failure_total",
		Help: "Total failed payments",
	}, []string{"service"})

	PaymentLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "payment_latency_seconds",
		Help: "Payment creation latency seconds",
	}, []string{"service"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"service", "route", "method", "status_code"})

	HTTPRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "http_request_duration_seconds",
		Help: "HTTP request duration seconds",
	}, []string{"service", "route", "method"})

	PaymentE2ESeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_e2e_seconds",
		Help:    "Payment end-to-end duration seconds from CREATED to terminal",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"service", "terminal_state"})

	EventQueueDelaySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "event_queue_delay_seconds",
		Help: "Delay seconds between occurred_at and consume time",
	}, []string{"service", "topic"})

	OutboxPendingTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "outbox_pending_total",
		Help: "Current count of outbox events not yet sent",
	}, []string{"service"})

	OutboxOldestPendingAgeSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox event",
	}, []string{"service"})

	RetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retries_total",
		Help: "Retry count against external dependencies",
	}, []string{"service", "dependency"})

	DLQPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlq_published_total",
		Help: "Total DLQ events published",
	}, []string{"service", "topic", "error_type"})

	DuplicateEventsSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duplicate_events_skipped_total",
		Help: "Duplicate inbox events skipped",
	}, []string{"service", "topic"})
)

// Handler serves the default registry in Prometheus text format.
func Handler() http.Handler { return promhttp.Handler() }

// GinMiddleware records request totals and latencies for every route.
func GinMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var start = time.Now()
		c.Next()

		var route = c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		HTTPRequestDurationSeconds.WithLabelValues(service, route, c.Request.Method).
			Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(service, route, c.Request.Method,
			strconv.Itoa(c.Writer.Status())).Inc()
	}
}
