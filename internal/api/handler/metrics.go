package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	rlRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rl_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	rlRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rl_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	rlLedgerPutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rl_ledger_puts_total",
		Help: "Total ledger writes by outcome (inserted, already_present, conflict, error).",
	}, []string{"outcome"})

	rlVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rl_verifications_total",
		Help: "Total verifications by outcome.",
	}, []string{"outcome"})

	rlGenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rl_generation_duration_seconds",
		Help:    "Generation backend latency in seconds by result kind and status.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"kind", "status"})

	rlAlertDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rl_alert_deliveries_total",
		Help: "Total conflict alert webhook deliveries by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		rlRequestsTotal.WithLabelValues(method, path, status).Inc()
		rlRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLedgerPut records the outcome of a ledger write.
func RecordLedgerPut(outcome string) {
	rlLedgerPutsTotal.WithLabelValues(outcome).Inc()
}

// RecordVerification records a verification outcome.
func RecordVerification(outcome string) {
	rlVerificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordGeneration records one call to the generation backend.
func RecordGeneration(kind string, d time.Duration, ok bool) {
	status := "success"
	if !ok {
		status = "failure"
	}
	rlGenerationDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}

// RecordAlertDelivery records a conflict alert delivery attempt.
func RecordAlertDelivery(success bool) {
	if success {
		rlAlertDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		rlAlertDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}
