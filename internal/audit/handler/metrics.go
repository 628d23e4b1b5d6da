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
	auditAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_appends_total",
		Help: "Total append operations by outcome (created, replayed, rejected, error).",
	}, []string{"outcome"})

	auditVerifyRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_verify_runs_total",
		Help: "Total chain verification runs by result (ok, mismatch, error).",
	}, []string{"result"})

	auditRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	auditRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audit_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
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
			path = c.Request.URL.Path
		}

		auditRequestsTotal.WithLabelValues(method, path, status).Inc()
		auditRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordAppend records an append outcome.
func RecordAppend(outcome string) {
	auditAppendsTotal.WithLabelValues(outcome).Inc()
}

// RecordVerify records a verification run result.
func RecordVerify(result string) {
	auditVerifyRunsTotal.WithLabelValues(result).Inc()
}
