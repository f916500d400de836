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
	boardRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	boardRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "board_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	boardAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_appends_total",
		Help: "Message appends by result (committed, rejected, conflict, error).",
	}, []string{"result"})

	boardTreesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "board_trees_created_total",
		Help: "Total account trees created.",
	})

	boardProofRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_proof_rejections_total",
		Help: "Proofs rejected by operation and reason.",
	}, []string{"operation", "reason"})

	boardHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "board_health_checks_total",
		Help: "Dependency health probes by dependency and result.",
	}, []string{"dependency", "result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		boardRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		boardRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// RecordAppend records the outcome of a message append.
func RecordAppend(result string) {
	boardAppendsTotal.WithLabelValues(result).Inc()
}

// RecordTreeCreated records a successful tree creation.
func RecordTreeCreated() {
	boardTreesCreatedTotal.Inc()
}

// RecordHealthCheck records a dependency probe result.
func RecordHealthCheck(dependency string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	boardHealthChecksTotal.WithLabelValues(dependency, result).Inc()
}

func recordProofRejection(op string, err error) {
	if reason := proofRejectionReason(err); reason != "" {
		boardProofRejectionsTotal.WithLabelValues(op, reason).Inc()
	}
}
