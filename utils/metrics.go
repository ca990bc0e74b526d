package utils

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReactionOperations counts reaction engine outcomes by action.
	ReactionOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reverence_reaction_operations_total",
		Help: "Reaction engine operations by resulting action",
	}, []string{"action"})

	// StoreRetries counts transaction attempts retried after a transient store error.
	StoreRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reverence_store_retries_total",
		Help: "Transactions retried after a deadlock, serialization failure or lost insert race",
	}, []string{"operation"})

	// StoreRetriesExhausted counts operations that failed after every attempt.
	StoreRetriesExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reverence_store_retries_exhausted_total",
		Help: "Operations that surfaced a transient store error after the last attempt",
	}, []string{"operation"})

	// HTTPRequestDuration records request latency by route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reverence_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
)

// PrometheusMiddleware observes request durations keyed by the matched route template.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler serves the default prometheus registry.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
