package devledger

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	devRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	devRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "devledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	devTxTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devledger_transactions_total",
		Help: "Transactions by kind and status transition.",
	}, []string{"kind", "status"})

	devSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "devledger_subscribers",
		Help: "Connected event stream subscribers.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		devRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		devRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// RecordTx records a transaction status.
func RecordTx(kind, status string) {
	devTxTotal.WithLabelValues(kind, status).Inc()
}

// RecordSubscribers sets the subscriber gauge.
func RecordSubscribers(n int) {
	devSubscribers.Set(float64(n))
}
