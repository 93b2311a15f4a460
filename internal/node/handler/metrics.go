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
	ledgerBlocksMinedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_blocks_mined_total",
		Help: "Total blocks sealed by this node.",
	})

	ledgerChainLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_chain_length",
		Help: "Number of blocks in the chain, including genesis.",
	})

	ledgerPendingTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_pending_transactions",
		Help: "Transactions waiting in the pending pool.",
	})

	ledgerPowAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledger_pow_attempts_total",
		Help: "Total proof-of-work candidates tested by successful searches.",
	})

	ledgerPowSolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_pow_solve_duration_seconds",
		Help:    "Wall time of successful proof-of-work searches.",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	ledgerAuditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_audits_total",
		Help: "Total chain audits by result.",
	}, []string{"result"})

	ledgerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	ledgerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_request_duration_seconds",
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
			path = "unmatched"
		}

		ledgerRequestsTotal.WithLabelValues(method, path, status).Inc()
		ledgerRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordBlockMined records a sealed block and the search that produced it.
func RecordBlockMined(attempts uint64, elapsed time.Duration) {
	ledgerBlocksMinedTotal.Inc()
	ledgerPowAttemptsTotal.Add(float64(attempts))
	ledgerPowSolveDuration.Observe(elapsed.Seconds())
}

// SetPoolGauges sets the pending pool and chain length gauges.
func SetPoolGauges(pending, chainLen int) {
	ledgerPendingTransactions.Set(float64(pending))
	ledgerChainLength.Set(float64(chainLen))
}

// RecordAudit records the result of a chain audit.
func RecordAudit(success bool) {
	result := "ok"
	if !success {
		result = "fail"
	}
	ledgerAuditsTotal.WithLabelValues(result).Inc()
}
