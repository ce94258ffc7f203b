// Package metrics provides Prometheus instrumentation for the fraud service.
package metrics

import (
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudsvc",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraudsvc",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DecisionsTotal counts decisions by verdict.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudsvc",
			Name:      "decisions_total",
			Help:      "Total decisions produced by verdict.",
		},
		[]string{"verdict"},
	)

	// RuleTriggeredTotal counts rule triggers by rule name.
	RuleTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudsvc",
			Name:      "rule_triggered_total",
			Help:      "Total rule triggers by rule name.",
		},
		[]string{"rule"},
	)

	// PipelineDuration observes end-to-end decision latency.
	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fraudsvc",
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end event processing duration in seconds.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// DedupeHitsTotal counts events answered from the dedupe cache.
	DedupeHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fraudsvc",
		Name:      "dedupe_hits_total",
		Help:      "Total events answered from the decision dedupe cache.",
	})

	// ValidationFailuresTotal counts structurally invalid events.
	ValidationFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "fraudsvc",
		Name:      "validation_failures_total",
		Help:      "Total events rejected by structural validation.",
	})

	// StateStoreRetriesTotal counts retried backing-store operations.
	StateStoreRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudsvc",
		Name:      "state_store_retries_total",
		Help:      "Total state store retries by operation.",
	}, []string{"op"})

	// StateStoreFailuresTotal counts backing-store operations that exhausted
	// their retries.
	StateStoreFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudsvc",
		Name:      "state_store_failures_total",
		Help:      "Total state store operations failed after retry exhaustion.",
	}, []string{"op"})

	// ActiveWebSocketClients tracks connected decision-feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fraudsvc",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudsvc", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudsvc", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudsvc", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudsvc", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DecisionsTotal,
		RuleTriggeredTotal,
		PipelineDuration,
		DedupeHitsTotal,
		ValidationFailuresTotal,
		StateStoreRetriesTotal,
		StateStoreFailuresTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// Handler returns the /metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware records request counts and latencies per route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusLabel(status)).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func statusLabel(status int) string {
	switch {
	case status < 200:
		return "1xx"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// CollectDBStats copies sql.DB pool stats into gauges. Call periodically.
func CollectDBStats(db *sql.DB) {
	if db == nil {
		return
	}
	stats := db.Stats()
	DBOpenConnections.Set(float64(stats.OpenConnections))
	DBIdleConnections.Set(float64(stats.Idle))
	DBInUseConnections.Set(float64(stats.InUse))
	GoroutineCount.Set(float64(runtime.NumGoroutine()))
}
