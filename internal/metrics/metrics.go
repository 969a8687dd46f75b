// Package metrics provides Prometheus instrumentation for fraudsight.
package metrics

import (
	"context"
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
			Namespace: "fraudsight",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fraudsight",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ActiveSessions tracks connected websocket scoring sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fraudsight",
			Name:      "active_sessions",
			Help:      "Number of currently connected streaming sessions.",
		},
	)

	// SessionsTotal counts sessions accepted since start.
	SessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fraudsight",
			Name:      "sessions_total",
			Help:      "Total streaming sessions accepted.",
		},
	)

	// TicksTotal counts completed stream ticks (sample, score, push).
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fraudsight",
			Name:      "stream_ticks_total",
			Help:      "Total completed stream ticks.",
		},
	)

	// TickErrorsTotal counts tick-local failures the session survived.
	TickErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fraudsight",
			Name:      "stream_tick_errors_total",
			Help:      "Total stream ticks that failed to sample or score.",
		},
	)

	// ScoresTotal counts verdicts produced, by source (stream or api).
	ScoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudsight",
			Name:      "scores_total",
			Help:      "Total transactions scored by source.",
		},
		[]string{"source"},
	)

	// ScoreErrorsTotal counts scoring failures by source.
	ScoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudsight",
			Name:      "score_errors_total",
			Help:      "Total scoring failures by source.",
		},
		[]string{"source"},
	)

	// ScoreDuration observes end-to-end ensemble scoring latency.
	ScoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "fraudsight",
			Name:      "score_duration_seconds",
			Help:      "Ensemble scoring duration in seconds.",
			Buckets:   []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)

	// FraudVerdictsTotal counts fraud labels by ensemble member.
	FraudVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fraudsight",
			Name:      "fraud_verdicts_total",
			Help:      "Total fraud labels emitted, by ensemble member.",
		},
		[]string{"model"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudsight", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudsight", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudsight", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fraudsight", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveSessions,
		SessionsTotal,
		TicksTotal,
		TickErrorsTotal,
		ScoresTotal,
		ScoreErrorsTotal,
		ScoreDuration,
		FraudVerdictsTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime
// goroutine count into Prometheus gauges. Call in a goroutine; exits when
// ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
