// Package metrics provides Prometheus instrumentation for the billing platform.
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
			Namespace: "billing",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "billing",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PermissionsCreatedTotal counts spending permissions created.
	PermissionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "permissions_created_total",
		Help:      "Total spending permissions created.",
	})

	// PermissionsActivatedTotal counts permissions that received verified funding.
	PermissionsActivatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "permissions_activated_total",
		Help:      "Total spending permissions activated after payment verification.",
	})

	// PermissionStatusTotal counts terminal permission transitions by resulting status.
	PermissionStatusTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "permission_status_total",
			Help:      "Total permission status transitions, labeled by resulting status.",
		},
		[]string{"status"},
	)

	// SessionsActiveGauge tracks the number of currently active streaming sessions.
	SessionsActiveGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "billing",
		Name:      "sessions_active",
		Help:      "Number of currently active streaming sessions.",
	})

	// SessionsStartedTotal counts streaming sessions created.
	SessionsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "sessions_started_total",
		Help:      "Total streaming sessions created.",
	})

	// SessionsEndedTotal counts streaming sessions ended, labeled by final status.
	SessionsEndedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "sessions_ended_total",
			Help:      "Total streaming sessions ended, labeled by final status.",
		},
		[]string{"status"},
	)

	// BillingTicksTotal counts scheduler billing ticks, labeled by outcome.
	BillingTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "scheduler_ticks_total",
			Help:      "Total billing scheduler ticks, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	// BillingAmountDebited sums the amount debited by the scheduler, in zatoshi-equivalent units.
	BillingAmountDebited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "amount_debited_total",
		Help:      "Total amount debited across all billing transactions (decimal string parsed to float64 for export).",
	})

	// ExpiredPermissionsTotal counts permissions swept into the expired state.
	ExpiredPermissionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "billing",
		Name:      "expired_permissions_total",
		Help:      "Total permissions marked expired by the expiry sweeper.",
	})

	// ChainGatewayCallsTotal counts Zcash RPC calls by method and outcome.
	ChainGatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "chain_gateway_calls_total",
			Help:      "Total Zcash chain gateway RPC calls, labeled by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	// FallbackBillsTotal counts fallback (on-chain EVM) billing attempts by outcome.
	FallbackBillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "fallback_bills_total",
			Help:      "Total fallback biller invocations, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	// ActiveWebSocketClients tracks connected session-stream WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "billing",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected session-stream WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "billing", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "billing", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "billing", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "billing", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "billing", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "billing", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PermissionsCreatedTotal,
		PermissionsActivatedTotal,
		PermissionStatusTotal,
		SessionsActiveGauge,
		SessionsStartedTotal,
		SessionsEndedTotal,
		BillingTicksTotal,
		BillingAmountDebited,
		ExpiredPermissionsTotal,
		ChainGatewayCallsTotal,
		FallbackBillsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
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
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
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

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
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
