// Package metrics holds the Prometheus collectors of the swap service.
package metrics

import (
	"database/sql"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "podswap"

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
}

var (
	HTTPRequestsTotal = counterVec("http_requests_total",
		"HTTP requests by method, route pattern and status class.", "method", "path", "status")

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration by method and route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// SwapOperationsTotal results are ok, rejected or error.
	SwapOperationsTotal = counterVec("swap_operations_total",
		"Swap engine calls by asset class, operation and result.", "class", "op", "result")

	// SwapSettleDuration measures proposal to claim or refund.
	SwapSettleDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "swap_settle_duration_seconds",
		Help:      "Time from proposal to claim or refund.",
		Buckets:   []float64{10, 60, 300, 900, 3600, 4 * 3600, 86400, 7 * 86400},
	}, []string{"class", "outcome"})

	SwapCompensationsTotal = counterVec("swap_compensations_total",
		"Rollbacks after a failed transfer or store write, by kind and result.", "kind", "result")

	SwapExpiryNoticesTotal = counterVec("swap_expiry_notices_total",
		"Expiry notices sent by the timer, by engine and result.", "engine", "result")

	ChainTxTotal = counterVec("chain_transactions_total",
		"Operator transactions by contract method and result.", "method", "result")

	WebhookDeliveriesTotal = counterVec("webhook_deliveries_total",
		"Webhook deliveries by result.", "result")

	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_websocket_clients",
		Help:      "Connected WebSocket clients.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SwapOperationsTotal,
		SwapSettleDuration,
		SwapCompensationsTotal,
		SwapExpiryNoticesTotal,
		ChainTxTotal,
		WebhookDeliveriesTotal,
		ActiveWebSocketClients,
	)
}

// RegisterDB exports connection pool statistics for db under dbName.
// Registering the same name twice is not an error.
func RegisterDB(db *sql.DB, dbName string) error {
	err := prometheus.Register(collectors.NewDBStatsCollector(db, dbName))
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return nil
	}
	return err
}

// Middleware records request count and latency per route pattern. Requests
// that matched no route are labelled with an empty path.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(c.Request.Method, path))
		c.Next()
		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusClass(c.Writer.Status())).Inc()
	}
}

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "5xx"
	}
	return string(rune('0'+code/100)) + "xx"
}
