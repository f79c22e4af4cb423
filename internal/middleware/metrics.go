package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Realtime metrics

	wsConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "collab_service",
			Name:      "ws_connections_total",
			Help:      "Total number of accepted WebSocket connections",
		},
	)

	wsActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "collab_service",
			Name:      "ws_active_connections",
			Help:      "Number of active WebSocket connections",
		},
	)

	messagesRoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "collab_service",
			Name:      "messages_routed_total",
			Help:      "Inbound realtime messages routed, by message type",
		},
		[]string{"type"},
	)

	protocolErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "collab_service",
			Name:      "protocol_errors_total",
			Help:      "Inbound frames rejected with an error envelope",
		},
	)

	roomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "collab_service",
			Name:      "rooms_active",
			Help:      "Number of rooms currently tracked",
		},
	)

	aiRequestsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "collab_service",
			Name:      "ai_requests_total",
			Help:      "AI assistant requests received over the realtime channel",
		},
	)
)

// MetricsMiddleware returns a Gin middleware that collects Prometheus metrics
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		httpRequestsInFlight.Inc()

		c.Next()

		httpRequestsInFlight.Dec()
		duration := time.Since(start).Seconds()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns the Prometheus metrics handler for Gin
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordWebSocketConnection increments WebSocket connection counters
func RecordWebSocketConnection() {
	wsConnectionsTotal.Inc()
	wsActiveConnections.Inc()
}

// RecordWebSocketDisconnection decrements active WebSocket connection gauge
func RecordWebSocketDisconnection() {
	wsActiveConnections.Dec()
}

// RecordMessageRouted counts one routed inbound message
func RecordMessageRouted(messageType string) {
	messagesRoutedTotal.WithLabelValues(messageType).Inc()
}

// RecordProtocolError counts one rejected frame
func RecordProtocolError() {
	protocolErrorsTotal.Inc()
}

// SetActiveRooms sets the tracked room gauge
func SetActiveRooms(count float64) {
	roomsActive.Set(count)
}

// RecordAIRequest counts one AI assistant request
func RecordAIRequest() {
	aiRequestsTotal.Inc()
}
