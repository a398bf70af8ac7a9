package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_ws_connections",
		Help: "Current number of active websocket connections",
	})
	WsEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_ws_events_total",
		Help: "Inbound websocket events by event name and result code",
	}, []string{"event", "result"})
	MessagesCreatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_messages_created_total",
		Help: "Messages persisted, split by whether the idempotency key was new",
	}, []string{"outcome"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_rate_limited_total",
		Help: "Message sends rejected by the per-user sliding window",
	})
	PresenceTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_presence_transitions_total",
		Help: "User level online/offline edges",
	}, []string{"status"})
	SlowConsumersTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_ws_slow_consumers_total",
		Help: "Connections closed because their send buffer was full",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		WsConnections,
		WsEventsTotal,
		MessagesCreatedTotal,
		RateLimitedTotal,
		PresenceTransitionsTotal,
		SlowConsumersTotal,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
