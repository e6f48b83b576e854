package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_http_requests_total",
			Help: "Total number of HTTP requests processed by the sync daemon.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatsync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	connectionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_connection_transitions_total",
			Help: "Total number of push-transport connection state transitions.",
		},
		[]string{"state"},
	)
	connectedGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_connected",
			Help: "Whether the push-transport connection is currently up.",
		},
	)
	pushDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_push_deliveries_total",
			Help: "Total number of push deliveries by reconciliation outcome.",
		},
		[]string{"outcome"},
	)
	sendsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_sends_total",
			Help: "Total number of message sends attempted.",
		},
	)
	sendFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_send_failures_total",
			Help: "Total number of failed sends by category.",
		},
		[]string{"category"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_ws_active_connections",
			Help: "Number of UI websocket connections attached to the state stream.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_amqp_publish_errors_total",
			Help: "Total number of AMQP audit publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		connectionTransitionsTotal,
		connectedGauge,
		pushDeliveriesTotal,
		sendsTotal,
		sendFailuresTotal,
		wsActiveConnections,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncConnectionTransition(state string) {
	connectionTransitionsTotal.WithLabelValues(state).Inc()
	if state == "connected" {
		connectedGauge.Set(1)
	} else {
		connectedGauge.Set(0)
	}
}

func IncPushDelivery(outcome string) {
	pushDeliveriesTotal.WithLabelValues(outcome).Inc()
}

func IncSend() {
	sendsTotal.Inc()
}

func IncSendFailure(category string) {
	sendFailuresTotal.WithLabelValues(category).Inc()
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
