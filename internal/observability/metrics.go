package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convo_http_requests_total",
			Help: "Total number of HTTP requests processed by the conversation service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convo_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "convo_ws_active_sessions",
			Help: "Number of live websocket sessions attached to the hub.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convo_ws_events_total",
			Help: "Total number of websocket events by name and outcome.",
		},
		[]string{"event", "outcome"},
	)
	broadcastDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convo_broadcast_deliveries_total",
			Help: "Per-session broadcast enqueue attempts by outcome.",
		},
		[]string{"event", "outcome"},
	)
	messagesPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convo_messages_persisted_total",
			Help: "Messages persisted by send path; duplicates are retries resolved by correlation id.",
		},
		[]string{"path", "result"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "convo_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveSessions,
		wsEventsTotal,
		broadcastDeliveriesTotal,
		messagesPersistedTotal,
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

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive() {
	wsActiveSessions.Inc()
}

func DecWSActive() {
	wsActiveSessions.Dec()
}

func IncWSEvent(event, outcome string) {
	wsEventsTotal.WithLabelValues(event, outcome).Inc()
}

func IncBroadcast(event, outcome string) {
	broadcastDeliveriesTotal.WithLabelValues(event, outcome).Inc()
}

func IncMessagePersisted(path string, created bool) {
	result := "created"
	if !created {
		result = "duplicate"
	}
	messagesPersistedTotal.WithLabelValues(path, result).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
