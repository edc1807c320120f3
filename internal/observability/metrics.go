package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the messaging service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
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
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket subscriptions.",
		},
		[]string{"role"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"role", "event"},
	)
	messagesAppendedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_appended_total",
			Help: "Messages appended, by sender role.",
		},
		[]string{"role"},
	)
	markReadRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_mark_read_rows_total",
			Help: "Messages flipped to read, by reader role.",
		},
		[]string{"role"},
	)
	conversationCreateConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_conversation_create_conflicts_total",
			Help: "Concurrent conversation creations resolved by re-fetch.",
		},
	)
	pushPublishErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_push_publish_errors_total",
			Help: "Best-effort push publishes that failed.",
		},
		[]string{"transport"},
	)
	notificationsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_notifications_ingested_total",
			Help: "Notification events consumed, by outcome.",
		},
		[]string{"outcome"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		messagesAppendedTotal,
		markReadRowsTotal,
		conversationCreateConflicts,
		pushPublishErrorsTotal,
		notificationsIngestedTotal,
		amqpPublishErrorsTotal,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
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

func IncWSActive(role string) {
	wsActiveConnections.WithLabelValues(role).Inc()
}

func DecWSActive(role string) {
	wsActiveConnections.WithLabelValues(role).Dec()
}

func IncWSEvent(role, event string) {
	wsEventsTotal.WithLabelValues(role, event).Inc()
}

func IncMessageAppended(role string) {
	messagesAppendedTotal.WithLabelValues(role).Inc()
}

func AddMarkReadRows(role string, n int64) {
	if n > 0 {
		markReadRowsTotal.WithLabelValues(role).Add(float64(n))
	}
}

func IncConversationCreateConflict() {
	conversationCreateConflicts.Inc()
}

func IncPushPublishError(transport string) {
	pushPublishErrorsTotal.WithLabelValues(transport).Inc()
}

func IncNotificationIngested(outcome string) {
	notificationsIngestedTotal.WithLabelValues(outcome).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
