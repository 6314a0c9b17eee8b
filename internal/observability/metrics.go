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
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
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
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	wsFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_frames_total",
			Help: "Inbound websocket frames by session kind and tag.",
		},
		[]string{"kind", "tag"},
	)
	busPublishedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_bus_published_total",
			Help: "Events published to groups.",
		},
	)
	busDeliveryFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_bus_delivery_failures_total",
			Help: "Deliveries that failed and disconnected the subscriber.",
		},
	)
	presenceOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_presence_online_users",
			Help: "Number of distinct users with at least one chat session.",
		},
	)
	messageTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_message_status_transitions_total",
			Help: "Message status transitions by target status.",
		},
		[]string{"status"},
	)
	callTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_call_transitions_total",
			Help: "Call state transitions by target state.",
		},
		[]string{"state"},
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
		wsFramesTotal,
		busPublishedTotal,
		busDeliveryFailuresTotal,
		presenceOnline,
		messageTransitionsTotal,
		callTransitionsTotal,
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

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncWSFrame(kind, tag string) {
	wsFramesTotal.WithLabelValues(kind, tag).Inc()
}

func IncBusPublished() {
	busPublishedTotal.Inc()
}

func IncBusDeliveryFailure() {
	busDeliveryFailuresTotal.Inc()
}

func SetPresenceOnline(n int) {
	presenceOnline.Set(float64(n))
}

func IncMessageTransition(status string) {
	messageTransitionsTotal.WithLabelValues(status).Inc()
}

func IncCallTransition(state string) {
	callTransitionsTotal.WithLabelValues(state).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
