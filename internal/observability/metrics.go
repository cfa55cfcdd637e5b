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
			Name: "atelier_http_requests_total",
			Help: "Total number of HTTP requests processed by the service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_http_request_duration_seconds",
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
			Name: "atelier_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	connectionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_connection_requests_total",
			Help: "Connection requests by outcome (created, existing, rejected_input, error).",
		},
		[]string{"outcome"},
	)
	connectionTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_connection_transitions_total",
			Help: "Connection status transitions by target status and result.",
		},
		[]string{"status", "result"},
	)
	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_messages_sent_total",
			Help: "Direct messages sent by result.",
		},
		[]string{"result"},
	)
	messagesMarkedReadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_messages_marked_read_total",
			Help: "Messages transitioned from unread to read.",
		},
	)
	inboxRebuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_inbox_rebuilds_total",
			Help: "Full conversation list rebuilds by reason.",
		},
		[]string{"reason"},
	)
	inboxLiveErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atelier_inbox_live_errors_total",
			Help: "Live inbox updates that failed and were skipped.",
		},
	)
	changefeedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_changefeed_events_total",
			Help: "Row change events received from the store.",
		},
		[]string{"table", "type"},
	)
	changefeedOverflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_changefeed_overflows_total",
			Help: "Subscriber buffers that overflowed and were reset to a resync.",
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		connectionRequestsTotal,
		connectionTransitionsTotal,
		messagesSentTotal,
		messagesMarkedReadTotal,
		inboxRebuildsTotal,
		inboxLiveErrorsTotal,
		changefeedEventsTotal,
		changefeedOverflowsTotal,
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

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncConnectionRequest(outcome string) {
	connectionRequestsTotal.WithLabelValues(outcome).Inc()
}

func IncConnectionTransition(status, result string) {
	connectionTransitionsTotal.WithLabelValues(status, result).Inc()
}

func IncMessageSent(result string) {
	messagesSentTotal.WithLabelValues(result).Inc()
}

func AddMessagesMarkedRead(n int64) {
	if n > 0 {
		messagesMarkedReadTotal.Add(float64(n))
	}
}

func IncInboxRebuild(reason string) {
	inboxRebuildsTotal.WithLabelValues(reason).Inc()
}

func IncInboxLiveError() {
	inboxLiveErrorsTotal.Inc()
}

func IncChangefeedEvent(table, typ string) {
	changefeedEventsTotal.WithLabelValues(table, typ).Inc()
}

func IncChangefeedOverflow(table string) {
	changefeedOverflowsTotal.WithLabelValues(table).Inc()
}
