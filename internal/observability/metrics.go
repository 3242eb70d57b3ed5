package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ChatMessages         *prometheus.CounterVec
	ConversationsCreated *prometheus.CounterVec
	GatewayLatency       prometheus.Histogram
	GatewayErrors        *prometheus.CounterVec
	ActiveChatSockets    prometheus.Gauge
	HTTPRequests         *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ChatMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Handled chat messages by faction and outcome.",
		}, []string{"faction", "outcome"}),
		ConversationsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_created_total",
			Help:      "Conversations created by owner kind.",
		}, []string{"owner_kind"}),
		GatewayLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_latency_ms",
			Help:      "Latency of completion gateway calls in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000},
		}),
		GatewayErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_errors_total",
			Help:      "Completion gateway failures by upstream HTTP status.",
		}, []string{"status"}),
		ActiveChatSockets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_chat_sockets",
			Help:      "Number of open websocket chat connections.",
		}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Handled HTTP requests by route pattern and status code.",
		}, []string{"route", "status"}),
	}
}

func (m *Metrics) ObserveHTTPRequest(route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ObserveGatewayLatency(d time.Duration) {
	m.GatewayLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveGatewayError(status int) {
	m.GatewayErrors.WithLabelValues(strconv.Itoa(status)).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
