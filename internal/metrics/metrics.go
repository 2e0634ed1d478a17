package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	WAIncomingMessages *prometheus.CounterVec
	WAOutgoingMessages *prometheus.CounterVec
	SessionEvents      *prometheus.CounterVec
	WebhookRequests    *prometheus.CounterVec
	WebhookLatency     *prometheus.HistogramVec
	LLMRequests        *prometheus.CounterVec
	LLMLatency         *prometheus.HistogramVec
	HTTPRequests       *prometheus.CounterVec
	HTTPLatency        *prometheus.HistogramVec
	BroadcastMessages  *prometheus.CounterVec
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = newMetrics(namespace)
		prometheus.MustRegister(metricsInstance.collectors()...)
	})
	return metricsInstance
}

// NewUnregistered builds a fresh set of collectors without touching the
// default registry.
func NewUnregistered(namespace string) *Metrics {
	return newMetrics(namespace)
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		WAIncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wa_incoming_messages_total",
			Help:      "Total incoming WhatsApp messages by handling outcome.",
		}, []string{"outcome"}),
		WAOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wa_outgoing_messages_total",
			Help:      "Total outgoing WhatsApp messages sent.",
		}, []string{"type"}),
		SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "wa_session_events_total",
			Help:      "Session lifecycle events observed.",
		}, []string{"event"}),
		WebhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "automation_webhook_requests_total",
			Help:      "Automation webhook calls by status.",
		}, []string{"status"}),
		WebhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "automation_webhook_duration_seconds",
			Help:      "Latency distribution for automation webhook calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM chat completion requests by provider and status.",
		}, []string{"provider", "status"}),
		LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "Latency distribution for LLM requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "status"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Gateway HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Gateway HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		BroadcastMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_messages_total",
			Help:      "Broadcast recipients by final status.",
		}, []string{"status"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total errors grouped by component.",
		}, []string{"component"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.WAIncomingMessages,
		m.WAOutgoingMessages,
		m.SessionEvents,
		m.WebhookRequests,
		m.WebhookLatency,
		m.LLMRequests,
		m.LLMLatency,
		m.HTTPRequests,
		m.HTTPLatency,
		m.BroadcastMessages,
		m.Errors,
	}
}

// Error increments the error counter for component. Safe on a nil receiver.
func (m *Metrics) Error(component string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component).Inc()
}
