// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMCompletionDuration tracks provider completion latency.
	LLMCompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_completion_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 45, 60},
		},
		[]string{"provider", "model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// ToolCallsTotal tracks function dispatches by outcome.
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tool_calls_total",
			Help: "Total function calls dispatched for the model",
		},
		[]string{"function", "outcome"},
	)

	// TurnsTotal tracks processed inbound messages by outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turns_total",
			Help: "Total inbound messages processed",
		},
		[]string{"tenant_id", "outcome"},
	)

	// TurnDepth tracks how many tool calls a turn needed.
	TurnDepth = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "turn_tool_depth",
			Help:    "Number of tool calls made in one turn",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	// OrdersTotal tracks order lifecycle transitions.
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_total",
			Help: "Orders opened, confirmed and canceled",
		},
		[]string{"tenant_id", "status"},
	)

	// NotificationsTotal tracks flags raised on outbound messages.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification flags raised on outbound messages",
		},
		[]string{"tenant_id", "kind"},
	)

	// NATSStreamMessages tracks messages in NATS stream.
	NATSStreamMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_stream_messages",
			Help: "Number of messages in NATS stream",
		},
		[]string{"stream"},
	)

	// NATSConsumerPending tracks pending messages for consumers.
	NATSConsumerPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nats_consumer_pending",
			Help: "Pending messages for NATS consumer",
		},
		[]string{"stream", "consumer"},
	)

	// ConversationsClosed tracks conversations closed by the janitor.
	ConversationsClosed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_closed_total",
			Help: "Idle conversations closed",
		},
	)

	// LiveFeeds tracks open back-office live feeds.
	LiveFeeds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_feeds_active",
			Help: "Number of open conversation live feeds",
		},
	)

	// MessagesTotal tracks total messages persisted.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages persisted",
		},
		[]string{"tenant_id", "role"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordCompletion records metrics for one provider call.
func RecordCompletion(provider, model, status string, duration float64, tokensIn, tokensOut int) {
	LLMCompletionDuration.WithLabelValues(provider, model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordToolCall counts a dispatched function.
func RecordToolCall(function, outcome string) {
	ToolCallsTotal.WithLabelValues(function, outcome).Inc()
}

// RecordTurn records the outcome of an inbound message.
func RecordTurn(tenantID, outcome string, depth int) {
	TurnsTotal.WithLabelValues(tenantID, outcome).Inc()
	TurnDepth.Observe(float64(depth))
}

// RecordOrder counts an order transition.
func RecordOrder(tenantID, status string) {
	OrdersTotal.WithLabelValues(tenantID, status).Inc()
}

// RecordNotification counts a raised notification flag.
func RecordNotification(tenantID, kind string) {
	NotificationsTotal.WithLabelValues(tenantID, kind).Inc()
}

// RecordMessage counts a persisted message.
func RecordMessage(tenantID, role string) {
	MessagesTotal.WithLabelValues(tenantID, role).Inc()
}

// IncrementLiveFeeds increments the live feed gauge.
func IncrementLiveFeeds() {
	LiveFeeds.Inc()
}

// DecrementLiveFeeds decrements the live feed gauge.
func DecrementLiveFeeds() {
	LiveFeeds.Dec()
}
