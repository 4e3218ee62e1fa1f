package proxy

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call outcomes recorded in the tool_calls_total counter.
const (
	OutcomeSuccess       = "success"
	OutcomeUpstreamError = "upstream_error"
	OutcomeFailure       = "failure"
	OutcomeRejected      = "rejected"
)

// Metrics records tool call counts and latencies. A nil *Metrics is a no-op.
type Metrics struct {
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
}

// NewMetrics registers the proxy metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		toolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "openapi_mcp",
				Name:      "tool_calls_total",
				Help:      "Total number of tool calls by outcome",
			},
			[]string{"tool", "outcome"},
		),
		toolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "openapi_mcp",
				Name:      "tool_call_duration_seconds",
				Help:      "Upstream duration of tool calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
	}
}

func (m *Metrics) recordCall(tool, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
	if duration > 0 {
		m.toolCallDuration.WithLabelValues(tool).Observe(duration.Seconds())
	}
}
