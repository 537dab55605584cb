// Package metrics provides Prometheus-based metrics recording for LLM operations.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costsTotal      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

var (
	// Singleton instance: promauto registers with the default registry, and
	// a second registration of the same collectors would panic.
	prometheusInstance *PrometheusRecorder //nolint:gochecknoglobals
	prometheusOnce     sync.Once           //nolint:gochecknoglobals
)

// NewPrometheusRecorder returns a singleton Prometheus-based metrics recorder.
func NewPrometheusRecorder() *PrometheusRecorder {
	prometheusOnce.Do(func() {
		prometheusInstance = &PrometheusRecorder{
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_requests_total",
					Help: "Total number of LLM requests by model, agent, phase, and status",
				},
				[]string{"model", "agent_id", "phase", "status", "error_type"},
			),
			tokensTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_tokens_total",
					Help: "Total number of tokens used in LLM requests",
				},
				[]string{"model", "agent_id", "phase", "type"},
			),
			costsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "llm_costs_total",
					Help: "Total cost in USD for LLM requests",
				},
				[]string{"model", "agent_id", "phase"},
			),
			requestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "llm_request_duration_seconds",
					Help:    "Duration of LLM requests in seconds",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"model", "agent_id", "phase"},
			),
		}
	})
	return prometheusInstance
}

// ObserveRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveRequest(
	model, agentID, phase string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}

	p.requestsTotal.WithLabelValues(model, agentID, phase, status, errorType).Inc()

	// Tokens and costs are only meaningful on success.
	if success {
		p.tokensTotal.WithLabelValues(model, agentID, phase, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, agentID, phase, "completion").Add(float64(completionTokens))
		p.costsTotal.WithLabelValues(model, agentID, phase).Add(cost)
	}

	p.requestDuration.WithLabelValues(model, agentID, phase).Observe(duration.Seconds())
}
