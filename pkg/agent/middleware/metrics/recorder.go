// Package metrics provides metrics recording for LLM client operations.
package metrics

import (
	"time"
)

// PhaseProvider provides access to loop identity for metrics collection.
// Agent pipelines implement this so every LLM request is attributed to the
// agent and research phase that issued it.
type PhaseProvider interface {
	// GetID returns the agent ID (e.g. "agent_1", "orchestrator").
	GetID() string
	// GetCurrentPhase returns the phase being executed (hypothesis, planning,
	// coding, execution, testing, evaluation, or an orchestrator step).
	GetCurrentPhase() string
}

// Recorder defines the interface for recording LLM operation metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(
		model, agentID, phase string,
		promptTokens, completionTokens int,
		cost float64,
		success bool,
		errorType string,
		duration time.Duration,
	)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(
	_, _, _ string,
	_, _ int,
	_ float64,
	_ bool,
	_ string,
	_ time.Duration,
) {
	// No-op
}

// MultiRecorder fans every observation out to a set of recorders, so the
// in-memory rollup and the Prometheus exporter can both see each request.
type MultiRecorder struct {
	recorders []Recorder
}

// Multi returns a recorder that forwards to all of the given recorders.
func Multi(recorders ...Recorder) Recorder {
	return &MultiRecorder{recorders: recorders}
}

// ObserveRequest forwards the observation to every underlying recorder.
func (m *MultiRecorder) ObserveRequest(
	model, agentID, phase string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	errorType string,
	duration time.Duration,
) {
	for _, r := range m.recorders {
		r.ObserveRequest(model, agentID, phase, promptTokens, completionTokens, cost, success, errorType, duration)
	}
}
