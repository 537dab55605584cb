// Package metrics provides internal metrics tracking for LLM operations.
package metrics

import (
	"sync"
	"time"
)

// InternalRecorder implements the Recorder interface using in-memory aggregation.
// It is much simpler than Prometheus, needs no external services, and is what
// the final research report reads its usage summary from.
type InternalRecorder struct {
	agents map[string]*AgentUsage // agentID -> aggregated usage
	mu     sync.RWMutex
}

// AgentUsage represents aggregated LLM usage for one agent across a run.
//
//nolint:govet
type AgentUsage struct {
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	RequestCount     int64     `json:"request_count"`
	TotalCost        float64   `json:"total_cost_usd"`
	AgentID          string    `json:"agent_id"`
	LastUpdated      time.Time `json:"last_updated"`
}

var (
	// Singleton instance and initialization synchronization.
	internalInstance *InternalRecorder //nolint:gochecknoglobals
	internalOnce     sync.Once         //nolint:gochecknoglobals
)

// NewInternalRecorder returns a singleton internal metrics recorder.
func NewInternalRecorder() *InternalRecorder {
	internalOnce.Do(func() {
		internalInstance = &InternalRecorder{
			agents: make(map[string]*AgentUsage),
		}
	})
	return internalInstance
}

// ObserveRequest records metrics for a completed LLM request.
func (r *InternalRecorder) ObserveRequest(
	_, agentID, _ string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	_ string,
	_ time.Duration,
) {
	// Only successful requests carry token and cost data worth aggregating.
	if !success || agentID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	usage, exists := r.agents[agentID]
	if !exists {
		usage = &AgentUsage{
			AgentID: agentID,
		}
		r.agents[agentID] = usage
	}

	usage.PromptTokens += int64(promptTokens)
	usage.CompletionTokens += int64(completionTokens)
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	usage.TotalCost += cost
	usage.RequestCount++
	usage.LastUpdated = time.Now()
}

// GetAgentUsage returns the aggregated usage for a specific agent, or nil
// if the agent has made no successful requests.
func (r *InternalRecorder) GetAgentUsage(agentID string) *AgentUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if usage, exists := r.agents[agentID]; exists {
		copied := *usage
		return &copied
	}
	return nil
}

// GetAllAgentUsage returns usage for all agents.
func (r *InternalRecorder) GetAllAgentUsage() map[string]*AgentUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*AgentUsage, len(r.agents))
	for agentID, usage := range r.agents {
		copied := *usage
		result[agentID] = &copied
	}
	return result
}

// Totals returns the run-wide usage summed across all agents.
func (r *InternalRecorder) Totals() AgentUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := AgentUsage{AgentID: "total"}
	for _, usage := range r.agents {
		total.PromptTokens += usage.PromptTokens
		total.CompletionTokens += usage.CompletionTokens
		total.TotalCost += usage.TotalCost
		total.RequestCount += usage.RequestCount
		if usage.LastUpdated.After(total.LastUpdated) {
			total.LastUpdated = usage.LastUpdated
		}
	}
	total.TotalTokens = total.PromptTokens + total.CompletionTokens
	return total
}

// Reset clears all usage data (useful for testing).
func (r *InternalRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = make(map[string]*AgentUsage)
}
