package agent

import (
	"context"
	"fmt"
	"sync"

	"iterdesign/pkg/agent/llm"
)

// MockLLMClient provides a controllable implementation of llm.LLMClient for
// testing. Responses are replayed in order; errors interleave ahead of
// responses. Safe for concurrent use so one script can back fanned-out
// pipelines.
type MockLLMClient struct {
	mu            sync.Mutex
	responses     []llm.CompletionResponse
	responseIndex int
	errors        []error
	errorIndex    int
	requests      []llm.CompletionRequest

	// CompleteFunc, when set, overrides the scripted behavior entirely.
	CompleteFunc func(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error)
}

// NewMockLLMClient creates a new mock client with predefined responses.
func NewMockLLMClient(responses []llm.CompletionResponse, errors []error) *MockLLMClient {
	return &MockLLMClient{
		responses: responses,
		errors:    errors,
	}
}

// NewMockTextClient creates a mock client that replays plain text replies.
func NewMockTextClient(replies ...string) *MockLLMClient {
	responses := make([]llm.CompletionResponse, len(replies))
	for i, reply := range replies {
		responses[i] = llm.CompletionResponse{Content: reply, StopReason: "end_turn"}
	}
	return NewMockLLMClient(responses, nil)
}

// Complete returns the next predefined response or error.
func (m *MockLLMClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, in)

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, in)
	}

	if m.errorIndex < len(m.errors) && m.errors[m.errorIndex] != nil {
		err := m.errors[m.errorIndex]
		m.errorIndex++
		return llm.CompletionResponse{}, err
	}

	if m.responseIndex >= len(m.responses) {
		return llm.CompletionResponse{}, fmt.Errorf("mock client: no more responses")
	}

	resp := m.responses[m.responseIndex]
	m.responseIndex++
	return resp, nil
}

// GetModelName returns a fixed test model name.
func (m *MockLLMClient) GetModelName() string {
	return "mock-model"
}

// Requests returns a copy of every request the mock has seen.
func (m *MockLLMClient) Requests() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns how many times Complete has been invoked.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
