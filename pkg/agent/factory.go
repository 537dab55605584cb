package agent

import (
	"fmt"

	"iterdesign/pkg/agent/internal/llmimpl/anthropic"
	"iterdesign/pkg/agent/internal/llmimpl/google"
	"iterdesign/pkg/agent/internal/llmimpl/ollama"
	"iterdesign/pkg/agent/internal/llmimpl/openai"
	"iterdesign/pkg/agent/llm"
	"iterdesign/pkg/agent/middleware/logging"
	"iterdesign/pkg/agent/middleware/metrics"
	"iterdesign/pkg/config"
	"iterdesign/pkg/logx"
)

// LLMClientFactory creates planner clients with the middleware chain applied.
// One factory serves a whole run; every client it builds reports into the
// same recorders so per-run usage aggregates across agents.
type LLMClientFactory struct {
	recorder metrics.Recorder
	logger   *logx.Logger
}

// NewLLMClientFactory creates a factory whose clients feed both the in-memory
// usage rollup and the Prometheus collectors.
func NewLLMClientFactory(logger *logx.Logger) *LLMClientFactory {
	return &LLMClientFactory{
		recorder: metrics.Multi(metrics.NewInternalRecorder(), metrics.NewPrometheusRecorder()),
		logger:   logger,
	}
}

// CreateClient creates an LLM client for the given model with the full
// middleware chain. The API key is retrieved from the decrypted secrets file
// or environment variables based on the model's provider. The phase provider
// labels each request with the calling agent and pipeline phase; pass nil for
// unattributed callers.
func (f *LLMClientFactory) CreateClient(modelName string, phaseProvider metrics.PhaseProvider) (llm.LLMClient, error) {
	provider, err := config.GetModelProvider(modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to determine provider for model %s: %w", modelName, err)
	}

	apiKey, err := config.GetAPIKey(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to get API key for provider %s: %w", provider, err)
	}

	var rawClient llm.LLMClient
	switch provider {
	case config.ProviderAnthropic:
		rawClient = anthropic.NewClaudeClientWithModel(apiKey, modelName)
	case config.ProviderOpenAI:
		rawClient = openai.NewClientWithModel(apiKey, modelName)
	case config.ProviderGoogle:
		rawClient = google.NewGeminiClientWithModel(apiKey, modelName)
	case config.ProviderOllama:
		// For Ollama the "API key" is the host URL.
		rawClient = ollama.NewOllamaClientWithModel(apiKey, modelName)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}

	// Build the middleware chain in the correct order:
	// Metrics -> EmptyResponseLogging -> RawClient
	client := llm.Chain(rawClient,
		metrics.Middleware(f.recorder, nil, phaseProvider, f.logger),
		logging.EmptyResponse(f.logger),
	)

	return client, nil
}
