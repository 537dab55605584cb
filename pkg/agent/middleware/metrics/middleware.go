// Package metrics provides metrics middleware for LLM clients.
package metrics

import (
	"context"
	"time"

	"iterdesign/pkg/agent/llm"
	"iterdesign/pkg/agent/llmerrors"
	"iterdesign/pkg/config"
	"iterdesign/pkg/logx"
	"iterdesign/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor is a function that extracts token usage from a request and response.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// DefaultUsageExtractor provides a default implementation using TikToken for token counting.
func DefaultUsageExtractor(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int) {
	// Count prompt tokens from all messages
	var promptText string
	for i := range req.Messages {
		promptText += req.Messages[i].Content + "\n"
	}
	promptTokens = utils.CountTokensSimple(promptText)

	// Count completion tokens from response content
	completionTokens = utils.CountTokensSimple(resp.Content)

	return promptTokens, completionTokens
}

// Middleware returns a middleware function that records metrics for LLM operations.
// It tracks request latency, token usage, cost, success/failure rates, and error
// types, attributing each request to the agent and phase that issued it.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, phaseProvider PhaseProvider, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = DefaultUsageExtractor
	}

	return func(next llm.LLMClient) llm.LLMClient {
		complete := func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			start := time.Now()
			modelName := next.GetModelName()

			resp, err := next.Complete(ctx, req)
			duration := time.Since(start)

			var promptTokens, completionTokens int
			var cost float64
			if err == nil {
				promptTokens, completionTokens = usageExtractor(req, resp)
				cost = config.CalculateCost(modelName, promptTokens, completionTokens)
			}

			errorType := ""
			if err != nil {
				errorType = llmerrors.TypeOf(err).String()
			}

			agentID := ""
			phase := ""
			if phaseProvider != nil {
				agentID = phaseProvider.GetID()
				phase = phaseProvider.GetCurrentPhase()
			}

			recorder.ObserveRequest(
				modelName,
				agentID,
				phase,
				promptTokens,
				completionTokens,
				cost,
				err == nil,
				errorType,
				duration,
			)

			if logger != nil {
				status := statusSuccess
				if err != nil {
					status = statusError
				}
				totalTokens := promptTokens + completionTokens
				logger.Debug("🎯 LLM request: model=%s agent=%s phase=%s tokens=%d+%d=%d status=%s duration=%dms",
					modelName, agentID, phase, promptTokens, completionTokens, totalTokens, status, duration.Milliseconds())
			}

			return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
		}

		return llm.WrapClient(complete, next.GetModelName)
	}
}
