// Package logging provides logging middleware for LLM clients.
package logging

import (
	"context"

	"iterdesign/pkg/agent/llm"
	"iterdesign/pkg/agent/llmerrors"
	"iterdesign/pkg/logx"
)

// maxLoggedMessageChars bounds per-message content in the debug dump. The
// head and tail survive along with a hash for correlating repeats.
const maxLoggedMessageChars = 4000

// EmptyResponse returns a middleware that logs the full request transcript
// when the planner returns an empty completion, then passes the error through
// unchanged. An empty reply is unparseable by the tool protocol, so the
// transcript that provoked it is the thing worth keeping.
func EmptyResponse(logger *logx.Logger) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		complete := func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
			resp, err := next.Complete(ctx, req)
			if err != nil && llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
				logEmptyResponseDebugInfo(logger, &req)
			}
			//nolint:wrapcheck // Middleware intentionally passes through errors unchanged
			return resp, err
		}
		return llm.WrapClient(complete, next.GetModelName)
	}
}

// logEmptyResponseDebugInfo dumps the transcript that provoked an empty reply.
func logEmptyResponseDebugInfo(logger *logx.Logger, req *llm.CompletionRequest) {
	if logger == nil {
		logger = logx.NewLogger("llm-middleware")
	}

	logger.Error("🚨 EMPTY RESPONSE FROM LLM - DEBUGGING INFO:")
	logger.Error("📝 Transcript sent to LLM:")
	logger.Error("================================================================================")

	for i := range req.Messages {
		msg := &req.Messages[i]
		logger.Error("Message [%d] Role: %s, Content: %s",
			i, msg.Role, llmerrors.SanitizePrompt(msg.Content, maxLoggedMessageChars))
	}

	logger.Error("================================================================================")
	logger.Error("🔍 Request Details:")
	logger.Error("  - Temperature: %v", req.Temperature)
	logger.Error("  - Max Tokens: %d", req.MaxTokens)
	logger.Error("🚨 END EMPTY RESPONSE DEBUG")
}
