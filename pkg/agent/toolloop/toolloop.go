// Package toolloop runs the bounded conversation between a planner model and
// the sandboxed tool set. Every pipeline phase that touches the filesystem or
// terminal goes through this loop.
package toolloop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"iterdesign/pkg/agent/llm"
	"iterdesign/pkg/agent/react"
	"iterdesign/pkg/logx"
	"iterdesign/pkg/tools"
)

const (
	// FailureSentinel is returned when the loop exhausts its step budget
	// without reaching a final answer. Phase success checks look for it.
	FailureSentinel = "False"

	// DefaultMaxSteps bounds the conversation when the caller does not.
	DefaultMaxSteps = 20

	// maxObservationChars caps a single tool observation before it enters
	// the transcript. Tools bound their own output, but run_terminal can
	// still relay an arbitrarily chatty subprocess.
	maxObservationChars = 16000
)

// kickoffMessage opens the conversation. Provider APIs require at least one
// user message before the first assistant turn.
const kickoffMessage = "Begin. Work toward your objective using the available tools, " +
	"and finish with a Final Answer."

// ToolProvider defines what the loop needs from a tool provider.
type ToolProvider interface {
	Get(name string) (tools.Tool, error)
	Names() []string
	Catalogue() string
}

// ToolLoop manages planner interactions with tool dispatch.
// It owns the transcript, the step budget, and observation formatting.
type ToolLoop struct {
	llmClient llm.LLMClient
	logger    *logx.Logger
}

// New creates a new ToolLoop instance.
func New(llmClient llm.LLMClient, logger *logx.Logger) *ToolLoop {
	return &ToolLoop{
		llmClient: llmClient,
		logger:    logger,
	}
}

// Config defines how the tool loop behaves.
//
//nolint:govet // fieldalignment: struct fields ordered for clarity over memory alignment
type Config struct {
	// ToolProvider resolves and dispatches tool invocations.
	ToolProvider ToolProvider

	// Specialization is the persona paragraph opening the system prompt
	// (e.g. "You are a Senior DevOps Engineer..."). Optional.
	Specialization string

	// Objective is the task the planner works toward. Required.
	Objective string

	// MaxSteps is the planner turn budget. Corrective turns count too.
	MaxSteps int

	// MaxTokens is the output budget per planner call.
	MaxTokens int

	// DebugLogging enables per-turn thought and transcript logging.
	DebugLogging bool
}

// Run executes the tool loop with the given configuration.
// It returns the planner's final answer, or FailureSentinel when the step
// budget runs out. The error is non-nil only for planner transport failures;
// tool failures are fed back to the planner as observations and never
// terminate the loop.
func (tl *ToolLoop) Run(ctx context.Context, cfg *Config) (string, error) {
	if cfg.ToolProvider == nil {
		return "", fmt.Errorf("ToolProvider is required")
	}
	if strings.TrimSpace(cfg.Objective) == "" {
		return "", fmt.Errorf("Objective is required")
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.MaxTokensDefault
	}

	messages := []llm.CompletionMessage{
		llm.NewSystemMessage(tl.systemPrompt(cfg)),
		llm.NewUserMessage(kickoffMessage),
	}

	for step := 0; step < cfg.MaxSteps; step++ {
		req := llm.NewCompletionRequest(messages)
		req.MaxTokens = cfg.MaxTokens

		tl.logger.Info("🔄 Starting LLM call to model '%s' with %d messages, %d max tokens (step %d/%d)",
			tl.llmClient.GetModelName(), len(messages), req.MaxTokens, step+1, cfg.MaxSteps)
		if cfg.DebugLogging {
			tl.logMessages(messages)
		}

		start := time.Now()
		resp, err := tl.llmClient.Complete(ctx, req)
		duration := time.Since(start)
		if err != nil {
			tl.logger.Error("❌ LLM call failed after %.3gs: %v", duration.Seconds(), err)
			return "", fmt.Errorf("planner completion failed: %w", err)
		}

		tl.logger.Info("✅ LLM call completed in %.3gs, response length: %d chars",
			duration.Seconds(), len(resp.Content))

		messages = append(messages, llm.NewAssistantMessage(resp.Content))

		reply := react.Parse(resp.Content)
		if cfg.DebugLogging && reply.Thought != "" {
			tl.logger.Debug("💭 %s", reply.Thought)
		}

		if reply.HasFinalAnswer() {
			tl.logger.Info("🏁 Final answer after %d steps (%d chars)", step+1, len(reply.FinalAnswer))
			return reply.FinalAnswer, nil
		}

		if !reply.HasAction() {
			tl.logger.Warn("⚠️  Unparseable reply at step %d, sending corrective observation", step+1)
			messages = append(messages, llm.NewUserMessage(react.CorrectiveObservation()))
			continue
		}

		observation := tl.dispatch(ctx, cfg, reply)
		messages = append(messages, llm.NewUserMessage(observation))
	}

	tl.logger.Warn("⚠️  Step budget (%d) exhausted without a final answer", cfg.MaxSteps)
	return FailureSentinel, nil
}

// dispatch resolves and executes one tool invocation, returning the
// observation to append. Unknown tools produce an error observation listing
// what is available, so the planner can self-correct.
func (tl *ToolLoop) dispatch(ctx context.Context, cfg *Config, reply *react.Reply) string {
	tool, err := cfg.ToolProvider.Get(reply.Action)
	if err != nil {
		tl.logger.Warn("Unknown tool '%s' requested: %v", reply.Action, err)
		return react.FormatObservation(fmt.Sprintf("Error: unknown tool '%s'. Available tools: %s.",
			reply.Action, strings.Join(cfg.ToolProvider.Names(), ", ")))
	}

	tl.logger.Info("🔧 Executing tool: %s", reply.Action)
	start := time.Now()
	output := tool.Exec(ctx, reply.ActionInput)
	tl.logger.Info("🔧 Tool %s completed in %.3fs, output: %d chars",
		reply.Action, time.Since(start).Seconds(), len(output))

	if len(output) > maxObservationChars {
		output = output[:maxObservationChars] +
			fmt.Sprintf("\n... (observation truncated at %d characters)", maxObservationChars)
	}
	return react.FormatObservation(output)
}

// systemPrompt assembles the specialization, objective, tool catalogue, and
// protocol instructions into the conversation's system message.
func (tl *ToolLoop) systemPrompt(cfg *Config) string {
	var b strings.Builder
	if cfg.Specialization != "" {
		b.WriteString(cfg.Specialization)
		b.WriteString("\n\n")
	}
	b.WriteString("## OBJECTIVE\n\n")
	b.WriteString(cfg.Objective)
	b.WriteString("\n\n## AVAILABLE TOOLS\n\n")
	b.WriteString(cfg.ToolProvider.Catalogue())
	b.WriteString("\n\n")
	b.WriteString(react.Instructions())
	return b.String()
}

// logMessages logs the transcript being sent to the planner for debugging.
func (tl *ToolLoop) logMessages(messages []llm.CompletionMessage) {
	tl.logger.Debug("📝 Transcript sent to planner:")
	for i := range messages {
		preview := messages[i].Content
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		tl.logger.Debug("  [%d] %s: %q", i, messages[i].Role, preview)
	}
}
