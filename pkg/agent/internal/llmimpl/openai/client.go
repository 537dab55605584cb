// Package openai provides the OpenAI client implementation for the
// llm.LLMClient interface, using the official OpenAI Go package.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"iterdesign/pkg/agent/llm"
	"iterdesign/pkg/agent/llmerrors"
	"iterdesign/pkg/config"
)

// Client wraps the official OpenAI Go client to implement llm.LLMClient.
type Client struct {
	client openai.Client
	model  string
}

// NewClientWithModel creates a new OpenAI client for the given model
// (raw client, middleware applied at higher level).
func NewClientWithModel(apiKey, model string) llm.LLMClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		client: client,
		model:  model,
	}
}

// buildInput folds the role-tagged transcript into a single input string for
// the Responses API. User content is passed through bare; system and
// assistant turns keep a role label so the model can follow the conversation.
func buildInput(messages []llm.CompletionMessage) string {
	var b strings.Builder
	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case llm.RoleSystem:
			fmt.Fprintf(&b, "System: %s\n\n", msg.Content)
		case llm.RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n\n", msg.Content)
		default:
			b.WriteString(msg.Content)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSuffix(b.String(), "\n\n")
}

// Complete implements the llm.LLMClient interface using the Responses API.
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if len(in.Messages) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeBadPrompt, "message list cannot be empty")
	}

	// Cap MaxTokens to the model's actual limit to prevent API errors.
	maxTokens := in.MaxTokens
	if modelInfo, exists := config.KnownModels[o.model]; exists && modelInfo.MaxOutputTokens > 0 {
		if maxTokens > modelInfo.MaxOutputTokens {
			maxTokens = modelInfo.MaxOutputTokens
		}
	}

	params := responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(buildInput(in.Messages))},
	}

	resp, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return llm.CompletionResponse{}, fmt.Errorf("OpenAI Responses API failed: %w", err)
	}

	if resp == nil {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "empty response from OpenAI Responses API")
	}

	content := resp.OutputText()
	if content == "" {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "response contained no output text")
	}

	return llm.CompletionResponse{
		Content: content,
	}, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}
