package anthropic

import (
	"errors"
	"strings"
	"testing"

	"iterdesign/pkg/agent/llm"
	"iterdesign/pkg/agent/llmerrors"
)

// TestEnsureAlternation tests the message alternation logic.
func TestEnsureAlternation(t *testing.T) {
	tests := []struct {
		name         string
		input        []llm.CompletionMessage
		expectSystem string
		expectMsgLen int
		expectErr    bool
		errContains  string
	}{
		{
			name:        "empty messages",
			input:       []llm.CompletionMessage{},
			expectErr:   true,
			errContains: "message list cannot be empty",
		},
		{
			name: "system message extracted",
			input: []llm.CompletionMessage{
				{Role: llm.RoleSystem, Content: "You are helpful"},
				{Role: llm.RoleUser, Content: "Hello"},
			},
			expectSystem: "You are helpful",
			expectMsgLen: 1,
		},
		{
			name: "multiple system messages concatenated",
			input: []llm.CompletionMessage{
				{Role: llm.RoleSystem, Content: "You are helpful"},
				{Role: llm.RoleSystem, Content: "And concise"},
				{Role: llm.RoleUser, Content: "Hello"},
			},
			expectSystem: "You are helpful\n\nAnd concise",
			expectMsgLen: 1,
		},
		{
			name: "proper alternation maintained",
			input: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleAssistant, Content: "Hi"},
				{Role: llm.RoleUser, Content: "How are you?"},
			},
			expectSystem: "",
			expectMsgLen: 3,
		},
		{
			name: "consecutive user messages merged",
			input: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleUser, Content: "Anyone there?"},
			},
			expectSystem: "",
			expectMsgLen: 1,
		},
		{
			name: "ends with assistant returns error",
			input: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleAssistant, Content: "Hi"},
			},
			expectErr:   true,
			errContains: "last message must be user",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system, msgs, err := ensureAlternation(tt.input)

			if tt.expectErr {
				if err == nil {
					t.Error("expected error, got nil")
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("expected error containing %q, got %q", tt.errContains, err.Error())
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if system != tt.expectSystem {
				t.Errorf("expected system %q, got %q", tt.expectSystem, system)
			}

			if len(msgs) != tt.expectMsgLen {
				t.Errorf("expected %d messages, got %d", tt.expectMsgLen, len(msgs))
			}
		})
	}
}

// TestValidatePreSend tests the pre-send validation logic.
func TestValidatePreSend(t *testing.T) {
	tests := []struct {
		name        string
		messages    []llm.CompletionMessage
		expectErr   bool
		errContains string
	}{
		{
			name: "valid alternating messages",
			messages: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleAssistant, Content: "Hi"},
				{Role: llm.RoleUser, Content: "Bye"},
			},
		},
		{
			name: "system message in array",
			messages: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleSystem, Content: "You are helpful"},
			},
			expectErr:   true,
			errContains: "system message found",
		},
		{
			name: "consecutive user messages",
			messages: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleUser, Content: "Anyone?"},
			},
			expectErr:   true,
			errContains: "alternation violation",
		},
		{
			name: "starts with assistant",
			messages: []llm.CompletionMessage{
				{Role: llm.RoleAssistant, Content: "Hello"},
			},
			expectErr:   true,
			errContains: "first message must be user",
		},
		{
			name: "ends with assistant",
			messages: []llm.CompletionMessage{
				{Role: llm.RoleUser, Content: "Hello"},
				{Role: llm.RoleAssistant, Content: "Hi"},
			},
			expectErr:   true,
			errContains: "last message must be user",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePreSend(tt.messages)

			if tt.expectErr {
				if err == nil {
					t.Error("expected error, got nil")
				} else if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("expected error containing %q, got %q", tt.errContains, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

// TestNewClaudeClientWithModel tests client creation with custom model.
func TestNewClaudeClientWithModel(t *testing.T) {
	client := NewClaudeClientWithModel("test-api-key", "claude-sonnet-4-20250514")

	if client == nil {
		t.Fatal("expected client, got nil")
	}

	if client.GetModelName() != "claude-sonnet-4-20250514" {
		t.Errorf("expected model %q, got %q", "claude-sonnet-4-20250514", client.GetModelName())
	}
}

// TestExtractStatusCode tests status code extraction from error strings.
func TestExtractStatusCode(t *testing.T) {
	tests := []struct {
		errStr string
		want   int
	}{
		{"request failed with status code: 429 too many requests", 429},
		{"HTTP 503 service unavailable", 503},
		{"status: 401 unauthorized", 401},
		{"something else entirely", 0},
	}

	for _, tt := range tests {
		if got := extractStatusCode(tt.errStr); got != tt.want {
			t.Errorf("extractStatusCode(%q) = %d, want %d", tt.errStr, got, tt.want)
		}
	}
}

// TestClassifyErrorPatterns tests text-pattern error classification.
func TestClassifyErrorPatterns(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want llmerrors.ErrorType
	}{
		{"rate limit by status", errors.New("request failed with status code: 429"), llmerrors.ErrorTypeRateLimit},
		{"transient connection", errors.New("connection reset by peer"), llmerrors.ErrorTypeTransient},
		{"auth text", errors.New("unauthorized access"), llmerrors.ErrorTypeAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyError(tt.err)
			if classified.Type != tt.want {
				t.Errorf("expected %s, got %s", tt.want, classified.Type)
			}
		})
	}
}
