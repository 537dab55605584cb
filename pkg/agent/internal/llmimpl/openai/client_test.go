package openai

import (
	"strings"
	"testing"

	"iterdesign/pkg/agent/llm"
)

func TestNewClientWithModel(t *testing.T) {
	client := NewClientWithModel("test-api-key", "o3-mini")

	if client == nil {
		t.Fatal("expected client, got nil")
	}
	if client.GetModelName() != "o3-mini" {
		t.Errorf("expected model o3-mini, got %q", client.GetModelName())
	}
}

func TestBuildInput(t *testing.T) {
	messages := []llm.CompletionMessage{
		llm.NewSystemMessage("Be precise."),
		llm.NewUserMessage("List the files."),
		llm.NewAssistantMessage("Action: list_files"),
		llm.NewUserMessage("Observation: main.py"),
	}

	input := buildInput(messages)

	if !strings.HasPrefix(input, "System: Be precise.") {
		t.Errorf("expected system prefix, got %q", input)
	}
	if !strings.Contains(input, "Assistant: Action: list_files") {
		t.Error("expected assistant turn with role label")
	}
	if !strings.Contains(input, "List the files.") {
		t.Error("expected user content passed through bare")
	}
	if strings.Contains(input, "User:") {
		t.Error("user turns must not carry a role label")
	}
	if strings.HasSuffix(input, "\n\n") {
		t.Error("expected trailing separator trimmed")
	}
}

func TestBuildInputSingleUserMessage(t *testing.T) {
	input := buildInput([]llm.CompletionMessage{llm.NewUserMessage("hello")})
	if input != "hello" {
		t.Errorf("expected bare content, got %q", input)
	}
}
