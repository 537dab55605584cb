// Package config holds runtime configuration for the research loop: the
// model registry with provider inference and pricing, the encrypted secrets
// store, the task-file parser, and the Config struct the orchestrator and
// CLI share.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// ControlDirName is the per-project control directory holding
	// config.json and the encrypted secrets file.
	ControlDirName = ".iterdesign"

	configFileName = "config.json"

	// Provider constants used by the client factory and middleware.
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"

	// API key environment variable names.
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_GENAI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// ModelInfo contains static information about a known LLM model.
// This data is hardcoded in the application, not user-configurable.
type ModelInfo struct {
	Provider         string  // API provider (anthropic, openai, google, ollama)
	InputCPM         float64 // Cost per million input tokens (USD)
	OutputCPM        float64 // Cost per million output tokens (USD)
	MaxContextTokens int     // Maximum context window size in tokens
	MaxOutputTokens  int     // Maximum output tokens per request
}

// KnownModels registry contains pricing and provider information for common models.
// This is optional - unknown models will be inferred via ProviderPatterns.
//
//nolint:gochecknoglobals // Intentional global for static model registry
var KnownModels = map[string]ModelInfo{
	// Claude models (Anthropic)
	"claude-3-7-sonnet-20250219": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-sonnet-4-20250514": {
		Provider:         ProviderAnthropic,
		InputCPM:         3.0,
		OutputCPM:        15.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  8192,
	},
	"claude-opus-4-1": {
		Provider:         ProviderAnthropic,
		InputCPM:         15.0,
		OutputCPM:        75.0,
		MaxContextTokens: 200000,
		MaxOutputTokens:  16384,
	},

	// OpenAI GPT models
	"gpt-4o": {
		Provider:         ProviderOpenAI,
		InputCPM:         2.5,
		OutputCPM:        10.0,
		MaxContextTokens: 128000,
		MaxOutputTokens:  4096,
	},

	// OpenAI o-series reasoning models
	"o3-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"o3": {
		Provider:         ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},
	"o4-mini": {
		Provider:         ProviderOpenAI,
		InputCPM:         1.1,
		OutputCPM:        4.4,
		MaxContextTokens: 128000,
		MaxOutputTokens:  16384,
	},

	// Google Gemini models
	"gemini-2.0-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.10,
		OutputCPM:        0.40,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  8192,
	},
	"gemini-2.5-flash": {
		Provider:         ProviderGoogle,
		InputCPM:         0.30,
		OutputCPM:        2.50,
		MaxContextTokens: 1048576,
		MaxOutputTokens:  65536,
	},
}

// ProviderPattern represents a pattern for inferring provider from model name.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns defines rules for inferring providers from unknown model names.
// Allows using new models without code changes.
//
//nolint:gochecknoglobals // Intentional global for inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	// Ollama models - common open-source model prefixes
	{"phi", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"codellama", ProviderOllama},
	{"deepseek", ProviderOllama},
	{"ollama:", ProviderOllama}, // Explicit prefix like "ollama:phi4"
}

// GetModelProvider returns the API provider for a given model.
// First checks KnownModels, then tries pattern matching.
// Returns error if model cannot be mapped to a provider (FATAL).
func GetModelProvider(modelName string) (string, error) {
	if info, exists := KnownModels[modelName]; exists {
		return info.Provider, nil
	}

	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}

	return "", fmt.Errorf("unknown model '%s': no known provider mapping or pattern match - cannot determine API provider", modelName)
}

// GetModelInfo returns the ModelInfo for a given model name.
// Returns the info and true if found in KnownModels, or a default info with
// inferred provider and false if not found.
func GetModelInfo(modelName string) (ModelInfo, bool) {
	if info, exists := KnownModels[modelName]; exists {
		return info, true
	}

	provider := ""
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			provider = ProviderPatterns[i].Provider
			break
		}
	}

	// Conservative defaults for unknown models; no cost tracking.
	return ModelInfo{
		Provider:         provider,
		InputCPM:         0.0,
		OutputCPM:        0.0,
		MaxContextTokens: 32000,
		MaxOutputTokens:  4096,
	}, false
}

// CalculateCost calculates the cost in USD for a given model and token usage.
// Uses separate input and output token pricing from the KnownModels registry.
// Returns 0 cost for unknown models (allows using new models without pricing data).
func CalculateCost(modelName string, promptTokens, completionTokens int) float64 {
	info, known := GetModelInfo(modelName)
	if !known {
		return 0.0
	}
	inputCost := (float64(promptTokens) / 1_000_000.0) * info.InputCPM
	outputCost := (float64(completionTokens) / 1_000_000.0) * info.OutputCPM
	return inputCost + outputCost
}

// GetAPIKey returns the API key for the given provider.
// Checks the decrypted secrets file first, then environment variables.
// For Ollama it returns the host URL instead (no API key needed).
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = "http://localhost:11434"
		}
		return host, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	key, err := GetSecret(envVar)
	if err == nil && key != "" {
		return key, nil
	}

	return "", fmt.Errorf("API key not found: %s not found in secrets file or environment variables", envVar)
}

// Config is the runtime configuration shared by the CLI and the orchestrator.
type Config struct {
	Model              string `json:"model"`                    // Planner model name (default: claude-sonnet-4-20250514)
	AgentCount         int    `json:"agent_count"`              // Parallel pipelines per iteration (default: 3)
	MaxIterations      int    `json:"max_iterations"`           // Orchestrator iteration budget (default: 5)
	MaxSteps           int    `json:"max_steps"`                // Tool-loop step budget per phase (default: 20)
	CommandTimeoutSecs int    `json:"command_timeout_secs"`     // Wall-clock limit per terminal command (default: 300)
	ContextTokenBudget int    `json:"context_token_budget"`     // Per-section token cap for aggregate pool context (default: 4000)
	WorkspaceDir       string `json:"workspace_dir"`            // Parent directory for cloned repos and agent workspaces
	DataDir            string `json:"data_dir"`                 // Experience pool, run archive, and reports
	SnapshotKeep       int    `json:"snapshot_keep"`            // Snapshots retained after cleanup (default: 5)
	RevertOnFailure    bool   `json:"revert_on_failure"`        // Revert to the iteration snapshot when apply fails
	UseVenv            bool   `json:"use_venv"`                 // Bootstrap a Python venv in cloned repos
	PrometheusURL      string `json:"prometheus_url,omitempty"` // Optional Prometheus server for report cost rollups
}

// DefaultConfig returns the configuration used when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Model:              "claude-sonnet-4-20250514",
		AgentCount:         3,
		MaxIterations:      5,
		MaxSteps:           20,
		CommandTimeoutSecs: 300,
		ContextTokenBudget: 4000,
		WorkspaceDir:       "workspace",
		DataDir:            "data",
		SnapshotKeep:       5,
		RevertOnFailure:    false,
		UseVenv:            true,
	}
}

// LoadConfig reads a JSON config file over the defaults. An empty path or a
// missing file returns the defaults unchanged; a malformed file is an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for values the loop cannot run with.
func (c *Config) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if _, err := GetModelProvider(c.Model); err != nil {
		return fmt.Errorf("model validation failed: %w", err)
	}
	if c.AgentCount < 1 {
		return fmt.Errorf("agent_count must be at least 1, got %d", c.AgentCount)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be at least 1, got %d", c.MaxSteps)
	}
	if c.CommandTimeoutSecs < 1 {
		return fmt.Errorf("command_timeout_secs must be at least 1, got %d", c.CommandTimeoutSecs)
	}
	if c.SnapshotKeep < 1 {
		return fmt.Errorf("snapshot_keep must be at least 1, got %d", c.SnapshotKeep)
	}
	if c.WorkspaceDir == "" {
		return fmt.Errorf("workspace_dir must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	return nil
}

// CommandTimeout returns the per-command wall-clock limit as a duration.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutSecs) * time.Second
}

// DefaultConfigPath returns the conventional config file location inside a
// project's control directory.
func DefaultConfigPath(projectDir string) string {
	return filepath.Join(projectDir, ControlDirName, configFileName)
}

// ControlDirs returns the directory names excluded from every tree copy:
// workspace setup, snapshots, and the recursive file listing tool all skip
// these at every level.
func ControlDirs() map[string]struct{} {
	return map[string]struct{}{
		".git":             {},
		"__pycache__":      {},
		"venv":             {},
		".venv":            {},
		".vscode":          {},
		"node_modules":     {},
		".idea":            {},
		"agent_workspaces": {},
		"snapshots":        {},
		"data":             {},
		ControlDirName:     {},
	}
}
