// Package agent provides the planner client layer for the research loop.
//
// This package serves as the public API for planner functionality with the
// following structure:
//   - LLMClientFactory builds provider-specific clients behind a uniform
//     completion interface, with metrics and diagnostic middleware applied
//   - Subpackage llm defines the completion seam and middleware chain
//   - Subpackage react parses the textual tool-calling protocol
//   - Subpackage toolloop runs the bounded planner/tool conversation
//   - Subpackage llmerrors classifies provider failures for logs and metrics
//
// Provider implementations are kept private under internal/llmimpl.
package agent
