// Package tools provides the sandboxed tool set the research loop exposes to
// the planner: filesystem listing/reading/writing scoped to a workspace, and
// guarded terminal execution. Every tool follows a uniform contract: input is
// a single string, output is a single string, and failures are returned as
// descriptive text rather than errors so one bad call never aborts a run.
package tools

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	execpkg "iterdesign/pkg/exec"
)

// Tool name constants - use these instead of magic strings to prevent typos
// and enable compile-time checking.
const (
	ToolListFiles   = "list_files"
	ToolReadFile    = "read_file"
	ToolWriteFile   = "write_file"
	ToolRunTerminal = "run_terminal"
)

// WriteFileSeparator splits a write_file input into path and content.
const WriteFileSeparator = "|"

// Tool is a single named capability exposed to the planner.
type Tool interface {
	// Name returns the tool name used in Action: lines.
	Name() string
	// PromptDoc returns the one-line catalogue entry (name, argument shape,
	// behavior) included in the planner's system prompt.
	PromptDoc() string
	// Exec runs the tool. It never returns an error: failures come back as
	// descriptive text the planner can read and react to.
	Exec(ctx context.Context, input string) string
}

// Context contains workspace-specific configuration for tool creation.
//
//nolint:govet // fieldalignment: Logical grouping preferred over memory optimization
type Context struct {
	Executor execpkg.Executor
	WorkDir  string        // workspace root; all file paths resolve under it
	Timeout  time.Duration // wall-clock limit per terminal command
	UseVenv  bool          // activate a detected virtualenv before commands

	// IgnoreDirs are directory names excluded from listings at every level
	// (control, cache, and build directories).
	IgnoreDirs map[string]struct{}
}

// Capabilities describes what a loop instance is allowed to do. The file
// reading tools are always available; writing and terminal access are
// granted per phase.
type Capabilities struct {
	CanWrite           bool
	CanExecuteTerminal bool

	// Extra names additional registered tools to expose beyond the built-ins.
	Extra []string
}

// AllowedTools returns the ordered tool names this capability set grants.
func (c Capabilities) AllowedTools() []string {
	names := []string{ToolListFiles, ToolReadFile}
	if c.CanWrite {
		names = append(names, ToolWriteFile)
	}
	if c.CanExecuteTerminal {
		names = append(names, ToolRunTerminal)
	}
	return append(names, c.Extra...)
}

// validateRelPath rejects escapes from the workspace before any I/O happens.
// Any parent-directory segment or absolute prefix is denied outright; there
// is no resolution step that could be confused by symlinks or normalization.
func validateRelPath(path string) (string, bool) {
	if strings.TrimSpace(path) == "" {
		return "empty path", false
	}
	if strings.Contains(path, "..") {
		return "path contains a parent-directory segment", false
	}
	if strings.HasPrefix(path, "/") || filepath.IsAbs(path) {
		return "absolute paths are not allowed", false
	}
	return "", true
}

// accessDenied formats the uniform denial message for unsafe paths.
func accessDenied(path, reason string) string {
	return "Error: access denied for '" + path + "': " + reason + ". Use paths relative to the workspace root."
}
