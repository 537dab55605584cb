package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	execpkg "iterdesign/pkg/exec"
)

// forbiddenPatterns block privilege escalation, filesystem-destroying, and
// recursive-delete commands. Matching is plain substring: anything that even
// embeds one of these is refused before a subprocess is spawned.
//
//nolint:gochecknoglobals // Fixed safety policy shared by every instance
var forbiddenPatterns = []string{
	"sudo",
	"rm -r",
	"rm -fr",
	"mkfs",
	"dd if=",
	"> /dev/sd",
}

// venvDirs are checked, in order, for a virtualenv to activate.
//
//nolint:gochecknoglobals // Fixed probe order shared by every instance
var venvDirs = []string{"venv", ".venv"}

// RunTerminalTool executes shell commands inside the workspace with a hard
// wall-clock timeout. It is only constructed for loop instances whose
// capability set grants terminal access.
type RunTerminalTool struct {
	ctx Context
}

// NewRunTerminalTool creates a new run_terminal tool.
func NewRunTerminalTool(ctx Context) *RunTerminalTool {
	return &RunTerminalTool{ctx: ctx}
}

// Name returns the tool name.
func (t *RunTerminalTool) Name() string {
	return ToolRunTerminal
}

// PromptDoc returns the catalogue line for this tool.
func (t *RunTerminalTool) PromptDoc() string {
	return "run_terminal(command): execute a shell command in the workspace and return stdout plus a labeled STDERR section"
}

// Exec validates and runs the command. Execution failures of every kind come
// back as text; nothing a command does can abort the loop.
func (t *RunTerminalTool) Exec(ctx context.Context, input string) string {
	command := strings.TrimSpace(input)
	if command == "" {
		return "Error: empty command"
	}

	for _, pattern := range forbiddenPatterns {
		if strings.Contains(command, pattern) {
			return fmt.Sprintf("Error: command blocked: contains forbidden pattern %q", pattern)
		}
	}

	if t.ctx.UseVenv {
		if activate := t.findVenvActivate(); activate != "" {
			command = "source " + activate + " && " + command
		}
	}

	opts := &execpkg.Opts{
		WorkDir: t.ctx.WorkDir,
		Timeout: t.ctx.Timeout,
	}

	result, err := t.ctx.Executor.Run(ctx, []string{"bash", "-c", command}, opts)
	if result.TimedOut {
		return fmt.Sprintf("Error: command timed out after %v", t.ctx.Timeout)
	}
	if err != nil {
		return fmt.Sprintf("Error: command failed to execute: %v", err)
	}

	return formatCommandOutput(result)
}

// findVenvActivate returns the workspace-relative activate script of the
// first virtualenv found, or "" when there is none.
func (t *RunTerminalTool) findVenvActivate() string {
	for _, dir := range venvDirs {
		activate := filepath.Join(dir, "bin", "activate")
		if _, err := os.Stat(filepath.Join(t.ctx.WorkDir, activate)); err == nil {
			return activate
		}
	}
	return ""
}

// formatCommandOutput concatenates stdout and stderr, the latter under a
// labeled section, and appends the exit code when non-zero.
func formatCommandOutput(result execpkg.Result) string {
	var out strings.Builder
	out.WriteString(strings.TrimRight(result.Stdout, "\n"))

	if stderr := strings.TrimRight(result.Stderr, "\n"); stderr != "" {
		if out.Len() > 0 {
			out.WriteString("\n")
		}
		out.WriteString("STDERR:\n")
		out.WriteString(stderr)
	}

	if result.ExitCode != 0 {
		if out.Len() > 0 {
			out.WriteString("\n")
		}
		out.WriteString(fmt.Sprintf("Exit code: %d", result.ExitCode))
	}

	if out.Len() == 0 {
		return "(command produced no output)"
	}
	return out.String()
}
