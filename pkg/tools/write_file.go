package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteFileTool writes planner-provided content into workspace files. It is
// only constructed for loop instances whose capability set grants writing.
type WriteFileTool struct {
	ctx Context
}

// NewWriteFileTool creates a new write_file tool.
func NewWriteFileTool(ctx Context) *WriteFileTool {
	return &WriteFileTool{ctx: ctx}
}

// Name returns the tool name.
func (t *WriteFileTool) Name() string {
	return ToolWriteFile
}

// PromptDoc returns the catalogue line for this tool.
func (t *WriteFileTool) PromptDoc() string {
	return "write_file(path" + WriteFileSeparator + "content): write content to a workspace-relative file, creating parent directories"
}

// Exec splits the input on the first separator into path and content and
// writes the file. Parent directories are created as needed.
func (t *WriteFileTool) Exec(_ context.Context, input string) string {
	path, content, found := strings.Cut(input, WriteFileSeparator)
	if !found {
		return fmt.Sprintf("Error: invalid write_file input: expected 'path%scontent' with a '%s' separator between the file path and its content", WriteFileSeparator, WriteFileSeparator)
	}

	path = strings.TrimSpace(path)
	if reason, ok := validateRelPath(path); !ok {
		return accessDenied(path, reason)
	}

	fullPath := filepath.Join(t.ctx.WorkDir, path)
	if dir := filepath.Dir(fullPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Sprintf("Error: could not create directories for '%s': %v", path, err)
		}
	}

	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error: could not write file '%s': %v", path, err)
	}

	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path)
}
