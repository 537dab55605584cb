package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// maxReadBytes caps read_file output so a single binary blob cannot blow up
// the planner transcript.
const maxReadBytes = 1 << 20 // 1MB

// ReadFileTool returns the contents of workspace files.
type ReadFileTool struct {
	ctx Context
}

// NewReadFileTool creates a new read_file tool.
func NewReadFileTool(ctx Context) *ReadFileTool {
	return &ReadFileTool{ctx: ctx}
}

// Name returns the tool name.
func (t *ReadFileTool) Name() string {
	return ToolReadFile
}

// PromptDoc returns the catalogue line for this tool.
func (t *ReadFileTool) PromptDoc() string {
	return "read_file(path): return the full contents of a workspace-relative file"
}

// Exec reads the file at the given workspace-relative path.
func (t *ReadFileTool) Exec(_ context.Context, input string) string {
	path := strings.TrimSpace(input)
	if reason, ok := validateRelPath(path); !ok {
		return accessDenied(path, reason)
	}

	fullPath := filepath.Join(t.ctx.WorkDir, path)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return fmt.Sprintf("Error: could not read file '%s': %v", path, err)
	}

	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + fmt.Sprintf("\n... (file truncated at %d bytes)", maxReadBytes)
	}
	return string(data)
}
