package tools

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

const maxListResults = 1000

// ListFilesTool recursively lists workspace files, excluding control, cache,
// and build directories at every level.
type ListFilesTool struct {
	ctx Context
}

// NewListFilesTool creates a new list_files tool.
func NewListFilesTool(ctx Context) *ListFilesTool {
	return &ListFilesTool{ctx: ctx}
}

// Name returns the tool name.
func (t *ListFilesTool) Name() string {
	return ToolListFiles
}

// PromptDoc returns the catalogue line for this tool.
func (t *ListFilesTool) PromptDoc() string {
	return "list_files(dir): recursively list files under a workspace-relative directory; empty input lists the whole workspace"
}

// Exec lists files under the given workspace-relative directory.
func (t *ListFilesTool) Exec(_ context.Context, input string) string {
	dir := strings.TrimSpace(input)
	if dir == "" || dir == "." {
		dir = "."
	} else if reason, ok := validateRelPath(dir); !ok {
		return accessDenied(dir, reason)
	}

	root := filepath.Join(t.ctx.WorkDir, dir)

	var files []string
	truncated := false
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				// The requested directory itself is missing or unreadable.
				return walkErr
			}
			// Unreadable entries below it are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil //nolint:nilerr // fail-soft listing
		}
		if d.IsDir() {
			if _, skip := t.ctx.IgnoreDirs[d.Name()]; skip && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if len(files) >= maxListResults {
			truncated = true
			return filepath.SkipAll
		}
		rel, relErr := filepath.Rel(t.ctx.WorkDir, path)
		if relErr != nil {
			return nil //nolint:nilerr // fail-soft listing
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return fmt.Sprintf("Error: failed to list files in '%s': %v", dir, err)
	}

	if len(files) == 0 {
		return fmt.Sprintf("No files found under '%s'.", dir)
	}

	listing := strings.Join(files, "\n")
	if truncated {
		listing += fmt.Sprintf("\n... (listing truncated at %d files)", maxListResults)
	}
	return listing
}
