// Package workspace manages disposable per-agent copies of the target
// repository. Every pipeline run receives its own arena cloned from the live
// main tree at submission time, works in full isolation there, and has the
// arena destroyed on every exit path. Control directories (VCS metadata,
// virtualenvs, snapshots, the arenas themselves) never cross into a copy.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"iterdesign/pkg/config"
	"iterdesign/pkg/logx"
	"iterdesign/pkg/utils"
)

// Manager creates and destroys agent arenas under a single parent directory.
type Manager struct {
	baseRepo  string
	arenasDir string
	ignore    map[string]struct{}
	logger    *logx.Logger
}

// NewManager returns a manager that copies baseRepo into arenas under
// arenasDir. A nil ignore set falls back to the standard control directories.
func NewManager(baseRepo, arenasDir string, ignore map[string]struct{}, logger *logx.Logger) *Manager {
	if ignore == nil {
		ignore = config.ControlDirs()
	}
	if logger == nil {
		logger = logx.NewLogger("workspace")
	}
	return &Manager{
		baseRepo:  baseRepo,
		arenasDir: arenasDir,
		ignore:    ignore,
		logger:    logger,
	}
}

// PathFor returns the arena directory for the given agent without creating it.
func (m *Manager) PathFor(agentID string) string {
	return filepath.Join(m.arenasDir, "agent_"+agentID)
}

// Create builds a fresh arena for the agent from the current state of the
// base repository and returns its path. Any leftover arena from a previous
// run is destroyed first so the copy always reflects the main tree as it is
// right now.
func (m *Manager) Create(agentID string) (string, error) {
	arena := m.PathFor(agentID)

	if err := os.RemoveAll(arena); err != nil {
		return "", fmt.Errorf("failed to clear previous workspace %s: %w", arena, err)
	}

	m.logger.Info("📂 Creating workspace for agent %s at %s", agentID, arena)
	if err := utils.CopyDir(m.baseRepo, arena, m.ignore); err != nil {
		return "", fmt.Errorf("failed to copy repository into workspace: %w", err)
	}

	return arena, nil
}

// Destroy removes the agent's arena. A missing arena is not an error.
func (m *Manager) Destroy(agentID string) error {
	arena := m.PathFor(agentID)
	if err := os.RemoveAll(arena); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", arena, err)
	}
	m.logger.Info("🧹 Removed workspace for agent %s", agentID)
	return nil
}
