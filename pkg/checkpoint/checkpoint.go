// Package checkpoint saves and restores point-in-time copies of the main
// repository. The orchestrator snapshots the tree before merging a winning
// change so a failed or regressive merge can be rolled back wholesale.
//
// Snapshots live in a snapshots/ directory inside the repository itself and
// are excluded, along with the other control directories, from every copy.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"iterdesign/pkg/config"
	"iterdesign/pkg/logx"
	"iterdesign/pkg/utils"
)

const (
	snapshotsDirName = "snapshots"
	snapshotPrefix   = "snapshot_"
	stampLayout      = "20060102_150405"
)

// Manager snapshots one repository tree.
type Manager struct {
	repoPath string
	ignore   map[string]struct{}
	logger   *logx.Logger
}

// NewManager returns a manager for the repository at repoPath.
func NewManager(repoPath string, logger *logx.Logger) *Manager {
	if logger == nil {
		logger = logx.NewLogger("checkpoint")
	}
	return &Manager{
		repoPath: repoPath,
		ignore:   config.ControlDirs(),
		logger:   logger,
	}
}

func (m *Manager) snapshotsDir() string {
	return filepath.Join(m.repoPath, snapshotsDirName)
}

// Save copies the current repository tree into a new timestamped snapshot and
// returns the snapshot name. Control directories are left out of the copy, so
// a snapshot never contains other snapshots.
func (m *Manager) Save() (string, error) {
	dir := m.snapshotsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshots directory: %w", err)
	}

	// Stamps have second resolution; saves in quick succession get a
	// counter suffix, which still sorts after the bare name.
	base := snapshotPrefix + time.Now().Format(stampLayout)
	name := base
	for n := 2; ; n++ {
		if _, err := os.Stat(filepath.Join(dir, name)); os.IsNotExist(err) {
			break
		}
		name = fmt.Sprintf("%s_%d", base, n)
	}

	if err := utils.CopyDir(m.repoPath, filepath.Join(dir, name), m.ignore); err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}

	m.logger.Info("📸 Saved snapshot %s", name)
	return name, nil
}

// RevertToLatest restores the repository to its most recent snapshot. All
// non-control top-level entries are removed first, so files created after the
// snapshot disappear along with modifications.
func (m *Manager) RevertToLatest() error {
	snapshots, err := m.List()
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		return fmt.Errorf("no snapshots available to revert to")
	}
	latest := snapshots[len(snapshots)-1]

	m.logger.Warn("⏪ Reverting repository to snapshot %s", latest)
	if err := utils.RemoveTopLevel(m.repoPath, m.ignore); err != nil {
		return fmt.Errorf("failed to clear repository: %w", err)
	}
	if err := utils.CopyDir(filepath.Join(m.snapshotsDir(), latest), m.repoPath, m.ignore); err != nil {
		return fmt.Errorf("failed to restore snapshot %s: %w", latest, err)
	}

	m.logger.Info("✅ Repository reverted to %s", latest)
	return nil
}

// List returns the snapshot names in chronological order. A missing
// snapshots directory yields an empty list.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.snapshotsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshots directory: %w", err)
	}

	// ReadDir sorts by name, which is chronological for the stamp format.
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), snapshotPrefix) {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Delete removes the named snapshot. Deleting a snapshot that does not exist
// is a no-op.
func (m *Manager) Delete(name string) error {
	if !strings.HasPrefix(name, snapshotPrefix) {
		return fmt.Errorf("not a snapshot name: %s", name)
	}
	if err := os.RemoveAll(filepath.Join(m.snapshotsDir(), name)); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", name, err)
	}
	return nil
}

// CleanupOld deletes all but the newest keep snapshots. A non-positive keep
// disables pruning entirely.
func (m *Manager) CleanupOld(keep int) error {
	if keep <= 0 {
		return nil
	}
	snapshots, err := m.List()
	if err != nil {
		return err
	}
	if len(snapshots) <= keep {
		return nil
	}
	for _, name := range snapshots[:len(snapshots)-keep] {
		if err := m.Delete(name); err != nil {
			return err
		}
		m.logger.Info("🗑️  Deleted old snapshot %s", name)
	}
	return nil
}
