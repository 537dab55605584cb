// Package bootstrap prepares the working copy the research loop runs
// against: validating the repository URL, cloning into the workspace, and
// optionally provisioning a Python virtual environment inside the clone.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"iterdesign/pkg/logx"
)

const (
	cloneTimeout = 5 * time.Minute
	venvTimeout  = time.Minute
	pipTimeout   = 5 * time.Minute
)

// Prep acquires the target repository and sets up its runtime environment.
type Prep struct {
	logger *logx.Logger
}

// New returns a Prep logging through the given logger.
func New(logger *logx.Logger) *Prep {
	if logger == nil {
		logger = logx.NewLogger("bootstrap")
	}
	return &Prep{logger: logger}
}

// ParseRepoURL validates a repository URL and returns the repository name.
// Only HTTP(S) URLs on github.com or gitlab.com are accepted.
func ParseRepoURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid repository URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("invalid URL scheme: %s", parsed.Scheme)
	}
	host := parsed.Hostname()
	if !strings.Contains(host, "github.com") && !strings.Contains(host, "gitlab.com") {
		return "", fmt.Errorf("URL must be from github.com or gitlab.com")
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 {
		return "", fmt.Errorf("invalid repository URL format")
	}
	name := strings.TrimSuffix(parts[len(parts)-1], ".git")
	if name == "" {
		return "", fmt.Errorf("invalid repository URL format")
	}
	return name, nil
}

// Clone fetches the repository into targetDir, replacing any previous copy.
func (p *Prep) Clone(ctx context.Context, repoURL, targetDir string) error {
	if _, err := os.Stat(targetDir); err == nil {
		p.logger.Info("Directory %s already exists, removing", targetDir)
		if err := os.RemoveAll(targetDir); err != nil {
			return fmt.Errorf("failed to remove existing directory %s: %w", targetDir, err)
		}
	}

	p.logger.Info("📥 Cloning repository from %s", repoURL)

	cloneCtx, cancel := context.WithTimeout(ctx, cloneTimeout)
	defer cancel()

	cmd := exec.CommandContext(cloneCtx, "git", "clone", repoURL, targetDir)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if cloneCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("git clone timed out")
		}
		if errors.Is(err, exec.ErrNotFound) {
			return fmt.Errorf("git is not installed or not in PATH")
		}
		return fmt.Errorf("git clone failed: %w\nOutput: %s", err, string(output))
	}

	p.logger.Info("✅ Repository cloned to %s", targetDir)
	return nil
}

// SetupVenv provisions a .venv inside the repository and installs
// requirements.txt when present. A failing pip install is logged and
// tolerated; the phases surface missing packages when they run the code.
func (p *Prep) SetupVenv(ctx context.Context, repoPath string) error {
	p.logger.Info("🐍 Setting up virtual environment")

	python, err := exec.LookPath("python3")
	if err != nil {
		python, err = exec.LookPath("python")
		if err != nil {
			return fmt.Errorf("no python interpreter found in PATH")
		}
	}

	venvPath := filepath.Join(repoPath, ".venv")
	venvCtx, cancel := context.WithTimeout(ctx, venvTimeout)
	defer cancel()
	create := exec.CommandContext(venvCtx, python, "-m", "venv", venvPath)
	if output, err := create.CombinedOutput(); err != nil {
		return fmt.Errorf("venv creation failed: %w\nOutput: %s", err, string(output))
	}

	requirements := filepath.Join(repoPath, "requirements.txt")
	if _, err := os.Stat(requirements); os.IsNotExist(err) {
		p.logger.Info("✅ Virtual environment ready (no requirements.txt)")
		return nil
	}

	p.logger.Info("Installing dependencies from requirements.txt")
	pipCtx, pipCancel := context.WithTimeout(ctx, pipTimeout)
	defer pipCancel()
	install := exec.CommandContext(pipCtx, pipPath(venvPath), "install", "-r", requirements)
	if output, err := install.CombinedOutput(); err != nil {
		p.logger.Warn("pip install failed: %v\nOutput: %s", err, string(output))
	}

	p.logger.Info("✅ Virtual environment setup complete")
	return nil
}

func pipPath(venvPath string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(venvPath, "Scripts", "pip")
	}
	return filepath.Join(venvPath, "bin", "pip")
}
