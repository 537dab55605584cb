// Command iterdesign runs an automated research loop against a repository:
// it clones the target, fans out parallel agent pipelines that propose and
// evaluate improvements, and merges the best accepted change each iteration
// until the goal is met or the iteration budget runs out.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"iterdesign/pkg/bootstrap"
	"iterdesign/pkg/config"
	"iterdesign/pkg/logx"
	"iterdesign/pkg/orch"
	"iterdesign/pkg/persistence"
	"iterdesign/pkg/pool"
	"iterdesign/pkg/version"
)

// passwordEnvVar unlocks the encrypted secrets file in non-interactive runs.
const passwordEnvVar = "ITERDESIGN_PASSWORD"

type cliOptions struct {
	task            string
	taskFile        string
	repoURL         string
	agents          int
	maxIterations   int
	model           string
	workspaceDir    string
	dataDir         string
	configPath      string
	noVenv          bool
	revertOnFailure bool
	debug           bool
}

func main() {
	var (
		task          = flag.String("task", "", "The research goal to accomplish")
		taskFile      = flag.String("task-file", "", "Path to a task file (YAML frontmatter plus a markdown goal)")
		repoURL       = flag.String("repo", "", "GitHub or GitLab repository URL to clone and work on")
		agents        = flag.Int("agents", 0, "Number of parallel agents (default from config: 3)")
		maxIterations = flag.Int("max-iterations", 0, "Iteration budget (default from config: 5)")
		model         = flag.String("model", "", "Planner model name (default from config)")
		workspaceDir  = flag.String("workspace", "", "Directory to clone the repository into (default from config: workspace)")
		dataDir       = flag.String("data-dir", "", "Directory for experience pool data and reports (default from config: data)")
		configPath    = flag.String("config", "", "Path to config.json (default: .iterdesign/config.json)")
		noVenv        = flag.Bool("no-venv", false, "Skip virtual environment setup")
		revertOnFail  = flag.Bool("revert-on-failure", false, "Roll back to the iteration snapshot when a merge fails")
		debug         = flag.Bool("debug", false, "Enable debug logging, including planner transcripts")
		showVersion   = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	fmt.Println("⏳ Starting up...")

	exitCode := run(cliOptions{
		task:            *task,
		taskFile:        *taskFile,
		repoURL:         *repoURL,
		agents:          *agents,
		maxIterations:   *maxIterations,
		model:           *model,
		workspaceDir:    *workspaceDir,
		dataDir:         *dataDir,
		configPath:      *configPath,
		noVenv:          *noVenv,
		revertOnFailure: *revertOnFail,
		debug:           *debug,
	})
	os.Exit(exitCode)
}

// run contains the main application logic and returns an exit code. This
// allows defers to execute before os.Exit is called.
func run(opts cliOptions) int {
	if opts.debug {
		logx.SetDebug(true)
	}
	logger := logx.NewLogger("iterdesign")

	goal, err := resolveTask(opts.task, opts.taskFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.repoURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -repo is required")
		return 1
	}

	cfgPath := opts.configPath
	if cfgPath == "" {
		cfgPath = config.DefaultConfigPath(".")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	mergeFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if err := loadSecrets("."); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to unlock secrets: %v\n", err)
		return 1
	}

	repoName, err := bootstrap.ParseRepoURL(opts.repoURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	repoPath := filepath.Join(cfg.WorkspaceDir, repoName)

	for _, dir := range []string{cfg.WorkspaceDir, cfg.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create %s: %v\n", dir, err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prep := bootstrap.New(logger)
	if err := prep.Clone(ctx, opts.repoURL, repoPath); err != nil {
		return fail(ctx, err)
	}
	if cfg.UseVenv {
		if err := prep.SetupVenv(ctx, repoPath); err != nil {
			logger.Warn("Could not set up virtual environment: %v", err)
		}
	}

	store, err := pool.NewStore(cfg.DataDir)
	if err != nil {
		return fail(ctx, err)
	}

	// The run archive is supplementary history; the loop runs without it.
	archive, err := persistence.Open(filepath.Join(cfg.DataDir, "runs.db"))
	if err != nil {
		logger.Warn("Run archive unavailable: %v", err)
		archive = nil
	} else {
		defer func() { _ = archive.Close() }()
	}

	fmt.Println()
	fmt.Println("🚀 Starting the research loop")
	fmt.Printf("   Task:       %s\n", goal)
	fmt.Printf("   Repository: %s\n", repoPath)
	fmt.Printf("   Agents:     %d\n", cfg.AgentCount)
	fmt.Printf("   Iterations: up to %d\n", cfg.MaxIterations)
	fmt.Println(strings.Repeat("-", 50))

	orchestrator, err := orch.New(orch.Options{
		Task:      goal,
		RepoPath:  repoPath,
		Config:    cfg,
		Pool:      store,
		Archive:   archive,
		ArenasDir: filepath.Join(cfg.WorkspaceDir, "agent_workspaces"),
		DataDir:   cfg.DataDir,
		Debug:     opts.debug,
	})
	if err != nil {
		return fail(ctx, err)
	}

	success := orchestrator.Run(ctx)

	if ctx.Err() != nil {
		fmt.Println("\nInterrupted by user.")
		return 130
	}
	if success {
		fmt.Println("\n✅ Task completed successfully!")
		return 0
	}
	fmt.Println("\n🛑 Task did not complete within the iteration budget.")
	return 1
}

// resolveTask returns the goal text from -task or -task-file.
func resolveTask(task, taskFile string) (string, error) {
	switch {
	case task != "" && taskFile != "":
		return "", fmt.Errorf("-task and -task-file are mutually exclusive")
	case taskFile != "":
		tf, err := config.LoadTaskFile(taskFile)
		if err != nil {
			return "", err
		}
		return tf.GoalText(), nil
	case strings.TrimSpace(task) != "":
		return strings.TrimSpace(task), nil
	default:
		return "", fmt.Errorf("a task is required: pass -task or -task-file")
	}
}

// mergeFlags overlays explicitly set command line values onto the config.
func mergeFlags(cfg *config.Config, opts cliOptions) {
	if opts.agents > 0 {
		cfg.AgentCount = opts.agents
	}
	if opts.maxIterations > 0 {
		cfg.MaxIterations = opts.maxIterations
	}
	if opts.model != "" {
		cfg.Model = opts.model
	}
	if opts.workspaceDir != "" {
		cfg.WorkspaceDir = opts.workspaceDir
	}
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if opts.noVenv {
		cfg.UseVenv = false
	}
	if opts.revertOnFailure {
		cfg.RevertOnFailure = true
	}
}

// loadSecrets decrypts the project's secrets file into memory when present.
// The password comes from the environment, or from a terminal prompt when
// running interactively. API keys can still come from plain environment
// variables, so a locked secrets file is not fatal on its own.
func loadSecrets(projectDir string) error {
	if !config.SecretsFileExists(projectDir) {
		return nil
	}

	password := os.Getenv(passwordEnvVar)
	if password == "" {
		if !term.IsTerminal(syscall.Stdin) {
			fmt.Printf("⚠️  Encrypted secrets found but no password available; set %s or run interactively\n", passwordEnvVar)
			return nil
		}
		fmt.Print("Enter the project password to unlock secrets: ")
		raw, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
	}

	secrets, err := config.DecryptSecretsFile(projectDir, password)
	if err != nil {
		return err
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

// fail reports a fatal setup error, distinguishing user interrupts.
func fail(ctx context.Context, err error) int {
	if ctx.Err() != nil {
		fmt.Println("\nInterrupted by user.")
		return 130
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}
