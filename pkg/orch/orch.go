// Package orch implements the top-level control loop of the research system.
// Each iteration checks whether the goal is already met, snapshots the main
// repository, fans out N isolated agent pipelines, synthesizes the best
// accepted result, and merges it into the main tree. The loop ends when the
// completion check passes or the iteration budget runs out; both paths write
// a final report.
package orch

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"iterdesign/pkg/agent"
	"iterdesign/pkg/agent/llm"
	"iterdesign/pkg/agent/toolloop"
	"iterdesign/pkg/checkpoint"
	"iterdesign/pkg/config"
	execpkg "iterdesign/pkg/exec"
	"iterdesign/pkg/logx"
	"iterdesign/pkg/persistence"
	"iterdesign/pkg/pipeline"
	"iterdesign/pkg/pool"
	"iterdesign/pkg/tools"
	"iterdesign/pkg/workspace"
)

// Phase labels for orchestrator-originated pool entries and metrics.
const (
	phaseOrchestrator    = "orchestrator"
	phaseCompletionCheck = "completion_check"
	phaseSnapshot        = "snapshot"
	phaseSynthesis       = "synthesis"
	phaseApply           = "apply"
	phaseReport          = "report"
)

// poolAgentID identifies orchestrator-originated entries in the pool.
const poolAgentID = "orchestrator"

// Options configures the orchestrator.
//
//nolint:govet // fieldalignment: struct fields ordered for clarity over memory alignment
type Options struct {
	// Task is the research goal driving the whole run.
	Task string

	// RepoPath is the main repository tree the loop improves in place.
	RepoPath string

	// Config supplies agent count, iteration budget, and model settings.
	Config *config.Config

	// Pool is the shared experience pool.
	Pool *pool.Store

	// Archive, when set, records run and iteration history in SQLite.
	Archive *persistence.Archive

	// Client overrides the LLM client for the orchestrator's own loops and
	// for every pipeline. When nil, clients are built from Config.Model.
	Client llm.LLMClient

	// Executor overrides command execution for terminal tools.
	Executor execpkg.Executor

	// ArenasDir is where agent workspaces are created. Defaults to
	// "agent_workspaces" under Config.WorkspaceDir.
	ArenasDir string

	// DataDir is where the final report is written. Defaults to
	// Config.DataDir.
	DataDir string

	// Logger defaults to a logger named "orchestrator".
	Logger *logx.Logger

	// Debug enables per-turn transcript logging in all tool loops.
	Debug bool
}

// Orchestrator runs the iteration loop against one repository.
type Orchestrator struct {
	task           string
	repoPath       string
	dataDir        string
	cfg            *config.Config
	pool           *pool.Store
	archive        *persistence.Archive
	workspaces     *workspace.Manager
	checkpoints    *checkpoint.Manager
	executor       execpkg.Executor
	logger         *logx.Logger
	loop           *toolloop.ToolLoop
	clientOverride llm.LLMClient
	debug          bool

	currentPhase string
}

// New validates the options and assembles an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if strings.TrimSpace(opts.Task) == "" {
		return nil, fmt.Errorf("Task is required")
	}
	if opts.RepoPath == "" {
		return nil, fmt.Errorf("RepoPath is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("Config is required")
	}
	if opts.Pool == nil {
		return nil, fmt.Errorf("Pool is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logx.NewLogger("orchestrator")
	}
	executor := opts.Executor
	if executor == nil {
		executor = execpkg.NewLocalExec()
	}
	arenasDir := opts.ArenasDir
	if arenasDir == "" {
		arenasDir = filepath.Join(opts.Config.WorkspaceDir, "agent_workspaces")
	}
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = opts.Config.DataDir
	}

	o := &Orchestrator{
		task:           opts.Task,
		repoPath:       opts.RepoPath,
		dataDir:        dataDir,
		cfg:            opts.Config,
		pool:           opts.Pool,
		archive:        opts.Archive,
		workspaces:     workspace.NewManager(opts.RepoPath, arenasDir, nil, logger),
		checkpoints:    checkpoint.NewManager(opts.RepoPath, logger),
		executor:       executor,
		logger:         logger,
		clientOverride: opts.Client,
		debug:          opts.Debug,
	}

	client := opts.Client
	if client == nil {
		factory := agent.NewLLMClientFactory(logger)
		built, err := factory.CreateClient(opts.Config.Model, o)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		client = built
	}
	o.loop = toolloop.New(client, logger)

	return o, nil
}

// GetID identifies the orchestrator's own LLM calls in metrics.
func (o *Orchestrator) GetID() string { return poolAgentID }

// GetCurrentPhase reports the phase label attached to in-flight LLM calls.
func (o *Orchestrator) GetCurrentPhase() string { return o.currentPhase }

// Run executes the iteration loop and reports whether the goal was achieved.
// Failures inside an iteration are absorbed: the loop always proceeds to the
// next iteration or to the final report, never to a crash.
func (o *Orchestrator) Run(ctx context.Context) bool {
	o.logger.Info("🚀 Research loop starting: %d agents, up to %d iterations", o.cfg.AgentCount, o.cfg.MaxIterations)
	o.log(phaseOrchestrator, "Research loop started: "+o.task)

	runID := o.beginArchiveRun()

	success := false
	completed := 0

	for iteration := 1; iteration <= o.cfg.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			o.logger.Warn("🛑 Run cancelled before iteration %d", iteration)
			break
		}

		o.logger.Info("🔁 === Iteration %d/%d ===", iteration, o.cfg.MaxIterations)
		o.log(phaseOrchestrator, fmt.Sprintf("Iteration %d started", iteration))

		if o.checkCompletion(ctx) {
			o.logger.Info("🎯 Goal achieved; stopping after %d completed iterations", completed)
			success = true
			break
		}

		snapshotName := o.snapshot()
		results := o.fanOut(ctx)

		record := persistence.IterationRecord{
			Number:          iteration,
			Snapshot:        snapshotName,
			ResultsTotal:    len(results),
			ResultsAccepted: countAccepted(results),
		}

		winner := selectWinner(results)
		if winner == nil {
			o.logger.Warn("⚠️  No accepted hypothesis in iteration %d", iteration)
			o.log(phaseSynthesis, "No accepted results; nothing to apply")
		} else {
			o.logger.Info("🏆 Winning hypothesis from agent %s (confidence %.2f)",
				winner.AgentID, winner.Evaluation.Confidence)
			record.WinnerAgent = winner.AgentID
			record.WinnerHypothesisID = winner.HypothesisID
			record.WinnerHypothesis = winner.Hypothesis
			record.WinnerConfidence = winner.Evaluation.Confidence
			record.Applied = o.merge(ctx, winner)
		}

		completed = iteration
		o.recordIteration(runID, record)
	}

	reportPath := o.writeFinalReport(ctx, success, completed)
	o.finishArchiveRun(runID, success, completed, reportPath)

	if success {
		o.logger.Info("✅ Research loop finished: goal achieved")
	} else {
		o.logger.Warn("🛑 Research loop finished without reaching the goal")
	}
	return success
}

// snapshot saves a pre-iteration checkpoint of the main tree and prunes old
// ones. A failed snapshot is logged and the iteration continues; the copy
// exists for rollback, not as a gate.
func (o *Orchestrator) snapshot() string {
	o.setPhase(phaseSnapshot)

	name, err := o.checkpoints.Save()
	if err != nil {
		o.logger.Error("Snapshot failed: %v", err)
		o.logError(phaseSnapshot, "Snapshot failed: "+err.Error())
		return ""
	}
	o.log(phaseSnapshot, "Saved snapshot "+name)

	if err := o.checkpoints.CleanupOld(o.cfg.SnapshotKeep); err != nil {
		o.logger.Warn("Snapshot cleanup failed: %v", err)
	}
	return name
}

// fanOut runs one pipeline per agent concurrently and collects non-nil
// results in completion order. Each pipeline copies the main tree at its own
// start, so parallel runs never share filesystem state.
func (o *Orchestrator) fanOut(ctx context.Context) []*pipeline.Result {
	o.logger.Info("🧪 Fanning out %d agent pipelines", o.cfg.AgentCount)

	resultCh := make(chan *pipeline.Result, o.cfg.AgentCount)
	var wg sync.WaitGroup

	for i := 0; i < o.cfg.AgentCount; i++ {
		agentID := strconv.Itoa(i)
		p, err := pipeline.New(pipeline.Options{
			AgentID:    agentID,
			Task:       o.task,
			Pool:       o.pool,
			Workspaces: o.workspaces,
			Config:     o.cfg,
			Client:     o.clientOverride,
			Executor:   o.executor,
			Debug:      o.debug,
		})
		if err != nil {
			o.logger.Error("Failed to assemble pipeline for agent %s: %v", agentID, err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.logger.Error("Pipeline for agent %s panicked: %v", agentID, r)
				}
			}()
			if result := p.Run(ctx); result != nil {
				resultCh <- result
			}
		}()
	}

	wg.Wait()
	close(resultCh)

	results := make([]*pipeline.Result, 0, o.cfg.AgentCount)
	for result := range resultCh {
		results = append(results, result)
	}
	o.logger.Info("📊 Collected %d results", len(results))
	return results
}

// runLoop executes one orchestrator conversation with tools scoped to the
// main repository.
func (o *Orchestrator) runLoop(ctx context.Context, phase, role, objective string, caps tools.Capabilities) (string, error) {
	o.setPhase(phase)

	provider := tools.NewProvider(tools.Context{
		Executor:   o.executor,
		WorkDir:    o.repoPath,
		Timeout:    o.cfg.CommandTimeout(),
		UseVenv:    o.cfg.UseVenv,
		IgnoreDirs: config.ControlDirs(),
	}, caps)

	return o.loop.Run(ctx, &toolloop.Config{
		ToolProvider:   provider,
		Specialization: "You are an agent specialized in " + role + ".",
		Objective:      objective,
		MaxSteps:       o.cfg.MaxSteps,
		DebugLogging:   o.debug,
	})
}

func (o *Orchestrator) setPhase(phase string) {
	o.currentPhase = phase
}

// poolContext renders the aggregate pool snapshot for prompts, bounded per
// section by the configured token budget.
func (o *Orchestrator) poolContext() string {
	poolCtx := o.pool.GetAllContext()
	return poolCtx.FormatForPrompt(o.cfg.ContextTokenBudget)
}

func (o *Orchestrator) log(phase, message string) {
	if err := o.pool.AddLog(poolAgentID, phase, message); err != nil {
		o.logger.Warn("Failed to record log entry: %v", err)
	}
}

func (o *Orchestrator) logError(phase, message string) {
	if err := o.pool.AddErrorLog(poolAgentID, phase, message); err != nil {
		o.logger.Warn("Failed to record log entry: %v", err)
	}
}

func (o *Orchestrator) beginArchiveRun() string {
	if o.archive == nil {
		return ""
	}
	runID, err := o.archive.BeginRun(o.task, o.repoPath, o.cfg.Model, o.cfg.AgentCount, o.cfg.MaxIterations)
	if err != nil {
		o.logger.Warn("Run archive unavailable: %v", err)
		return ""
	}
	return runID
}

func (o *Orchestrator) recordIteration(runID string, rec persistence.IterationRecord) {
	if o.archive == nil || runID == "" {
		return
	}
	if err := o.archive.RecordIteration(runID, rec); err != nil {
		o.logger.Warn("Failed to archive iteration %d: %v", rec.Number, err)
	}
}

func (o *Orchestrator) finishArchiveRun(runID string, success bool, iterations int, reportPath string) {
	if o.archive == nil || runID == "" {
		return
	}
	if err := o.archive.FinishRun(runID, success, iterations, reportPath); err != nil {
		o.logger.Warn("Failed to archive run completion: %v", err)
	}
}

// preview shortens text for pool log entries.
func preview(text string, n int) string {
	if len(text) > n {
		text = text[:n]
	}
	return text + "..."
}
