// Package pipeline runs a single agent's research attempt from hypothesis to
// verdict. Each run gets an isolated workspace copy of the main repository,
// drives a chain of specialized planner phases through the tool loop, and
// records everything it learns in the shared experience pool. The orchestrator
// fans out several of these pipelines per iteration and merges the winner.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"iterdesign/pkg/agent"
	"iterdesign/pkg/agent/llm"
	"iterdesign/pkg/agent/toolloop"
	"iterdesign/pkg/config"
	execpkg "iterdesign/pkg/exec"
	"iterdesign/pkg/logx"
	"iterdesign/pkg/pool"
	"iterdesign/pkg/tools"
	"iterdesign/pkg/workspace"
)

// Phase names recorded in pool log entries and metrics labels.
const (
	PhaseSetup      = "setup"
	PhaseHypothesis = "hypothesis"
	PhasePlanning   = "planning"
	PhaseCoding     = "coding"
	PhaseExecution  = "execution"
	PhaseTesting    = "testing"
	PhaseEvaluation = "evaluation"
	PhaseCleanup    = "cleanup"
	PhasePipeline   = "pipeline"
)

// Result is what a completed pipeline hands back to the orchestrator.
type Result struct {
	AgentID      string       `json:"agent_id"`
	HypothesisID string       `json:"hypothesis_id"`
	Hypothesis   string       `json:"hypothesis"`
	Plan         string       `json:"plan"`
	Evaluation   pool.Verdict `json:"evaluation"`
}

// Options configures a pipeline run.
//
//nolint:govet // fieldalignment: struct fields ordered for clarity over memory alignment
type Options struct {
	// AgentID distinguishes this pipeline in the pool and in workspace paths.
	AgentID string

	// Task is the research goal every phase works toward.
	Task string

	// Pool is the shared experience pool.
	Pool *pool.Store

	// Workspaces creates and destroys this agent's arena.
	Workspaces *workspace.Manager

	// Config supplies the model name, step budgets, and timeouts.
	Config *config.Config

	// Client overrides the LLM client. When nil, one is built from
	// Config.Model with the full middleware chain attached.
	Client llm.LLMClient

	// Executor overrides command execution for the terminal tool.
	// Defaults to local execution.
	Executor execpkg.Executor

	// Logger defaults to a logger named after the agent.
	Logger *logx.Logger

	// Debug enables per-turn transcript logging in the tool loop.
	Debug bool
}

// Pipeline is one agent's isolated research run.
type Pipeline struct {
	agentID    string
	task       string
	pool       *pool.Store
	workspaces *workspace.Manager
	executor   execpkg.Executor
	cfg        *config.Config
	logger     *logx.Logger
	loop       *toolloop.ToolLoop
	debug      bool

	arena          string
	currentPhase   string
	hypothesisID   string
	hypothesisText string
	plan           string
}

// New validates the options and assembles a pipeline. When no client is
// injected, the pipeline builds its own from the model factory with itself as
// the phase provider, so per-phase token usage lands in the right buckets.
func New(opts Options) (*Pipeline, error) {
	if opts.AgentID == "" {
		return nil, fmt.Errorf("AgentID is required")
	}
	if strings.TrimSpace(opts.Task) == "" {
		return nil, fmt.Errorf("Task is required")
	}
	if opts.Pool == nil {
		return nil, fmt.Errorf("Pool is required")
	}
	if opts.Workspaces == nil {
		return nil, fmt.Errorf("Workspaces is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("Config is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logx.NewLogger("agent_" + opts.AgentID)
	}
	executor := opts.Executor
	if executor == nil {
		executor = execpkg.NewLocalExec()
	}

	p := &Pipeline{
		agentID:    opts.AgentID,
		task:       opts.Task,
		pool:       opts.Pool,
		workspaces: opts.Workspaces,
		executor:   executor,
		cfg:        opts.Config,
		logger:     logger,
		debug:      opts.Debug,
	}

	client := opts.Client
	if client == nil {
		factory := agent.NewLLMClientFactory(logger)
		built, err := factory.CreateClient(opts.Config.Model, p)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		client = built
	}
	p.loop = toolloop.New(client, logger)

	return p, nil
}

// GetID identifies this pipeline in metrics and usage rollups.
func (p *Pipeline) GetID() string { return "agent_" + p.agentID }

// GetCurrentPhase reports the phase label attached to in-flight LLM calls.
func (p *Pipeline) GetCurrentPhase() string { return p.currentPhase }

// Run executes the full phase chain and returns the result, or nil when a
// fatal phase fails. Failures never propagate upward: every exit path has
// already recorded its story in the experience pool and destroyed the arena.
func (p *Pipeline) Run(ctx context.Context) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			p.crash(fmt.Errorf("panic: %v", r))
			result = nil
		}
	}()

	p.log(PhasePipeline, "Starting full pipeline")

	if err := p.setup(); err != nil {
		p.crash(err)
		return nil
	}

	ok, err := p.hypothesisPhase(ctx)
	if err != nil {
		p.crash(err)
		return nil
	}
	if !ok {
		p.cleanup()
		return nil
	}

	ok, err = p.planningPhase(ctx)
	if err != nil {
		p.crash(err)
		return nil
	}
	if !ok {
		p.cleanup()
		return nil
	}

	ok, err = p.codingPhase(ctx)
	if err != nil {
		p.crash(err)
		return nil
	}
	if !ok {
		p.cleanup()
		return nil
	}

	// Execution and testing are best effort: their findings feed the
	// evaluation through logs and the workspace, and a weak run there is
	// itself evidence for the analyst.
	if err := p.executionPhase(ctx); err != nil {
		p.crash(err)
		return nil
	}
	if err := p.testingPhase(ctx); err != nil {
		p.crash(err)
		return nil
	}

	verdict, err := p.evaluationPhase(ctx)
	if err != nil {
		p.crash(err)
		return nil
	}

	p.cleanup()
	p.log(PhasePipeline, "Pipeline completed")

	return &Result{
		AgentID:      p.agentID,
		HypothesisID: p.hypothesisID,
		Hypothesis:   p.hypothesisText,
		Plan:         p.plan,
		Evaluation:   verdict,
	}
}

func (p *Pipeline) setup() error {
	p.setPhase(PhaseSetup)
	p.log(PhaseSetup, "Creating isolated workspace")

	arena, err := p.workspaces.Create(p.agentID)
	if err != nil {
		return fmt.Errorf("workspace setup failed: %w", err)
	}
	p.arena = arena

	p.log(PhaseSetup, "Workspace created at "+arena)
	return nil
}

// cleanup destroys the arena. It runs on every exit path, successful or not.
func (p *Pipeline) cleanup() {
	p.setPhase(PhaseCleanup)
	p.log(PhaseCleanup, "Removing isolated workspace")
	if err := p.workspaces.Destroy(p.agentID); err != nil {
		p.logger.Warn("Failed to remove workspace: %v", err)
	}
}

// crash records an infrastructure failure as a pitfall and tears down the
// arena. Phase-level rejections do not come through here, only errors that
// would otherwise have escaped the run.
func (p *Pipeline) crash(err error) {
	msg := err.Error()
	p.logger.Error("💥 Pipeline failed: %v", err)
	p.logError(PhasePipeline, "Pipeline failed: "+msg)
	p.addPitfall("Pipeline crashed: "+msg, msg)
	p.cleanup()
}

// runLoop executes one phase conversation with a tool provider scoped to the
// arena and the given capabilities.
func (p *Pipeline) runLoop(ctx context.Context, phase, role, objective string, caps tools.Capabilities) (string, error) {
	p.setPhase(phase)

	provider := tools.NewProvider(tools.Context{
		Executor:   p.executor,
		WorkDir:    p.arena,
		Timeout:    p.cfg.CommandTimeout(),
		UseVenv:    p.cfg.UseVenv,
		IgnoreDirs: config.ControlDirs(),
	}, caps)

	return p.loop.Run(ctx, &toolloop.Config{
		ToolProvider:   provider,
		Specialization: "You are an agent specialized in " + role + ".",
		Objective:      objective,
		MaxSteps:       p.cfg.MaxSteps,
		DebugLogging:   p.debug,
	})
}

func (p *Pipeline) setPhase(phase string) {
	p.currentPhase = phase
}

// poolContext renders the shared experience pool for inclusion in a prompt,
// bounded per section by the configured token budget.
func (p *Pipeline) poolContext() string {
	poolCtx := p.pool.GetAllContext()
	return poolCtx.FormatForPrompt(p.cfg.ContextTokenBudget)
}

// log records an info entry in the pool. Pool logging is advisory; a failed
// write is reported locally and the run continues.
func (p *Pipeline) log(phase, message string) {
	if err := p.pool.AddLog(p.agentID, phase, message); err != nil {
		p.logger.Warn("Failed to record log entry: %v", err)
	}
}

func (p *Pipeline) logError(phase, message string) {
	if err := p.pool.AddErrorLog(p.agentID, phase, message); err != nil {
		p.logger.Warn("Failed to record log entry: %v", err)
	}
}

func (p *Pipeline) addPitfall(description, errText string) {
	if err := p.pool.AddPitfall(p.agentID, description, p.hypothesisID, errText); err != nil {
		p.logger.Warn("Failed to record pitfall: %v", err)
	}
}

func (p *Pipeline) addBreakthrough(description string) {
	if err := p.pool.AddBreakthrough(p.agentID, description, p.hypothesisID); err != nil {
		p.logger.Warn("Failed to record breakthrough: %v", err)
	}
}

// preview shortens text for pool log entries.
func preview(text string, n int) string {
	if len(text) > n {
		text = text[:n]
	}
	return text + "..."
}
