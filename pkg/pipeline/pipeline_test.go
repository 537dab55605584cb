package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"iterdesign/pkg/agent"
	"iterdesign/pkg/agent/llm"
	"iterdesign/pkg/config"
	"iterdesign/pkg/logx"
	"iterdesign/pkg/pool"
	"iterdesign/pkg/workspace"
)

const testTask = "Reduce startup latency of the target service"

func newTestEnv(t *testing.T) (*pool.Store, *workspace.Manager, *config.Config) {
	t.Helper()

	store, err := pool.NewStore(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "main.py"), []byte("print('hi')\n"), 0o644))
	ws := workspace.NewManager(repo, filepath.Join(t.TempDir(), "agent_workspaces"), nil, logx.NewLogger("test"))

	cfg := config.DefaultConfig()
	cfg.MaxSteps = 4
	cfg.CommandTimeoutSecs = 5
	return store, ws, cfg
}

func newTestPipeline(t *testing.T, client llm.LLMClient) (*Pipeline, *pool.Store, *workspace.Manager) {
	t.Helper()
	store, ws, cfg := newTestEnv(t)
	p, err := New(Options{
		AgentID:    "0",
		Task:       testTask,
		Pool:       store,
		Workspaces: ws,
		Config:     cfg,
		Client:     client,
		Logger:     logx.NewLogger("test"),
	})
	require.NoError(t, err)
	return p, store, ws
}

func requireArenaGone(t *testing.T, ws *workspace.Manager, agentID string) {
	t.Helper()
	_, err := os.Stat(ws.PathFor(agentID))
	require.True(t, os.IsNotExist(err), "arena must be destroyed on every exit path")
}

func TestRunHappyPathProducesResult(t *testing.T) {
	client := agent.NewMockTextClient(
		"Final Answer: Caching the tokenizer will cut startup latency by at least 30%.",
		"Final Answer: 1. Add a cache module. 2. Wire it into startup. 3. Benchmark before and after.",
		"Final Answer: Implemented the cache and verified the benchmark runs.",
		"Final Answer: Ran benchmark.py; startup fell from 2.1s to 1.4s.",
		"Final Answer: 4 tests passed, 0 failed.",
		`Final Answer: {"accepted": true, "confidence": 0.85, "evidence": "startup 2.1s -> 1.4s", "findings": "cache is effective", "recommendations": "extend caching to config loading"}`,
	)
	p, store, ws := newTestPipeline(t, client)

	result := p.Run(context.Background())
	require.NotNil(t, result)
	require.Equal(t, "0", result.AgentID)
	require.Contains(t, result.Hypothesis, "tokenizer")
	require.Contains(t, result.Plan, "cache module")
	require.True(t, result.Evaluation.Accepted)
	require.InDelta(t, 0.85, result.Evaluation.Confidence, 1e-9)
	require.NotEmpty(t, result.HypothesisID)

	completed := store.GetCompletedHypotheses()
	require.Len(t, completed, 1)
	require.Equal(t, result.HypothesisID, completed[0].ID)
	require.Contains(t, completed[0].Plan, "cache module")
	require.NotNil(t, completed[0].Evaluation)
	require.True(t, completed[0].Evaluation.Accepted)
	require.NotEmpty(t, completed[0].CompletedAt)

	breakthroughs := store.GetBreakthroughs()
	require.Len(t, breakthroughs, 1)
	require.Contains(t, breakthroughs[0].Description, "Hypothesis accepted:")
	require.Equal(t, result.HypothesisID, breakthroughs[0].HypothesisID)

	require.Len(t, store.GetSuccessfulResults(), 1)
	requireArenaGone(t, ws, "0")
}

func TestRunRejectedVerdictStillReturnsResult(t *testing.T) {
	client := agent.NewMockTextClient(
		"Final Answer: Switching the JSON parser will halve request time.",
		"Final Answer: 1. Swap the parser. 2. Benchmark.",
		"Final Answer: Swapped the parser and reran the benchmark.",
		"Final Answer: Benchmark showed no measurable change.",
		"Final Answer: All tests passed.",
		`Final Answer: {"accepted": false, "confidence": 0.7, "evidence": "no timing delta", "findings": "parser is not the bottleneck", "recommendations": "profile the serializer instead"}`,
	)
	p, store, ws := newTestPipeline(t, client)

	result := p.Run(context.Background())
	require.NotNil(t, result, "a rejection is still a completed run")
	require.False(t, result.Evaluation.Accepted)

	require.Empty(t, store.GetBreakthroughs())
	pitfalls := store.GetPitfalls()
	require.Len(t, pitfalls, 1)
	require.Contains(t, pitfalls[0].Description, "Hypothesis rejected:")
	require.Empty(t, store.GetSuccessfulResults())
	requireArenaGone(t, ws, "0")
}

func TestRunHypothesisSurrenderAbortsRun(t *testing.T) {
	client := agent.NewMockTextClient("Final Answer: False")
	p, store, ws := newTestPipeline(t, client)

	result := p.Run(context.Background())
	require.Nil(t, result)
	require.Equal(t, 1, client.CallCount(), "later phases must not run")

	require.Empty(t, store.GetAllContext().Hypotheses)

	var sawFailure bool
	for _, entry := range store.GetAllContext().Logs {
		if entry.Phase == PhaseHypothesis && entry.Level == "error" {
			sawFailure = true
		}
	}
	require.True(t, sawFailure, "hypothesis failure must be logged at error level")
	requireArenaGone(t, ws, "0")
}

func TestRunCodingFailureRecordsPitfallAndAborts(t *testing.T) {
	client := agent.NewMockTextClient(
		"Final Answer: Adding an index will speed up lookups.",
		"Final Answer: 1. Add the index. 2. Measure.",
		"Final Answer: False",
	)
	p, store, ws := newTestPipeline(t, client)

	result := p.Run(context.Background())
	require.Nil(t, result)
	require.Equal(t, 3, client.CallCount(), "execution and later phases must not run")

	pitfalls := store.GetPitfalls()
	require.Len(t, pitfalls, 1)
	require.Equal(t, "Coding phase failed", pitfalls[0].Description)
	require.Equal(t, "False", pitfalls[0].Error)
	require.NotEmpty(t, pitfalls[0].HypothesisID)

	// The hypothesis stays in progress; evaluation never ran.
	hyps := store.GetAllContext().Hypotheses
	require.Len(t, hyps, 1)
	require.Equal(t, pool.StatusInProgress, hyps[0].Status)
	require.Empty(t, store.GetAllContext().Results)
	requireArenaGone(t, ws, "0")
}

func TestRunTransportFailureRecordsCrash(t *testing.T) {
	client := agent.NewMockLLMClient(nil, []error{errors.New("connection refused")})
	p, store, ws := newTestPipeline(t, client)

	result := p.Run(context.Background())
	require.Nil(t, result)

	pitfalls := store.GetPitfalls()
	require.Len(t, pitfalls, 1)
	require.True(t, strings.HasPrefix(pitfalls[0].Description, "Pipeline crashed:"))
	require.Contains(t, pitfalls[0].Error, "connection refused")

	var sawCrashLog bool
	for _, entry := range store.GetAllContext().Logs {
		if entry.Phase == PhasePipeline && entry.Level == "error" &&
			strings.HasPrefix(entry.Message, "Pipeline failed:") {
			sawCrashLog = true
		}
	}
	require.True(t, sawCrashLog)
	requireArenaGone(t, ws, "0")
}

func TestRunBudgetExhaustionInCodingIsSurrender(t *testing.T) {
	// Hypothesis and planning finish in one turn each; coding never produces
	// an action or a final answer and burns its whole budget on corrective
	// turns, which reads as a surrender, not a crash.
	replies := []string{
		"Final Answer: Precomputing the lookup table will remove the hot loop.",
		"Final Answer: 1. Precompute the table at import time. 2. Benchmark.",
	}
	for i := 0; i < 4; i++ {
		replies = append(replies, "I am thinking about what to do next.")
	}
	client := agent.NewMockTextClient(replies...)
	p, store, ws := newTestPipeline(t, client)

	result := p.Run(context.Background())
	require.Nil(t, result)

	pitfalls := store.GetPitfalls()
	require.Len(t, pitfalls, 1)
	require.Equal(t, "Coding phase failed", pitfalls[0].Description)
	requireArenaGone(t, ws, "0")
}

func TestRunPhaseSequenceAndPersonas(t *testing.T) {
	client := agent.NewMockTextClient(
		"Final Answer: Batching writes will reduce I/O stalls.",
		"Final Answer: 1. Buffer writes. 2. Flush on close. 3. Measure.",
		"Final Answer: Implemented buffered writes.",
		"Final Answer: Ran the demo script successfully.",
		"Final Answer: Test suite green.",
		`Final Answer: {"accepted": true, "confidence": 0.6, "evidence": "fewer syscalls", "findings": "batching works", "recommendations": "tune the buffer size"}`,
	)
	p, store, _ := newTestPipeline(t, client)

	require.NotNil(t, p.Run(context.Background()))

	requests := client.Requests()
	require.Len(t, requests, 6)

	personas := []string{
		"Scientific Researcher",
		"Software Architect",
		"Full Stack Engineer",
		"DevOps Engineer",
		"QA Engineer",
		"Data Analyst",
	}
	for i, persona := range personas {
		system := requests[i].Messages[0].Content
		require.Contains(t, system, persona, "request %d should carry its phase persona", i)
	}

	// Hypothesis, planning, and evaluation prompts state the goal verbatim.
	for _, i := range []int{0, 1, 5} {
		require.Contains(t, requests[i].Messages[0].Content, testTask)
	}

	// Read-only phases must not see mutating tools; the coding phase must.
	require.NotContains(t, requests[0].Messages[0].Content, "write_file")
	require.NotContains(t, requests[1].Messages[0].Content, "run_terminal")
	require.Contains(t, requests[2].Messages[0].Content, "write_file")
	require.Contains(t, requests[2].Messages[0].Content, "run_terminal")
	require.NotContains(t, requests[4].Messages[0].Content, "write_file")
	require.Contains(t, requests[4].Messages[0].Content, "run_terminal")

	// The ordered phase log in the pool tells the same story.
	var phases []string
	for _, entry := range store.GetAllContext().Logs {
		phases = append(phases, entry.Phase)
	}
	for _, phase := range []string{
		PhaseSetup, PhaseHypothesis, PhasePlanning, PhaseCoding,
		PhaseExecution, PhaseTesting, PhaseEvaluation, PhaseCleanup,
	} {
		require.Contains(t, phases, phase)
	}
}

func TestRunEvaluationSeesHypothesisAndPlan(t *testing.T) {
	client := agent.NewMockTextClient(
		"Final Answer: Lazy imports will cut cold start time.",
		"Final Answer: 1. Defer heavy imports. 2. Time the startup path.",
		"Final Answer: Deferred the imports.",
		"Final Answer: Startup timed at 0.9s, down from 1.6s.",
		"Final Answer: Tests green.",
		`Final Answer: {"accepted": true, "confidence": 0.9, "evidence": "0.9s vs 1.6s", "findings": "imports dominated cold start", "recommendations": "audit remaining imports"}`,
	)
	p, _, _ := newTestPipeline(t, client)

	require.NotNil(t, p.Run(context.Background()))

	evalSystem := client.Requests()[5].Messages[0].Content
	require.Contains(t, evalSystem, "Lazy imports will cut cold start time.")
	require.Contains(t, evalSystem, "Defer heavy imports")
	require.Contains(t, evalSystem, "ACCEPTED or REJECTED")
}

func TestNewValidatesOptions(t *testing.T) {
	store, ws, cfg := newTestEnv(t)
	base := Options{
		AgentID:    "0",
		Task:       testTask,
		Pool:       store,
		Workspaces: ws,
		Config:     cfg,
		Client:     agent.NewMockTextClient(),
	}

	broken := []func(*Options){
		func(o *Options) { o.AgentID = "" },
		func(o *Options) { o.Task = "  " },
		func(o *Options) { o.Pool = nil },
		func(o *Options) { o.Workspaces = nil },
		func(o *Options) { o.Config = nil },
	}
	for _, mutate := range broken {
		opts := base
		mutate(&opts)
		_, err := New(opts)
		require.Error(t, err)
	}

	_, err := New(base)
	require.NoError(t, err)
}
