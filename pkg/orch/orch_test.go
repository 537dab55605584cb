package orch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"iterdesign/pkg/agent"
	"iterdesign/pkg/agent/llm"
	"iterdesign/pkg/checkpoint"
	"iterdesign/pkg/config"
	"iterdesign/pkg/persistence"
	"iterdesign/pkg/pool"
)

const testTask = "Speed up the request router without changing its behavior"

// scriptedPersonas answers each request according to the persona named in its
// system prompt, which keeps fanned-out pipelines deterministic regardless of
// scheduling. Replies per persona play in order; the last one repeats once
// the script runs out.
type scriptedPersonas struct {
	mu     sync.Mutex
	script map[string][]string
	calls  map[string]int
}

func newScriptedPersonas(script map[string][]string) *scriptedPersonas {
	return &scriptedPersonas{script: script, calls: make(map[string]int)}
}

func (s *scriptedPersonas) client() *agent.MockLLMClient {
	client := agent.NewMockLLMClient(nil, nil)
	client.CompleteFunc = func(_ context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
		if len(in.Messages) == 0 {
			return llm.CompletionResponse{}, fmt.Errorf("request carried no messages")
		}
		return s.reply(in.Messages[0].Content)
	}
	return client
}

func (s *scriptedPersonas) reply(system string) (llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Persona markers are mutually exclusive, so map order does not matter.
	for persona, replies := range s.script {
		if !strings.Contains(system, "specialized in "+persona+".") {
			continue
		}
		n := s.calls[persona]
		s.calls[persona]++
		if n >= len(replies) {
			n = len(replies) - 1
		}
		return llm.CompletionResponse{Content: replies[n], StopReason: "end_turn"}, nil
	}
	return llm.CompletionResponse{}, fmt.Errorf("no scripted reply for persona in this request")
}

func (s *scriptedPersonas) callsFor(persona string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[persona]
}

// happyScript drives one agent through a full accepted-and-merged iteration,
// with the auditor conceding on its second check.
func happyScript() map[string][]string {
	return map[string][]string{
		"Project Auditor":       {"Final Answer: false", "Final Answer: true"},
		"Scientific Researcher": {"Final Answer: Caching parsed routes will cut lookup latency."},
		"Software Architect":    {"Final Answer: 1. Add a route cache. 2. Measure lookups."},
		"Full Stack Engineer":   {"Final Answer: Implemented the route cache."},
		"DevOps Engineer":       {"Final Answer: Demo run completed cleanly."},
		"QA Engineer":           {"Final Answer: All checks pass."},
		"Data Analyst":          {`Final Answer: {"accepted": true, "confidence": 0.9, "evidence": "Lookups are faster", "findings": "Cache hit rate is high", "recommendations": "Merge it"}`},
		"Integration Architect": {"Final Answer: 1. Recreate the route cache in main.py. 2. Re-run the demo."},
		"Release Engineer":      {"Final Answer: Merged the route cache and re-ran the demo."},
		"Research Director":     {"Final Answer: The campaign validated route caching."},
	}
}

type testEnv struct {
	repo    string
	dataDir string
	arenas  string
	store   *pool.Store
	cfg     *config.Config
}

func newTestEnv(t *testing.T, agents, iterations int) *testEnv {
	t.Helper()

	repo := filepath.Join(t.TempDir(), "repo")
	require.NoError(t, os.MkdirAll(repo, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "main.py"), []byte("print('original')\n"), 0o644))

	dataDir := t.TempDir()
	store, err := pool.NewStore(dataDir)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.AgentCount = agents
	cfg.MaxIterations = iterations
	cfg.MaxSteps = 4
	cfg.CommandTimeoutSecs = 5
	cfg.ContextTokenBudget = 500

	return &testEnv{
		repo:    repo,
		dataDir: dataDir,
		arenas:  t.TempDir(),
		store:   store,
		cfg:     cfg,
	}
}

func (e *testEnv) orchestrator(t *testing.T, client llm.LLMClient) *Orchestrator {
	t.Helper()
	o, err := New(Options{
		Task:      testTask,
		RepoPath:  e.repo,
		Config:    e.cfg,
		Pool:      e.store,
		Client:    client,
		ArenasDir: e.arenas,
		DataDir:   e.dataDir,
	})
	require.NoError(t, err)
	return o
}

// reportFile returns the contents of the single final report in the data dir.
func (e *testEnv) reportFile(t *testing.T) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(e.dataDir, "final_report_*.md"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestRunStopsWhenGoalAchieved(t *testing.T) {
	env := newTestEnv(t, 1, 3)
	personas := newScriptedPersonas(happyScript())
	o := env.orchestrator(t, personas.client())

	success := o.Run(context.Background())

	require.True(t, success)
	require.Equal(t, 2, personas.callsFor("Project Auditor"))
	require.Equal(t, 1, personas.callsFor("Release Engineer"))

	breakthroughs := env.store.GetBreakthroughs()
	require.Len(t, breakthroughs, 2)
	var accepted, merged bool
	for _, b := range breakthroughs {
		switch {
		case strings.HasPrefix(b.Description, "Hypothesis accepted:"):
			accepted = true
		case strings.HasPrefix(b.Description, "Successfully merged hypothesis from agent 0:"):
			merged = true
			require.NotEmpty(t, b.HypothesisID)
		}
	}
	require.True(t, accepted)
	require.True(t, merged)

	completed := env.store.GetCompletedHypotheses()
	require.Len(t, completed, 1)
	require.NotNil(t, completed[0].Evaluation)
	require.True(t, completed[0].Evaluation.Accepted)

	snapshots, err := checkpoint.NewManager(env.repo, nil).List()
	require.NoError(t, err)
	require.Len(t, snapshots, 1, "only the first iteration fans out; the second stops at the completion check")

	report := env.reportFile(t)
	require.Contains(t, report, testTask)
	require.Contains(t, report, "goal achieved")
	require.Contains(t, report, "**Iterations**: 1 of 3")
	require.Contains(t, report, "The campaign validated route caching.")

	entries, err := os.ReadDir(env.arenas)
	require.NoError(t, err)
	require.Empty(t, entries, "agent arenas must be destroyed after the run")
}

func TestRunExhaustsBudgetWithoutWinner(t *testing.T) {
	env := newTestEnv(t, 2, 2)
	personas := newScriptedPersonas(map[string][]string{
		"Project Auditor":       {"Final Answer: false"},
		"Scientific Researcher": {"Final Answer: Rewriting the parser might help."},
		"Software Architect":    {"Final Answer: 1. Rewrite the parser."},
		"Full Stack Engineer":   {"Final Answer: False"},
		"Research Director":     {"Final Answer: Every attempt stalled in implementation."},
	})
	o := env.orchestrator(t, personas.client())

	success := o.Run(context.Background())

	require.False(t, success)
	require.Equal(t, 2, personas.callsFor("Project Auditor"))
	require.Zero(t, personas.callsFor("Integration Architect"))
	require.Zero(t, personas.callsFor("Release Engineer"))

	pitfalls := env.store.GetPitfalls()
	require.Len(t, pitfalls, 4, "two agents over two iterations, each failing in coding")
	for _, p := range pitfalls {
		require.Equal(t, "Coding phase failed", p.Description)
	}
	require.Empty(t, env.store.GetBreakthroughs())

	snapshots, err := checkpoint.NewManager(env.repo, nil).List()
	require.NoError(t, err)
	require.Len(t, snapshots, 2)

	report := env.reportFile(t)
	require.Contains(t, report, "iteration budget exhausted")
	require.Contains(t, report, "**Iterations**: 2 of 2")
	require.Contains(t, report, "Every attempt stalled in implementation.")
}

func TestRunRevertsFailedMergeWhenConfigured(t *testing.T) {
	env := newTestEnv(t, 1, 1)
	env.cfg.RevertOnFailure = true

	script := happyScript()
	script["Project Auditor"] = []string{"Final Answer: false"}
	script["Release Engineer"] = []string{
		"Thought: Start with the module rewrite.\nAction: write_file\nAction Input: main.py|print('half merged')",
		"Final Answer: False",
	}
	script["Research Director"] = []string{"Final Answer: The merge attempt failed and was rolled back."}
	personas := newScriptedPersonas(script)
	o := env.orchestrator(t, personas.client())

	success := o.Run(context.Background())

	require.False(t, success)
	require.Equal(t, 2, personas.callsFor("Release Engineer"))

	// The apply loop mutated the live tree before giving up; the rollback
	// restored the pre-iteration snapshot.
	data, err := os.ReadFile(filepath.Join(env.repo, "main.py"))
	require.NoError(t, err)
	require.Equal(t, "print('original')\n", string(data))

	// The merge breakthrough is stamped even though the apply loop gave up.
	var merged bool
	for _, b := range env.store.GetBreakthroughs() {
		if strings.HasPrefix(b.Description, "Successfully merged hypothesis from agent 0:") {
			merged = true
		}
	}
	require.True(t, merged)
}

func TestRunArchivesIterationHistory(t *testing.T) {
	env := newTestEnv(t, 1, 1)
	archive, err := persistence.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })

	script := happyScript()
	script["Project Auditor"] = []string{"Final Answer: false"}
	script["Data Analyst"] = []string{`Final Answer: {"accepted": false, "confidence": 0.4, "evidence": "No measurable gain", "findings": "Cache misses dominate", "recommendations": "Try a different cache key"}`}
	script["Research Director"] = []string{"Final Answer: The only hypothesis was rejected."}
	personas := newScriptedPersonas(script)

	o, err := New(Options{
		Task:      testTask,
		RepoPath:  env.repo,
		Config:    env.cfg,
		Pool:      env.store,
		Archive:   archive,
		Client:    personas.client(),
		ArenasDir: env.arenas,
		DataDir:   env.dataDir,
	})
	require.NoError(t, err)

	require.False(t, o.Run(context.Background()))
	require.Zero(t, personas.callsFor("Integration Architect"), "a rejected result must not be merged")

	runs, err := archive.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	run := runs[0]
	require.Equal(t, testTask, run.Task)
	require.False(t, run.Success)
	require.Equal(t, 1, run.Iterations)
	require.NotEmpty(t, run.FinishedAt)
	require.Contains(t, run.ReportPath, "final_report_")

	iterations, err := archive.GetIterations(run.ID)
	require.NoError(t, err)
	require.Len(t, iterations, 1)
	rec := iterations[0]
	require.Equal(t, 1, rec.Number)
	require.True(t, strings.HasPrefix(rec.Snapshot, "snapshot_"))
	require.Equal(t, 1, rec.ResultsTotal)
	require.Zero(t, rec.ResultsAccepted)
	require.Empty(t, rec.WinnerAgent)
	require.False(t, rec.Applied)
}

func TestRunSurvivesTransportFailure(t *testing.T) {
	env := newTestEnv(t, 1, 1)
	client := agent.NewMockLLMClient(nil, []error{errors.New("connection refused")})
	o := env.orchestrator(t, client)

	success := o.Run(context.Background())

	require.False(t, success)

	pitfalls := env.store.GetPitfalls()
	require.Len(t, pitfalls, 1)
	require.True(t, strings.HasPrefix(pitfalls[0].Description, "Pipeline crashed:"))
	require.Empty(t, env.store.GetBreakthroughs())

	// The report is still written, with a stub body in place of the narrative.
	report := env.reportFile(t)
	require.Contains(t, report, "iteration budget exhausted")
	require.Contains(t, report, "Narrative generation failed")

	var checkFailures int
	for _, entry := range env.store.GetAllContext().Logs {
		if entry.Level == "error" && entry.Phase == phaseCompletionCheck {
			checkFailures++
		}
	}
	require.Equal(t, 1, checkFailures, "a failed completion check is recorded and treated as not done")
}

func TestNewValidatesOptions(t *testing.T) {
	env := newTestEnv(t, 1, 1)
	client := agent.NewMockTextClient()

	base := func() Options {
		return Options{
			Task:      testTask,
			RepoPath:  env.repo,
			Config:    env.cfg,
			Pool:      env.store,
			Client:    client,
			ArenasDir: env.arenas,
			DataDir:   env.dataDir,
		}
	}

	_, err := New(base())
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*Options)
	}{
		{"blank task", func(o *Options) { o.Task = "   " }},
		{"missing repo path", func(o *Options) { o.RepoPath = "" }},
		{"nil config", func(o *Options) { o.Config = nil }},
		{"nil pool", func(o *Options) { o.Pool = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := base()
			tc.mutate(&opts)
			_, err := New(opts)
			require.Error(t, err)
		})
	}
}
