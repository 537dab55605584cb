package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dataDir := t.TempDir()
	store, err := NewStore(dataDir)
	require.NoError(t, err)
	return store, dataDir
}

func TestNewStoreCreatesEmptyContainers(t *testing.T) {
	_, dataDir := newTestStore(t)

	for _, name := range []string{"breakthroughs.json", "pitfalls.json", "log.json", "results.json"} {
		raw, err := os.ReadFile(filepath.Join(dataDir, name))
		require.NoError(t, err, name)
		assert.JSONEq(t, `{"entries": []}`, string(raw), name)
	}

	raw, err := os.ReadFile(filepath.Join(dataDir, "hypothesis.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"candidates": []}`, string(raw))
}

func TestConcurrentAddHypothesisKeepsAllEntries(t *testing.T) {
	store, _ := newTestStore(t)

	const agents = 20
	ids := make([]string, agents)
	var wg sync.WaitGroup
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id, err := store.AddHypothesis(fmt.Sprintf("agent_%d", n), fmt.Sprintf("hypothesis %d", n), StatusInProgress)
			assert.NoError(t, err)
			ids[n] = id
		}(i)
	}
	wg.Wait()

	hypotheses := store.GetAllContext().Hypotheses
	require.Len(t, hypotheses, agents)

	seen := make(map[string]struct{}, agents)
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, agents, "generated ids must be distinct")
}

func TestUpdateHypothesisMergesFields(t *testing.T) {
	store, _ := newTestStore(t)

	id, err := store.AddHypothesis("agent_1", "caching the parser output reduces latency", StatusInProgress)
	require.NoError(t, err)

	require.NoError(t, store.UpdateHypothesis(id, HypothesisUpdate{Plan: "1. add cache 2. measure"}))
	verdict := &Verdict{Accepted: true, Confidence: 0.8, Evidence: "bench", Findings: "faster", Recommendations: "ship"}
	require.NoError(t, store.UpdateHypothesis(id, HypothesisUpdate{
		Status:      StatusCompleted,
		Evaluation:  verdict,
		CompletedAt: "2026-08-25T12:00:00Z",
	}))

	all := store.GetAllContext().Hypotheses
	require.Len(t, all, 1)
	got := all[0]
	assert.Equal(t, "1. add cache 2. measure", got.Plan, "earlier merge survives later merge")
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Evaluation)
	assert.InDelta(t, 0.8, got.Evaluation.Confidence, 1e-9)
	assert.Equal(t, "2026-08-25T12:00:00Z", got.CompletedAt)
	assert.NotEmpty(t, got.UpdatedAt)
}

func TestUpdateHypothesisUnknownIDIsNoop(t *testing.T) {
	store, dataDir := newTestStore(t)

	_, err := store.AddHypothesis("agent_1", "first", StatusProposed)
	require.NoError(t, err)
	_, err = store.AddHypothesis("agent_2", "second", StatusProposed)
	require.NoError(t, err)

	before, err := os.ReadFile(filepath.Join(dataDir, "hypothesis.json"))
	require.NoError(t, err)

	require.NoError(t, store.UpdateHypothesis("hyp_00000000000000_ghost", HypothesisUpdate{Status: StatusCompleted}))

	after, err := os.ReadFile(filepath.Join(dataDir, "hypothesis.json"))
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.Len(t, store.GetAllContext().Hypotheses, 2)
}

func TestBreakthroughAndPitfallRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.AddBreakthrough("agent_1", "Hypothesis accepted: cache works", "hyp_x"))
	require.NoError(t, store.AddPitfall("agent_2", "Coding phase failed", "hyp_y", "False"))
	require.NoError(t, store.AddPitfall("orchestrator", "Pipeline crashed: boom", "", "boom"))

	breakthroughs := store.GetBreakthroughs()
	require.Len(t, breakthroughs, 1)
	assert.Equal(t, "hyp_x", breakthroughs[0].HypothesisID)
	assert.NotEmpty(t, breakthroughs[0].Timestamp)

	pitfalls := store.GetPitfalls()
	require.Len(t, pitfalls, 2)
	assert.Equal(t, "False", pitfalls[0].Error)
	assert.Empty(t, pitfalls[1].HypothesisID)
}

func TestGetSuccessfulResultsFiltersAccepted(t *testing.T) {
	store, _ := newTestStore(t)

	require.NoError(t, store.AddResult("agent_1", "hyp_a", Verdict{Accepted: true, Confidence: 0.9}, nil))
	require.NoError(t, store.AddResult("agent_2", "hyp_b", Verdict{Accepted: false, Confidence: 0.4}, nil))
	require.NoError(t, store.AddResult("agent_3", "hyp_c", Verdict{Accepted: true, Confidence: 0.6},
		map[string]any{"runtime_secs": 12.5}))

	accepted := store.GetSuccessfulResults()
	require.Len(t, accepted, 2)
	assert.Equal(t, "hyp_a", accepted[0].HypothesisID)
	assert.Equal(t, "hyp_c", accepted[1].HypothesisID)
	assert.NotNil(t, accepted[0].Metrics, "nil metrics are stored as an empty map")
}

func TestGetCompletedHypothesesFiltersByStatus(t *testing.T) {
	store, _ := newTestStore(t)

	id, err := store.AddHypothesis("agent_1", "done one", StatusInProgress)
	require.NoError(t, err)
	_, err = store.AddHypothesis("agent_2", "still going", StatusInProgress)
	require.NoError(t, err)
	require.NoError(t, store.UpdateHypothesis(id, HypothesisUpdate{Status: StatusCompleted}))

	completed := store.GetCompletedHypotheses()
	require.Len(t, completed, 1)
	assert.Equal(t, "done one", completed[0].Hypothesis)
}

func TestLogLevels(t *testing.T) {
	store, dataDir := newTestStore(t)

	require.NoError(t, store.AddLog("agent_1", "setup", "Creating isolated workspace"))
	require.NoError(t, store.AddErrorLog("agent_1", "coding", "Implementation failed"))

	raw, err := os.ReadFile(filepath.Join(dataDir, "log.json"))
	require.NoError(t, err)
	var decoded struct {
		Entries []LogEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded.Entries, 2)
	assert.Equal(t, "info", decoded.Entries[0].Level)
	assert.Equal(t, "error", decoded.Entries[1].Level)
	assert.Equal(t, "coding", decoded.Entries[1].Phase)
}

func TestReadersTolerateCorruptContainer(t *testing.T) {
	store, dataDir := newTestStore(t)

	require.NoError(t, store.AddPitfall("agent_1", "will be lost", "", ""))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "pitfalls.json"), []byte("{ not json"), 0o644))

	assert.Empty(t, store.GetPitfalls())
	assert.Empty(t, store.GetAllContext().Pitfalls)

	// Writing after corruption starts the container over rather than failing.
	require.NoError(t, store.AddPitfall("agent_2", "fresh start", "", ""))
	pitfalls := store.GetPitfalls()
	require.Len(t, pitfalls, 1)
	assert.Equal(t, "fresh start", pitfalls[0].Description)
}

func TestReadersTolerateMissingDirectory(t *testing.T) {
	store := &Store{dataDir: filepath.Join(t.TempDir(), "never-created")}

	ctx := store.GetAllContext()
	assert.Empty(t, ctx.Breakthroughs)
	assert.Empty(t, ctx.Hypotheses)
	assert.Empty(t, ctx.Results)
}

func TestFormatForPromptSectionsAndTruncation(t *testing.T) {
	store, _ := newTestStore(t)

	for i := 0; i < 50; i++ {
		require.NoError(t, store.AddLog("agent_1", "testing", strings.Repeat("all tests green ", 10)))
	}
	require.NoError(t, store.AddBreakthrough("agent_1", "cache accepted", "hyp_1"))

	allCtx := store.GetAllContext()
	text := allCtx.FormatForPrompt(100)

	for _, header := range []string{"### breakthroughs", "### hypotheses", "### pitfalls", "### logs", "### results"} {
		assert.Contains(t, text, header)
	}
	assert.Contains(t, text, "cache accepted")

	logsSection := text[strings.Index(text, "### logs"):strings.Index(text, "### results")]
	assert.Contains(t, logsSection, "...", "oversized section is truncated")
	assert.Less(t, len(logsSection), 2000)
}
