package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestBeginAndFinishRun(t *testing.T) {
	a := newTestArchive(t)

	id, err := a.BeginRun("speed up the parser", "/work/repo", "claude-sonnet-4-20250514", 3, 5)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := a.GetRun(id)
	require.NoError(t, err)
	require.Equal(t, "speed up the parser", rec.Task)
	require.Equal(t, 3, rec.AgentCount)
	require.Equal(t, 5, rec.MaxIterations)
	require.False(t, rec.Success)
	require.Empty(t, rec.FinishedAt)

	require.NoError(t, a.FinishRun(id, true, 2, "/work/data/final_report.md"))

	rec, err = a.GetRun(id)
	require.NoError(t, err)
	require.True(t, rec.Success)
	require.Equal(t, 2, rec.Iterations)
	require.Equal(t, "/work/data/final_report.md", rec.ReportPath)
	require.NotEmpty(t, rec.FinishedAt)
}

func TestRecordAndGetIterations(t *testing.T) {
	a := newTestArchive(t)

	id, err := a.BeginRun("reduce memory usage", "/work/repo", "claude-sonnet-4-20250514", 2, 3)
	require.NoError(t, err)

	require.NoError(t, a.RecordIteration(id, IterationRecord{
		Number:       1,
		Snapshot:     "snapshot_20250101_120000",
		ResultsTotal: 2,
	}))
	require.NoError(t, a.RecordIteration(id, IterationRecord{
		Number:             2,
		Snapshot:           "snapshot_20250101_130000",
		ResultsTotal:       2,
		ResultsAccepted:    1,
		WinnerAgent:        "1",
		WinnerHypothesisID: "hyp_20250101130500_1",
		WinnerHypothesis:   "Pooling buffers will cut allocations",
		WinnerConfidence:   0.8,
		Applied:            true,
	}))

	iterations, err := a.GetIterations(id)
	require.NoError(t, err)
	require.Len(t, iterations, 2)

	require.Equal(t, 1, iterations[0].Number)
	require.False(t, iterations[0].Applied)
	require.Empty(t, iterations[0].WinnerAgent)

	require.Equal(t, 2, iterations[1].Number)
	require.True(t, iterations[1].Applied)
	require.Equal(t, "1", iterations[1].WinnerAgent)
	require.InDelta(t, 0.8, iterations[1].WinnerConfidence, 1e-9)
}

func TestListRunsNewestFirst(t *testing.T) {
	a := newTestArchive(t)

	first, err := a.BeginRun("task one", "/r1", "m", 1, 1)
	require.NoError(t, err)
	second, err := a.BeginRun("task two", "/r2", "m", 1, 1)
	require.NoError(t, err)

	runs, err := a.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	ids := []string{runs[0].ID, runs[1].ID}
	require.Contains(t, ids, first)
	require.Contains(t, ids, second)
}

func TestOpenIsIdempotentOnExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	a, err := Open(path)
	require.NoError(t, err)
	id, err := a.BeginRun("persisted task", "/repo", "m", 1, 1)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	a, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	rec, err := a.GetRun(id)
	require.NoError(t, err)
	require.Equal(t, "persisted task", rec.Task)
}

func TestGetRunMissingFails(t *testing.T) {
	a := newTestArchive(t)
	_, err := a.GetRun("no-such-run")
	require.Error(t, err)
}
