package persistence

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunRecord is one invocation of the research loop.
//
//nolint:govet // fieldalignment: struct fields ordered for clarity over memory alignment
type RunRecord struct {
	ID            string
	Task          string
	RepoPath      string
	Model         string
	AgentCount    int
	MaxIterations int
	StartedAt     string
	FinishedAt    string
	Success       bool
	Iterations    int
	ReportPath    string
}

// IterationRecord summarizes one orchestrator iteration.
//
//nolint:govet // fieldalignment: struct fields ordered for clarity over memory alignment
type IterationRecord struct {
	Number             int
	Snapshot           string
	ResultsTotal       int
	ResultsAccepted    int
	WinnerAgent        string
	WinnerHypothesisID string
	WinnerHypothesis   string
	WinnerConfidence   float64
	Applied            bool
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// BeginRun inserts a new run row and returns its generated id.
func (a *Archive) BeginRun(task, repoPath, model string, agentCount, maxIterations int) (string, error) {
	id := uuid.New().String()
	_, err := a.db.Exec(`
		INSERT INTO runs (id, task, repo_path, model, agent_count, max_iterations, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, task, repoPath, model, agentCount, maxIterations, nowStamp())
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	a.logger.Info("🗃️  Run %s recorded", id)
	return id, nil
}

// FinishRun closes out a run row with its outcome.
func (a *Archive) FinishRun(runID string, success bool, iterations int, reportPath string) error {
	_, err := a.db.Exec(`
		UPDATE runs SET finished_at = ?, success = ?, iterations = ?, report_path = ?
		WHERE id = ?`,
		nowStamp(), boolToInt(success), iterations, reportPath, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// RecordIteration appends one iteration summary to a run.
func (a *Archive) RecordIteration(runID string, rec IterationRecord) error {
	_, err := a.db.Exec(`
		INSERT INTO iterations (run_id, number, snapshot, results_total, results_accepted,
			winner_agent, winner_hypothesis_id, winner_hypothesis, winner_confidence,
			applied, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Number, rec.Snapshot, rec.ResultsTotal, rec.ResultsAccepted,
		rec.WinnerAgent, rec.WinnerHypothesisID, rec.WinnerHypothesis, rec.WinnerConfidence,
		boolToInt(rec.Applied), nowStamp())
	if err != nil {
		return fmt.Errorf("failed to insert iteration: %w", err)
	}
	return nil
}

// GetRun returns one run row by id.
func (a *Archive) GetRun(runID string) (*RunRecord, error) {
	row := a.db.QueryRow(`
		SELECT id, task, repo_path, model, agent_count, max_iterations,
			started_at, COALESCE(finished_at, ''), success, iterations,
			COALESCE(report_path, '')
		FROM runs WHERE id = ?`, runID)

	var rec RunRecord
	var success int
	err := row.Scan(&rec.ID, &rec.Task, &rec.RepoPath, &rec.Model, &rec.AgentCount,
		&rec.MaxIterations, &rec.StartedAt, &rec.FinishedAt, &success,
		&rec.Iterations, &rec.ReportPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	rec.Success = success != 0
	return &rec, nil
}

// ListRuns returns the most recent runs, newest first.
func (a *Archive) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := a.db.Query(`
		SELECT id, task, repo_path, model, agent_count, max_iterations,
			started_at, COALESCE(finished_at, ''), success, iterations,
			COALESCE(report_path, '')
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		var rec RunRecord
		var success int
		if err := rows.Scan(&rec.ID, &rec.Task, &rec.RepoPath, &rec.Model, &rec.AgentCount,
			&rec.MaxIterations, &rec.StartedAt, &rec.FinishedAt, &success,
			&rec.Iterations, &rec.ReportPath); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Success = success != 0
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return records, nil
}

// GetIterations returns a run's iteration summaries in order.
func (a *Archive) GetIterations(runID string) ([]IterationRecord, error) {
	rows, err := a.db.Query(`
		SELECT number, COALESCE(snapshot, ''), results_total, results_accepted,
			COALESCE(winner_agent, ''), COALESCE(winner_hypothesis_id, ''),
			COALESCE(winner_hypothesis, ''), COALESCE(winner_confidence, 0),
			applied
		FROM iterations WHERE run_id = ? ORDER BY number`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer rows.Close()

	var records []IterationRecord
	for rows.Next() {
		var rec IterationRecord
		var applied int
		if err := rows.Scan(&rec.Number, &rec.Snapshot, &rec.ResultsTotal,
			&rec.ResultsAccepted, &rec.WinnerAgent, &rec.WinnerHypothesisID,
			&rec.WinnerHypothesis, &rec.WinnerConfidence, &applied); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		rec.Applied = applied != 0
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate iterations: %w", err)
	}
	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
