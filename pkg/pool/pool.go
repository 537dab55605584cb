package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Backing files, one per container. The hypotheses container keeps its
// historical singular file name.
const (
	breakthroughsFile = "breakthroughs.json"
	hypothesesFile    = "hypothesis.json"
	pitfallsFile      = "pitfalls.json"
	logsFile          = "log.json"
	resultsFile       = "results.json"
)

// sequence is the on-disk shape of the four append-only containers.
type sequence[T any] struct {
	Entries []T `json:"entries"`
}

// candidateSet is the on-disk shape of the hypotheses container. A distinct
// field name marks that these entries are updated in place, not append-only.
type candidateSet struct {
	Candidates []Hypothesis `json:"candidates"`
}

// Store is the durable experience pool. One lock serializes every mutation
// across all five containers; each mutation is a full read-modify-write of
// one container's file. Reader methods take no lock and return empty results
// on any read or decode failure.
type Store struct {
	dataDir string
	mu      sync.Mutex
}

// NewStore opens the pool at dataDir, creating the directory and any missing
// container files.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{dataDir: dataDir}
	for _, name := range []string{breakthroughsFile, pitfallsFile, logsFile, resultsFile} {
		if err := s.ensureFile(name, sequence[json.RawMessage]{Entries: []json.RawMessage{}}); err != nil {
			return nil, err
		}
	}
	if err := s.ensureFile(hypothesesFile, candidateSet{Candidates: []Hypothesis{}}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

func (s *Store) ensureFile(name string, initial any) error {
	if _, err := os.Stat(s.path(name)); err == nil {
		return nil
	}
	return s.writeJSON(name, initial)
}

func (s *Store) writeJSON(name string, v any) error {
	raw, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if err := os.WriteFile(s.path(name), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// readSequence loads an append-only container, degrading to empty on any
// failure so readers never raise.
func readSequence[T any](path string) []T {
	raw, err := os.ReadFile(path)
	if err != nil {
		return []T{}
	}
	var seq sequence[T]
	if err := json.Unmarshal(raw, &seq); err != nil {
		return []T{}
	}
	if seq.Entries == nil {
		return []T{}
	}
	return seq.Entries
}

func readCandidates(path string) []Hypothesis {
	raw, err := os.ReadFile(path)
	if err != nil {
		return []Hypothesis{}
	}
	var set candidateSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return []Hypothesis{}
	}
	if set.Candidates == nil {
		return []Hypothesis{}
	}
	return set.Candidates
}

func nowStamp() string {
	return time.Now().Format(time.RFC3339)
}

// AddBreakthrough appends an accepted-hypothesis record. Pass an empty
// hypothesisID when the breakthrough is not tied to one record (e.g. the
// orchestrator's apply step).
func (s *Store) AddBreakthrough(agentID, description, hypothesisID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := readSequence[Breakthrough](s.path(breakthroughsFile))
	entries = append(entries, Breakthrough{
		Timestamp:    nowStamp(),
		AgentID:      agentID,
		HypothesisID: hypothesisID,
		Description:  description,
	})
	return s.writeJSON(breakthroughsFile, sequence[Breakthrough]{Entries: entries})
}

// AddPitfall appends a failed-hypothesis record with optional error text.
func (s *Store) AddPitfall(agentID, description, hypothesisID, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := readSequence[Pitfall](s.path(pitfallsFile))
	entries = append(entries, Pitfall{
		Timestamp:    nowStamp(),
		AgentID:      agentID,
		HypothesisID: hypothesisID,
		Description:  description,
		Error:        errText,
	})
	return s.writeJSON(pitfallsFile, sequence[Pitfall]{Entries: entries})
}

// AddHypothesis appends a new hypothesis and returns its generated id. The
// id combines a second-resolution timestamp with the agent identifier, so
// callers must keep agent identifiers unique within an iteration.
func (s *Store) AddHypothesis(agentID, text, status string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := readCandidates(s.path(hypothesesFile))
	id := fmt.Sprintf("hyp_%s_%s", time.Now().Format("20060102150405"), agentID)
	set = append(set, Hypothesis{
		ID:         id,
		Timestamp:  nowStamp(),
		AgentID:    agentID,
		Hypothesis: text,
		Status:     status,
	})
	if err := s.writeJSON(hypothesesFile, candidateSet{Candidates: set}); err != nil {
		return "", err
	}
	return id, nil
}

// UpdateHypothesis merges non-zero update fields into the matching record
// and stamps its update time. An unknown id is a silent no-op.
func (s *Store) UpdateHypothesis(id string, update HypothesisUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := readCandidates(s.path(hypothesesFile))
	for i := range set {
		if set[i].ID != id {
			continue
		}
		if update.Status != "" {
			set[i].Status = update.Status
		}
		if update.Plan != "" {
			set[i].Plan = update.Plan
		}
		if update.Evaluation != nil {
			set[i].Evaluation = update.Evaluation
		}
		if update.CompletedAt != "" {
			set[i].CompletedAt = update.CompletedAt
		}
		set[i].UpdatedAt = nowStamp()
		return s.writeJSON(hypothesesFile, candidateSet{Candidates: set})
	}
	return nil
}

// AddResult appends the raw evaluation payload of one completed run.
func (s *Store) AddResult(agentID, hypothesisID string, verdict Verdict, metrics map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if metrics == nil {
		metrics = map[string]any{}
	}
	entries := readSequence[Result](s.path(resultsFile))
	entries = append(entries, Result{
		Timestamp:    nowStamp(),
		AgentID:      agentID,
		HypothesisID: hypothesisID,
		Result:       verdict,
		Metrics:      metrics,
	})
	return s.writeJSON(resultsFile, sequence[Result]{Entries: entries})
}

// AddLog appends an info-level phase event.
func (s *Store) AddLog(agentID, phase, message string) error {
	return s.addLog(agentID, phase, message, "info")
}

// AddErrorLog appends an error-level phase event.
func (s *Store) AddErrorLog(agentID, phase, message string) error {
	return s.addLog(agentID, phase, message, "error")
}

func (s *Store) addLog(agentID, phase, message, level string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := readSequence[LogEntry](s.path(logsFile))
	entries = append(entries, LogEntry{
		Timestamp: nowStamp(),
		AgentID:   agentID,
		Phase:     phase,
		Level:     level,
		Message:   message,
	})
	return s.writeJSON(logsFile, sequence[LogEntry]{Entries: entries})
}

// GetAllContext returns a lock-free aggregate snapshot of every container.
// Sections being written concurrently may come back empty.
func (s *Store) GetAllContext() Context {
	return Context{
		Breakthroughs: readSequence[Breakthrough](s.path(breakthroughsFile)),
		Hypotheses:    readCandidates(s.path(hypothesesFile)),
		Pitfalls:      readSequence[Pitfall](s.path(pitfallsFile)),
		Logs:          readSequence[LogEntry](s.path(logsFile)),
		Results:       readSequence[Result](s.path(resultsFile)),
	}
}

// GetCompletedHypotheses returns hypotheses that finished evaluation.
func (s *Store) GetCompletedHypotheses() []Hypothesis {
	all := readCandidates(s.path(hypothesesFile))
	completed := make([]Hypothesis, 0, len(all))
	for i := range all {
		if all[i].Status == StatusCompleted {
			completed = append(completed, all[i])
		}
	}
	return completed
}

// GetSuccessfulResults returns results whose verdict was accepted.
func (s *Store) GetSuccessfulResults() []Result {
	all := readSequence[Result](s.path(resultsFile))
	accepted := make([]Result, 0, len(all))
	for i := range all {
		if all[i].Result.Accepted {
			accepted = append(accepted, all[i])
		}
	}
	return accepted
}

// GetPitfalls returns every recorded pitfall.
func (s *Store) GetPitfalls() []Pitfall {
	return readSequence[Pitfall](s.path(pitfallsFile))
}

// GetBreakthroughs returns every recorded breakthrough.
func (s *Store) GetBreakthroughs() []Breakthrough {
	return readSequence[Breakthrough](s.path(breakthroughsFile))
}
