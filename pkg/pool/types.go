// Package pool implements the shared experience store: five durable JSON
// containers recording what every agent run hypothesized, did, and learned.
// Writers serialize through one lock; readers go lock-free and degrade to
// empty rather than fail, so a torn read never takes down a pipeline.
package pool

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"iterdesign/pkg/utils"
)

// Hypothesis status values, in lifecycle order.
const (
	StatusProposed   = "proposed"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Verdict is the structured accept/reject judgement produced by the
// evaluation phase and consumed by synthesis.
type Verdict struct {
	Accepted        bool    `json:"accepted"`
	Confidence      float64 `json:"confidence"`
	Evidence        string  `json:"evidence"`
	Findings        string  `json:"findings"`
	Recommendations string  `json:"recommendations"`
}

// Hypothesis is a falsifiable improvement statement tracked through its
// lifecycle. Created by the hypothesis phase, mutated in place by the
// planning and evaluation phases, never deleted.
type Hypothesis struct {
	ID          string   `json:"id"`
	Timestamp   string   `json:"timestamp"`
	AgentID     string   `json:"agent_id"`
	Hypothesis  string   `json:"hypothesis"`
	Status      string   `json:"status"`
	Plan        string   `json:"plan,omitempty"`
	Evaluation  *Verdict `json:"evaluation,omitempty"`
	CompletedAt string   `json:"completed_at,omitempty"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

// HypothesisUpdate is a partial update merged into an existing hypothesis.
// Zero-valued fields are left untouched.
type HypothesisUpdate struct {
	Status      string
	Plan        string
	Evaluation  *Verdict
	CompletedAt string
}

// LogEntry is an append-only record of one phase event.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	AgentID   string `json:"agent_id"`
	Phase     string `json:"phase"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Breakthrough records an accepted hypothesis.
type Breakthrough struct {
	Timestamp    string `json:"timestamp"`
	AgentID      string `json:"agent_id"`
	HypothesisID string `json:"hypothesis_id,omitempty"`
	Description  string `json:"description"`
}

// Pitfall records a rejected or crashed hypothesis so later runs avoid
// repeating it.
type Pitfall struct {
	Timestamp    string `json:"timestamp"`
	AgentID      string `json:"agent_id"`
	HypothesisID string `json:"hypothesis_id,omitempty"`
	Description  string `json:"description"`
	Error        string `json:"error,omitempty"`
}

// Result is the raw evaluation payload of one completed run.
type Result struct {
	Timestamp    string         `json:"timestamp"`
	AgentID      string         `json:"agent_id"`
	HypothesisID string         `json:"hypothesis_id"`
	Result       Verdict        `json:"result"`
	Metrics      map[string]any `json:"metrics"`
}

// Context is a point-in-time aggregate snapshot of all five containers.
// Phases embed it in planner prompts so runs learn from each other.
type Context struct {
	Breakthroughs []Breakthrough `json:"breakthroughs"`
	Hypotheses    []Hypothesis   `json:"hypotheses"`
	Pitfalls      []Pitfall      `json:"pitfalls"`
	Logs          []LogEntry     `json:"logs"`
	Results       []Result       `json:"results"`
}

var (
	promptCounterOnce sync.Once
	promptCounter     *utils.TokenCounter
)

func promptTokenCounter() *utils.TokenCounter {
	promptCounterOnce.Do(func() {
		tc, err := utils.NewTokenCounter("gpt-4")
		if err != nil {
			tc = &utils.TokenCounter{}
		}
		promptCounter = tc
	})
	return promptCounter
}

// FormatForPrompt renders the snapshot as labeled JSON sections for embedding
// in planner prompts. Each section is independently truncated to the given
// token budget so one noisy container cannot crowd out the others; a budget
// of zero or less disables truncation.
func (c *Context) FormatForPrompt(perSectionTokens int) string {
	sections := []struct {
		name string
		v    any
	}{
		{"breakthroughs", c.Breakthroughs},
		{"hypotheses", c.Hypotheses},
		{"pitfalls", c.Pitfalls},
		{"logs", c.Logs},
		{"results", c.Results},
	}

	tc := promptTokenCounter()
	var b strings.Builder
	for _, section := range sections {
		raw, err := json.MarshalIndent(section.v, "", "  ")
		if err != nil {
			raw = []byte("[]")
		}
		text := string(raw)
		if perSectionTokens > 0 {
			text = tc.TruncateToTokenLimit(text, perSectionTokens)
		}
		fmt.Fprintf(&b, "### %s\n%s\n\n", section.name, text)
	}
	return strings.TrimRight(b.String(), "\n")
}
