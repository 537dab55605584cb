// Package metrics provides services for querying and aggregating metrics data.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// UsageSummary represents aggregated token and cost usage for one slice of a
// research run (the whole run, a single agent, or a single phase).
type UsageSummary struct {
	Label            string  `json:"label"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
}

// QueryService provides methods to query LLM usage metrics from Prometheus.
// It is optional: runs without a Prometheus endpoint fall back to the
// in-process recorder for their usage summary.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetRunUsage retrieves token and cost usage aggregated across all agents
// and phases of the research loop.
func (q *QueryService) GetRunUsage(ctx context.Context) (*UsageSummary, error) {
	summary := &UsageSummary{Label: "run"}

	prompt, err := q.scalarQuery(ctx, `sum(llm_tokens_total{type="prompt"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	summary.PromptTokens = int64(prompt)

	completion, err := q.scalarQuery(ctx, `sum(llm_tokens_total{type="completion"})`)
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	summary.CompletionTokens = int64(completion)
	summary.TotalTokens = summary.PromptTokens + summary.CompletionTokens

	cost, err := q.scalarQuery(ctx, `sum(llm_costs_total)`)
	if err != nil {
		return nil, fmt.Errorf("failed to query total cost: %w", err)
	}
	summary.TotalCost = cost

	return summary, nil
}

// GetUsageByAgent retrieves usage broken down by agent, showing how the
// token budget was spent across the fan-out.
func (q *QueryService) GetUsageByAgent(ctx context.Context) (map[string]*UsageSummary, error) {
	return q.usageByLabel(ctx, "agent_id")
}

// GetUsageByPhase retrieves usage broken down by research phase, showing
// which phases (hypothesis, coding, evaluation, ...) dominate spend.
func (q *QueryService) GetUsageByPhase(ctx context.Context) (map[string]*UsageSummary, error) {
	return q.usageByLabel(ctx, "phase")
}

// usageByLabel aggregates token and cost usage grouped by one metric label.
func (q *QueryService) usageByLabel(ctx context.Context, label string) (map[string]*UsageSummary, error) {
	valuesQuery := fmt.Sprintf(`group by (%s) (llm_tokens_total)`, label)
	valuesResult, _, err := q.queryAPI.Query(ctx, valuesQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query %s values: %w", label, err)
	}

	var values []string
	if vector, ok := valuesResult.(model.Vector); ok {
		for _, sample := range vector {
			if value, ok := sample.Metric[model.LabelName(label)]; ok {
				values = append(values, string(value))
			}
		}
	}

	result := make(map[string]*UsageSummary, len(values))
	for _, value := range values {
		summary := &UsageSummary{Label: value}

		prompt, err := q.scalarQuery(ctx,
			fmt.Sprintf(`sum(llm_tokens_total{%s=%q, type="prompt"})`, label, value))
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for %s=%s: %w", label, value, err)
		}
		summary.PromptTokens = int64(prompt)

		completion, err := q.scalarQuery(ctx,
			fmt.Sprintf(`sum(llm_tokens_total{%s=%q, type="completion"})`, label, value))
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for %s=%s: %w", label, value, err)
		}
		summary.CompletionTokens = int64(completion)
		summary.TotalTokens = summary.PromptTokens + summary.CompletionTokens

		cost, err := q.scalarQuery(ctx,
			fmt.Sprintf(`sum(llm_costs_total{%s=%q})`, label, value))
		if err != nil {
			return nil, fmt.Errorf("failed to query cost for %s=%s: %w", label, value, err)
		}
		summary.TotalCost = cost

		result[value] = summary
	}

	return result, nil
}

// scalarQuery runs an instant query expected to yield a single-sample vector
// and returns its value, or 0 when the metric has no samples yet.
func (q *QueryService) scalarQuery(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, time.Now())
	if err != nil {
		return 0, err //nolint:wrapcheck // Callers wrap with query context
	}

	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}
