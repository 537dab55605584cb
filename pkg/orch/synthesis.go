package orch

import (
	"context"
	"fmt"
	"strings"

	"iterdesign/pkg/agent/toolloop"
	"iterdesign/pkg/pipeline"
	"iterdesign/pkg/tools"
)

const mergePlanPrompt = `You are a Principal Integration Architect.
The overall goal of this project is: %s

One experiment, run in a workspace that no longer exists, produced the winning hypothesis of this iteration.

WINNING HYPOTHESIS:
%s

THE EXPERIMENT'S PLAN:
%s

EVALUATION EVIDENCE:
%s

SHARED PROJECT CONTEXT:
%s

Inspect the current repository with the available tools and derive a conservative, step-by-step plan to reproduce the winning change directly in this repository.
The plan must rely only on what the repository currently contains plus the information above. Prefer the smallest change that realizes the hypothesis.
DO NOT WRITE CODE. Your Final Answer is the numbered integration plan.`

// selectWinner picks the accepted result with the highest confidence. Strict
// comparison keeps the earliest completion on ties. Returns nil when nothing
// was accepted.
func selectWinner(results []*pipeline.Result) *pipeline.Result {
	var winner *pipeline.Result
	for _, result := range results {
		if result == nil || !result.Evaluation.Accepted {
			continue
		}
		if winner == nil || result.Evaluation.Confidence > winner.Evaluation.Confidence {
			winner = result
		}
	}
	return winner
}

func countAccepted(results []*pipeline.Result) int {
	n := 0
	for _, result := range results {
		if result != nil && result.Evaluation.Accepted {
			n++
		}
	}
	return n
}

// merge turns the winning result into changes in the main tree. It derives a
// fresh integration plan first because the winner's workspace was destroyed
// during pipeline cleanup. Reports whether the apply step completed.
func (o *Orchestrator) merge(ctx context.Context, winner *pipeline.Result) bool {
	plan, err := o.deriveMergePlan(ctx, winner)
	if err != nil {
		o.logger.Error("Merge planning failed: %v", err)
		o.logError(phaseSynthesis, "Merge planning failed: "+err.Error())
		return false
	}
	return o.applyWinner(ctx, winner, plan)
}

// deriveMergePlan re-plans the winning change against the live main tree
// using a read-only loop.
func (o *Orchestrator) deriveMergePlan(ctx context.Context, winner *pipeline.Result) (string, error) {
	o.log(phaseSynthesis, fmt.Sprintf("Selected agent %s with confidence %.2f; deriving integration plan",
		winner.AgentID, winner.Evaluation.Confidence))

	objective := fmt.Sprintf(mergePlanPrompt,
		o.task, winner.Hypothesis, winner.Plan, winner.Evaluation.Evidence, o.poolContext())
	plan, err := o.runLoop(ctx, phaseSynthesis, "Integration Architect", objective, tools.Capabilities{})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(plan) == "" || strings.TrimSpace(plan) == toolloop.FailureSentinel {
		return "", fmt.Errorf("integration planner surrendered without a plan")
	}

	o.log(phaseSynthesis, "Integration plan derived: "+preview(plan, 200))
	return plan, nil
}
