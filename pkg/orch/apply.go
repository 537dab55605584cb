package orch

import (
	"context"
	"fmt"
	"strings"

	"iterdesign/pkg/agent/toolloop"
	"iterdesign/pkg/pipeline"
	"iterdesign/pkg/tools"
)

const applyPrompt = `You are a Senior Release Engineer.
Your job is to merge an already-validated change into the main repository by following the integration plan below exactly.

INTEGRATION PLAN:
%s

Execute the plan step by step with the available tools, then verify the repository still works (run its tests or a quick smoke check if possible).
If you cannot complete the merge, your Final Answer must be exactly "False".
Otherwise your Final Answer is a short summary of what was merged and how it was verified.`

// applyWinner executes the integration plan against the main tree with write
// and terminal access. The merge is stamped a breakthrough once the apply
// conversation ends, whatever its verification claims; the logs keep the
// full story for the report and for later hypotheses.
func (o *Orchestrator) applyWinner(ctx context.Context, winner *pipeline.Result, plan string) bool {
	o.logger.Info("🔀 Merging hypothesis from agent %s into the main repository", winner.AgentID)
	o.log(phaseApply, "Applying winning hypothesis "+winner.HypothesisID)

	objective := fmt.Sprintf(applyPrompt, plan)
	result, err := o.runLoop(ctx, phaseApply, "Release Engineer", objective,
		tools.Capabilities{CanWrite: true, CanExecuteTerminal: true})
	if err != nil {
		o.logger.Error("Apply failed: %v", err)
		o.logError(phaseApply, "Apply failed: "+err.Error())
		o.revertIfConfigured()
		return false
	}

	description := fmt.Sprintf("Successfully merged hypothesis from agent %s: %s",
		winner.AgentID, preview(winner.Hypothesis, 100))
	if err := o.pool.AddBreakthrough(poolAgentID, description, winner.HypothesisID); err != nil {
		o.logger.Warn("Failed to record merge breakthrough: %v", err)
	}

	if strings.TrimSpace(result) == toolloop.FailureSentinel {
		o.logger.Warn("⚠️  Apply loop gave up before finishing the merge")
		o.logError(phaseApply, "Apply did not complete; the merge may be partial")
		o.revertIfConfigured()
		return false
	}

	o.log(phaseApply, "Apply complete: "+preview(result, 200))
	return true
}

// revertIfConfigured rolls the main tree back to the pre-iteration snapshot
// when rollback on failed merges is enabled. The default leaves partial
// merges in place for the next iteration to observe and repair.
func (o *Orchestrator) revertIfConfigured() {
	if !o.cfg.RevertOnFailure {
		return
	}
	o.logger.Warn("⏪ Rolling the main repository back to the iteration snapshot")
	if err := o.checkpoints.RevertToLatest(); err != nil {
		o.logger.Error("Rollback failed: %v", err)
		o.logError(phaseApply, "Rollback failed: "+err.Error())
		return
	}
	o.log(phaseApply, "Rolled the main repository back to the latest snapshot")
}
