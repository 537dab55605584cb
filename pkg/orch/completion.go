package orch

import (
	"context"
	"fmt"
	"strings"

	"iterdesign/pkg/tools"
)

const completionPrompt = `You are a meticulous Project Auditor.
The overall goal of this project is: %s

Inspect the repository and judge whether the goal has ALREADY been fully achieved in the current state of the code.
Use the available tools to read whatever you need. Do not propose changes.

Your Final Answer must be exactly one word: "true" if the goal is fully achieved, or "false" if any part of it is not.
When in doubt, answer "false".`

// checkCompletion asks a read-only auditor loop whether the goal is already
// met in the main tree. Anything other than a clear "true", including a
// transport failure, counts as not done, so a flaky check can cost an extra
// iteration but never end the run early.
func (o *Orchestrator) checkCompletion(ctx context.Context) bool {
	o.logger.Info("🔍 Checking whether the goal is already achieved")
	o.log(phaseCompletionCheck, "Checking goal completion")

	objective := fmt.Sprintf(completionPrompt, o.task)
	answer, err := o.runLoop(ctx, phaseCompletionCheck, "Project Auditor", objective, tools.Capabilities{})
	if err != nil {
		o.logger.Error("Completion check failed: %v", err)
		o.logError(phaseCompletionCheck, "Completion check failed: "+err.Error())
		return false
	}

	done := parseBoolean(answer)
	o.log(phaseCompletionCheck, fmt.Sprintf("Completion check answered %q (done=%t)", preview(answer, 100), done))
	return done
}

// parseBoolean accepts only an unambiguous affirmative. The auditor is told
// to answer with a single word, so anything longer is treated as "false".
func parseBoolean(answer string) bool {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	normalized = strings.TrimSuffix(normalized, ".")
	return normalized == "true"
}
