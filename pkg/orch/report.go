package orch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"iterdesign/pkg/agent/middleware/metrics"
	"iterdesign/pkg/agent/toolloop"
	promquery "iterdesign/pkg/metrics"
	"iterdesign/pkg/tools"
)

const reportPrompt = `You are a Research Director writing the closing report of an automated research campaign.

The campaign's goal was: %s
Iterations completed: %d
Outcome: %s

FULL PROJECT HISTORY:
%s

You may inspect the repository with the available tools to check the final state of the code.
Write a clear narrative of the campaign: what was attempted, which hypotheses were accepted or rejected and why, what changed in the repository, and what should happen next.
Use plain prose with short paragraphs. Your Final Answer is the report body itself.`

const reportStampLayout = "20060102_150405"

// writeFinalReport generates the closing report and writes it under the data
// directory. The file is written on every run, including runs whose
// narrative generation failed; in that case the body explains the failure
// and points at the raw pool data. Returns the report path, or "" when even
// the file write failed.
func (o *Orchestrator) writeFinalReport(ctx context.Context, success bool, iterations int) string {
	o.logger.Info("📝 Generating final report")
	o.log(phaseReport, "Generating final report")

	outcome := "iteration budget exhausted"
	if success {
		outcome = "goal achieved"
	}

	narrative := o.reportNarrative(ctx, outcome, iterations)

	var b strings.Builder
	b.WriteString("# Final Research Report\n\n")
	fmt.Fprintf(&b, "- **Task**: %s\n", o.task)
	fmt.Fprintf(&b, "- **Outcome**: %s\n", outcome)
	fmt.Fprintf(&b, "- **Iterations**: %d of %d\n", iterations, o.cfg.MaxIterations)
	fmt.Fprintf(&b, "- **Generated**: %s\n\n", time.Now().Format(time.RFC3339))
	b.WriteString("## Summary\n\n")
	b.WriteString(strings.TrimSpace(narrative))
	b.WriteString("\n")
	b.WriteString(usageSection())
	b.WriteString(o.prometheusSection(ctx))

	if err := os.MkdirAll(o.dataDir, 0o755); err != nil {
		o.logger.Error("Failed to create report directory: %v", err)
		return ""
	}
	path := filepath.Join(o.dataDir, "final_report_"+time.Now().Format(reportStampLayout)+".md")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		o.logger.Error("Failed to write final report: %v", err)
		o.logError(phaseReport, "Failed to write final report: "+err.Error())
		return ""
	}

	o.logger.Info("📄 Final report written to %s", path)
	o.log(phaseReport, "Final report written to "+path)
	return path
}

// reportNarrative asks a read-only summarization loop for the report body.
// Failures degrade to a stub body rather than aborting the report.
func (o *Orchestrator) reportNarrative(ctx context.Context, outcome string, iterations int) string {
	objective := fmt.Sprintf(reportPrompt, o.task, iterations, outcome, o.poolContext())
	narrative, err := o.runLoop(ctx, phaseReport, "Research Director", objective, tools.Capabilities{})
	if err != nil {
		o.logger.Error("Report narrative generation failed: %v", err)
		o.logError(phaseReport, "Report narrative generation failed: "+err.Error())
		return fmt.Sprintf("Narrative generation failed (%v).\n\nThe experience pool under %s holds the raw record of every hypothesis, result, breakthrough, and pitfall from this run.", err, o.dataDir)
	}
	if strings.TrimSpace(narrative) == toolloop.FailureSentinel {
		return fmt.Sprintf("The summarizer ran out of steps before producing a narrative.\n\nThe experience pool under %s holds the raw record of every hypothesis, result, breakthrough, and pitfall from this run.", o.dataDir)
	}
	return narrative
}

// usageSection renders run-wide LLM usage from the in-process recorder.
// Empty when nothing was recorded, which is the case for injected test
// clients that bypass the metrics middleware.
func usageSection() string {
	recorder := metrics.NewInternalRecorder()
	totals := recorder.Totals()
	if totals.RequestCount == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n## LLM Usage\n\n")
	fmt.Fprintf(&b, "- **Requests**: %d\n", totals.RequestCount)
	fmt.Fprintf(&b, "- **Prompt tokens**: %d\n", totals.PromptTokens)
	fmt.Fprintf(&b, "- **Completion tokens**: %d\n", totals.CompletionTokens)
	fmt.Fprintf(&b, "- **Estimated cost**: $%.4f\n", totals.TotalCost)

	perAgent := recorder.GetAllAgentUsage()
	if len(perAgent) == 0 {
		return b.String()
	}
	ids := make([]string, 0, len(perAgent))
	for id := range perAgent {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	b.WriteString("\nPer agent:\n\n")
	for _, id := range ids {
		usage := perAgent[id]
		fmt.Fprintf(&b, "- %s: %d requests, %d tokens, $%.4f\n",
			id, usage.RequestCount, usage.TotalTokens, usage.TotalCost)
	}
	return b.String()
}

// prometheusSection rolls up usage series from an external Prometheus server
// when one is configured. The scraped series outlive the process, so this
// complements the in-process totals rather than replacing them. Any query
// failure drops the section with a warning; the report itself never blocks
// on an external service.
func (o *Orchestrator) prometheusSection(ctx context.Context) string {
	if o.cfg.PrometheusURL == "" {
		return ""
	}

	svc, err := promquery.NewQueryService(o.cfg.PrometheusURL)
	if err != nil {
		o.logger.Warn("Prometheus rollup unavailable: %v", err)
		return ""
	}
	run, err := svc.GetRunUsage(ctx)
	if err != nil {
		o.logger.Warn("Prometheus rollup unavailable: %v", err)
		return ""
	}

	var b strings.Builder
	b.WriteString("\n## Prometheus Rollup\n\n")
	fmt.Fprintf(&b, "- **Total tokens**: %d (prompt %d, completion %d)\n",
		run.TotalTokens, run.PromptTokens, run.CompletionTokens)
	fmt.Fprintf(&b, "- **Recorded cost**: $%.4f\n", run.TotalCost)

	byPhase, err := svc.GetUsageByPhase(ctx)
	if err != nil || len(byPhase) == 0 {
		return b.String()
	}
	phases := make([]string, 0, len(byPhase))
	for phase := range byPhase {
		phases = append(phases, phase)
	}
	sort.Strings(phases)

	b.WriteString("\nBy phase:\n\n")
	for _, phase := range phases {
		usage := byPhase[phase]
		fmt.Fprintf(&b, "- %s: %d tokens, $%.4f\n", phase, usage.TotalTokens, usage.TotalCost)
	}
	return b.String()
}
