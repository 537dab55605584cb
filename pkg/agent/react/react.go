// Package react parses the textual tool-calling protocol spoken between the
// execution loop and the planner. A planner reply either requests a tool via
// "Action:" / "Action Input:" lines or terminates the loop via a
// "Final Answer:" marker; tool results are fed back as "Observation:" lines.
package react

import (
	"regexp"
	"strings"
)

// Protocol pattern regexes with flexible matching: case-insensitive markers
// and variable whitespace, because planners are not reliable typists.
var (
	// thoughtPattern matches "Thought: ..." up to the next protocol marker.
	thoughtPattern = regexp.MustCompile(`(?is)Thought\s*:\s*(.+?)(?:\n\s*(?:Action|Final\s+Answer)\s*:|$)`)

	// actionPattern matches "Action: tool_name"; the tool name is a single token.
	actionPattern = regexp.MustCompile(`(?i)Action\s*:[ \t]*(\S+)`)

	// actionInputPattern matches "Action Input:" and captures everything up
	// to the next "Observation:" marker or the end of the reply. The input is
	// plain text and may span lines.
	actionInputPattern = regexp.MustCompile(`(?is)Action\s+Input\s*:\s*(.*?)(?:\n\s*Observation\s*:|$)`)

	// finalAnswerMarker locates "Final Answer:" occurrences; the answer is
	// everything after the last one.
	finalAnswerMarker = regexp.MustCompile(`(?i)Final\s+Answer\s*:`)

	// observationMarker bounds fallback input extraction.
	observationMarker = regexp.MustCompile(`(?i)\n\s*Observation\s*:`)
)

// Reply contains the parsed components of one planner reply.
type Reply struct {
	// Thought is the planner's reasoning (informational, may be empty).
	Thought string

	// Action is the tool name to invoke (empty if no action).
	Action string

	// ActionInput is the plain-text tool input (may be empty).
	ActionInput string

	// FinalAnswer is the terminal answer (empty if the loop should continue).
	FinalAnswer string
}

// HasAction reports whether the reply requests a tool invocation.
func (r *Reply) HasAction() bool {
	return r.Action != ""
}

// HasFinalAnswer reports whether the reply terminates the loop.
func (r *Reply) HasFinalAnswer() bool {
	return r.FinalAnswer != ""
}

// Parse extracts protocol components from a planner reply. It never fails:
// a reply carrying no recognizable markers parses to an empty Reply, which
// the loop answers with a corrective observation.
func Parse(text string) *Reply {
	reply := &Reply{}

	if matches := thoughtPattern.FindStringSubmatch(text); len(matches) > 1 {
		reply.Thought = strings.TrimSpace(matches[1])
	}

	// A final answer wins over any action in the same reply. The answer is
	// the text after the last marker, so a planner that talks about its
	// final answer before giving it still terminates cleanly.
	if locs := finalAnswerMarker.FindAllStringIndex(text, -1); len(locs) > 0 {
		last := locs[len(locs)-1]
		reply.FinalAnswer = strings.TrimSpace(text[last[1]:])
		if reply.FinalAnswer != "" {
			return reply
		}
	}

	actionLoc := actionPattern.FindStringSubmatchIndex(text)
	if actionLoc == nil {
		return reply
	}
	reply.Action = strings.TrimSpace(text[actionLoc[2]:actionLoc[3]])

	if matches := actionInputPattern.FindStringSubmatch(text); matches != nil {
		reply.ActionInput = strings.TrimSpace(matches[1])
		return reply
	}

	// No "Action Input:" marker: be resilient by taking everything after the
	// action name up to the next "Observation:" marker or end of reply.
	rest := text[actionLoc[3]:]
	if loc := observationMarker.FindStringIndex(rest); loc != nil {
		rest = rest[:loc[0]]
	}
	reply.ActionInput = strings.TrimSpace(rest)
	return reply
}

// FormatObservation wraps a tool result in the protocol's observation marker.
func FormatObservation(text string) string {
	return "Observation: " + text
}

// CorrectiveObservation is fed back when a reply carries neither an action
// nor a final answer, demanding the correct format. The turn is not a hard
// failure: planners routinely self-correct on the next reply.
func CorrectiveObservation() string {
	return "Observation: Invalid response format. Reply with 'Action: <tool_name>' on one line and " +
		"'Action Input: <input>' on the next, or finish with 'Final Answer: <your answer>'."
}

// Instructions returns the protocol description included in every execution
// loop's system prompt, after the tool catalogue.
func Instructions() string {
	return `## TOOL USAGE FORMAT

To use a tool, reply in EXACTLY this format:

Thought: [your reasoning about the next step]
Action: [tool_name]
Action Input: [the tool's input, as plain text]

Then STOP and wait for the Observation (the tool's result).

After the Observation you may use another tool, or finish.

When you are done, reply:

Thought: [why you are done]
Final Answer: [your complete answer]

IMPORTANT:
- Action must be exactly one of the available tool names
- Action Input is plain text, not JSON
- One Action per reply; wait for the Observation before continuing`
}
