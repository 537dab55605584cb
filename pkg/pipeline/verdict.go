package pipeline

import (
	"encoding/json"
	"strings"

	"iterdesign/pkg/pool"
)

// ParseVerdict extracts the analyst's verdict from a final answer. The JSON
// object is taken from the first '{' through the last '}' so surrounding
// prose cannot break parsing. Anything unparseable becomes a conservative
// rejection carrying the raw text as evidence, so a sloppy reply still yields
// a usable record instead of aborting the run.
func ParseVerdict(raw string) pool.Verdict {
	rejected := pool.Verdict{
		Accepted:        false,
		Confidence:      0,
		Evidence:        raw,
		Recommendations: "Review manually",
	}

	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first == -1 || last == -1 {
		rejected.Findings = "Could not parse evaluation"
		return rejected
	}
	if last < first {
		rejected.Findings = "Evaluation parsing failed"
		return rejected
	}

	var verdict pool.Verdict
	if err := json.Unmarshal([]byte(raw[first:last+1]), &verdict); err != nil {
		rejected.Findings = "Evaluation parsing failed"
		return rejected
	}
	return verdict
}
