package review

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	fencedArrayRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\[.*?\\])\\s*```")
	bareArrayRe   = regexp.MustCompile(`(?s)\[\s*\{.*?\}\s*\]`)
)

// rawFinding is the wire shape the engine is asked to emit.
type rawFinding struct {
	File       string `json:"file"`
	Line       int    `json:"line"`
	Severity   string `json:"severity"`
	Rule       string `json:"rule"`
	Category   string `json:"category"`
	Suggestion string `json:"suggestion"`
	Snippet    string `json:"code_snippet"`
}

// ParseFindings extracts the first JSON array of findings from an engine
// response. The array may be bare or wrapped in a code fence. Entries
// missing file, rule, or suggestion are dropped; an unrecognized severity
// becomes medium. A response with no array at all is a parse error.
func ParseFindings(response string) ([]Finding, error) {
	body := extractArray(response)
	if body == "" {
		return nil, fmt.Errorf("no JSON array found in response")
	}

	var raw []rawFinding
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("decoding findings array: %w", err)
	}

	findings := make([]Finding, 0, len(raw))
	for _, r := range raw {
		if r.File == "" || r.Rule == "" || r.Suggestion == "" {
			continue
		}
		f := Finding{
			File:       r.File,
			Line:       r.Line,
			Severity:   ParseSeverity(r.Severity),
			Rule:       r.Rule,
			Category:   r.Category,
			Suggestion: r.Suggestion,
			Snippet:    r.Snippet,
		}
		f.Key = FindingKey(f.File, f.Line, f.Rule, f.Suggestion)
		findings = append(findings, f)
	}
	return findings, nil
}

// extractArray finds the first JSON array in the text: a code-fenced array
// wins, then a bare object array, then a literal empty array.
func extractArray(text string) string {
	if m := fencedArrayRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := bareArrayRe.FindString(text); m != "" {
		return m
	}
	if strings.Contains(text, "[]") {
		return "[]"
	}
	return ""
}
