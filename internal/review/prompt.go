package review

import (
	"fmt"
	"strings"

	"github.com/vetrail/vetrail/internal/chunk"
	"github.com/vetrail/vetrail/internal/diff"
	"github.com/vetrail/vetrail/internal/rules"
)

const systemContract = `You are a senior code reviewer with deep expertise in software engineering best practices.

Your role is to review code changes and provide constructive feedback based ONLY on the specific rules provided to you.

Critical constraints:
1. Apply ONLY the rules explicitly provided in the context below
2. Do not invent or assume rules that are not provided
3. Be professional and concise
4. Focus on actionable feedback

Severity levels:
- critical: must be fixed before merge (security holes, data loss, breaking changes)
- high: should be fixed (data integrity, correctness)
- medium: important improvements (best practices, maintainability)
- low: suggestions (style, optimization, readability)

Input format:
The code changes are provided as a unified diff. Each added or context line is
prefixed with its line number in the new file (e.g. "10: +    some code").
Use these explicit line numbers for your findings.

Output format:
Return a JSON array of findings. Each finding must have:
- file: relative file path
- line: line number (integer) taken from the provided prefixes
- code_snippet: the exact line of code identified
- severity: "critical", "high", "medium", or "low"
- rule: brief description of the violated rule
- suggestion: specific, actionable fix
- category: rule category (if known)

If no issues are found, return an empty array: []`

// DefaultMaxPromptBytes bounds a review prompt when no budget is configured.
const DefaultMaxPromptBytes = 48 * 1024

// PromptBuilder assembles review prompts within a byte budget.
type PromptBuilder struct {
	// MaxBytes caps the assembled prompt. Excerpts are dropped
	// lowest-score-first until the prompt fits; the diff itself is
	// never trimmed.
	MaxBytes int
}

// NewPromptBuilder returns a builder with the given byte budget.
// A non-positive budget uses DefaultMaxPromptBytes.
func NewPromptBuilder(maxBytes int) *PromptBuilder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPromptBytes
	}
	return &PromptBuilder{MaxBytes: maxBytes}
}

// Build assembles the full review prompt for one chunk.
func (b *PromptBuilder) Build(c *chunk.Chunk, excerpts []rules.Scored) string {
	kept := excerpts
	prompt := assemble(c, kept)

	for len(prompt) > b.MaxBytes && len(kept) > 0 {
		kept = dropLowest(kept)
		prompt = assemble(c, kept)
	}
	return prompt
}

// RepairPrompt re-states the original prompt with the parse failure appended
// so the engine can correct its output format.
func RepairPrompt(original, response string, parseErr error) string {
	var out strings.Builder
	out.WriteString(original)
	out.WriteString("\n\n## Correction\n\n")
	out.WriteString("Your previous answer could not be parsed: ")
	out.WriteString(parseErr.Error())
	out.WriteString("\n\nPrevious answer:\n")
	out.WriteString(response)
	out.WriteString("\n\nReturn ONLY a valid JSON array of findings, with no surrounding prose.")
	return out.String()
}

func assemble(c *chunk.Chunk, excerpts []rules.Scored) string {
	var out strings.Builder
	out.WriteString(systemContract)
	out.WriteString("\n\n## Context: Applicable Rules\n\n")
	out.WriteString(ruleContext(excerpts))
	out.WriteString("\n## Input: Code Changes to Review\n\n")

	for i := range c.Files {
		f := &c.Files[i]
		fmt.Fprintf(&out, "### File: %s\n\n```diff\n%s```\n\n", f.Path, diff.Annotate(f))
	}

	out.WriteString("## Task\n\n")
	out.WriteString("Review the code changes above and identify any violations of the provided rules.\n")
	out.WriteString("Return your findings as a JSON array following the specified format.\n")
	return out.String()
}

func ruleContext(excerpts []rules.Scored) string {
	if len(excerpts) == 0 {
		return "No specific rules provided. Perform a general code review.\n"
	}

	var out strings.Builder
	for i, s := range excerpts {
		fmt.Fprintf(&out, "### Rule %d", i+1)
		if s.Excerpt.Category != "" {
			fmt.Fprintf(&out, " (%s)", s.Excerpt.Category)
		}
		out.WriteString("\n\n")
		if s.Excerpt.Severity != "" {
			fmt.Fprintf(&out, "Severity: %s\n\n", s.Excerpt.Severity)
		}
		fmt.Fprintf(&out, "%s\n\n%s\n\n", s.Excerpt.Title, strings.TrimSpace(s.Excerpt.Body))
	}
	return out.String()
}

// dropLowest removes the single lowest-scored excerpt, keeping the
// relative order of the rest.
func dropLowest(excerpts []rules.Scored) []rules.Scored {
	lowest := 0
	for i := range excerpts {
		if excerpts[i].Score < excerpts[lowest].Score {
			lowest = i
		}
	}
	out := make([]rules.Scored, 0, len(excerpts)-1)
	out = append(out, excerpts[:lowest]...)
	return append(out, excerpts[lowest+1:]...)
}
