package review

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/vetrail/vetrail/internal/chunk"
	ierrors "github.com/vetrail/vetrail/internal/errors"
	"github.com/vetrail/vetrail/internal/llm"
	"github.com/vetrail/vetrail/internal/rules"
)

// Invoker drives one completion per chunk and turns the answer into findings.
type Invoker struct {
	logger    *slog.Logger
	completer llm.Completer
	prompts   *PromptBuilder
	retry     ierrors.RetryConfig
}

// InvokerOptions configures an Invoker.
type InvokerOptions struct {
	// MaxPromptBytes bounds assembled prompts; zero means the default.
	MaxPromptBytes int

	// Retry overrides the completion retry policy when non-zero.
	Retry ierrors.RetryConfig
}

// NewInvoker returns an Invoker over the given completion engine.
func NewInvoker(logger *slog.Logger, completer llm.Completer, opts InvokerOptions) *Invoker {
	retry := opts.Retry
	if retry.MaxRetries == 0 && retry.InitialDelay == 0 {
		retry = ierrors.DefaultRetryConfig()
	}
	return &Invoker{
		logger:    logger,
		completer: completer,
		prompts:   NewPromptBuilder(opts.MaxPromptBytes),
		retry:     retry,
	}
}

// Review asks the engine to review one chunk against the retrieved excerpts.
// A malformed answer gets exactly one repair re-prompt carrying the parse
// error; a second malformed answer is a parse error for the chunk. Findings
// that do not land on a changed line of the chunk are dropped. The engine's
// output order is preserved.
func (inv *Invoker) Review(ctx context.Context, c *chunk.Chunk, excerpts []rules.Scored) ([]Finding, error) {
	prompt := inv.prompts.Build(c, excerpts)

	response, err := llm.CompleteWithRetry(ctx, inv.completer, inv.retry, prompt)
	if err != nil {
		return nil, err
	}

	findings, parseErr := ParseFindings(response)
	if parseErr != nil {
		inv.logger.Warn("review response unparseable, re-prompting",
			"chunk_id", c.ID,
			"error", parseErr)

		repaired, err := llm.CompleteWithRetry(ctx, inv.completer, inv.retry, RepairPrompt(prompt, response, parseErr))
		if err != nil {
			return nil, err
		}
		findings, parseErr = ParseFindings(repaired)
		if parseErr != nil {
			return nil, ierrors.ReviewParseError("review response unusable after repair attempt", parseErr).
				WithDetail("chunk_id", strconv.Itoa(c.ID))
		}
	}

	kept := filterToChangedLines(findings, c)
	if dropped := len(findings) - len(kept); dropped > 0 {
		inv.logger.Debug("dropped findings outside changed lines",
			"chunk_id", c.ID,
			"dropped", dropped)
	}
	return kept, nil
}

// filterToChangedLines keeps only findings that cite an added line of the
// chunk, in their original order.
func filterToChangedLines(findings []Finding, c *chunk.Chunk) []Finding {
	changed := c.ChangedNewLines()
	kept := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if lines, ok := changed[f.File]; ok && lines[f.Line] {
			kept = append(kept, f)
		}
	}
	return kept
}
