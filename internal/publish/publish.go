// Package publish posts review findings as inline pull-request comments,
// at most once per finding per run.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	ierrors "github.com/vetrail/vetrail/internal/errors"
	"github.com/vetrail/vetrail/internal/review"
	"github.com/vetrail/vetrail/internal/run"
	"github.com/vetrail/vetrail/internal/scm"
)

// Result describes the outcome of publishing one finding.
type Result string

const (
	// Posted means the comment reached the host and the key was recorded.
	Posted Result = "posted"

	// AlreadyPosted means the finding's key was recorded by an earlier
	// publish; no host call was made.
	AlreadyPosted Result = "already_posted"
)

// Publisher posts findings through an scm client, consulting the run
// store's published-key set so re-publishing a run never duplicates
// comments. The mutex serializes publishes so two concurrent daemon
// requests for the same key cannot both pass the check and post twice.
type Publisher struct {
	logger *slog.Logger
	client scm.Client
	store  *run.Store

	mu sync.Mutex
}

// New returns a Publisher over the given host client and run store.
func New(logger *slog.Logger, client scm.Client, store *run.Store) *Publisher {
	return &Publisher{logger: logger, client: client, store: store}
}

// Publish posts one finding as an inline comment. A finding whose key is
// already recorded for the run is skipped without touching the host. A
// rejected post leaves the key unrecorded so a later retry can repost.
func (p *Publisher) Publish(ctx context.Context, runID string, target scm.Target, f review.Finding) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	published, err := p.store.IsPublished(ctx, runID, f.Key)
	if err != nil {
		return "", err
	}
	if published {
		p.logger.Debug("finding already posted",
			"run_id", runID,
			"key", f.Key)
		return AlreadyPosted, nil
	}

	if err := p.client.PostInlineComment(ctx, target, f.File, f.Line, FormatComment(f)); err != nil {
		return "", ierrors.PublishError(
			fmt.Sprintf("failed to post %s:%d", f.File, f.Line), err)
	}

	if _, err := p.store.MarkPublished(ctx, runID, f.Key); err != nil {
		return "", err
	}

	p.logger.Info("posted inline comment",
		"run_id", runID,
		"file", f.File,
		"line", f.Line,
		"severity", string(f.Severity))
	return Posted, nil
}

// PublishRun posts every finding of the run's done chunks at or above the
// severity floor, in ascending chunk-ID order. Returns counts of posted
// and skipped (already posted or below the floor) findings. Individual
// post failures stop the walk so the caller can retry from a known state.
func (p *Publisher) PublishRun(ctx context.Context, runID string, target scm.Target, minSeverity review.Severity) (posted, skipped int, err error) {
	rec, err := p.store.Snapshot(ctx, runID)
	if err != nil {
		return 0, 0, err
	}

	for i := 0; i < rec.TotalChunks; i++ {
		c, ok := rec.Chunks[i]
		if !ok || c.Status != run.ChunkDone {
			continue
		}
		for _, f := range c.Findings {
			if !f.Severity.AtLeast(minSeverity) {
				skipped++
				continue
			}
			res, err := p.Publish(ctx, runID, target, f)
			if err != nil {
				return posted, skipped, err
			}
			if res == Posted {
				posted++
			} else {
				skipped++
			}
		}
	}

	p.logger.Info("published run findings",
		"run_id", runID,
		"posted", posted,
		"skipped", skipped)
	return posted, skipped, nil
}

// FormatComment renders a finding as a comment body. The shape matches
// what reviewers see inline: severity and rule up front, the suggestion,
// then the category as a footnote.
func FormatComment(f review.Finding) string {
	var out strings.Builder
	fmt.Fprintf(&out, "**%s**: %s\n\n%s", strings.ToUpper(string(f.Severity)), f.Rule, f.Suggestion)
	if f.Snippet != "" {
		fmt.Fprintf(&out, "\n\n```\n%s\n```", f.Snippet)
	}
	if f.Category != "" {
		fmt.Fprintf(&out, "\n\n*Category: %s*", f.Category)
	}
	return out.String()
}
