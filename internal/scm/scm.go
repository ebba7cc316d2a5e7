// Package scm abstracts the source-control host the pipeline reviews
// against. The pipeline only needs two operations: fetch a pull request's
// diff and post an inline comment on it.
package scm

import (
	"context"
	"fmt"
)

// Target identifies one pull request under review.
type Target struct {
	Workspace   string
	Repo        string
	PullRequest int

	// Revision pins the source commit the review ran against. May be
	// empty when the caller does not care about revision identity.
	Revision string
}

// String renders the target in "workspace/repo#N" form, the shape run
// records and log lines use.
func (t Target) String() string {
	return fmt.Sprintf("%s/%s#%d", t.Workspace, t.Repo, t.PullRequest)
}

// Client is the host-side boundary of the review pipeline.
type Client interface {
	// FetchDiff returns the pull request's unified diff text.
	FetchDiff(ctx context.Context, target Target) (string, error)

	// PostInlineComment posts a comment anchored to a new-file line.
	PostInlineComment(ctx context.Context, target Target, file string, line int, body string) error
}
