package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/vetrail/vetrail/internal/output"
	"github.com/vetrail/vetrail/internal/review"
	"github.com/vetrail/vetrail/internal/run"
	"github.com/vetrail/vetrail/internal/scm"
)

// newReviewCmd creates the review command.
func newReviewCmd() *cobra.Command {
	var (
		workspace   string
		repo        string
		revision    string
		force       bool
		autoPublish bool
		minSeverity string
	)

	cmd := &cobra.Command{
		Use:   "review <pr-id>",
		Short: "Review a pull request against the rulebook",
		Long: `Review fetches the pull request's diff, reviews every chunk against
the retrieved rules, and prints the findings. With --publish the findings
at or above the severity floor are posted as inline comments.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prID, err := strconv.Atoi(args[0])
			if err != nil || prID <= 0 {
				return fmt.Errorf("invalid pull request id %q", args[0])
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if workspace == "" {
				workspace = cfg.SCM.Workspace
			}
			if workspace == "" || repo == "" {
				return fmt.Errorf("workspace and repo are required (flags or scm config)")
			}
			if minSeverity == "" {
				minSeverity = cfg.Review.MinPublishSeverity
			}

			app, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			out := output.New(cmd.OutOrStdout())
			target := scm.Target{
				Workspace:   workspace,
				Repo:        repo,
				PullRequest: prID,
				Revision:    revision,
			}
			out.Statusf("🔍", "Reviewing %s", target.String())

			runID, err := app.orchestrator.Trigger(cmd.Context(), target, force)
			if err != nil {
				out.Errorf("Review failed: %v", err)
				return err
			}

			rec, err := app.store.Snapshot(cmd.Context(), runID)
			if err != nil {
				return err
			}
			printRun(out, rec)

			if autoPublish {
				floor := review.ParseSeverity(minSeverity)
				posted, skipped, err := app.publisher.PublishRun(cmd.Context(), runID, target, floor)
				if err != nil {
					out.Errorf("Publish failed after %d comments: %v", posted, err)
					return err
				}
				out.Successf("Posted %d comments (%d skipped)", posted, skipped)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Bitbucket workspace (default: scm config)")
	cmd.Flags().StringVar(&repo, "repo", "", "Repository slug")
	cmd.Flags().StringVar(&revision, "revision", "", "Source commit to pin the run to")
	cmd.Flags().BoolVar(&force, "force", false, "Re-review even if a run exists for this target and revision")
	cmd.Flags().BoolVar(&autoPublish, "publish", false, "Post findings as inline comments")
	cmd.Flags().StringVar(&minSeverity, "min-severity", "", "Publish floor: critical, high, medium, low (default: review config)")

	return cmd
}

// printRun renders a finished run for the terminal.
func printRun(out *output.Writer, rec *run.Record) {
	findings := rec.Findings()

	switch rec.Status {
	case run.RunSuccess:
		out.Successf("Run %s finished: %d chunks reviewed", rec.RunID, rec.TotalChunks)
	case run.RunPartial:
		out.Warningf("Run %s finished partially: some chunks failed", rec.RunID)
	default:
		out.Errorf("Run %s failed", rec.RunID)
	}

	if len(findings) == 0 {
		out.Status("✨", "No findings")
	}
	for _, f := range findings {
		out.Finding(string(f.Severity), f.File, f.Line, f.Rule, f.Suggestion)
	}

	for i := 0; i < rec.TotalChunks; i++ {
		c := rec.Chunks[i]
		if c.Status == run.ChunkFailed {
			out.Warningf("chunk %d failed: [%s] %s", c.ChunkID, c.ErrCode, c.ErrMessage)
		}
	}
}
