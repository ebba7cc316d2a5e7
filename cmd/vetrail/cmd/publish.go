package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vetrail/vetrail/internal/daemon"
	"github.com/vetrail/vetrail/internal/output"
	"github.com/vetrail/vetrail/internal/publish"
	"github.com/vetrail/vetrail/internal/review"
	"github.com/vetrail/vetrail/internal/run"
	"github.com/vetrail/vetrail/internal/scm"
)

// newPublishCmd creates the publish command.
func newPublishCmd() *cobra.Command {
	var (
		workspace   string
		repo        string
		pullRequest int
		minSeverity string
	)

	cmd := &cobra.Command{
		Use:   "publish <run-id>",
		Short: "Post a run's findings as inline comments",
		Long: `Publish posts the findings of a finished run at or above the severity
floor. Findings already posted for the run are skipped, so publish is
safe to repeat after a partial failure.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if workspace == "" {
				workspace = cfg.SCM.Workspace
			}
			if workspace == "" || repo == "" || pullRequest <= 0 {
				return fmt.Errorf("workspace, repo and pr are required")
			}
			if minSeverity == "" {
				minSeverity = cfg.Review.MinPublishSeverity
			}

			out := output.New(cmd.OutOrStdout())

			client := daemon.NewClient(daemon.Config{SocketPath: cfg.SocketPath()})
			if client.IsRunning() {
				result, err := client.PublishRun(cmd.Context(), daemon.PublishRunParams{
					RunID:       runID,
					Workspace:   workspace,
					Repo:        repo,
					PullRequest: pullRequest,
					MinSeverity: minSeverity,
				})
				if err != nil {
					return err
				}
				out.Successf("Posted %d comments (%d skipped)", result.Posted, result.Skipped)
				return nil
			}

			store, err := run.NewStore(cfg.Review.StorePath)
			if err != nil {
				return err
			}
			defer store.Close()

			logger := slog.Default()
			host := scm.NewBitbucket(logger, scm.BitbucketConfig{
				BaseURL:     cfg.SCM.BaseURL,
				Username:    os.Getenv(cfg.SCM.UsernameEnv),
				AppPassword: os.Getenv(cfg.SCM.PasswordEnv),
				Timeout:     cfg.SCM.Timeout,
			})
			publisher := publish.New(logger, host, store)

			target := scm.Target{Workspace: workspace, Repo: repo, PullRequest: pullRequest}
			posted, skipped, err := publisher.PublishRun(cmd.Context(), runID, target,
				review.ParseSeverity(minSeverity))
			if err != nil {
				out.Errorf("Publish failed after %d comments: %v", posted, err)
				return err
			}
			out.Successf("Posted %d comments (%d skipped)", posted, skipped)
			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Bitbucket workspace (default: scm config)")
	cmd.Flags().StringVar(&repo, "repo", "", "Repository slug")
	cmd.Flags().IntVar(&pullRequest, "pr", 0, "Pull request id")
	cmd.Flags().StringVar(&minSeverity, "min-severity", "", "Publish floor: critical, high, medium, low (default: review config)")

	return cmd
}
