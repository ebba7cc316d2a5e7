// Package cmd provides the CLI commands for vetrail.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vetrail/vetrail/internal/logging"
	"github.com/vetrail/vetrail/pkg/version"
)

var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the vetrail CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vetrail",
		Short: "Rule-grounded code review for pull requests",
		Long: `Vetrail reviews pull request diffs against your team's own rulebook.

It chunks the diff, detects what kind of code changed, retrieves the
matching rules from a local hybrid index, and asks a local or remote
model to review each chunk against exactly those rules. Findings are
posted back to the pull request as inline comments.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("vetrail version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (default: .vetrail.yaml, then user config)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.vetrail/logs/")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = teardownLogging

	cmd.AddCommand(newReviewCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setupLogging routes slog to the rotating log file; debug mode lowers
// the level and mirrors to stderr.
func setupLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	cfg.WriteToStderr = false
	if debugMode {
		cfg = logging.DebugConfig()
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
