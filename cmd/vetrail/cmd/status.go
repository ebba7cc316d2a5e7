package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/vetrail/vetrail/internal/daemon"
	"github.com/vetrail/vetrail/internal/run"
)

// newStatusCmd creates the status command.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Print a snapshot of a review run",
		Long: `Status prints one JSON snapshot of the run. It asks the daemon when
one is listening, otherwise it reads the local run store directly.
Polling is the caller's business; status never waits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var result daemon.RunStatusResult
			client := daemon.NewClient(daemon.Config{SocketPath: cfg.SocketPath()})
			if client.IsRunning() {
				result, err = client.RunStatus(cmd.Context(), runID)
				if err != nil {
					return err
				}
			} else {
				store, err := run.NewStore(cfg.Review.StorePath)
				if err != nil {
					return err
				}
				defer store.Close()

				rec, err := store.Snapshot(cmd.Context(), runID)
				if err != nil {
					return err
				}
				result = daemon.NewRunStatusResult(rec)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	return cmd
}
