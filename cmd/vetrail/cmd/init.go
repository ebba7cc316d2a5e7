package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vetrail/vetrail/configs"
	"github.com/vetrail/vetrail/internal/output"
)

// newInitCmd creates the init command.
func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter .vetrail.yaml in the current directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			const path = ".vetrail.yaml"

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			if err := os.WriteFile(path, []byte(configs.ConfigTemplate), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}

			out := output.New(cmd.OutOrStdout())
			out.Successf("Wrote %s", path)
			out.Status("💡", "Edit it to point at your rules directory, then run 'vetrail ingest'")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}
