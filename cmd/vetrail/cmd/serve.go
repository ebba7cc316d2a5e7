package cmd

import (
	"context"
	"errors"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vetrail/vetrail/internal/daemon"
	"github.com/vetrail/vetrail/internal/output"
	"github.com/vetrail/vetrail/internal/watch"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the review daemon",
		Long: `Serve starts the vetrail daemon: a JSON-RPC server on a Unix socket
that accepts review triggers, reports run status, and publishes
findings. With rules.watch enabled it also re-ingests the rulebook
when rule files change.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer application.Close()

			socketPath := cfg.SocketPath()
			pidFile := daemon.NewPIDFile(filepath.Join(filepath.Dir(socketPath), "vetrail.pid"))
			if err := pidFile.Write(); err != nil {
				return err
			}
			defer pidFile.Remove()

			sweeper := daemon.NewSweeper(application.logger, application.store,
				daemon.DefaultRetention, daemon.DefaultSweepInterval)
			sweeper.Start(ctx)
			defer sweeper.Stop()

			if cfg.Rules.Watch {
				watcher := watch.New(application.logger, cfg.Rules.Dir,
					cfg.Rules.WatchDebounce, func(ctx context.Context) error {
						_, err := application.index.Ingest(ctx, cfg.Rules.Dir)
						return err
					})
				go func() {
					if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						application.logger.Warn("rule watcher stopped", "error", err)
					}
				}()
			}

			service := daemon.NewService(application.logger,
				application.orchestrator, application.publisher)
			server := daemon.NewServer(application.logger, socketPath, service)

			out := output.New(cmd.OutOrStdout())
			out.Statusf("🛰️", "Daemon listening on %s", socketPath)

			if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			out.Success("Daemon stopped")
			return nil
		},
	}

	return cmd
}
