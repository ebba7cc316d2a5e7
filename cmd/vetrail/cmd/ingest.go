package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vetrail/vetrail/internal/embed"
	"github.com/vetrail/vetrail/internal/output"
	"github.com/vetrail/vetrail/internal/rules"
)

// newIngestCmd creates the ingest command.
func newIngestCmd() *cobra.Command {
	var rulesDir string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Build the rulebook index from markdown rule files",
		Long: `Ingest reads every markdown file under the rules directory, splits it
into excerpts, embeds them, and rebuilds the vector, keyword, and
metadata indexes. The previous index is replaced atomically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if rulesDir == "" {
				rulesDir = cfg.Rules.Dir
			}

			ctx := cmd.Context()
			logger := slog.Default()
			out := output.New(cmd.OutOrStdout())

			embedder, err := embed.New(ctx, logger, embed.Options{
				Provider:   cfg.Embeddings.Provider,
				Model:      cfg.Embeddings.Model,
				Endpoint:   cfg.Embeddings.Endpoint,
				Dimensions: cfg.Embeddings.Dimensions,
				CacheSize:  cfg.Embeddings.CacheSize,
			})
			if err != nil {
				return err
			}
			defer embedder.Close()

			index, err := rules.Open(logger, embedder, rules.IndexOptions{
				Dir:     cfg.Rules.IndexPath,
				Workers: cfg.Rules.IngestWorkers,
			})
			if err != nil {
				return err
			}
			defer index.Close()

			out.Statusf("📚", "Ingesting rules from %s", rulesDir)
			n, err := index.Ingest(ctx, rulesDir)
			if err != nil {
				return err
			}

			out.Successf("Indexed %d excerpts into %s", n, cfg.Rules.IndexPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&rulesDir, "rules-dir", "", "directory of markdown rule files (default from config)")

	return cmd
}
