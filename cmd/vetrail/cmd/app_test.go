package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetrail/vetrail/internal/anchor"
	"github.com/vetrail/vetrail/internal/config"
	"github.com/vetrail/vetrail/internal/embed"
	"github.com/vetrail/vetrail/internal/retrieval"
	"github.com/vetrail/vetrail/internal/rules"
)

// wideEmbedder reports a dimension no real index carries.
type wideEmbedder struct{ embed.Embedder }

func (w *wideEmbedder) Dimensions() int { return 999 }

func testRulesIndex(t *testing.T, embedder embed.Embedder) *rules.Index {
	t.Helper()
	idx, err := rules.Open(slog.New(slog.DiscardHandler), embedder, rules.IndexOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestKeywordOnlyRetrieval_ExplicitConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "static"
	cfg.Retrieval.KeywordOnly = true
	embedder := embed.NewStaticEmbedder()
	idx := testRulesIndex(t, embedder)

	assert.True(t, keywordOnlyRetrieval(slog.New(slog.DiscardHandler), cfg, embedder, idx))
}

func TestKeywordOnlyRetrieval_DegradedFallback(t *testing.T) {
	// Provider says ollama but the factory handed back the static
	// fallback; vector search against an ollama-built index would fail.
	cfg := config.NewConfig()
	embedder := embed.NewStaticEmbedder()
	idx := testRulesIndex(t, embedder)

	assert.True(t, keywordOnlyRetrieval(slog.New(slog.DiscardHandler), cfg, embedder, idx))
}

func TestKeywordOnlyRetrieval_StaticByChoice(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "static"
	embedder := embed.NewStaticEmbedder()
	idx := testRulesIndex(t, embedder)

	assert.False(t, keywordOnlyRetrieval(slog.New(slog.DiscardHandler), cfg, embedder, idx))
}

func TestKeywordOnlyRetrieval_DimensionMismatch(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Embeddings.Provider = "static"
	embedder := embed.NewStaticEmbedder()
	idx := testRulesIndex(t, &wideEmbedder{embedder})

	assert.True(t, keywordOnlyRetrieval(slog.New(slog.DiscardHandler), cfg, embedder, idx))
}

func TestDegradedRetrievalStillFindsExcerpts(t *testing.T) {
	// Wire the engine the way newApp does for a degraded embedder and
	// confirm excerpts still come back through the keyword index.
	logger := slog.New(slog.DiscardHandler)
	embedder := embed.NewStaticEmbedder()
	idx := testRulesIndex(t, embedder)

	dir := t.TempDir()
	rulePath := filepath.Join(dir, "sql.md")
	require.NoError(t, os.WriteFile(rulePath, []byte(`## Parameterized SQL queries
Severity: high
Category: sql
Use parameterized SQL statements for every database query.
`), 0o644))
	_, err := idx.Ingest(context.Background(), dir)
	require.NoError(t, err)

	cfg := config.NewConfig()
	engine := retrieval.NewEngine(logger, idx, retrieval.Options{
		TopK:                cfg.Retrieval.TopK,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		KeywordOnly:         keywordOnlyRetrieval(logger, cfg, embedder, idx),
	})

	results, err := engine.Retrieve(context.Background(), anchor.Set{Tags: []string{"sql"}})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Parameterized SQL queries", results[0].Excerpt.Title)
}
