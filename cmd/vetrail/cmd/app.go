package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/vetrail/vetrail/internal/anchor"
	"github.com/vetrail/vetrail/internal/config"
	"github.com/vetrail/vetrail/internal/embed"
	"github.com/vetrail/vetrail/internal/llm"
	"github.com/vetrail/vetrail/internal/pipeline"
	"github.com/vetrail/vetrail/internal/publish"
	"github.com/vetrail/vetrail/internal/retrieval"
	"github.com/vetrail/vetrail/internal/review"
	"github.com/vetrail/vetrail/internal/rules"
	"github.com/vetrail/vetrail/internal/run"
	"github.com/vetrail/vetrail/internal/scm"
)

// loadConfig honors the --config flag, falling back to the layered
// default lookup.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load(".")
}

// app holds the wired pipeline components for one CLI invocation.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	embedder     embed.Embedder
	index        *rules.Index
	completer    llm.Completer
	store        *run.Store
	client       scm.Client
	orchestrator *pipeline.Orchestrator
	publisher    *publish.Publisher
}

// newApp builds the full pipeline from configuration.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := slog.Default()

	embedder, err := embed.New(ctx, logger, embed.Options{
		Provider:   cfg.Embeddings.Provider,
		Model:      cfg.Embeddings.Model,
		Endpoint:   cfg.Embeddings.Endpoint,
		Dimensions: cfg.Embeddings.Dimensions,
		CacheSize:  cfg.Embeddings.CacheSize,
	})
	if err != nil {
		return nil, err
	}

	index, err := rules.Open(logger, embedder, rules.IndexOptions{
		Dir:     cfg.Rules.IndexPath,
		Workers: cfg.Rules.IngestWorkers,
	})
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	completer, err := llm.New(llm.Options{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		Endpoint: cfg.LLM.Endpoint,
		APIKey:   os.Getenv(cfg.LLM.APIKeyEnv),
		Timeout:  cfg.LLM.Timeout,
	})
	if err != nil {
		_ = index.Close()
		_ = embedder.Close()
		return nil, err
	}

	store, err := run.NewStore(cfg.Review.StorePath)
	if err != nil {
		_ = completer.Close()
		_ = index.Close()
		_ = embedder.Close()
		return nil, err
	}

	registry, err := anchor.Load(cfg.Anchors.Path)
	if err != nil {
		_ = store.Close()
		_ = completer.Close()
		_ = index.Close()
		_ = embedder.Close()
		return nil, err
	}

	client := scm.NewBitbucket(logger, scm.BitbucketConfig{
		BaseURL:     cfg.SCM.BaseURL,
		Username:    os.Getenv(cfg.SCM.UsernameEnv),
		AppPassword: os.Getenv(cfg.SCM.PasswordEnv),
		Timeout:     cfg.SCM.Timeout,
	})

	engine := retrieval.NewEngine(logger, index, retrieval.Options{
		TopK:                cfg.Retrieval.TopK,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		KeywordOnly:         keywordOnlyRetrieval(logger, cfg, embedder, index),
	})
	invoker := review.NewInvoker(logger, completer, review.InvokerOptions{
		MaxPromptBytes: cfg.LLM.MaxPromptBytes,
	})
	orchestrator := pipeline.New(logger, client, anchor.NewDetector(registry),
		engine, invoker, store, pipeline.Options{
			MaxChunkLines: cfg.Review.MaxChunkLines,
			Parallelism:   cfg.Review.Parallelism,
			RunTimeout:    cfg.Review.RunTimeout,
		})

	return &app{
		cfg:          cfg,
		logger:       logger,
		embedder:     embedder,
		index:        index,
		completer:    completer,
		store:        store,
		client:       client,
		orchestrator: orchestrator,
		publisher:    publish.New(logger, client, store),
	}, nil
}

// keywordOnlyRetrieval decides whether retrieval must take the keyword
// path: explicit config, an embedder factory that degraded to the static
// fallback, or an embedder whose dimensions no longer match the persisted
// vector index. Querying a mismatched vector index fails on every chunk,
// so the keyword index is the usable degraded surface.
func keywordOnlyRetrieval(logger *slog.Logger, cfg *config.Config, embedder embed.Embedder, index *rules.Index) bool {
	if cfg.Retrieval.KeywordOnly {
		return true
	}
	if cfg.Embeddings.Provider != "static" && embed.IsStatic(embedder) {
		logger.Warn("embedder degraded to static fallback, retrieval will use the keyword index")
		return true
	}
	if embedder.Dimensions() != index.Dimensions() {
		logger.Warn("embedder dimensions do not match the vector index, retrieval will use the keyword index",
			slog.Int("embedder_dims", embedder.Dimensions()),
			slog.Int("index_dims", index.Dimensions()))
		return true
	}
	return false
}

// Close releases the app's resources in reverse wiring order.
func (a *app) Close() {
	_ = a.store.Close()
	_ = a.completer.Close()
	_ = a.index.Close()
	_ = a.embedder.Close()
}
