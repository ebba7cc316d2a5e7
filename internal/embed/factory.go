package embed

import (
	"context"
	"fmt"
	"log/slog"

	ierrors "github.com/vetrail/vetrail/internal/errors"
)

// Options selects and configures an embedding provider.
type Options struct {
	// Provider is "ollama" or "static".
	Provider string

	Model      string
	Endpoint   string
	Dimensions int
	CacheSize  int

	// SkipHealthCheck is passed through to the Ollama provider.
	SkipHealthCheck bool
}

// New builds the configured embedder wrapped in an LRU cache.
//
// The static provider is both a config choice and the runtime fallback:
// when Ollama cannot be reached at startup the factory degrades to static
// embeddings with a warning rather than refusing to run.
func New(ctx context.Context, logger *slog.Logger, opts Options) (Embedder, error) {
	switch opts.Provider {
	case "ollama":
		inner, err := NewOllamaEmbedder(ctx, OllamaConfig{
			Host:            opts.Endpoint,
			Model:           opts.Model,
			Dimensions:      opts.Dimensions,
			SkipHealthCheck: opts.SkipHealthCheck,
		})
		if err != nil {
			logger.Warn("ollama embedder unavailable, falling back to static embeddings",
				slog.String("model", opts.Model),
				slog.String("error", err.Error()))
			return NewCachedEmbedder(NewStaticEmbedder(), opts.CacheSize), nil
		}
		logger.Info("embedder ready",
			slog.String("provider", "ollama"),
			slog.String("model", inner.ModelName()),
			slog.Int("dimensions", inner.Dimensions()))
		return NewCachedEmbedder(inner, opts.CacheSize), nil

	case "static":
		return NewCachedEmbedder(NewStaticEmbedder(), opts.CacheSize), nil

	default:
		return nil, ierrors.New(ierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown embeddings provider %q", opts.Provider), nil)
	}
}
