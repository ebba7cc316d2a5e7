package embed

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestNew_StaticProvider(t *testing.T) {
	e, err := New(context.Background(), discardLogger(), Options{Provider: "static"})
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, "static-hash", e.ModelName())
	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), discardLogger(), Options{Provider: "mlx"})
	assert.Error(t, err)
}

func TestNew_OllamaFallsBackToStatic(t *testing.T) {
	// An unreachable endpoint degrades to static embeddings instead of
	// failing the whole pipeline.
	e, err := New(context.Background(), discardLogger(), Options{
		Provider: "ollama",
		Endpoint: "http://127.0.0.1:1", // nothing listens here
	})
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, "static-hash", e.ModelName())
}
