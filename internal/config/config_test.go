package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/vetrail/vetrail/internal/errors"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.35, cfg.Retrieval.SimilarityThreshold, 1e-9)
	assert.Equal(t, 400, cfg.Review.MaxChunkLines)
	assert.Equal(t, 4, cfg.Review.Parallelism)
	assert.Equal(t, "high", cfg.Review.MinPublishSeverity)
	assert.Equal(t, "bitbucket", cfg.SCM.Provider)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoConfigFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	// Given: a project config overriding retrieval and review knobs
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	yaml := `
retrieval:
  top_k: 8
  similarity_threshold: 0.5
review:
  max_chunk_lines: 200
  parallelism: 2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".vetrail.yaml"), []byte(yaml), 0o644))

	// When: loading
	cfg, err := Load(dir)
	require.NoError(t, err)

	// Then: overridden values apply, untouched values keep defaults
	assert.Equal(t, 8, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.5, cfg.Retrieval.SimilarityThreshold, 1e-9)
	assert.Equal(t, 200, cfg.Review.MaxChunkLines)
	assert.Equal(t, 2, cfg.Review.Parallelism)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
}

func TestLoad_EnvOverridesProjectConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	yaml := "retrieval:\n  top_k: 8\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".vetrail.yaml"), []byte(yaml), 0o644))
	t.Setenv("VETRAIL_RETRIEVAL_TOP_K", "3")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
}

func TestLoad_InvalidYAMLReturnsCodedError(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".vetrail.yaml"), []byte("retrieval: ["), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeConfigInvalid, ierrors.GetCode(err))
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeConfigNotFound, ierrors.GetCode(err))
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero top_k", func(c *Config) { c.Retrieval.TopK = 0 }},
		{"threshold above one", func(c *Config) { c.Retrieval.SimilarityThreshold = 1.5 }},
		{"negative threshold", func(c *Config) { c.Retrieval.SimilarityThreshold = -0.1 }},
		{"zero chunk lines", func(c *Config) { c.Review.MaxChunkLines = 0 }},
		{"zero parallelism", func(c *Config) { c.Review.Parallelism = 0 }},
		{"bad severity floor", func(c *Config) { c.Review.MinPublishSeverity = "critical" }},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "anthropic" }},
		{"unknown embeddings provider", func(c *Config) { c.Embeddings.Provider = "mlx" }},
		{"tiny prompt budget", func(c *Config) { c.LLM.MaxPromptBytes = 100 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, ierrors.ErrCodeConfigInvalid, ierrors.GetCode(err))
		})
	}
}

func TestSaveAndLoadFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := NewConfig()
	cfg.Retrieval.TopK = 7
	cfg.LLM.Timeout = 90 * time.Second
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Retrieval.TopK)
	assert.Equal(t, 90*time.Second, loaded.LLM.Timeout)
}

func TestSocketPath(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, DefaultSocketPath(), cfg.SocketPath())

	cfg.Server.SocketPath = "/tmp/custom.sock"
	assert.Equal(t, "/tmp/custom.sock", cfg.SocketPath())
}
