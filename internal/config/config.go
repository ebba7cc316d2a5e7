// Package config loads and validates vetrail configuration.
//
// Configuration is applied in order of increasing precedence:
//  1. Hardcoded defaults (NewConfig)
//  2. User config (~/.config/vetrail/config.yaml)
//  3. Project config (.vetrail.yaml in the working directory)
//  4. Environment variables (VETRAIL_*)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	ierrors "github.com/vetrail/vetrail/internal/errors"
)

// Config represents the complete vetrail configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Retrieval  RetrievalConfig  `yaml:"retrieval" json:"retrieval"`
	Review     ReviewConfig     `yaml:"review" json:"review"`
	Rules      RulesConfig      `yaml:"rules" json:"rules"`
	Anchors    AnchorsConfig    `yaml:"anchors" json:"anchors"`
	SCM        SCMConfig        `yaml:"scm" json:"scm"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// LLMConfig configures the review model provider.
type LLMConfig struct {
	// Provider selects the completion backend.
	// Options: "ollama" (default) or "openai" (any OpenAI-compatible endpoint).
	Provider string `yaml:"provider" json:"provider"`

	Model    string `yaml:"model" json:"model"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// APIKeyEnv names the environment variable holding the API key for
	// OpenAI-compatible endpoints. The key itself never lives in config files.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`

	// Timeout bounds a single completion call, including the repair attempt's
	// second call which gets its own full timeout.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MaxPromptBytes caps the assembled prompt size. Excerpts are dropped
	// lowest-score-first until the prompt fits.
	MaxPromptBytes int `yaml:"max_prompt_bytes" json:"max_prompt_bytes"`
}

// EmbeddingsConfig configures the embedding provider used for rule retrieval.
type EmbeddingsConfig struct {
	// Provider selects the embedding backend.
	// Options: "ollama" (default) or "static" (hash-based, offline fallback).
	Provider   string `yaml:"provider" json:"provider"`
	Model      string `yaml:"model" json:"model"`
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
}

// RetrievalConfig configures rule excerpt retrieval.
type RetrievalConfig struct {
	// TopK is the maximum number of excerpts attached to a chunk.
	TopK int `yaml:"top_k" json:"top_k"`

	// SimilarityThreshold is the minimum cosine similarity for an excerpt
	// to qualify (0.0-1.0). Excerpts below it are dropped even if fewer
	// than TopK qualify.
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`

	// KeywordOnly routes retrieval through the keyword index instead of
	// vector search. Forced on automatically when the embedder degrades
	// or its dimensions do not match the persisted vector index.
	KeywordOnly bool `yaml:"keyword_only" json:"keyword_only"`
}

// ReviewConfig configures chunking and orchestration.
type ReviewConfig struct {
	// MaxChunkLines bounds the changed-line count of a chunk. A single file
	// exceeding it still becomes one chunk, flagged oversized.
	MaxChunkLines int `yaml:"max_chunk_lines" json:"max_chunk_lines"`

	// Parallelism caps concurrent chunk reviews.
	Parallelism int `yaml:"parallelism" json:"parallelism"`

	// RunTimeout bounds an entire review run.
	RunTimeout time.Duration `yaml:"run_timeout" json:"run_timeout"`

	// MinPublishSeverity is the severity floor for auto-publishing findings.
	// Options: "high" (default), "medium", "low".
	MinPublishSeverity string `yaml:"min_publish_severity" json:"min_publish_severity"`

	// StorePath is the SQLite database holding run records and published keys.
	StorePath string `yaml:"store_path" json:"store_path"`
}

// RulesConfig configures the rulebook index.
type RulesConfig struct {
	// Dir is the directory of markdown rulebook files to ingest.
	Dir string `yaml:"dir" json:"dir"`

	// IndexPath is the directory holding the vector, keyword, and metadata
	// indexes built from Dir.
	IndexPath string `yaml:"index_path" json:"index_path"`

	// Watch re-ingests the rulebook when files under Dir change.
	Watch bool `yaml:"watch" json:"watch"`

	// WatchDebounce coalesces bursts of file events into one re-ingest.
	WatchDebounce time.Duration `yaml:"watch_debounce" json:"watch_debounce"`

	// IngestWorkers caps concurrent excerpt embedding during ingest.
	IngestWorkers int `yaml:"ingest_workers" json:"ingest_workers"`
}

// AnchorsConfig configures the anchor pattern registry.
type AnchorsConfig struct {
	// Path points at a YAML registry file. Empty uses the built-in registry.
	Path string `yaml:"path" json:"path"`
}

// SCMConfig configures the source-control host.
type SCMConfig struct {
	// Provider selects the SCM backend. Currently only "bitbucket".
	Provider string `yaml:"provider" json:"provider"`

	BaseURL   string `yaml:"base_url" json:"base_url"`
	Workspace string `yaml:"workspace" json:"workspace"`

	// UsernameEnv and PasswordEnv name the environment variables holding
	// the app-password credentials.
	UsernameEnv string `yaml:"username_env" json:"username_env"`
	PasswordEnv string `yaml:"password_env" json:"password_env"`

	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// ServerConfig configures the daemon socket.
type ServerConfig struct {
	// SocketPath is the Unix socket the daemon listens on.
	// Empty uses ~/.vetrail/vetrail.sock.
	SocketPath string `yaml:"socket_path" json:"socket_path"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		LLM: LLMConfig{
			Provider:       "ollama",
			Model:          "qwen3:8b",
			Endpoint:       "", // Empty uses default http://localhost:11434
			APIKeyEnv:      "VETRAIL_LLM_API_KEY",
			Timeout:        120 * time.Second,
			MaxPromptBytes: 48 * 1024,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "ollama",
			Model:      "qwen3-embedding:8b",
			Endpoint:   "", // Empty uses default http://localhost:11434
			Dimensions: 0,  // Auto-detect from embedder
			CacheSize:  1000,
		},
		Retrieval: RetrievalConfig{
			TopK:                5,
			SimilarityThreshold: 0.35,
		},
		Review: ReviewConfig{
			MaxChunkLines:      400,
			Parallelism:        4,
			RunTimeout:         15 * time.Minute,
			MinPublishSeverity: "high",
			StorePath:          defaultStorePath(),
		},
		Rules: RulesConfig{
			Dir:           "rules",
			IndexPath:     defaultIndexPath(),
			Watch:         false,
			WatchDebounce: 500 * time.Millisecond,
			IngestWorkers: runtime.NumCPU(),
		},
		Anchors: AnchorsConfig{
			Path: "", // Built-in registry
		},
		SCM: SCMConfig{
			Provider:    "bitbucket",
			BaseURL:     "https://api.bitbucket.org/2.0",
			UsernameEnv: "VETRAIL_SCM_USERNAME",
			PasswordEnv: "VETRAIL_SCM_PASSWORD",
			Timeout:     30 * time.Second,
		},
		Server: ServerConfig{
			SocketPath: "", // Empty uses DefaultSocketPath
			LogLevel:   "info",
		},
	}
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".vetrail", "runs.db")
	}
	return filepath.Join(home, ".vetrail", "runs.db")
}

func defaultIndexPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".vetrail", "index")
	}
	return filepath.Join(home, ".vetrail", "index")
}

// DefaultSocketPath returns the daemon's default Unix socket path.
func DefaultSocketPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".vetrail", "vetrail.sock")
	}
	return filepath.Join(home, ".vetrail", "vetrail.sock")
}

// GetUserConfigPath returns the path to the user configuration file,
// following the XDG Base Directory layout.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vetrail", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "vetrail", "config.yaml")
	}
	return filepath.Join(home, ".config", "vetrail", "config.yaml")
}

// Load loads configuration for the given project directory, layering user
// config, project config, and environment overrides on top of defaults.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	userPath := GetUserConfigPath()
	if fileExists(userPath) {
		if err := cfg.loadYAML(userPath); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadFromDir(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile loads configuration from an explicit file path, then applies
// environment overrides. A missing file is an error here, unlike Load.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if !fileExists(path) {
		return nil, ierrors.New(ierrors.ErrCodeConfigNotFound,
			fmt.Sprintf("config file not found: %s", path), nil)
	}
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromDir attempts to load .vetrail.yaml or .vetrail.yml from dir.
// No project config is fine; defaults apply.
func (c *Config) loadFromDir(dir string) error {
	for _, name := range []string{".vetrail.yaml", ".vetrail.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeConfigNotFound,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return ierrors.New(ierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}

	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.LLM.Provider != "" {
		c.LLM.Provider = other.LLM.Provider
	}
	if other.LLM.Model != "" {
		c.LLM.Model = other.LLM.Model
	}
	if other.LLM.Endpoint != "" {
		c.LLM.Endpoint = other.LLM.Endpoint
	}
	if other.LLM.APIKeyEnv != "" {
		c.LLM.APIKeyEnv = other.LLM.APIKeyEnv
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}
	if other.LLM.MaxPromptBytes != 0 {
		c.LLM.MaxPromptBytes = other.LLM.MaxPromptBytes
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Endpoint != "" {
		c.Embeddings.Endpoint = other.Embeddings.Endpoint
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.CacheSize != 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Retrieval.TopK != 0 {
		c.Retrieval.TopK = other.Retrieval.TopK
	}
	if other.Retrieval.SimilarityThreshold != 0 {
		c.Retrieval.SimilarityThreshold = other.Retrieval.SimilarityThreshold
	}
	if other.Retrieval.KeywordOnly {
		c.Retrieval.KeywordOnly = true
	}

	if other.Review.MaxChunkLines != 0 {
		c.Review.MaxChunkLines = other.Review.MaxChunkLines
	}
	if other.Review.Parallelism != 0 {
		c.Review.Parallelism = other.Review.Parallelism
	}
	if other.Review.RunTimeout != 0 {
		c.Review.RunTimeout = other.Review.RunTimeout
	}
	if other.Review.MinPublishSeverity != "" {
		c.Review.MinPublishSeverity = other.Review.MinPublishSeverity
	}
	if other.Review.StorePath != "" {
		c.Review.StorePath = other.Review.StorePath
	}

	if other.Rules.Dir != "" {
		c.Rules.Dir = other.Rules.Dir
	}
	if other.Rules.IndexPath != "" {
		c.Rules.IndexPath = other.Rules.IndexPath
	}
	if other.Rules.Watch {
		c.Rules.Watch = true
	}
	if other.Rules.WatchDebounce != 0 {
		c.Rules.WatchDebounce = other.Rules.WatchDebounce
	}
	if other.Rules.IngestWorkers != 0 {
		c.Rules.IngestWorkers = other.Rules.IngestWorkers
	}

	if other.Anchors.Path != "" {
		c.Anchors.Path = other.Anchors.Path
	}

	if other.SCM.Provider != "" {
		c.SCM.Provider = other.SCM.Provider
	}
	if other.SCM.BaseURL != "" {
		c.SCM.BaseURL = other.SCM.BaseURL
	}
	if other.SCM.Workspace != "" {
		c.SCM.Workspace = other.SCM.Workspace
	}
	if other.SCM.UsernameEnv != "" {
		c.SCM.UsernameEnv = other.SCM.UsernameEnv
	}
	if other.SCM.PasswordEnv != "" {
		c.SCM.PasswordEnv = other.SCM.PasswordEnv
	}
	if other.SCM.Timeout != 0 {
		c.SCM.Timeout = other.SCM.Timeout
	}

	if other.Server.SocketPath != "" {
		c.Server.SocketPath = other.Server.SocketPath
	}
	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
}

// applyEnvOverrides applies VETRAIL_* environment variables, the highest
// precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("VETRAIL_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("VETRAIL_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("VETRAIL_LLM_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("VETRAIL_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("VETRAIL_EMBEDDINGS_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("VETRAIL_EMBEDDINGS_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
	if v := os.Getenv("VETRAIL_RETRIEVAL_TOP_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			c.Retrieval.TopK = k
		}
	}
	if v := os.Getenv("VETRAIL_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Retrieval.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("VETRAIL_RETRIEVAL_KEYWORD_ONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Retrieval.KeywordOnly = b
		}
	}
	if v := os.Getenv("VETRAIL_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Review.Parallelism = n
		}
	}
	if v := os.Getenv("VETRAIL_RULES_DIR"); v != "" {
		c.Rules.Dir = v
	}
	if v := os.Getenv("VETRAIL_SOCKET_PATH"); v != "" {
		c.Server.SocketPath = v
	}
	if v := os.Getenv("VETRAIL_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
}

// Validate checks the final configuration for values that would make a run
// misbehave rather than fail loudly.
func (c *Config) Validate() error {
	if c.Retrieval.TopK < 1 {
		return ierrors.New(ierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("retrieval.top_k must be >= 1, got %d", c.Retrieval.TopK), nil)
	}
	if c.Retrieval.SimilarityThreshold < 0 || c.Retrieval.SimilarityThreshold > 1 {
		return ierrors.New(ierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("retrieval.similarity_threshold must be in [0,1], got %g", c.Retrieval.SimilarityThreshold), nil)
	}
	if c.Review.MaxChunkLines < 1 {
		return ierrors.New(ierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("review.max_chunk_lines must be >= 1, got %d", c.Review.MaxChunkLines), nil)
	}
	if c.Review.Parallelism < 1 {
		return ierrors.New(ierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("review.parallelism must be >= 1, got %d", c.Review.Parallelism), nil)
	}
	switch c.Review.MinPublishSeverity {
	case "high", "medium", "low":
	default:
		return ierrors.New(ierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("review.min_publish_severity must be high, medium, or low, got %q", c.Review.MinPublishSeverity), nil)
	}
	switch c.LLM.Provider {
	case "ollama", "openai":
	default:
		return ierrors.New(ierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("llm.provider must be ollama or openai, got %q", c.LLM.Provider), nil)
	}
	switch c.Embeddings.Provider {
	case "ollama", "static":
	default:
		return ierrors.New(ierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("embeddings.provider must be ollama or static, got %q", c.Embeddings.Provider), nil)
	}
	if c.LLM.MaxPromptBytes < 1024 {
		return ierrors.New(ierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("llm.max_prompt_bytes must be >= 1024, got %d", c.LLM.MaxPromptBytes), nil)
	}
	return nil
}

// Save writes the configuration to path as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// SocketPath returns the configured socket path or the default.
func (c *Config) SocketPath() string {
	if c.Server.SocketPath != "" {
		return c.Server.SocketPath
	}
	return DefaultSocketPath()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
