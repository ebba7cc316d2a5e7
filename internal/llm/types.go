// Package llm provides the reasoning-engine capability interface and its
// HTTP providers. The review pipeline only sees Completer; which model sits
// behind it is a config decision made once at startup.
package llm

import (
	"context"
	"time"
)

const (
	// DefaultTimeout bounds a single completion call.
	DefaultTimeout = 120 * time.Second

	// DefaultOllamaHost is the default Ollama API endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the default review model.
	DefaultOllamaModel = "qwen3:8b"
)

// Completer produces a completion for a review prompt.
type Completer interface {
	// Complete sends the prompt and returns the raw model output.
	Complete(ctx context.Context, prompt string) (string, error)

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the provider is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// Options selects and configures a completion provider.
type Options struct {
	// Provider is "ollama" or "openai".
	Provider string

	Model    string
	Endpoint string

	// APIKey authenticates OpenAI-compatible endpoints. Ignored by Ollama.
	APIKey string

	Timeout time.Duration
}
