package llm

import (
	"context"
	"fmt"

	ierrors "github.com/vetrail/vetrail/internal/errors"
)

// New builds the configured completion provider.
func New(opts Options) (Completer, error) {
	switch opts.Provider {
	case "ollama":
		return NewOllamaCompleter(opts), nil
	case "openai":
		return NewOpenAICompleter(opts)
	default:
		return nil, ierrors.New(ierrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown llm provider %q", opts.Provider), nil)
	}
}

// CompleteWithRetry runs Complete under the standard retry policy.
// Transient provider errors are retried with backoff; non-retryable coded
// errors return immediately.
func CompleteWithRetry(ctx context.Context, c Completer, cfg ierrors.RetryConfig, prompt string) (string, error) {
	return ierrors.RetryWithResult(ctx, cfg, func() (string, error) {
		return c.Complete(ctx, prompt)
	})
}
