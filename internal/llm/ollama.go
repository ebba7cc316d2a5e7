package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	ierrors "github.com/vetrail/vetrail/internal/errors"
)

// OllamaCompleter drives Ollama's /api/chat endpoint with format=json so
// the model is constrained to emit parseable output.
type OllamaCompleter struct {
	client    *http.Client
	transport *http.Transport
	host      string
	model     string
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
}

var _ Completer = (*OllamaCompleter)(nil)

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Format   string              `json:"format,omitempty"`
	Stream   bool                `json:"stream"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

// NewOllamaCompleter creates an Ollama-backed completer.
func NewOllamaCompleter(opts Options) *OllamaCompleter {
	host := opts.Endpoint
	if host == "" {
		host = DefaultOllamaHost
	}
	model := opts.Model
	if model == "" {
		model = DefaultOllamaModel
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        4,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     30 * time.Second,
	}
	return &OllamaCompleter{
		client:    &http.Client{Transport: transport},
		transport: transport,
		host:      host,
		model:     model,
		timeout:   timeout,
	}
}

// Complete sends the prompt as a single user message and returns the
// model's reply content.
func (c *OllamaCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return "", ierrors.New(ierrors.ErrCodeProvider, "completer is closed", nil)
	}
	c.mu.RUnlock()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(ollamaChatRequest{
		Model: c.model,
		Messages: []ollamaChatMessage{
			{Role: "user", Content: prompt},
		},
		Format: "json",
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if reqCtx.Err() == context.DeadlineExceeded {
			return "", ierrors.TimeoutError("completion timed out", err)
		}
		return "", ierrors.New(ierrors.ErrCodeProvider, "completion request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", ierrors.New(ierrors.ErrCodeProvider,
			fmt.Sprintf("ollama chat returned %d: %s", resp.StatusCode, detail), nil)
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", ierrors.New(ierrors.ErrCodeProvider, "failed to decode chat response", err)
	}
	return parsed.Message.Content, nil
}

// ModelName returns the model identifier.
func (c *OllamaCompleter) ModelName() string {
	return c.model
}

// Available probes the endpoint.
func (c *OllamaCompleter) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases the connection pool.
func (c *OllamaCompleter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.transport.CloseIdleConnections()
	return nil
}
