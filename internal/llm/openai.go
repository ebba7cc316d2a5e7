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

// OpenAICompleter drives any OpenAI-compatible /v1/chat/completions
// endpoint with bearer-token auth.
type OpenAICompleter struct {
	client    *http.Client
	transport *http.Transport
	endpoint  string
	model     string
	apiKey    string
	timeout   time.Duration

	mu     sync.RWMutex
	closed bool
}

var _ Completer = (*OpenAICompleter)(nil)

type openaiChatRequest struct {
	Model    string              `json:"model"`
	Messages []openaiChatMessage `json:"messages"`
}

type openaiChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message openaiChatMessage `json:"message"`
	} `json:"choices"`
}

// NewOpenAICompleter creates an OpenAI-compatible completer. The endpoint
// is the API base, e.g. "https://api.openai.com" or a local gateway.
func NewOpenAICompleter(opts Options) (*OpenAICompleter, error) {
	if opts.Endpoint == "" {
		return nil, ierrors.New(ierrors.ErrCodeConfigInvalid, "openai provider requires llm.endpoint", nil)
	}
	if opts.Model == "" {
		return nil, ierrors.New(ierrors.ErrCodeConfigInvalid, "openai provider requires llm.model", nil)
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
	return &OpenAICompleter{
		client:    &http.Client{Transport: transport},
		transport: transport,
		endpoint:  opts.Endpoint,
		model:     opts.Model,
		apiKey:    opts.APIKey,
		timeout:   timeout,
	}, nil
}

// Complete sends the prompt and returns the first choice's content.
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return "", ierrors.New(ierrors.ErrCodeProvider, "completer is closed", nil)
	}
	c.mu.RUnlock()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(openaiChatRequest{
		Model: c.model,
		Messages: []openaiChatMessage{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		c.endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

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
			fmt.Sprintf("chat completions returned %d: %s", resp.StatusCode, detail), nil)
	}

	var parsed openaiChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", ierrors.New(ierrors.ErrCodeProvider, "failed to decode chat response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", ierrors.New(ierrors.ErrCodeProvider, "chat completions returned no choices", nil)
	}
	return parsed.Choices[0].Message.Content, nil
}

// ModelName returns the model identifier.
func (c *OpenAICompleter) ModelName() string {
	return c.model
}

// Available probes the models listing.
func (c *OpenAICompleter) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/v1/models", nil)
	if err != nil {
		return false
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// Close releases the connection pool.
func (c *OpenAICompleter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.transport.CloseIdleConnections()
	return nil
}
