package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// Client connects to the daemon over its Unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	var result PingResult
	if err := c.call(ctx, MethodPing, nil, &result); err != nil {
		return err
	}
	if !result.Pong {
		return fmt.Errorf("unexpected ping result")
	}
	return nil
}

// TriggerReview asks the daemon to start (or reuse) a review run.
func (c *Client) TriggerReview(ctx context.Context, params TriggerParams) (TriggerResult, error) {
	var result TriggerResult
	if err := params.Validate(); err != nil {
		return result, fmt.Errorf("invalid params: %w", err)
	}
	err := c.call(ctx, MethodTriggerReview, params, &result)
	return result, err
}

// RunStatus fetches a snapshot of a run.
func (c *Client) RunStatus(ctx context.Context, runID string) (RunStatusResult, error) {
	var result RunStatusResult
	err := c.call(ctx, MethodRunStatus, RunStatusParams{RunID: runID}, &result)
	return result, err
}

// PublishFinding posts one finding by key.
func (c *Client) PublishFinding(ctx context.Context, params PublishFindingParams) (PublishFindingResult, error) {
	var result PublishFindingResult
	if err := params.Validate(); err != nil {
		return result, fmt.Errorf("invalid params: %w", err)
	}
	err := c.call(ctx, MethodPublishFinding, params, &result)
	return result, err
}

// PublishRun posts a run's findings at or above the severity floor.
func (c *Client) PublishRun(ctx context.Context, params PublishRunParams) (PublishRunResult, error) {
	var result PublishRunResult
	if err := params.Validate(); err != nil {
		return result, fmt.Errorf("invalid params: %w", err)
	}
	err := c.call(ctx, MethodPublishRun, params, &result)
	return result, err
}

// RPCError is a JSON-RPC error returned by the daemon, preserving the
// wire code so callers can distinguish retryable conditions like
// ErrCodeRunNotFound.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("daemon error %d: %s", e.Code, e.Message)
}

// call performs one request/response exchange on a fresh connection.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID(),
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return fmt.Errorf("failed to receive response: %w", err)
	}
	if resp.Error != nil {
		return &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if result == nil {
		return nil
	}

	resultData, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(resultData, result); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
