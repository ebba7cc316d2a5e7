package daemon

import (
	"fmt"
	"time"

	"github.com/vetrail/vetrail/internal/review"
	"github.com/vetrail/vetrail/internal/run"
)

// JSON-RPC 2.0 method names.
const (
	MethodTriggerReview  = "trigger_review"
	MethodRunStatus      = "run_status"
	MethodPublishFinding = "publish_finding"
	MethodPublishRun     = "publish_run"
	MethodPing           = "ping"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Custom error codes for vetrail-specific failures.
const (
	// ErrCodeTriggerFailed means the review could not be started.
	ErrCodeTriggerFailed = -32001

	// ErrCodePublishFailed means a comment post was rejected.
	ErrCodePublishFailed = -32002

	// ErrCodeRunNotFound means the run ID is unknown. A run triggered
	// moments ago may not have materialized yet; callers may retry.
	ErrCodeRunNotFound = -32004
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// TriggerParams are the parameters for trigger_review.
type TriggerParams struct {
	Workspace   string `json:"workspace"`
	Repo        string `json:"repo"`
	PullRequest int    `json:"pull_request"`

	// Revision pins the source commit; optional.
	Revision string `json:"revision,omitempty"`

	// ForceRefresh reruns the review under a fresh run ID even when a
	// record for the target and revision already exists.
	ForceRefresh bool `json:"force_refresh,omitempty"`
}

// Validate checks that required fields are present.
func (p *TriggerParams) Validate() error {
	if p.Workspace == "" {
		return fmt.Errorf("workspace is required")
	}
	if p.Repo == "" {
		return fmt.Errorf("repo is required")
	}
	if p.PullRequest <= 0 {
		return fmt.Errorf("pull_request must be positive")
	}
	return nil
}

// TriggerResult carries the ID of the started (or reused) run.
type TriggerResult struct {
	RunID string `json:"run_id"`
}

// RunStatusParams are the parameters for run_status.
type RunStatusParams struct {
	RunID string `json:"run_id"`
}

// Validate checks that required fields are present.
func (p *RunStatusParams) Validate() error {
	if p.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	return nil
}

// ChunkStatusResult is one chunk's state in a run snapshot.
type ChunkStatusResult struct {
	ChunkID    int              `json:"chunk_id"`
	Status     string           `json:"status"`
	ErrCode    string           `json:"err_code,omitempty"`
	ErrMessage string           `json:"err_message,omitempty"`
	Findings   []review.Finding `json:"findings,omitempty"`
}

// RunStatusResult is a read-only snapshot of a run.
type RunStatusResult struct {
	RunID       string              `json:"run_id"`
	Target      string              `json:"target"`
	Revision    string              `json:"revision,omitempty"`
	Status      string              `json:"status"`
	TotalChunks int                 `json:"total_chunks"`
	Chunks      []ChunkStatusResult `json:"chunks"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// NewRunStatusResult flattens a run record into its wire shape, chunks in
// ascending chunk-ID order.
func NewRunStatusResult(rec *run.Record) RunStatusResult {
	out := RunStatusResult{
		RunID:       rec.RunID,
		Target:      rec.Target,
		Revision:    rec.Revision,
		Status:      string(rec.Status),
		TotalChunks: rec.TotalChunks,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
	for i := 0; i < rec.TotalChunks; i++ {
		c := rec.Chunks[i]
		out.Chunks = append(out.Chunks, ChunkStatusResult{
			ChunkID:    c.ChunkID,
			Status:     string(c.Status),
			ErrCode:    c.ErrCode,
			ErrMessage: c.ErrMessage,
			Findings:   c.Findings,
		})
	}
	return out
}

// PublishFindingParams are the parameters for publish_finding.
type PublishFindingParams struct {
	RunID       string `json:"run_id"`
	ChunkID     int    `json:"chunk_id"`
	FindingKey  string `json:"finding_key"`
	Workspace   string `json:"workspace"`
	Repo        string `json:"repo"`
	PullRequest int    `json:"pull_request"`
}

// Validate checks that required fields are present.
func (p *PublishFindingParams) Validate() error {
	if p.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if p.FindingKey == "" {
		return fmt.Errorf("finding_key is required")
	}
	if p.Workspace == "" || p.Repo == "" || p.PullRequest <= 0 {
		return fmt.Errorf("workspace, repo and pull_request are required")
	}
	return nil
}

// PublishFindingResult reports whether the comment was posted or skipped.
type PublishFindingResult struct {
	// Result is "posted" or "already_posted".
	Result string `json:"result"`
}

// PublishRunParams are the parameters for publish_run.
type PublishRunParams struct {
	RunID       string `json:"run_id"`
	Workspace   string `json:"workspace"`
	Repo        string `json:"repo"`
	PullRequest int    `json:"pull_request"`

	// MinSeverity is the publish floor: critical, high, medium or low.
	MinSeverity string `json:"min_severity,omitempty"`
}

// Validate checks that required fields are present.
func (p *PublishRunParams) Validate() error {
	if p.RunID == "" {
		return fmt.Errorf("run_id is required")
	}
	if p.Workspace == "" || p.Repo == "" || p.PullRequest <= 0 {
		return fmt.Errorf("workspace, repo and pull_request are required")
	}
	return nil
}

// PublishRunResult reports how many findings were posted and skipped.
type PublishRunResult struct {
	Posted  int `json:"posted"`
	Skipped int `json:"skipped"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}
