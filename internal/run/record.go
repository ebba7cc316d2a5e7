// Package run models review runs and persists their lifecycle.
package run

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	ierrors "github.com/vetrail/vetrail/internal/errors"
	"github.com/vetrail/vetrail/internal/review"
)

// ChunkStatus is the lifecycle state of a single chunk's review.
type ChunkStatus string

const (
	ChunkPending    ChunkStatus = "pending"
	ChunkInProgress ChunkStatus = "in_progress"
	ChunkDone       ChunkStatus = "done"
	ChunkFailed     ChunkStatus = "failed"
)

// chunkTransitions maps each chunk status to its legal successors.
// Terminal states have no successors.
var chunkTransitions = map[ChunkStatus][]ChunkStatus{
	ChunkPending:    {ChunkInProgress},
	ChunkInProgress: {ChunkDone, ChunkFailed},
}

// CanTransition reports whether s may move to next.
func (s ChunkStatus) CanTransition(next ChunkStatus) bool {
	for _, allowed := range chunkTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RunStatus is the lifecycle state of a whole run.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunInProgress RunStatus = "in_progress"
	RunSuccess    RunStatus = "success"
	RunPartial    RunStatus = "partial"
	RunFailed     RunStatus = "failed"
)

var runTransitions = map[RunStatus][]RunStatus{
	RunPending:    {RunInProgress},
	RunInProgress: {RunSuccess, RunPartial, RunFailed},
}

// CanTransition reports whether s may move to next.
func (s RunStatus) CanTransition(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the run has finished.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunPartial || s == RunFailed
}

// ChunkResult is the immutable outcome of one chunk's review.
type ChunkResult struct {
	ChunkID  int              `json:"chunk_id"`
	Status   ChunkStatus      `json:"status"`
	Findings []review.Finding `json:"findings,omitempty"`

	// ErrCode and ErrMessage describe the failure for failed chunks.
	ErrCode    string `json:"err_code,omitempty"`
	ErrMessage string `json:"err_message,omitempty"`
}

// Record is the full state of one review run.
type Record struct {
	RunID       string
	Target      string
	Revision    string
	Status      RunStatus
	TotalChunks int
	Chunks      map[int]ChunkResult
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewRecord creates a pending record with every chunk pending.
func NewRecord(runID, target, revision string, totalChunks int) *Record {
	now := time.Now().UTC()
	chunks := make(map[int]ChunkResult, totalChunks)
	for i := 0; i < totalChunks; i++ {
		chunks[i] = ChunkResult{ChunkID: i, Status: ChunkPending}
	}
	return &Record{
		RunID:       runID,
		Target:      target,
		Revision:    revision,
		Status:      RunPending,
		TotalChunks: totalChunks,
		Chunks:      chunks,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetStatus moves the run to next, rejecting illegal transitions.
func (r *Record) SetStatus(next RunStatus) error {
	if !r.Status.CanTransition(next) {
		return ierrors.InternalError(
			fmt.Sprintf("illegal run transition %s -> %s", r.Status, next), nil)
	}
	r.Status = next
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// SetChunkResult records a chunk outcome, rejecting illegal transitions.
func (r *Record) SetChunkResult(res ChunkResult) error {
	current, ok := r.Chunks[res.ChunkID]
	if !ok {
		return ierrors.InternalError(
			fmt.Sprintf("unknown chunk id %d", res.ChunkID), nil)
	}
	if !current.Status.CanTransition(res.Status) {
		return ierrors.InternalError(
			fmt.Sprintf("illegal chunk transition %s -> %s for chunk %d",
				current.Status, res.Status, res.ChunkID), nil)
	}
	r.Chunks[res.ChunkID] = res
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// TerminalStatus derives the run's terminal state from its chunk outcomes:
// all done is success, all failed is failed, a mix is partial.
func (r *Record) TerminalStatus() RunStatus {
	done, failed := 0, 0
	for _, c := range r.Chunks {
		switch c.Status {
		case ChunkDone:
			done++
		case ChunkFailed:
			failed++
		}
	}
	switch {
	case failed == 0:
		return RunSuccess
	case done == 0:
		return RunFailed
	default:
		return RunPartial
	}
}

// Findings flattens chunk findings in ascending chunk-ID order.
func (r *Record) Findings() []review.Finding {
	var out []review.Finding
	for i := 0; i < r.TotalChunks; i++ {
		out = append(out, r.Chunks[i].Findings...)
	}
	return out
}

// Clone returns a deep copy safe to hand across goroutines.
func (r *Record) Clone() *Record {
	out := *r
	out.Chunks = make(map[int]ChunkResult, len(r.Chunks))
	for id, c := range r.Chunks {
		cc := c
		cc.Findings = append([]review.Finding(nil), c.Findings...)
		out.Chunks[id] = cc
	}
	return &out
}

// ID derives the run identifier. Regular runs reuse the same ID for the
// same target and revision so a repeated trigger finds the earlier record;
// force-refresh runs get a fresh random ID so the old record stays fetchable.
func ID(target, revision string, forceRefresh bool) string {
	if forceRefresh {
		return uuid.NewString()
	}
	sum := sha256.Sum256([]byte(target + "|" + revision))
	return hex.EncodeToString(sum[:])[:12]
}
