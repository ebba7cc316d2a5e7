// Package pipeline orchestrates a review run: fetch, chunk, and fan the
// chunks out to detect/retrieve/review workers, aggregating results into
// the run store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vetrail/vetrail/internal/anchor"
	"github.com/vetrail/vetrail/internal/chunk"
	"github.com/vetrail/vetrail/internal/diff"
	ierrors "github.com/vetrail/vetrail/internal/errors"
	"github.com/vetrail/vetrail/internal/review"
	"github.com/vetrail/vetrail/internal/rules"
	"github.com/vetrail/vetrail/internal/run"
	"github.com/vetrail/vetrail/internal/scm"
)

// Retriever yields scored rule excerpts for a chunk's anchor set.
type Retriever interface {
	Retrieve(ctx context.Context, set anchor.Set) ([]rules.Scored, error)
}

// Reviewer turns a chunk and its rule context into findings.
type Reviewer interface {
	Review(ctx context.Context, c *chunk.Chunk, excerpts []rules.Scored) ([]review.Finding, error)
}

const (
	// DefaultParallelism caps concurrent chunk reviews.
	DefaultParallelism = 4

	// DefaultRunTimeout bounds a detached run end to end.
	DefaultRunTimeout = 30 * time.Minute
)

// Options configures an Orchestrator.
type Options struct {
	MaxChunkLines int
	Parallelism   int
	RunTimeout    time.Duration
}

// Orchestrator owns a run's lifecycle. It is the store's single writer:
// workers never touch the store, they send immutable results to the
// aggregation loop.
type Orchestrator struct {
	logger      *slog.Logger
	client      scm.Client
	detector    *anchor.Detector
	retriever   Retriever
	reviewer    Reviewer
	store       *run.Store
	chunker     *chunk.Chunker
	parallelism int
	runTimeout  time.Duration
}

// New wires an Orchestrator from its collaborators.
func New(logger *slog.Logger, client scm.Client, detector *anchor.Detector,
	retriever Retriever, reviewer Reviewer, store *run.Store, opts Options) *Orchestrator {

	maxLines := opts.MaxChunkLines
	if maxLines <= 0 {
		maxLines = 400
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	timeout := opts.RunTimeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	return &Orchestrator{
		logger:      logger,
		client:      client,
		detector:    detector,
		retriever:   retriever,
		reviewer:    reviewer,
		store:       store,
		chunker:     chunk.New(maxLines),
		parallelism: parallelism,
		runTimeout:  timeout,
	}
}

// Trigger runs a full review synchronously and returns its run ID. A
// regular trigger for a target and revision that already has a record
// returns the existing run ID without re-reviewing; forceRefresh always
// starts a fresh run under a new ID.
func (o *Orchestrator) Trigger(ctx context.Context, target scm.Target, forceRefresh bool) (string, error) {
	rec, chunks, err := o.prepare(ctx, target, forceRefresh)
	if err != nil {
		return "", err
	}
	if chunks == nil {
		// Existing record reused.
		return rec.RunID, nil
	}
	o.execute(ctx, rec, chunks)
	return rec.RunID, nil
}

// Start prepares a run synchronously, then executes it in the background.
// The returned run ID can be polled via Status immediately. The run gets
// its own deadline and outlives the caller's context.
func (o *Orchestrator) Start(ctx context.Context, target scm.Target, forceRefresh bool) (string, error) {
	rec, chunks, err := o.prepare(ctx, target, forceRefresh)
	if err != nil {
		return "", err
	}
	if chunks == nil {
		return rec.RunID, nil
	}

	go func() {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.runTimeout)
		defer cancel()
		o.execute(runCtx, rec, chunks)
	}()
	return rec.RunID, nil
}

// Status returns a deep snapshot of the run's current state.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*run.Record, error) {
	return o.store.Snapshot(ctx, runID)
}

// prepare fetches and chunks the diff and creates the run record. A nil
// chunk slice with a non-nil record means an existing record was reused.
// No record is created when the diff is empty or unparseable.
func (o *Orchestrator) prepare(ctx context.Context, target scm.Target, forceRefresh bool) (*run.Record, []chunk.Chunk, error) {
	runID := run.ID(target.String(), target.Revision, forceRefresh)

	if !forceRefresh {
		if existing, err := o.store.Snapshot(ctx, runID); err == nil {
			o.logger.Info("reusing existing run",
				"run_id", runID,
				"target", target.String(),
				"status", string(existing.Status))
			return existing, nil, nil
		}
	}

	raw, err := o.client.FetchDiff(ctx, target)
	if err != nil {
		return nil, nil, err
	}
	files, err := diff.ParseUnified(raw)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := o.chunker.Split(files)
	if err != nil {
		return nil, nil, err
	}

	rec := run.NewRecord(runID, target.String(), target.Revision, len(chunks))
	if err := o.store.Put(ctx, rec); err != nil {
		return nil, nil, err
	}
	if err := rec.SetStatus(run.RunInProgress); err != nil {
		return nil, nil, err
	}
	if err := o.store.SetStatus(ctx, runID, run.RunInProgress); err != nil {
		return nil, nil, err
	}

	o.logger.Info("run prepared",
		"run_id", runID,
		"target", target.String(),
		"files", len(files),
		"total_chunks", len(chunks))
	return rec, chunks, nil
}

// execute fans chunks out to workers and aggregates their results. It is
// the only writer of the record and the store during the run.
func (o *Orchestrator) execute(ctx context.Context, rec *run.Record, chunks []chunk.Chunk) {
	// Dispatched chunks send two results: an in-progress marker when the
	// worker starts and a terminal result when it finishes.
	results := make(chan run.ChunkResult, 2*len(chunks))

	go func() {
		g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
		g.SetLimit(o.parallelism)
		for i := range chunks {
			c := &chunks[i]
			if ctx.Err() != nil {
				// Dispatch stopped; undispatched chunks fail, workers
				// already running finish and record normally.
				results <- run.ChunkResult{
					ChunkID:    c.ID,
					Status:     run.ChunkFailed,
					ErrCode:    ierrors.ErrCodeTimeout,
					ErrMessage: "run canceled before chunk was dispatched",
				}
				continue
			}
			g.Go(func() error {
				results <- run.ChunkResult{ChunkID: c.ID, Status: run.ChunkInProgress}
				results <- o.reviewChunk(gctx, rec.RunID, c)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	// Aggregation loop: single writer. A chunk's marker arrives before
	// its terminal result because the same worker sends both in order.
	storeCtx := context.WithoutCancel(ctx)
	for res := range results {
		if res.Status != run.ChunkInProgress && rec.Chunks[res.ChunkID].Status == run.ChunkPending {
			// Terminal result for a chunk that never got a marker (the
			// canceled-before-dispatch path).
			_ = rec.SetChunkResult(run.ChunkResult{ChunkID: res.ChunkID, Status: run.ChunkInProgress})
		}
		if err := rec.SetChunkResult(res); err != nil {
			o.logger.Error("dropping illegal chunk transition",
				"run_id", rec.RunID,
				"chunk_id", res.ChunkID,
				"error", err)
			continue
		}
		if err := o.store.SaveChunk(storeCtx, rec.RunID, rec.Chunks[res.ChunkID]); err != nil {
			o.logger.Error("failed to persist chunk result",
				"run_id", rec.RunID,
				"chunk_id", res.ChunkID,
				"error", err)
		}
	}

	terminal := rec.TerminalStatus()
	if err := rec.SetStatus(terminal); err != nil {
		o.logger.Error("failed to finalize run record",
			"run_id", rec.RunID,
			"error", err)
		return
	}
	if err := o.store.SetStatus(storeCtx, rec.RunID, terminal); err != nil {
		o.logger.Error("failed to persist run status",
			"run_id", rec.RunID,
			"error", err)
	}

	o.logger.Info("run finished",
		"run_id", rec.RunID,
		"status", string(terminal),
		"total_chunks", rec.TotalChunks)
}

// reviewChunk runs detect, retrieve, review for one chunk. Every failure
// becomes a failed result; nothing escapes as a panic or a lost chunk.
func (o *Orchestrator) reviewChunk(ctx context.Context, runID string, c *chunk.Chunk) run.ChunkResult {
	start := time.Now()

	set := o.detector.Detect(c)
	excerpts, err := o.retriever.Retrieve(ctx, set)
	if err != nil {
		return failedResult(c.ID, err)
	}

	findings, err := o.reviewer.Review(ctx, c, excerpts)
	if err != nil {
		return failedResult(c.ID, err)
	}

	o.logger.Debug("chunk reviewed",
		"run_id", runID,
		"chunk_id", c.ID,
		"tags", set.Tags,
		"excerpts", len(excerpts),
		"findings", len(findings),
		"elapsed", time.Since(start))
	return run.ChunkResult{
		ChunkID:  c.ID,
		Status:   run.ChunkDone,
		Findings: findings,
	}
}

func failedResult(chunkID int, err error) run.ChunkResult {
	res := run.ChunkResult{
		ChunkID:    chunkID,
		Status:     run.ChunkFailed,
		ErrCode:    ierrors.ErrCodeInternal,
		ErrMessage: err.Error(),
	}
	var re *ierrors.ReviewError
	if errors.As(err, &re) {
		res.ErrCode = re.Code
		res.ErrMessage = re.Message
	}
	if errors.Is(err, context.DeadlineExceeded) {
		res.ErrCode = ierrors.ErrCodeTimeout
		res.ErrMessage = fmt.Sprintf("chunk %d timed out", chunkID)
	}
	return res
}
