package daemon

import (
	"context"
	"fmt"
	"log/slog"

	ierrors "github.com/vetrail/vetrail/internal/errors"
	"github.com/vetrail/vetrail/internal/pipeline"
	"github.com/vetrail/vetrail/internal/publish"
	"github.com/vetrail/vetrail/internal/review"
	"github.com/vetrail/vetrail/internal/scm"
)

// Service implements Handler on top of the orchestrator and publisher.
type Service struct {
	logger       *slog.Logger
	orchestrator *pipeline.Orchestrator
	publisher    *publish.Publisher
}

// NewService wires the daemon handler.
func NewService(logger *slog.Logger, o *pipeline.Orchestrator, p *publish.Publisher) *Service {
	return &Service{logger: logger, orchestrator: o, publisher: p}
}

// HandleTrigger starts (or reuses) a review run and returns its ID
// immediately; the run executes in the background.
func (s *Service) HandleTrigger(ctx context.Context, params TriggerParams) (TriggerResult, error) {
	target := scm.Target{
		Workspace:   params.Workspace,
		Repo:        params.Repo,
		PullRequest: params.PullRequest,
		Revision:    params.Revision,
	}
	runID, err := s.orchestrator.Start(ctx, target, params.ForceRefresh)
	if err != nil {
		return TriggerResult{}, err
	}
	return TriggerResult{RunID: runID}, nil
}

// HandleRunStatus returns a snapshot of the run.
func (s *Service) HandleRunStatus(ctx context.Context, params RunStatusParams) (RunStatusResult, error) {
	rec, err := s.orchestrator.Status(ctx, params.RunID)
	if err != nil {
		return RunStatusResult{}, err
	}
	return NewRunStatusResult(rec), nil
}

// HandlePublishFinding posts a single finding, located by its key within
// the given chunk.
func (s *Service) HandlePublishFinding(ctx context.Context, params PublishFindingParams) (PublishFindingResult, error) {
	rec, err := s.orchestrator.Status(ctx, params.RunID)
	if err != nil {
		return PublishFindingResult{}, err
	}

	chunk, ok := rec.Chunks[params.ChunkID]
	if !ok {
		return PublishFindingResult{}, ierrors.New(ierrors.ErrCodeInvalidInput,
			fmt.Sprintf("run %s has no chunk %d", params.RunID, params.ChunkID), nil)
	}
	var found *review.Finding
	for i := range chunk.Findings {
		if chunk.Findings[i].Key == params.FindingKey {
			found = &chunk.Findings[i]
			break
		}
	}
	if found == nil {
		return PublishFindingResult{}, ierrors.New(ierrors.ErrCodeInvalidInput,
			fmt.Sprintf("finding %s not in chunk %d", params.FindingKey, params.ChunkID), nil)
	}

	target := scm.Target{
		Workspace:   params.Workspace,
		Repo:        params.Repo,
		PullRequest: params.PullRequest,
		Revision:    rec.Revision,
	}
	res, err := s.publisher.Publish(ctx, params.RunID, target, *found)
	if err != nil {
		return PublishFindingResult{}, err
	}
	return PublishFindingResult{Result: string(res)}, nil
}

// HandlePublishRun posts every finding of the run at or above the
// severity floor.
func (s *Service) HandlePublishRun(ctx context.Context, params PublishRunParams) (PublishRunResult, error) {
	rec, err := s.orchestrator.Status(ctx, params.RunID)
	if err != nil {
		return PublishRunResult{}, err
	}

	floor := review.SeverityLow
	if params.MinSeverity != "" {
		floor = review.ParseSeverity(params.MinSeverity)
	}
	target := scm.Target{
		Workspace:   params.Workspace,
		Repo:        params.Repo,
		PullRequest: params.PullRequest,
		Revision:    rec.Revision,
	}
	posted, skipped, err := s.publisher.PublishRun(ctx, params.RunID, target, floor)
	if err != nil {
		return PublishRunResult{}, err
	}
	return PublishRunResult{Posted: posted, Skipped: skipped}, nil
}
