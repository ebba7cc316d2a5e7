package run

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/vetrail/vetrail/internal/errors"
	"github.com/vetrail/vetrail/internal/review"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleFinding(line int) review.Finding {
	f := review.Finding{
		File:       "src/UserDao.java",
		Line:       line,
		Severity:   review.SeverityHigh,
		Rule:       "sql injection",
		Suggestion: "use a prepared statement",
	}
	f.Key = review.FindingKey(f.File, f.Line, f.Rule, f.Suggestion)
	return f
}

func TestID(t *testing.T) {
	regular := ID("ws/repo#12", "abc123", false)
	assert.Equal(t, regular, ID("ws/repo#12", "abc123", false))
	assert.NotEqual(t, regular, ID("ws/repo#12", "def456", false))
	assert.Len(t, regular, 12)

	forced := ID("ws/repo#12", "abc123", true)
	assert.NotEqual(t, forced, ID("ws/repo#12", "abc123", true))
	assert.NotEqual(t, regular, forced)
}

func TestRecord_Transitions(t *testing.T) {
	rec := NewRecord("r1", "ws/repo#12", "abc123", 2)
	assert.Equal(t, RunPending, rec.Status)
	assert.Equal(t, ChunkPending, rec.Chunks[0].Status)

	// Chunk must pass through in_progress first.
	err := rec.SetChunkResult(ChunkResult{ChunkID: 0, Status: ChunkDone})
	require.Error(t, err)

	require.NoError(t, rec.SetChunkResult(ChunkResult{ChunkID: 0, Status: ChunkInProgress}))
	require.NoError(t, rec.SetChunkResult(ChunkResult{ChunkID: 0, Status: ChunkDone}))

	// Terminal chunk states are final.
	err = rec.SetChunkResult(ChunkResult{ChunkID: 0, Status: ChunkInProgress})
	require.Error(t, err)

	// Unknown chunk is a defect.
	err = rec.SetChunkResult(ChunkResult{ChunkID: 9, Status: ChunkInProgress})
	require.Error(t, err)
	var re *ierrors.ReviewError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ierrors.ErrCodeInternal, re.Code)

	// Run cannot skip in_progress.
	require.Error(t, rec.SetStatus(RunSuccess))
	require.NoError(t, rec.SetStatus(RunInProgress))
	require.NoError(t, rec.SetStatus(RunSuccess))
	require.Error(t, rec.SetStatus(RunFailed))
	assert.True(t, rec.Status.Terminal())
}

func TestRecord_TerminalStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []ChunkStatus
		want     RunStatus
	}{
		{"all done", []ChunkStatus{ChunkDone, ChunkDone}, RunSuccess},
		{"all failed", []ChunkStatus{ChunkFailed, ChunkFailed}, RunFailed},
		{"mixed", []ChunkStatus{ChunkDone, ChunkFailed}, RunPartial},
		{"empty run", nil, RunSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewRecord("r1", "t", "rev", len(tt.statuses))
			for i, s := range tt.statuses {
				require.NoError(t, rec.SetChunkResult(ChunkResult{ChunkID: i, Status: ChunkInProgress}))
				require.NoError(t, rec.SetChunkResult(ChunkResult{ChunkID: i, Status: s}))
			}
			assert.Equal(t, tt.want, rec.TerminalStatus())
		})
	}
}

func TestRecord_Clone(t *testing.T) {
	rec := NewRecord("r1", "t", "rev", 1)
	require.NoError(t, rec.SetChunkResult(ChunkResult{ChunkID: 0, Status: ChunkInProgress}))
	require.NoError(t, rec.SetChunkResult(ChunkResult{
		ChunkID:  0,
		Status:   ChunkDone,
		Findings: []review.Finding{sampleFinding(11)},
	}))

	clone := rec.Clone()
	clone.Chunks[0].Findings[0].Line = 99
	delete(clone.Chunks, 0)

	assert.Equal(t, 11, rec.Chunks[0].Findings[0].Line)
	assert.Contains(t, rec.Chunks, 0)
}

func TestStore_PutAndSnapshot(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := NewRecord("r1", "ws/repo#12", "abc123", 2)
	require.NoError(t, s.Put(ctx, rec))

	require.NoError(t, rec.SetStatus(RunInProgress))
	require.NoError(t, rec.SetChunkResult(ChunkResult{ChunkID: 0, Status: ChunkInProgress}))
	require.NoError(t, rec.SetChunkResult(ChunkResult{
		ChunkID:  0,
		Status:   ChunkDone,
		Findings: []review.Finding{sampleFinding(11), sampleFinding(12)},
	}))
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Snapshot(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "ws/repo#12", got.Target)
	assert.Equal(t, "abc123", got.Revision)
	assert.Equal(t, RunInProgress, got.Status)
	assert.Equal(t, 2, got.TotalChunks)
	require.Len(t, got.Chunks[0].Findings, 2)
	assert.Equal(t, 11, got.Chunks[0].Findings[0].Line)
	assert.Equal(t, ChunkPending, got.Chunks[1].Status)
}

func TestStore_SnapshotUnknownRun(t *testing.T) {
	s := testStore(t)

	_, err := s.Snapshot(context.Background(), "missing")

	require.Error(t, err)
	var re *ierrors.ReviewError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ierrors.ErrCodeRunNotFound, re.Code)
}

func TestStore_SaveChunk(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, NewRecord("r1", "t", "rev", 1)))

	require.NoError(t, s.SaveChunk(ctx, "r1", ChunkResult{
		ChunkID:    0,
		Status:     ChunkFailed,
		ErrCode:    ierrors.ErrCodeTimeout,
		ErrMessage: "completion timed out",
	}))

	got, err := s.Snapshot(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, ChunkFailed, got.Chunks[0].Status)
	assert.Equal(t, ierrors.ErrCodeTimeout, got.Chunks[0].ErrCode)
}

func TestStore_SetStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, NewRecord("r1", "t", "rev", 0)))

	require.NoError(t, s.SetStatus(ctx, "r1", RunInProgress))
	got, err := s.Snapshot(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, RunInProgress, got.Status)

	err = s.SetStatus(ctx, "missing", RunFailed)
	require.Error(t, err)
	var re *ierrors.ReviewError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ierrors.ErrCodeRunNotFound, re.Code)
}

func TestStore_LatestForTarget(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	older := NewRecord("old", "ws/repo#12", "rev1", 0)
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	require.NoError(t, s.Put(ctx, older))
	require.NoError(t, s.Put(ctx, NewRecord("new", "ws/repo#12", "rev2", 0)))
	require.NoError(t, s.Put(ctx, NewRecord("other", "ws/repo#99", "rev3", 0)))

	got, err := s.LatestForTarget(ctx, "ws/repo#12")
	require.NoError(t, err)
	assert.Equal(t, "new", got.RunID)

	_, err = s.LatestForTarget(ctx, "ws/none#0")
	require.Error(t, err)
}

func TestStore_DeleteOlderThan(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	stale := NewRecord("stale", "t", "rev", 1)
	stale.CreatedAt = stale.CreatedAt.Add(-48 * time.Hour)
	require.NoError(t, s.Put(ctx, stale))
	_, err := s.MarkPublished(ctx, "stale", "k1")
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, NewRecord("fresh", "t", "rev2", 0)))

	n, err := s.DeleteOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Snapshot(ctx, "stale")
	require.Error(t, err)
	published, err := s.IsPublished(ctx, "stale", "k1")
	require.NoError(t, err)
	assert.False(t, published)

	_, err = s.Snapshot(ctx, "fresh")
	require.NoError(t, err)
}

func TestStore_PublishedKeys(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, NewRecord("r1", "t", "rev", 0)))

	published, err := s.IsPublished(ctx, "r1", "k1")
	require.NoError(t, err)
	assert.False(t, published)

	added, err := s.MarkPublished(ctx, "r1", "k1")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.MarkPublished(ctx, "r1", "k1")
	require.NoError(t, err)
	assert.False(t, added)

	published, err = s.IsPublished(ctx, "r1", "k1")
	require.NoError(t, err)
	assert.True(t, published)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, NewRecord("r1", "t", "rev", 0)))
	require.NoError(t, s.Close())

	s, err = NewStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Snapshot(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "t", got.Target)
}
