package retrieval

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetrail/vetrail/internal/anchor"
	ierrors "github.com/vetrail/vetrail/internal/errors"
	"github.com/vetrail/vetrail/internal/rules"
)

// fakeSearcher serves canned results and records issued queries.
type fakeSearcher struct {
	results  map[string][]rules.Scored
	queries  []string
	err      error
	keywords []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string, k int) ([]rules.Scored, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.results[query], nil
}

func (f *fakeSearcher) KeywordSearch(ctx context.Context, query string, k int) ([]rules.Scored, error) {
	f.keywords = append(f.keywords, query)
	return f.results[query], nil
}

func scored(id string, score float64) rules.Scored {
	return rules.Scored{Excerpt: rules.Excerpt{ID: id, Title: id}, Score: score}
}

func newEngine(idx Searcher, topK int, threshold float64) *Engine {
	return NewEngine(slog.New(slog.DiscardHandler), idx, Options{
		TopK:                topK,
		SimilarityThreshold: threshold,
	})
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want string
	}{
		{"empty", nil, "general code review guidelines"},
		{"single known", []string{"jpa"}, "JPA entity guidelines and best practices"},
		{"single unknown", []string{"unsafe-code"}, "unsafe code guidelines and best practices"},
		{"pair", []string{"java", "database"}, "Java programming and database guidelines"},
		{"triple", []string{"java", "jpa", "orm"},
			"Java programming, JPA entity, and object-relational mapping guidelines"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildQuery(tt.tags))
		})
	}
}

func TestRetrieve_EmptyAnchorSetIssuesNoQuery(t *testing.T) {
	idx := &fakeSearcher{}
	e := newEngine(idx, 5, 0.3)

	results, err := e.Retrieve(context.Background(), anchor.Set{})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, idx.queries, "no query may be issued for an empty anchor set")
}

func TestRetrieve_ThresholdAndTopK(t *testing.T) {
	query := BuildQuery([]string{"sql"})
	idx := &fakeSearcher{results: map[string][]rules.Scored{
		query: {
			scored("a", 0.9),
			scored("b", 0.6),
			scored("c", 0.4),
			scored("d", 0.2), // below threshold
		},
	}}
	e := newEngine(idx, 2, 0.3)

	results, err := e.Retrieve(context.Background(), anchor.Set{Tags: []string{"sql"}})
	require.NoError(t, err)

	// Below-threshold hits are dropped even before TopK truncation.
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Excerpt.ID)
	assert.Equal(t, "b", results[1].Excerpt.ID)
}

func TestRetrieve_FewerThanTopKWhenThresholdBites(t *testing.T) {
	query := BuildQuery([]string{"sql"})
	idx := &fakeSearcher{results: map[string][]rules.Scored{
		query: {scored("a", 0.9), scored("b", 0.1)},
	}}
	e := newEngine(idx, 5, 0.5)

	results, err := e.Retrieve(context.Background(), anchor.Set{Tags: []string{"sql"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Excerpt.ID)
}

func TestRetrieve_TieBreakByIDAscending(t *testing.T) {
	query := BuildQuery([]string{"sql"})
	idx := &fakeSearcher{results: map[string][]rules.Scored{
		query: {scored("z", 0.5), scored("a", 0.5), scored("m", 0.5)},
	}}
	e := newEngine(idx, 3, 0.0)

	results, err := e.Retrieve(context.Background(), anchor.Set{Tags: []string{"sql"}})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Excerpt.ID)
	assert.Equal(t, "m", results[1].Excerpt.ID)
	assert.Equal(t, "z", results[2].Excerpt.ID)
}

func TestRetrieve_MergesGroupsKeepingMaxScore(t *testing.T) {
	// Four tags split into two query groups; excerpt "x" appears in both
	// with different scores and must keep the higher one, once.
	tags := []string{"api", "database", "java", "testing"}
	q1 := BuildQuery(tags[:3])
	q2 := BuildQuery(tags[3:])
	idx := &fakeSearcher{results: map[string][]rules.Scored{
		q1: {scored("x", 0.4), scored("y", 0.7)},
		q2: {scored("x", 0.8)},
	}}
	e := newEngine(idx, 5, 0.0)

	results, err := e.Retrieve(context.Background(), anchor.Set{Tags: tags})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "x", results[0].Excerpt.ID)
	assert.InDelta(t, 0.8, results[0].Score, 1e-9)
	assert.Equal(t, "y", results[1].Excerpt.ID)
	assert.Equal(t, []string{q1, q2}, idx.queries)
}

func TestRetrieve_IndexErrorIsRetryable(t *testing.T) {
	idx := &fakeSearcher{err: ierrors.RetrievalError("index unavailable", nil)}
	e := newEngine(idx, 5, 0.3)

	_, err := e.Retrieve(context.Background(), anchor.Set{Tags: []string{"sql"}})
	require.Error(t, err)
	assert.True(t, ierrors.IsRetryable(err))
}

func TestRetrieve_KeywordOnlyUsesKeywordPath(t *testing.T) {
	query := BuildQuery([]string{"sql"})
	idx := &fakeSearcher{results: map[string][]rules.Scored{
		query: {scored("a", 0.9)},
	}}
	e := NewEngine(slog.New(slog.DiscardHandler), idx, Options{
		TopK: 5, SimilarityThreshold: 0.1, KeywordOnly: true,
	})

	results, err := e.Retrieve(context.Background(), anchor.Set{Tags: []string{"sql"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, idx.queries)
	assert.Equal(t, []string{query}, idx.keywords)
}

func TestRetrieve_KeywordScoresNormalizedAgainstBestHit(t *testing.T) {
	// bleve tf-idf scores are unbounded; after rescaling against the best
	// hit the threshold reads as a fraction of the best match.
	query := BuildQuery([]string{"sql"})
	idx := &fakeSearcher{results: map[string][]rules.Scored{
		query: {scored("a", 10.0), scored("b", 5.0), scored("c", 2.0)},
	}}
	e := NewEngine(slog.New(slog.DiscardHandler), idx, Options{
		TopK: 5, SimilarityThreshold: 0.35, KeywordOnly: true,
	})

	results, err := e.Retrieve(context.Background(), anchor.Set{Tags: []string{"sql"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Excerpt.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "b", results[1].Excerpt.ID)
	assert.InDelta(t, 0.5, results[1].Score, 1e-9)
}
