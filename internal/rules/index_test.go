package rules

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetrail/vetrail/internal/embed"
	ierrors "github.com/vetrail/vetrail/internal/errors"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(slog.New(slog.DiscardHandler), embed.NewStaticEmbedder(), IndexOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func ingestFixture(t *testing.T, idx *Index) int {
	t.Helper()
	dir := t.TempDir()
	writeRuleFile(t, dir, "sql.md", sqlRules)
	writeRuleFile(t, dir, "web.md", `## REST error responses
Severity: medium
Category: api
Return RFC 7807 problem documents for REST errors.
`)

	n, err := idx.Ingest(context.Background(), dir)
	require.NoError(t, err)
	return n
}

func TestIngest_BuildsAllStores(t *testing.T) {
	idx := testIndex(t)
	n := ingestFixture(t, idx)
	assert.Equal(t, 3, n)

	count, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	kwCount, err := idx.keyword.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), kwCount)
	assert.Equal(t, 3, idx.vectors.Count())
}

func TestIngest_EmptyRulebookFails(t *testing.T) {
	idx := testIndex(t)

	_, err := idx.Ingest(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ierrors.ErrCodeEmptyRulebook, ierrors.GetCode(err))
}

func TestIngest_ReingestDropsRemovedRules(t *testing.T) {
	idx := testIndex(t)
	dir := t.TempDir()
	writeRuleFile(t, dir, "a.md", "## Rule A\nbody a\n")
	writeRuleFile(t, dir, "b.md", "## Rule B\nbody b\n")

	n, err := idx.Ingest(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Second ingest from a directory missing b.md.
	dir2 := t.TempDir()
	writeRuleFile(t, dir2, "a.md", "## Rule A\nbody a\n")
	n, err = idx.Ingest(context.Background(), dir2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSearch_ReturnsScoredExcerpts(t *testing.T) {
	idx := testIndex(t)
	ingestFixture(t, idx)

	results, err := idx.Search(context.Background(), "parameterized queries bind parameters sql", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// The static embedder shares tokens with the SQL excerpt, so it ranks first.
	assert.Equal(t, "Parameterized queries", results[0].Excerpt.Title)
	assert.Greater(t, results[0].Score, 0.0)
	assert.Equal(t, "high", results[0].Excerpt.Severity)
}

func TestSearch_EmptyIndexReturnsNothing(t *testing.T) {
	idx := testIndex(t)

	results, err := idx.Search(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestKeywordSearch_FindsByToken(t *testing.T) {
	idx := testIndex(t)
	ingestFixture(t, idx)

	results, err := idx.KeywordSearch(context.Background(), "parameterized", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Parameterized queries", results[0].Excerpt.Title)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.DiscardHandler)

	idx, err := Open(logger, embed.NewStaticEmbedder(), IndexOptions{Dir: dir})
	require.NoError(t, err)
	rulesDir := t.TempDir()
	writeRuleFile(t, rulesDir, "sql.md", sqlRules)
	_, err = idx.Ingest(context.Background(), rulesDir)
	require.NoError(t, err)
	require.NoError(t, idx.Close())

	reopened, err := Open(logger, embed.NewStaticEmbedder(), IndexOptions{Dir: dir})
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	results, err := reopened.Search(context.Background(), "parameterized queries sql bind", 1)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Parameterized queries", results[0].Excerpt.Title)
}
