package review

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetrail/vetrail/internal/chunk"
	"github.com/vetrail/vetrail/internal/diff"
	ierrors "github.com/vetrail/vetrail/internal/errors"
	"github.com/vetrail/vetrail/internal/rules"
)

const daoDiff = `diff --git a/src/UserDao.java b/src/UserDao.java
index 1111111..2222222 100644
--- a/src/UserDao.java
+++ b/src/UserDao.java
@@ -10,3 +10,4 @@ public class UserDao {
     public User find(String id) {
-        String q = "select * from users";
+        String q = "SELECT * FROM users WHERE id = '" + id + "'";
+        log.debug(q);
     }
`

// fakeCompleter replays canned responses and records prompts.
type fakeCompleter struct {
	responses []string
	prompts   []string
	err       error
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "[]", nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r, nil
}

func (f *fakeCompleter) ModelName() string                  { return "fake" }
func (f *fakeCompleter) Available(ctx context.Context) bool { return true }
func (f *fakeCompleter) Close() error                       { return nil }

func daoChunk(t *testing.T) *chunk.Chunk {
	t.Helper()
	files, err := diff.ParseUnified(daoDiff)
	require.NoError(t, err)
	chunks, err := chunk.New(400).Split(files)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	return &chunks[0]
}

func fastRetry() ierrors.RetryConfig {
	return ierrors.RetryConfig{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		MaxDelay:     time.Millisecond,
		Multiplier:   1.0,
	}
}

func newTestInvoker(c *fakeCompleter) *Invoker {
	return NewInvoker(slog.New(slog.DiscardHandler), c, InvokerOptions{Retry: fastRetry()})
}

func sqlExcerpt(id string, score float64) rules.Scored {
	return rules.Scored{
		Excerpt: rules.Excerpt{
			ID:       id,
			Title:    "Parameterized queries",
			Severity: "high",
			Category: "security",
			Body:     "Never concatenate user input into SQL statements.",
		},
		Score: score,
	}
}

func finding(file string, line int, rule string) string {
	return fmt.Sprintf(`{"file":%q,"line":%d,"severity":"high","rule":%q,"suggestion":"use a prepared statement","code_snippet":"String q = ..."}`,
		file, line, rule)
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		raw  string
		want Severity
	}{
		{"critical", SeverityCritical},
		{"High", SeverityHigh},
		{"MEDIUM", SeverityMedium},
		{" low ", SeverityLow},
		{"blocker", SeverityMedium},
		{"", SeverityMedium},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseSeverity(tt.raw), tt.raw)
	}
}

func TestSeverity_AtLeast(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityMedium.AtLeast(SeverityHigh))
	assert.True(t, SeverityLow.AtLeast(SeverityLow))
	assert.False(t, Severity("bogus").AtLeast(SeverityLow))
}

func TestFindingKey_Stable(t *testing.T) {
	a := FindingKey("a.go", 10, "no globals", "remove it")
	b := FindingKey("a.go", 10, "no globals", "remove it")
	c := FindingKey("a.go", 11, "no globals", "remove it")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestPromptBuilder_Build(t *testing.T) {
	c := daoChunk(t)
	prompt := NewPromptBuilder(0).Build(c, []rules.Scored{sqlExcerpt("sql.md#000", 0.9)})

	// Engine contract and output shape.
	assert.Contains(t, prompt, "Return a JSON array of findings")

	// Rule context with metadata.
	assert.Contains(t, prompt, "### Rule 1 (security)")
	assert.Contains(t, prompt, "Severity: high")
	assert.Contains(t, prompt, "Never concatenate user input")

	// Annotated diff with new-file line numbers.
	assert.Contains(t, prompt, "### File: src/UserDao.java")
	assert.Contains(t, prompt, `11: +        String q = "SELECT * FROM users`)
	assert.Contains(t, prompt, "12: +        log.debug(q);")
}

func TestPromptBuilder_NoRules(t *testing.T) {
	prompt := NewPromptBuilder(0).Build(daoChunk(t), nil)

	assert.Contains(t, prompt, "No specific rules provided")
}

func TestPromptBuilder_DropsLowestScoredPastBudget(t *testing.T) {
	c := daoChunk(t)
	excerpts := []rules.Scored{
		sqlExcerpt("keep-high.md#000", 0.9),
		sqlExcerpt("drop-low.md#000", 0.2),
		sqlExcerpt("keep-mid.md#000", 0.6),
	}

	full := NewPromptBuilder(1<<20).Build(c, excerpts)
	tight := NewPromptBuilder(len(full)-1).Build(c, excerpts)

	assert.Less(t, len(tight), len(full))
	assert.Contains(t, tight, "### Rule 2")
	assert.NotContains(t, tight, "### Rule 3")
}

func TestParseFindings(t *testing.T) {
	body := "[" + finding("src/UserDao.java", 11, "sql injection") + "]"

	tests := []struct {
		name     string
		response string
	}{
		{"bare array", "Here are my findings:\n" + body + "\nDone."},
		{"fenced", "```json\n" + body + "\n```"},
		{"fenced no lang", "```\n" + body + "\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings, err := ParseFindings(tt.response)

			require.NoError(t, err)
			require.Len(t, findings, 1)
			assert.Equal(t, "src/UserDao.java", findings[0].File)
			assert.Equal(t, 11, findings[0].Line)
			assert.Equal(t, SeverityHigh, findings[0].Severity)
			assert.Equal(t, FindingKey("src/UserDao.java", 11, "sql injection", "use a prepared statement"), findings[0].Key)
		})
	}
}

func TestParseFindings_EmptyArray(t *testing.T) {
	findings, err := ParseFindings("No issues found. []")

	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestParseFindings_NoArray(t *testing.T) {
	_, err := ParseFindings("The code looks fine to me.")

	require.Error(t, err)
}

func TestParseFindings_SkipsIncompleteEntries(t *testing.T) {
	response := `[
		{"file":"a.java","line":3,"severity":"low","rule":"r","suggestion":"s"},
		{"file":"","line":4,"severity":"low","rule":"r","suggestion":"s"},
		{"file":"b.java","line":5,"severity":"low","rule":"","suggestion":"s"}
	]`

	findings, err := ParseFindings(response)

	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "a.java", findings[0].File)
}

func TestParseFindings_DefaultsBadSeverity(t *testing.T) {
	response := `[{"file":"a.java","line":3,"severity":"blocker","rule":"r","suggestion":"s"}]`

	findings, err := ParseFindings(response)

	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, SeverityMedium, findings[0].Severity)
}

func TestInvoker_Review(t *testing.T) {
	response := "```json\n[" +
		finding("src/UserDao.java", 12, "no debug logging of queries") + "," +
		finding("src/UserDao.java", 11, "sql injection") + "," +
		finding("src/UserDao.java", 99, "off the diff") + "," +
		finding("other/File.java", 11, "wrong file") +
		"]\n```"
	completer := &fakeCompleter{responses: []string{response}}

	findings, err := newTestInvoker(completer).Review(context.Background(), daoChunk(t), nil)

	require.NoError(t, err)
	require.Len(t, findings, 2)
	// Engine order preserved, off-diff findings silently dropped.
	assert.Equal(t, 12, findings[0].Line)
	assert.Equal(t, 11, findings[1].Line)
	assert.Len(t, completer.prompts, 1)
}

func TestInvoker_RepairsOnce(t *testing.T) {
	good := "[" + finding("src/UserDao.java", 11, "sql injection") + "]"
	completer := &fakeCompleter{responses: []string{"I refuse to emit JSON.", good}}

	findings, err := newTestInvoker(completer).Review(context.Background(), daoChunk(t), nil)

	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Len(t, completer.prompts, 2)
	assert.Contains(t, completer.prompts[1], "could not be parsed")
	assert.Contains(t, completer.prompts[1], "I refuse to emit JSON.")
}

func TestInvoker_ParseErrorAfterRepair(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"nonsense", "still nonsense"}}

	_, err := newTestInvoker(completer).Review(context.Background(), daoChunk(t), nil)

	require.Error(t, err)
	var re *ierrors.ReviewError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ierrors.ErrCodeReviewParse, re.Code)
	assert.Len(t, completer.prompts, 2)
}

func TestInvoker_PropagatesEngineError(t *testing.T) {
	completer := &fakeCompleter{err: ierrors.New(ierrors.ErrCodeConfigInvalid, "no model", nil)}

	_, err := newTestInvoker(completer).Review(context.Background(), daoChunk(t), nil)

	require.Error(t, err)
	var re *ierrors.ReviewError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, ierrors.ErrCodeConfigInvalid, re.Code)
	assert.Len(t, completer.prompts, 1)
}
