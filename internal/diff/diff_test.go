package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierrors "github.com/vetrail/vetrail/internal/errors"
)

const sampleDiff = `diff --git a/internal/db/conn.go b/internal/db/conn.go
index 1234567..89abcde 100644
--- a/internal/db/conn.go
+++ b/internal/db/conn.go
@@ -10,4 +10,5 @@ func Open(dsn string) (*DB, error) {
 	db, err := sql.Open("sqlite", dsn)
 	if err != nil {
-		return nil
+		return nil, err
 	}
+	db.SetMaxOpenConns(1)
@@ -30,2 +31,3 @@ func (d *DB) Close() error {
 	return d.conn.Close()
 }
+
diff --git a/README.md b/README.md
new file mode 100644
index 0000000..e69de29
--- /dev/null
+++ b/README.md
@@ -0,0 +1,2 @@
+# service
+setup notes
`

func TestParseUnified_TwoFiles(t *testing.T) {
	files, err := ParseUnified(sampleDiff)
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "internal/db/conn.go", files[0].Path)
	assert.Equal(t, ChangeModified, files[0].Kind)
	assert.Equal(t, "README.md", files[1].Path)
	assert.Equal(t, ChangeAdded, files[1].Kind)
}

func TestParseUnified_LineNumbersFromHunkHeaders(t *testing.T) {
	files, err := ParseUnified(sampleDiff)
	require.NoError(t, err)

	f := files[0]
	assert.Equal(t, 3, f.Additions)
	assert.Equal(t, 1, f.Deletions)

	// Removed line carries the old-file number, additions the new-file number.
	require.Len(t, f.Lines, 4)
	assert.Equal(t, ChangedLine{Sign: '-', Line: 12, Text: "\t\treturn nil"}, f.Lines[0])
	assert.Equal(t, ChangedLine{Sign: '+', Line: 12, Text: "\t\treturn nil, err"}, f.Lines[1])
	assert.Equal(t, ChangedLine{Sign: '+', Line: 14, Text: "\tdb.SetMaxOpenConns(1)"}, f.Lines[2])
	assert.Equal(t, ChangedLine{Sign: '+', Line: 33, Text: ""}, f.Lines[3])

	added := files[1]
	require.Len(t, added.Lines, 2)
	assert.Equal(t, 1, added.Lines[0].Line)
	assert.Equal(t, 2, added.Lines[1].Line)
}

func TestParseUnified_RawSectionsReproduceInput(t *testing.T) {
	files, err := ParseUnified(sampleDiff)
	require.NoError(t, err)

	var joined strings.Builder
	for _, f := range files {
		joined.WriteString(f.Raw)
	}
	assert.Equal(t, sampleDiff, joined.String())
}

func TestParseUnified_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace", "  \n\t\n"},
		{"no headers", "hello\nworld\n"},
		{"malformed header", "diff --git oops\n"},
		{"malformed hunk", "diff --git a/x b/x\n@@ nonsense @@\n+added\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUnified(tt.input)
			require.Error(t, err)
			assert.Equal(t, ierrors.ErrCodeInvalidDiff, ierrors.GetCode(err))
			assert.True(t, ierrors.IsFatal(err))
		})
	}
}

func TestParseUnified_DeletedFile(t *testing.T) {
	input := "diff --git a/old.go b/old.go\n" +
		"deleted file mode 100644\n" +
		"--- a/old.go\n" +
		"+++ /dev/null\n" +
		"@@ -1,2 +0,0 @@\n" +
		"-package old\n" +
		"-\n"

	files, err := ParseUnified(input)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, ChangeDeleted, files[0].Kind)
	assert.Equal(t, 2, files[0].Deletions)
	assert.Equal(t, 0, files[0].Additions)
}

func TestChangedNewLines(t *testing.T) {
	files, err := ParseUnified(sampleDiff)
	require.NoError(t, err)

	set := files[0].ChangedNewLines()
	assert.True(t, set[12])
	assert.True(t, set[14])
	assert.True(t, set[33])
	assert.False(t, set[13], "context lines are not changed lines")
}

func TestAnnotate(t *testing.T) {
	files, err := ParseUnified(sampleDiff)
	require.NoError(t, err)

	annotated := Annotate(&files[0])
	assert.Contains(t, annotated, "12: +\t\treturn nil, err")
	assert.Contains(t, annotated, "14: +\tdb.SetMaxOpenConns(1)")
	assert.Contains(t, annotated, "    -\t\treturn nil")
	// Hunk headers survive untouched.
	assert.Contains(t, annotated, "@@ -10,4 +10,5 @@")
}
