// Package chunk packs parsed file diffs into bounded review units.
package chunk

import (
	"github.com/vetrail/vetrail/internal/diff"
	ierrors "github.com/vetrail/vetrail/internal/errors"
)

// Chunk is a bounded group of whole-file diffs reviewed as one unit.
// IDs are zero-based and scoped to a single run.
type Chunk struct {
	ID    int
	Files []diff.FileDiff

	// Lines is the total changed-line count across Files.
	Lines int

	// Oversized marks a single file whose diff alone exceeds the bound.
	Oversized bool
}

// Paths returns the chunk's file paths in order.
func (c *Chunk) Paths() []string {
	paths := make([]string, len(c.Files))
	for i := range c.Files {
		paths[i] = c.Files[i].Path
	}
	return paths
}

// ChangedNewLines returns the chunk's added new-file line numbers by path.
func (c *Chunk) ChangedNewLines() map[string]map[int]bool {
	out := make(map[string]map[int]bool, len(c.Files))
	for i := range c.Files {
		out[c.Files[i].Path] = c.Files[i].ChangedNewLines()
	}
	return out
}

// Chunker packs file diffs into chunks of at most MaxLines changed lines.
type Chunker struct {
	MaxLines int
}

// New returns a Chunker with the given line bound.
func New(maxLines int) *Chunker {
	return &Chunker{MaxLines: maxLines}
}

// Split packs files into chunks, greedily in input order. A file is never
// split across chunks; a file whose diff alone exceeds the bound becomes a
// standalone oversized chunk. The packing is deterministic: the same input
// always yields the same chunks.
func (c *Chunker) Split(files []diff.FileDiff) ([]Chunk, error) {
	if c.MaxLines < 1 {
		return nil, ierrors.New(ierrors.ErrCodeInvalidInput, "chunk line bound must be >= 1", nil)
	}
	if len(files) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	var cur Chunk

	flush := func() {
		if len(cur.Files) > 0 {
			cur.ID = len(chunks)
			chunks = append(chunks, cur)
			cur = Chunk{}
		}
	}

	for _, f := range files {
		lines := changedLineCount(&f)

		if lines > c.MaxLines {
			flush()
			chunks = append(chunks, Chunk{
				ID:        len(chunks),
				Files:     []diff.FileDiff{f},
				Lines:     lines,
				Oversized: true,
			})
			continue
		}

		if cur.Lines+lines > c.MaxLines {
			flush()
		}
		cur.Files = append(cur.Files, f)
		cur.Lines += lines
	}
	flush()

	return chunks, nil
}

// changedLineCount counts a file's added and removed lines, the metric
// the bound is expressed in. Hunk headers and context lines ride along
// for free.
func changedLineCount(f *diff.FileDiff) int {
	return len(f.Lines)
}
