// Package diff parses unified diff text into per-file change records.
//
// Line numbers are computed from @@ hunk headers: added and context lines
// carry new-file numbers, removed lines carry old-file numbers.
package diff

import (
	"fmt"
	"strconv"
	"strings"

	ierrors "github.com/vetrail/vetrail/internal/errors"
)

// ChangeKind describes how a file was changed.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeDeleted  ChangeKind = "deleted"
)

// ChangedLine is a single added or removed line.
type ChangedLine struct {
	// Sign is '+' for additions, '-' for removals.
	Sign byte

	// Line is the new-file line number for additions and the old-file
	// line number for removals.
	Line int

	Text string
}

// FileDiff is the parsed diff of one file.
type FileDiff struct {
	Path      string
	Kind      ChangeKind
	Additions int
	Deletions int

	// Raw is the file's verbatim diff section, including the
	// "diff --git" header. Concatenating Raw across files in order
	// reproduces the input.
	Raw string

	Lines []ChangedLine
}

// ChangedNewLines returns the set of new-file line numbers this diff added.
func (f *FileDiff) ChangedNewLines() map[int]bool {
	set := make(map[int]bool, f.Additions)
	for _, l := range f.Lines {
		if l.Sign == '+' {
			set[l.Line] = true
		}
	}
	return set
}

// ParseUnified parses unified diff text into FileDiffs, in input order.
// Empty input or input with no "diff --git" sections is an invalid diff.
func ParseUnified(text string) ([]FileDiff, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ierrors.InvalidDiffError("diff is empty", nil)
	}

	sections := splitSections(text)
	if len(sections) == 0 {
		return nil, ierrors.InvalidDiffError("no diff --git sections found", nil)
	}

	files := make([]FileDiff, 0, len(sections))
	for _, section := range sections {
		fd, err := parseSection(section)
		if err != nil {
			return nil, err
		}
		files = append(files, fd)
	}
	return files, nil
}

// splitSections splits diff text into per-file sections, each starting with
// its "diff --git" line. Text before the first header is dropped.
func splitSections(text string) []string {
	var sections []string
	var cur strings.Builder
	started := false

	for _, line := range strings.SplitAfter(text, "\n") {
		if strings.HasPrefix(line, "diff --git ") {
			if started {
				sections = append(sections, cur.String())
				cur.Reset()
			}
			started = true
		}
		if started {
			cur.WriteString(line)
		}
	}
	if started {
		sections = append(sections, cur.String())
	}
	return sections
}

func parseSection(section string) (FileDiff, error) {
	lines := strings.Split(section, "\n")
	header := lines[0]

	path, err := pathFromHeader(header)
	if err != nil {
		return FileDiff{}, err
	}

	fd := FileDiff{
		Path: path,
		Kind: ChangeModified,
		Raw:  section,
	}

	if strings.Contains(section, "\nnew file mode") {
		fd.Kind = ChangeAdded
	} else if strings.Contains(section, "\ndeleted file mode") {
		fd.Kind = ChangeDeleted
	}

	oldLine, newLine := 0, 0
	inHunk := false
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "@@") {
			o, n, err := parseHunkHeader(line)
			if err != nil {
				return FileDiff{}, err
			}
			oldLine, newLine = o, n
			inHunk = true
			continue
		}
		if !inHunk {
			continue
		}

		switch {
		case strings.HasPrefix(line, "+"):
			fd.Lines = append(fd.Lines, ChangedLine{Sign: '+', Line: newLine, Text: line[1:]})
			fd.Additions++
			newLine++
		case strings.HasPrefix(line, "-"):
			fd.Lines = append(fd.Lines, ChangedLine{Sign: '-', Line: oldLine, Text: line[1:]})
			fd.Deletions++
			oldLine++
		case strings.HasPrefix(line, " "):
			oldLine++
			newLine++
		case line == "":
			// Trailing blank from the split, or a truncated context line.
		case strings.HasPrefix(line, "\\"):
			// "\ No newline at end of file"
		default:
			// Header between hunks (mode change, binary notice).
			inHunk = false
		}
	}

	return fd, nil
}

// pathFromHeader extracts the new-file path from a "diff --git a/x b/x" line.
func pathFromHeader(header string) (string, error) {
	parts := strings.Fields(header)
	// "diff" "--git" "a/path" "b/path"
	if len(parts) < 4 {
		return "", ierrors.InvalidDiffError(
			fmt.Sprintf("malformed diff header: %q", header), nil)
	}
	path := strings.TrimPrefix(parts[len(parts)-1], "b/")
	if path == "" {
		return "", ierrors.InvalidDiffError(
			fmt.Sprintf("empty file path in header: %q", header), nil)
	}
	return path, nil
}

// parseHunkHeader extracts the old and new start lines from
// "@@ -oldStart,oldLen +newStart,newLen @@ ...".
func parseHunkHeader(line string) (oldStart, newStart int, err error) {
	parts := strings.Fields(line)
	if len(parts) < 3 || !strings.HasPrefix(parts[1], "-") || !strings.HasPrefix(parts[2], "+") {
		return 0, 0, ierrors.InvalidDiffError(
			fmt.Sprintf("malformed hunk header: %q", line), nil)
	}
	oldStart, err = startOf(parts[1][1:])
	if err != nil {
		return 0, 0, ierrors.InvalidDiffError(
			fmt.Sprintf("malformed hunk header: %q", line), err)
	}
	newStart, err = startOf(parts[2][1:])
	if err != nil {
		return 0, 0, ierrors.InvalidDiffError(
			fmt.Sprintf("malformed hunk header: %q", line), err)
	}
	return oldStart, newStart, nil
}

func startOf(spec string) (int, error) {
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}
	return strconv.Atoi(spec)
}

// Annotate prefixes new-file line numbers onto the file's raw diff body so a
// reviewer (human or model) can cite exact positions. Removed lines keep
// their '-' prefix but carry no number.
func Annotate(fd *FileDiff) string {
	var out strings.Builder
	current := 0
	inHunk := false

	for _, line := range strings.Split(fd.Raw, "\n") {
		if strings.HasPrefix(line, "@@") {
			if _, n, err := parseHunkHeader(line); err == nil {
				current = n
			}
			inHunk = true
			out.WriteString(line)
			out.WriteByte('\n')
			continue
		}
		if !inHunk {
			continue
		}

		switch {
		case strings.HasPrefix(line, "+"):
			fmt.Fprintf(&out, "%d: %s\n", current, line)
			current++
		case strings.HasPrefix(line, " "):
			fmt.Fprintf(&out, "%d: %s\n", current, line)
			current++
		case strings.HasPrefix(line, "-"):
			fmt.Fprintf(&out, "    %s\n", line)
		}
	}

	return strings.TrimRight(out.String(), "\n")
}
