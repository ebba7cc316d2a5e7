package rules

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ierrors "github.com/vetrail/vetrail/internal/errors"
)

// ParseDir parses every markdown file under dir (recursively) into
// excerpts, in lexical path order so IDs are stable across machines.
func ParseDir(dir string) ([]Excerpt, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".md" || ext == ".markdown" {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeEmptyRulebook,
			fmt.Sprintf("failed to scan rulebook directory %s", dir), err)
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, ierrors.New(ierrors.ErrCodeEmptyRulebook,
			fmt.Sprintf("no markdown rule files under %s", dir), nil)
	}

	var excerpts []Excerpt
	for _, path := range paths {
		parsed, err := ParseFile(dir, path)
		if err != nil {
			return nil, err
		}
		excerpts = append(excerpts, parsed...)
	}
	if len(excerpts) == 0 {
		return nil, ierrors.New(ierrors.ErrCodeEmptyRulebook,
			fmt.Sprintf("rule files under %s contain no sections", dir), nil)
	}
	return excerpts, nil
}

// ParseFile parses one markdown rule file. Every "## " heading starts a new
// excerpt; text before the first heading belongs to a preamble excerpt
// titled after the file. Lines of the form "Severity: high" or
// "Category: database" inside a section set metadata instead of body text.
func ParseFile(root, path string) ([]Excerpt, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeEmptyRulebook,
			fmt.Sprintf("failed to read rule file %s", path), err)
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	var excerpts []Excerpt
	var cur *Excerpt
	flush := func() {
		if cur == nil {
			return
		}
		cur.Body = strings.TrimSpace(cur.Body)
		if cur.Body != "" || cur.Title != "" {
			cur.ID = excerptID(rel, len(excerpts))
			excerpts = append(excerpts, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			cur = &Excerpt{
				SourceFile: rel,
				Title:      strings.TrimSpace(strings.TrimPrefix(line, "## ")),
			}
			continue
		}
		if cur == nil {
			if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "# ") {
				continue
			}
			cur = &Excerpt{SourceFile: rel, Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}
		}

		if sev, ok := metaLine(line, "Severity"); ok {
			cur.Severity = strings.ToLower(sev)
			continue
		}
		if cat, ok := metaLine(line, "Category"); ok {
			cur.Category = strings.ToLower(cat)
			continue
		}
		cur.Body += line + "\n"
	}
	flush()

	return excerpts, nil
}

func metaLine(line, key string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	prefix := key + ":"
	if !strings.HasPrefix(trimmed, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, prefix)), true
}

// excerptID is stable across re-ingestion: relative path plus section index.
func excerptID(rel string, idx int) string {
	return fmt.Sprintf("%s#%03d", filepath.ToSlash(rel), idx)
}

// EmbeddingText is the text embedded for an excerpt: title and body
// together, so short bodies still carry their heading's signal.
func EmbeddingText(e *Excerpt) string {
	if e.Title == "" {
		return e.Body
	}
	return e.Title + "\n" + e.Body
}
