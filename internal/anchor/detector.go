package anchor

import (
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/vetrail/vetrail/internal/chunk"
)

// Set is the deduplicated, sorted list of tags detected in one chunk.
// An empty Set is a valid outcome, not an error.
type Set struct {
	Tags []string
}

// Empty reports whether no tags were detected.
func (s Set) Empty() bool {
	return len(s.Tags) == 0
}

// Detector applies a Registry to chunks. The registry is swapped
// atomically, so Detect never observes a half-updated rule set.
type Detector struct {
	registry atomic.Pointer[Registry]
}

// NewDetector returns a Detector using the given registry.
func NewDetector(reg *Registry) *Detector {
	d := &Detector{}
	d.registry.Store(reg)
	return d
}

// SetRegistry replaces the registry for all subsequent Detect calls.
// In-flight detections keep the registry they started with.
func (d *Detector) SetRegistry(reg *Registry) {
	d.registry.Store(reg)
}

// Detect scans the chunk's file paths and changed lines and returns the
// union of matched tags as a sorted set. The scan is pure: same chunk and
// registry, same result, no side effects.
func (d *Detector) Detect(c *chunk.Chunk) Set {
	reg := d.registry.Load()
	found := make(map[string]bool)

	for i := range c.Files {
		f := &c.Files[i]
		ext := strings.ToLower(filepath.Ext(f.Path))

		if tags, ok := reg.extensions[ext]; ok {
			addAll(found, tags)
		}

		// Markers and patterns run over changed lines only; context
		// lines did not change in this review and must not anchor it.
		for _, line := range f.Lines {
			for _, m := range reg.markers {
				if m.Ext != "" && m.Ext != ext {
					continue
				}
				if strings.Contains(line.Text, m.Token) {
					addAll(found, m.Tags)
				}
			}
			for _, p := range reg.patterns {
				if p.Ext != "" && p.Ext != ext {
					continue
				}
				if p.Re.MatchString(line.Text) {
					addAll(found, p.Tags)
				}
			}
		}
	}

	return Set{Tags: sortedSet(found)}
}

func addAll(set map[string]bool, tags []string) {
	for _, t := range tags {
		set[t] = true
	}
}
