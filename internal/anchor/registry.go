// Package anchor maps code signals in a diff chunk to rulebook tags.
//
// Detection is data-driven: a Registry compiled from YAML holds extension
// mappings, literal marker tokens, and regular-expression patterns. The
// registry is immutable after compilation; the Detector swaps whole
// registries atomically and never mutates one in place.
package anchor

import (
	"fmt"
	"os"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/vetrail/vetrail/configs"
	ierrors "github.com/vetrail/vetrail/internal/errors"
)

// registryFile is the YAML schema of a registry file.
type registryFile struct {
	Extensions map[string][]string `yaml:"extensions"`
	Markers    []markerEntry       `yaml:"markers"`
	Patterns   []patternEntry      `yaml:"patterns"`
}

type markerEntry struct {
	Token string   `yaml:"token"`
	Ext   string   `yaml:"ext"`
	Tags  []string `yaml:"tags"`
}

type patternEntry struct {
	Regex string   `yaml:"regex"`
	Ext   string   `yaml:"ext"`
	Tags  []string `yaml:"tags"`
}

// Marker matches a literal token in changed lines.
type Marker struct {
	Token string
	// Ext restricts the marker to files with this extension; empty
	// applies to every file.
	Ext  string
	Tags []string
}

// Pattern matches a compiled regular expression over changed lines.
type Pattern struct {
	Re   *regexp.Regexp
	Ext  string
	Tags []string
}

// Registry is a compiled, immutable set of anchor rules.
type Registry struct {
	extensions map[string][]string
	markers    []Marker
	patterns   []Pattern
}

// Compile parses and compiles a YAML registry.
func Compile(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, ierrors.New(ierrors.ErrCodeConfigInvalid, "failed to parse anchor registry", err)
	}
	return compileFile(&file)
}

func compileFile(file *registryFile) (*Registry, error) {
	reg := &Registry{
		extensions: make(map[string][]string, len(file.Extensions)),
	}
	for ext, tags := range file.Extensions {
		reg.extensions[ext] = append([]string(nil), tags...)
	}
	for _, m := range file.Markers {
		if m.Token == "" || len(m.Tags) == 0 {
			return nil, ierrors.New(ierrors.ErrCodeConfigInvalid,
				fmt.Sprintf("marker entry needs token and tags: %+v", m), nil)
		}
		reg.markers = append(reg.markers, Marker{Token: m.Token, Ext: m.Ext, Tags: m.Tags})
	}
	for _, p := range file.Patterns {
		if p.Regex == "" || len(p.Tags) == 0 {
			return nil, ierrors.New(ierrors.ErrCodeConfigInvalid,
				fmt.Sprintf("pattern entry needs regex and tags: %+v", p), nil)
		}
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, ierrors.New(ierrors.ErrCodeConfigInvalid,
				fmt.Sprintf("invalid anchor pattern %q", p.Regex), err)
		}
		reg.patterns = append(reg.patterns, Pattern{Re: re, Ext: p.Ext, Tags: p.Tags})
	}
	return reg, nil
}

// Builtin compiles the embedded registry. The embedded data is validated by
// tests, so a compile failure here is a build defect.
func Builtin() (*Registry, error) {
	reg, err := Compile(configs.BuiltinAnchors)
	if err != nil {
		return nil, ierrors.InternalError("built-in anchor registry is invalid", err)
	}
	return reg, nil
}

// Load compiles the built-in registry and, when userPath is non-empty,
// merges the user registry's entries after the built-ins.
func Load(userPath string) (*Registry, error) {
	reg, err := Builtin()
	if err != nil {
		return nil, err
	}
	if userPath == "" {
		return reg, nil
	}

	data, err := os.ReadFile(userPath)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeConfigNotFound,
			fmt.Sprintf("failed to read anchor registry %s", userPath), err)
	}
	user, err := Compile(data)
	if err != nil {
		return nil, err
	}
	return reg.merge(user), nil
}

// merge returns a new registry with other's entries appended after r's.
// Extension tags union; marker and pattern lists concatenate in order.
func (r *Registry) merge(other *Registry) *Registry {
	out := &Registry{
		extensions: make(map[string][]string, len(r.extensions)+len(other.extensions)),
		markers:    append(append([]Marker(nil), r.markers...), other.markers...),
		patterns:   append(append([]Pattern(nil), r.patterns...), other.patterns...),
	}
	for ext, tags := range r.extensions {
		out.extensions[ext] = append([]string(nil), tags...)
	}
	for ext, tags := range other.extensions {
		out.extensions[ext] = unionTags(out.extensions[ext], tags)
	}
	return out
}

func unionTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, t := range a {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range b {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Size reports the number of compiled entries, for logging.
func (r *Registry) Size() int {
	return len(r.extensions) + len(r.markers) + len(r.patterns)
}

// sortedSet turns a tag set into a sorted slice.
func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
