// Package review turns retrieved rule context and a diff chunk into
// structured findings via a completion engine.
package review

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Severity ranks a finding. The zero value is invalid.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// rank orders severities for comparison, highest first.
func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s meets the given severity floor.
func (s Severity) AtLeast(floor Severity) bool {
	return s.rank() >= floor.rank()
}

// ParseSeverity normalizes a severity string. Unrecognized values
// fall back to medium so a sloppy model answer never drops a finding.
func ParseSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	case "low":
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// Finding is one rule violation located on a changed line.
type Finding struct {
	File       string   `json:"file"`
	Line       int      `json:"line"`
	Severity   Severity `json:"severity"`
	Rule       string   `json:"rule"`
	Category   string   `json:"category,omitempty"`
	Suggestion string   `json:"suggestion"`
	Snippet    string   `json:"code_snippet,omitempty"`

	// Key is a stable dedup key derived from the finding's identity
	// fields. Two runs that produce the same finding produce the same key.
	Key string `json:"key"`
}

// FindingKey computes the dedup key for a finding's identity fields.
func FindingKey(file string, line int, rule, suggestion string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s", file, line, rule, suggestion)))
	return hex.EncodeToString(sum[:])[:16]
}
