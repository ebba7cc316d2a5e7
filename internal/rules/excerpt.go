// Package rules maintains the guideline index the review pipeline
// retrieves from: a vector store over excerpt embeddings, a keyword index
// for degraded operation, and a sqlite metadata store, all built by
// ingesting markdown rulebook files.
package rules

// Excerpt is one retrievable unit of the rulebook, typically a "## "
// section of a markdown file.
type Excerpt struct {
	// ID is deterministic for a given source file and section position,
	// so re-ingestion updates excerpts in place and retrieval tie-breaks
	// are stable across runs.
	ID string `json:"id"`

	SourceFile string `json:"source_file"`
	Title      string `json:"title"`

	// Severity is the rule author's default severity (critical, high,
	// medium, low) or empty when the section declares none.
	Severity string `json:"severity,omitempty"`

	Category string `json:"category,omitempty"`

	Body string `json:"body"`
}

// Scored pairs an excerpt with its retrieval similarity score.
type Scored struct {
	Excerpt Excerpt
	Score   float64
}
