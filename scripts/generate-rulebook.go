//go:build ignore

// Package main generates a synthetic markdown rulebook for benchmarking.
// Usage: go run scripts/generate-rulebook.go -rules 500 -output testdata/bench-rules
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
)

var (
	numRules  = flag.Int("rules", 500, "Number of rules to generate")
	outputDir = flag.String("output", "testdata/bench-rules", "Output directory")
	seed      = flag.Int64("seed", 42, "Random seed for reproducibility")
)

var ruleTemplate = `## Rule: %s

Severity: %s
Category: %s

%s must always %s. Code that %s without %s is a frequent source of
%s defects in review.

### Bad

` + "```%s" + `
%s
` + "```" + `

### Good

` + "```%s" + `
%s
` + "```" + `

### Rationale

%s When a change touches %s, reviewers should confirm that %s.
`

var (
	severities = []string{"critical", "high", "medium", "low"}
	categories = []string{
		"security", "concurrency", "error-handling", "resource-management",
		"performance", "logging", "api-design", "persistence",
	}
	subjects = []string{
		"Database queries", "HTTP handlers", "Goroutine spawns", "File handles",
		"User-supplied input", "Transaction boundaries", "Cache lookups",
		"Retry loops", "Configuration values", "Session tokens",
	}
	requirements = []string{
		"use parameterized statements", "propagate context cancellation",
		"close resources in a deferred call", "validate input before use",
		"bound retries with backoff", "wrap errors with operational context",
		"hold locks for the shortest possible span", "log at the call site that handles the error",
	}
	hazards = []string{
		"injection", "deadlock", "leak", "race", "data-loss", "timeout", "double-write",
	}
	badSnippets = map[string]string{
		"go":   "rows, _ := db.Query(\"SELECT * FROM users WHERE id = \" + id)",
		"java": "Statement st = conn.createStatement();\nst.executeQuery(\"SELECT * FROM users WHERE id = \" + id);",
		"py":   "cursor.execute(\"SELECT * FROM users WHERE id = \" + user_id)",
	}
	goodSnippets = map[string]string{
		"go":   "rows, err := db.QueryContext(ctx, \"SELECT * FROM users WHERE id = ?\", id)\nif err != nil {\n    return fmt.Errorf(\"query users: %w\", err)\n}",
		"java": "PreparedStatement st = conn.prepareStatement(\"SELECT * FROM users WHERE id = ?\");\nst.setString(1, id);",
		"py":   "cursor.execute(\"SELECT * FROM users WHERE id = %s\", (user_id,))",
	}
	languages = []string{"go", "java", "py"}
)

func main() {
	flag.Parse()
	rng := rand.New(rand.NewSource(*seed))

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	// Spread rules across one file per category so ingest sees a realistic
	// multi-file rulebook rather than one giant document.
	files := make(map[string]*strings.Builder)
	for _, cat := range categories {
		b := &strings.Builder{}
		fmt.Fprintf(b, "# %s Rules\n\n", strings.Title(strings.ReplaceAll(cat, "-", " ")))
		files[cat] = b
	}

	for i := 0; i < *numRules; i++ {
		cat := categories[rng.Intn(len(categories))]
		lang := languages[rng.Intn(len(languages))]
		subject := subjects[rng.Intn(len(subjects))]
		req := requirements[rng.Intn(len(requirements))]

		rule := fmt.Sprintf(ruleTemplate,
			fmt.Sprintf("%s-%04d", cat, i),
			severities[rng.Intn(len(severities))],
			cat,
			subject, req,
			strings.ToLower(subject[:1])+subject[1:], req,
			hazards[rng.Intn(len(hazards))],
			lang, badSnippets[lang],
			lang, goodSnippets[lang],
			fmt.Sprintf("%s that fail to %s are hard to catch in testing.", subject, req),
			strings.ToLower(subject),
			req,
		)
		files[cat].WriteString(rule)
		files[cat].WriteString("\n")
	}

	total := 0
	for cat, b := range files {
		path := filepath.Join(*outputDir, cat+".md")
		if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
			os.Exit(1)
		}
		total++
	}

	fmt.Printf("Generated %d rules across %d files in %s\n", *numRules, total, *outputDir)
}
