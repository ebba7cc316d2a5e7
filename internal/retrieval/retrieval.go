// Package retrieval turns anchor tags into rule-excerpt context for the
// review prompt.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/vetrail/vetrail/internal/anchor"
	"github.com/vetrail/vetrail/internal/rules"
)

// tagsPerQuery bounds how many tags feed one semantic query; more than
// this dilutes the embedding into a mush of topics.
const tagsPerQuery = 3

// tagPhrases maps anchor tags to natural-language phrasing for semantic
// queries. Unknown tags fall back to the tag with dashes spaced.
var tagPhrases = map[string]string{
	"java":       "Java programming",
	"python":     "Python programming",
	"javascript": "JavaScript programming",
	"typescript": "TypeScript programming",
	"golang":     "Go programming",
	"sql":        "SQL database",

	"jpa":    "JPA entity",
	"entity": "database entity",
	"spring": "Spring framework",
	"orm":    "object-relational mapping",

	"web-layer":     "web layer controller",
	"service-layer": "service layer business logic",
	"repository":    "repository data access",
	"controller":    "controller",
	"api":           "REST API",

	"database":  "database",
	"migration": "database migration",
	"ddl":       "DDL schema definition",
	"dml":       "DML data manipulation",
	"schema":    "database schema",

	"rest":        "RESTful API",
	"mvc":         "MVC pattern",
	"oop":         "object-oriented programming",
	"interface":   "interface design",
	"inheritance": "class inheritance",

	"react":    "React components",
	"frontend": "frontend development",

	"config":        "configuration",
	"testing":       "unit testing",
	"serialization": "object serialization",
}

// Searcher is the index capability the engine needs.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]rules.Scored, error)
	KeywordSearch(ctx context.Context, query string, k int) ([]rules.Scored, error)
}

// Engine retrieves the rule excerpts most relevant to a chunk's anchors.
type Engine struct {
	logger    *slog.Logger
	index     Searcher
	topK      int
	threshold float64

	// keywordOnly routes queries through the keyword index, the degraded
	// path when no embedder is available.
	keywordOnly bool
}

// Options configures an Engine.
type Options struct {
	TopK                int
	SimilarityThreshold float64
	KeywordOnly         bool
}

// NewEngine creates a retrieval engine over the given index.
func NewEngine(logger *slog.Logger, index Searcher, opts Options) *Engine {
	return &Engine{
		logger:      logger,
		index:       index,
		topK:        opts.TopK,
		threshold:   opts.SimilarityThreshold,
		keywordOnly: opts.KeywordOnly,
	}
}

// BuildQuery renders a tag group as a natural-language query.
func BuildQuery(tags []string) string {
	if len(tags) == 0 {
		return "general code review guidelines"
	}

	phrases := make([]string, len(tags))
	for i, tag := range tags {
		if phrase, ok := tagPhrases[tag]; ok {
			phrases[i] = phrase
		} else {
			phrases[i] = strings.ReplaceAll(tag, "-", " ")
		}
	}

	switch len(phrases) {
	case 1:
		return phrases[0] + " guidelines and best practices"
	case 2:
		return phrases[0] + " and " + phrases[1] + " guidelines"
	default:
		return strings.Join(phrases[:len(phrases)-1], ", ") + ", and " + phrases[len(phrases)-1] + " guidelines"
	}
}

// Retrieve returns up to TopK excerpts at or above the similarity
// threshold for the given anchors. An empty anchor set short-circuits to
// an empty result without touching the index. Results are ordered by
// score descending with excerpt ID ascending as the tie-break, so equal
// scores rank deterministically.
func (e *Engine) Retrieve(ctx context.Context, set anchor.Set) ([]rules.Scored, error) {
	if set.Empty() {
		return nil, nil
	}

	// One query per tag group; hits merge by excerpt ID keeping the best
	// score across groups.
	best := make(map[string]rules.Scored)
	for start := 0; start < len(set.Tags); start += tagsPerQuery {
		end := start + tagsPerQuery
		if end > len(set.Tags) {
			end = len(set.Tags)
		}
		query := BuildQuery(set.Tags[start:end])

		hits, err := e.search(ctx, query, e.topK*2)
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			if cur, ok := best[hit.Excerpt.ID]; !ok || hit.Score > cur.Score {
				best[hit.Excerpt.ID] = hit
			}
		}
	}

	results := make([]rules.Scored, 0, len(best))
	for _, hit := range best {
		if hit.Score >= e.threshold {
			results = append(results, hit)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Excerpt.ID < results[j].Excerpt.ID
	})

	if len(results) > e.topK {
		results = results[:e.topK]
	}

	e.logger.Debug("retrieved rule excerpts",
		slog.Int("tags", len(set.Tags)),
		slog.Int("excerpts", len(results)))
	return results, nil
}

func (e *Engine) search(ctx context.Context, query string, k int) ([]rules.Scored, error) {
	if e.keywordOnly {
		hits, err := e.index.KeywordSearch(ctx, query, k)
		if err != nil {
			return nil, err
		}
		normalizeKeywordScores(hits)
		return hits, nil
	}
	return e.index.Search(ctx, query, k)
}

// normalizeKeywordScores rescales one result set against its best hit.
// bleve scores are unbounded tf-idf values, not cosine similarities, so
// without rescaling the [0,1] similarity threshold has no meaning on the
// keyword path. After rescaling the threshold reads as "within this
// fraction of the best match".
func normalizeKeywordScores(hits []rules.Scored) {
	var max float64
	for _, h := range hits {
		if h.Score > max {
			max = h.Score
		}
	}
	if max <= 0 {
		return
	}
	for i := range hits {
		hits[i].Score /= max
	}
}
