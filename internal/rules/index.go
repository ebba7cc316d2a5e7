package rules

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/vetrail/vetrail/internal/embed"
	ierrors "github.com/vetrail/vetrail/internal/errors"
)

const (
	// ingestLockTimeout bounds how long a second process waits for an
	// in-flight ingest before giving up.
	ingestLockTimeout = 2 * time.Minute

	// defaultIngestWorkers caps concurrent embedding batches during ingest.
	defaultIngestWorkers = 4

	// embedBatchSize is the number of excerpt bodies embedded per request.
	embedBatchSize = 16
)

// Index couples the vector store, keyword index, and metadata store into
// one retrieval surface over the rulebook.
type Index struct {
	logger   *slog.Logger
	embedder embed.Embedder
	dir      string

	mu      sync.RWMutex
	vectors *VectorStore
	keyword *KeywordIndex
	meta    *MetaStore

	workers int
}

// IndexOptions configures Open.
type IndexOptions struct {
	// Dir is the on-disk index directory. Empty keeps everything in
	// memory (tests, one-shot runs).
	Dir string

	// Workers caps concurrent embedding batches during Ingest.
	Workers int
}

// Open creates or loads an index.
func Open(logger *slog.Logger, embedder embed.Embedder, opts IndexOptions) (*Index, error) {
	var keywordPath, metaPath string
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, ierrors.New(ierrors.ErrCodeIndexFailed, "failed to create index directory", err)
		}
		keywordPath = filepath.Join(opts.Dir, "keyword.bleve")
		metaPath = filepath.Join(opts.Dir, "meta.db")
	}

	keyword, err := NewKeywordIndex(keywordPath)
	if err != nil {
		return nil, err
	}
	meta, err := NewMetaStore(metaPath)
	if err != nil {
		_ = keyword.Close()
		return nil, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultIngestWorkers
	}

	idx := &Index{
		logger:   logger,
		embedder: embedder,
		dir:      opts.Dir,
		vectors:  NewVectorStore(embedder.Dimensions()),
		keyword:  keyword,
		meta:     meta,
		workers:  workers,
	}

	if opts.Dir != "" {
		vectorPath := filepath.Join(opts.Dir, "vectors.hnsw")
		if _, statErr := os.Stat(vectorPath); statErr == nil {
			if err := idx.vectors.Load(vectorPath); err != nil {
				logger.Warn("failed to load vector index, starting empty",
					slog.String("path", vectorPath),
					slog.String("error", err.Error()))
				idx.vectors = NewVectorStore(embedder.Dimensions())
			}
		}
	}

	return idx, nil
}

// Ingest rebuilds the index from the markdown rule files under rulesDir.
// A file lock on the index directory keeps concurrent ingests (another
// process, the watcher firing during a manual run) from interleaving.
func (i *Index) Ingest(ctx context.Context, rulesDir string) (int, error) {
	unlock, err := i.acquireLock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	excerpts, err := ParseDir(rulesDir)
	if err != nil {
		return 0, err
	}

	i.logger.Info("ingesting rulebook",
		slog.String("rules_dir", rulesDir),
		slog.Int("excerpts", len(excerpts)))

	vectors, err := i.embedAll(ctx, excerpts)
	if err != nil {
		return 0, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	// Full rebuild: replace rather than merge, so deleted rule files
	// disappear from retrieval.
	if err := i.meta.DeleteAll(ctx); err != nil {
		return 0, err
	}
	fresh := NewVectorStore(i.embedder.Dimensions())

	ids := make([]string, len(excerpts))
	for j := range excerpts {
		ids[j] = excerpts[j].ID
	}
	if err := fresh.Add(ids, vectors); err != nil {
		return 0, err
	}
	if err := i.keyword.Index(ctx, excerpts); err != nil {
		return 0, err
	}
	if err := i.meta.Upsert(ctx, excerpts); err != nil {
		return 0, err
	}
	i.vectors = fresh

	if i.dir != "" {
		if err := i.vectors.Save(filepath.Join(i.dir, "vectors.hnsw")); err != nil {
			return 0, ierrors.New(ierrors.ErrCodeIndexFailed, "failed to persist vector index", err)
		}
	}

	i.logger.Info("rulebook ingested", slog.Int("excerpts", len(excerpts)))
	return len(excerpts), nil
}

// embedAll embeds excerpt texts in parallel batches.
func (i *Index) embedAll(ctx context.Context, excerpts []Excerpt) ([][]float32, error) {
	vectors := make([][]float32, len(excerpts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.workers)

	for start := 0; start < len(excerpts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(excerpts) {
			end = len(excerpts)
		}
		start, end := start, end
		g.Go(func() error {
			texts := make([]string, end-start)
			for j := start; j < end; j++ {
				texts[j-start] = EmbeddingText(&excerpts[j])
			}
			batch, err := i.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return ierrors.New(ierrors.ErrCodeIndexFailed,
					fmt.Sprintf("failed to embed excerpts %d-%d", start, end-1), err)
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// acquireLock takes the cross-process ingest lock. In-memory indexes skip
// locking; there is nothing shared to protect.
func (i *Index) acquireLock(ctx context.Context) (func(), error) {
	if i.dir == "" {
		return func() {}, nil
	}

	lock := flock.New(filepath.Join(i.dir, "ingest.lock"))
	lockCtx, cancel := context.WithTimeout(ctx, ingestLockTimeout)
	defer cancel()

	ok, err := lock.TryLockContext(lockCtx, 200*time.Millisecond)
	if err != nil || !ok {
		return nil, ierrors.New(ierrors.ErrCodeIndexFailed, "failed to acquire ingest lock", err)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			i.logger.Warn("failed to release ingest lock", slog.String("error", err.Error()))
		}
	}, nil
}

// Search embeds the query and returns up to k excerpts with similarity
// scores. An empty index returns no results, not an error.
func (i *Index) Search(ctx context.Context, query string, k int) ([]Scored, error) {
	vec, err := i.embedder.Embed(ctx, query)
	if err != nil {
		return nil, ierrors.RetrievalError("failed to embed query", err)
	}

	i.mu.RLock()
	hits, err := i.vectors.Search(vec, k)
	i.mu.RUnlock()
	if err != nil {
		return nil, ierrors.RetrievalError("vector search failed", err)
	}

	return i.resolve(ctx, hits)
}

// KeywordSearch is the embedder-free retrieval path.
func (i *Index) KeywordSearch(ctx context.Context, query string, k int) ([]Scored, error) {
	i.mu.RLock()
	hits, err := i.keyword.Search(ctx, query, k)
	i.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return i.resolve(ctx, hits)
}

func (i *Index) resolve(ctx context.Context, hits []VectorHit) ([]Scored, error) {
	ids := make([]string, len(hits))
	scores := make(map[string]float64, len(hits))
	for j, h := range hits {
		ids[j] = h.ID
		scores[h.ID] = h.Score
	}

	excerpts, err := i.meta.Get(ctx, ids)
	if err != nil {
		return nil, ierrors.RetrievalError("failed to resolve excerpts", err)
	}

	out := make([]Scored, 0, len(excerpts))
	for _, e := range excerpts {
		out = append(out, Scored{Excerpt: e, Score: scores[e.ID]})
	}
	return out, nil
}

// Dimensions returns the vector index dimension, which for a persisted
// index is the dimension it was last ingested with, not the current
// embedder's.
func (i *Index) Dimensions() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.vectors.Dims()
}

// Count returns the number of indexed excerpts.
func (i *Index) Count(ctx context.Context) (int, error) {
	return i.meta.Count(ctx)
}

// Close closes all three stores.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var firstErr error
	if err := i.vectors.Close(); err != nil {
		firstErr = err
	}
	if err := i.keyword.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := i.meta.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
