package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"

	ierrors "github.com/vetrail/vetrail/internal/errors"
)

// KeywordIndex wraps a bleve index over excerpt text. It is the degraded
// retrieval path used when the embedder is unavailable, so it favors
// robustness over ranking quality.
type KeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

// keywordDoc is the bleve document shape.
type keywordDoc struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// NewKeywordIndex opens (or creates) a bleve index at path. An empty path
// creates an in-memory index, which tests use.
func NewKeywordIndex(path string) (*KeywordIndex, error) {
	mapping := bleve.NewIndexMapping()

	var idx bleve.Index
	var err error
	if path == "" {
		idx, err = bleve.NewMemOnly(mapping)
	} else {
		idx, err = bleve.Open(path)
		if err != nil {
			idx, err = bleve.New(path, mapping)
		}
	}
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeIndexFailed, "failed to open keyword index", err)
	}
	return &KeywordIndex{index: idx}, nil
}

// Index upserts excerpts in one batch.
func (k *KeywordIndex) Index(ctx context.Context, excerpts []Excerpt) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ierrors.New(ierrors.ErrCodeIndexFailed, "keyword index is closed", nil)
	}

	batch := k.index.NewBatch()
	for _, e := range excerpts {
		if err := batch.Index(e.ID, keywordDoc{Title: e.Title, Body: e.Body}); err != nil {
			return ierrors.New(ierrors.ErrCodeIndexFailed,
				fmt.Sprintf("failed to batch excerpt %s", e.ID), err)
		}
	}
	if err := k.index.Batch(batch); err != nil {
		return ierrors.New(ierrors.ErrCodeIndexFailed, "failed to commit keyword batch", err)
	}
	return nil
}

// Search returns up to limit excerpt IDs ranked by bleve's scoring.
func (k *KeywordIndex) Search(ctx context.Context, query string, limit int) ([]VectorHit, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return nil, ierrors.New(ierrors.ErrCodeIndexFailed, "keyword index is closed", nil)
	}

	match := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(match)
	req.Size = limit

	result, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, ierrors.RetrievalError("keyword search failed", err)
	}

	hits := make([]VectorHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, VectorHit{ID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// Delete removes excerpt IDs.
func (k *KeywordIndex) Delete(ctx context.Context, ids []string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return ierrors.New(ierrors.ErrCodeIndexFailed, "keyword index is closed", nil)
	}

	batch := k.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := k.index.Batch(batch); err != nil {
		return ierrors.New(ierrors.ErrCodeIndexFailed, "failed to delete from keyword index", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (k *KeywordIndex) Count() (uint64, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.closed {
		return 0, ierrors.New(ierrors.ErrCodeIndexFailed, "keyword index is closed", nil)
	}
	return k.index.DocCount()
}

// Close closes the underlying bleve index.
func (k *KeywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil
	}
	k.closed = true
	return k.index.Close()
}
