package rules

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	ierrors "github.com/vetrail/vetrail/internal/errors"
)

// VectorStore holds excerpt embeddings in an HNSW graph with cosine
// distance. Excerpt IDs are strings; the graph keys are uint64, so the
// store keeps a bidirectional mapping and uses lazy deletion (dropping the
// mapping, leaving the node) because deleting graph nodes is unreliable in
// coder/hnsw.
type VectorStore struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	dims    int
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	closed  bool
}

// vectorMetadata is the gob-persisted sidecar holding ID mappings.
type vectorMetadata struct {
	IDMap   map[string]uint64
	NextKey uint64
	Dims    int
}

// NewVectorStore creates an empty store for vectors of the given dimension.
func NewVectorStore(dims int) *VectorStore {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 20
	graph.Ml = 0.25

	return &VectorStore{
		graph:  graph,
		dims:   dims,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// Add inserts or replaces vectors by ID.
func (s *VectorStore) Add(ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return ierrors.InternalError(
			fmt.Sprintf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors)), nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ierrors.New(ierrors.ErrCodeIndexFailed, "vector store is closed", nil)
	}

	for i, id := range ids {
		if len(vectors[i]) != s.dims {
			return ierrors.New(ierrors.ErrCodeIndexFailed,
				fmt.Sprintf("vector dimension mismatch: expected %d, got %d", s.dims, len(vectors[i])), nil)
		}

		if existingKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, existingKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id
	}
	return nil
}

// Dims returns the dimension vectors must have, which after Load is the
// dimension the persisted index was built with.
func (s *VectorStore) Dims() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// VectorHit is one nearest-neighbor result.
type VectorHit struct {
	ID    string
	Score float64
}

// Search returns up to k nearest excerpt IDs with cosine similarity scores
// in [0,1]. Lazily deleted nodes are filtered out.
func (s *VectorStore) Search(query []float32, k int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ierrors.New(ierrors.ErrCodeIndexFailed, "vector store is closed", nil)
	}
	if len(query) != s.dims {
		return nil, ierrors.New(ierrors.ErrCodeIndexFailed,
			fmt.Sprintf("query dimension mismatch: expected %d, got %d", s.dims, len(query)), nil)
	}
	if s.graph.Len() == 0 {
		return []VectorHit{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch to compensate for lazily deleted nodes in the results.
	orphans := s.graph.Len() - len(s.keyMap)
	if orphans < 0 {
		orphans = 0
	}
	nodes := s.graph.Search(normalized, k+orphans)

	hits := make([]VectorHit, 0, k)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			continue
		}
		distance := s.graph.Distance(normalized, node.Value)
		hits = append(hits, VectorHit{ID: id, Score: distanceToScore(distance)})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Delete removes IDs from the mappings; graph nodes remain as orphans.
func (s *VectorStore) Delete(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
		}
	}
}

// Count returns the number of live vectors.
func (s *VectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Dimensions returns the vector dimension.
func (s *VectorStore) Dimensions() int {
	return s.dims
}

// Save writes the graph and ID mappings atomically (temp file + rename).
func (s *VectorStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ierrors.New(ierrors.ErrCodeIndexFailed, "vector store is closed", nil)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	return s.saveMetadata(path + ".meta")
}

func (s *VectorStore) saveMetadata(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}

	meta := vectorMetadata{IDMap: s.idMap, NextKey: s.nextKey, Dims: s.dims}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close metadata file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load replaces the store contents from disk.
func (s *VectorStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ierrors.New(ierrors.ErrCodeIndexFailed, "vector store is closed", nil)
	}

	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("failed to open metadata file: %w", err)
	}
	var meta vectorMetadata
	decodeErr := gob.NewDecoder(metaFile).Decode(&meta)
	_ = metaFile.Close()
	if decodeErr != nil {
		return fmt.Errorf("failed to decode metadata: %w", decodeErr)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer func() { _ = file.Close() }()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(file)); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	s.idMap = meta.IDMap
	s.nextKey = meta.NextKey
	s.dims = meta.Dims
	s.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases the graph.
func (s *VectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

func normalizeInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return
	}
	for i, val := range v {
		v[i] = float32(float64(val) / magnitude)
	}
}

// distanceToScore converts cosine distance to similarity in [0,1].
func distanceToScore(distance float32) float64 {
	score := 1.0 - float64(distance)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
