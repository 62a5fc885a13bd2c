package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/thothlabs/thoth/internal/embed"
	"github.com/thothlabs/thoth/internal/errors"
	"github.com/thothlabs/thoth/internal/objstore"
)

// tableObject is the object key of a collection's table, relative to the
// base URI.
const tableObject = "table.gob"

// tableSnapshot is the persisted form of a collection table.
type tableSnapshot struct {
	Dimensions int
	Rows       []Record
}

// Store is one collection table: a row map persisted through an object
// store bucket plus an in-memory HNSW graph for cosine kNN. The graph is
// rebuilt from the rows on open and uses lazy deletion, so removed keys
// stay in the graph until the next open but are filtered from results.
type Store struct {
	mu       sync.RWMutex
	bucket   objstore.Bucket
	embedder embed.Embedder

	collection string
	dims       int
	rows       map[string]Record

	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64
	orphans int

	closed bool
}

// Open opens the collection table under cfg.BaseURI, creating it when
// absent. A concurrent creator winning the race is handled by re-reading.
// The embedder may be nil, in which case callers must always pass explicit
// embeddings and query vectors.
func Open(ctx context.Context, cfg Config, embedder embed.Embedder) (*Store, error) {
	bucket, err := objstore.Open(objstore.JoinURI(cfg.BaseURI, cfg.Collection), objstore.Options{
		S3Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		return nil, err
	}

	dims := cfg.Dimensions
	if dims == 0 && embedder != nil {
		dims = embedder.Dimensions()
	}

	s := &Store{
		bucket:     bucket,
		embedder:   embedder,
		collection: cfg.Collection,
		dims:       dims,
		rows:       make(map[string]Record),
		graph:      newGraph(),
		idMap:      make(map[string]uint64),
		keyMap:     make(map[uint64]string),
	}

	data, err := bucket.Get(ctx, tableObject)
	if err == objstore.ErrNotExist {
		// Second read covers a concurrent creator.
		if data, err = bucket.Get(ctx, tableObject); err == objstore.ErrNotExist {
			if err := s.save(ctx); err != nil {
				return nil, err
			}
			return s, nil
		}
	}
	if err != nil {
		return nil, errors.ObjectStoreError(fmt.Sprintf("open table %s", cfg.Collection), err)
	}

	var snapshot tableSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snapshot); err != nil {
		return nil, errors.ObjectStoreError(fmt.Sprintf("decode table %s", cfg.Collection), err)
	}
	if snapshot.Dimensions > 0 {
		s.dims = snapshot.Dimensions
	}
	for _, row := range snapshot.Rows {
		s.rows[row.ID] = row
		s.index(row.ID, row.Vector)
	}
	return s, nil
}

func newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 20
	g.Ml = 0.25
	return g
}

// index adds or replaces one vector in the graph. Replacement orphans the
// old graph node instead of deleting it.
func (s *Store) index(id string, vector []float32) {
	if oldKey, exists := s.idMap[id]; exists {
		delete(s.keyMap, oldKey)
		delete(s.idMap, id)
		s.orphans++
	}

	key := s.nextKey
	s.nextKey++
	s.graph.Add(hnsw.MakeNode(key, vector))
	s.idMap[id] = key
	s.keyMap[key] = id
}

// unindex orphans one id's graph node.
func (s *Store) unindex(id string) {
	if key, exists := s.idMap[id]; exists {
		delete(s.keyMap, key)
		delete(s.idMap, id)
		s.orphans++
	}
}

// save persists the table. Callers hold the write lock.
func (s *Store) save(ctx context.Context) error {
	snapshot := tableSnapshot{Dimensions: s.dims, Rows: make([]Record, 0, len(s.rows))}
	for _, row := range s.rows {
		snapshot.Rows = append(snapshot.Rows, row)
	}
	sort.Slice(snapshot.Rows, func(i, j int) bool { return snapshot.Rows[i].ID < snapshot.Rows[j].ID })

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snapshot); err != nil {
		return errors.Internal(fmt.Sprintf("encode table %s", s.collection), err)
	}
	if err := s.bucket.Put(ctx, tableObject, buf.Bytes()); err != nil {
		return errors.ObjectStoreError(fmt.Sprintf("persist table %s", s.collection), err)
	}
	return nil
}

// AddDocuments upserts rows by id. Ids default to "doc_{count+i}" and
// embeddings are computed from the texts when absent. Existing rows with
// the same id are replaced; the call is a no-op for empty input.
func (s *Store) AddDocuments(ctx context.Context, texts []string, metadatas []map[string]any, ids []string, embeddings [][]float32) error {
	if len(texts) == 0 {
		return nil
	}
	if metadatas != nil && len(metadatas) != len(texts) {
		return errors.InvalidInput(fmt.Sprintf("%d metadatas for %d texts", len(metadatas), len(texts)))
	}
	if ids != nil && len(ids) != len(texts) {
		return errors.InvalidInput(fmt.Sprintf("%d ids for %d texts", len(ids), len(texts)))
	}
	if embeddings != nil && len(embeddings) != len(texts) {
		return errors.InvalidInput(fmt.Sprintf("%d embeddings for %d texts", len(embeddings), len(texts)))
	}

	if embeddings == nil {
		if s.embedder == nil {
			return errors.InvalidInput("no embeddings given and no embedder configured")
		}
		var err error
		if embeddings, err = s.embedder.EmbedBatch(ctx, texts); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Internal("store is closed", nil)
	}

	if s.dims == 0 {
		s.dims = len(embeddings[0])
	}
	for i, vec := range embeddings {
		if len(vec) != s.dims {
			return errors.New(errors.ErrCodeDimensionMismatch, fmt.Sprintf(
				"vector %d has dimension %d, want %d", i, len(vec), s.dims), nil)
		}
	}

	existing := len(s.rows)
	for i, text := range texts {
		id := fmt.Sprintf("doc_%d", existing+i)
		if ids != nil {
			id = ids[i]
		}

		row := Record{ID: id, Text: text, Vector: embeddings[i]}
		if metadatas != nil {
			row.applyMetadata(metadatas[i])
		}
		s.rows[id] = row
		s.index(id, embeddings[i])
	}

	return s.save(ctx)
}

// SearchSimilar returns up to n rows ordered by ascending cosine distance
// from the query. The filter, when given, restricts candidates to rows
// whose metadata matches; filtered search scans linearly instead of using
// the graph so the result set is exact.
func (s *Store) SearchSimilar(ctx context.Context, query string, n int, where Filter, queryEmbedding []float32) ([]SearchResult, error) {
	if n <= 0 {
		return nil, errors.InvalidInput(fmt.Sprintf("result count must be positive, got %d", n))
	}

	if queryEmbedding == nil {
		if s.embedder == nil {
			return nil, errors.InvalidInput("no query embedding given and no embedder configured")
		}
		var err error
		if queryEmbedding, err = s.embedder.Embed(ctx, query); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.Internal("store is closed", nil)
	}
	if s.dims > 0 && len(queryEmbedding) != s.dims {
		return nil, errors.New(errors.ErrCodeDimensionMismatch, fmt.Sprintf(
			"query has dimension %d, want %d", len(queryEmbedding), s.dims), nil)
	}

	if where != nil {
		return s.scanSimilar(queryEmbedding, n, where), nil
	}

	if s.graph.Len() == 0 {
		return nil, nil
	}

	// Oversample by the orphan count so lazily deleted nodes cannot crowd
	// out live results.
	k := n + s.orphans
	if k > s.graph.Len() {
		k = s.graph.Len()
	}

	nodes := s.graph.Search(queryEmbedding, k)
	results := make([]SearchResult, 0, n)
	for _, node := range nodes {
		id, live := s.keyMap[node.Key]
		if !live {
			continue
		}
		results = append(results, SearchResult{
			Record:   s.rows[id],
			Distance: cosineDistance(queryEmbedding, node.Value),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > n {
		results = results[:n]
	}
	return results, nil
}

// scanSimilar is the exact filtered search path.
func (s *Store) scanSimilar(query []float32, n int, where Filter) []SearchResult {
	var results []SearchResult
	for _, row := range s.rows {
		if !where.Matches(row.Metadata()) {
			continue
		}
		results = append(results, SearchResult{
			Record:   row,
			Distance: cosineDistance(query, row.Vector),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > n {
		results = results[:n]
	}
	return results
}

// GetDocuments materializes the table, filters by id membership and/or
// metadata equality, and truncates to limit (0 means no limit). Rows come
// back ordered by id.
func (s *Store) GetDocuments(_ context.Context, ids []string, where Filter, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.Internal("store is closed", nil)
	}

	var idSet map[string]bool
	if ids != nil {
		idSet = make(map[string]bool, len(ids))
		for _, id := range ids {
			idSet[id] = true
		}
	}

	results := make([]Record, 0)
	for _, row := range s.rows {
		if idSet != nil && !idSet[row.ID] {
			continue
		}
		if where != nil && !where.Matches(row.Metadata()) {
			continue
		}
		results = append(results, row)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DeleteDocuments removes rows by id list and/or filter and returns how
// many were removed. At least one selector is required.
func (s *Store) DeleteDocuments(ctx context.Context, ids []string, where Filter) (int, error) {
	if ids == nil && where == nil {
		return 0, errors.InvalidInput("delete requires ids or a filter")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.Internal("store is closed", nil)
	}

	victims := make([]string, 0)
	if ids != nil {
		for _, id := range ids {
			if _, ok := s.rows[id]; ok {
				victims = append(victims, id)
			}
		}
	} else {
		for id, row := range s.rows {
			if where.Matches(row.Metadata()) {
				victims = append(victims, id)
			}
		}
	}

	if where != nil {
		slog.Debug("deleting by filter",
			slog.String("collection", s.collection),
			slog.String("predicate", where.SQL()),
			slog.Int("rows", len(victims)))
	}

	for _, id := range victims {
		delete(s.rows, id)
		s.unindex(id)
	}
	if len(victims) == 0 {
		return 0, nil
	}
	return len(victims), s.save(ctx)
}

// DeleteByFilePath removes every row whose file_path equals p and returns
// the count.
func (s *Store) DeleteByFilePath(ctx context.Context, p string) (int, error) {
	return s.DeleteDocuments(ctx, nil, Filter{"file_path": p})
}

// Count returns the table's row count.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errors.Internal("store is closed", nil)
	}
	return len(s.rows), nil
}

// Reset drops and recreates the table.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Internal("store is closed", nil)
	}

	s.rows = make(map[string]Record)
	s.graph = newGraph()
	s.idMap = make(map[string]uint64)
	s.keyMap = make(map[uint64]string)
	s.nextKey = 0
	s.orphans = 0
	return s.save(ctx)
}

// Collection returns the table name.
func (s *Store) Collection() string {
	return s.collection
}

// Dimensions returns the vector width, zero until the first row or
// configuration fixes it.
func (s *Store) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Close marks the store unusable. All data is already persisted by the
// mutating operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// cosineDistance assumes both vectors are unit-normalized.
func cosineDistance(a, b []float32) float32 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	d := 1 - dot
	if math.Abs(d) < 1e-9 {
		return 0
	}
	return float32(d)
}
