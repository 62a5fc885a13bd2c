// Package store implements the columnar vector table backing semantic
// search. Tables live under a base URI (local directory or object-storage
// bucket), one directory per collection, and are indexed in memory with an
// HNSW graph for cosine kNN.
package store

import (
	"github.com/thothlabs/thoth/internal/config"
	"github.com/thothlabs/thoth/internal/objstore"
)

// Record is one row of a collection table.
type Record struct {
	ID          string
	Text        string
	Vector      []float32
	FilePath    string
	Section     string
	ChunkIndex  int64
	TotalChunks int64
	Source      string
	Format      string
	Timestamp   string
}

// Metadata returns the scalar metadata columns as a map, the shape filters
// evaluate against.
func (r *Record) Metadata() map[string]any {
	return map[string]any{
		"file_path":    r.FilePath,
		"section":      r.Section,
		"chunk_index":  r.ChunkIndex,
		"total_chunks": r.TotalChunks,
		"source":       r.Source,
		"format":       r.Format,
		"timestamp":    r.Timestamp,
	}
}

// applyMetadata copies recognized scalar columns from a metadata map.
// Unknown keys are ignored.
func (r *Record) applyMetadata(meta map[string]any) {
	for key, value := range meta {
		switch key {
		case "file_path":
			r.FilePath = toString(value)
		case "section":
			r.Section = toString(value)
		case "chunk_index":
			r.ChunkIndex = toInt64(value)
		case "total_chunks":
			r.TotalChunks = toInt64(value)
		case "source":
			r.Source = toString(value)
		case "format":
			r.Format = toString(value)
		case "timestamp":
			r.Timestamp = toString(value)
		}
	}
}

// SearchResult pairs a record with its cosine distance from the query.
type SearchResult struct {
	Record   Record
	Distance float32
}

// Config describes how to open a collection table.
type Config struct {
	// BaseURI is a local directory or scheme://bucket/prefix URI under
	// which collection directories live.
	BaseURI string

	// Collection is the table name.
	Collection string

	// Dimensions is the vector width. Zero defers to the embedder or the
	// persisted table.
	Dimensions int

	// S3Endpoint overrides the object-store endpoint, for tests.
	S3Endpoint string
}

// BatchURI returns the isolated base URI a batch writes under. The layout
// keeps per-batch tables disjoint from the canonical collection directory
// until merge.
func BatchURI(baseURI, collection, batchID string) string {
	return objstore.JoinURI(baseURI, config.BatchPrefix+collection+"_"+batchID)
}
