package ingest

import (
	"context"
	"path"
	"strings"

	"github.com/thothlabs/thoth/internal/chunk"
	"github.com/thothlabs/thoth/internal/config"
	"github.com/thothlabs/thoth/internal/embed"
	"github.com/thothlabs/thoth/internal/errors"
	"github.com/thothlabs/thoth/internal/jobstore"
	"github.com/thothlabs/thoth/internal/objstore"
	"github.com/thothlabs/thoth/internal/parser"
	"github.com/thothlabs/thoth/internal/snapshot"
	"github.com/thothlabs/thoth/internal/store"
	"github.com/thothlabs/thoth/internal/taskqueue"
)

// Env bundles the process-wide collaborators every ingest component uses.
// All fields are safe for concurrent use.
type Env struct {
	Settings  config.Settings
	Registry  *config.Registry
	Bucket    objstore.Bucket
	Jobs      *jobstore.JobStore
	Snapshots *snapshot.Provider
	Queue     *taskqueue.Queue
	Embedder  embed.Embedder
	Parsers   *parser.Factory
	Chunker   *chunk.Chunker
	States    *StateStore
}

// source resolves a source name, mapping a miss to BadSource.
func (e *Env) source(name string) (config.SourceConfig, error) {
	src, ok := e.Registry.Get(name)
	if !ok {
		return config.SourceConfig{}, errors.BadSource(name, e.Registry.Names())
	}
	return src, nil
}

// objectKey maps a source-relative path to its bucket key.
func objectKey(src config.SourceConfig, rel string) string {
	return path.Join(strings.TrimRight(src.ObjectPrefix, "/"), rel)
}

// openStore opens the canonical table for a collection.
func (e *Env) openStore(ctx context.Context, collection string) (*store.Store, error) {
	return store.Open(ctx, store.Config{
		BaseURI:    e.Settings.BaseURI(),
		Collection: collection,
		S3Endpoint: e.Settings.ObjectStoreEndpoint,
	}, e.Embedder)
}

// openBatchStore opens the isolated table a batch writes into.
func (e *Env) openBatchStore(ctx context.Context, collection, batchID string) (*store.Store, error) {
	return store.Open(ctx, store.Config{
		BaseURI:    store.BatchURI(e.Settings.BaseURI(), collection, batchID),
		Collection: collection,
		S3Endpoint: e.Settings.ObjectStoreEndpoint,
	}, e.Embedder)
}

// processFile runs one file through parse, chunk, embed, upsert against
// the given table. Returns the number of chunks written; zero chunks for
// an effectively empty file is not an error.
func (e *Env) processFile(ctx context.Context, st *store.Store, src config.SourceConfig, rel string) (int, error) {
	data, err := e.Bucket.Get(ctx, objectKey(src, rel))
	if err == objstore.ErrNotExist {
		return 0, errors.NotFound(rel, err)
	}
	if err != nil {
		return 0, errors.ObjectStoreError("fetch "+rel, err)
	}

	p, err := e.Parsers.ForExtension(path.Ext(rel))
	if err != nil {
		return 0, err
	}
	doc, err := p.ParseContent(data, rel)
	if err != nil {
		return 0, err
	}

	chunks := e.Chunker.Split(doc.Content, rel)
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
		ids[i] = c.ChunkID
		metadatas[i] = map[string]any{
			"file_path":    c.FilePath,
			"section":      c.Section(),
			"chunk_index":  int64(c.ChunkIndex),
			"total_chunks": int64(c.TotalChunks),
			"source":       src.Name,
			"format":       doc.Format,
			"timestamp":    c.Timestamp,
		}
	}

	if err := st.AddDocuments(ctx, texts, metadatas, ids, nil); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// processFiles runs processFile over a slice, accumulating stats and the
// per-file failure map. File failures never abort the pass.
func (e *Env) processFiles(ctx context.Context, st *store.Store, src config.SourceConfig, files []string) (jobstore.Stats, map[string]string) {
	stats := jobstore.Stats{TotalFiles: len(files)}
	failures := make(map[string]string)

	for _, rel := range files {
		n, err := e.processFile(ctx, st, src, rel)
		if err != nil {
			stats.FailedFiles++
			failures[rel] = err.Error()
			continue
		}
		stats.ProcessedFiles++
		stats.TotalChunks += n
		stats.TotalDocuments += n
	}
	return stats, failures
}
