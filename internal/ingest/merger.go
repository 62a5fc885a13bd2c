package ingest

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/thothlabs/thoth/internal/config"
	"github.com/thothlabs/thoth/internal/jobstore"
	"github.com/thothlabs/thoth/internal/objstore"
	"github.com/thothlabs/thoth/internal/store"
)

// Merger folds the isolated batch tables of a collection back into the
// canonical table once the fan-out finishes.
type Merger struct {
	*Env
}

// NewMerger creates a merger over the shared environment.
func NewMerger(env *Env) *Merger {
	return &Merger{Env: env}
}

// MergeResult summarizes one merge pass.
type MergeResult struct {
	Collection     string `json:"collection_name"`
	BatchesMerged  int    `json:"batches_merged"`
	TotalDocuments int    `json:"total_documents"`
	BatchesCleaned int    `json:"batches_cleaned"`
	FinalURI       string `json:"final_uri"`
}

// batchIndexSuffix matches the zero-padded batch index the orchestrator
// appends to a parent job id.
var batchIndexSuffix = regexp.MustCompile(`_\d{4}$`)

// MergeBatches upserts every row from each isolated batch table into the
// canonical collection table, reusing the stored vectors. When cleanup is
// set, merged batch directories are removed. One batch failing to merge is
// logged and skipped so the rest still land.
func (m *Merger) MergeBatches(ctx context.Context, collection string, cleanup bool) (*MergeResult, error) {
	prefix := config.BatchPrefix + collection + "_"
	objects, err := m.Bucket.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	dirs := batchDirs(objects)
	logger := slog.With(slog.String("collection_name", collection))
	result := &MergeResult{
		Collection: collection,
		FinalURI:   objstore.JoinURI(m.Settings.BaseURI(), collection),
	}
	if len(dirs) == 0 {
		logger.Info("no batch tables to merge")
		return result, nil
	}

	canonical, err := m.openStore(ctx, collection)
	if err != nil {
		return nil, err
	}
	defer canonical.Close()

	var merged []string
	for _, dir := range dirs {
		rows, err := m.readBatch(ctx, collection, dir)
		if err != nil {
			logger.Warn("reading batch table", slog.String("batch", dir), slog.Any("error", err))
			continue
		}
		if len(rows) == 0 {
			logger.Debug("batch table empty", slog.String("batch", dir))
			merged = append(merged, dir)
			continue
		}

		texts := make([]string, len(rows))
		ids := make([]string, len(rows))
		metadatas := make([]map[string]any, len(rows))
		vectors := make([][]float32, len(rows))
		for i, row := range rows {
			texts[i] = row.Text
			ids[i] = row.ID
			metadatas[i] = row.Metadata()
			vectors[i] = row.Vector
		}
		if err := canonical.AddDocuments(ctx, texts, metadatas, ids, vectors); err != nil {
			logger.Warn("merging batch table", slog.String("batch", dir), slog.Any("error", err))
			continue
		}

		merged = append(merged, dir)
		result.BatchesMerged++
		result.TotalDocuments += len(rows)
		logger.Info("batch merged", slog.String("batch", dir), slog.Int("documents", len(rows)))
	}

	if cleanup {
		for _, dir := range merged {
			if _, err := m.Bucket.DeleteAll(ctx, dir+"/"); err != nil {
				logger.Warn("cleaning batch table", slog.String("batch", dir), slog.Any("error", err))
				continue
			}
			result.BatchesCleaned++
		}
	}

	m.completeParentJobs(ctx, collection, merged, logger)

	logger.Info("merge finished",
		slog.Int("batches_merged", result.BatchesMerged),
		slog.Int("total_documents", result.TotalDocuments),
		slog.Int("batches_cleaned", result.BatchesCleaned))
	return result, nil
}

// readBatch loads every row of one isolated batch table.
func (m *Merger) readBatch(ctx context.Context, collection, dir string) ([]store.Record, error) {
	st, err := store.Open(ctx, store.Config{
		BaseURI:    objstore.JoinURI(m.Settings.BaseURI(), dir),
		Collection: collection,
		S3Endpoint: m.Settings.ObjectStoreEndpoint,
	}, m.Embedder)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	return st.GetDocuments(ctx, nil, nil, 0)
}

// batchDirs extracts the unique top-level batch directories from a listing.
func batchDirs(objects []objstore.Object) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, obj := range objects {
		slash := strings.IndexByte(obj.Key, '/')
		if slash < 0 {
			continue
		}
		dir := obj.Key[:slash]
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs
}

// completeParentJobs marks fan-out jobs completed once none of their
// sub-jobs remain pending or running. Batch ids carry the parent job id
// plus a numeric suffix, so job ids are recovered from the merged
// directory names. Best effort only.
func (m *Merger) completeParentJobs(ctx context.Context, collection string, merged []string, logger *slog.Logger) {
	prefix := config.BatchPrefix + collection + "_"
	jobs := make(map[string]bool)
	for _, dir := range merged {
		batchID := strings.TrimPrefix(dir, prefix)
		if !batchIndexSuffix.MatchString(batchID) {
			continue
		}
		jobs[batchIndexSuffix.ReplaceAllString(batchID, "")] = true
	}

	for jobID := range jobs {
		detail, err := m.Jobs.GetJobWithSubJobs(ctx, jobID, false)
		if err != nil {
			logger.Debug("looking up parent job", slog.String("job_id", jobID), slog.Any("error", err))
			continue
		}
		if detail == nil {
			continue
		}
		if detail.Job.Status == jobstore.StatusCompleted || detail.Job.Status == jobstore.StatusFailed {
			continue
		}
		if detail.StatusCounts[jobstore.StatusPending] > 0 || detail.StatusCounts[jobstore.StatusRunning] > 0 {
			continue
		}
		if err := m.Jobs.MarkJobCompleted(ctx, jobID, detail.Aggregated); err != nil {
			logger.Warn("completing parent job", slog.String("job_id", jobID), slog.Any("error", err))
			continue
		}
		logger.Info("parent job completed", slog.String("job_id", jobID))
	}
}
