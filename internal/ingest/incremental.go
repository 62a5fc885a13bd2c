package ingest

import (
	"context"
	"log/slog"

	"github.com/thothlabs/thoth/internal/config"
	"github.com/thothlabs/thoth/internal/jobstore"
	"github.com/thothlabs/thoth/internal/store"
)

// applyIncremental reconciles the canonical table with what changed since
// the state's last commit. Deleted files lose their rows, modified files
// are replaced wholesale, added files are ingested fresh. A single file's
// failure is recorded and skipped, never fatal to the run.
func (o *Orchestrator) applyIncremental(ctx context.Context, src config.SourceConfig, st *store.Store, state *IngestionState, logger *slog.Logger) (jobstore.Stats, error) {
	changes, err := o.Snapshots.FileChanges(ctx, src.Name, state.LastCommit)
	if err != nil {
		return jobstore.Stats{}, err
	}

	logger.Info("applying incremental changes",
		slog.Int("added", len(changes.Added)),
		slog.Int("modified", len(changes.Modified)),
		slog.Int("deleted", len(changes.Deleted)))

	var stats jobstore.Stats

	for _, rel := range changes.Deleted {
		removed, err := st.DeleteByFilePath(ctx, rel)
		if err != nil {
			logger.Warn("deleting removed file", slog.String("file", rel), slog.Any("error", err))
			state.MarkFailed(rel, err)
			stats.FailedFiles++
			continue
		}
		state.AddChunks(-removed)
		state.UnmarkProcessed(rel)
		logger.Debug("file removed", slog.String("file", rel), slog.Int("chunks", removed))
	}

	for _, rel := range changes.Modified {
		removed, err := st.DeleteByFilePath(ctx, rel)
		if err != nil {
			logger.Warn("clearing stale rows", slog.String("file", rel), slog.Any("error", err))
			state.MarkFailed(rel, err)
			stats.FailedFiles++
			continue
		}
		n, err := o.processFile(ctx, st, src, rel)
		if err != nil {
			logger.Warn("reprocessing modified file", slog.String("file", rel), slog.Any("error", err))
			state.AddChunks(-removed)
			state.UnmarkProcessed(rel)
			state.MarkFailed(rel, err)
			stats.FailedFiles++
			continue
		}
		state.AddChunks(n - removed)
		state.MarkProcessed(rel)
		stats.ProcessedFiles++
		stats.TotalChunks += n
		stats.TotalDocuments += n
	}

	for _, rel := range changes.Added {
		n, err := o.processFile(ctx, st, src, rel)
		if err != nil {
			logger.Warn("ingesting added file", slog.String("file", rel), slog.Any("error", err))
			state.MarkFailed(rel, err)
			stats.FailedFiles++
			continue
		}
		state.AddChunks(n)
		state.MarkProcessed(rel)
		stats.ProcessedFiles++
		stats.TotalChunks += n
		stats.TotalDocuments += n
	}

	stats.TotalFiles = len(changes.Added) + len(changes.Modified) + len(changes.Deleted)
	return stats, nil
}
