package ingest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/thothlabs/thoth/internal/config"
	"github.com/thothlabs/thoth/internal/jobstore"
	"github.com/thothlabs/thoth/internal/taskqueue"
)

// BatchWorker processes one queued batch into its isolated table.
type BatchWorker struct {
	*Env
}

// NewBatchWorker creates a worker over the shared environment.
func NewBatchWorker(env *Env) *BatchWorker {
	return &BatchWorker{Env: env}
}

// BatchResult is the worker's response for one delivery.
type BatchResult struct {
	BatchID    string            `json:"batch_id"`
	Skipped    bool              `json:"skipped,omitempty"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
	Chunks     int               `json:"chunks"`
	Failures   map[string]string `json:"failures,omitempty"`
}

// ProcessBatch handles one task delivery. The queue redelivers on any
// failure, so a batch whose isolated table already holds objects is
// recognized as finished and skipped.
func (w *BatchWorker) ProcessBatch(ctx context.Context, task taskqueue.Task) (*BatchResult, error) {
	src, err := w.source(task.Source)
	if err != nil {
		return nil, err
	}

	batchID := task.BatchID
	if batchID == "" {
		batchID = fmt.Sprintf("%d_%d_%s", task.StartIndex, task.EndIndex, randomHex(8))
	}

	logger := slog.With(
		slog.String("job_id", task.JobID),
		slog.String("batch_id", batchID),
		slog.String("source", src.Name),
		slog.String("collection_name", src.CollectionName))

	// The batch id doubles as the sub-job id when the orchestrator formed
	// it; a synthesized id has no sub-job to track.
	tracked := task.BatchID != "" && task.JobID != ""
	if tracked {
		if err := w.Jobs.MarkSubJobRunning(ctx, batchID); err != nil {
			logger.Warn("marking sub job running", slog.Any("error", err))
		}
	}

	isolatedPrefix := config.BatchPrefix + src.CollectionName + "_" + batchID + "/"
	exists, err := w.Bucket.Exists(ctx, isolatedPrefix)
	if err != nil {
		return nil, err
	}
	if exists {
		logger.Info("batch already processed, skipping")
		stats := jobstore.Stats{
			TotalFiles:     len(task.FileList),
			ProcessedFiles: len(task.FileList),
		}
		if tracked {
			if err := w.Jobs.MarkSubJobCompleted(ctx, batchID, stats); err != nil {
				logger.Warn("marking sub job completed", slog.Any("error", err))
			}
		}
		return &BatchResult{
			BatchID:    batchID,
			Skipped:    true,
			Successful: len(task.FileList),
		}, nil
	}

	st, err := w.openBatchStore(ctx, src.CollectionName, batchID)
	if err != nil {
		if tracked {
			_ = w.Jobs.MarkSubJobFailed(ctx, batchID, err.Error())
		}
		return nil, err
	}
	defer st.Close()

	stats, failures := w.processFiles(ctx, st, src, task.FileList)
	for rel, msg := range failures {
		logger.Warn("file failed", slog.String("file", rel), slog.String("error", msg))
	}

	if tracked {
		if err := w.Jobs.UpdateSubJobStats(ctx, batchID, stats); err != nil {
			logger.Warn("updating sub job stats", slog.Any("error", err))
		}
		if err := w.Jobs.MarkSubJobCompleted(ctx, batchID, stats); err != nil {
			logger.Warn("marking sub job completed", slog.Any("error", err))
		}
	}

	logger.Info("batch processed",
		slog.Int("successful", stats.ProcessedFiles),
		slog.Int("failed", stats.FailedFiles),
		slog.Int("chunks", stats.TotalChunks))
	return &BatchResult{
		BatchID:    batchID,
		Successful: stats.ProcessedFiles,
		Failed:     stats.FailedFiles,
		Chunks:     stats.TotalChunks,
		Failures:   failures,
	}, nil
}

func randomHex(n int) string {
	buf := make([]byte, (n+1)/2)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)[:n]
}
