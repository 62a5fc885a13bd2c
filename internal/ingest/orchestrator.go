package ingest

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/thothlabs/thoth/internal/config"
	"github.com/thothlabs/thoth/internal/jobstore"
	"github.com/thothlabs/thoth/internal/store"
)

// Orchestrator accepts ingestion requests, fans them out into batches when
// the task queue is configured, and processes them directly otherwise.
type Orchestrator struct {
	*Env
}

// NewOrchestrator creates an orchestrator over the shared environment.
func NewOrchestrator(env *Env) *Orchestrator {
	return &Orchestrator{Env: env}
}

// Ingest validates the source, creates the parent job, and returns it
// immediately. The actual work continues in a detached goroutine; callers
// poll the job for terminal status. traceID correlates log records and may
// be empty, in which case one is derived from the job id.
func (o *Orchestrator) Ingest(ctx context.Context, sourceName string, force bool, traceID string) (*jobstore.Job, error) {
	src, err := o.source(sourceName)
	if err != nil {
		return nil, err
	}

	job, err := o.Jobs.CreateJob(ctx, src.Name, src.CollectionName)
	if err != nil {
		return nil, err
	}
	if traceID == "" {
		traceID = "trace-" + job.JobID
	}

	go o.run(context.WithoutCancel(ctx), job, src, force, traceID)
	return job, nil
}

// run drives one ingestion job to a terminal state (or leaves it running
// behind queued batches).
func (o *Orchestrator) run(ctx context.Context, job *jobstore.Job, src config.SourceConfig, force bool, traceID string) {
	logger := slog.With(
		slog.String("job_id", job.JobID),
		slog.String("source", src.Name),
		slog.String("collection_name", src.CollectionName),
		slog.String("trace_id", traceID))

	fail := func(msg string, err error) {
		logger.Error(msg, slog.Any("error", err))
		if markErr := o.Jobs.MarkJobFailed(ctx, job.JobID, err.Error()); markErr != nil {
			logger.Error("marking job failed", slog.Any("error", markErr))
		}
	}

	if err := o.Jobs.MarkJobRunning(ctx, job.JobID); err != nil {
		fail("starting job", err)
		return
	}

	files, err := o.discoverFiles(ctx, src, logger)
	if err != nil {
		fail("discovering files", err)
		return
	}

	if len(files) == 0 {
		logger.Info("no files to ingest")
		if err := o.Jobs.MarkJobCompleted(ctx, job.JobID, jobstore.Stats{}); err != nil {
			logger.Error("completing empty job", slog.Any("error", err))
		}
		return
	}

	if o.Queue == nil || !o.Queue.IsConfigured() {
		logger.Info("task queue not configured, processing directly", slog.Int("files", len(files)))
		o.runDirect(ctx, job, src, files, force, logger)
		return
	}

	batchSize := o.Settings.BatchSize
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}
	numBatches := (len(files) + batchSize - 1) / batchSize

	if err := o.Jobs.SetTotalBatches(ctx, job.JobID, numBatches); err != nil {
		fail("recording batch count", err)
		return
	}
	if err := o.Jobs.UpdateJobStats(ctx, job.JobID, jobstore.Stats{TotalFiles: len(files)}); err != nil {
		fail("recording file count", err)
		return
	}
	for i := 0; i < numBatches; i++ {
		start := i * batchSize
		end := start + batchSize
		if end > len(files) {
			end = len(files)
		}
		if _, err := o.Jobs.CreateSubJob(ctx, job.JobID, i, end-start); err != nil {
			fail("creating sub jobs", err)
			return
		}
	}

	logger.Info("fanning out batches", slog.Int("files", len(files)), slog.Int("batches", numBatches))
	if _, err := o.Queue.EnqueueBatches(ctx, job.JobID, files, src.CollectionName, src.Name, batchSize); err != nil {
		fail("enqueueing batches", err)
		return
	}
	// The job stays running; the merge step drives it terminal once every
	// sub-job finishes.
}

// runDirect is the no-queue path: one pass over all files against the
// canonical table, incremental when prior state allows it.
func (o *Orchestrator) runDirect(ctx context.Context, job *jobstore.Job, src config.SourceConfig, files []string, force bool, logger *slog.Logger) {
	st, err := o.openStore(ctx, src.CollectionName)
	if err != nil {
		logger.Error("opening canonical table", slog.Any("error", err))
		_ = o.Jobs.MarkJobFailed(ctx, job.JobID, err.Error())
		return
	}
	defer st.Close()

	state, err := o.States.Load(src.Name)
	if err != nil {
		logger.Error("loading ingestion state", slog.Any("error", err))
		_ = o.Jobs.MarkJobFailed(ctx, job.JobID, err.Error())
		return
	}

	var stats jobstore.Stats
	if !force && state.LastCommit != "" {
		stats, err = o.applyIncremental(ctx, src, st, state, logger)
	} else {
		stats, err = o.applyFull(ctx, src, st, state, files, logger)
	}
	if err != nil {
		_ = o.Jobs.MarkJobFailed(ctx, job.JobID, err.Error())
		return
	}

	if commit, commitErr := o.Snapshots.CurrentCommit(ctx, src.Name); commitErr == nil {
		state.LastCommit = commit
	} else {
		logger.Warn("computing source commit", slog.Any("error", commitErr))
	}
	state.Completed = true
	if err := o.States.Save(src.Name, state); err != nil {
		logger.Error("saving ingestion state", slog.Any("error", err))
	}

	logger.Info("direct ingestion finished",
		slog.Int("processed", stats.ProcessedFiles),
		slog.Int("failed", stats.FailedFiles),
		slog.Int("chunks", stats.TotalChunks))
	if err := o.Jobs.MarkJobCompleted(ctx, job.JobID, stats); err != nil {
		logger.Error("completing job", slog.Any("error", err))
	}
}

// applyFull ingests every discovered file.
func (o *Orchestrator) applyFull(ctx context.Context, src config.SourceConfig, st *store.Store, state *IngestionState, files []string, logger *slog.Logger) (jobstore.Stats, error) {
	stats, failures := o.processFiles(ctx, st, src, files)
	for _, rel := range files {
		if msg, failed := failures[rel]; failed {
			state.FailedFiles[rel] = msg
		} else {
			state.MarkProcessed(rel)
		}
	}
	state.TotalChunks = stats.TotalChunks
	state.TotalDocuments = stats.TotalDocuments
	for rel, msg := range failures {
		logger.Warn("file failed", slog.String("file", rel), slog.String("error", msg))
	}
	return stats, nil
}

// discoverFiles prefers the snapshot provider and falls back to scanning
// the source's on-disk path when listing is impossible.
func (o *Orchestrator) discoverFiles(ctx context.Context, src config.SourceConfig, logger *slog.Logger) ([]string, error) {
	files, err := o.Snapshots.ListFiles(ctx, src.Name)
	if err == nil {
		return files, nil
	}

	logger.Warn("snapshot listing failed, scanning local path", slog.Any("error", err))
	root := filepath.Join(o.Settings.DataDir, filepath.FromSlash(strings.TrimRight(src.ObjectPrefix, "/")))
	var local []string
	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !src.Supports(filepath.Ext(p)) {
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		local = append(local, filepath.ToSlash(rel))
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	sort.Strings(local)
	return local, nil
}

// NewTraceID synthesizes a trace identifier when no upstream header is
// present.
func NewTraceID() string {
	return "trace-" + uuid.NewString()
}
