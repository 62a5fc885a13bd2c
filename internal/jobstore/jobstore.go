// Package jobstore persists ingestion Job and SubJob documents in SQLite.
package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/thothlabs/thoth/internal/errors"
)

// Job statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Stats are the per-job ingestion counters. All values are non-negative.
type Stats struct {
	TotalFiles     int `json:"total_files"`
	ProcessedFiles int `json:"processed_files"`
	FailedFiles    int `json:"failed_files"`
	TotalChunks    int `json:"total_chunks"`
	TotalDocuments int `json:"total_documents"`
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.TotalFiles += other.TotalFiles
	s.ProcessedFiles += other.ProcessedFiles
	s.FailedFiles += other.FailedFiles
	s.TotalChunks += other.TotalChunks
	s.TotalDocuments += other.TotalDocuments
}

// Job is a parent ingestion job.
type Job struct {
	JobID          string     `json:"job_id"`
	Status         string     `json:"status"`
	Source         string     `json:"source"`
	CollectionName string     `json:"collection_name"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Stats          Stats      `json:"stats"`
	Error          string     `json:"error,omitempty"`
	TotalBatches   int        `json:"total_batches,omitempty"`
}

// SubJob is one batch of a parent job.
type SubJob struct {
	SubJobID    string     `json:"sub_job_id"`
	ParentJobID string     `json:"parent_job_id"`
	BatchIndex  int        `json:"batch_index"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Stats       Stats      `json:"stats"`
	Error       string     `json:"error,omitempty"`
}

// SubJobID forms the child identifier for a batch index.
func SubJobID(parentJobID string, batchIndex int) string {
	return fmt.Sprintf("%s_%04d", parentJobID, batchIndex)
}

// JobDetail is a parent job with its children and aggregates.
type JobDetail struct {
	Job          Job            `json:"job"`
	SubJobs      []SubJob       `json:"sub_jobs,omitempty"`
	StatusCounts map[string]int `json:"status_counts"`
	Aggregated   Stats          `json:"aggregated_stats"`
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id          TEXT PRIMARY KEY,
	status          TEXT NOT NULL,
	source          TEXT NOT NULL,
	collection_name TEXT NOT NULL,
	started_at      TEXT NOT NULL,
	completed_at    TEXT,
	error           TEXT NOT NULL DEFAULT '',
	total_batches   INTEGER NOT NULL DEFAULT 0,
	total_files     INTEGER NOT NULL DEFAULT 0,
	processed_files INTEGER NOT NULL DEFAULT 0,
	failed_files    INTEGER NOT NULL DEFAULT 0,
	total_chunks    INTEGER NOT NULL DEFAULT 0,
	total_documents INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_jobs_listing ON jobs (source, status, started_at DESC);

CREATE TABLE IF NOT EXISTS sub_jobs (
	sub_job_id      TEXT PRIMARY KEY,
	parent_job_id   TEXT NOT NULL REFERENCES jobs (job_id),
	batch_index     INTEGER NOT NULL,
	status          TEXT NOT NULL,
	started_at      TEXT NOT NULL,
	completed_at    TEXT,
	error           TEXT NOT NULL DEFAULT '',
	total_files     INTEGER NOT NULL DEFAULT 0,
	processed_files INTEGER NOT NULL DEFAULT 0,
	failed_files    INTEGER NOT NULL DEFAULT 0,
	total_chunks    INTEGER NOT NULL DEFAULT 0,
	total_documents INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sub_jobs_parent ON sub_jobs (parent_job_id, batch_index);
`

// JobStore is the SQLite-backed job database.
type JobStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and migrates) the job database at path.
func Open(path string) (*JobStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.JobStoreError("create job db directory", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.JobStoreError("open job db", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.JobStoreError("migrate job db", err)
	}
	return &JobStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (j *JobStore) Close() error {
	return j.db.Close()
}

func (j *JobStore) timestamp() string {
	return j.now().UTC().Format(time.RFC3339Nano)
}

// CreateJob inserts a pending parent job and returns it.
func (j *JobStore) CreateJob(ctx context.Context, source, collectionName string) (*Job, error) {
	job := &Job{
		JobID:          uuid.NewString(),
		Status:         StatusPending,
		Source:         source,
		CollectionName: collectionName,
		StartedAt:      j.now().UTC(),
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, status, source, collection_name, started_at) VALUES (?, ?, ?, ?, ?)`,
		job.JobID, job.Status, job.Source, job.CollectionName, job.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, errors.JobStoreError("create job", err)
	}
	return job, nil
}

// CreateSubJob inserts a pending child for one batch. Re-creating an
// existing sub-job (queue redelivery) returns the stored row unchanged.
func (j *JobStore) CreateSubJob(ctx context.Context, parentJobID string, batchIndex, totalFiles int) (*SubJob, error) {
	sub := &SubJob{
		SubJobID:    SubJobID(parentJobID, batchIndex),
		ParentJobID: parentJobID,
		BatchIndex:  batchIndex,
		Status:      StatusPending,
		StartedAt:   j.now().UTC(),
		Stats:       Stats{TotalFiles: totalFiles},
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO sub_jobs (sub_job_id, parent_job_id, batch_index, status, started_at, total_files)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (sub_job_id) DO NOTHING`,
		sub.SubJobID, sub.ParentJobID, sub.BatchIndex, sub.Status,
		sub.StartedAt.Format(time.RFC3339Nano), totalFiles)
	if err != nil {
		return nil, errors.JobStoreError("create sub job", err)
	}
	return j.GetSubJob(ctx, sub.SubJobID)
}

// GetJob fetches one job, nil when absent.
func (j *JobStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT job_id, status, source, collection_name, started_at, completed_at, error, total_batches,
		        total_files, processed_files, failed_files, total_chunks, total_documents
		 FROM jobs WHERE job_id = ?`, jobID)
	return scanJob(row)
}

// GetSubJob fetches one sub-job, nil when absent.
func (j *JobStore) GetSubJob(ctx context.Context, subJobID string) (*SubJob, error) {
	row := j.db.QueryRowContext(ctx,
		`SELECT sub_job_id, parent_job_id, batch_index, status, started_at, completed_at, error,
		        total_files, processed_files, failed_files, total_chunks, total_documents
		 FROM sub_jobs WHERE sub_job_id = ?`, subJobID)

	var (
		sub                    SubJob
		startedAt, completedAt sql.NullString
	)
	err := row.Scan(&sub.SubJobID, &sub.ParentJobID, &sub.BatchIndex, &sub.Status,
		&startedAt, &completedAt, &sub.Error,
		&sub.Stats.TotalFiles, &sub.Stats.ProcessedFiles, &sub.Stats.FailedFiles,
		&sub.Stats.TotalChunks, &sub.Stats.TotalDocuments)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.JobStoreError("get sub job", err)
	}
	sub.StartedAt = parseTime(startedAt.String)
	sub.CompletedAt = parseNullableTime(completedAt)
	return &sub, nil
}

// MarkJobRunning transitions a job to running. Safe under retries.
func (j *JobStore) MarkJobRunning(ctx context.Context, jobID string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE jobs SET status = ? WHERE job_id = ? AND status NOT IN (?, ?)`,
		StatusRunning, jobID, StatusCompleted, StatusFailed)
	if err != nil {
		return errors.JobStoreError("mark job running", err)
	}
	return nil
}

// MarkJobCompleted writes the terminal completed status and final stats.
// A retry over an already terminal row keeps the original completion time.
func (j *JobStore) MarkJobCompleted(ctx context.Context, jobID string, stats Stats) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, completed_at = COALESCE(completed_at, ?),
		        total_files = ?, processed_files = ?, failed_files = ?, total_chunks = ?, total_documents = ?
		 WHERE job_id = ?`,
		StatusCompleted, j.timestamp(),
		stats.TotalFiles, stats.ProcessedFiles, stats.FailedFiles, stats.TotalChunks, stats.TotalDocuments,
		jobID)
	if err != nil {
		return errors.JobStoreError("mark job completed", err)
	}
	return nil
}

// MarkJobFailed writes the terminal failed status and the error message.
func (j *JobStore) MarkJobFailed(ctx context.Context, jobID, message string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = ?, completed_at = COALESCE(completed_at, ?) WHERE job_id = ?`,
		StatusFailed, message, j.timestamp(), jobID)
	if err != nil {
		return errors.JobStoreError("mark job failed", err)
	}
	return nil
}

// UpdateJobStats overwrites the job's counters without touching status.
func (j *JobStore) UpdateJobStats(ctx context.Context, jobID string, stats Stats) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE jobs SET total_files = ?, processed_files = ?, failed_files = ?, total_chunks = ?, total_documents = ?
		 WHERE job_id = ?`,
		stats.TotalFiles, stats.ProcessedFiles, stats.FailedFiles, stats.TotalChunks, stats.TotalDocuments, jobID)
	if err != nil {
		return errors.JobStoreError("update job stats", err)
	}
	return nil
}

// SetTotalBatches records the fan-out width on the parent job.
func (j *JobStore) SetTotalBatches(ctx context.Context, jobID string, total int) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE jobs SET total_batches = ? WHERE job_id = ?`, total, jobID)
	if err != nil {
		return errors.JobStoreError("set total batches", err)
	}
	return nil
}

// MarkSubJobRunning transitions a sub-job to running unless it is already
// terminal, so a redelivered batch cannot resurrect a finished one.
func (j *JobStore) MarkSubJobRunning(ctx context.Context, subJobID string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE sub_jobs SET status = ? WHERE sub_job_id = ? AND status NOT IN (?, ?)`,
		StatusRunning, subJobID, StatusCompleted, StatusFailed)
	if err != nil {
		return errors.JobStoreError("mark sub job running", err)
	}
	return nil
}

// MarkSubJobCompleted writes the terminal completed status exactly once;
// later retries keep the first run's stats and completion time.
func (j *JobStore) MarkSubJobCompleted(ctx context.Context, subJobID string, stats Stats) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE sub_jobs SET status = ?, completed_at = ?,
		        total_files = ?, processed_files = ?, failed_files = ?, total_chunks = ?, total_documents = ?
		 WHERE sub_job_id = ? AND completed_at IS NULL`,
		StatusCompleted, j.timestamp(),
		stats.TotalFiles, stats.ProcessedFiles, stats.FailedFiles, stats.TotalChunks, stats.TotalDocuments,
		subJobID)
	if err != nil {
		return errors.JobStoreError("mark sub job completed", err)
	}
	return nil
}

// MarkSubJobFailed writes the terminal failed status.
func (j *JobStore) MarkSubJobFailed(ctx context.Context, subJobID, message string) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE sub_jobs SET status = ?, error = ?, completed_at = COALESCE(completed_at, ?)
		 WHERE sub_job_id = ? AND status != ?`,
		StatusFailed, message, j.timestamp(), subJobID, StatusCompleted)
	if err != nil {
		return errors.JobStoreError("mark sub job failed", err)
	}
	return nil
}

// UpdateSubJobStats overwrites a sub-job's counters.
func (j *JobStore) UpdateSubJobStats(ctx context.Context, subJobID string, stats Stats) error {
	_, err := j.db.ExecContext(ctx,
		`UPDATE sub_jobs SET total_files = ?, processed_files = ?, failed_files = ?, total_chunks = ?, total_documents = ?
		 WHERE sub_job_id = ?`,
		stats.TotalFiles, stats.ProcessedFiles, stats.FailedFiles, stats.TotalChunks, stats.TotalDocuments, subJobID)
	if err != nil {
		return errors.JobStoreError("update sub job stats", err)
	}
	return nil
}

// ListJobs returns jobs ordered by started_at descending, optionally
// filtered by source and status.
func (j *JobStore) ListJobs(ctx context.Context, source, status string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT job_id, status, source, collection_name, started_at, completed_at, error, total_batches,
	                 total_files, processed_files, failed_files, total_chunks, total_documents
	          FROM jobs WHERE 1=1`
	args := []any{}
	if source != "" {
		query += ` AND source = ?`
		args = append(args, source)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.JobStoreError("list jobs", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// GetJobWithSubJobs returns the parent plus its children, per-status
// counts, and stats aggregated over the children.
func (j *JobStore) GetJobWithSubJobs(ctx context.Context, jobID string, includeSubJobs bool) (*JobDetail, error) {
	job, err := j.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT sub_job_id, parent_job_id, batch_index, status, started_at, completed_at, error,
		        total_files, processed_files, failed_files, total_chunks, total_documents
		 FROM sub_jobs WHERE parent_job_id = ? ORDER BY batch_index`, jobID)
	if err != nil {
		return nil, errors.JobStoreError("list sub jobs", err)
	}
	defer rows.Close()

	detail := &JobDetail{Job: *job, StatusCounts: make(map[string]int)}
	for rows.Next() {
		var (
			sub                    SubJob
			startedAt, completedAt sql.NullString
		)
		if err := rows.Scan(&sub.SubJobID, &sub.ParentJobID, &sub.BatchIndex, &sub.Status,
			&startedAt, &completedAt, &sub.Error,
			&sub.Stats.TotalFiles, &sub.Stats.ProcessedFiles, &sub.Stats.FailedFiles,
			&sub.Stats.TotalChunks, &sub.Stats.TotalDocuments); err != nil {
			return nil, errors.JobStoreError("scan sub job", err)
		}
		sub.StartedAt = parseTime(startedAt.String)
		sub.CompletedAt = parseNullableTime(completedAt)

		detail.StatusCounts[sub.Status]++
		detail.Aggregated.Add(sub.Stats)
		if includeSubJobs {
			detail.SubJobs = append(detail.SubJobs, sub)
		}
	}
	return detail, rows.Err()
}

// CleanupOld deletes jobs (and their sub-jobs) started before the cutoff.
// Returns the number of parent jobs removed.
func (j *JobStore) CleanupOld(ctx context.Context, days int) (int, error) {
	cutoff := j.now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)

	if _, err := j.db.ExecContext(ctx,
		`DELETE FROM sub_jobs WHERE parent_job_id IN (SELECT job_id FROM jobs WHERE started_at < ?)`,
		cutoff); err != nil {
		return 0, errors.JobStoreError("cleanup sub jobs", err)
	}
	res, err := j.db.ExecContext(ctx, `DELETE FROM jobs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, errors.JobStoreError("cleanup jobs", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job                    Job
		startedAt, completedAt sql.NullString
	)
	err := row.Scan(&job.JobID, &job.Status, &job.Source, &job.CollectionName,
		&startedAt, &completedAt, &job.Error, &job.TotalBatches,
		&job.Stats.TotalFiles, &job.Stats.ProcessedFiles, &job.Stats.FailedFiles,
		&job.Stats.TotalChunks, &job.Stats.TotalDocuments)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.JobStoreError("get job", err)
	}
	job.StartedAt = parseTime(startedAt.String)
	job.CompletedAt = parseNullableTime(completedAt)
	return &job, nil
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
