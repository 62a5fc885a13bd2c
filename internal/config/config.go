// Package config loads process settings and the source registry.
//
// Precedence follows defaults, then the optional sources.yaml file, then
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Default values for tunable settings.
const (
	// DefaultBatchSize is the number of files per ingestion batch.
	DefaultBatchSize = 100

	// DefaultDataDir is the local base URI used when no object store bucket
	// is configured.
	DefaultDataDir = "./data"

	// BatchPrefix is the reserved prefix for isolated per-batch tables.
	// It must never be used as a canonical collection name.
	BatchPrefix = "lancedb_batch_"
)

// Settings holds process-wide configuration resolved from the environment.
type Settings struct {
	// ObjectStoreBucket enables object-storage mode when non-empty.
	ObjectStoreBucket string
	// ObjectStoreEndpoint is the S3-compatible endpoint host. Empty selects
	// the default AWS endpoint.
	ObjectStoreEndpoint string
	// ObjectStoreProject is the cloud project for object store, queue, and
	// job store.
	ObjectStoreProject string
	// TaskQueueLocation is the region of the task queue.
	TaskQueueLocation string
	// TaskQueueName identifies the queue used for batch fan-out.
	TaskQueueName string
	// BatchWorkerURL is the origin receiving /ingest-batch callbacks.
	BatchWorkerURL string
	// ServiceAccountEmail is the identity used to mint OIDC tokens.
	ServiceAccountEmail string
	// BatchSize is the number of files per batch.
	BatchSize int
	// DataDir is the local base directory for stores when not in
	// object-storage mode.
	DataDir string
	// JobDBPath is the SQLite file backing the job store.
	JobDBPath string
	// HandbookArchiveURL is the zip archive used to seed the handbook
	// source. Empty disables seeding.
	HandbookArchiveURL string
	// Port is the HTTP listen port.
	Port int
}

// LoadSettings resolves Settings from the environment.
func LoadSettings() Settings {
	s := Settings{
		ObjectStoreBucket:   os.Getenv("OBJECT_STORE_BUCKET"),
		ObjectStoreEndpoint: os.Getenv("OBJECT_STORE_ENDPOINT"),
		ObjectStoreProject:  os.Getenv("OBJECT_STORE_PROJECT"),
		TaskQueueLocation:   os.Getenv("TASK_QUEUE_LOCATION"),
		TaskQueueName:       os.Getenv("TASK_QUEUE_NAME"),
		BatchWorkerURL:      strings.TrimRight(os.Getenv("BATCH_WORKER_URL"), "/"),
		ServiceAccountEmail: os.Getenv("SERVICE_ACCOUNT_EMAIL"),
		HandbookArchiveURL:  os.Getenv("HANDBOOK_ARCHIVE_URL"),
		BatchSize:           DefaultBatchSize,
		DataDir:             DefaultDataDir,
		JobDBPath:           "jobs.db",
		Port:                8080,
	}

	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.BatchSize = n
		}
	}
	if v := os.Getenv("THOTH_DATA_DIR"); v != "" {
		s.DataDir = v
	}
	if v := os.Getenv("THOTH_JOB_DB"); v != "" {
		s.JobDBPath = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.Port = n
		}
	}

	return s
}

// ObjectStoreMode reports whether the process runs against object storage.
func (s Settings) ObjectStoreMode() bool {
	return s.ObjectStoreBucket != ""
}

// BaseURI returns the base URI under which all tables live:
// s3://{bucket} in object-storage mode, the local data dir otherwise.
func (s Settings) BaseURI() string {
	if s.ObjectStoreMode() {
		return fmt.Sprintf("s3://%s", s.ObjectStoreBucket)
	}
	return s.DataDir
}

// QueueConfigured reports whether all settings required for batch fan-out
// are present.
func (s Settings) QueueConfigured() bool {
	return s.BatchWorkerURL != "" &&
		s.TaskQueueName != "" &&
		s.TaskQueueLocation != "" &&
		s.ServiceAccountEmail != ""
}
