package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadSettings_Defaults(t *testing.T) {
	for _, key := range []string{"OBJECT_STORE_BUCKET", "BATCH_SIZE", "PORT", "BATCH_WORKER_URL", "THOTH_DATA_DIR"} {
		t.Setenv(key, "")
	}

	s := LoadSettings()
	assert.Equal(t, DefaultBatchSize, s.BatchSize)
	assert.Equal(t, DefaultDataDir, s.DataDir)
	assert.Equal(t, 8080, s.Port)
	assert.False(t, s.ObjectStoreMode())
	assert.False(t, s.QueueConfigured())
}

func TestLoadSettings_EnvOverrides(t *testing.T) {
	t.Setenv("OBJECT_STORE_BUCKET", "thoth-prod")
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("PORT", "9090")
	t.Setenv("BATCH_WORKER_URL", "https://worker.example.test/")

	s := LoadSettings()
	assert.Equal(t, 25, s.BatchSize)
	assert.Equal(t, 9090, s.Port)
	assert.True(t, s.ObjectStoreMode())
	assert.Equal(t, "s3://thoth-prod", s.BaseURI())
	// Trailing slash is normalized off the worker origin.
	assert.Equal(t, "https://worker.example.test", s.BatchWorkerURL)
}

func TestLoadSettings_IgnoresBadNumbers(t *testing.T) {
	t.Setenv("BATCH_SIZE", "zero")
	t.Setenv("PORT", "-1")

	s := LoadSettings()
	assert.Equal(t, DefaultBatchSize, s.BatchSize)
	assert.Equal(t, 8080, s.Port)
}

func TestQueueConfigured(t *testing.T) {
	s := Settings{
		BatchWorkerURL:      "https://worker.example.test",
		TaskQueueName:       "thoth-batches",
		TaskQueueLocation:   "us-central1",
		ServiceAccountEmail: "svc@example.test",
	}
	assert.True(t, s.QueueConfigured())

	s.ServiceAccountEmail = ""
	assert.False(t, s.QueueConfigured())
}
