package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thothlabs/thoth/internal/chunk"
	"github.com/thothlabs/thoth/internal/config"
	"github.com/thothlabs/thoth/internal/embed"
	"github.com/thothlabs/thoth/internal/ingest"
	"github.com/thothlabs/thoth/internal/jobstore"
	"github.com/thothlabs/thoth/internal/objstore"
	"github.com/thothlabs/thoth/internal/parser"
	"github.com/thothlabs/thoth/internal/snapshot"
)

func newTestServer(t *testing.T) (*Server, *ingest.Env) {
	t.Helper()

	dataDir := t.TempDir()
	registry, err := config.LoadRegistry("")
	require.NoError(t, err)

	bucket := objstore.NewLocal(dataDir)
	jobs, err := jobstore.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = jobs.Close() })

	chunker, err := chunk.NewChunker(chunk.DefaultOptions())
	require.NoError(t, err)

	embedder := embed.NewStaticEmbedder()
	t.Cleanup(func() { _ = embedder.Close() })

	env := &ingest.Env{
		Settings:  config.Settings{DataDir: dataDir, BatchSize: 2},
		Registry:  registry,
		Bucket:    bucket,
		Jobs:      jobs,
		Snapshots: snapshot.NewProvider(bucket, registry, t.TempDir()),
		Embedder:  embedder,
		Parsers:   parser.NewFactory(),
		Chunker:   chunker,
		States:    ingest.NewStateStore(t.TempDir()),
	}
	return New(env), env
}

func doJSON(t *testing.T, r *gin.Engine, method, target string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w, body := doJSON(t, s.Router(), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestIngest_MissingSource(t *testing.T) {
	s, _ := newTestServer(t)
	w, body := doJSON(t, s.Router(), http.MethodPost, "/ingest", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body, "valid_sources")
}

func TestIngest_UnknownSource(t *testing.T) {
	s, _ := newTestServer(t)
	w, body := doJSON(t, s.Router(), http.MethodPost, "/ingest", map[string]any{"source": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, body["error"], "bogus")
	assert.Contains(t, body, "valid_sources")
}

func TestIngest_AcceptedAndObservable(t *testing.T) {
	s, env := newTestServer(t)
	r := s.Router()
	require.NoError(t, env.Bucket.Put(context.Background(),
		"sources/handbook/intro.md", []byte("# Intro\n\nWelcome to the team.\n")))

	w, body := doJSON(t, r, http.MethodPost, "/ingest", map[string]any{"source": "handbook"})
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "handbook", body["source"])
	assert.Equal(t, "handbook", body["collection_name"])

	jobID, ok := body["job_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		w, body := doJSON(t, r, http.MethodGet, "/jobs/"+jobID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		job := body["job"].(map[string]any)
		return job["status"] == jobstore.StatusCompleted
	}, 10*time.Second, 10*time.Millisecond)

	w, body = doJSON(t, r, http.MethodGet, "/jobs?source=handbook", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])
}

func TestGetJob_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	w, body := doJSON(t, s.Router(), http.MethodGet, "/jobs/no-such-job", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no-such-job", body["job_id"])
}

func TestListJobs_BadLimit(t *testing.T) {
	s, _ := newTestServer(t)
	w, _ := doJSON(t, s.Router(), http.MethodGet, "/jobs?limit=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngestBatch_SuccessAndRedelivery(t *testing.T) {
	s, env := newTestServer(t)
	r := s.Router()
	require.NoError(t, env.Bucket.Put(context.Background(),
		"sources/handbook/a.md", []byte("# A\n\nalpha body\n")))

	payload := map[string]any{
		"job_id":          "jobZ",
		"batch_id":        "jobZ_0000",
		"collection_name": "handbook",
		"source":          "handbook",
		"file_list":       []string{"a.md"},
	}

	w, body := doJSON(t, r, http.MethodPost, "/ingest-batch", payload)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "jobZ_0000", body["batch_id"])
	assert.EqualValues(t, 1, body["successful"])
	assert.NotContains(t, body, "skipped")

	w, body = doJSON(t, r, http.MethodPost, "/ingest-batch", payload)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["skipped"])
}

func TestIngestBatch_Validation(t *testing.T) {
	s, _ := newTestServer(t)
	r := s.Router()

	w, _ := doJSON(t, r, http.MethodPost, "/ingest-batch", map[string]any{"job_id": "j"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, r, http.MethodPost, "/ingest-batch", map[string]any{
		"collection_name": "handbook", "source": "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMergeBatches_Endpoint(t *testing.T) {
	s, env := newTestServer(t)
	r := s.Router()
	require.NoError(t, env.Bucket.Put(context.Background(),
		"sources/handbook/a.md", []byte("# A\n\nalpha body\n")))

	w, _ := doJSON(t, r, http.MethodPost, "/merge-batches", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, body := doJSON(t, r, http.MethodPost, "/ingest-batch", map[string]any{
		"job_id": "jobM", "batch_id": "jobM_0000",
		"collection_name": "handbook", "source": "handbook",
		"file_list": []string{"a.md"},
	})
	require.Equal(t, "success", body["status"])

	w, body = doJSON(t, r, http.MethodPost, "/merge-batches", map[string]any{
		"collection_name": "handbook",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", body["status"])
	assert.EqualValues(t, 1, body["batches_merged"])
	assert.EqualValues(t, 1, body["batches_cleaned"])
	assert.NotEmpty(t, body["final_uri"])
}

func seedArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{
		"handbook-main/intro.md":        "# Intro\n\nSeeded page.\n",
		"handbook-main/deep/nested.md":  "# Nested\n\nAnother page.\n",
		"handbook-main/assets/logo.png": "not text",
	} {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestCloneHandbook(t *testing.T) {
	archive := seedArchive(t)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer upstream.Close()

	s, env := newTestServer(t)
	r := s.Router()

	w, body := doJSON(t, r, http.MethodPost, "/clone-handbook", map[string]any{
		"archive_url": upstream.URL,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", body["status"])
	assert.EqualValues(t, 2, body["files"])

	data, err := env.Bucket.Get(context.Background(), "sources/handbook/deep/nested.md")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# Nested"))

	// A seeded prefix is left alone.
	w, body = doJSON(t, r, http.MethodPost, "/clone-handbook", map[string]any{
		"archive_url": upstream.URL,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "exists", body["status"])
}

func TestCloneHandbook_Validation(t *testing.T) {
	s, _ := newTestServer(t)
	r := s.Router()

	w, body := doJSON(t, r, http.MethodPost, "/clone-handbook", map[string]any{"source": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "error", body["status"])

	w, body = doJSON(t, r, http.MethodPost, "/clone-handbook", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, fmt.Sprint(body["error"]), "archive URL")
}
