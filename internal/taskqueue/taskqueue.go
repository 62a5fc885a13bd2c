// Package taskqueue dispatches batch ingestion tasks to the worker
// endpoint over HTTP. Delivery is at least once: transient failures are
// retried with backoff, so the worker must stay idempotent per batch.
package taskqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/thothlabs/thoth/internal/config"
	"github.com/thothlabs/thoth/internal/errors"
)

// Task is the batch payload delivered to the worker.
type Task struct {
	JobID          string   `json:"job_id"`
	BatchID        string   `json:"batch_id"`
	StartIndex     int      `json:"start_index"`
	EndIndex       int      `json:"end_index"`
	CollectionName string   `json:"collection_name"`
	Source         string   `json:"source"`
	FileList       []string `json:"file_list,omitempty"`
}

// maxConcurrentDispatches bounds parallel POSTs during fan-out.
const maxConcurrentDispatches = 8

// Queue pushes tasks to the configured batch worker, authenticating each
// request with an OIDC identity token whose audience is the worker origin.
type Queue struct {
	settings config.Settings
	client   *http.Client
	tokens   oauth2.TokenSource
	retry    errors.RetryConfig
}

// Option customizes a Queue.
type Option func(*Queue)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(q *Queue) { q.client = c }
}

// WithTokenSource injects the identity token source. The source must mint
// tokens for the worker origin audience.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(q *Queue) { q.tokens = ts }
}

// WithRetryConfig overrides the dispatch retry policy.
func WithRetryConfig(cfg errors.RetryConfig) Option {
	return func(q *Queue) { q.retry = cfg }
}

// New creates a queue from settings.
func New(settings config.Settings, opts ...Option) *Queue {
	q := &Queue{
		settings: settings,
		client:   &http.Client{Timeout: 10 * time.Minute},
		retry:    errors.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// IsConfigured reports whether every endpoint and identity setting needed
// for dispatch is present.
func (q *Queue) IsConfigured() bool {
	return q.settings.QueueConfigured()
}

// Audience returns the OIDC audience: the worker URL's origin.
func (q *Queue) Audience() string {
	u, err := url.Parse(q.settings.BatchWorkerURL)
	if err != nil || u.Scheme == "" {
		return q.settings.BatchWorkerURL
	}
	return u.Scheme + "://" + u.Host
}

// EnqueueBatch delivers one task to the worker's ingest-batch endpoint
// and returns its batch id as the task handle.
func (q *Queue) EnqueueBatch(ctx context.Context, task Task) (string, error) {
	if !q.IsConfigured() {
		return "", errors.QueueError("task queue is not configured", nil)
	}

	body, err := json.Marshal(task)
	if err != nil {
		return "", errors.Internal("marshal task", err)
	}

	err = errors.Retry(ctx, q.retry, func() error {
		return q.post(ctx, body)
	})
	if err != nil {
		return "", err
	}

	slog.Info("batch enqueued",
		slog.String("job_id", task.JobID),
		slog.String("batch_id", task.BatchID),
		slog.Int("files", len(task.FileList)))
	return task.BatchID, nil
}

func (q *Queue) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		q.settings.BatchWorkerURL+"/ingest-batch", bytes.NewReader(body))
	if err != nil {
		return errors.Internal("build dispatch request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if q.tokens != nil {
		token, err := q.tokens.Token()
		if err != nil {
			return errors.QueueError("mint identity token", err)
		}
		token.SetAuthHeader(req)
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return errors.QueueError("dispatch batch", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	dispatchErr := errors.QueueError(fmt.Sprintf(
		"worker status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))), nil)
	// Client errors are the payload's fault and never resolve by retrying.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		dispatchErr.Retryable = false
	}
	return dispatchErr
}

// EnqueueBatches splits fileList into contiguous ranges of batchSize and
// dispatches one task per range, concurrently. Batch i covers
// [i*batchSize, min((i+1)*batchSize, N)) under id "{jobID}_{i:04}".
// Returns the tasks built; the error aggregates any dispatch failures.
func (q *Queue) EnqueueBatches(ctx context.Context, jobID string, fileList []string, collectionName, source string, batchSize int) ([]Task, error) {
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}

	tasks := SplitBatches(jobID, fileList, collectionName, source, batchSize)
	if len(tasks) == 0 {
		return nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDispatches)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if _, err := q.EnqueueBatch(gctx, task); err != nil {
				return fmt.Errorf("batch %s: %w", task.BatchID, err)
			}
			return nil
		})
	}
	return tasks, g.Wait()
}

// SplitBatches builds the task list without dispatching, one task per
// contiguous half-open range of fileList.
func SplitBatches(jobID string, fileList []string, collectionName, source string, batchSize int) []Task {
	n := len(fileList)
	if n == 0 || batchSize <= 0 {
		return nil
	}

	numBatches := (n + batchSize - 1) / batchSize
	tasks := make([]Task, 0, numBatches)
	for i := 0; i < numBatches; i++ {
		start := i * batchSize
		end := start + batchSize
		if end > n {
			end = n
		}
		tasks = append(tasks, Task{
			JobID:          jobID,
			BatchID:        fmt.Sprintf("%s_%04d", jobID, i),
			StartIndex:     start,
			EndIndex:       end,
			CollectionName: collectionName,
			Source:         source,
			FileList:       fileList[start:end],
		})
	}
	return tasks
}
