package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeClassification(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		retryable bool
	}{
		{ErrCodeBadSource, CategoryConfig, false},
		{ErrCodeChunkerConfig, CategoryConfig, false},
		{ErrCodeFileNotFound, CategoryIO, false},
		{ErrCodeParseFailed, CategoryIO, false},
		{ErrCodeObjectStore, CategoryNetwork, true},
		{ErrCodeJobStore, CategoryNetwork, true},
		{ErrCodeQueue, CategoryNetwork, true},
		{ErrCodeNetworkTimeout, CategoryNetwork, true},
		{ErrCodeInvalidInput, CategoryValidation, false},
		{ErrCodeInternal, CategoryInternal, false},
		{ErrCodeMergeFailed, CategoryInternal, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestMergeFailedIsWarning(t *testing.T) {
	err := MergeError("data/lancedb_batch_docs_j_0000", fmt.Errorf("decode failed"))
	assert.Equal(t, SeverityWarning, err.Severity)
	assert.Equal(t, "data/lancedb_batch_docs_j_0000", err.Details["batch_uri"])
}

func TestErrorChain(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := ObjectStoreError("fetch a.md", cause)

	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, stderrors.Is(err, &ThothError{Code: ErrCodeObjectStore}))
	assert.False(t, stderrors.Is(err, &ThothError{Code: ErrCodeQueue}))
	assert.Contains(t, err.Error(), ErrCodeObjectStore)
}

func TestBadSourceCarriesKnownList(t *testing.T) {
	err := BadSource("bogus", []string{"handbook", "dnd"})
	assert.Equal(t, ErrCodeBadSource, err.Code)
	assert.Equal(t, "bogus", err.Details["source"])
	assert.Equal(t, "handbook", err.Details["known_0"])
	assert.Equal(t, "dnd", err.Details["known_1"])
}

func TestFormatJSON(t *testing.T) {
	err := NotFound("docs/a.md", fmt.Errorf("stat failed"))
	data, marshalErr := FormatJSON(err)
	require.NoError(t, marshalErr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodeFileNotFound, decoded["code"])
	assert.Equal(t, "stat failed", decoded["cause"])
	assert.Equal(t, false, decoded["retryable"])
}

func TestFormatForLog_WrapsPlainErrors(t *testing.T) {
	attrs := FormatForLog(fmt.Errorf("plain"))
	assert.Equal(t, "plain", attrs["error"])

	attrs = FormatForLog(QueueError("enqueue", nil).WithDetail("batch_id", "j_0000"))
	assert.Equal(t, ErrCodeQueue, attrs["error_code"])
	assert.Equal(t, "j_0000", attrs["detail_batch_id"])
}

func testRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), testRetryConfig(), func() error {
		calls++
		if calls < 3 {
			return ObjectStoreError("flaky", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsRetries(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), testRetryConfig(), func() error {
		calls++
		return ObjectStoreError("down", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "failed after 3 retries")
}

func TestRetry_NonRetryableFailsFast(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), testRetryConfig(), func() error {
		calls++
		return BadRequest("malformed payload")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ErrCodeBadRequest, GetCode(err))
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, testRetryConfig(), func() error {
		return ObjectStoreError("never reached", nil)
	})
	assert.ErrorIs(t, err, ctx.Err())
}

func TestRetryWithResult(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), testRetryConfig(), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, ObjectStoreError("flaky", nil)
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}
