package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name          string
		code          string
		wantCategory  Category
		wantSeverity  Severity
		wantRetryable bool
	}{
		{
			name:          "invalid diff is fatal input error",
			code:          ErrCodeInvalidDiff,
			wantCategory:  CategoryInput,
			wantSeverity:  SeverityFatal,
			wantRetryable: false,
		},
		{
			name:          "retrieval is retryable network error",
			code:          ErrCodeRetrieval,
			wantCategory:  CategoryNetwork,
			wantSeverity:  SeverityWarning,
			wantRetryable: true,
		},
		{
			name:          "timeout is retryable",
			code:          ErrCodeTimeout,
			wantCategory:  CategoryNetwork,
			wantSeverity:  SeverityWarning,
			wantRetryable: true,
		},
		{
			name:          "review parse is validation error",
			code:          ErrCodeReviewParse,
			wantCategory:  CategoryValidation,
			wantSeverity:  SeverityError,
			wantRetryable: false,
		},
		{
			name:          "publish is retryable",
			code:          ErrCodePublish,
			wantCategory:  CategoryNetwork,
			wantSeverity:  SeverityWarning,
			wantRetryable: true,
		},
		{
			name:          "anchor detect is internal defect",
			code:          ErrCodeAnchorDetect,
			wantCategory:  CategoryInternal,
			wantSeverity:  SeverityError,
			wantRetryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)

			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.wantCategory, err.Category)
			assert.Equal(t, tt.wantSeverity, err.Severity)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestReviewError_Error(t *testing.T) {
	err := InvalidDiffError("diff is empty", nil)
	assert.Equal(t, "[ERR_201_INVALID_DIFF] diff is empty", err.Error())
}

func TestReviewError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := RetrievalError("index unavailable", cause)

	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, stderrors.Is(err, cause))
}

func TestReviewError_Is_MatchesByCode(t *testing.T) {
	err := TimeoutError("engine call exceeded 30s", nil)

	assert.True(t, stderrors.Is(err, New(ErrCodeTimeout, "other message", nil)))
	assert.False(t, stderrors.Is(err, New(ErrCodePublish, "other message", nil)))
}

func TestWrap(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		assert.Nil(t, Wrap(ErrCodeInternal, nil))
	})

	t.Run("wraps message and cause", func(t *testing.T) {
		cause := fmt.Errorf("disk full")
		err := Wrap(ErrCodeStoreFailed, cause)

		require.NotNil(t, err)
		assert.Equal(t, "disk full", err.Message)
		assert.Equal(t, cause, err.Cause)
	})
}

func TestWithDetail(t *testing.T) {
	err := ReviewParseError("no JSON array in response", nil).
		WithDetail("chunk_id", "3").
		WithDetail("attempt", "repair")

	assert.Equal(t, "3", err.Details["chunk_id"])
	assert.Equal(t, "repair", err.Details["attempt"])
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(RetrievalError("down", nil)))
	assert.False(t, IsRetryable(ReviewParseError("bad", nil)))
	assert.False(t, IsRetryable(fmt.Errorf("plain error")))
	assert.False(t, IsRetryable(nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(InvalidDiffError("empty", nil)))
	assert.False(t, IsFatal(TimeoutError("slow", nil)))
	assert.False(t, IsFatal(nil))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodePublish, GetCode(PublishError("stale revision", nil)))
	assert.Equal(t, "", GetCode(fmt.Errorf("plain")))
}
