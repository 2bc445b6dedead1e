package hls

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/hlsindex/internal/drm"
	"github.com/jmylchreest/hlsindex/internal/fetch"
)

func TestError_IsMatchesCode(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", manifestError(CodeAES128NotSupported))
	assert.ErrorIs(t, err, ErrAES128NotSupported)
	assert.NotErrorIs(t, err, ErrKeyFormatsNotSupported)

	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CategoryManifest, e.Category)
	assert.Equal(t, SeverityCritical, e.Severity)
	assert.Contains(t, e.Error(), string(CodeAES128NotSupported))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := newError(CategoryManifest, CodePlaylistParseFailed, cause, "x")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		code     Code
		category Category
		data     []any
	}{
		{
			name:     "abort",
			err:      fmt.Errorf("%w: %v", fetch.ErrAborted, context.Canceled),
			code:     CodeOperationAborted,
			category: CategoryPlayer,
		},
		{
			name:     "status",
			err:      &fetch.StatusError{URI: "https://x/a.m3u8", StatusCode: http.StatusNotFound},
			code:     CodeHTTPError,
			category: CategoryNetwork,
			data:     []any{"https://x/a.m3u8", http.StatusNotFound},
		},
		{
			name:     "missing attribute",
			err:      &drm.MissingAttributeError{Tag: "EXT-X-KEY", Attribute: "URI"},
			code:     CodeRequiredAttributeMissing,
			category: CategoryManifest,
			data:     []any{"URI"},
		},
		{
			name:     "transport",
			err:      errors.New("connection reset"),
			code:     CodeHTTPError,
			category: CategoryNetwork,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok := AsError(classify(tt.err))
			require.True(t, ok)
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.category, e.Category)
			if tt.data != nil {
				assert.Equal(t, tt.data, e.Data)
			}
			assert.ErrorIs(t, e, tt.err)
		})
	}

	assert.Nil(t, classify(nil))
	existing := manifestError(CodeMultipleMediaInitSections)
	assert.Same(t, existing, classify(existing))
}

func TestRecoverable(t *testing.T) {
	orig := manifestError(CodePlaylistParseFailed)
	r := recoverable(orig)
	require.NotNil(t, r)
	assert.Equal(t, SeverityRecoverable, r.Severity)
	assert.Equal(t, SeverityCritical, orig.Severity, "original is not modified")
	assert.Equal(t, "RECOVERABLE", r.Severity.String())

	r = recoverable(errors.New("dial tcp: refused"))
	require.NotNil(t, r)
	assert.Equal(t, CodeHTTPError, r.Code)
}

func TestIsAborted(t *testing.T) {
	assert.True(t, IsAborted(abortedError(nil)))
	assert.True(t, IsAborted(fmt.Errorf("ctx: %w", abortedError(context.Canceled))))
	assert.False(t, IsAborted(manifestError(CodeHTTPError)))
	assert.False(t, IsAborted(nil))
}
