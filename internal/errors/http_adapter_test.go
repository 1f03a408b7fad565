package errors

import (
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPErrorAdapter_StatusCodeFor(t *testing.T) {
	adapter := NewHTTPErrorAdapter(slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil error", err: nil, expected: http.StatusOK},
		{name: "validation", err: ValidationFailed("ref", "missing"), expected: http.StatusBadRequest},
		{name: "malformed ref", err: MalformedReference("main"), expected: http.StatusBadRequest},
		{name: "bad signature", err: New(CategoryAuth, SeverityWarning, "invalid signature"), expected: http.StatusUnauthorized},
		{name: "unknown job", err: NotFound("job", "42", nil), expected: http.StatusNotFound},
		{name: "queue full", err: DaemonError("job queue is full"), expected: http.StatusServiceUnavailable},
		{name: "internal", err: InternalError("boom", nil), expected: http.StatusInternalServerError},
		{name: "unclassified", err: stdErrors.New("plain"), expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, adapter.StatusCodeFor(tt.err))
		})
	}
}

func TestHTTPErrorAdapter_WriteErrorResponse(t *testing.T) {
	adapter := NewHTTPErrorAdapter(slog.Default())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/jobs/42", nil)

	adapter.WriteErrorResponse(rec, req, NotFound("job", "42", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "job not found", body.Error)
	assert.Equal(t, "not_found", body.Code)
	assert.Equal(t, "42", body.Details["id"])
}

func TestHTTPErrorAdapter_FormatRetryable(t *testing.T) {
	adapter := NewHTTPErrorAdapter(nil)
	resp := adapter.FormatErrorResponse(CloneTransient("git@example.com:x.git", "dev", stdErrors.New("timeout")))
	assert.True(t, resp.Retryable)
	assert.Equal(t, "network", resp.Code)

	plain := adapter.FormatErrorResponse(stdErrors.New("plain"))
	assert.Equal(t, "plain", plain.Error)
	assert.Empty(t, plain.Code)
}
