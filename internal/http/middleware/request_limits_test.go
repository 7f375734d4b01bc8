package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeUnlock stands in for a handler that decodes a password body.
func decodeUnlock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func unlockBody(passwordLen int) io.Reader {
	return strings.NewReader(`{"password":"` + strings.Repeat("p", passwordLen) + `"}`)
}

func TestRequestSizeLimit(t *testing.T) {
	overhead := len(`{"password":""}`)

	tests := []struct {
		name     string
		limit    int64
		password int
		want     int
	}{
		{"under limit", 64, 10, http.StatusNoContent},
		{"at limit", 64, 64 - overhead, http.StatusNoContent},
		{"over limit", 64, 64, http.StatusBadRequest},
		{"zero limit passes through", 0, 4096, http.StatusNoContent},
		{"negative limit passes through", -1, 4096, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequestSizeLimit(tt.limit)(http.HandlerFunc(decodeUnlock))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/lock/unlock", unlockBody(tt.password)))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequestSizeLimit_ReportsMaxBytesError(t *testing.T) {
	var readErr error
	h := RequestSizeLimit(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/auth/verify-password", bytes.NewReader(make([]byte, 32))))

	var maxErr *http.MaxBytesError
	require.ErrorAs(t, readErr, &maxErr)
	assert.Equal(t, int64(8), maxErr.Limit)
}

func TestRequestSizeLimit_NoBody(t *testing.T) {
	h := RequestSizeLimit(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/lock/status", nil)
	req.Body = nil
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
