package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kamalcharan/contractnest-auth/internal/config"
	"github.com/stretchr/testify/assert"
)

func serveWithHeaders(cfg config.SecurityHeadersConfig, path string) http.Header {
	h := SecurityHeaders(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Header()
}

func TestSecurityHeaders(t *testing.T) {
	cfg := config.SecurityHeadersConfig{
		Enabled:            true,
		CSP:                "default-src 'none'",
		HSTSMaxAge:         86400,
		FrameOptions:       "SAMEORIGIN",
		ContentTypeOptions: "nosniff",
		ReferrerPolicy:     "no-referrer",
	}

	got := serveWithHeaders(cfg, "/v1/lock/status")

	assert.Equal(t, "default-src 'none'", got.Get("Content-Security-Policy"))
	assert.Equal(t, "max-age=86400; includeSubDomains", got.Get("Strict-Transport-Security"))
	assert.Equal(t, "SAMEORIGIN", got.Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", got.Get("X-Content-Type-Options"))
	assert.Equal(t, "no-referrer", got.Get("Referrer-Policy"))
	assert.Empty(t, got.Get("X-XSS-Protection"))
	assert.Empty(t, got.Get("Permissions-Policy"))
}

func TestSecurityHeaders_NoStoreOnAuthResponses(t *testing.T) {
	cfg := config.SecurityHeadersConfig{Enabled: true}

	for _, path := range []string{"/v1/auth/login", "/v1/lock/status", "/v1/tenants/current"} {
		got := serveWithHeaders(cfg, path)
		assert.Equal(t, "no-store", got.Get("Cache-Control"), path)
		assert.Empty(t, got.Get("Strict-Transport-Security"), path)
	}
}

func TestSecurityHeaders_HandlerCanOverrideNoStore(t *testing.T) {
	h := SecurityHeaders(config.SecurityHeadersConfig{Enabled: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "public, max-age=60", rec.Header().Get("Cache-Control"))
}

func TestSecurityHeaders_Disabled(t *testing.T) {
	cfg := config.SecurityHeadersConfig{CSP: "default-src 'none'", HSTSMaxAge: 86400}

	got := serveWithHeaders(cfg, "/v1/lock/status")

	assert.Empty(t, got.Get("Content-Security-Policy"))
	assert.Empty(t, got.Get("Strict-Transport-Security"))
	assert.Empty(t, got.Get("Cache-Control"))
}
