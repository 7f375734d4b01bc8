// Package client is a small SDK for services that sit behind
// contractnest-auth.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/lock"
)

// VerifyPasswordPath is the server route PasswordVerifier calls.
const VerifyPasswordPath = "/v1/auth/verify-password"

// errPasswordAuthNotAvailable is the error code the server returns for an
// identity without a password credential.
const errPasswordAuthNotAvailable = "password_auth_not_available"

// PasswordVerifier checks unlock passwords against a remote
// contractnest-auth server using the locked session's own access token.
type PasswordVerifier struct {
	url  string
	http *http.Client
}

var _ lock.CredentialVerifier = (*PasswordVerifier)(nil)

// NewPasswordVerifier creates a verifier for baseURL. httpClient may be nil.
func NewPasswordVerifier(baseURL string, httpClient *http.Client) *PasswordVerifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &PasswordVerifier{url: baseURL + VerifyPasswordPath, http: httpClient}
}

type verifyRequest struct {
	Password string `json:"password"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// VerifyPassword implements lock.CredentialVerifier.
func (v *PasswordVerifier) VerifyPassword(ctx context.Context, ref lock.SessionRef, password string) (bool, error) {
	body, err := json.Marshal(verifyRequest{Password: password})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if ref.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+ref.AccessToken)
	}

	resp, err := v.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrVerifierUnavailable, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return false, fmt.Errorf("%w: read response: %v", domain.ErrVerifierUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var out verifyResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return false, fmt.Errorf("%w: decode response: %v", domain.ErrVerifierUnavailable, err)
		}
		return out.Valid, nil
	case resp.StatusCode == http.StatusBadRequest:
		var out errorResponse
		if json.Unmarshal(data, &out) == nil && out.Error == errPasswordAuthNotAvailable {
			return false, domain.ErrPasswordAuthUnavailable
		}
		return false, fmt.Errorf("verify password: unexpected 400: %s", bytes.TrimSpace(data))
	case resp.StatusCode == http.StatusUnauthorized:
		return false, fmt.Errorf("verify password: %w", domain.ErrInvalidToken)
	default:
		return false, fmt.Errorf("%w: status %d", domain.ErrVerifierUnavailable, resp.StatusCode)
	}
}
