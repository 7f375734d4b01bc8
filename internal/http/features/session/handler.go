package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/internal/http/middleware"
	"github.com/kamalcharan/contractnest-auth/internal/httputil"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
)

// Sessions manages issued sessions.
type Sessions interface {
	RefreshSession(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	RevokeSession(ctx context.Context, refreshToken string) error
	RevokeAllSessions(ctx context.Context, userID uuid.UUID) error
}

// Handler handles session endpoints.
type Handler struct {
	sessions Sessions
	tokens   httputil.TokenWriter
}

// NewHandler creates a new session handler.
func NewHandler(sessions Sessions, tokens httputil.TokenWriter) *Handler {
	return &Handler{
		sessions: sessions,
		tokens:   tokens,
	}
}

// RefreshRequest represents a token refresh request (for mobile clients).
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// LogoutRequest represents a logout request (for mobile clients).
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh refreshes an access token. The session keeps the durability it
// was created with.
// POST /v1/auth/refresh
//
// For web clients: Reads refresh token from cookie, sets new cookies.
// For mobile clients: Reads/returns tokens in request/response body.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var refreshToken string

	if httputil.IsMobileClient(r) {
		var req RefreshRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
		refreshToken = req.RefreshToken
	} else {
		var ok bool
		refreshToken, ok = httputil.GetRefreshTokenFromCookie(r)
		if !ok {
			httputil.Error(w, http.StatusUnauthorized, "refresh token not found")
			return
		}
	}

	if refreshToken == "" {
		httputil.Error(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	tokens, err := h.sessions.RefreshSession(r.Context(), refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) ||
			errors.Is(err, domain.ErrSessionExpired) ||
			errors.Is(err, domain.ErrSessionRevoked) {
			h.tokens.Clear(w, r)
			httputil.Error(w, http.StatusUnauthorized, "invalid or expired refresh token")
			return
		}
		httputil.Error(w, http.StatusInternalServerError, "failed to refresh token")
		return
	}

	h.tokens.Write(w, r, tokens, http.StatusOK)
}

// Logout revokes a session.
// POST /v1/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var refreshToken string

	if httputil.IsMobileClient(r) {
		var req LogoutRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
		refreshToken = req.RefreshToken
	} else {
		refreshToken, _ = httputil.GetRefreshTokenFromCookie(r)
	}

	if refreshToken != "" {
		// Revoke session (ignore errors to prevent enumeration attacks)
		_ = h.sessions.RevokeSession(r.Context(), refreshToken)
	}

	h.tokens.Clear(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes all sessions for the current user.
// POST /v1/auth/logout/all
func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.sessions.RevokeAllSessions(r.Context(), userID); err != nil {
		httputil.Error(w, http.StatusInternalServerError, "failed to logout all sessions")
		return
	}

	h.tokens.Clear(w, r)
	w.WriteHeader(http.StatusNoContent)
}
