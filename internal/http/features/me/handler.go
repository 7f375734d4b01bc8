package me

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/internal/http/middleware"
	"github.com/kamalcharan/contractnest-auth/internal/httputil"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
)

// Users loads identities.
type Users interface {
	GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// Methods reads and edits the auth method registry.
type Methods interface {
	Resolve(ctx context.Context, identityID uuid.UUID, hint string) domain.AuthMethodKind
	List(ctx context.Context, identityID uuid.UUID) ([]*domain.AuthMethod, error)
	SetPrimary(ctx context.Context, identityID, methodID uuid.UUID) error
	Remove(ctx context.Context, identityID, methodID uuid.UUID) error
}

// Handler handles user profile endpoints.
type Handler struct {
	logger  *slog.Logger
	users   Users
	methods Methods
}

// NewHandler creates a new me handler.
func NewHandler(logger *slog.Logger, users Users, methods Methods) *Handler {
	return &Handler{
		logger:  logger,
		users:   users,
		methods: methods,
	}
}

// UserResponse represents the user profile response.
type UserResponse struct {
	ID            string                `json:"id"`
	Email         string                `json:"email"`
	EmailVerified bool                  `json:"email_verified"`
	Name          string                `json:"name"`
	UserCode      string                `json:"user_code"`
	TenantID      *uuid.UUID            `json:"tenant_id,omitempty"`
	UnlockMethod  domain.AuthMethodKind `json:"unlock_method"`
}

// AuthMethodResponse is one registered auth method.
type AuthMethodResponse struct {
	ID         uuid.UUID             `json:"id"`
	Kind       domain.AuthMethodKind `json:"kind"`
	Provider   string                `json:"provider,omitempty"`
	IsPrimary  bool                  `json:"is_primary"`
	LastUsedAt *time.Time            `json:"last_used_at,omitempty"`
}

// GetMe returns the current user's profile.
// GET /v1/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.users.GetUserByID(r.Context(), userID)
	if err != nil {
		httputil.Error(w, http.StatusNotFound, "user not found")
		return
	}

	var hint string
	if claims, ok := middleware.GetClaims(r.Context()); ok {
		hint = claims.MethodHint()
	}
	resp := UserResponse{
		ID:            user.ID.String(),
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Name:          user.DisplayName(),
		UserCode:      user.UserCode,
		UnlockMethod:  h.methods.Resolve(r.Context(), userID, hint),
	}
	if tenantID, ok := middleware.GetTenantID(r.Context()); ok && tenantID != uuid.Nil {
		resp.TenantID = &tenantID
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// ListAuthMethods returns the registered auth methods, best first.
// GET /v1/me/auth-methods
func (h *Handler) ListAuthMethods(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rows, err := h.methods.List(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list auth methods", "user_id", userID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to list auth methods")
		return
	}

	out := make([]AuthMethodResponse, 0, len(rows))
	for _, m := range rows {
		if m.IsDeleted {
			continue
		}
		out = append(out, AuthMethodResponse{
			ID:         m.ID,
			Kind:       m.Kind,
			Provider:   m.Provider,
			IsPrimary:  m.IsPrimary,
			LastUsedAt: m.LastUsedAt,
		})
	}
	httputil.JSON(w, http.StatusOK, map[string]any{"methods": out})
}

// SetPrimary makes one auth method the primary one.
// PUT /v1/me/auth-methods/{id}/primary
func (h *Handler) SetPrimary(w http.ResponseWriter, r *http.Request) {
	userID, methodID, ok := h.methodParams(w, r)
	if !ok {
		return
	}

	if err := h.methods.SetPrimary(r.Context(), userID, methodID); err != nil {
		h.writeError(w, userID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveAuthMethod removes an auth method.
// DELETE /v1/me/auth-methods/{id}
func (h *Handler) RemoveAuthMethod(w http.ResponseWriter, r *http.Request) {
	userID, methodID, ok := h.methodParams(w, r)
	if !ok {
		return
	}

	if err := h.methods.Remove(r.Context(), userID, methodID); err != nil {
		h.writeError(w, userID, err)
		return
	}
	h.logger.Info("auth method removed", "user_id", userID, "method_id", methodID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) methodParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, uuid.Nil, false
	}
	methodID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid auth method id")
		return uuid.Nil, uuid.Nil, false
	}
	return userID, methodID, true
}

func (h *Handler) writeError(w http.ResponseWriter, userID uuid.UUID, err error) {
	switch {
	case errors.Is(err, domain.ErrAuthMethodNotFound):
		httputil.Error(w, http.StatusNotFound, "auth method not found")
	case errors.Is(err, domain.ErrLastAuthMethod):
		httputil.Error(w, http.StatusConflict, "cannot remove the only auth method")
	default:
		h.logger.Error("auth method update failed", "user_id", userID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to update auth methods")
	}
}
