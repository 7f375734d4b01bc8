package tenants

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/internal/http/middleware"
	"github.com/kamalcharan/contractnest-auth/internal/httputil"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/tenant"
)

// Switcher resolves and switches tenants.
type Switcher interface {
	ResolveAvailableTenants(ctx context.Context, userID uuid.UUID) ([]domain.TenantAccess, error)
	Recent(ctx context.Context, userID uuid.UUID) []uuid.UUID
	SwitchTo(ctx context.Context, sc tenant.SessionContext, tenantID uuid.UUID) (*tenant.SwitchResult, error)
}

// Handler handles tenant endpoints.
type Handler struct {
	logger   *slog.Logger
	switcher Switcher
	tokens   httputil.TokenWriter
}

// NewHandler creates a new tenants handler.
func NewHandler(logger *slog.Logger, switcher Switcher, tokens httputil.TokenWriter) *Handler {
	return &Handler{
		logger:   logger,
		switcher: switcher,
		tokens:   tokens,
	}
}

// TenantResponse is a tenant as seen by the caller.
type TenantResponse struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	WorkspaceCode string    `json:"workspace_code"`
	IsAdmin       bool      `json:"is_admin"`
	IsDefault     bool      `json:"is_default"`
	IsOwner       bool      `json:"is_owner"`
}

// ListResponse lists the caller's tenants.
type ListResponse struct {
	Tenants []TenantResponse `json:"tenants"`
	Current uuid.UUID        `json:"current"`
	Recent  []uuid.UUID      `json:"recent"`
}

// SwitchRequest selects a tenant.
type SwitchRequest struct {
	TenantID string `json:"tenant_id"`
}

// SwitchResponse is the result of a switch.
type SwitchResponse struct {
	Changed     bool           `json:"changed"`
	Tenant      TenantResponse `json:"tenant"`
	Recent      []uuid.UUID    `json:"recent"`
	Redirect    string         `json:"redirect,omitempty"`
	AccessToken string         `json:"access_token,omitempty"`
}

func toResponse(t domain.TenantAccess) TenantResponse {
	return TenantResponse{
		ID:            t.ID(),
		Name:          t.Tenant.Name,
		WorkspaceCode: t.Tenant.WorkspaceCode,
		IsAdmin:       t.IsAdmin,
		IsDefault:     t.IsDefault,
		IsOwner:       t.IsOwner,
	}
}

// List returns every tenant the caller may act within.
// GET /v1/tenants
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	available, err := h.switcher.ResolveAvailableTenants(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list tenants", "user_id", userID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to list tenants")
		return
	}

	resp := ListResponse{
		Tenants: make([]TenantResponse, 0, len(available)),
		Recent:  h.switcher.Recent(r.Context(), userID),
	}
	resp.Current, _ = middleware.GetTenantID(r.Context())
	for _, t := range available {
		resp.Tenants = append(resp.Tenants, toResponse(t))
	}
	if resp.Recent == nil {
		resp.Recent = []uuid.UUID{}
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// Current returns the active tenant.
// GET /v1/tenants/current
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	tenantID, _ := middleware.GetTenantID(r.Context())

	available, err := h.switcher.ResolveAvailableTenants(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list tenants", "user_id", userID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to load tenant")
		return
	}
	t, ok := tenant.Find(available, tenantID)
	if !ok {
		httputil.Error(w, http.StatusNotFound, "no active tenant")
		return
	}
	httputil.JSON(w, http.StatusOK, toResponse(t))
}

// Switch makes another tenant current for the session. The client should
// navigate to Redirect so tenant-scoped views reload.
// PUT /v1/tenants/current
func (h *Handler) Switch(w http.ResponseWriter, r *http.Request) {
	ref, ok := middleware.GetSessionRef(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	claims, _ := middleware.GetClaims(r.Context())
	current, _ := claims.Tenant()

	var req SwitchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid tenant_id")
		return
	}

	res, err := h.switcher.SwitchTo(r.Context(), tenant.SessionContext{
		SessionID:  ref.SessionID,
		UserID:     ref.UserID,
		TenantID:   current,
		Durability: ref.Durability,
	}, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrTenantForbidden) {
			httputil.Error(w, http.StatusForbidden, "tenant not available")
			return
		}
		h.logger.Error("tenant switch failed", "user_id", ref.UserID, "tenant_id", tenantID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to switch tenant")
		return
	}

	w.Header().Set(tenant.HeaderName, tenantID.String())
	if !res.Changed {
		resp := SwitchResponse{
			Tenant: TenantResponse{ID: tenantID},
			Recent: h.switcher.Recent(r.Context(), ref.UserID),
		}
		if available, err := h.switcher.ResolveAvailableTenants(r.Context(), ref.UserID); err != nil {
			h.logger.Warn("failed to load current tenant", "user_id", ref.UserID, "error", err)
		} else if t, ok := tenant.Find(available, tenantID); ok {
			resp.Tenant = toResponse(t)
		}
		httputil.JSON(w, http.StatusOK, resp)
		return
	}

	resp := SwitchResponse{
		Changed:  true,
		Tenant:   toResponse(res.Tenant),
		Recent:   res.Recent,
		Redirect: res.Redirect,
	}
	if httputil.IsMobileClient(r) {
		resp.AccessToken = res.Tokens.AccessToken
	} else {
		h.tokens.SetCookies(w, res.Tokens)
	}
	httputil.JSON(w, http.StatusOK, resp)
}
