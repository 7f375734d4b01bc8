package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/internal/httputil"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/tenant"
)

// TenantAuthorizer checks tenant access for an identity.
type TenantAuthorizer interface {
	Authorize(ctx context.Context, userID, tenantID uuid.UUID) (domain.TenantAccess, error)
}

// TenantHeader validates an X-Tenant-Id request header against the
// identity's memberships and makes it the active tenant for the request.
// Without the header the token's tenant stays active. The active tenant is
// echoed in the response header. It must run after Auth.
func TenantHeader(authz TenantAuthorizer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			active, _ := GetTenantID(ctx)

			if raw := r.Header.Get(tenant.HeaderName); raw != "" {
				tenantID, err := uuid.Parse(raw)
				if err != nil {
					httputil.Error(w, http.StatusBadRequest, "invalid tenant header")
					return
				}
				if tenantID != active {
					userID, _ := GetUserID(ctx)
					if _, err := authz.Authorize(ctx, userID, tenantID); err != nil {
						if errors.Is(err, domain.ErrTenantForbidden) {
							httputil.Error(w, http.StatusForbidden, "tenant not available")
							return
						}
						logger.Error("failed to authorize tenant", "tenant_id", tenantID, "error", err)
						httputil.Error(w, http.StatusInternalServerError, "internal error")
						return
					}
					active = tenantID
					ctx = context.WithValue(ctx, TenantIDKey, active)
				}
			}

			if active != uuid.Nil {
				w.Header().Set(tenant.HeaderName, active.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
