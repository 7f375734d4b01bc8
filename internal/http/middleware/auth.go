package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/internal/httputil"
	"github.com/kamalcharan/contractnest-auth/pkg/auth"
	"github.com/kamalcharan/contractnest-auth/pkg/lock"
)

type contextKey string

const (
	// UserIDKey is the context key for the authenticated user ID.
	UserIDKey contextKey = "user_id"
	// SessionIDKey is the context key for the session ID.
	SessionIDKey contextKey = "session_id"
	// ClaimsKey is the context key for the token claims.
	ClaimsKey contextKey = "claims"
	// TenantIDKey is the context key for the active tenant ID.
	TenantIDKey contextKey = "tenant_id"
	// AccessTokenKey is the context key for the raw access token.
	AccessTokenKey contextKey = "access_token"
)

// TokenValidator validates access tokens.
type TokenValidator interface {
	ValidateAccessToken(token string) (*auth.AccessTokenClaims, error)
}

// Auth creates middleware that validates JWT access tokens.
// Checks Authorization header first, then falls back to cookie for web clients.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				if token, ok := httputil.GetAccessTokenFromCookie(r); ok {
					tokenString = token
				}
			}
			if tokenString == "" {
				httputil.Error(w, http.StatusUnauthorized, "missing authorization")
				return
			}

			claims, err := validator.ValidateAccessToken(tokenString)
			if err != nil {
				httputil.Error(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			userID, err := claims.UserID()
			if err != nil {
				httputil.Error(w, http.StatusUnauthorized, "invalid token subject")
				return
			}
			sessionID, err := claims.SessionID()
			if err != nil {
				httputil.Error(w, http.StatusUnauthorized, "invalid token id")
				return
			}
			tenantID, err := claims.Tenant()
			if err != nil {
				httputil.Error(w, http.StatusUnauthorized, "invalid tenant_id in token")
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			ctx = context.WithValue(ctx, SessionIDKey, sessionID)
			ctx = context.WithValue(ctx, TenantIDKey, tenantID)
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			ctx = context.WithValue(ctx, AccessTokenKey, tokenString)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// GetUserID extracts the user ID from the request context.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return userID, ok
}

// GetSessionID extracts the session ID from the request context.
func GetSessionID(ctx context.Context) (uuid.UUID, bool) {
	sessionID, ok := ctx.Value(SessionIDKey).(uuid.UUID)
	return sessionID, ok
}

// GetClaims extracts the token claims from the request context.
func GetClaims(ctx context.Context) (*auth.AccessTokenClaims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.AccessTokenClaims)
	return claims, ok
}

// GetTenantID extracts the active tenant ID from the request context.
func GetTenantID(ctx context.Context) (uuid.UUID, bool) {
	tenantID, ok := ctx.Value(TenantIDKey).(uuid.UUID)
	return tenantID, ok
}

// GetSessionRef builds the lock reference for the authenticated session.
func GetSessionRef(ctx context.Context) (lock.SessionRef, bool) {
	claims, ok := GetClaims(ctx)
	if !ok {
		return lock.SessionRef{}, false
	}
	userID, _ := GetUserID(ctx)
	sessionID, _ := GetSessionID(ctx)
	token, _ := ctx.Value(AccessTokenKey).(string)
	return lock.SessionRef{
		SessionID:   sessionID,
		UserID:      userID,
		Durability:  claims.Durability,
		AccessToken: token,
		MethodHint:  claims.MethodHint(),
	}, true
}
