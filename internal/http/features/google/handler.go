package google

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/internal/httputil"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/lock"
	"github.com/kamalcharan/contractnest-auth/pkg/oauthbridge"
	"github.com/kamalcharan/contractnest-auth/pkg/tenant"
)

// LoginPath is where failed callbacks are sent.
const LoginPath = "/login"

// Bridge runs the provider round trip.
type Bridge interface {
	Initiate(ctx context.Context, req oauthbridge.InitiateRequest) (string, error)
	Complete(ctx context.Context, p oauthbridge.CallbackParams) (*oauthbridge.Result, error)
}

// Locks finishes federated unlocks.
type Locks interface {
	CompleteFederatedUnlock(ctx context.Context, ref lock.SessionRef, onUnlock lock.Continuation) (*lock.Result, error)
	SignOut(ctx context.Context, ref lock.SessionRef) error
}

// Sessions revokes sessions.
type Sessions interface {
	RevokeAllSessions(ctx context.Context, userID uuid.UUID) error
}

// Handler handles Google OAuth endpoints.
type Handler struct {
	logger   *slog.Logger
	bridge   Bridge
	locks    Locks
	sessions Sessions
	tokens   httputil.TokenWriter
}

// NewHandler creates a new Google OAuth handler. A nil bridge disables the
// endpoints.
func NewHandler(logger *slog.Logger, bridge Bridge, locks Locks, sessions Sessions, tokens httputil.TokenWriter) *Handler {
	return &Handler{
		logger:   logger,
		bridge:   bridge,
		locks:    locks,
		sessions: sessions,
		tokens:   tokens,
	}
}

// Start begins a federated sign-in.
// GET /v1/auth/google?redirect_uri=/path&remember_me=true
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	if h.bridge == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "google sign-in is not configured")
		return
	}

	q := r.URL.Query()
	durability := domain.DurabilityEphemeral
	if q.Get("remember_me") == "true" {
		durability = domain.DurabilityRemembered
	}

	authURL, err := h.bridge.Initiate(r.Context(), oauthbridge.InitiateRequest{
		Flow:        oauthbridge.FlowLogin,
		LoginHint:   q.Get("login_hint"),
		RedirectURI: httputil.SafeRedirect(q.Get("redirect_uri"), tenant.LandingPath),
		Durability:  durability,
	})
	if err != nil {
		h.logger.Error("google sign-in start failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to start google sign-in")
		return
	}

	if httputil.IsMobileClient(r) {
		httputil.JSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback completes a round trip started by Start or by a federated unlock.
// GET|POST /v1/auth/google/callback
//
// The provider may return an id_token directly (fragment relayed by the
// client, or form_post) instead of an authorization code.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.bridge == nil {
		httputil.Error(w, http.StatusServiceUnavailable, "google sign-in is not configured")
		return
	}

	res, err := h.bridge.Complete(r.Context(), oauthbridge.CallbackParams{
		State:     r.FormValue("state"),
		Code:      r.FormValue("code"),
		IDToken:   r.FormValue("id_token"),
		Error:     r.FormValue("error"),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		var mismatch *oauthbridge.MismatchError
		if res != nil && res.Flow == oauthbridge.FlowUnlock && !errors.As(err, &mismatch) {
			// The session stays locked; the lock screen offers the provider again.
			h.logger.Warn("federated unlock failed", "session_id", res.SessionID, "error", err)
			target := httputil.SafeRedirect(res.RedirectURI, tenant.LandingPath)
			http.Redirect(w, r, httputil.WithQuery(target, "error", "unlock_failed"), http.StatusFound)
			return
		}
		h.fail(w, r, err)
		return
	}

	target := httputil.SafeRedirect(res.RedirectURI, tenant.LandingPath)
	if res.Replayed {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	switch res.Flow {
	case oauthbridge.FlowLogin:
		if httputil.IsMobileClient(r) {
			h.tokens.Write(w, r, res.Tokens, http.StatusOK)
			return
		}
		h.tokens.SetCookies(w, res.Tokens)

	case oauthbridge.FlowUnlock:
		ref := lock.SessionRef{SessionID: res.SessionID, UserID: res.UserID, Durability: res.Durability}
		if _, err := h.locks.CompleteFederatedUnlock(r.Context(), ref, nil); err != nil {
			h.logger.Warn("federated unlock rejected", "session_id", res.SessionID, "error", err)
			http.Redirect(w, r, httputil.WithQuery(target, "error", "unlock_failed"), http.StatusFound)
			return
		}
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// fail redirects to the login page. An identity mismatch during unlock ends
// every session of the locked identity first.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := "oauth_failed"

	var mismatch *oauthbridge.MismatchError
	switch {
	case errors.As(err, &mismatch):
		code = "identity_mismatch"
		ctx := context.WithoutCancel(r.Context())
		if rerr := h.sessions.RevokeAllSessions(ctx, mismatch.LockedIdentityID); rerr != nil {
			h.logger.Error("revoke sessions after identity mismatch failed", "user_id", mismatch.LockedIdentityID, "error", rerr)
		}
		ref := lock.SessionRef{SessionID: mismatch.SessionID, UserID: mismatch.LockedIdentityID}
		if serr := h.locks.SignOut(ctx, ref); serr != nil {
			h.logger.Error("lock sign out after identity mismatch failed", "session_id", mismatch.SessionID, "error", serr)
		}
		h.tokens.Clear(w, r)
		h.logger.Warn("federated unlock identity mismatch", "session_id", mismatch.SessionID, "locked_user_id", mismatch.LockedIdentityID)
	case errors.Is(err, domain.ErrOAuthStateNotFound):
		code = "invalid_state"
	case errors.Is(err, domain.ErrOAuthProvider):
		code = "provider_error"
	default:
		h.logger.Error("google callback failed", "error", err)
	}

	http.Redirect(w, r, httputil.WithQuery(LoginPath, "error", code), http.StatusFound)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}
