package lockscreen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/internal/http/middleware"
	"github.com/kamalcharan/contractnest-auth/internal/httputil"
	"github.com/kamalcharan/contractnest-auth/pkg/broadcast"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/lock"
	"github.com/kamalcharan/contractnest-auth/pkg/tenant"
)

// DefaultHeartbeat keeps idle event streams open through proxies.
const DefaultHeartbeat = 25 * time.Second

// Locks drives the session lock.
type Locks interface {
	Status(ctx context.Context, ref lock.SessionRef) (lock.Status, error)
	Lock(ctx context.Context, ref lock.SessionRef, reason lock.Reason) (lock.Status, error)
	SubmitPassword(ctx context.Context, ref lock.SessionRef, password string, onUnlock lock.Continuation) (*lock.Result, error)
	BeginFederatedUnlock(ctx context.Context, ref lock.SessionRef, redirectURI string) (string, error)
	SignOut(ctx context.Context, ref lock.SessionRef) error
}

// Subscriber delivers cross-tab lock notifications.
type Subscriber interface {
	Subscribe(ctx context.Context, sessionID string) (<-chan broadcast.Message, func(), error)
}

// Sessions revokes a single session.
type Sessions interface {
	RevokeSessionByID(ctx context.Context, sessionID uuid.UUID) error
}

// Handler handles lock screen endpoints.
type Handler struct {
	logger    *slog.Logger
	locks     Locks
	events    Subscriber
	sessions  Sessions
	tokens    httputil.TokenWriter
	heartbeat time.Duration
}

// NewHandler creates a new lock handler.
func NewHandler(logger *slog.Logger, locks Locks, events Subscriber, sessions Sessions, tokens httputil.TokenWriter) *Handler {
	return &Handler{
		logger:    logger,
		locks:     locks,
		events:    events,
		sessions:  sessions,
		tokens:    tokens,
		heartbeat: DefaultHeartbeat,
	}
}

// LockRequest represents a lock request.
type LockRequest struct {
	Reason lock.Reason `json:"reason"`
}

// UnlockRequest represents a password unlock request.
type UnlockRequest struct {
	Password string `json:"password"`
	ReturnTo string `json:"return_to"`
}

// UnlockResponse is the result of an unlock attempt.
type UnlockResponse struct {
	lock.Result
	Redirect string `json:"redirect,omitempty"`
}

// Status returns the session's lock status.
// GET /v1/lock
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ref, ok := middleware.GetSessionRef(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	st, err := h.locks.Status(r.Context(), ref)
	if err != nil {
		h.logger.Error("failed to load lock status", "session_id", ref.SessionID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to load lock status")
		return
	}
	httputil.JSON(w, http.StatusOK, st)
}

// Lock locks the session.
// POST /v1/lock
func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	ref, ok := middleware.GetSessionRef(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req LockRequest
	if r.ContentLength != 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	switch req.Reason {
	case "":
		req.Reason = lock.ReasonManual
	case lock.ReasonManual, lock.ReasonInactivity:
	default:
		httputil.Error(w, http.StatusBadRequest, "invalid lock reason")
		return
	}

	st, err := h.locks.Lock(r.Context(), ref, req.Reason)
	if err != nil {
		h.writeError(w, ref, err)
		return
	}
	httputil.JSON(w, http.StatusOK, st)
}

// Unlock verifies a password for a locked session.
// POST /v1/lock/unlock
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	ref, ok := middleware.GetSessionRef(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UnlockRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Password == "" {
		httputil.Error(w, http.StatusBadRequest, "password is required")
		return
	}

	var redirect string
	res, err := h.locks.SubmitPassword(r.Context(), ref, req.Password, func(context.Context, lock.SessionRef) {
		redirect = httputil.SafeRedirect(req.ReturnTo, tenant.LandingPath)
	})
	if err != nil {
		h.writeError(w, ref, err)
		return
	}

	httputil.JSON(w, unlockStatus(res.Outcome), UnlockResponse{Result: *res, Redirect: redirect})
}

// OAuthStart begins a federated unlock.
// GET /v1/lock/oauth/start?return_to=/path
func (h *Handler) OAuthStart(w http.ResponseWriter, r *http.Request) {
	ref, ok := middleware.GetSessionRef(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	returnTo := httputil.SafeRedirect(r.URL.Query().Get("return_to"), tenant.LandingPath)
	authURL, err := h.locks.BeginFederatedUnlock(r.Context(), ref, returnTo)
	if err != nil {
		h.writeError(w, ref, err)
		return
	}

	if httputil.IsMobileClient(r) || r.Header.Get("Accept") == "application/json" {
		httputil.JSON(w, http.StatusOK, map[string]string{"auth_url": authURL})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// SignOut ends the session from the lock screen.
// POST /v1/lock/signout
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	ref, ok := middleware.GetSessionRef(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.sessions.RevokeSessionByID(r.Context(), ref.SessionID); err != nil {
		h.logger.Error("failed to revoke session on lock sign out", "session_id", ref.SessionID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to sign out")
		return
	}
	if err := h.locks.SignOut(r.Context(), ref); err != nil {
		h.logger.Warn("lock sign out failed", "session_id", ref.SessionID, "error", err)
	}

	h.tokens.Clear(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// Events streams lock notifications for the session as server-sent events.
// GET /v1/lock/events
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	ref, ok := middleware.GetSessionRef(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rc := http.NewResponseController(w)

	msgs, cancel, err := h.events.Subscribe(r.Context(), ref.SessionID.String())
	if err != nil {
		h.logger.Error("lock event subscription failed", "session_id", ref.SessionID, "error", err)
		httputil.Error(w, http.StatusServiceUnavailable, "events unavailable")
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("event stream not flushable", "error", err)
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case m, ok := <-msgs:
			if !ok {
				return
			}
			data, err := json.Marshal(m)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", m.Action, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func unlockStatus(o lock.Outcome) int {
	switch o {
	case lock.OutcomeUnlocked:
		return http.StatusOK
	case lock.OutcomeInvalid:
		return http.StatusUnauthorized
	case lock.OutcomeBlocked:
		return http.StatusTooManyRequests
	case lock.OutcomeMethodMismatch:
		return http.StatusConflict
	}
	return http.StatusOK
}

func (h *Handler) writeError(w http.ResponseWriter, ref lock.SessionRef, err error) {
	switch {
	case errors.Is(err, domain.ErrNotLocked):
		httputil.Error(w, http.StatusConflict, "session is not locked")
	case errors.Is(err, domain.ErrVerificationInFlight):
		httputil.Error(w, http.StatusConflict, "verification already in progress")
	case errors.Is(err, domain.ErrUnlockBlocked):
		httputil.Error(w, http.StatusTooManyRequests, "too many failed attempts, try again later")
	case errors.Is(err, domain.ErrWrongUnlockMethod):
		httputil.Error(w, http.StatusBadRequest, "unlock method not allowed for this session")
	case errors.Is(err, domain.ErrVerifierUnavailable):
		httputil.Error(w, http.StatusServiceUnavailable, "verification unavailable, try again")
	case errors.Is(err, domain.ErrSignedOut):
		httputil.Error(w, http.StatusUnauthorized, "session signed out")
	case errors.Is(err, domain.ErrIllegalTransition):
		httputil.Error(w, http.StatusConflict, "session cannot be locked in its current state")
	default:
		h.logger.Error("lock operation failed", "session_id", ref.SessionID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "internal error")
	}
}
