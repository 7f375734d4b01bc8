package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/kamalcharan/contractnest-auth/internal/httputil"
	"github.com/kamalcharan/contractnest-auth/pkg/lock"
)

// LockStates reads a session's lock state.
type LockStates interface {
	State(ctx context.Context, ref lock.SessionRef) (lock.State, error)
}

type lockedResponse struct {
	Error string    `json:"error"`
	State lock.Kind `json:"state"`
}

// RequireUnlocked refuses requests from sessions that are locked, verifying
// or blocked with 423 Locked, and from signed out sessions with 401. It must
// run after Auth.
func RequireUnlocked(states LockStates, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ref, ok := GetSessionRef(r.Context())
			if !ok {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}

			st, err := states.State(r.Context(), ref)
			if err != nil {
				logger.Error("failed to read lock state", "session_id", ref.SessionID, "error", err)
				httputil.Error(w, http.StatusInternalServerError, "internal error")
				return
			}
			if st.Kind() == lock.KindSignedOut {
				httputil.JSON(w, http.StatusUnauthorized, lockedResponse{Error: "session signed out", State: st.Kind()})
				return
			}
			if lock.IsGated(st) {
				httputil.JSON(w, http.StatusLocked, lockedResponse{Error: "session locked", State: st.Kind()})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
