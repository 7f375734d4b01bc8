package password

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/kamalcharan/contractnest-auth/internal/http/middleware"
	"github.com/kamalcharan/contractnest-auth/internal/httputil"
	"github.com/kamalcharan/contractnest-auth/pkg/auth"
	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	"github.com/kamalcharan/contractnest-auth/pkg/lock"
)

// Passwords is the password credential service.
type Passwords interface {
	Register(ctx context.Context, email, password, name string) (*domain.User, error)
	Authenticate(ctx context.Context, email, password string) (uuid.UUID, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}

// SessionIssuer creates sessions.
type SessionIssuer interface {
	IssueSession(ctx context.Context, userID uuid.UUID, opts auth.IssueSessionOpts) (*domain.TokenPair, error)
}

// MethodRecorder updates the auth method registry.
type MethodRecorder interface {
	RecordUse(ctx context.Context, identityID uuid.UUID, kind domain.AuthMethodKind, provider string) error
}

// PasswordChecker verifies a session's password under its lock policy.
type PasswordChecker interface {
	CheckPassword(ctx context.Context, ref lock.SessionRef, password string) (bool, error)
}

// LoginTenants picks the tenant a new session starts in.
type LoginTenants interface {
	ResolveLoginTenant(ctx context.Context, user *domain.User) (domain.TenantAccess, error)
}

// Handler handles password authentication endpoints.
type Handler struct {
	logger    *slog.Logger
	passwords Passwords
	sessions  SessionIssuer
	methods   MethodRecorder
	tenants   LoginTenants
	checker   PasswordChecker
	tokens    httputil.TokenWriter
}

// NewHandler creates a new password handler.
func NewHandler(
	logger *slog.Logger,
	passwords Passwords,
	sessions SessionIssuer,
	methods MethodRecorder,
	tenants LoginTenants,
	checker PasswordChecker,
	tokens httputil.TokenWriter,
) *Handler {
	return &Handler{
		logger:    logger,
		passwords: passwords,
		sessions:  sessions,
		methods:   methods,
		tenants:   tenants,
		checker:   checker,
		tokens:    tokens,
	}
}

// RegisterRequest represents a registration request.
type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	RememberMe bool   `json:"remember_me"`
}

// LoginRequest represents a login request.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// VerifyRequest represents a password re-verification request.
type VerifyRequest struct {
	Password string `json:"password"`
}

// VerifyResponse is the result of a password re-verification.
type VerifyResponse struct {
	Valid bool `json:"valid"`
}

// Register handles user registration.
// POST /v1/auth/password/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.Error(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, err := h.passwords.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUserAlreadyExists):
			httputil.Error(w, http.StatusConflict, "user already exists")
		case errors.Is(err, domain.ErrInvalidEmail):
			httputil.Error(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrWeakPassword):
			httputil.Error(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("registration failed", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "registration failed")
		}
		return
	}

	h.establish(w, r, user, req.RememberMe, http.StatusCreated)
}

// Login handles user login.
// POST /v1/auth/password/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		httputil.Error(w, http.StatusBadRequest, "email and password are required")
		return
	}

	userID, err := h.passwords.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidCredentials):
			httputil.Error(w, http.StatusUnauthorized, "invalid email or password")
		case errors.Is(err, domain.ErrAccountLocked):
			httputil.Error(w, http.StatusForbidden, "account temporarily locked due to too many failed login attempts. Please try again in 15 minutes.")
		default:
			h.logger.Error("authentication failed", "error", err)
			httputil.Error(w, http.StatusInternalServerError, "authentication failed")
		}
		return
	}

	user, err := h.passwords.GetUserByID(r.Context(), userID)
	if err != nil {
		httputil.Error(w, http.StatusInternalServerError, "failed to get user")
		return
	}

	h.establish(w, r, user, req.RememberMe, http.StatusOK)
}

// establish records the method use, picks the tenant and issues a session.
func (h *Handler) establish(w http.ResponseWriter, r *http.Request, user *domain.User, remember bool, status int) {
	ctx := r.Context()
	if err := h.methods.RecordUse(ctx, user.ID, domain.AuthMethodPassword, ""); err != nil {
		h.logger.Warn("record auth method use failed", "user_id", user.ID, "error", err)
	}

	tenant, err := h.tenants.ResolveLoginTenant(ctx, user)
	if err != nil {
		h.logger.Error("failed to resolve login tenant", "user_id", user.ID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to setup tenant")
		return
	}

	tokens, err := h.sessions.IssueSession(ctx, user.ID, auth.IssueSessionOpts{
		TenantID:   tenant.ID(),
		Durability: domain.DurabilityFromRemember(remember),
		AuthMethod: domain.AuthMethodPassword,
		IP:         r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		h.logger.Error("failed to issue session", "user_id", user.ID, "error", err)
		httputil.Error(w, http.StatusInternalServerError, "failed to issue session")
		return
	}

	h.tokens.Write(w, r, tokens, status)
}

// VerifyPassword re-checks the caller's password without issuing anything.
// It is how a remote lock screen verifies an unlock attempt and therefore
// works while the session is locked. Failures from a locked session count
// toward its block.
// POST /v1/auth/verify-password
func (h *Handler) VerifyPassword(w http.ResponseWriter, r *http.Request) {
	ref, ok := middleware.GetSessionRef(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req VerifyRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Password == "" {
		httputil.Error(w, http.StatusBadRequest, "password is required")
		return
	}

	valid, err := h.checker.CheckPassword(r.Context(), ref, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPasswordAuthUnavailable):
			httputil.Error(w, http.StatusBadRequest, "password_auth_not_available")
		case errors.Is(err, domain.ErrUnlockBlocked):
			httputil.Error(w, http.StatusTooManyRequests, "too many failed attempts, try again later")
		case errors.Is(err, domain.ErrSignedOut):
			httputil.Error(w, http.StatusUnauthorized, "session signed out")
		case errors.Is(err, domain.ErrVerificationInFlight):
			httputil.Error(w, http.StatusConflict, "verification already in progress")
		case errors.Is(err, domain.ErrVerifierUnavailable):
			httputil.Error(w, http.StatusServiceUnavailable, "verification unavailable")
		default:
			h.logger.Error("password verification failed", "user_id", ref.UserID, "error", err)
			httputil.Error(w, http.StatusInternalServerError, "verification failed")
		}
		return
	}

	httputil.JSON(w, http.StatusOK, VerifyResponse{Valid: valid})
}
