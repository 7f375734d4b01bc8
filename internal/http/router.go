package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kamalcharan/contractnest-auth/internal/config"
	"github.com/kamalcharan/contractnest-auth/internal/http/features/google"
	"github.com/kamalcharan/contractnest-auth/internal/http/features/lockscreen"
	"github.com/kamalcharan/contractnest-auth/internal/http/features/me"
	"github.com/kamalcharan/contractnest-auth/internal/http/features/password"
	"github.com/kamalcharan/contractnest-auth/internal/http/features/session"
	"github.com/kamalcharan/contractnest-auth/internal/http/features/tenants"
	"github.com/kamalcharan/contractnest-auth/internal/http/middleware"
	"github.com/kamalcharan/contractnest-auth/internal/httputil"
	"github.com/kamalcharan/contractnest-auth/internal/metrics"
	"github.com/kamalcharan/contractnest-auth/pkg/auth"
	"github.com/kamalcharan/contractnest-auth/pkg/authmethod"
	"github.com/kamalcharan/contractnest-auth/pkg/broadcast"
	"github.com/kamalcharan/contractnest-auth/pkg/lock"
	"github.com/kamalcharan/contractnest-auth/pkg/oauthbridge"
	"github.com/kamalcharan/contractnest-auth/pkg/tenant"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger          *slog.Logger
	PasswordService *auth.PasswordService
	SessionService  *auth.SessionService
	Bridge          *oauthbridge.Bridge // nil when Google sign-in is not configured
	Locks           *lock.Controller
	Notifier        broadcast.Notifier
	Switcher        *tenant.Switcher
	Methods         *authmethod.Resolver
	Tokens          httputil.TokenWriter
	Metrics         *metrics.Collector // nil disables request metrics
	MetricsHandler  http.Handler
	MetricsPath     string
	RateLimitConfig config.RateLimitConfig
	SecurityHeaders config.SecurityHeadersConfig
	Validation      config.ValidationConfig
}

// NewRouter creates a new HTTP router with all routes registered.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply global middleware
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(middleware.SecurityHeaders(cfg.SecurityHeaders))
	r.Use(middleware.RequestSizeLimit(cfg.Validation.MaxRequestBodySize))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, cfg.MetricsPath, cfg.MetricsHandler)
	}

	rateLimiters := middleware.CreateRateLimiters(cfg.RateLimitConfig, cfg.Logger)
	requireAuth := middleware.Auth(cfg.SessionService)

	// Password authentication
	passwordHandler := password.NewHandler(
		cfg.Logger,
		cfg.PasswordService,
		cfg.SessionService,
		cfg.Methods,
		cfg.Switcher,
		cfg.Locks,
		cfg.Tokens,
	)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters[middleware.LimitAuth])
		r.Post("/v1/auth/password/register", passwordHandler.Register)
		r.Post("/v1/auth/password/login", passwordHandler.Login)
	})
	// Lock screens call this while locked, so it sits outside RequireUnlocked.
	// The handler applies the lock's own attempt policy.
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(rateLimiters[middleware.LimitVerify])
		r.Post("/v1/auth/verify-password", passwordHandler.VerifyPassword)
	})

	// Google OAuth (if configured)
	if cfg.Bridge != nil {
		googleHandler := google.NewHandler(cfg.Logger, cfg.Bridge, cfg.Locks, cfg.SessionService, cfg.Tokens)
		r.Group(func(r chi.Router) {
			r.Use(rateLimiters[middleware.LimitAuth])
			r.Get("/v1/auth/google", googleHandler.Start)
			r.Get("/v1/auth/google/callback", googleHandler.Callback)
			r.Post("/v1/auth/google/callback", googleHandler.Callback)
		})
	}

	// Sessions
	sessionHandler := session.NewHandler(cfg.SessionService, cfg.Tokens)
	r.Group(func(r chi.Router) {
		r.Use(rateLimiters[middleware.LimitRefresh])
		r.Post("/v1/auth/refresh", sessionHandler.Refresh)
	})
	r.Post("/v1/auth/logout", sessionHandler.Logout)
	r.With(requireAuth).Post("/v1/auth/logout/all", sessionHandler.LogoutAll)

	// Lock screen
	lockHandler := lockscreen.NewHandler(cfg.Logger, cfg.Locks, cfg.Notifier, cfg.SessionService, cfg.Tokens)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Get("/v1/lock", lockHandler.Status)
		r.Post("/v1/lock", lockHandler.Lock)
		r.Get("/v1/lock/events", lockHandler.Events)
		r.Post("/v1/lock/signout", lockHandler.SignOut)
		r.Group(func(r chi.Router) {
			r.Use(rateLimiters[middleware.LimitUnlock])
			r.Post("/v1/lock/unlock", lockHandler.Unlock)
			r.Get("/v1/lock/oauth/start", lockHandler.OAuthStart)
		})
	})

	// Everything below requires an unlocked session
	meHandler := me.NewHandler(cfg.Logger, cfg.PasswordService, cfg.Methods)
	tenantsHandler := tenants.NewHandler(cfg.Logger, cfg.Switcher, cfg.Tokens)
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(middleware.RequireUnlocked(cfg.Locks, cfg.Logger))
		r.Use(middleware.TenantHeader(cfg.Switcher, cfg.Logger))
		r.Use(rateLimiters[middleware.LimitProfile])

		r.Get("/v1/me", meHandler.GetMe)
		r.Get("/v1/me/auth-methods", meHandler.ListAuthMethods)
		r.Put("/v1/me/auth-methods/{id}/primary", meHandler.SetPrimary)
		r.Delete("/v1/me/auth-methods/{id}", meHandler.RemoveAuthMethod)

		r.Get("/v1/tenants", tenantsHandler.List)
		r.Get("/v1/tenants/current", tenantsHandler.Current)
		r.Put("/v1/tenants/current", tenantsHandler.Switch)
	})

	return r
}
