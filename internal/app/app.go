// Package app assembles the service from configuration: repositories,
// shared state, the lock controller, the tenant switcher, the OAuth bridge
// and the HTTP router.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kamalcharan/contractnest-auth/internal/config"
	httpserver "github.com/kamalcharan/contractnest-auth/internal/http"
	"github.com/kamalcharan/contractnest-auth/internal/http/middleware"
	"github.com/kamalcharan/contractnest-auth/internal/httputil"
	"github.com/kamalcharan/contractnest-auth/internal/metrics"
	"github.com/kamalcharan/contractnest-auth/pkg/auth"
	"github.com/kamalcharan/contractnest-auth/pkg/authmethod"
	"github.com/kamalcharan/contractnest-auth/pkg/broadcast"
	"github.com/kamalcharan/contractnest-auth/pkg/client"
	"github.com/kamalcharan/contractnest-auth/pkg/lock"
	"github.com/kamalcharan/contractnest-auth/pkg/oauthbridge"
	"github.com/kamalcharan/contractnest-auth/pkg/repository"
	"github.com/kamalcharan/contractnest-auth/pkg/storage"
	"github.com/kamalcharan/contractnest-auth/pkg/tenant"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Deps are the external resources an App runs on.
type Deps struct {
	// DB is the database connection (required).
	DB *sql.DB
	// Redis shares lock state, tenant selection and broadcasts between
	// replicas. Nil keeps them in process.
	Redis redis.UniversalClient
	// Registry receives service metrics. Nil uses a private registry.
	Registry *prometheus.Registry
	// Logger is the structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// App is an assembled service instance.
type App struct {
	config    *config.Config
	db        *sql.DB
	logger    *slog.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector

	store    storage.Store
	notifier broadcast.Notifier

	passwordService *auth.PasswordService
	sessionService  *auth.SessionService
	resolver        *authmethod.Resolver
	switcher        *tenant.Switcher
	bridge          *oauthbridge.Bridge
	locks           *lock.Controller
}

// New assembles an App. It does not touch the database; call CheckSchema
// before serving.
func New(cfg *config.Config, deps Deps) (*App, error) {
	if err := validateDeps(&deps); err != nil {
		return nil, err
	}

	a := &App{
		config:   cfg,
		db:       deps.DB,
		logger:   deps.Logger,
		registry: deps.Registry,
	}
	a.collector = metrics.NewCollector(a.registry)

	// Shared state
	ttl := storage.TTLConfig{Ephemeral: cfg.Storage.EphemeralTTL, Remembered: cfg.Storage.RememberedTTL}
	if deps.Redis != nil {
		a.store = storage.NewRedisStore(deps.Redis, cfg.Redis.KeyPrefix, ttl)
		a.notifier = broadcast.NewRedisNotifier(deps.Redis, a.logger)
	} else {
		a.store = storage.NewMemoryStore(ttl)
		a.notifier = broadcast.NewHub()
		a.logger.Warn("shared state is in process (not safe for multi-replica)")
	}

	// Initialize repositories
	usersRepo := repository.NewUsersRepository(deps.DB)
	credsRepo := repository.NewCredentialsRepository(deps.DB)
	identitiesRepo := repository.NewIdentitiesRepository(deps.DB)
	sessionsRepo := repository.NewSessionsRepository(deps.DB)
	tenantsRepo := repository.NewTenantsRepository(deps.DB)
	membershipsRepo := repository.NewMembershipsRepository(deps.DB)
	authMethodsRepo := repository.NewAuthMethodsRepository(deps.DB)

	// Initialize services
	provisioner := auth.NewProvisioner(deps.DB, usersRepo, tenantsRepo, membershipsRepo, a.logger)
	a.passwordService = auth.NewPasswordService(
		usersRepo,
		credsRepo,
		provisioner,
		auth.NewPasswordPolicy(cfg.PasswordPolicy),
		cfg.Validation.BlockDisposableEmail,
	)
	a.sessionService = auth.NewSessionService(auth.SessionConfig{
		AccessTokenTTL:      cfg.AccessTokenTTL,
		RefreshTokenTTL:     cfg.RefreshTokenTTL,
		EphemeralSessionTTL: cfg.EphemeralSessionTTL,
		JWTSecret:           []byte(cfg.JWTSecret),
		Issuer:              cfg.JWTIssuer,
	}, sessionsRepo, usersRepo)

	a.resolver = authmethod.NewResolver(authMethodsRepo, identitiesRepo, a.logger)
	a.switcher = tenant.NewSwitcher(membershipsRepo, a.sessionService, a.store, provisioner, a.logger)
	a.switcher.Subscribe(a.collector.TenantSwitched)

	var federated lock.FederatedInitiator
	if cfg.HasGoogleOAuth() {
		googleService := auth.NewGoogleService(
			auth.GoogleConfig{
				ClientID:        cfg.GoogleClientID,
				ClientSecret:    cfg.GoogleClientSecret,
				RedirectURI:     cfg.GoogleRedirectURI,
				MobileClientIDs: cfg.GoogleMobileClientIDs,
			},
			deps.DB,
			usersRepo,
			identitiesRepo,
			provisioner,
			a.logger,
		)
		a.bridge = oauthbridge.New(oauthbridge.Deps{
			Provider: googleService,
			Accounts: googleService,
			Users:    usersRepo,
			Methods:  a.resolver,
			Tenants:  a.switcher,
			Sessions: a.sessionService,
			Store:    a.store,
			Recorder: a.collector,
			Logger:   a.logger,
		})
		federated = a.bridge
		a.logger.Info("Google OAuth enabled")
	}

	var verifier lock.CredentialVerifier = lock.LocalVerifier(a.passwordService.VerifyForUser)
	if cfg.Lock.VerifyPasswordURL != "" {
		verifier = client.NewPasswordVerifier(cfg.Lock.VerifyPasswordURL, &http.Client{Timeout: cfg.Lock.VerifyTimeout})
		a.logger.Info("unlock verifies passwords remotely", "url", cfg.Lock.VerifyPasswordURL)
	}

	a.locks = lock.NewController(
		lock.Config{
			Policy:        lock.Policy{MaxAttempts: cfg.Lock.MaxAttempts, BlockDuration: cfg.Lock.BlockDuration},
			VerifyTimeout: cfg.Lock.VerifyTimeout,
			SignedOutTTL:  cfg.AccessTokenTTL,
		},
		a.store,
		a.resolver,
		verifier,
		federated,
		a.notifier,
		a.logger,
		lock.WithRecorder(a.collector),
	)

	return a, nil
}

// Router returns the HTTP handler with every route registered.
func (a *App) Router() http.Handler {
	cookies := httputil.DefaultCookieConfig()
	cookies.Secure = a.config.CookieSecure

	routerCfg := httpserver.RouterConfig{
		Logger:          a.logger,
		PasswordService: a.passwordService,
		SessionService:  a.sessionService,
		Bridge:          a.bridge,
		Locks:           a.locks,
		Notifier:        a.notifier,
		Switcher:        a.switcher,
		Methods:         a.resolver,
		Tokens: httputil.TokenWriter{
			Cookies:    cookies,
			AccessTTL:  a.config.AccessTokenTTL,
			RefreshTTL: a.config.RefreshTokenTTL,
		},
		RateLimitConfig: a.config.RateLimit,
		SecurityHeaders: a.config.SecurityHeaders,
		Validation:      a.config.Validation,
	}
	if a.config.Metrics.Enabled {
		routerCfg.Metrics = a.collector
		routerCfg.MetricsHandler = metrics.Handler(a.registry)
		routerCfg.MetricsPath = a.config.Metrics.Path
	}
	return httpserver.NewRouter(routerCfg)
}

// AuthMiddleware returns middleware that validates access tokens.
func (a *App) AuthMiddleware() func(http.Handler) http.Handler {
	return middleware.Auth(a.sessionService)
}

// RequireUnlocked returns middleware that refuses locked sessions. It must
// run after AuthMiddleware.
func (a *App) RequireUnlocked() func(http.Handler) http.Handler {
	return middleware.RequireUnlocked(a.locks, a.logger)
}

// Locks returns the lock controller.
func (a *App) Locks() *lock.Controller {
	return a.locks
}

// Switcher returns the tenant switcher.
func (a *App) Switcher() *tenant.Switcher {
	return a.switcher
}

// CheckSchema checks that required database tables exist.
func (a *App) CheckSchema(ctx context.Context) error {
	requiredTables := []string{"users", "user_password", "user_identities", "tenants", "memberships", "sessions", "user_auth_methods"}

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_name = $1
	`

	for _, table := range requiredTables {
		var name string
		err := a.db.QueryRowContext(ctx, query, table).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("missing table %q: run migrations first", table)
		}
		if err != nil {
			return fmt.Errorf("check schema: %w", err)
		}
	}

	return nil
}

func validateDeps(deps *Deps) error {
	if deps.DB == nil {
		return errors.New("app: DB is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	return nil
}
