package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int
	AppBaseURL string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// JWT
	JWTSecret           string
	JWTIssuer           string
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	EphemeralSessionTTL time.Duration

	// Google OAuth
	GoogleClientID        string
	GoogleClientSecret    string
	GoogleRedirectURI     string
	GoogleMobileClientIDs []string

	CookieSecure bool

	Redis           RedisConfig
	Storage         StorageConfig
	Lock            LockConfig
	PasswordPolicy  PasswordPolicyConfig
	Validation      ValidationConfig
	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
	Metrics         MetricsConfig
}

// RedisConfig selects the shared store and pub/sub backend. An empty Addr
// keeps everything in process.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// StorageConfig holds the lifetimes of the two durability tiers.
type StorageConfig struct {
	EphemeralTTL  time.Duration
	RememberedTTL time.Duration
}

// LockConfig holds session lock policy.
type LockConfig struct {
	MaxAttempts   int
	BlockDuration time.Duration
	VerifyTimeout time.Duration
	// VerifyPasswordURL points unlock at a remote verifier. Empty means
	// verify in process.
	VerifyPasswordURL string
}

// PasswordPolicyConfig holds password complexity rules.
type PasswordPolicyConfig struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumber    bool
	RequireSpecial   bool
}

// ValidationConfig holds input validation settings.
type ValidationConfig struct {
	BlockDisposableEmail bool
	MaxRequestBodySize   int64
}

// RateLimitConfig holds per-endpoint-class rate limits.
type RateLimitConfig struct {
	Enabled bool

	AuthRequestsPerMinute int
	AuthWindowMinutes     int

	UnlockRequestsPerWindow int
	UnlockWindowMinutes     int

	VerifyRequestsPerWindow int
	VerifyWindowMinutes     int

	RefreshRequestsPerMinute int
	RefreshWindowMinutes     int

	ProfileRequestsPerMinute int
	ProfileWindowMinutes     int
}

// SecurityHeadersConfig holds response security headers.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	XSSProtection      string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),
		AppBaseURL: getEnv("APP_BASE_URL", "http://localhost:3000"),

		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 25432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "contractnest_auth"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		// JWT defaults
		JWTSecret:           getEnv("JWT_SECRET", ""),
		JWTIssuer:           getEnv("JWT_ISSUER", "contractnest-auth"),
		AccessTokenTTL:      getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:     getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		EphemeralSessionTTL: getEnvDuration("EPHEMERAL_SESSION_TTL", 12*time.Hour),

		// Google OAuth (optional)
		GoogleClientID:        getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:    getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:     getEnv("GOOGLE_REDIRECT_URI", ""),
		GoogleMobileClientIDs: getEnvList("GOOGLE_MOBILE_CLIENT_IDS"),

		CookieSecure: getEnvBool("COOKIE_SECURE", false),

		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "cn"),
		},
		Lock: LockConfig{
			MaxAttempts:       getEnvInt("LOCK_MAX_ATTEMPTS", 5),
			BlockDuration:     getEnvDuration("LOCK_BLOCK_DURATION", 60*time.Second),
			VerifyTimeout:     getEnvDuration("LOCK_VERIFY_TIMEOUT", 30*time.Second),
			VerifyPasswordURL: getEnv("LOCK_VERIFY_PASSWORD_URL", ""),
		},
		PasswordPolicy: PasswordPolicyConfig{
			MinLength:        getEnvInt("PASSWORD_MIN_LENGTH", 8),
			RequireUppercase: getEnvBool("PASSWORD_REQUIRE_UPPERCASE", true),
			RequireLowercase: getEnvBool("PASSWORD_REQUIRE_LOWERCASE", true),
			RequireNumber:    getEnvBool("PASSWORD_REQUIRE_NUMBER", true),
			RequireSpecial:   getEnvBool("PASSWORD_REQUIRE_SPECIAL", false),
		},
		Validation: ValidationConfig{
			BlockDisposableEmail: getEnvBool("BLOCK_DISPOSABLE_EMAIL", false),
			MaxRequestBodySize:   int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
		RateLimit: RateLimitConfig{
			Enabled:                  getEnvBool("RATE_LIMIT_ENABLED", true),
			AuthRequestsPerMinute:    getEnvInt("RATE_LIMIT_AUTH_REQUESTS", 10),
			AuthWindowMinutes:        getEnvInt("RATE_LIMIT_AUTH_WINDOW_MINUTES", 1),
			UnlockRequestsPerWindow:  getEnvInt("RATE_LIMIT_UNLOCK_REQUESTS", 20),
			UnlockWindowMinutes:      getEnvInt("RATE_LIMIT_UNLOCK_WINDOW_MINUTES", 1),
			VerifyRequestsPerWindow:  getEnvInt("RATE_LIMIT_VERIFY_REQUESTS", 20),
			VerifyWindowMinutes:      getEnvInt("RATE_LIMIT_VERIFY_WINDOW_MINUTES", 1),
			RefreshRequestsPerMinute: getEnvInt("RATE_LIMIT_REFRESH_REQUESTS", 30),
			RefreshWindowMinutes:     getEnvInt("RATE_LIMIT_REFRESH_WINDOW_MINUTES", 1),
			ProfileRequestsPerMinute: getEnvInt("RATE_LIMIT_PROFILE_REQUESTS", 60),
			ProfileWindowMinutes:     getEnvInt("RATE_LIMIT_PROFILE_WINDOW_MINUTES", 1),
		},
		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_HEADERS_CSP", "default-src 'self'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HEADERS_HSTS_MAX_AGE", 0),
			FrameOptions:       getEnv("SECURITY_HEADERS_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: getEnv("SECURITY_HEADERS_CONTENT_TYPE_OPTIONS", "nosniff"),
			XSSProtection:      getEnv("SECURITY_HEADERS_XSS_PROTECTION", "0"),
			ReferrerPolicy:     getEnv("SECURITY_HEADERS_REFERRER_POLICY", "strict-origin-when-cross-origin"),
			PermissionsPolicy:  getEnv("SECURITY_HEADERS_PERMISSIONS_POLICY", ""),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}
	cfg.Storage = StorageConfig{
		EphemeralTTL:  getEnvDuration("STORAGE_EPHEMERAL_TTL", cfg.EphemeralSessionTTL),
		RememberedTTL: getEnvDuration("STORAGE_REMEMBERED_TTL", cfg.RefreshTokenTTL),
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.Lock.MaxAttempts < 1 {
		return nil, fmt.Errorf("LOCK_MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
}

// HasGoogleOAuth returns true if Google OAuth is configured.
func (c *Config) HasGoogleOAuth() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// HasRedis returns true if a Redis address is configured.
func (c *Config) HasRedis() bool {
	return c.Redis.Addr != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
