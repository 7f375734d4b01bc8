package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/kamalcharan/contractnest-auth/internal/config"
	"github.com/kamalcharan/contractnest-auth/internal/httputil"
)

// Rate limit classes returned by CreateRateLimiters.
const (
	LimitAuth    = "auth"
	LimitUnlock  = "unlock"
	LimitVerify  = "verify"
	LimitRefresh = "refresh"
	LimitProfile = "profile"
)

// RateLimitConfig holds rate limiting configuration for a specific endpoint type.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Logger   *slog.Logger
}

// RateLimit creates an IP-based rate limiter middleware with logging.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Logger != nil {
				cfg.Logger.Warn("rate limit exceeded",
					"ip", r.RemoteAddr,
					"path", r.URL.Path,
					"method", r.Method,
					"user_agent", r.UserAgent(),
				)
			}
			httputil.Error(w, http.StatusTooManyRequests, "rate limit exceeded. please try again later")
		}),
	)
}

// NoRateLimit returns a no-op middleware when rate limiting is disabled.
func NoRateLimit() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return next
	}
}

// CreateRateLimiters creates rate limiting middleware functions based on configuration.
func CreateRateLimiters(cfg config.RateLimitConfig, logger *slog.Logger) map[string]func(http.Handler) http.Handler {
	classes := []string{LimitAuth, LimitUnlock, LimitVerify, LimitRefresh, LimitProfile}
	if !cfg.Enabled {
		noOp := NoRateLimit()
		out := make(map[string]func(http.Handler) http.Handler, len(classes))
		for _, c := range classes {
			out[c] = noOp
		}
		return out
	}

	limit := func(requests, minutes int) func(http.Handler) http.Handler {
		if requests <= 0 {
			return NoRateLimit()
		}
		if minutes <= 0 {
			minutes = 1
		}
		return RateLimit(RateLimitConfig{
			Requests: requests,
			Window:   time.Duration(minutes) * time.Minute,
			Logger:   logger,
		})
	}

	return map[string]func(http.Handler) http.Handler{
		LimitAuth:    limit(cfg.AuthRequestsPerMinute, cfg.AuthWindowMinutes),
		LimitUnlock:  limit(cfg.UnlockRequestsPerWindow, cfg.UnlockWindowMinutes),
		LimitVerify:  limit(cfg.VerifyRequestsPerWindow, cfg.VerifyWindowMinutes),
		LimitRefresh: limit(cfg.RefreshRequestsPerMinute, cfg.RefreshWindowMinutes),
		LimitProfile: limit(cfg.ProfileRequestsPerMinute, cfg.ProfileWindowMinutes),
	}
}
