package httputil

import (
	"net/http"
	"time"

	"github.com/kamalcharan/contractnest-auth/pkg/domain"
)

const (
	accessTokenCookie  = "access_token"
	refreshTokenCookie = "refresh_token"
)

// CookieConfig holds cookie configuration.
type CookieConfig struct {
	Domain   string
	Path     string
	Secure   bool // Set to true in production (HTTPS)
	SameSite http.SameSite
}

// DefaultCookieConfig returns default cookie configuration.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Path:     "/",
		Secure:   false, // Set to true in production
		SameSite: http.SameSiteLaxMode,
	}
}

// SetAuthCookies sets HttpOnly cookies for a token pair. Ephemeral sessions
// get browser-session cookies; remembered sessions get persistent ones.
// An empty refresh token leaves the refresh cookie untouched.
func SetAuthCookies(w http.ResponseWriter, tokens *domain.TokenPair, accessTTL, refreshTTL time.Duration, cfg CookieConfig) {
	remembered := tokens.Durability == domain.DurabilityRemembered

	access := authCookie(accessTokenCookie, tokens.AccessToken, cfg)
	if remembered {
		access.MaxAge = int(accessTTL.Seconds())
	}
	http.SetCookie(w, access)

	if tokens.RefreshToken == "" {
		return
	}
	refresh := authCookie(refreshTokenCookie, tokens.RefreshToken, cfg)
	if remembered {
		refresh.MaxAge = int(refreshTTL.Seconds())
	}
	http.SetCookie(w, refresh)
}

// ClearAuthCookies clears auth cookies.
func ClearAuthCookies(w http.ResponseWriter, cfg CookieConfig) {
	for _, name := range []string{accessTokenCookie, refreshTokenCookie} {
		c := authCookie(name, "", cfg)
		c.MaxAge = -1
		http.SetCookie(w, c)
	}
}

func authCookie(name, value string, cfg CookieConfig) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     cfg.Path,
		Domain:   cfg.Domain,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: cfg.SameSite,
	}
}

// GetRefreshTokenFromCookie extracts refresh token from cookie.
func GetRefreshTokenFromCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(refreshTokenCookie)
	if err != nil {
		return "", false
	}
	return cookie.Value, true
}

// GetAccessTokenFromCookie extracts access token from cookie.
func GetAccessTokenFromCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(accessTokenCookie)
	if err != nil {
		return "", false
	}
	return cookie.Value, true
}

// IsMobileClient checks if request is from a mobile client.
// Mobile clients should set header: X-Client-Type: mobile
func IsMobileClient(r *http.Request) bool {
	return r.Header.Get("X-Client-Type") == "mobile"
}
