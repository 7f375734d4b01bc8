package httputil

import (
	"net/http"
	"time"

	"github.com/kamalcharan/contractnest-auth/pkg/domain"
)

// TokenResponse represents a token response. Web clients receive only the
// metadata; tokens travel in cookies.
type TokenResponse struct {
	AccessToken  string            `json:"access_token,omitempty"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	TokenType    string            `json:"token_type"`
	ExpiresIn    int               `json:"expires_in"`
	Durability   domain.Durability `json:"durability,omitempty"`
}

// TokenWriter writes token pairs as cookies (web) or JSON (mobile).
type TokenWriter struct {
	Cookies    CookieConfig
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Write writes tokens with status.
func (tw TokenWriter) Write(w http.ResponseWriter, r *http.Request, tokens *domain.TokenPair, status int) {
	resp := TokenResponse{
		TokenType:  tokens.TokenType,
		ExpiresIn:  tokens.ExpiresIn,
		Durability: tokens.Durability,
	}
	if IsMobileClient(r) {
		resp.AccessToken = tokens.AccessToken
		resp.RefreshToken = tokens.RefreshToken
		JSON(w, status, resp)
		return
	}

	tw.SetCookies(w, tokens)
	JSON(w, status, resp)
}

// SetCookies sets auth cookies without writing a body. Used before a
// redirect.
func (tw TokenWriter) SetCookies(w http.ResponseWriter, tokens *domain.TokenPair) {
	SetAuthCookies(w, tokens, tw.AccessTTL, tw.RefreshTTL, tw.Cookies)
}

// Clear removes auth cookies for web clients.
func (tw TokenWriter) Clear(w http.ResponseWriter, r *http.Request) {
	if !IsMobileClient(r) {
		ClearAuthCookies(w, tw.Cookies)
	}
}
