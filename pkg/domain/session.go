package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Durability is the persistence choice made at login ("remember me").
type Durability string

const (
	// DurabilityEphemeral lives for the browser session only.
	DurabilityEphemeral Durability = "ephemeral"
	// DurabilityRemembered survives browser restarts.
	DurabilityRemembered Durability = "remembered"
)

// DurabilityFromRemember maps a remember-me flag to a durability.
func DurabilityFromRemember(remember bool) Durability {
	if remember {
		return DurabilityRemembered
	}
	return DurabilityEphemeral
}

// Session represents an authentication session.
type Session struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	TenantID   uuid.UUID
	TokenHash  string
	Durability Durability
	AuthMethod AuthMethodKind
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	LastSeenAt *time.Time
	Metadata   json.RawMessage
}

// SessionMetadata holds optional session context.
type SessionMetadata struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// IsValid checks if the session is valid (not expired and not revoked).
func (s *Session) IsValid() bool {
	if s.RevokedAt != nil {
		return false
	}
	return time.Now().Before(s.ExpiresAt)
}

// TokenPair represents the access and refresh token pair.
type TokenPair struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int        `json:"expires_in"`
	ExpiresAt    time.Time  `json:"expires_at"`
	SessionID    uuid.UUID  `json:"-"`
	Durability   Durability `json:"-"`
}
